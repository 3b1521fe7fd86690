// Package interfaces defines core interfaces and types for the WeChat Pay
// gateway integration, separating interface definitions from implementations.
//
// # Configuration
//
// Options: the effective gateway configuration (merchant identifier, endpoint,
// certificate reference, secrets, transport policy).
//
// OptionsContributor: a named source of partial Options, tried in priority order.
//
// OptionsResolver: produces validated Options for the current call context.
//
// StaticOptionsSource: the persisted configuration used as the last fallback.
//
// # Storage
//
// BlobContainer: read access to named blobs such as certificate bundles.
//
// BlobContainerFactory: selects the default container or a named one, which
// lets deployments keep payment credentials apart from general blob storage.
//
// # HTTP clients
//
// HTTPClientFactory: named clients whose primary transport is built by a
// TransportConfigurator receiving a ServiceProvider.
//
// # Errors
//
// ErrConfigurationIncomplete, ErrConfigurationInvalid, ErrCertificateNotFound,
// ErrCertificateInvalid, ErrSignatureVerificationFailed and TransportError
// (matching ErrTransport) are surfaced to the immediate caller and never
// swallowed.
package interfaces
