// Package transport builds the mutual TLS transports used to reach the gateway.
//
// A Provisioner builds at most one Transport per distinct configuration,
// keyed by interfaces.Options.Fingerprint. Transports are immutable; a
// configuration change produces a new Transport while in-flight requests
// finish on the previous one.
//
// Server certificates are checked according to the configured policy:
//
//	system     chain verification against the system roots
//	pinned     leaf SHA-256 fingerprint must be listed in the options
//	trust-all  any certificate is accepted; must be configured explicitly
package transport
