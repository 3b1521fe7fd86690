// Package storage provides blob containers with pluggable backends.
//
// Certificate bundles and platform certificates are read by name from a
// blob container:
//
//   - File system directories for local deployments
//   - S3-compatible buckets for cloud deployments
//   - Vault KV v2 mounts for secret stores
//   - IPFS directories for published, read-only material
//   - In-memory containers for development and tests
//
// # Container URI Format
//
// Containers are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/wechatpay/certs
//   - s3://bucket-name/prefix/?region=ap-east-1
//   - vault://vault.internal:8200/secret/wechatpay
//   - ipfs://127.0.0.1:5001/ipfs/<cid>
//   - memory://name
//
// Several URIs for one container are combined into a MultiContainer, which
// reads from the first available container that has the blob.
//
// # Absent Blobs
//
// Every container reports a missing blob as (nil, nil). Errors are reserved
// for backend failures, so callers can tell a misconfigured certificate name
// from an unreachable store.
//
// # Named Containers
//
// ContainerFactory implements interfaces.BlobContainerFactory: Default()
// serves references without a container name and Create(name) returns a
// container registered under that name.
package storage
