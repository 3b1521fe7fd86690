// Package options resolves the effective gateway configuration from an
// ordered chain of contributors.
//
// Contributors are tried in list order. Each may return a complete or partial
// interfaces.Options; a field filled by an earlier contributor is never
// overwritten by a later one. Two contributors are built in:
//
//   - Context (always first) reads the override bound to the call's context
//     with WithOverride or WithTenant.
//   - Configuration (always last) reads the persisted configuration.
//
// The contributor list is mutable only during startup. NewResolver takes an
// immutable snapshot that is safe for concurrent use.
package options
