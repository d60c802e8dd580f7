// Package integration contains the Integration bounded context.
// This context manages resilient calls to external systems such as
// accounting and banking APIs.
//
// Key concepts:
//   - Connector: Port interface for invoking a named operation on an external system
//   - Descriptor: Per-connector resilience settings (rate bucket, retry budget, auth scheme)
//   - Credential: Lifecycle state of an access token, from issued through expiring to expired
//   - CredentialSource: Port for obtaining and invalidating tokens
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
