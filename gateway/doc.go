// Package gateway wires option resolution, certificate loading, transport
// provisioning and request signing into HTTP clients for the payment gateway.
//
// Module is the lifecycle hook a host process calls once at startup:
//
//	m := gateway.NewModule(cfg)
//	if err := m.PostConfigure(); err != nil { ... }
//	httpClient, err := m.HTTPClients().Client(ctx, interfaces.HTTPClientName)
//
// The named client is built from the persisted configuration. Per-call
// overrides (tenants) go through Client.HTTPClient, which resolves with the
// caller's context and reuses one signed stack per distinct configuration.
package gateway
