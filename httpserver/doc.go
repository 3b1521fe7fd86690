/*
Package httpserver implements the operations HTTP server of the WeChat Pay
gateway service.

The server exposes health and drain endpoints for load balancers and a small
diagnostics API over the gateway module:

  - GET  /api/options resolves the effective options for the caller, with the
    contributor that supplied each field. Secrets are redacted. The
    X-Tenant-ID header selects a tenant override.
  - GET  /api/transport describes the transport and signing stack built for
    the same options.
  - POST /api/platform-certificates/refresh downloads the platform
    certificates again.
  - POST /api/reload reloads the configuration file and republishes the
    named client's stack.

Prometheus metrics are served on a separate listener, and pprof is mounted
under /debug when enabled.
*/
package httpserver
