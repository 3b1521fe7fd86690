// Package main (cmd/gatewayd) runs the WeChat Pay gateway service.
//
// The serve command loads the YAML configuration, configures blob storage,
// builds the gateway module and blocks until the named gateway client is
// configured. It then serves the ops API and Prometheus metrics. SIGHUP
// reloads the configuration file and republishes the client's stack;
// SIGINT and SIGTERM drain and stop the server.
//
// The resolve and certificates commands are one-shot diagnostics over the
// same configuration.
//
// Example usage:
//
//	gatewayd --config=/etc/wechatpay/gateway.yaml serve --listen-addr=0.0.0.0:8080
//	gatewayd --config=/etc/wechatpay/gateway.yaml resolve --tenant=acme
//	gatewayd --config=/etc/wechatpay/gateway.yaml certificates
package main
