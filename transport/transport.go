package transport

import (
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/ruteri/wechatpay-backend/cryptoutils"
	"github.com/ruteri/wechatpay-backend/interfaces"
)

// Transport is an immutable gateway round tripper built for one configuration.
type Transport struct {
	base        *http.Transport
	options     *interfaces.Options
	material    *cryptoutils.CertificateMaterial
	fingerprint string
}

// RoundTrip sends the request. Network and TLS failures are returned as
// *interfaces.TransportError.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, &interfaces.TransportError{Op: req.Method, URL: req.URL.Redacted(), Err: err}
	}
	return resp, nil
}

// Options returns the configuration the transport was built from.
func (t *Transport) Options() *interfaces.Options {
	return t.options
}

// Fingerprint is the cache key of the configuration.
func (t *Transport) Fingerprint() string {
	return t.fingerprint
}

// Material returns the client certificate material, or nil without mutual TLS.
func (t *Transport) Material() *cryptoutils.CertificateMaterial {
	return t.material
}

// HasClientCertificate reports whether handshakes present a client certificate.
func (t *Transport) HasClientCertificate() bool {
	return t.material != nil
}

// TLSClientConfig returns a copy of the TLS client configuration.
func (t *Transport) TLSClientConfig() *tls.Config {
	return t.base.TLSClientConfig.Clone()
}

// CloseIdleConnections closes idle connections without affecting requests in flight.
func (t *Transport) CloseIdleConnections() {
	t.base.CloseIdleConnections()
}

// Describe summarizes the transport for diagnostics. It never includes key material.
func (t *Transport) Describe() map[string]interface{} {
	d := map[string]interface{}{
		"fingerprint":               t.fingerprint,
		"endpoint":                  t.options.Endpoint,
		"server_certificate_policy": t.options.ServerCertificatePolicy,
		"tls_min_version":           t.options.TLSMinVersion,
		"tls_max_version":           t.options.TLSMaxVersion,
		"client_certificate":        t.material != nil,
	}
	if t.material != nil {
		d["client_certificate_serial"] = t.material.SerialNumber
		d["client_certificate_not_after"] = t.material.Certificate.NotAfter
	}
	return d
}

var tlsVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// TLSVersion maps a configured version string to its crypto/tls constant.
func TLSVersion(v string) (uint16, error) {
	version, ok := tlsVersions[v]
	if !ok {
		return 0, fmt.Errorf("%w: unsupported TLS version %q", interfaces.ErrConfigurationInvalid, v)
	}
	return version, nil
}
