// Package gatewaytest runs an in-process payment gateway for tests. It checks
// request signatures against the merchant certificate and signs responses
// with a generated platform certificate.
package gatewaytest

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ruteri/wechatpay-backend/cryptoutils"
	"github.com/ruteri/wechatpay-backend/cryptoutils/certtest"
	"github.com/ruteri/wechatpay-backend/signing"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// PlatformSerial is the serial of the generated platform certificate.
const PlatformSerial = 0x5EED

type Gateway struct {
	Server   *httptest.Server
	Platform *certtest.Identity

	// TamperBody flips one byte of every response body after signing.
	TamperBody atomic.Bool
	// DropSignature omits the Wechatpay-Signature header.
	DropSignature atomic.Bool
	// FailStatus, when non-zero, answers every call with this status, unsigned.
	FailStatus atomic.Int32
	// Delay holds every response for this long.
	Delay atomic.Duration

	Requests         atomic.Int32
	Downloads        atomic.Int32
	BadSignatures    atomic.Int32
	LastClientSerial atomic.String

	merchant *x509.Certificate
	apiV3Key string
	signer   *signing.Signer
}

// New starts a plain HTTP gateway.
func New(tb testing.TB, merchant *x509.Certificate, apiV3Key string) *Gateway {
	tb.Helper()
	g := newGateway(tb, merchant, apiV3Key)
	g.Server = httptest.NewServer(g)
	tb.Cleanup(g.Server.Close)
	return g
}

// NewTLS starts a TLS gateway that requests a client certificate.
func NewTLS(tb testing.TB, merchant *x509.Certificate, apiV3Key string) *Gateway {
	tb.Helper()
	g := newGateway(tb, merchant, apiV3Key)
	g.Server = httptest.NewUnstartedServer(g)
	g.Server.TLS = &tls.Config{ClientAuth: tls.RequestClientCert}
	g.Server.StartTLS()
	tb.Cleanup(g.Server.Close)
	return g
}

func newGateway(tb testing.TB, merchant *x509.Certificate, apiV3Key string) *Gateway {
	platform := certtest.NewIdentity(tb, "Tenpay.com Root CA", PlatformSerial)
	material, err := cryptoutils.ParseCertificateBundle(platform.PEMBundle(tb), "")
	require.NoError(tb, err)
	signer, err := signing.NewSigner("gateway", "", material)
	require.NoError(tb, err)

	return &Gateway{
		Platform: platform,
		merchant: merchant,
		apiV3Key: apiV3Key,
		signer:   signer,
	}
}

// URL is the gateway endpoint.
func (g *Gateway) URL() string { return g.Server.URL }

// ServerFingerprint is the SHA-256 fingerprint of the TLS server certificate.
func (g *Gateway) ServerFingerprint() string {
	return cryptoutils.CertificateFingerprint(g.Server.Certificate().Raw)
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.Requests.Inc()
	if d := g.Delay.Load(); d > 0 {
		time.Sleep(d)
	}
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		g.LastClientSerial.Store(cryptoutils.SerialNumberHex(r.TLS.PeerCertificates[0]))
	}

	if status := g.FailStatus.Load(); status != 0 {
		w.WriteHeader(int(status))
		fmt.Fprint(w, `{"code":"SYSTEM_ERROR","message":"unavailable"}`)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !g.checkSignature(r, body) {
		g.BadSignatures.Inc()
		g.respond(w, http.StatusUnauthorized, map[string]string{"code": "SIGN_ERROR", "message": "bad signature"})
		return
	}

	if r.URL.Path == signing.CertificatesPath {
		g.Downloads.Inc()
		g.respond(w, http.StatusOK, g.certificates())
		return
	}

	g.respond(w, http.StatusOK, map[string]string{
		"method": r.Method,
		"path":   signing.CanonicalURL(r.URL),
		"body":   string(body),
	})
}

func (g *Gateway) checkSignature(r *http.Request, body []byte) bool {
	fields, ok := signing.ParseAuthorization(r.Header.Get("Authorization"))
	if !ok || g.merchant == nil {
		return false
	}
	if fields["serial_no"] != cryptoutils.SerialNumberHex(g.merchant) {
		return false
	}
	ts, err := strconv.ParseInt(fields["timestamp"], 10, 64)
	if err != nil {
		return false
	}
	message := signing.RequestMessage(r.Method, signing.CanonicalURL(r.URL), ts, fields["nonce_str"], body)
	return signing.VerifySignature(g.merchant, []byte(message), fields["signature"]) == nil
}

func (g *Gateway) certificates() interface{} {
	nonce := "0123456789ab"
	ciphertext, err := cryptoutils.EncryptAES256GCM([]byte(g.apiV3Key), "certificate", nonce, g.Platform.CertPEM())
	if err != nil {
		panic(err)
	}

	type encrypted struct {
		Algorithm      string `json:"algorithm"`
		Nonce          string `json:"nonce"`
		AssociatedData string `json:"associated_data"`
		Ciphertext     string `json:"ciphertext"`
	}
	type item struct {
		SerialNo           string    `json:"serial_no"`
		EffectiveTime      string    `json:"effective_time"`
		ExpireTime         string    `json:"expire_time"`
		EncryptCertificate encrypted `json:"encrypt_certificate"`
	}

	return map[string][]item{"data": {{
		SerialNo:      cryptoutils.SerialNumberHex(g.Platform.Cert),
		EffectiveTime: g.Platform.Cert.NotBefore.Format(time.RFC3339),
		ExpireTime:    g.Platform.Cert.NotAfter.Format(time.RFC3339),
		EncryptCertificate: encrypted{
			Algorithm:      "AEAD_AES_256_GCM",
			Nonce:          nonce,
			AssociatedData: "certificate",
			Ciphertext:     ciphertext,
		},
	}}}
}

func (g *Gateway) respond(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	nonce, err := signing.NewNonce()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	signature, err := g.signer.SignMessage([]byte(signing.ResponseMessage(ts, nonce, body)))
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if g.TamperBody.Load() {
		body[len(body)/2] ^= 0x01
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set(signing.HeaderTimestamp, ts)
	h.Set(signing.HeaderNonce, nonce)
	h.Set(signing.HeaderSerial, cryptoutils.SerialNumberHex(g.Platform.Cert))
	h.Set(signing.HeaderRequestID, "test-request")
	if !g.DropSignature.Load() {
		h.Set(signing.HeaderSignature, signature)
	}
	w.WriteHeader(status)
	w.Write(body)
}
