package signing

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ruteri/wechatpay-backend/interfaces"
	"github.com/ruteri/wechatpay-backend/metrics"
)

// VerifySignature checks a base64 SHA256-with-RSA signature over message.
func VerifySignature(cert *x509.Certificate, message []byte, signature string) error {
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: platform certificate key is %T", interfaces.ErrSignatureVerificationFailed, cert.PublicKey)
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", interfaces.ErrSignatureVerificationFailed)
	}
	digest := sha256.Sum256(message)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrSignatureVerificationFailed, err)
	}
	return nil
}

// ResponseHeaders are the signature headers of a gateway response.
type ResponseHeaders struct {
	Timestamp string
	Nonce     string
	Signature string
	Serial    string
}

// ResponseHeadersFrom extracts the signature headers.
func ResponseHeadersFrom(h http.Header) ResponseHeaders {
	return ResponseHeaders{
		Timestamp: h.Get(HeaderTimestamp),
		Nonce:     h.Get(HeaderNonce),
		Signature: h.Get(HeaderSignature),
		Serial:    h.Get(HeaderSerial),
	}
}

// Verifier verifies gateway responses against platform certificates.
type Verifier struct {
	source    PlatformCertificateSource
	clockSkew time.Duration
	now       func() time.Time
}

// NewVerifier creates a verifier. A zero clockSkew disables the timestamp check.
func NewVerifier(source PlatformCertificateSource, clockSkew time.Duration) *Verifier {
	return &Verifier{source: source, clockSkew: clockSkew, now: time.Now}
}

// Verify checks the signature headers against body.
func (v *Verifier) Verify(ctx context.Context, headers ResponseHeaders, body []byte) error {
	if headers.Timestamp == "" || headers.Nonce == "" || headers.Signature == "" || headers.Serial == "" {
		metrics.VerificationFailures.WithLabelValues("missing_header").Inc()
		return fmt.Errorf("%w: missing signature headers", interfaces.ErrSignatureVerificationFailed)
	}

	if v.clockSkew > 0 {
		ts, err := strconv.ParseInt(headers.Timestamp, 10, 64)
		if err != nil {
			metrics.VerificationFailures.WithLabelValues("clock_skew").Inc()
			return fmt.Errorf("%w: malformed timestamp %q", interfaces.ErrSignatureVerificationFailed, headers.Timestamp)
		}
		if skew := v.now().Sub(time.Unix(ts, 0)).Abs(); skew > v.clockSkew {
			metrics.VerificationFailures.WithLabelValues("clock_skew").Inc()
			return fmt.Errorf("%w: timestamp off by %s", interfaces.ErrSignatureVerificationFailed, skew)
		}
	}

	cert, err := v.source.Certificate(ctx, headers.Serial)
	if err != nil {
		metrics.VerificationFailures.WithLabelValues("unknown_serial").Inc()
		if errors.Is(err, interfaces.ErrCertificateNotFound) {
			return fmt.Errorf("%w: unknown platform certificate %s", interfaces.ErrSignatureVerificationFailed, headers.Serial)
		}
		return err
	}

	if err := VerifySignature(cert, []byte(ResponseMessage(headers.Timestamp, headers.Nonce, body)), headers.Signature); err != nil {
		metrics.VerificationFailures.WithLabelValues("bad_signature").Inc()
		return err
	}
	return nil
}
