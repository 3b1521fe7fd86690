package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigurationIncomplete is returned when no contributor supplied a mandatory field.
	ErrConfigurationIncomplete = errors.New("wechatpay configuration incomplete")

	// ErrConfigurationInvalid is returned when resolved values are malformed.
	ErrConfigurationInvalid = errors.New("wechatpay configuration invalid")

	// ErrCertificateNotFound is returned when the certificate blob is absent.
	// It indicates misconfiguration and is not retried.
	ErrCertificateNotFound = errors.New("certificate blob not found")

	// ErrCertificateInvalid is returned when a certificate bundle cannot be
	// decoded with the supplied secret.
	ErrCertificateInvalid = errors.New("certificate bundle invalid")

	// ErrSignatureVerificationFailed is returned when a gateway response fails
	// signature verification. The response must be discarded and never retried.
	ErrSignatureVerificationFailed = errors.New("signature verification failed")

	// ErrTransport matches every TransportError via errors.Is.
	ErrTransport = errors.New("transport error")
)

// TransportError wraps network and TLS handshake failures.
// These are the only failures eligible for caller-directed retry.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
