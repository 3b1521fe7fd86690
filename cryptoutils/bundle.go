package cryptoutils

import (
	"bytes"
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"software.sslmate.com/src/go-pkcs12"
)

var (
	// ErrIncorrectSecret is returned when a PKCS#12 bundle cannot be decrypted with the secret.
	ErrIncorrectSecret = errors.New("incorrect certificate secret")

	// ErrKeyMismatch is returned when the private key doesn't match the certificate.
	ErrKeyMismatch = errors.New("private key doesn't match certificate")
)

// CertificateMaterial is a merchant certificate with its private key.
// It is immutable after construction and safe for concurrent use.
type CertificateMaterial struct {
	PrivateKey   crypto.Signer
	Certificate  *x509.Certificate
	Chain        []*x509.Certificate
	SerialNumber string
}

// TLSCertificate returns the material as a TLS client certificate.
func (m *CertificateMaterial) TLSCertificate() tls.Certificate {
	raw := make([][]byte, 0, 1+len(m.Chain))
	raw = append(raw, m.Certificate.Raw)
	for _, c := range m.Chain {
		raw = append(raw, c.Raw)
	}
	return tls.Certificate{
		Certificate: raw,
		PrivateKey:  m.PrivateKey,
		Leaf:        m.Certificate,
	}
}

// String never prints key material.
func (m *CertificateMaterial) String() string {
	return fmt.Sprintf("CertificateMaterial{serial=%s, subject=%s}", m.SerialNumber, m.Certificate.Subject.CommonName)
}

// SerialNumberHex renders a certificate serial the way the gateway prints it:
// upper-case hex over the serial's big-endian bytes.
func SerialNumberHex(cert *x509.Certificate) string {
	return strings.ToUpper(hex.EncodeToString(cert.SerialNumber.Bytes()))
}

// ParseCertificateBundle decodes a merchant certificate bundle.
//
// PKCS#12 archives (the gateway's apiclient_cert.p12) are decrypted with secret.
// PEM input containing a CERTIFICATE block and an unencrypted PKCS#1, PKCS#8 or
// SEC 1 private key is accepted as well; secret is ignored for PEM.
func ParseCertificateBundle(data []byte, secret string) (*CertificateMaterial, error) {
	if len(data) == 0 {
		return nil, errors.New("empty certificate bundle")
	}

	if bytes.Contains(data, []byte("-----BEGIN")) {
		return parsePEMBundle(data)
	}

	key, cert, chain, err := pkcs12.DecodeChain(data, secret)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, ErrIncorrectSecret
		}
		return nil, fmt.Errorf("failed to decode PKCS#12 bundle: %w", err)
	}

	return newMaterial(key, cert, chain)
}

func parsePEMBundle(data []byte) (*CertificateMaterial, error) {
	var (
		certs []*x509.Certificate
		key   interface{}
	)

	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}

		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			parsed, err := parsePrivateKey(block)
			if err != nil {
				return nil, err
			}
			key = parsed
		case "ENCRYPTED PRIVATE KEY":
			return nil, errors.New("encrypted PEM private keys are not supported, use a PKCS#12 bundle")
		}
	}

	if len(certs) == 0 {
		return nil, errors.New("no certificate found in PEM bundle")
	}
	if key == nil {
		return nil, errors.New("no private key found in PEM bundle")
	}

	return newMaterial(key, certs[0], certs[1:])
}

func parsePrivateKey(block *pem.Block) (interface{}, error) {
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS#1 format if PKCS#8 fails
		if rsaKey, rsaErr := x509.ParsePKCS1PrivateKey(block.Bytes); rsaErr == nil {
			return rsaKey, nil
		}
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

func newMaterial(key interface{}, cert *x509.Certificate, chain []*x509.Certificate) (*CertificateMaterial, error) {
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}

	if err := matchKey(signer, cert); err != nil {
		return nil, err
	}

	return &CertificateMaterial{
		PrivateKey:   signer,
		Certificate:  cert,
		Chain:        chain,
		SerialNumber: SerialNumberHex(cert),
	}, nil
}

func matchKey(signer crypto.Signer, cert *x509.Certificate) error {
	pub, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return fmt.Errorf("unsupported public key type %T", signer.Public())
	}
	if !pub.Equal(cert.PublicKey) {
		return ErrKeyMismatch
	}
	return nil
}

