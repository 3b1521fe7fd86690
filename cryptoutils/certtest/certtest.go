// Package certtest generates merchant and platform identities for tests.
package certtest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"
)

// Identity is an RSA key with a self-signed certificate.
type Identity struct {
	Key  *rsa.PrivateKey
	Cert *x509.Certificate
}

// NewIdentity creates a 2048-bit RSA identity with the given serial.
func NewIdentity(tb testing.TB, cn string, serial int64) *Identity {
	tb.Helper()
	return NewIdentityValidFor(tb, cn, serial, time.Now().Add(-time.Hour), time.Now().Add(24*time.Hour))
}

// NewIdentityValidFor creates an identity with an explicit validity window.
func NewIdentityValidFor(tb testing.TB, cn string, serial int64, notBefore, notAfter time.Time) *Identity {
	tb.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(tb, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"test"}},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(tb, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(tb, err)

	return &Identity{Key: key, Cert: cert}
}

// CertPEM returns the certificate as a PEM block.
func (i *Identity) CertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: i.Cert.Raw})
}

// KeyPEM returns the private key as a PKCS#8 PEM block.
func (i *Identity) KeyPEM(tb testing.TB) []byte {
	tb.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(i.Key)
	require.NoError(tb, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

// PEMBundle returns certificate and key concatenated.
func (i *Identity) PEMBundle(tb testing.TB) []byte {
	tb.Helper()
	return append(i.CertPEM(), i.KeyPEM(tb)...)
}

// PKCS12 encodes the identity as a password protected PKCS#12 archive.
func (i *Identity) PKCS12(tb testing.TB, password string) []byte {
	tb.Helper()
	data, err := pkcs12.Modern.Encode(i.Key, i.Cert, nil, password)
	require.NoError(tb, err)
	return data
}
