package signing

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"github.com/ruteri/wechatpay-backend/cryptoutils"
	"github.com/ruteri/wechatpay-backend/interfaces"
)

// PlatformCertificateSource looks up gateway certificates by serial number.
// An unknown serial is reported as interfaces.ErrCertificateNotFound.
type PlatformCertificateSource interface {
	Certificate(ctx context.Context, serial string) (*x509.Certificate, error)
}

// StaticSource serves a fixed set of platform certificates.
type StaticSource struct {
	certs map[string]*x509.Certificate
}

func NewStaticSource(certs []*x509.Certificate) *StaticSource {
	s := &StaticSource{certs: make(map[string]*x509.Certificate, len(certs))}
	for _, cert := range certs {
		s.certs[cryptoutils.SerialNumberHex(cert)] = cert
	}
	return s
}

func (s *StaticSource) Certificate(_ context.Context, serial string) (*x509.Certificate, error) {
	cert, ok := s.certs[strings.ToUpper(serial)]
	if !ok {
		return nil, fmt.Errorf("%w: platform certificate %s", interfaces.ErrCertificateNotFound, serial)
	}
	return cert, nil
}

// Serials returns the serial numbers served.
func (s *StaticSource) Serials() []string {
	serials := make([]string, 0, len(s.certs))
	for serial := range s.certs {
		serials = append(serials, serial)
	}
	return serials
}

// ChainSource tries each source in order until one knows the serial.
type ChainSource []PlatformCertificateSource

func (c ChainSource) Certificate(ctx context.Context, serial string) (*x509.Certificate, error) {
	for _, source := range c {
		cert, err := source.Certificate(ctx, serial)
		if err == nil {
			return cert, nil
		}
		if !errors.Is(err, interfaces.ErrCertificateNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: platform certificate %s", interfaces.ErrCertificateNotFound, serial)
}
