// Package certstore materializes merchant and platform certificates from blob storage.
package certstore

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/wechatpay-backend/cryptoutils"
	"github.com/ruteri/wechatpay-backend/interfaces"
)

// Store loads certificate bundles through a blob container factory.
// It does not cache; callers hold the material for as long as the
// configuration it was derived from stays in use.
type Store struct {
	containers interfaces.BlobContainerFactory
	log        *slog.Logger
}

// NewStore creates a store reading from the given containers.
func NewStore(containers interfaces.BlobContainerFactory, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{containers: containers, log: log}
}

func (s *Store) container(name string) (interfaces.BlobContainer, error) {
	if name == "" {
		return s.containers.Default(), nil
	}
	return s.containers.Create(name)
}

// Load reads and decodes the merchant certificate bundle named by ref.
//
// An absent blob yields ErrCertificateNotFound, an undecodable bundle
// ErrCertificateInvalid. Storage failures are returned wrapped as is.
func (s *Store) Load(ctx context.Context, ref *interfaces.CertificateReference) (*cryptoutils.CertificateMaterial, error) {
	if ref == nil || ref.BlobName == "" {
		return nil, fmt.Errorf("%w: empty certificate reference", interfaces.ErrCertificateNotFound)
	}

	container, err := s.container(ref.ContainerName)
	if err != nil {
		return nil, fmt.Errorf("failed to select container for %s: %w", ref.BlobName, err)
	}

	data, err := container.GetAllBytesOrNil(ctx, ref.BlobName)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from %s: %w", ref.BlobName, container.Name(), err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %s in %s", interfaces.ErrCertificateNotFound, ref.BlobName, container.Name())
	}

	material, err := cryptoutils.ParseCertificateBundle(data, ref.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", interfaces.ErrCertificateInvalid, ref.BlobName, err)
	}

	s.log.Debug("loaded merchant certificate",
		"blob", ref.BlobName,
		"container", container.Name(),
		"serial", material.SerialNumber,
		"not_after", material.Certificate.NotAfter)

	return material, nil
}

// LoadPlatformCertificates reads PEM platform certificates from the named
// container. Each blob may hold several certificates. A missing blob is
// reported as ErrCertificateNotFound.
func (s *Store) LoadPlatformCertificates(ctx context.Context, containerName string, names []string) ([]*x509.Certificate, error) {
	container, err := s.container(containerName)
	if err != nil {
		return nil, fmt.Errorf("failed to select platform certificate container: %w", err)
	}

	var (
		certs []*x509.Certificate
		errs  []error
	)
	for _, name := range names {
		data, err := container.GetAllBytesOrNil(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to read %s: %w", name, err))
			continue
		}
		if data == nil {
			errs = append(errs, fmt.Errorf("%w: %s in %s", interfaces.ErrCertificateNotFound, name, container.Name()))
			continue
		}

		parsed, err := cryptoutils.ParseCertificatesPEM(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", interfaces.ErrCertificateInvalid, name, err))
			continue
		}
		certs = append(certs, parsed...)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return certs, nil
}
