package certstore

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/ruteri/wechatpay-backend/cryptoutils/certtest"
	"github.com/ruteri/wechatpay-backend/interfaces"
	"github.com/ruteri/wechatpay-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingContainer struct{ interfaces.BlobContainer }

func (failingContainer) GetAllBytesOrNil(context.Context, string) ([]byte, error) {
	return nil, errors.New("boom")
}

func (failingContainer) Name() string { return "failing" }

func newTestStore(t *testing.T) (*Store, *storage.ContainerFactory) {
	t.Helper()
	factory := storage.NewContainerFactory(slog.Default())
	return NewStore(factory, slog.Default()), factory
}

func TestStoreLoad(t *testing.T) {
	ctx := context.Background()
	id := certtest.NewIdentity(t, "merchant", 0xABCDEF)

	store, factory := newTestStore(t)
	factory.MemoryContainer("default").Put("apiclient_cert.p12", id.PKCS12(t, "1900000001"))
	factory.Register("payments", factory.MemoryContainer("payments"))
	factory.MemoryContainer("payments").Put("cert.pem", id.PEMBundle(t))
	factory.Register("broken", failingContainer{})

	t.Run("default container", func(t *testing.T) {
		m, err := store.Load(ctx, &interfaces.CertificateReference{BlobName: "apiclient_cert.p12", Secret: "1900000001"})
		require.NoError(t, err)
		assert.Equal(t, "ABCDEF", m.SerialNumber)
	})

	t.Run("named container", func(t *testing.T) {
		m, err := store.Load(ctx, &interfaces.CertificateReference{BlobName: "cert.pem", ContainerName: "payments"})
		require.NoError(t, err)
		assert.Equal(t, "ABCDEF", m.SerialNumber)
	})

	t.Run("absent blob", func(t *testing.T) {
		_, err := store.Load(ctx, &interfaces.CertificateReference{BlobName: "missing.p12", Secret: "x"})
		assert.ErrorIs(t, err, interfaces.ErrCertificateNotFound)
	})

	t.Run("absent in named container", func(t *testing.T) {
		_, err := store.Load(ctx, &interfaces.CertificateReference{BlobName: "apiclient_cert.p12", ContainerName: "payments"})
		assert.ErrorIs(t, err, interfaces.ErrCertificateNotFound)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := store.Load(ctx, &interfaces.CertificateReference{BlobName: "apiclient_cert.p12", Secret: "wrong"})
		assert.ErrorIs(t, err, interfaces.ErrCertificateInvalid)
	})

	t.Run("unknown container", func(t *testing.T) {
		_, err := store.Load(ctx, &interfaces.CertificateReference{BlobName: "cert.pem", ContainerName: "nope"})
		assert.ErrorIs(t, err, interfaces.ErrUnknownContainer)
	})

	t.Run("storage failure", func(t *testing.T) {
		_, err := store.Load(ctx, &interfaces.CertificateReference{BlobName: "cert.pem", ContainerName: "broken"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, interfaces.ErrCertificateNotFound)
		assert.NotErrorIs(t, err, interfaces.ErrCertificateInvalid)
	})

	t.Run("nil reference", func(t *testing.T) {
		_, err := store.Load(ctx, nil)
		assert.ErrorIs(t, err, interfaces.ErrCertificateNotFound)
	})
}

func TestStoreLoadPlatformCertificates(t *testing.T) {
	ctx := context.Background()
	a := certtest.NewIdentity(t, "platform-a", 1)
	b := certtest.NewIdentity(t, "platform-b", 2)

	store, factory := newTestStore(t)
	mem := factory.MemoryContainer("default")
	mem.Put("platform.pem", append(a.CertPEM(), b.CertPEM()...))
	mem.Put("garbage.pem", []byte("garbage"))

	certs, err := store.LoadPlatformCertificates(ctx, "", []string{"platform.pem"})
	require.NoError(t, err)
	assert.Len(t, certs, 2)

	_, err = store.LoadPlatformCertificates(ctx, "", []string{"platform.pem", "missing.pem"})
	assert.ErrorIs(t, err, interfaces.ErrCertificateNotFound)

	_, err = store.LoadPlatformCertificates(ctx, "", []string{"garbage.pem"})
	assert.ErrorIs(t, err, interfaces.ErrCertificateInvalid)
}
