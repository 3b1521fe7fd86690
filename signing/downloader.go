package signing

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/ruteri/wechatpay-backend/cryptoutils"
	"github.com/ruteri/wechatpay-backend/interfaces"
	"github.com/ruteri/wechatpay-backend/metrics"
	"golang.org/x/sync/singleflight"
)

// CertificatesPath is the gateway endpoint listing platform certificates.
const CertificatesPath = "/v3/certificates"

// DownloadTimeout bounds a shared platform certificate download.
const DownloadTimeout = 30 * time.Second

type certificatesResponse struct {
	Data []struct {
		SerialNo           string `json:"serial_no"`
		EffectiveTime      string `json:"effective_time"`
		ExpireTime         string `json:"expire_time"`
		EncryptCertificate struct {
			Algorithm      string `json:"algorithm"`
			Nonce          string `json:"nonce"`
			AssociatedData string `json:"associated_data"`
			Ciphertext     string `json:"ciphertext"`
		} `json:"encrypt_certificate"`
	} `json:"data"`
}

// DownloaderConfig configures a platform certificate Downloader.
type DownloaderConfig struct {
	Endpoint  string
	APIV3Key  string
	Signer    *Signer
	Transport http.RoundTripper
	CacheTTL  time.Duration
	ClockSkew time.Duration
	Log       *slog.Logger
}

// Downloader fetches platform certificates from the gateway and caches them
// by serial until they expire or the cache TTL passes, whichever is first.
type Downloader struct {
	cfg   DownloaderConfig
	url   string
	cache *ristretto.Cache[string, *x509.Certificate]
	sfg   singleflight.Group
	now   func() time.Time

	mu      sync.Mutex
	serials []string
}

func NewDownloader(cfg DownloaderConfig) (*Downloader, error) {
	if len(cfg.APIV3Key) != cryptoutils.APIV3KeySize {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrConfigurationInvalid, cryptoutils.ErrInvalidAPIV3Key)
	}
	if cfg.Signer == nil || cfg.Transport == nil {
		return nil, fmt.Errorf("%w: downloader requires a signer and a transport", interfaces.ErrConfigurationInvalid)
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 12 * time.Hour
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	u, err := url.JoinPath(cfg.Endpoint, CertificatesPath)
	if err != nil {
		return nil, fmt.Errorf("%w: endpoint: %v", interfaces.ErrConfigurationInvalid, err)
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, *x509.Certificate]{
		NumCounters:        1e4,
		MaxCost:            1e3,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}

	return &Downloader{
		cfg:   cfg,
		url:   u,
		cache: cache,
		now:   time.Now,
	}, nil
}

// Certificate returns the platform certificate for serial, downloading the
// current set when it is not cached.
func (d *Downloader) Certificate(ctx context.Context, serial string) (*x509.Certificate, error) {
	serial = strings.ToUpper(serial)
	if cert, ok := d.cache.Get(serial); ok {
		return cert, nil
	}

	ch := d.sfg.DoChan("download", func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DownloadTimeout)
		defer cancel()
		return nil, d.Refresh(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
	}

	if cert, ok := d.cache.Get(serial); ok {
		return cert, nil
	}
	return nil, fmt.Errorf("%w: platform certificate %s not published by gateway", interfaces.ErrCertificateNotFound, serial)
}

// Close releases the cache.
func (d *Downloader) Close() {
	d.cache.Close()
}

// Serials returns the serials seen by the last successful download.
func (d *Downloader) Serials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.serials...)
}

// Refresh downloads, decrypts and verifies the current platform certificates.
func (d *Downloader) Refresh(ctx context.Context) error {
	certs, err := d.Download(ctx)
	if err != nil {
		metrics.PlatformCertificateDownloads.WithLabelValues("failed").Inc()
		return err
	}
	metrics.PlatformCertificateDownloads.WithLabelValues("ok").Inc()

	now := d.now()
	serials := make([]string, 0, len(certs))
	for _, cert := range certs {
		ttl := d.cfg.CacheTTL
		if until := cert.NotAfter.Sub(now); until < ttl {
			ttl = until
		}
		serial := cryptoutils.SerialNumberHex(cert)
		serials = append(serials, serial)
		if ttl <= 0 {
			continue
		}
		d.cache.SetWithTTL(serial, cert, 1, ttl)
	}
	d.cache.Wait()

	d.mu.Lock()
	d.serials = serials
	d.mu.Unlock()

	d.cfg.Log.Info("downloaded platform certificates", "serials", serials)
	return nil
}

// Download fetches the platform certificates. The response is verified
// with the certificates it carries.
func (d *Downloader) Download(ctx context.Context) ([]*x509.Certificate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	sc, err := d.cfg.Signer.Sign(req.Method, req.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", d.cfg.Signer.Authorization(sc))

	resp, err := d.cfg.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &interfaces.TransportError{Op: req.Method, URL: d.url, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("platform certificate download failed with status %d: %s", resp.StatusCode, truncate(body, 256))
	}

	var parsed certificatesResponse
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed certificate list: %v", interfaces.ErrCertificateInvalid, err)
	}

	certs := make([]*x509.Certificate, 0, len(parsed.Data))
	for _, item := range parsed.Data {
		enc := item.EncryptCertificate
		if enc.Algorithm != "AEAD_AES_256_GCM" {
			return nil, fmt.Errorf("%w: unsupported algorithm %s for %s", interfaces.ErrCertificateInvalid, enc.Algorithm, item.SerialNo)
		}
		plain, err := cryptoutils.DecryptAES256GCM([]byte(d.cfg.APIV3Key), enc.AssociatedData, enc.Nonce, enc.Ciphertext)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", interfaces.ErrCertificateInvalid, item.SerialNo, err)
		}
		parsedCerts, err := cryptoutils.ParseCertificatesPEM(plain)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", interfaces.ErrCertificateInvalid, item.SerialNo, err)
		}
		cert := parsedCerts[0]
		if got := cryptoutils.SerialNumberHex(cert); !strings.EqualFold(got, item.SerialNo) {
			return nil, fmt.Errorf("%w: listed serial %s does not match certificate serial %s", interfaces.ErrCertificateInvalid, item.SerialNo, got)
		}
		certs = append(certs, cert)
	}

	verifier := NewVerifier(NewStaticSource(certs), d.cfg.ClockSkew)
	verifier.now = d.now
	if err := verifier.Verify(ctx, ResponseHeadersFrom(resp.Header), body); err != nil {
		return nil, err
	}

	return certs, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
