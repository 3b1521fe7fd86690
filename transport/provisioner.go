package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ruteri/wechatpay-backend/cryptoutils"
	"github.com/ruteri/wechatpay-backend/interfaces"
	"github.com/ruteri/wechatpay-backend/metrics"
	"golang.org/x/sync/singleflight"
)

var ErrServerCertificateNotPinned = errors.New("server certificate fingerprint not pinned")

// BuildTimeout bounds a shared build once it runs detached from its callers.
const BuildTimeout = 30 * time.Second

// CertificateLoader materializes a merchant certificate reference.
type CertificateLoader interface {
	Load(ctx context.Context, ref *interfaces.CertificateReference) (*cryptoutils.CertificateMaterial, error)
}

// Provisioner builds and caches transports per configuration.
type Provisioner struct {
	loader CertificateLoader
	log    *slog.Logger

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]*Transport
}

func NewProvisioner(loader CertificateLoader, log *slog.Logger) *Provisioner {
	if log == nil {
		log = slog.Default()
	}
	return &Provisioner{
		loader: loader,
		log:    log,
		cache:  make(map[string]*Transport),
	}
}

// Build returns the transport for opts, constructing it on first use.
// Concurrent builds of the same configuration share one construction, which
// is bounded by BuildTimeout and not by any single caller's context. Each
// caller stops waiting when its own context ends. Failed builds are not cached.
func (p *Provisioner) Build(ctx context.Context, opts *interfaces.Options) (*Transport, error) {
	key := opts.Fingerprint()

	p.mu.RLock()
	t, ok := p.cache[key]
	p.mu.RUnlock()
	if ok {
		return t, nil
	}

	ch := p.group.DoChan(key, func() (interface{}, error) {
		p.mu.RLock()
		t, ok := p.cache[key]
		p.mu.RUnlock()
		if ok {
			return t, nil
		}

		// The build outlives the caller that started it; others may be waiting.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), BuildTimeout)
		defer cancel()

		t, err := p.build(ctx, opts.Clone(), key)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.cache[key] = t
		p.mu.Unlock()
		return t, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Transport), nil
	}
}

// Evict drops the cached transport for fingerprint and closes its idle connections.
func (p *Provisioner) Evict(fingerprint string) {
	p.mu.Lock()
	t, ok := p.cache[fingerprint]
	delete(p.cache, fingerprint)
	p.mu.Unlock()

	if ok {
		t.CloseIdleConnections()
	}
}

// Len returns the number of cached transports.
func (p *Provisioner) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}

func (p *Provisioner) build(ctx context.Context, opts *interfaces.Options, key string) (*Transport, error) {
	tlsConfig, err := p.tlsConfig(opts)
	if err != nil {
		return nil, err
	}

	var material *cryptoutils.CertificateMaterial
	if ref := opts.CertificateReference(); ref != nil {
		if p.loader == nil {
			return nil, fmt.Errorf("%w: no certificate loader configured", interfaces.ErrCertificateNotFound)
		}
		material, err = p.loader.Load(ctx, ref)
		if err != nil {
			return nil, err
		}
		if opts.CertificateSerialNumber != "" && opts.CertificateSerialNumber != material.SerialNumber {
			return nil, fmt.Errorf("%w: configured serial %s does not match certificate serial %s",
				interfaces.ErrCertificateInvalid, opts.CertificateSerialNumber, material.SerialNumber)
		}

		clientCert := material.TLSCertificate()
		tlsConfig.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
			return &clientCert, nil
		}
	}

	base := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: tlsConfig,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	metrics.TransportBuilds.WithLabelValues(opts.ServerCertificatePolicy, strconv.FormatBool(material != nil)).Inc()
	p.log.Info("built gateway transport",
		"mch_id", opts.MchID,
		"endpoint", opts.Endpoint,
		"policy", opts.ServerCertificatePolicy,
		"tls_min_version", opts.TLSMinVersion,
		"tls_max_version", opts.TLSMaxVersion,
		"client_certificate", material != nil)

	return &Transport{
		base:        base,
		options:     opts,
		material:    material,
		fingerprint: key,
	}, nil
}

func (p *Provisioner) tlsConfig(opts *interfaces.Options) (*tls.Config, error) {
	minVersion, err := TLSVersion(opts.TLSMinVersion)
	if err != nil {
		return nil, err
	}
	maxVersion, err := TLSVersion(opts.TLSMaxVersion)
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		MinVersion: minVersion,
		MaxVersion: maxVersion,
	}

	switch opts.ServerCertificatePolicy {
	case interfaces.ServerCertificatePolicySystem:
	case interfaces.ServerCertificatePolicyPinned:
		pins := make(map[string]struct{}, len(opts.ServerCertificateFingerprints))
		for _, fp := range opts.ServerCertificateFingerprints {
			pins[cryptoutils.NormalizeFingerprint(fp)] = struct{}{}
		}
		if len(pins) == 0 {
			return nil, fmt.Errorf("%w: pinned server certificate policy without fingerprints", interfaces.ErrConfigurationInvalid)
		}
		// Chain verification is replaced by the fingerprint check below.
		cfg.InsecureSkipVerify = true
		cfg.VerifyConnection = func(cs tls.ConnectionState) error {
			return verifyPinned(cs.PeerCertificates, pins)
		}
	case interfaces.ServerCertificatePolicyTrustAll:
		p.log.Warn("gateway server certificate validation disabled",
			"policy", opts.ServerCertificatePolicy,
			"endpoint", opts.Endpoint)
		cfg.InsecureSkipVerify = true
	default:
		return nil, fmt.Errorf("%w: unknown server certificate policy %q", interfaces.ErrConfigurationInvalid, opts.ServerCertificatePolicy)
	}

	return cfg, nil
}

func verifyPinned(peers []*x509.Certificate, pins map[string]struct{}) error {
	if len(peers) == 0 {
		return ErrServerCertificateNotPinned
	}
	fp := cryptoutils.CertificateFingerprint(peers[0].Raw)
	if _, ok := pins[fp]; !ok {
		return fmt.Errorf("%w: %s", ErrServerCertificateNotPinned, fp)
	}
	return nil
}
