package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ruteri/wechatpay-backend/certstore"
	"github.com/ruteri/wechatpay-backend/interfaces"
	"github.com/ruteri/wechatpay-backend/signing"
	"github.com/ruteri/wechatpay-backend/transport"
	"golang.org/x/sync/singleflight"
)

type SigningSettings struct {
	// ClockSkew bounds response timestamp drift. Zero disables the check.
	ClockSkew time.Duration

	// DownloadPlatformCertificates fetches unknown platform certificates
	// from the gateway. It requires the APIv3 key.
	DownloadPlatformCertificates bool

	PlatformCertificateCacheTTL time.Duration
}

type ClientConfig struct {
	Resolver     interfaces.OptionsResolver
	Certificates *certstore.Store
	Provisioner  *transport.Provisioner
	Signing      SigningSettings
	Retry        RetryConfig
	Timeout      time.Duration
	Log          *slog.Logger
}

// Client hands out gateway HTTP clients for the configuration resolved from
// each call's context. Stacks are built once per distinct configuration.
type Client struct {
	cfg ClientConfig
	log *slog.Logger

	group  singleflight.Group
	mu     sync.RWMutex
	stacks map[string]*Stack
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Provisioner == nil {
		var loader transport.CertificateLoader
		if cfg.Certificates != nil {
			loader = cfg.Certificates
		}
		cfg.Provisioner = transport.NewProvisioner(loader, cfg.Log)
	}
	return &Client{
		cfg:    cfg,
		log:    cfg.Log,
		stacks: make(map[string]*Stack),
	}
}

// HTTPClient resolves the options for ctx and returns a client using the
// matching stack.
func (c *Client) HTTPClient(ctx context.Context) (*http.Client, error) {
	stack, err := c.Stack(ctx)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: stack, Timeout: c.cfg.Timeout}, nil
}

// Do sends req with the client for ctx.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	client, err := c.HTTPClient(ctx)
	if err != nil {
		return nil, err
	}
	return client.Do(req.WithContext(ctx))
}

// Stack resolves the options for ctx and returns their stack.
func (c *Client) Stack(ctx context.Context) (*Stack, error) {
	opts, err := c.cfg.Resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return c.StackFor(ctx, opts)
}

// StackFor returns the stack for already resolved options.
func (c *Client) StackFor(ctx context.Context, opts *interfaces.Options) (*Stack, error) {
	key := opts.Fingerprint()

	c.mu.RLock()
	stack, ok := c.stacks[key]
	c.mu.RUnlock()
	if ok {
		return stack, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		c.mu.RLock()
		stack, ok := c.stacks[key]
		c.mu.RUnlock()
		if ok {
			return stack, nil
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), transport.BuildTimeout)
		defer cancel()

		stack, err := c.build(ctx, opts)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.stacks[key] = stack
		c.mu.Unlock()
		return stack, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Stack), nil
	}
}

// Retire drops stack from the cache and releases it after grace, leaving
// requests already holding it time to complete. A later call with the same
// configuration builds a new stack.
func (c *Client) Retire(stack *Stack, grace time.Duration) {
	key := stack.transport.Fingerprint()

	c.mu.Lock()
	if c.stacks[key] == stack {
		delete(c.stacks, key)
	}
	c.mu.Unlock()

	c.cfg.Provisioner.Evict(key)
	time.AfterFunc(grace, stack.close)
}

// Len returns the number of cached stacks.
func (c *Client) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.stacks)
}

// Close releases every stack.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, stack := range c.stacks {
		stack.close()
		c.cfg.Provisioner.Evict(key)
		delete(c.stacks, key)
	}
}

func (c *Client) build(ctx context.Context, opts *interfaces.Options) (*Stack, error) {
	tr, err := c.cfg.Provisioner.Build(ctx, opts)
	if err != nil {
		return nil, err
	}

	stack := &Stack{options: tr.Options(), transport: tr, rt: tr}
	if !tr.HasClientCertificate() {
		c.log.Warn("no merchant certificate configured, requests are sent unsigned", "mch_id", opts.MchID)
		stack.rt = NewRetryingRoundTripper(tr, c.cfg.Retry, c.log)
		return stack, nil
	}

	signer, err := signing.NewSigner(opts.MchID, opts.CertificateSerialNumber, tr.Material())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrCertificateInvalid, err)
	}
	stack.signer = signer

	var sources signing.ChainSource
	if len(opts.PlatformCertificateBlobNames) > 0 {
		if c.cfg.Certificates == nil {
			return nil, fmt.Errorf("%w: platform certificates configured without a certificate store", interfaces.ErrConfigurationInvalid)
		}
		certs, err := c.cfg.Certificates.LoadPlatformCertificates(ctx, opts.CertificateBlobContainerName, opts.PlatformCertificateBlobNames)
		if err != nil {
			return nil, err
		}
		stack.static = signing.NewStaticSource(certs)
		sources = append(sources, stack.static)
	}

	if c.cfg.Signing.DownloadPlatformCertificates && opts.APIV3Key != "" {
		stack.downloader, err = signing.NewDownloader(signing.DownloaderConfig{
			Endpoint:  opts.Endpoint,
			APIV3Key:  opts.APIV3Key,
			Signer:    signer,
			Transport: tr,
			CacheTTL:  c.cfg.Signing.PlatformCertificateCacheTTL,
			ClockSkew: c.cfg.Signing.ClockSkew,
			Log:       c.log,
		})
		if err != nil {
			return nil, err
		}
		sources = append(sources, stack.downloader)
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no platform certificate source, configure platform_certificate_blob_names or api_v3_key", interfaces.ErrConfigurationIncomplete)
	}

	verifier := signing.NewVerifier(sources, c.cfg.Signing.ClockSkew)
	handler := signing.NewHandler(tr, signer, verifier, c.log)
	stack.rt = NewRetryingRoundTripper(handler, c.cfg.Retry, c.log)

	c.log.Info("built gateway client",
		"mch_id", opts.MchID,
		"serial_no", signer.SerialNumber(),
		"static_platform_certificates", len(opts.PlatformCertificateBlobNames),
		"download_platform_certificates", stack.downloader != nil)
	return stack, nil
}
