package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/wechatpay-backend/cryptoutils/certtest"
	"github.com/ruteri/wechatpay-backend/interfaces"
	"github.com/ruteri/wechatpay-backend/options"
	"github.com/ruteri/wechatpay-backend/signing/gatewaytest"
	"github.com/ruteri/wechatpay-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

const apiV3Key = "0123456789abcdef0123456789abcdef"

type fixture struct {
	merchant   *certtest.Identity
	gw         *gatewaytest.Gateway
	containers *storage.ContainerFactory
	static     *mutableSource
}

type mutableSource struct {
	opts atomic.Pointer[interfaces.Options]
}

func (s *mutableSource) StaticOptions(context.Context) (*interfaces.Options, error) {
	return s.opts.Load().Clone(), nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	merchant := certtest.NewIdentity(t, "merchant", 0x1234)
	gw := gatewaytest.NewTLS(t, merchant.Cert, apiV3Key)

	containers := storage.NewContainerFactory(slog.Default())
	containers.MemoryContainer("default").Put("apiclient_cert.p12", merchant.PKCS12(t, "1900000001"))

	f := &fixture{merchant: merchant, gw: gw, containers: containers, static: &mutableSource{}}
	f.static.opts.Store(&interfaces.Options{
		MchID:                         "1900000001",
		Endpoint:                      gw.URL(),
		APIV3Key:                      apiV3Key,
		CertificateBlobName:           "apiclient_cert.p12",
		CertificateSecret:             "1900000001",
		ServerCertificateFingerprints: []string{gw.ServerFingerprint()},
	})
	return f
}

func (f *fixture) update(fn func(*interfaces.Options)) {
	opts := f.static.opts.Load().Clone()
	fn(opts)
	f.static.opts.Store(opts)
}

func (f *fixture) module(t *testing.T, retry RetryConfig) *Module {
	t.Helper()
	m := NewModule(ModuleConfig{
		Static:     f.static,
		Containers: f.containers,
		Signing: SigningSettings{
			ClockSkew:                    5 * time.Minute,
			DownloadPlatformCertificates: true,
			PlatformCertificateCacheTTL:  time.Hour,
		},
		Retry:          retry,
		Timeout:        10 * time.Second,
		StartupTimeout: 10 * time.Second,
		RetireGrace:    10 * time.Millisecond,
	})
	require.NoError(t, m.PostConfigure())
	t.Cleanup(m.Close)
	return m
}

func get(t *testing.T, client *http.Client, url string) *http.Response {
	t.Helper()
	resp, err := client.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestModuleNamedClient(t *testing.T) {
	f := newFixture(t)
	m := f.module(t, RetryConfig{})
	ctx := context.Background()

	assert.Equal(t, []string{"Context", "Configuration"}, m.Resolver().Names())

	client, err := m.HTTPClients().Client(ctx, interfaces.HTTPClientName)
	require.NoError(t, err)

	resp := get(t, client, f.gw.URL()+"/v3/pay/transactions/id/4200000001")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1234", f.gw.LastClientSerial.Load())
	assert.Equal(t, int32(0), f.gw.BadSignatures.Load())
	assert.Equal(t, int32(1), f.gw.Downloads.Load())

	again, err := m.HTTPClients().Client(ctx, interfaces.HTTPClientName)
	require.NoError(t, err)
	assert.Same(t, client, again)

	stack := m.ActiveStack()
	require.NotNil(t, stack)
	assert.True(t, stack.Signed())
	assert.Equal(t, []string{"5EED"}, stack.Describe()["downloaded_platform_certificates"])

	_, err = m.HTTPClients().Client(ctx, "other")
	assert.Error(t, err)
}

func TestModuleTamperedResponse(t *testing.T) {
	f := newFixture(t)
	m := f.module(t, RetryConfig{RetryMax: 3, RetryWaitMin: time.Millisecond, RetryWaitMax: time.Millisecond})

	client, err := m.HTTPClients().Client(context.Background(), interfaces.HTTPClientName)
	require.NoError(t, err)

	// prime the platform certificate cache before tampering
	get(t, client, f.gw.URL()+"/v3/pay/transactions/id/1")

	f.gw.TamperBody.Store(true)
	before := f.gw.Requests.Load()
	_, err = client.Get(f.gw.URL() + "/v3/pay/transactions/id/1")
	assert.ErrorIs(t, err, interfaces.ErrSignatureVerificationFailed)
	assert.Equal(t, before+1, f.gw.Requests.Load())
}

func TestModuleStartupErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing certificate blob", func(t *testing.T) {
		f := newFixture(t)
		f.update(func(o *interfaces.Options) { o.CertificateBlobName = "missing.p12" })
		m := f.module(t, RetryConfig{})

		_, err := m.HTTPClients().Client(ctx, interfaces.HTTPClientName)
		assert.ErrorIs(t, err, interfaces.ErrCertificateNotFound)

		f.containers.MemoryContainer("default").Put("missing.p12", f.merchant.PKCS12(t, "1900000001"))
		_, err = m.HTTPClients().Client(ctx, interfaces.HTTPClientName)
		assert.NoError(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		f := newFixture(t)
		f.update(func(o *interfaces.Options) { o.CertificateSecret = "wrong" })
		m := f.module(t, RetryConfig{})

		_, err := m.HTTPClients().Client(ctx, interfaces.HTTPClientName)
		assert.ErrorIs(t, err, interfaces.ErrCertificateInvalid)
	})

	t.Run("missing merchant id", func(t *testing.T) {
		f := newFixture(t)
		f.update(func(o *interfaces.Options) { o.MchID = "" })
		m := f.module(t, RetryConfig{})

		_, err := m.HTTPClients().Client(ctx, interfaces.HTTPClientName)
		assert.ErrorIs(t, err, interfaces.ErrConfigurationIncomplete)
	})

	t.Run("no platform certificate source", func(t *testing.T) {
		f := newFixture(t)
		f.update(func(o *interfaces.Options) { o.APIV3Key = "" })
		m := f.module(t, RetryConfig{})

		_, err := m.HTTPClients().Client(ctx, interfaces.HTTPClientName)
		assert.ErrorIs(t, err, interfaces.ErrConfigurationIncomplete)
	})
}

func TestStaticPlatformCertificates(t *testing.T) {
	f := newFixture(t)
	f.containers.MemoryContainer("default").Put("platform.pem", f.gw.Platform.CertPEM())
	f.update(func(o *interfaces.Options) {
		o.APIV3Key = ""
		o.PlatformCertificateBlobNames = []string{"platform.pem"}
	})
	m := f.module(t, RetryConfig{})

	client, err := m.Client().HTTPClient(context.Background())
	require.NoError(t, err)

	resp := get(t, client, f.gw.URL()+"/v3/pay/transactions/id/1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(0), f.gw.Downloads.Load())
}

func TestUnsignedWithoutCertificate(t *testing.T) {
	f := newFixture(t)
	f.update(func(o *interfaces.Options) { o.CertificateBlobName = "" })
	m := f.module(t, RetryConfig{})

	stack, err := m.Client().Stack(context.Background())
	require.NoError(t, err)
	assert.False(t, stack.Signed())
	assert.False(t, stack.Transport().HasClientCertificate())

	resp := get(t, &http.Client{Transport: stack}, f.gw.URL()+"/v3/pay/transactions/id/1")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestClientTenantOverrides(t *testing.T) {
	f := newFixture(t)
	f.containers.MemoryContainer("default").Put("tenant-b.p12", f.merchant.PKCS12(t, "tenant-b"))
	m := f.module(t, RetryConfig{})

	tenants := options.TenantOverrides{
		"a": {MchID: "1900000001"},
		"b": {MchID: "1900000001", CertificateBlobName: "tenant-b.p12", CertificateSecret: "tenant-b"},
	}

	stacks := make(map[string]*Stack)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		for _, id := range []string{"a", "b"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				ctx, err := tenants.WithTenant(context.Background(), id)
				if !assert.NoError(t, err) {
					return
				}
				stack, err := m.Client().Stack(ctx)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if prev, ok := stacks[id]; ok {
					assert.Same(t, prev, stack)
				}
				stacks[id] = stack
			}(id)
		}
	}
	wg.Wait()

	require.Len(t, stacks, 2)
	assert.NotSame(t, stacks["a"], stacks["b"])
	assert.Equal(t, "tenant-b.p12", stacks["b"].Options().CertificateBlobName)
	assert.Equal(t, "apiclient_cert.p12", stacks["a"].Options().CertificateBlobName)

	ctx, err := tenants.WithTenant(context.Background(), "b")
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, f.gw.URL()+"/v3/pay/transactions/id/2", nil)
	require.NoError(t, err)
	resp, err := m.Client().Do(ctx, req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTenantsDifferingInSecretsGetOwnStacks(t *testing.T) {
	f := newFixture(t)
	m := f.module(t, RetryConfig{})

	tenants := options.TenantOverrides{
		"a": {APIKey: "secret-a", NotifyURL: "https://a.example/notify"},
		"b": {APIKey: "secret-b", NotifyURL: "https://b.example/notify"},
	}

	stackFor := func(id string) *Stack {
		ctx, err := tenants.WithTenant(context.Background(), id)
		require.NoError(t, err)
		stack, err := m.Client().Stack(ctx)
		require.NoError(t, err)
		return stack
	}

	a, b := stackFor("a"), stackFor("b")
	assert.NotSame(t, a, b)
	assert.Equal(t, "secret-a", a.Options().APIKey)
	assert.Equal(t, "secret-b", b.Options().APIKey)
	assert.Equal(t, "https://b.example/notify", b.Options().NotifyURL)
	assert.Equal(t, "secret-b", b.Transport().Options().APIKey)
	assert.Same(t, b, stackFor("b"))
}

func TestModuleReconfigure(t *testing.T) {
	f := newFixture(t)
	m := f.module(t, RetryConfig{})
	ctx := context.Background()

	assert.ErrorIs(t, NewModule(ModuleConfig{}).Reconfigure(ctx), ErrNotConfigured)

	client, err := m.HTTPClients().Client(ctx, interfaces.HTTPClientName)
	require.NoError(t, err)
	first := m.ActiveStack()

	f.update(func(o *interfaces.Options) { o.TLSMinVersion = "1.2" })
	require.NoError(t, m.Reconfigure(ctx))
	second := m.ActiveStack()
	assert.NotSame(t, first, second)
	assert.Equal(t, "1.2", second.Options().TLSMinVersion)
	assert.Equal(t, 1, m.Client().Len())
	assert.Equal(t, 1, m.Client().cfg.Provisioner.Len())

	resp := get(t, client, f.gw.URL()+"/v3/pay/transactions/id/3")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	f.update(func(o *interfaces.Options) { o.CertificateBlobName = "missing.p12" })
	assert.ErrorIs(t, m.Reconfigure(ctx), interfaces.ErrCertificateNotFound)
	assert.Same(t, second, m.ActiveStack())
}

// gatedContainer holds every read until release is closed.
type gatedContainer struct {
	interfaces.BlobContainer
	reads   atomic.Int32
	release chan struct{}
}

func (c *gatedContainer) GetAllBytesOrNil(ctx context.Context, name string) ([]byte, error) {
	c.reads.Inc()
	select {
	case <-c.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.BlobContainer.GetAllBytesOrNil(ctx, name)
}

func TestStackForCallerDeadlineIsolated(t *testing.T) {
	f := newFixture(t)
	gated := &gatedContainer{BlobContainer: f.containers.Default(), release: make(chan struct{})}
	f.containers.SetDefault(gated)
	m := f.module(t, RetryConfig{})

	opts, err := m.Resolver().Resolve(context.Background())
	require.NoError(t, err)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Client().StackFor(short, opts)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	type result struct {
		stack *Stack
		err   error
	}
	unbounded := make(chan result, 1)
	go func() {
		stack, err := m.Client().StackFor(context.Background(), opts)
		unbounded <- result{stack, err}
	}()

	time.Sleep(10 * time.Millisecond)
	close(gated.release)

	res := <-unbounded
	require.NoError(t, res.err)
	assert.True(t, res.stack.Signed())
	assert.Equal(t, int32(1), gated.reads.Load())
}

type flakyTransport struct {
	calls    atomic.Int32
	failures int32
	err      error
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	n := f.calls.Inc()
	if n <= f.failures {
		return nil, f.err
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func TestRetryingRoundTripper(t *testing.T) {
	cfg := RetryConfig{RetryMax: 3, RetryWaitMin: time.Millisecond, RetryWaitMax: 2 * time.Millisecond}

	t.Run("transport errors are retried", func(t *testing.T) {
		flaky := &flakyTransport{failures: 2, err: &interfaces.TransportError{Op: "GET", URL: "x", Err: errors.New("connection reset")}}
		client := &http.Client{Transport: NewRetryingRoundTripper(flaky, cfg, nil)}

		resp, err := client.Get("http://gw.invalid/v3/certificates")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, int32(3), flaky.calls.Load())
	})

	t.Run("verification failures are not retried", func(t *testing.T) {
		flaky := &flakyTransport{failures: 10, err: fmt.Errorf("%w: bad", interfaces.ErrSignatureVerificationFailed)}
		client := &http.Client{Transport: NewRetryingRoundTripper(flaky, cfg, nil)}

		_, err := client.Get("http://gw.invalid/v3/certificates")
		assert.ErrorIs(t, err, interfaces.ErrSignatureVerificationFailed)
		assert.Equal(t, int32(1), flaky.calls.Load())
	})

	t.Run("disabled", func(t *testing.T) {
		flaky := &flakyTransport{}
		assert.Same(t, flaky, NewRetryingRoundTripper(flaky, RetryConfig{}, nil))
	})
}

func TestCheckRetry(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		err   error
		retry bool
	}{
		{"no error", nil, false},
		{"transport", &interfaces.TransportError{Err: errors.New("eof")}, true},
		{"signature", interfaces.ErrSignatureVerificationFailed, false},
		{"certificate not found", interfaces.ErrCertificateNotFound, false},
		{"certificate invalid", interfaces.ErrCertificateInvalid, false},
		{"configuration", interfaces.ErrConfigurationIncomplete, false},
		{"other", errors.New("other"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retry, err := CheckRetry(ctx, nil, tt.err)
			assert.NoError(t, err)
			assert.Equal(t, tt.retry, retry)
		})
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	retry, err := CheckRetry(cancelled, nil, &interfaces.TransportError{Err: errors.New("eof")})
	assert.False(t, retry)
	assert.ErrorIs(t, err, context.Canceled)
}
