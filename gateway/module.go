package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ruteri/wechatpay-backend/certstore"
	"github.com/ruteri/wechatpay-backend/interfaces"
	"github.com/ruteri/wechatpay-backend/options"
	"go.uber.org/atomic"
)

var ErrNotConfigured = errors.New("gateway module not configured")

type ModuleConfig struct {
	// Static is the persisted configuration, the lowest priority contributor.
	Static interfaces.StaticOptionsSource

	Containers interfaces.BlobContainerFactory

	// Contributors registered by the host before PostConfigure. May be nil.
	Contributors *options.Contributors

	Signing        SigningSettings
	Retry          RetryConfig
	Timeout        time.Duration
	StartupTimeout time.Duration

	// RetireGrace is how long a stack replaced by Reconfigure stays usable
	// before it is released.
	RetireGrace time.Duration

	Log *slog.Logger
}

// Module is the startup hook of the gateway integration. It implements
// interfaces.ServiceProvider for the transport configurators it registers.
type Module struct {
	cfg          ModuleConfig
	log          *slog.Logger
	contributors *options.Contributors
	clients      *ClientFactory

	resolver *options.Resolver
	client   *Client
	active   atomic.Pointer[Stack]
}

func NewModule(cfg ModuleConfig) *Module {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Contributors == nil {
		cfg.Contributors = options.NewContributors()
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 30 * time.Second
	}
	if cfg.RetireGrace == 0 {
		cfg.RetireGrace = time.Minute
	}

	m := &Module{
		cfg:          cfg,
		log:          cfg.Log,
		contributors: cfg.Contributors,
	}
	m.clients = NewClientFactory(m, cfg.Timeout)
	return m
}

// PostConfigure runs the two setup steps. It must be called once, before
// the module is used and before any concurrent resolution.
func (m *Module) PostConfigure() error {
	m.ConfigureResolveContributors()
	m.ConfigureHTTPClient()
	return nil
}

// ConfigureResolveContributors registers the built-in contributors and
// freezes the contributor list into the resolver.
func (m *Module) ConfigureResolveContributors() {
	options.ConfigureDefaultContributors(m.contributors, m.cfg.Static)
	m.resolver = options.NewResolver(m.contributors, m.log)

	var store *certstore.Store
	if m.cfg.Containers != nil {
		store = certstore.NewStore(m.cfg.Containers, m.log)
	}
	m.client = NewClient(ClientConfig{
		Resolver:     m.resolver,
		Certificates: store,
		Signing:      m.cfg.Signing,
		Retry:        m.cfg.Retry,
		Timeout:      m.cfg.Timeout,
		Log:          m.log,
	})

	m.log.Info("configured options contributors", "contributors", m.resolver.Names())
}

// ConfigureHTTPClient registers the interfaces.HTTPClientName client.
func (m *Module) ConfigureHTTPClient() {
	m.clients.Configure(interfaces.HTTPClientName, m.configureTransport)
}

// configureTransport runs once when the named client is first requested,
// normally during startup. It blocks until the persisted configuration
// resolves and the first stack is built, bounded by StartupTimeout. This is
// the only place where resolution is awaited outside a request.
func (m *Module) configureTransport(ctx context.Context, provider interfaces.ServiceProvider) (http.RoundTripper, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.StartupTimeout)
	defer cancel()

	opts, err := provider.OptionsResolver().Resolve(ctx)
	if err != nil {
		return nil, err
	}

	stack, err := m.client.StackFor(ctx, opts)
	if err != nil {
		return nil, err
	}
	m.active.Store(stack)

	m.log.Info("gateway HTTP client configured", "options", opts.Redacted())
	return roundTripperFunc(m.roundTripActive), nil
}

func (m *Module) roundTripActive(req *http.Request) (*http.Response, error) {
	stack := m.active.Load()
	if stack == nil {
		return nil, ErrNotConfigured
	}
	return stack.RoundTrip(req)
}

// Reconfigure resolves the persisted configuration again and publishes the
// resulting stack for new requests on the named client. Requests in flight
// complete on the previous stack, which is released after RetireGrace.
// On failure the previous stack stays active.
func (m *Module) Reconfigure(ctx context.Context) error {
	if m.client == nil {
		return ErrNotConfigured
	}

	opts, err := m.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	stack, err := m.client.StackFor(ctx, opts)
	if err != nil {
		return err
	}

	if old := m.active.Swap(stack); old != stack {
		m.log.Info("gateway HTTP client reconfigured", "options", opts.Redacted())
		if old != nil {
			m.client.Retire(old, m.cfg.RetireGrace)
		}
	}
	return nil
}

// ActiveStack returns the stack behind the named client, or nil before its first use.
func (m *Module) ActiveStack() *Stack {
	return m.active.Load()
}

func (m *Module) OptionsResolver() interfaces.OptionsResolver {
	return m.resolver
}

func (m *Module) BlobContainers() interfaces.BlobContainerFactory {
	return m.cfg.Containers
}

// HTTPClients returns the named client factory.
func (m *Module) HTTPClients() interfaces.HTTPClientFactory {
	return m.clients
}

// Resolver returns the options resolver. Nil before PostConfigure.
func (m *Module) Resolver() *options.Resolver {
	return m.resolver
}

// Client returns the per-call client. Nil before PostConfigure.
func (m *Module) Client() *Client {
	return m.client
}

// Close releases the module's stacks.
func (m *Module) Close() {
	if m.client != nil {
		m.client.Close()
	}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
