package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ruteri/wechatpay-backend/interfaces"
)

// ClientFactory implements interfaces.HTTPClientFactory. Each named client
// is built on first use from its configurator and reused afterwards.
type ClientFactory struct {
	provider interfaces.ServiceProvider
	timeout  time.Duration

	mu            sync.Mutex
	configurators map[string]interfaces.TransportConfigurator
	clients       map[string]*http.Client
}

func NewClientFactory(provider interfaces.ServiceProvider, timeout time.Duration) *ClientFactory {
	return &ClientFactory{
		provider:      provider,
		timeout:       timeout,
		configurators: make(map[string]interfaces.TransportConfigurator),
		clients:       make(map[string]*http.Client),
	}
}

func (f *ClientFactory) Configure(name string, configure interfaces.TransportConfigurator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configurators[name] = configure
}

// Client builds the named client on first call. A failed build is not
// remembered; the next call tries again.
func (f *ClientFactory) Client(ctx context.Context, name string) (*http.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[name]; ok {
		return client, nil
	}

	configure, ok := f.configurators[name]
	if !ok {
		return nil, fmt.Errorf("no HTTP client configured with name %s", name)
	}

	rt, err := configure(ctx, f.provider)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client %s: %w", name, err)
	}

	client := &http.Client{Transport: rt, Timeout: f.timeout}
	f.clients[name] = client
	return client, nil
}
