package interfaces

import (
	"context"
	"net/http"
)

// HTTPClientName is the registered name of the WeChat Pay HTTP client.
const HTTPClientName = "WeChatPay"

// ServiceProvider exposes the capabilities a transport configurator may need.
type ServiceProvider interface {
	OptionsResolver() OptionsResolver
	BlobContainers() BlobContainerFactory
}

// TransportConfigurator builds the primary round tripper of a named client.
type TransportConfigurator func(ctx context.Context, provider ServiceProvider) (http.RoundTripper, error)

// HTTPClientFactory hands out named HTTP clients whose primary transport is
// produced by a registered configurator.
type HTTPClientFactory interface {
	// Configure registers the configurator for name. Registering the same
	// name twice replaces the previous configurator until the client is first built.
	Configure(name string, configure TransportConfigurator)

	// Client returns the client for name, building it on first use.
	Client(ctx context.Context, name string) (*http.Client, error)
}
