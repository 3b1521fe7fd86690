package options

import (
	"context"
	"fmt"

	"github.com/ruteri/wechatpay-backend/interfaces"
)

// ConfigurationContributorName is the name of the built-in persisted configuration contributor.
const ConfigurationContributorName = "Configuration"

// ConfigurationContributor contributes the statically configured options.
type ConfigurationContributor struct {
	source interfaces.StaticOptionsSource
}

func NewConfigurationContributor(source interfaces.StaticOptionsSource) *ConfigurationContributor {
	return &ConfigurationContributor{source: source}
}

func (*ConfigurationContributor) Name() string { return ConfigurationContributorName }

func (c *ConfigurationContributor) Contribute(ctx context.Context) (*interfaces.Options, error) {
	if c.source == nil {
		return nil, nil
	}
	opts, err := c.source.StaticOptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read static options: %w", err)
	}
	return opts, nil
}

// StaticOptions is a fixed StaticOptionsSource.
type StaticOptions struct {
	Options *interfaces.Options
}

func (s StaticOptions) StaticOptions(context.Context) (*interfaces.Options, error) {
	return s.Options.Clone(), nil
}
