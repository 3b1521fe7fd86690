package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/wechatpay-backend/config"
	"github.com/ruteri/wechatpay-backend/gateway"
	"github.com/ruteri/wechatpay-backend/storage"
)

type service struct {
	source *config.FileSource
	module *gateway.Module
	log    *slog.Logger
}

// bootstrap loads the configuration and builds the configured gateway module.
func bootstrap(configPath string, logger *slog.Logger) (*service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	containers, err := newContainers(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	source := config.NewFileSource(configPath, cfg, logger)
	module := gateway.NewModule(gateway.ModuleConfig{
		Static:     source,
		Containers: containers,
		Signing: gateway.SigningSettings{
			ClockSkew:                    cfg.Signing.ClockSkew,
			DownloadPlatformCertificates: cfg.Signing.DownloadPlatformCertificates,
			PlatformCertificateCacheTTL:  cfg.Signing.PlatformCertificateCacheTTL,
		},
		Retry: gateway.RetryConfig{
			RetryMax:     cfg.HTTP.RetryMax,
			RetryWaitMin: cfg.HTTP.RetryWaitMin,
			RetryWaitMax: cfg.HTTP.RetryWaitMax,
		},
		Timeout:        cfg.HTTP.Timeout,
		StartupTimeout: cfg.HTTP.StartupTimeout,
		RetireGrace:    cfg.HTTP.RetireGrace,
		Log:            logger,
	})
	if err := module.PostConfigure(); err != nil {
		return nil, err
	}

	return &service{source: source, module: module, log: logger}, nil
}

func newContainers(cfg config.StorageConfig, logger *slog.Logger) (*storage.ContainerFactory, error) {
	containers := storage.NewContainerFactory(logger)
	if len(cfg.Default) > 0 {
		if err := containers.ConfigureDefault(cfg.Default); err != nil {
			return nil, err
		}
	}
	for name, uris := range cfg.Containers {
		if err := containers.ConfigureNamed(name, uris); err != nil {
			return nil, err
		}
	}
	return containers, nil
}

// reload re-reads the configuration file and republishes the named client's stack.
func (s *service) reload(ctx context.Context) error {
	if err := s.source.Reload(); err != nil {
		return err
	}
	if err := s.module.Reconfigure(ctx); err != nil {
		return fmt.Errorf("failed to reconfigure gateway client: %w", err)
	}
	return nil
}

func (s *service) tenantContext(ctx context.Context, tenant string) (context.Context, error) {
	return s.source.Config().TenantOverrides().WithTenant(ctx, tenant)
}
