// Package config loads the gateway service configuration from YAML and
// WECHATPAY_* environment variables.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/ruteri/wechatpay-backend/interfaces"
	"github.com/ruteri/wechatpay-backend/options"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. WECHATPAY_WECHATPAY_MCH_ID.
const EnvPrefix = "WECHATPAY"

// Config is the service configuration.
type Config struct {
	// WeChatPay holds the persisted options, the lowest priority contributor.
	WeChatPay interfaces.Options `mapstructure:"wechatpay"`

	// Tenants holds per-tenant partial options selected per request.
	Tenants map[string]*interfaces.Options `mapstructure:"tenants"`

	Storage StorageConfig    `mapstructure:"storage"`
	HTTP    HTTPClientConfig `mapstructure:"http"`
	Signing SigningConfig    `mapstructure:"signing"`
	Server  ServerConfig     `mapstructure:"server"`
}

// StorageConfig lists blob container location URIs. Several URIs for one
// container are tried in order.
type StorageConfig struct {
	Default    []string            `mapstructure:"default" validate:"dive,required"`
	Containers map[string][]string `mapstructure:"containers" validate:"dive,min=1,dive,required"`
}

type HTTPClientConfig struct {
	Timeout        time.Duration `mapstructure:"timeout" default:"30s" validate:"gte=0"`
	RetryMax       int           `mapstructure:"retry_max" default:"0" validate:"gte=0,lte=10"`
	RetryWaitMin   time.Duration `mapstructure:"retry_wait_min" default:"1s"`
	RetryWaitMax   time.Duration `mapstructure:"retry_wait_max" default:"10s" validate:"gtefield=RetryWaitMin"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout" default:"30s" validate:"gt=0"`

	// RetireGrace keeps a stack replaced on reload usable for requests already holding it.
	RetireGrace time.Duration `mapstructure:"retire_grace" default:"1m" validate:"gt=0"`
}

type SigningConfig struct {
	// ClockSkew bounds the accepted Wechatpay-Timestamp drift. Zero disables the check.
	ClockSkew time.Duration `mapstructure:"clock_skew" default:"5m" validate:"gte=0"`

	// DownloadPlatformCertificates enables fetching platform certificates from
	// the gateway when no static certificate matches a response serial.
	DownloadPlatformCertificates bool `mapstructure:"download_platform_certificates" default:"true"`

	PlatformCertificateCacheTTL time.Duration `mapstructure:"platform_certificate_cache_ttl" default:"12h" validate:"gt=0"`
}

type ServerConfig struct {
	ListenAddr               string        `mapstructure:"listen_addr" default:"127.0.0.1:8080" validate:"required"`
	MetricsAddr              string        `mapstructure:"metrics_addr" default:"127.0.0.1:8090"`
	EnablePprof              bool          `mapstructure:"enable_pprof"`
	DrainDuration            time.Duration `mapstructure:"drain_duration" default:"45s"`
	GracefulShutdownDuration time.Duration `mapstructure:"graceful_shutdown_duration" default:"30s"`
	ReadTimeout              time.Duration `mapstructure:"read_timeout" default:"60s"`
	WriteTimeout             time.Duration `mapstructure:"write_timeout" default:"30s"`
}

// Default returns a configuration with every default applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// Load reads configPath (optional) and environment overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, "", reflect.TypeOf(Config{}))

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the service settings. Gateway options are validated after
// resolution, since the persisted values may be partial.
func Validate(cfg *Config) error {
	validate := validator.New()
	for _, s := range []interface{}{cfg.Storage, cfg.HTTP, cfg.Signing, cfg.Server} {
		if err := validate.Struct(s); err != nil {
			return err
		}
	}
	for id := range cfg.Tenants {
		if id == "" {
			return fmt.Errorf("empty tenant id")
		}
	}
	return nil
}

// TenantOverrides returns the configured tenants.
func (c *Config) TenantOverrides() options.TenantOverrides {
	tenants := make(options.TenantOverrides, len(c.Tenants))
	for id, opts := range c.Tenants {
		if opts != nil {
			tenants[id] = opts.Clone()
		}
	}
	return tenants
}

// bindEnvs registers every leaf key so that AutomaticEnv also applies to
// keys absent from the config file. Maps are skipped.
func bindEnvs(v *viper.Viper, prefix string, t reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		switch {
		case field.Type.Kind() == reflect.Struct:
			bindEnvs(v, key, field.Type)
		case field.Type.Kind() == reflect.Map:
			continue
		default:
			_ = v.BindEnv(key)
		}
	}
}
