package config

import (
	"context"
	"log/slog"

	"github.com/ruteri/wechatpay-backend/interfaces"
	"go.uber.org/atomic"
)

// FileSource serves the persisted options of a loaded configuration and can
// reload them from disk. Readers always see a complete configuration.
type FileSource struct {
	path string
	log  *slog.Logger
	cfg  atomic.Pointer[Config]
}

// NewFileSource wraps an already loaded configuration read from path.
func NewFileSource(path string, cfg *Config, log *slog.Logger) *FileSource {
	if log == nil {
		log = slog.Default()
	}
	s := &FileSource{path: path, log: log}
	s.cfg.Store(cfg)
	return s
}

// Config returns the current configuration.
func (s *FileSource) Config() *Config {
	return s.cfg.Load()
}

// StaticOptions implements interfaces.StaticOptionsSource.
func (s *FileSource) StaticOptions(context.Context) (*interfaces.Options, error) {
	cfg := s.cfg.Load()
	return cfg.WeChatPay.Clone(), nil
}

// Reload re-reads the file. On failure the previous configuration stays in use.
func (s *FileSource) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		s.log.Error("failed to reload configuration", "path", s.path, "err", err)
		return err
	}
	s.cfg.Store(cfg)
	s.log.Info("configuration reloaded", "path", s.path, "options", cfg.WeChatPay.Redacted())
	return nil
}
