package storage

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
)

// VaultContainer implements a read-only blob container on a HashiCorp Vault
// KV v2 mount. Each blob is a secret at <mount>/data/<path>/<name> holding
// its bytes under the "content" key; binary content is stored base64 encoded
// with "encoding" set to "base64".
type VaultContainer struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultContainer creates a Vault blob container.
// The token is taken from the environment (VAULT_TOKEN) by the Vault client.
// When clientCert is non-nil it is presented for TLS client certificate authentication.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: Path within the mount (e.g. "wechatpay/certs")
//   - clientCert: optional TLS client certificate
//   - log: Structured logger for operational insights
func NewVaultContainer(address, mountPath, dataPath string, clientCert *tls.Certificate, log *slog.Logger) (*VaultContainer, error) {
	config := api.DefaultConfig()
	config.Address = address

	if clientCert != nil {
		config.HttpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					Certificates: []tls.Certificate{*clientCert},
				},
			},
			Timeout: 30 * time.Second,
		}
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	return NewVaultContainerWithClient(client, mountPath, dataPath, log), nil
}

// NewVaultContainerWithClient wraps an existing Vault client.
func NewVaultContainerWithClient(client *api.Client, mountPath, dataPath string, log *slog.Logger) *VaultContainer {
	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultContainer{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(client.Address(), "https://"), "http://"), mountPath, dataPath),
	}
}

// GetAllBytesOrNil reads the named secret from Vault.
// Returns (nil, nil) if the secret doesn't exist.
func (c *VaultContainer) GetAllBytesOrNil(ctx context.Context, name string) ([]byte, error) {
	start := time.Now()
	path := c.secretPath(name)

	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		c.log.Error("Failed to read from Vault",
			slog.String("path", path),
			"err", err)
		return nil, fmt.Errorf("failed to read from Vault: %w", err)
	}

	if secret == nil || secret.Data == nil {
		c.log.Debug("Blob not found in Vault", slog.String("path", path))
		return nil, nil
	}

	// KV v2 nests the payload under "data"; a deleted version has nil data
	raw, ok := secret.Data["data"]
	if !ok || raw == nil {
		return nil, nil
	}
	data, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response at %s", path)
	}

	content, ok := data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("content key not found in Vault data at %s", path)
	}

	var blob []byte
	if encoding, _ := data["encoding"].(string); encoding == "base64" {
		blob, err = base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 content in Vault data at %s: %w", path, err)
		}
	} else {
		blob = []byte(content)
	}

	c.log.Debug("Fetched blob from Vault",
		slog.String("path", path),
		slog.Int("size", len(blob)),
		slog.Duration("duration", time.Since(start)))

	return blob, nil
}

// Available checks that Vault is initialized and unsealed.
func (c *VaultContainer) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := c.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		c.log.Debug("Vault health check failed", "err", err)
		return false
	}

	if !health.Initialized || health.Sealed {
		c.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}

	return true
}

// Name returns a unique identifier for this container.
func (c *VaultContainer) Name() string {
	return fmt.Sprintf("vault-%s-%s", c.mountPath, c.dataPath)
}

// LocationURI returns the URI that identifies this container.
func (c *VaultContainer) LocationURI() string {
	return c.locationURI
}

func (c *VaultContainer) secretPath(name string) string {
	name = strings.Trim(name, "/")
	if c.dataPath == "" {
		return fmt.Sprintf("%s/data/%s", c.mountPath, name)
	}
	return fmt.Sprintf("%s/data/%s/%s", c.mountPath, c.dataPath, name)
}
