package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
)

// IPFSContainer implements a read-only blob container on an IPFS directory.
// Blob names are resolved relative to a root path such as /ipfs/<cid> or
// /ipns/<name>, so a certificate directory is published once and addressed by name.
type IPFSContainer struct {
	shell       *shell.Shell
	host        string
	port        string
	root        string
	log         *slog.Logger
	locationURI string
}

// NewIPFSContainer creates an IPFS blob container connected to the node's API at host:port.
func NewIPFSContainer(host, port, root string, timeout time.Duration, log *slog.Logger) *IPFSContainer {
	apiURL := fmt.Sprintf("%s:%s", host, port)

	sh := shell.NewShell(apiURL)
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}

	root = "/" + strings.Trim(root, "/")

	return &IPFSContainer{
		shell:       sh,
		host:        host,
		port:        port,
		root:        root,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s", apiURL, root),
	}
}

// GetAllBytesOrNil reads a file below the root path.
// Returns (nil, nil) if the directory has no entry with that name.
func (c *IPFSContainer) GetAllBytesOrNil(ctx context.Context, name string) ([]byte, error) {
	start := time.Now()
	path := c.root + "/" + strings.TrimPrefix(name, "/")

	reader, err := c.shell.Cat(path)
	if err != nil {
		if strings.Contains(err.Error(), "no link named") || strings.Contains(err.Error(), "not found") {
			c.log.Debug("Blob not found in IPFS",
				slog.String("path", path),
				slog.Duration("duration", time.Since(start)))
			return nil, nil
		}

		c.log.Error("Failed to fetch data from IPFS",
			slog.String("path", path),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to fetch data from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data from IPFS: %w", err)
	}

	c.log.Debug("Fetched blob from IPFS",
		slog.String("path", path),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Available checks if the IPFS node is accessible.
func (c *IPFSContainer) Available(ctx context.Context) bool {
	return c.shell.IsUp()
}

// Name returns a unique identifier for this container.
func (c *IPFSContainer) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", c.host, c.port)
}

// LocationURI returns the URI that identifies this container.
func (c *IPFSContainer) LocationURI() string {
	return c.locationURI
}
