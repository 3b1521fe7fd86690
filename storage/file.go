package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileContainer implements a blob container on the local file system.
// Blob names map to files below the container's base directory.
type FileContainer struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileContainer creates a file container rooted at baseDir.
// The directory is created if it doesn't exist.
func NewFileContainer(baseDir string, log *slog.Logger) (*FileContainer, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileContainer{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// GetAllBytesOrNil reads the named blob from disk.
// Returns (nil, nil) if the file doesn't exist.
func (c *FileContainer) GetAllBytesOrNil(ctx context.Context, name string) ([]byte, error) {
	filePath, err := c.getFilePath(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		c.log.Debug("Blob not found on disk", slog.String("path", filePath))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	c.log.Debug("Fetched blob from file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return data, nil
}

// Put writes a blob to disk, replacing any previous content.
func (c *FileContainer) Put(ctx context.Context, name string, data []byte) error {
	filePath, err := c.getFilePath(name)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Available checks if the base directory exists.
func (c *FileContainer) Available(ctx context.Context) bool {
	_, err := os.Stat(c.baseDir)
	if err != nil {
		c.log.Debug("File container unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this container.
func (c *FileContainer) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(c.baseDir))
}

// LocationURI returns the URI that identifies this container.
func (c *FileContainer) LocationURI() string {
	return c.locationURI
}

// getFilePath resolves a blob name below the base directory, rejecting names
// that would escape it.
func (c *FileContainer) getFilePath(name string) (string, error) {
	clean := filepath.Clean("/" + strings.TrimSpace(name))
	if clean == "/" {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return filepath.Join(c.baseDir, clean), nil
}
