package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryContainer keeps blobs in process memory. It backs memory:// locations
// for development and tests.
type MemoryContainer struct {
	name  string
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryContainer creates an empty in-memory container.
func NewMemoryContainer(name string) *MemoryContainer {
	return &MemoryContainer{
		name:  name,
		blobs: make(map[string][]byte),
	}
}

// Put stores a copy of data under name.
func (c *MemoryContainer) Put(name string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blobs[name] = append([]byte(nil), data...)
}

// GetAllBytesOrNil returns a copy of the blob, or (nil, nil) if absent.
func (c *MemoryContainer) GetAllBytesOrNil(_ context.Context, name string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.blobs[name]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (c *MemoryContainer) Available(context.Context) bool { return true }

func (c *MemoryContainer) Name() string { return fmt.Sprintf("memory-%s", c.name) }

func (c *MemoryContainer) LocationURI() string { return fmt.Sprintf("memory://%s", c.name) }
