package storage

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/wechatpay-backend/interfaces"
)

// ContainerFactory creates blob containers from URI strings and selects them by name.
// The default container serves certificate references without a container name;
// named containers let deployments keep payment credentials in a dedicated store.
type ContainerFactory struct {
	log       *slog.Logger
	def       interfaces.BlobContainer
	named     map[string]interfaces.BlobContainer
	memstores map[string]*MemoryContainer
}

// NewContainerFactory creates a factory with no containers configured.
// Containers are configured during startup; the factory is read-only afterwards.
func NewContainerFactory(logger *slog.Logger) *ContainerFactory {
	f := &ContainerFactory{
		log:       logger,
		named:     make(map[string]interfaces.BlobContainer),
		memstores: make(map[string]*MemoryContainer),
	}
	f.def = f.memoryContainer("default")
	return f
}

// Default returns the default container. Until one is configured this is the
// in-memory container "default".
func (f *ContainerFactory) Default() interfaces.BlobContainer {
	return f.def
}

// Create returns the container registered under containerName.
func (f *ContainerFactory) Create(containerName string) (interfaces.BlobContainer, error) {
	container, ok := f.named[containerName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownContainer, containerName)
	}
	return container, nil
}

// SetDefault configures the default container.
func (f *ContainerFactory) SetDefault(container interfaces.BlobContainer) *ContainerFactory {
	f.def = container
	return f
}

// Register configures a named container.
func (f *ContainerFactory) Register(containerName string, container interfaces.BlobContainer) *ContainerFactory {
	f.named[containerName] = container
	return f
}

// ConfigureDefault creates the default container from location URIs.
// Several URIs are combined into a fallback MultiContainer.
func (f *ContainerFactory) ConfigureDefault(locationURIs []string) error {
	container, err := f.ContainerForURIs(locationURIs)
	if err != nil {
		return fmt.Errorf("default container: %w", err)
	}
	f.def = container
	return nil
}

// ConfigureNamed creates a named container from location URIs.
func (f *ContainerFactory) ConfigureNamed(containerName string, locationURIs []string) error {
	container, err := f.ContainerForURIs(locationURIs)
	if err != nil {
		return fmt.Errorf("container %s: %w", containerName, err)
	}
	f.named[containerName] = container
	return nil
}

// ContainerForURIs creates a single container for one URI, or a fallback
// MultiContainer for several.
func (f *ContainerFactory) ContainerForURIs(locationURIs []string) (interfaces.BlobContainer, error) {
	if len(locationURIs) == 0 {
		return nil, fmt.Errorf("%w: no location configured", interfaces.ErrInvalidLocationURI)
	}

	containers := make([]interfaces.BlobContainer, 0, len(locationURIs))
	for _, uri := range locationURIs {
		location, err := interfaces.NewBlobLocation(uri)
		if err != nil {
			return nil, err
		}
		container, err := f.ContainerFor(location)
		if err != nil {
			return nil, err
		}
		containers = append(containers, container)
	}

	if len(containers) == 1 {
		return containers[0], nil
	}
	return NewMultiContainer(containers, f.log), nil
}

// ContainerFor creates a blob container from a location.
//
// Supported schemes:
//   - file:///absolute/path - Local filesystem directory
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-west-2&endpoint=custom.s3.com
//   - vault://host:8200/mount/path?tls=false - Vault KV v2 mount
//   - ipfs://host:5001/ipfs/<cid>?timeout=30s - IPFS directory
//   - memory://name - In-process container, shared per name within the factory
func (f *ContainerFactory) ContainerFor(location interfaces.BlobLocation) (interfaces.BlobContainer, error) {
	switch location.Scheme {
	case "file":
		return f.createFileContainer(location)
	case "s3":
		return f.createS3Container(location)
	case "vault":
		return f.createVaultContainer(location)
	case "ipfs":
		return f.createIPFSContainer(location)
	case "memory":
		return f.memoryContainer(location.Host), nil
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %s", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// MemoryContainer returns the in-memory container with the given name,
// creating it on first use.
func (f *ContainerFactory) MemoryContainer(name string) *MemoryContainer {
	return f.memoryContainer(name)
}

func (f *ContainerFactory) memoryContainer(name string) *MemoryContainer {
	if c, ok := f.memstores[name]; ok {
		return c
	}
	c := NewMemoryContainer(name)
	f.memstores[name] = c
	return c
}

func (f *ContainerFactory) createFileContainer(location interfaces.BlobLocation) (interfaces.BlobContainer, error) {
	f.log.Debug("Creating file container", slog.String("uri", location.String()))

	path := location.Path
	if location.Host != "" {
		path = location.Host + "/" + strings.TrimPrefix(path, "/")
	}

	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	return NewFileContainer(path, f.log)
}

func (f *ContainerFactory) createS3Container(location interfaces.BlobLocation) (interfaces.BlobContainer, error) {
	bucketName := location.Host
	if bucketName == "" {
		return nil, fmt.Errorf("%w: missing bucket in %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	region := location.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if location.Auth != "" {
		parts := strings.SplitN(location.Auth, ":", 2)
		accessKey = parts[0]
		if len(parts) == 2 {
			secretKey = parts[1]
		}
		f.log.Debug("Using embedded S3 credentials", slog.String("bucket", bucketName))
	}

	// Never log the raw URI, it may embed credentials
	f.log.Debug("Creating S3 container", slog.String("bucket", bucketName), slog.String("region", region))

	return NewS3Container(bucketName, strings.TrimPrefix(location.Path, "/"), region, location.GetParam("endpoint"), accessKey, secretKey, f.log)
}

func (f *ContainerFactory) createVaultContainer(location interfaces.BlobLocation) (interfaces.BlobContainer, error) {
	f.log.Debug("Creating Vault container", slog.String("uri", location.String()))

	scheme := "https"
	if location.GetParam("tls") == "false" {
		scheme = "http"
	}

	parts := strings.SplitN(strings.Trim(location.Path, "/"), "/", 2)
	if parts[0] == "" {
		return nil, fmt.Errorf("%w: missing mount path in %s", interfaces.ErrInvalidLocationURI, location.String())
	}
	mountPath := parts[0]
	var dataPath string
	if len(parts) == 2 {
		dataPath = parts[1]
	}

	return NewVaultContainer(fmt.Sprintf("%s://%s", scheme, location.Host), mountPath, dataPath, nil, f.log)
}

func (f *ContainerFactory) createIPFSContainer(location interfaces.BlobLocation) (interfaces.BlobContainer, error) {
	f.log.Debug("Creating IPFS container", slog.String("uri", location.String()))

	host, port, found := strings.Cut(location.Host, ":")
	if !found || port == "" {
		port = "5001" // Default IPFS API port
	}

	if strings.Trim(location.Path, "/") == "" {
		return nil, fmt.Errorf("%w: missing root path in %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	timeout := 30 * time.Second
	if raw := location.GetParam("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timeout %q", interfaces.ErrInvalidLocationURI, raw)
		}
		timeout = parsed
	}

	return NewIPFSContainer(host, port, location.Path, timeout, f.log), nil
}
