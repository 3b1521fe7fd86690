package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// BlobLocation represents URI for a blob container backend.
type BlobLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewBlobLocation creates a new blob location from a URI string with validation.
func NewBlobLocation(uri string) (BlobLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return BlobLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	// Validate scheme is supported
	scheme := parsed.Scheme
	switch scheme {
	case "file", "s3", "ipfs", "vault", "memory":
		// Valid scheme
	default:
		return BlobLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, scheme)
	}

	// Parse authentication info if present
	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return BlobLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc BlobLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc BlobLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc BlobLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

var (
	// ErrBackendUnavailable is returned when a blob backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("blob backend unavailable")

	// ErrInvalidLocationURI is returned when a blob location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid blob location URI")

	// ErrUnknownContainer is returned when a named container has not been configured.
	ErrUnknownContainer = errors.New("unknown blob container")
)

// BlobContainer provides read access to named blobs.
type BlobContainer interface {
	// GetAllBytesOrNil returns the content of the named blob.
	// A missing blob is reported as (nil, nil), not as an error.
	GetAllBytesOrNil(ctx context.Context, name string) ([]byte, error)

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// BlobContainerFactory selects blob containers by name.
type BlobContainerFactory interface {
	// Default returns the container used when no container name is given.
	Default() BlobContainer

	// Create returns the container configured under the given name.
	Create(containerName string) (BlobContainer, error)
}
