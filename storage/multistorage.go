package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/wechatpay-backend/interfaces"
)

// MultiContainer implements interfaces.BlobContainer over several containers with fallback.
// Reads try each available container in order and return the first blob found.
type MultiContainer struct {
	containers []interfaces.BlobContainer
	log        *slog.Logger
}

// NewMultiContainer creates a new fallback container.
func NewMultiContainer(containers []interfaces.BlobContainer, logger *slog.Logger) *MultiContainer {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiContainer{
		containers: containers,
		log:        logger,
	}
}

// GetAllBytesOrNil returns the blob from the first container that has it.
// The blob is reported absent only if every container reported it absent;
// if any container failed and none had the blob, the failures are returned.
func (m *MultiContainer) GetAllBytesOrNil(ctx context.Context, name string) ([]byte, error) {
	start := time.Now()
	var errs []error

	for _, container := range m.containers {
		if !container.Available(ctx) {
			m.log.Debug("Container unavailable",
				slog.String("container_name", container.Name()),
				slog.String("blob", name))
			errs = append(errs, fmt.Errorf("%s: %w", container.Name(), interfaces.ErrBackendUnavailable))
			continue
		}

		data, err := container.GetAllBytesOrNil(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", container.Name(), err))
			m.log.Debug("Failed to fetch from container",
				slog.String("container_name", container.Name()),
				slog.String("blob", name),
				"err", err)
			continue
		}
		if data == nil {
			continue
		}

		m.log.Debug("Fetched blob",
			slog.String("container_name", container.Name()),
			slog.String("blob", name),
			slog.Duration("duration", time.Since(start)))
		return data, nil
	}

	if len(errs) > 0 {
		m.log.Error("Blob not found and some containers failed",
			slog.String("blob", name),
			slog.Int("failed_containers", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to fetch %s: %w", name, errors.Join(errs...))
	}

	return nil, nil
}

// Available checks if any container is available.
func (m *MultiContainer) Available(ctx context.Context) bool {
	for _, container := range m.containers {
		if container.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this container.
func (m *MultiContainer) Name() string {
	return "multi-container"
}

// LocationURI returns a combined URI of all containers.
func (m *MultiContainer) LocationURI() string {
	var locations []string
	for _, container := range m.containers {
		locations = append(locations, container.LocationURI())
	}

	return "multi:[" + strings.Join(locations, ",") + "]"
}
