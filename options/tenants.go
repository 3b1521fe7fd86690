package options

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruteri/wechatpay-backend/interfaces"
)

var ErrUnknownTenant = errors.New("unknown tenant")

// TenantOverrides maps tenant identifiers to partial options. A request on
// behalf of a tenant resolves with the tenant's values first and falls back
// to the persisted configuration for everything else.
type TenantOverrides map[string]*interfaces.Options

// WithTenant binds the tenant's override to ctx. An empty id returns ctx unchanged.
func (t TenantOverrides) WithTenant(ctx context.Context, id string) (context.Context, error) {
	if id == "" {
		return ctx, nil
	}
	override, ok := t[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTenant, id)
	}
	return WithOverride(ctx, override), nil
}

// IDs returns the configured tenant identifiers.
func (t TenantOverrides) IDs() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	return ids
}
