package options

import (
	"context"

	"github.com/ruteri/wechatpay-backend/interfaces"
)

// ContextContributorName is the name of the built-in context contributor.
const ContextContributorName = "Context"

type overrideKey struct{}

// WithOverride returns a context carrying a partial options override for the
// current call chain. The value is copied; later changes by the caller are
// not observed.
func WithOverride(ctx context.Context, override *interfaces.Options) context.Context {
	return context.WithValue(ctx, overrideKey{}, override.Clone())
}

// OverrideFromContext returns the override bound to ctx, or nil.
func OverrideFromContext(ctx context.Context) *interfaces.Options {
	o, _ := ctx.Value(overrideKey{}).(*interfaces.Options)
	return o
}

// ContextContributor contributes the override bound to the call's context.
type ContextContributor struct{}

func NewContextContributor() *ContextContributor {
	return &ContextContributor{}
}

func (*ContextContributor) Name() string { return ContextContributorName }

func (*ContextContributor) Contribute(ctx context.Context) (*interfaces.Options, error) {
	return OverrideFromContext(ctx), nil
}
