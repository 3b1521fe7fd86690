package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ruteri/wechatpay-backend/gateway"
	"github.com/ruteri/wechatpay-backend/interfaces"
	"github.com/ruteri/wechatpay-backend/options"
)

// TenantHeader selects a tenant override for diagnostics requests.
const TenantHeader = "X-Tenant-ID"

// RequestError carries the HTTP status for a failed request.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Handler serves the diagnostics API over a configured gateway module.
type Handler struct {
	module  *gateway.Module
	tenants func() options.TenantOverrides
	reload  func(ctx context.Context) error
	log     *slog.Logger
}

// NewHandler creates a handler. tenants is consulted per request so reloaded
// tenant maps apply immediately; reload may be nil, which disables /api/reload.
func NewHandler(module *gateway.Module, tenants func() options.TenantOverrides, reload func(ctx context.Context) error, log *slog.Logger) *Handler {
	if tenants == nil {
		tenants = func() options.TenantOverrides { return nil }
	}
	return &Handler{
		module:  module,
		tenants: tenants,
		reload:  reload,
		log:     log,
	}
}

// HandleOptions resolves the effective options for the request.
//
// Response: JSON containing
//   - options: the redacted effective options
//   - sources: the contributor that supplied each field
//   - contributors: the resolve chain in priority order
func (h *Handler) HandleOptions(w http.ResponseWriter, r *http.Request) {
	ctx, err := h.tenantContext(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	opts, sources, err := h.module.Resolver().ResolveWithSources(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"options":      opts.Redacted(),
		"sources":      sources,
		"contributors": h.module.Resolver().Names(),
	})
}

// HandleTransport describes the stack built for the request's options.
func (h *Handler) HandleTransport(w http.ResponseWriter, r *http.Request) {
	ctx, err := h.tenantContext(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	stack, err := h.module.Client().Stack(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stack.Describe())
}

// HandleRefreshPlatformCertificates downloads the platform certificates of
// the request's stack again.
func (h *Handler) HandleRefreshPlatformCertificates(w http.ResponseWriter, r *http.Request) {
	ctx, err := h.tenantContext(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	stack, err := h.module.Client().Stack(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	downloader := stack.Downloader()
	if downloader == nil {
		h.writeError(w, &RequestError{StatusCode: http.StatusConflict, Err: errors.New("platform certificate download is not enabled")})
		return
	}

	if err := downloader.Refresh(ctx); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"serials": downloader.Serials(),
	})
}

// HandleReload reloads the configuration and republishes the named client's stack.
func (h *Handler) HandleReload(w http.ResponseWriter, r *http.Request) {
	if h.reload == nil {
		h.writeError(w, &RequestError{StatusCode: http.StatusNotImplemented, Err: errors.New("reload is not supported")})
		return
	}
	if err := h.reload(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}

	resp := map[string]interface{}{"status": "reloaded"}
	if stack := h.module.ActiveStack(); stack != nil {
		resp["fingerprint"] = stack.Transport().Fingerprint()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) tenantContext(r *http.Request) (context.Context, error) {
	ctx, err := h.tenants().WithTenant(r.Context(), r.Header.Get(TenantHeader))
	if err != nil {
		return nil, &RequestError{StatusCode: http.StatusNotFound, Err: err}
	}
	return ctx, nil
}

// statusFor maps gateway errors to HTTP statuses.
func statusFor(err error) int {
	var reqErr *RequestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.StatusCode
	case errors.Is(err, interfaces.ErrConfigurationIncomplete),
		errors.Is(err, interfaces.ErrConfigurationInvalid),
		errors.Is(err, interfaces.ErrCertificateNotFound),
		errors.Is(err, interfaces.ErrCertificateInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, interfaces.ErrSignatureVerificationFailed),
		errors.Is(err, interfaces.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "err", err, "status", status)
	} else {
		h.log.Warn("request failed", "err", err, "status", status)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
