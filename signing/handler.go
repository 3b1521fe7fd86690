package signing

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ruteri/wechatpay-backend/interfaces"
	"github.com/ruteri/wechatpay-backend/metrics"
)

// UserAgent is sent on every signed request.
const UserAgent = "wechatpay-backend"

// Handler is a round tripper that signs every request and verifies every
// successful response. Each attempt is signed afresh, so retries never
// reuse a nonce.
type Handler struct {
	next     http.RoundTripper
	signer   *Signer
	verifier *Verifier
	log      *slog.Logger
}

// NewHandler wraps next. A nil verifier disables response verification,
// which is only meant for the certificate download bootstrap.
func NewHandler(next http.RoundTripper, signer *Signer, verifier *Verifier, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{next: next, signer: signer, verifier: verifier, log: log}
}

func (h *Handler) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := readRequestBody(req)
	if err != nil {
		return nil, err
	}

	sc, err := h.signer.Sign(req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}

	signed := req.Clone(req.Context())
	signed.ContentLength = int64(len(body))
	if len(body) == 0 {
		signed.Body = http.NoBody
		signed.GetBody = nil
	} else {
		signed.Body = io.NopCloser(bytes.NewReader(body))
		signed.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	signed.Header.Set("Authorization", h.signer.Authorization(sc))
	if signed.Header.Get("Accept") == "" {
		signed.Header.Set("Accept", "application/json")
	}
	if len(body) > 0 && signed.Header.Get("Content-Type") == "" {
		signed.Header.Set("Content-Type", "application/json")
	}
	signed.Header.Set("User-Agent", UserAgent)
	metrics.SignedRequests.WithLabelValues(req.Method).Inc()

	resp, err := h.next.RoundTrip(signed)
	if err != nil {
		return nil, err
	}

	if h.verifier == nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, &interfaces.TransportError{Op: req.Method, URL: req.URL.Redacted(), Err: err}
	}

	if err := h.verifier.Verify(req.Context(), ResponseHeadersFrom(resp.Header), respBody); err != nil {
		h.log.Warn("gateway response rejected",
			"method", req.Method,
			"path", req.URL.Path,
			"status", resp.StatusCode,
			"serial", resp.Header.Get(HeaderSerial),
			"request_id", resp.Header.Get(HeaderRequestID),
			"err", err)
		return nil, err
	}

	resp.Body = io.NopCloser(bytes.NewReader(respBody))
	resp.ContentLength = int64(len(respBody))
	return resp, nil
}

func readRequestBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return body, nil
}

// IsVerificationFailure reports whether err is a failed response verification.
func IsVerificationFailure(err error) bool {
	return errors.Is(err, interfaces.ErrSignatureVerificationFailed)
}
