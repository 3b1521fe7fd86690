package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/ruteri/wechatpay-backend/interfaces"
)

type RetryConfig struct {
	// RetryMax is the number of retries after the first attempt. Zero disables retries.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// CheckRetry retries transport failures only. Responses, signature
// verification failures and certificate errors are never retried.
func CheckRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil {
		return false, nil
	}
	switch {
	case errors.Is(err, interfaces.ErrSignatureVerificationFailed),
		errors.Is(err, interfaces.ErrCertificateNotFound),
		errors.Is(err, interfaces.ErrCertificateInvalid),
		errors.Is(err, interfaces.ErrConfigurationIncomplete),
		errors.Is(err, interfaces.ErrConfigurationInvalid):
		return false, nil
	case errors.Is(err, interfaces.ErrTransport):
		return true, nil
	}
	return false, nil
}

// NewRetryingRoundTripper retries next on transport failures with backoff.
// Every attempt goes through next again, so signed requests get a fresh
// nonce and timestamp per attempt.
func NewRetryingRoundTripper(next http.RoundTripper, cfg RetryConfig, log *slog.Logger) http.RoundTripper {
	if cfg.RetryMax <= 0 {
		return next
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: next}
	rc.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	rc.CheckRetry = CheckRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	if log != nil {
		rc.Logger = log
	}

	return &retryablehttp.RoundTripper{Client: rc}
}
