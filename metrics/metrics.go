// Package metrics exposes gateway client counters over a Prometheus endpoint.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SignedRequests counts outbound requests signed by the handler.
	SignedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wechatpay_signed_requests_total",
			Help: "Total number of gateway requests signed",
		},
		[]string{"method"},
	)

	// VerificationFailures counts responses rejected by signature verification.
	VerificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wechatpay_verification_failures_total",
			Help: "Total number of gateway responses failing signature verification",
		},
		[]string{"reason"},
	)

	// TransportBuilds counts transports constructed, by server certificate policy.
	TransportBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wechatpay_transport_builds_total",
			Help: "Total number of gateway transports built",
		},
		[]string{"policy", "client_certificate"},
	)

	// ResolveFailures counts failed option resolutions by error class.
	ResolveFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wechatpay_resolve_failures_total",
			Help: "Total number of failed options resolutions",
		},
		[]string{"error_type"},
	)

	// PlatformCertificateDownloads counts platform certificate downloads by status.
	PlatformCertificateDownloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wechatpay_platform_certificate_downloads_total",
			Help: "Total number of platform certificate downloads",
		},
		[]string{"status"},
	)
)

// MetricsServer serves the default Prometheus registry.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on listenAddr.
func New(listenAddr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:              listenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler returns the metrics HTTP handler.
func (s *MetricsServer) Handler() http.Handler {
	return s.srv.Handler
}
