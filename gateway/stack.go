package gateway

import (
	"net/http"
	"sync"

	"github.com/ruteri/wechatpay-backend/interfaces"
	"github.com/ruteri/wechatpay-backend/signing"
	"github.com/ruteri/wechatpay-backend/transport"
)

// Stack is the immutable round tripper chain built for one configuration:
// retry, then signing and verification, then the mutual TLS transport.
type Stack struct {
	options    *interfaces.Options
	transport  *transport.Transport
	signer     *signing.Signer
	downloader *signing.Downloader
	static     *signing.StaticSource
	rt         http.RoundTripper
	closeOnce  sync.Once
}

func (s *Stack) RoundTrip(req *http.Request) (*http.Response, error) {
	return s.rt.RoundTrip(req)
}

// Options returns the configuration the stack was built from.
func (s *Stack) Options() *interfaces.Options { return s.options }

// Transport returns the underlying mutual TLS transport.
func (s *Stack) Transport() *transport.Transport { return s.transport }

// Signed reports whether requests are signed and responses verified.
func (s *Stack) Signed() bool { return s.signer != nil }

// Downloader returns the platform certificate downloader, or nil.
func (s *Stack) Downloader() *signing.Downloader { return s.downloader }

// Describe summarizes the stack for diagnostics.
func (s *Stack) Describe() map[string]interface{} {
	d := s.transport.Describe()
	d["signed"] = s.Signed()
	if s.signer != nil {
		d["serial_no"] = s.signer.SerialNumber()
	}
	if s.static != nil {
		d["static_platform_certificates"] = s.static.Serials()
	}
	if s.downloader != nil {
		d["downloaded_platform_certificates"] = s.downloader.Serials()
	}
	return d
}

func (s *Stack) close() {
	s.closeOnce.Do(func() {
		if s.downloader != nil {
			s.downloader.Close()
		}
	})
}
