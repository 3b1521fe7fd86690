package signing

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	AuthorizationScheme = "WECHATPAY2-SHA256-RSA2048"

	HeaderTimestamp = "Wechatpay-Timestamp"
	HeaderNonce     = "Wechatpay-Nonce"
	HeaderSignature = "Wechatpay-Signature"
	HeaderSerial    = "Wechatpay-Serial"
	HeaderRequestID = "Request-Id"
)

// SigningContext holds the values computed while signing one request.
type SigningContext struct {
	Method       string
	CanonicalURL string
	Timestamp    int64
	Nonce        string
	Body         []byte
	Message      string
	Signature    string
}

// CanonicalURL is the escaped path plus raw query, as signed by the gateway.
func CanonicalURL(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		return path + "?" + u.RawQuery
	}
	return path
}

// RequestMessage builds the string signed for a request.
func RequestMessage(method, canonicalURL string, timestamp int64, nonce string, body []byte) string {
	return fmt.Sprintf("%s\n%s\n%d\n%s\n%s\n", method, canonicalURL, timestamp, nonce, body)
}

// ResponseMessage builds the string signed by the gateway for a response.
func ResponseMessage(timestamp, nonce string, body []byte) string {
	return fmt.Sprintf("%s\n%s\n%s\n", timestamp, nonce, body)
}

// ParseAuthorization splits an Authorization header produced by Signer into
// its fields. It returns false when the scheme is not AuthorizationScheme.
func ParseAuthorization(header string) (map[string]string, bool) {
	rest, ok := strings.CutPrefix(header, AuthorizationScheme+" ")
	if !ok {
		return nil, false
	}
	fields := make(map[string]string)
	for _, part := range strings.Split(rest, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, false
		}
		fields[k] = strings.Trim(v, `"`)
	}
	return fields, true
}
