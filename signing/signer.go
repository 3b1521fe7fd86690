package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/wechatpay-backend/cryptoutils"
)

var ErrUnsupportedKey = errors.New("merchant key must be RSA")

// NewNonce returns 32 hex characters from a random UUID.
func NewNonce() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

// Signer signs requests on behalf of a merchant.
type Signer struct {
	mchID  string
	serial string
	key    crypto.Signer

	now   func() time.Time
	nonce func() (string, error)
}

// NewSigner creates a signer from the merchant's certificate material.
// The serial number defaults to the certificate's.
func NewSigner(mchID, serial string, material *cryptoutils.CertificateMaterial) (*Signer, error) {
	if material == nil {
		return nil, errors.New("no merchant certificate material")
	}
	if _, ok := material.PrivateKey.Public().(*rsa.PublicKey); !ok {
		return nil, ErrUnsupportedKey
	}
	if serial == "" {
		serial = material.SerialNumber
	}
	return &Signer{
		mchID:  mchID,
		serial: serial,
		key:    material.PrivateKey,
		now:    time.Now,
		nonce:  NewNonce,
	}, nil
}

// MchID returns the merchant identifier the signer signs for.
func (s *Signer) MchID() string { return s.mchID }

// SerialNumber returns the merchant certificate serial sent as serial_no.
func (s *Signer) SerialNumber() string { return s.serial }

// SignMessage signs message with SHA256-with-RSA and returns it base64 encoded.
func (s *Signer) SignMessage(message []byte) (string, error) {
	digest := sha256.Sum256(message)
	sig, err := s.key.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Sign builds and signs the canonical message of a request.
func (s *Signer) Sign(method string, u *url.URL, body []byte) (*SigningContext, error) {
	nonce, err := s.nonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sc := &SigningContext{
		Method:       method,
		CanonicalURL: CanonicalURL(u),
		Timestamp:    s.now().Unix(),
		Nonce:        nonce,
		Body:         body,
	}
	sc.Message = RequestMessage(sc.Method, sc.CanonicalURL, sc.Timestamp, sc.Nonce, sc.Body)

	sc.Signature, err = s.SignMessage([]byte(sc.Message))
	if err != nil {
		return nil, err
	}
	return sc, nil
}

// Authorization renders the Authorization header value for a signed request.
func (s *Signer) Authorization(sc *SigningContext) string {
	return fmt.Sprintf(`%s mchid="%s",nonce_str="%s",signature="%s",timestamp="%d",serial_no="%s"`,
		AuthorizationScheme, s.mchID, sc.Nonce, sc.Signature, sc.Timestamp, s.serial)
}
