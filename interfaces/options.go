package interfaces

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Server certificate policies accepted by the transport.
const (
	// ServerCertificatePolicySystem verifies the gateway's chain against the system roots.
	ServerCertificatePolicySystem = "system"

	// ServerCertificatePolicyPinned accepts only leaf certificates whose SHA-256
	// fingerprint is listed in Options.ServerCertificateFingerprints.
	ServerCertificatePolicyPinned = "pinned"

	// ServerCertificatePolicyTrustAll accepts any server certificate.
	// It reproduces the gateway's historical integration requirement and
	// must be enabled explicitly.
	ServerCertificatePolicyTrustAll = "trust-all"
)

// Options is the effective WeChat Pay configuration for one logical client.
//
// Every field is optional when the value is used as a partial contribution
// to the resolve chain; MchID and Endpoint are mandatory after resolution.
// A resolved Options value must not be mutated.
type Options struct {
	MchID    string `mapstructure:"mch_id" validate:"required"`
	Endpoint string `mapstructure:"endpoint" validate:"required,url,startswith=http"`

	APIKey   string `mapstructure:"api_key"`
	APIV3Key string `mapstructure:"api_v3_key" validate:"omitempty,len=32"`

	CertificateBlobName          string `mapstructure:"certificate_blob_name"`
	CertificateBlobContainerName string `mapstructure:"certificate_blob_container_name"`
	CertificateSecret            string `mapstructure:"certificate_secret"`
	CertificateSerialNumber      string `mapstructure:"certificate_serial_number" validate:"omitempty,hexadecimal"`

	PlatformCertificateBlobNames []string `mapstructure:"platform_certificate_blob_names"`

	ServerCertificatePolicy       string   `mapstructure:"server_certificate_policy" validate:"omitempty,oneof=system pinned trust-all"`
	ServerCertificateFingerprints []string `mapstructure:"server_certificate_fingerprints" validate:"omitempty,dive,hexadecimal,len=64"`

	TLSMinVersion string `mapstructure:"tls_min_version" default:"1.0" validate:"omitempty,oneof=1.0 1.1 1.2 1.3"`
	TLSMaxVersion string `mapstructure:"tls_max_version" default:"1.2" validate:"omitempty,oneof=1.0 1.1 1.2 1.3"`

	NotifyURL       string `mapstructure:"notify_url" validate:"omitempty,url"`
	RefundNotifyURL string `mapstructure:"refund_notify_url" validate:"omitempty,url"`
}

// CertificateReference points at a merchant certificate bundle in blob storage.
type CertificateReference struct {
	BlobName      string
	ContainerName string // empty selects the default container
	Secret        string
}

// CertificateReference returns the merchant certificate reference, or nil
// when no certificate blob is configured.
func (o *Options) CertificateReference() *CertificateReference {
	if o == nil || o.CertificateBlobName == "" {
		return nil
	}
	return &CertificateReference{
		BlobName:      o.CertificateBlobName,
		ContainerName: o.CertificateBlobContainerName,
		Secret:        o.CertificateSecret,
	}
}

// Clone returns a deep copy of the options.
func (o *Options) Clone() *Options {
	if o == nil {
		return nil
	}
	c := *o
	c.PlatformCertificateBlobNames = append([]string(nil), o.PlatformCertificateBlobNames...)
	c.ServerCertificateFingerprints = append([]string(nil), o.ServerCertificateFingerprints...)
	return &c
}

// Fingerprint returns a stable identifier of every field. Stacks cached under
// it expose their options, so two configurations share a fingerprint only when
// they are identical. Secrets are hashed, never included in clear.
func (o *Options) Fingerprint() string {
	h := sha256.New()
	for _, field := range []string{
		o.MchID,
		o.Endpoint,
		o.APIKey,
		o.APIV3Key,
		o.CertificateBlobName,
		o.CertificateBlobContainerName,
		o.CertificateSecret,
		o.CertificateSerialNumber,
		strings.Join(o.PlatformCertificateBlobNames, ","),
		o.ServerCertificatePolicy,
		strings.ToLower(strings.Join(o.ServerCertificateFingerprints, ",")),
		o.TLSMinVersion,
		o.TLSMaxVersion,
		o.NotifyURL,
		o.RefundNotifyURL,
	} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

const redacted = "[REDACTED]"

func redact(v string) string {
	if v == "" {
		return ""
	}
	return redacted
}

// Redacted returns a copy safe for logs and diagnostics.
func (o *Options) Redacted() *Options {
	c := o.Clone()
	if c == nil {
		return nil
	}
	c.APIKey = redact(c.APIKey)
	c.APIV3Key = redact(c.APIV3Key)
	c.CertificateSecret = redact(c.CertificateSecret)
	return c
}

// OptionsContributor supplies a complete or partial Options value to the
// resolve chain. Returning (nil, nil) means no contribution.
type OptionsContributor interface {
	Name() string
	Contribute(ctx context.Context) (*Options, error)
}

// OptionsResolver produces the effective, validated options for the current call.
type OptionsResolver interface {
	Resolve(ctx context.Context) (*Options, error)
}

// StaticOptionsSource provides the persisted (statically configured) options.
type StaticOptionsSource interface {
	StaticOptions(ctx context.Context) (*Options, error)
}
