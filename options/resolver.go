package options

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/ruteri/wechatpay-backend/cryptoutils"
	"github.com/ruteri/wechatpay-backend/interfaces"
	"github.com/ruteri/wechatpay-backend/metrics"
)

// Resolver resolves options over an immutable contributor snapshot.
// It is safe for concurrent use.
type Resolver struct {
	contributors []interfaces.OptionsContributor
	validate     *validator.Validate
	log          *slog.Logger
}

// NewResolver snapshots the contributor list. Later changes to list are not
// observed by the resolver.
func NewResolver(list *Contributors, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		contributors: append([]interfaces.OptionsContributor(nil), list.list...),
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		log:          log,
	}
}

// Names returns the contributor names in resolution order.
func (r *Resolver) Names() []string {
	names := make([]string, len(r.contributors))
	for i, c := range r.contributors {
		names[i] = c.Name()
	}
	return names
}

// Resolve merges contributions first-writer-wins per field, applies defaults
// and validates the result.
func (r *Resolver) Resolve(ctx context.Context) (*interfaces.Options, error) {
	opts, _, err := r.ResolveWithSources(ctx)
	return opts, err
}

// ResolveWithSources is Resolve that also reports which contributor supplied
// each field. Fields filled by defaults are not listed.
func (r *Resolver) ResolveWithSources(ctx context.Context) (*interfaces.Options, map[string]string, error) {
	merged := &interfaces.Options{}
	sources := make(map[string]string)

	for _, contributor := range r.contributors {
		contribution, err := contributor.Contribute(ctx)
		if err != nil {
			metrics.ResolveFailures.WithLabelValues("contributor").Inc()
			return nil, nil, fmt.Errorf("contributor %s: %w", contributor.Name(), err)
		}
		if contribution == nil {
			continue
		}
		for _, field := range mergeInto(merged, contribution) {
			sources[field] = contributor.Name()
		}
	}

	if err := r.finalize(merged); err != nil {
		if errors.Is(err, interfaces.ErrConfigurationIncomplete) {
			metrics.ResolveFailures.WithLabelValues("incomplete").Inc()
		} else {
			metrics.ResolveFailures.WithLabelValues("invalid").Inc()
		}
		return nil, nil, err
	}

	r.log.Debug("resolved options", "mch_id", merged.MchID, "endpoint", merged.Endpoint, "sources", sources)
	return merged, sources, nil
}

func (r *Resolver) finalize(opts *interfaces.Options) error {
	opts.TLSMinVersion = normalizeTLSVersion(opts.TLSMinVersion)
	opts.TLSMaxVersion = normalizeTLSVersion(opts.TLSMaxVersion)
	for i, fp := range opts.ServerCertificateFingerprints {
		opts.ServerCertificateFingerprints[i] = cryptoutils.NormalizeFingerprint(fp)
	}
	opts.CertificateSerialNumber = strings.ToUpper(opts.CertificateSerialNumber)

	if err := defaults.Set(opts); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrConfigurationInvalid, err)
	}
	if opts.ServerCertificatePolicy == "" {
		if len(opts.ServerCertificateFingerprints) > 0 {
			opts.ServerCertificatePolicy = interfaces.ServerCertificatePolicyPinned
		} else {
			opts.ServerCertificatePolicy = interfaces.ServerCertificatePolicySystem
		}
	}

	if err := r.validate.Struct(opts); err != nil {
		return validationError(err)
	}

	if opts.TLSMinVersion > opts.TLSMaxVersion {
		return fmt.Errorf("%w: tls_min_version %s above tls_max_version %s", interfaces.ErrConfigurationInvalid, opts.TLSMinVersion, opts.TLSMaxVersion)
	}
	if opts.ServerCertificatePolicy == interfaces.ServerCertificatePolicyPinned && len(opts.ServerCertificateFingerprints) == 0 {
		return fmt.Errorf("%w: pinned server certificate policy without fingerprints", interfaces.ErrConfigurationInvalid)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", interfaces.ErrConfigurationInvalid, err)
	}

	var missing, invalid []string
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
		} else {
			invalid = append(invalid, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", interfaces.ErrConfigurationIncomplete, strings.Join(missing, ", "))
	}
	return fmt.Errorf("%w: %s", interfaces.ErrConfigurationInvalid, strings.Join(invalid, ", "))
}

// YAML decodes an unquoted 1.0 as the number 1.
func normalizeTLSVersion(v string) string {
	if v != "" && !strings.Contains(v, ".") {
		return v + ".0"
	}
	return v
}

// mergeInto copies fields of src that are still empty in dst and returns
// the names of the fields it filled.
func mergeInto(dst, src *interfaces.Options) []string {
	var filled []string
	str := func(name string, d *string, s string) {
		if *d == "" && s != "" {
			*d = s
			filled = append(filled, name)
		}
	}
	list := func(name string, d *[]string, s []string) {
		if len(*d) == 0 && len(s) > 0 {
			*d = append([]string(nil), s...)
			filled = append(filled, name)
		}
	}

	str("mch_id", &dst.MchID, src.MchID)
	str("endpoint", &dst.Endpoint, src.Endpoint)
	str("api_key", &dst.APIKey, src.APIKey)
	str("api_v3_key", &dst.APIV3Key, src.APIV3Key)
	str("certificate_blob_name", &dst.CertificateBlobName, src.CertificateBlobName)
	str("certificate_blob_container_name", &dst.CertificateBlobContainerName, src.CertificateBlobContainerName)
	str("certificate_secret", &dst.CertificateSecret, src.CertificateSecret)
	str("certificate_serial_number", &dst.CertificateSerialNumber, src.CertificateSerialNumber)
	list("platform_certificate_blob_names", &dst.PlatformCertificateBlobNames, src.PlatformCertificateBlobNames)
	str("server_certificate_policy", &dst.ServerCertificatePolicy, src.ServerCertificatePolicy)
	list("server_certificate_fingerprints", &dst.ServerCertificateFingerprints, src.ServerCertificateFingerprints)
	str("tls_min_version", &dst.TLSMinVersion, src.TLSMinVersion)
	str("tls_max_version", &dst.TLSMaxVersion, src.TLSMaxVersion)
	str("notify_url", &dst.NotifyURL, src.NotifyURL)
	str("refund_notify_url", &dst.RefundNotifyURL, src.RefundNotifyURL)

	return filled
}
