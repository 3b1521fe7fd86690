package options

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ruteri/wechatpay-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedContributor struct {
	name string
	opts *interfaces.Options
	err  error
}

func (c *fixedContributor) Name() string { return c.name }

func (c *fixedContributor) Contribute(context.Context) (*interfaces.Options, error) {
	return c.opts, c.err
}

func static(opts *interfaces.Options) interfaces.StaticOptionsSource {
	return StaticOptions{Options: opts}
}

func baseOptions() *interfaces.Options {
	return &interfaces.Options{MchID: "M1", Endpoint: "https://gw.example/"}
}

func TestConfigureDefaultContributors(t *testing.T) {
	a := &fixedContributor{name: "A"}
	b := &fixedContributor{name: "B"}
	existingCtx := NewContextContributor()
	existingCfg := NewConfigurationContributor(static(baseOptions()))

	tests := []struct {
		name     string
		initial  []interfaces.OptionsContributor
		expected []string
	}{
		{"empty", nil, []string{"Context", "Configuration"}},
		{"custom only", []interfaces.OptionsContributor{a, b}, []string{"Context", "A", "B", "Configuration"}},
		{"builtins reversed", []interfaces.OptionsContributor{existingCfg, a, existingCtx}, []string{"Context", "A", "Configuration"}},
		{"builtins in the middle", []interfaces.OptionsContributor{a, existingCtx, existingCfg, b}, []string{"Context", "A", "B", "Configuration"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list := NewContributors(tt.initial...)
			ConfigureDefaultContributors(list, static(baseOptions()))
			assert.Equal(t, tt.expected, list.Names())

			// idempotent
			ConfigureDefaultContributors(list, static(baseOptions()))
			assert.Equal(t, tt.expected, list.Names())

			assert.False(t, list.Add(NewContextContributor()))
			assert.False(t, list.Insert(0, NewConfigurationContributor(nil)))
			assert.Equal(t, tt.expected, list.Names())
		})
	}

	t.Run("keeps registered instances", func(t *testing.T) {
		list := NewContributors(existingCfg, existingCtx)
		ConfigureDefaultContributors(list, nil)
		resolver := NewResolver(list, nil)
		assert.Same(t, existingCtx, resolver.contributors[0])
		assert.Same(t, existingCfg, resolver.contributors[1])
	})
}

func TestContributorsInsert(t *testing.T) {
	list := NewContributors(&fixedContributor{name: "A"}, &fixedContributor{name: "C"})
	assert.True(t, list.Insert(1, &fixedContributor{name: "B"}))
	assert.True(t, list.Insert(10, &fixedContributor{name: "D"}))
	assert.True(t, list.Insert(-1, &fixedContributor{name: "Z"}))
	assert.False(t, list.Insert(0, &fixedContributor{name: "B"}))
	assert.Equal(t, []string{"Z", "A", "B", "C", "D"}, list.Names())
	assert.True(t, list.Exists("C"))
	assert.False(t, list.Exists("Q"))
}

func TestResolverSnapshot(t *testing.T) {
	list := NewContributors()
	ConfigureDefaultContributors(list, static(baseOptions()))
	resolver := NewResolver(list, nil)

	list.Insert(1, &fixedContributor{name: "Late", opts: &interfaces.Options{MchID: "late"}})

	opts, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "M1", opts.MchID)
	assert.Equal(t, []string{"Context", "Configuration"}, resolver.Names())
}

func TestFirstWriterWins(t *testing.T) {
	high := &fixedContributor{name: "High", opts: &interfaces.Options{CertificateBlobName: "high.p12"}}
	low := &fixedContributor{name: "Low", opts: &interfaces.Options{CertificateBlobName: "low.p12", CertificateSecret: "low-secret"}}

	list := NewContributors(high, low)
	ConfigureDefaultContributors(list, static(&interfaces.Options{
		MchID:               "M1",
		Endpoint:            "https://gw.example/",
		CertificateBlobName: "static.p12",
		CertificateSecret:   "static-secret",
		APIKey:              "static-key",
	}))

	opts, sources, err := NewResolver(list, nil).ResolveWithSources(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "high.p12", opts.CertificateBlobName)
	assert.Equal(t, "low-secret", opts.CertificateSecret)
	assert.Equal(t, "static-key", opts.APIKey)
	assert.Equal(t, "M1", opts.MchID)

	assert.Equal(t, "High", sources["certificate_blob_name"])
	assert.Equal(t, "Low", sources["certificate_secret"])
	assert.Equal(t, "Configuration", sources["api_key"])
}

func TestResolveDefaults(t *testing.T) {
	list := NewContributors()
	ConfigureDefaultContributors(list, static(baseOptions()))

	opts, err := NewResolver(list, nil).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.0", opts.TLSMinVersion)
	assert.Equal(t, "1.2", opts.TLSMaxVersion)
	assert.Equal(t, interfaces.ServerCertificatePolicySystem, opts.ServerCertificatePolicy)

	fp := "AB:" + "cd" + fmt.Sprintf("%060d", 0)
	withPins := baseOptions()
	withPins.ServerCertificateFingerprints = []string{fp}
	withPins.TLSMinVersion = "1"

	list = NewContributors()
	ConfigureDefaultContributors(list, static(withPins))
	opts, err = NewResolver(list, nil).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, interfaces.ServerCertificatePolicyPinned, opts.ServerCertificatePolicy)
	assert.Equal(t, "abcd"+fmt.Sprintf("%060d", 0), opts.ServerCertificateFingerprints[0])
	assert.Equal(t, "1.0", opts.TLSMinVersion)
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name     string
		opts     *interfaces.Options
		expected error
	}{
		{
			name: "missing merchant id",
			opts: &interfaces.Options{
				Endpoint:            "https://gw.example/",
				APIKey:              "key",
				CertificateBlobName: "cert.p12",
				CertificateSecret:   "secret",
			},
			expected: interfaces.ErrConfigurationIncomplete,
		},
		{
			name:     "missing endpoint",
			opts:     &interfaces.Options{MchID: "M1"},
			expected: interfaces.ErrConfigurationIncomplete,
		},
		{
			name:     "nothing at all",
			opts:     nil,
			expected: interfaces.ErrConfigurationIncomplete,
		},
		{
			name:     "relative endpoint",
			opts:     &interfaces.Options{MchID: "M1", Endpoint: "gw.example"},
			expected: interfaces.ErrConfigurationInvalid,
		},
		{
			name:     "unknown policy",
			opts:     &interfaces.Options{MchID: "M1", Endpoint: "https://gw.example/", ServerCertificatePolicy: "yolo"},
			expected: interfaces.ErrConfigurationInvalid,
		},
		{
			name:     "pinned without fingerprints",
			opts:     &interfaces.Options{MchID: "M1", Endpoint: "https://gw.example/", ServerCertificatePolicy: "pinned"},
			expected: interfaces.ErrConfigurationInvalid,
		},
		{
			name:     "bad tls version",
			opts:     &interfaces.Options{MchID: "M1", Endpoint: "https://gw.example/", TLSMaxVersion: "0.9"},
			expected: interfaces.ErrConfigurationInvalid,
		},
		{
			name:     "inverted tls range",
			opts:     &interfaces.Options{MchID: "M1", Endpoint: "https://gw.example/", TLSMinVersion: "1.2", TLSMaxVersion: "1.1"},
			expected: interfaces.ErrConfigurationInvalid,
		},
		{
			name:     "short api v3 key",
			opts:     &interfaces.Options{MchID: "M1", Endpoint: "https://gw.example/", APIV3Key: "short"},
			expected: interfaces.ErrConfigurationInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list := NewContributors()
			ConfigureDefaultContributors(list, static(tt.opts))
			_, err := NewResolver(list, nil).Resolve(context.Background())
			assert.ErrorIs(t, err, tt.expected)
		})
	}

	t.Run("contributor failure aborts", func(t *testing.T) {
		boom := errors.New("boom")
		list := NewContributors(&fixedContributor{name: "Remote", err: boom})
		ConfigureDefaultContributors(list, static(baseOptions()))
		_, err := NewResolver(list, nil).Resolve(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "Remote")
	})
}

func TestContextOverride(t *testing.T) {
	list := NewContributors()
	ConfigureDefaultContributors(list, static(&interfaces.Options{
		MchID:               "M1",
		Endpoint:            "https://gw.example/",
		CertificateBlobName: "static.p12",
	}))
	resolver := NewResolver(list, nil)

	override := &interfaces.Options{MchID: "M2"}
	ctx := WithOverride(context.Background(), override)
	override.MchID = "mutated"

	opts, err := resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "M2", opts.MchID)
	assert.Equal(t, "static.p12", opts.CertificateBlobName)

	opts, err = resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "M1", opts.MchID)
}

func TestConcurrentOverridesIsolated(t *testing.T) {
	list := NewContributors()
	ConfigureDefaultContributors(list, static(baseOptions()))
	resolver := NewResolver(list, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for i := 0; i < 100; i++ {
		for _, blob := range []string{"tenant-a.p12", "tenant-b.p12"} {
			wg.Add(1)
			go func(blob string) {
				defer wg.Done()
				ctx := WithOverride(context.Background(), &interfaces.Options{CertificateBlobName: blob})
				opts, err := resolver.Resolve(ctx)
				if err != nil {
					errs <- err
					return
				}
				if opts.CertificateBlobName != blob {
					errs <- fmt.Errorf("expected %s, got %s", blob, opts.CertificateBlobName)
				}
			}(blob)
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestTenantOverrides(t *testing.T) {
	tenants := TenantOverrides{
		"shop-a": {MchID: "A", CertificateBlobName: "a.p12"},
	}

	list := NewContributors()
	ConfigureDefaultContributors(list, static(baseOptions()))
	resolver := NewResolver(list, nil)

	ctx, err := tenants.WithTenant(context.Background(), "shop-a")
	require.NoError(t, err)
	opts, err := resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", opts.MchID)
	assert.Equal(t, "a.p12", opts.CertificateBlobName)
	assert.Equal(t, "https://gw.example/", opts.Endpoint)

	_, err = tenants.WithTenant(context.Background(), "shop-b")
	assert.ErrorIs(t, err, ErrUnknownTenant)

	ctx, err = tenants.WithTenant(context.Background(), "")
	require.NoError(t, err)
	opts, err = resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "M1", opts.MchID)

	assert.Equal(t, []string{"shop-a"}, tenants.IDs())
}
