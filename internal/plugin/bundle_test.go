package plugin

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmp/internal/domain"
)

const locationManifest = `
identifier: org.pmp.location
name: Location
revision: 3
privacy_settings:
  - identifier: precision
    name: Precision
permissions:
  - location
implementation:
  identifier: org.pmp.location
  revision: 3
  privacy_settings:
    - identifier: precision
      spec:
        kind: integer
        worst: 0
        best: 100
  resources:
    - identifier: gps
      normal:
        interface: org.pmp.location.IGps
        implementation: org.pmp.location.GpsImpl
      mocked:
        interface: org.pmp.location.IGps
        implementation: org.pmp.location.GpsMock
      cloaked:
        interface: org.pmp.location.IGps
        implementation: org.pmp.location.GpsCloak
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadBundle(t *testing.T, manifest string) *Bundle {
	t.Helper()
	m, err := ParseManifest([]byte(manifest))
	require.NoError(t, err)
	return &Bundle{Package: m.Identifier, Manifest: m}
}

func writeBundle(t *testing.T, dir, pkg, manifest string) string {
	t.Helper()
	bundleDir := filepath.Join(dir, pkg)
	require.NoError(t, os.MkdirAll(bundleDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bundleDir, ManifestFile), []byte(manifest), 0o644))
	return bundleDir
}

func TestParseManifest(t *testing.T) {
	b := loadBundle(t, locationManifest)
	assert.Equal(t, "org.pmp.location", b.Manifest.Identifier)
	assert.Equal(t, int64(3), b.Manifest.Revision)
	assert.Equal(t, []string{"location"}, b.Manifest.Permissions)

	s, ok := b.Manifest.Implementation.Setting("precision")
	require.True(t, ok)
	assert.Equal(t, domain.PrivacySettingSpec{Kind: "integer", Worst: 0, Best: 100}, s.Spec)
	_, ok = b.Manifest.Implementation.Setting("missing")
	assert.False(t, ok)
}

func TestVerify(t *testing.T) {
	require.NoError(t, Verify("org.pmp.location", loadBundle(t, locationManifest)))
}

func TestVerifyFailures(t *testing.T) {
	tests := []struct {
		name    string
		pkg     string
		edit    func(*Bundle)
		wantErr error
		reason  string
	}{
		{
			name:    "package differs from descriptor",
			pkg:     "org.pmp.other",
			wantErr: domain.ErrInvalidDescriptor,
			reason:  "ResourceGroup package (parameter, XML) mismatch: 'org.pmp.other' != 'org.pmp.location'",
		},
		{
			name:    "implementation identifier differs",
			pkg:     "org.pmp.location",
			edit:    func(b *Bundle) { b.Manifest.Implementation.Identifier = "org.pmp.x" },
			wantErr: domain.ErrInvalidDescriptor,
			reason:  "ResourceGroup package (XML, object) mismatch: 'org.pmp.location' != 'org.pmp.x'",
		},
		{
			name:    "revision differs",
			pkg:     "org.pmp.location",
			edit:    func(b *Bundle) { b.Manifest.Implementation.Revision = 4 },
			wantErr: domain.ErrInvalidDescriptor,
			reason:  "ResourceGroup revision (XML, object) mismatch: '3' != '4'",
		},
		{
			name: "declares Mode",
			pkg:  "org.pmp.location",
			edit: func(b *Bundle) {
				b.Manifest.PrivacySettings = append(b.Manifest.PrivacySettings,
					domain.PrivacySettingDescriptor{Identifier: domain.ModePrivacySetting, Name: "Mode"})
			},
			wantErr: domain.ErrInvalidDescriptor,
			reason:  "XML must not contain Privacy Setting 'Mode'.",
		},
		{
			name: "setting not implemented",
			pkg:  "org.pmp.location",
			edit: func(b *Bundle) {
				b.Manifest.PrivacySettings = append(b.Manifest.PrivacySettings,
					domain.PrivacySettingDescriptor{Identifier: "altitude", Name: "Altitude"})
			},
			wantErr: domain.ErrInvalidDescriptor,
			reason:  "altitude defined in the XML, but not found",
		},
		{
			name:    "invalid descriptor",
			pkg:     "org.pmp.location",
			edit:    func(b *Bundle) { b.Manifest.Name = "" },
			wantErr: domain.ErrInvalidDescriptor,
			reason:  "name: is required",
		},
		{
			name:    "missing binder",
			pkg:     "org.pmp.location",
			edit:    func(b *Bundle) { b.Manifest.Implementation.Resources[0].Cloaked = nil },
			wantErr: domain.ErrInvalidPlugin,
			reason:  "Resource 'gps' does not provide all IBinders.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := loadBundle(t, locationManifest)
			if tt.edit != nil {
				tt.edit(b)
			}
			err := Verify(tt.pkg, b)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestValidateBinders(t *testing.T) {
	tests := []struct {
		name   string
		edit   func(r *Resource)
		reason string
	}{
		{"anonymous", func(r *Resource) { r.Mocked.Anonymous = true },
			"Resource 'gps' does provide illegal anonymous IBinders."},
		{"same class normal and mocked", func(r *Resource) { r.Mocked.Implementation = r.Normal.Implementation },
			"Resource 'gps' may not provide normal and mocked IBinders which are subtypes of each other."},
		{"cloaked extends normal", func(r *Resource) { r.Cloaked.Extends = []string{r.Normal.Implementation} },
			"Resource 'gps' may not provide normal and cloaked IBinders which are subtypes of each other."},
		{"cloaked extended by mocked", func(r *Resource) { r.Mocked.Extends = []string{r.Cloaked.Implementation} },
			"Resource 'gps' may not provide mocked and cloaked IBinders which are subtypes of each other."},
		{"different interface", func(r *Resource) { r.Cloaked.Interface = "org.pmp.location.IOther" },
			"Resource 'gps' may not provide normal and cloaked IBinders which do implement a different interface."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := loadBundle(t, locationManifest)
			tt.edit(&b.Manifest.Implementation.Resources[0])
			err := ValidateBinders(b)
			require.ErrorIs(t, err, domain.ErrInvalidPlugin)
			assert.True(t, strings.HasSuffix(err.Error(), tt.reason), err.Error())
		})
	}
}

func TestValidateBindersReportsFirstResource(t *testing.T) {
	b := loadBundle(t, locationManifest)
	res := b.Manifest.Implementation.Resources
	bad := res[0]
	bad.Identifier = "network"
	bad.Normal = nil
	b.Manifest.Implementation.Resources = append(res, bad, Resource{Identifier: "wifi"})

	err := ValidateBinders(b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Resource 'network'")
}
