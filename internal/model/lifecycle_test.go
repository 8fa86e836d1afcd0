package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmp/internal/domain"
	"pmp/internal/privacysetting"
)

func TestRegisterApp(t *testing.T) {
	f := newFixture(t)
	f.install(locationRG)

	tracker := f.register(trackerApp)
	assert.Equal(t, "Tracker", tracker.Name())
	require.Len(t, tracker.ServiceFeatures(), 3)
	assert.True(t, tracker.ServiceFeature("map").IsAvailable())
	assert.False(t, tracker.ServiceFeature("share").IsAvailable(), "contacts is not installed")

	stored, err := f.store.Apps(f.ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, trackerApp, stored[0].Package)
}

func TestRegisterAppFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *fixture)
		pkg    string
		reason string
	}{
		{
			name:   "newer resource group revision",
			setup:  func(f *fixture) { f.apps.descriptors[trackerApp] = trackerDescriptor(5) },
			pkg:    trackerApp,
			reason: "Requesting newer ResourceGroups not supported: 'org.pmp.location' revision 3 is installed, 5 requested.",
		},
		{
			name:   "service unreachable",
			setup:  func(f *fixture) { f.offline[trackerApp] = true },
			pkg:    trackerApp,
			reason: "Service not available.",
		},
		{
			name: "invalid descriptor",
			setup: func(f *fixture) {
				d := trackerDescriptor(3)
				d.Name = ""
				f.apps.descriptors[trackerApp] = d
			},
			pkg:    trackerApp,
			reason: "required",
		},
		{
			name: "descriptor for another package",
			setup: func(f *fixture) {
				d := chatDescriptor()
				f.apps.descriptors["com.example.alias"] = d
			},
			pkg:    "com.example.alias",
			reason: "App package (parameter, descriptor) mismatch: 'com.example.alias' != 'com.example.chat'",
		},
		{
			name:   "no descriptor",
			setup:  func(*fixture) {},
			pkg:    "com.example.unknown",
			reason: "not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.install(locationRG)
			tt.setup(f)

			res, err := f.m.RegisterApp(f.ctx, tt.pkg)
			require.NoError(t, err)
			assert.False(t, res.Succeeded)
			assert.Contains(t, res.Reason, tt.reason)
			assert.Nil(t, f.m.App(tt.pkg))
			assert.Empty(t, f.m.Apps())

			stored, err := f.store.Apps(f.ctx)
			require.NoError(t, err)
			assert.Empty(t, stored)
		})
	}
}

func TestRegisterAppTwiceIsMisuse(t *testing.T) {
	f := newFixture(t)
	f.register(chatApp)

	_, err := f.m.RegisterApp(f.ctx, chatApp)
	assert.ErrorIs(t, err, domain.ErrMisuse)
}

func TestAppRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.install(locationRG)
	tracker := f.register(trackerApp)
	p := f.preset("Daily", tracker)
	f.grant(p, locationRG, "loc-precision", "city")

	ok, err := f.m.UnregisterApp(f.ctx, trackerApp)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, p.IsAvailable())
	assert.Equal(t, []MissingApp{{Package: trackerApp}}, p.MissingApps())
	assert.Empty(t, p.AssignedApps())

	ok, err = f.m.UnregisterApp(f.ctx, trackerApp)
	require.NoError(t, err)
	assert.False(t, ok)

	f.notifier.reset()
	again := f.register(trackerApp)
	assert.True(t, p.IsAvailable())
	assert.Empty(t, p.MissingApps())
	assert.Equal(t, []*App{again}, p.AssignedApps())
	assert.Equal(t, map[string]bool{"map": true, "nav": false, "share": false}, f.notifier.last(trackerApp))
}

func TestInstallResourceGroup(t *testing.T) {
	f := newFixture(t)
	tracker := f.register(trackerApp)
	assert.False(t, tracker.ServiceFeature("map").IsAvailable())
	f.notifier.reset()

	require.NoError(t, f.m.InstallResourceGroup(f.ctx, contactsRG, false))
	assert.Equal(t, []string{contactsRG}, f.plugins.downloaded)
	assert.True(t, tracker.ServiceFeature("share").IsAvailable())
	assert.Equal(t, map[string]bool{"map": false, "nav": false, "share": false}, f.notifier.last(trackerApp),
		"apps with newly available features are verified")

	rg := f.m.ResourceGroup(contactsRG)
	require.NotNil(t, rg)
	assert.Equal(t, int64(1), rg.Revision())
	require.NotNil(t, rg.PrivacySetting("read"))
	assert.True(t, rg.PrivacySetting("read").IsRequestable())

	err := f.m.InstallResourceGroup(f.ctx, contactsRG, true)
	assert.ErrorIs(t, err, domain.ErrMisuse)
}

func TestInstallResourceGroupRejectsInvalidBundles(t *testing.T) {
	tests := []struct {
		name   string
		bundle func() (string, func(f *fixture))
		reason string
		target error
	}{
		{
			name: "missing binder",
			bundle: func() (string, func(f *fixture)) {
				b := contactsBundle()
				b.Manifest.Implementation.Resources[0].Cloaked = nil
				return contactsRG, func(f *fixture) { f.plugins.bundles[contactsRG] = b }
			},
			reason: "Resource 'main' does not provide all IBinders.",
			target: domain.ErrInvalidPlugin,
		},
		{
			name: "declares Mode",
			bundle: func() (string, func(f *fixture)) {
				b := bundleOf("org.pmp.moded", 1, map[string]domain.PrivacySettingSpec{
					domain.ModePrivacySetting: privacysetting.Mode().Spec(),
				})
				return "org.pmp.moded", func(f *fixture) { f.plugins.bundles["org.pmp.moded"] = b }
			},
			reason: "XML must not contain Privacy Setting 'Mode'.",
			target: domain.ErrInvalidDescriptor,
		},
		{
			name: "revision differs from implementation",
			bundle: func() (string, func(f *fixture)) {
				b := contactsBundle()
				b.Manifest.Implementation.Revision = 2
				return contactsRG, func(f *fixture) { f.plugins.bundles[contactsRG] = b }
			},
			reason: "ResourceGroup revision (XML, object) mismatch: '1' != '2'",
			target: domain.ErrInvalidDescriptor,
		},
		{
			name: "unknown privacy setting kind",
			bundle: func() (string, func(f *fixture)) {
				b := bundleOf("org.pmp.odd", 1, map[string]domain.PrivacySettingSpec{"x": {Kind: "colour"}})
				return "org.pmp.odd", func(f *fixture) { f.plugins.bundles["org.pmp.odd"] = b }
			},
			reason: "unknown privacy setting kind",
			target: domain.ErrInvalidPlugin,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			pkg, setup := tt.bundle()
			setup(f)

			err := f.m.InstallResourceGroup(f.ctx, pkg, true)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.Contains(t, domain.Reason(err), tt.reason)
			assert.Nil(t, f.m.ResourceGroup(pkg))
			assert.False(t, f.plugins.installed[pkg], "rejected bundle stays uninstalled")
			assert.Contains(t, f.plugins.uninstalled, pkg)

			stored, err := f.store.ResourceGroups(f.ctx)
			require.NoError(t, err)
			assert.Empty(t, stored)
		})
	}
}

func TestReinstallIsBlocked(t *testing.T) {
	f := newFixture(t)
	f.install(contactsRG)

	ok, err := f.m.UninstallResourceGroup(f.ctx, contactsRG)
	require.NoError(t, err)
	assert.True(t, ok)

	err = f.m.InstallResourceGroup(f.ctx, contactsRG, true)
	assert.ErrorIs(t, err, domain.ErrReinstallBlocked)
	assert.Equal(t, domain.CodeReinstallBlocked, domain.ErrorCodeOf(err))

	ok, err = f.m.UninstallResourceGroup(f.ctx, contactsRG)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResourceGroupRoundTrip(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SavePreset(f.ctx, domain.PresetRecord{
		Identifier: "Stored",
		Name:       "Stored",
		Grants: []domain.GrantRecord{
			{ResourceGroup: locationRG, PrivacySetting: "loc-precision", Value: "city"},
		},
	}))
	f.m = f.newModel()
	p := f.m.Preset("", "Stored")
	require.NotNil(t, p)
	before := p.MissingPrivacySettings()
	require.Equal(t, []MissingPrivacySettingValue{{ResourceGroup: locationRG, PrivacySetting: "loc-precision", Value: "city"}}, before)
	assert.False(t, p.IsAvailable())

	f.install(locationRG)
	assert.True(t, p.IsAvailable())
	assert.Empty(t, p.MissingPrivacySettings())
	v, ok := p.GrantedValue(f.setting(locationRG, "loc-precision"))
	assert.True(t, ok)
	assert.Equal(t, "city", v)

	_, err := f.m.UninstallResourceGroup(f.ctx, locationRG)
	require.NoError(t, err)
	assert.False(t, p.IsAvailable())
	assert.Equal(t, before, p.MissingPrivacySettings())
	assert.Empty(t, p.GrantedPrivacySettings())
}

func TestUninstallRollsOutNewlyUnavailablePresets(t *testing.T) {
	f := newFixture(t)
	f.install(locationRG)
	f.install(contactsRG)
	tracker := f.register(trackerApp)
	p := f.preset("Friends", tracker)
	f.grant(p, contactsRG, "read", "true")
	assert.True(t, f.notifier.last(trackerApp)["share"])
	f.notifier.reset()

	_, err := f.m.UninstallResourceGroup(f.ctx, contactsRG)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"map": false, "nav": false, "share": false}, f.notifier.last(trackerApp))
	assert.Len(t, f.notifier.delivered, 1, "one delivery after the cascade")
	assert.Contains(t, f.plugins.uninstalled, contactsRG)
}

func TestAddPreset(t *testing.T) {
	f := newFixture(t)
	f.register(chatApp)

	p, err := f.m.AddPreset(f.ctx, chatApp, "strict", "Strict", "bundled")
	require.NoError(t, err)
	assert.True(t, p.IsBundled())
	assert.Equal(t, []*Preset{p}, f.m.PresetsBy(chatApp))

	_, err = f.m.AddPreset(f.ctx, chatApp, "strict", "Again", "")
	assert.ErrorIs(t, err, domain.ErrDuplicate)
	assert.Equal(t, domain.CodePresetDuplicate, domain.ErrorCodeOf(err))

	_, err = f.m.AddPreset(f.ctx, "com.example.nobody", "x", "X", "")
	assert.ErrorIs(t, err, domain.ErrMisuse)
	_, err = f.m.AddPreset(f.ctx, "", "", "X", "")
	assert.ErrorIs(t, err, domain.ErrMisuse)
}

func TestAddUserPresetProbesIdentifiers(t *testing.T) {
	f := newFixture(t)
	var ids []string
	for range 3 {
		p, err := f.m.AddUserPreset(f.ctx, "Work", "desc")
		require.NoError(t, err)
		assert.Equal(t, "Work", p.Name())
		ids = append(ids, p.Identifier())
	}
	assert.Equal(t, []string{"Work", "Work2", "Work3"}, ids)

	stored, err := f.store.PresetIdentifiers(f.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Work", "Work2", "Work3"}, stored)
}

func TestRemovePreset(t *testing.T) {
	f := newFixture(t)
	f.install(locationRG)
	tracker := f.register(trackerApp)
	p := f.preset("Daily", tracker)
	f.grant(p, locationRG, "loc-precision", "city")
	_, err := p.AssignContextAnnotation(f.ctx, f.setting(locationRG, "loc-precision"), timeCtx, "night", "exact")
	require.NoError(t, err)
	f.notifier.reset()

	ok, err := f.m.RemovePreset(f.ctx, "", "Daily")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, f.m.Preset("", "Daily"))
	assert.Empty(t, tracker.AssignedPresets())
	assert.Equal(t, map[string]bool{"map": false, "nav": false, "share": false}, f.notifier.last(trackerApp))

	annotations, err := f.store.ContextAnnotations(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, annotations)

	ok, err = f.m.RemovePreset(f.ctx, "", "Daily")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCascadeReleasesBatchOnPanic(t *testing.T) {
	f := newFixture(t)
	f.install(locationRG)
	tracker := f.register(trackerApp)
	p := f.preset("Daily", tracker)
	_, err := f.m.UnregisterApp(f.ctx, trackerApp)
	require.NoError(t, err)
	require.False(t, p.IsAvailable())

	// the preset vanishes behind the cache's back
	require.NoError(t, f.store.DeletePreset(f.ctx, p.Key()))

	recovered := func() (r any) {
		defer func() { r = recover() }()
		_, _ = f.m.RegisterApp(f.ctx, trackerApp)
		return nil
	}()
	err, ok := recovered.(error)
	require.True(t, ok, "expected an integrity panic, got %v", recovered)
	assert.ErrorIs(t, err, domain.ErrIntegrity)
	assert.Equal(t, 0, f.notifier.depth, "batch released")
}
