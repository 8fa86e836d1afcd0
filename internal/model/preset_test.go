package model

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmp/internal/domain"
)

func TestAssignPrivacySettingRejectsInvalidValue(t *testing.T) {
	f := newFixture(t)
	f.install(locationRG)
	p := f.preset("Daily")
	f.grant(p, locationRG, "loc-precision", "city")
	before := p.record()

	err := p.AssignPrivacySetting(f.ctx, f.setting(locationRG, "loc-precision"), "street")
	assert.ErrorIs(t, err, domain.ErrPrivacySettingValue)
	assert.Empty(t, cmp.Diff(before, p.record()))

	stored, err := f.store.Preset(f.ctx, p.Key())
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(before, stored, cmpopts.EquateEmpty()))
}

func TestAssignPrivacySettingMisuse(t *testing.T) {
	f := newFixture(t)
	f.install(locationRG)
	p := f.preset("Daily")

	assert.ErrorIs(t, p.AssignPrivacySetting(f.ctx, nil, "city"), domain.ErrMisuse)

	other := f.newModel()
	foreign := other.cache.privacySetting(locationRG, "loc-precision")
	require.NotNil(t, foreign)
	assert.ErrorIs(t, p.AssignPrivacySetting(f.ctx, foreign, "city"), domain.ErrMisuse,
		"settings of another model are not installed here")

	assert.ErrorIs(t, p.AssignApp(f.ctx, nil), domain.ErrMisuse)
}

func TestFailedWriteRestoresState(t *testing.T) {
	f := newFixture(t)
	store := &failingStore{Store: f.store}
	f.store = store
	f.m = f.newModel()
	f.install(locationRG)
	p := f.preset("Daily")
	f.grant(p, locationRG, "loc-precision", "city")
	before := p.record()

	store.fail = true
	err := p.AssignPrivacySetting(f.ctx, f.setting(locationRG, "loc-precision"), "exact")
	assert.ErrorIs(t, err, errDiskFull)
	assert.Empty(t, cmp.Diff(before, p.record()))
	assert.ErrorIs(t, p.SetName(f.ctx, "Nightly"), errDiskFull)
	assert.Equal(t, "Daily", p.Name())
}

func TestRemovePrivacySettingDropsAnnotations(t *testing.T) {
	f := newFixture(t)
	f.install(locationRG)
	tracker := f.register(trackerApp)
	precision := f.setting(locationRG, "loc-precision")
	p := f.preset("Daily", tracker)
	f.grant(p, locationRG, "loc-precision", "city")
	_, err := p.AssignContextAnnotation(f.ctx, precision, timeCtx, "night", "none")
	require.NoError(t, err)

	require.NoError(t, p.RemovePrivacySetting(f.ctx, precision))
	_, ok := p.GrantedValue(precision)
	assert.False(t, ok)
	assert.Empty(t, p.ContextAnnotations(precision))

	stored, err := f.store.ContextAnnotations(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Equal(t, map[string]bool{"map": false, "nav": false, "share": false}, f.notifier.last(trackerApp))
}

func TestAssignContextAnnotationValidation(t *testing.T) {
	f := newFixture(t)
	f.install(locationRG)
	precision := f.setting(locationRG, "loc-precision")
	p := f.preset("Daily")

	_, err := p.AssignContextAnnotation(f.ctx, precision, timeCtx, "bad condition", "city")
	assert.ErrorIs(t, err, domain.ErrInvalidCondition)

	_, err = p.AssignContextAnnotation(f.ctx, precision, timeCtx, "night", "street")
	assert.ErrorIs(t, err, domain.ErrPrivacySettingValue)

	_, err = p.AssignContextAnnotation(f.ctx, precision, "WeatherContext", "rain", "city")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Empty(t, p.allAnnotations())

	ca, err := p.AssignContextAnnotation(f.ctx, precision, timeCtx, "night", "city")
	require.NoError(t, err)
	assert.NotEmpty(t, ca.ID())
	text, err := ca.HumanReadableCondition()
	require.NoError(t, err)
	assert.Equal(t, "when night", text)

	other := f.preset("Other")
	assert.ErrorIs(t, other.RemoveContextAnnotation(f.ctx, ca), domain.ErrMisuse)
	require.NoError(t, p.RemoveContextAnnotation(f.ctx, ca))
	assert.ErrorIs(t, p.RemoveContextAnnotation(f.ctx, ca), domain.ErrNotFound)
}

func TestAnnotationsSurviveReload(t *testing.T) {
	f := newFixture(t)
	f.install(locationRG)
	p := f.preset("Daily")
	f.grant(p, locationRG, "loc-precision", "city")
	ca, err := p.AssignContextAnnotation(f.ctx, f.setting(locationRG, "loc-precision"), timeCtx, "night", "none")
	require.NoError(t, err)

	m := f.newModel()
	reloaded := m.Preset("", "Daily").ContextAnnotations(m.cache.privacySetting(locationRG, "loc-precision"))
	require.Len(t, reloaded, 1)
	assert.Equal(t, ca.ID(), reloaded[0].ID())
	assert.Equal(t, "none", reloaded[0].OverrideValue())
	assert.Equal(t, timeCtx, reloaded[0].Context().Identifier())
}

func TestSetDeleted(t *testing.T) {
	f := newFixture(t)
	f.install(locationRG)
	tracker := f.register(trackerApp)
	p := f.preset("Daily", tracker)
	f.grant(p, locationRG, "loc-precision", "city")
	assert.True(t, f.notifier.last(trackerApp)["map"])

	require.NoError(t, p.SetDeleted(f.ctx, true))
	assert.True(t, p.IsDeleted())
	assert.False(t, f.notifier.last(trackerApp)["map"])

	require.NoError(t, p.SetDeleted(f.ctx, false))
	assert.True(t, f.notifier.last(trackerApp)["map"])
}

func TestRemoveMissingApp(t *testing.T) {
	f := newFixture(t)
	f.install(locationRG)
	tracker := f.register(trackerApp)
	f.register(chatApp)
	p := f.preset("Shared", tracker, f.m.App(chatApp))
	f.grant(p, locationRG, "loc-precision", "city")
	_, err := f.m.UnregisterApp(f.ctx, chatApp)
	require.NoError(t, err)
	f.notifier.reset()

	err = p.RemoveMissingApp(f.ctx, MissingApp{Package: "com.example.other"})
	assert.ErrorIs(t, err, domain.ErrMisuse)

	require.NoError(t, p.RemoveMissingApp(f.ctx, MissingApp{Package: chatApp}))
	assert.True(t, p.IsAvailable())
	assert.True(t, f.notifier.last(trackerApp)["map"], "the preset is rolled out once available")

	stored, err := f.store.Preset(f.ctx, p.Key())
	require.NoError(t, err)
	assert.Equal(t, []string{trackerApp}, stored.Apps)
}

func TestRemoveApp(t *testing.T) {
	f := newFixture(t)
	f.install(locationRG)
	tracker := f.register(trackerApp)
	p := f.preset("Daily", tracker)
	f.grant(p, locationRG, "loc-precision", "city")
	f.notifier.reset()

	require.NoError(t, p.RemoveApp(f.ctx, tracker))
	assert.False(t, p.IsAppAssigned(tracker))
	assert.Len(t, f.notifier.delivered, 1)
	assert.False(t, f.notifier.last(trackerApp)["map"])

	require.NoError(t, p.RemoveApp(f.ctx, tracker), "removing an unassigned app is a no-op")
}

func TestAssignServiceFeature(t *testing.T) {
	f := newFixture(t)
	f.install(locationRG)
	tracker := f.register(trackerApp)
	p := f.preset("Daily", tracker)
	f.grant(p, locationRG, "loc-precision", "exact")
	f.notifier.reset()

	require.NoError(t, p.AssignServiceFeature(f.ctx, tracker.ServiceFeature("map")))
	v, _ := p.GrantedValue(f.setting(locationRG, "loc-precision"))
	assert.Equal(t, "exact", v, "a wider grant is kept")

	require.NoError(t, p.AssignServiceFeature(f.ctx, tracker.ServiceFeature("nav")))
	v, _ = p.GrantedValue(f.setting(locationRG, "tracking"))
	assert.Equal(t, "true", v)
	assert.Len(t, f.notifier.delivered, 1, "one delivery per feature assignment")
	assert.True(t, f.notifier.last(trackerApp)["nav"])

	err := p.AssignServiceFeature(f.ctx, tracker.ServiceFeature("share"))
	assert.ErrorIs(t, err, domain.ErrMisuse, "contacts is not installed")
}

func TestPresetConflicts(t *testing.T) {
	f := newFixture(t)
	f.install(locationRG)
	tracker := f.register(trackerApp)
	precision := f.setting(locationRG, "loc-precision")
	p1 := f.preset("P1", tracker)
	p2 := f.preset("P2", tracker)
	f.grant(p1, locationRG, "loc-precision", "city")
	f.grant(p2, locationRG, "loc-precision", "exact")

	assert.True(t, p1.IsPrivacySettingConflicting(p2, precision))
	assert.Equal(t, []*PrivacySetting{precision}, p1.PSPSConflicts(p2))
	assert.Empty(t, p2.PSPSConflicts(p1))

	unrelated := f.preset("Unrelated")
	f.grant(unrelated, locationRG, "loc-precision", "exact")
	assert.Empty(t, p1.PSPSConflicts(unrelated), "no shared app")

	same := f.preset("Same", tracker)
	f.grant(same, locationRG, "loc-precision", "city")
	assert.Empty(t, p1.PSPSConflicts(same))
}

func TestAnnotationConflicts(t *testing.T) {
	f := newFixture(t)
	f.install(locationRG)
	tracker := f.register(trackerApp)
	precision := f.setting(locationRG, "loc-precision")
	p1 := f.preset("P1", tracker)
	p2 := f.preset("P2", tracker)
	f.grant(p1, locationRG, "loc-precision", "none")
	f.grant(p2, locationRG, "loc-precision", "city")

	_, err := p1.AssignContextAnnotation(f.ctx, precision, timeCtx, "night", "exact")
	require.NoError(t, err)
	_, err = p1.AssignContextAnnotation(f.ctx, precision, timeCtx, "commute", "city")
	require.NoError(t, err)
	assert.Empty(t, p1.CAPSConflicts(p2), "overrides wider than or equal to the grant do not conflict")

	narrow, err := p1.AssignContextAnnotation(f.ctx, precision, timeCtx, "weekend", "none")
	require.NoError(t, err)
	assert.True(t, narrow.IsPrivacySettingConflicting(p2), "city permits the none override")
	assert.Equal(t, []*PrivacySetting{precision}, p1.CAPSConflicts(p2))
	require.NoError(t, p1.RemoveContextAnnotation(f.ctx, narrow))
	assert.Empty(t, p1.CAPSConflicts(p2))

	assert.Empty(t, p1.CACAConflicts(p2))
	theirs, err := p2.AssignContextAnnotation(f.ctx, precision, timeCtx, "night", "exact")
	require.NoError(t, err)
	assert.Equal(t, []*ContextAnnotation{theirs}, p1.CACAConflicts(p2))
	assert.Len(t, p2.CACAConflicts(p1), 2)
}

func TestConflictCheckIgnoresInvalidValues(t *testing.T) {
	f := newFixture(t)
	f.install(locationRG)
	f.register(trackerApp)
	require.NoError(t, f.store.SavePreset(f.ctx, domain.PresetRecord{
		Identifier: "Broken",
		Name:       "Broken",
		Apps:       []string{trackerApp},
		Grants:     []domain.GrantRecord{{ResourceGroup: locationRG, PrivacySetting: "loc-precision", Value: "bogus"}},
	}))
	f.m = f.newModel()
	tracker := f.m.App(trackerApp)
	good := f.preset("Good", tracker)
	f.grant(good, locationRG, "loc-precision", "exact")
	broken := f.m.Preset("", "Broken")

	assert.Empty(t, broken.PSPSConflicts(good))
	assert.Empty(t, good.PSPSConflicts(broken))
}

// --- Test doubles ---

var errDiskFull = errors.New("disk full")

// failingStore fails preset writes while fail is set.
type failingStore struct {
	domain.Store
	fail bool
}

func (s *failingStore) SavePreset(ctx context.Context, rec domain.PresetRecord) error {
	if s.fail {
		return errDiskFull
	}
	return s.Store.SavePreset(ctx, rec)
}
