// Package storetest holds the behavior every domain.Store must share.
package storetest

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmp/internal/domain"
)

// Run exercises store through the whole domain.Store contract. open must
// return an empty store.
func Run(t *testing.T, open func(t *testing.T) domain.Store) {
	t.Run("apps", func(t *testing.T) { testApps(t, open(t)) })
	t.Run("resource groups", func(t *testing.T) { testResourceGroups(t, open(t)) })
	t.Run("presets", func(t *testing.T) { testPresets(t, open(t)) })
	t.Run("annotations", func(t *testing.T) { testAnnotations(t, open(t)) })
	t.Run("clear", func(t *testing.T) { testClear(t, open(t)) })
}

// SampleApp is an app record using every field.
func SampleApp(pkg string) domain.AppRecord {
	return domain.AppRecord{
		Package:     pkg,
		Name:        "Tracker",
		Description: "Tracks runs",
		ServiceURL:  "http://localhost:9000/health",
		ServiceFeatures: []domain.ServiceFeatureRecord{{
			Identifier:  "gps",
			Name:        "GPS",
			Description: "Uses GPS",
			Requirements: []domain.RequirementRecord{
				{ResourceGroup: "org.pmp.location", MinRevision: 2, PrivacySetting: "precision", Value: "50"},
			},
		}},
	}
}

// SampleResourceGroup is a resource-group record using every field.
func SampleResourceGroup(pkg string) domain.ResourceGroupRecord {
	return domain.ResourceGroupRecord{
		Package:     pkg,
		Name:        "Location",
		Description: "GPS",
		Revision:    3,
		PrivacySettings: []domain.PrivacySettingRecord{
			{Identifier: "precision", Name: "Precision", Requestable: true,
				Spec: domain.PrivacySettingSpec{Kind: "integer", Worst: 0, Best: 100}},
			{Identifier: "provider", Name: "Provider",
				Spec: domain.PrivacySettingSpec{Kind: "enum", Values: []string{"none", "network", "gps"}, Default: "none"}},
		},
	}
}

// SamplePreset is a preset record with sorted grants and apps.
func SamplePreset(creator, id string) domain.PresetRecord {
	return domain.PresetRecord{
		Creator:     creator,
		Identifier:  id,
		Name:        "Preset " + id,
		Description: "desc",
		Grants: []domain.GrantRecord{
			{ResourceGroup: "org.pmp.contacts", PrivacySetting: "read", Value: "true"},
			{ResourceGroup: "org.pmp.location", PrivacySetting: "precision", Value: "50"},
		},
		Apps: []string{"com.example.a", "com.example.b"},
	}
}

func testApps(t *testing.T, s domain.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveApp(ctx, SampleApp("com.example.b")))
	require.NoError(t, s.SaveApp(ctx, SampleApp("com.example.a")))

	updated := SampleApp("com.example.b")
	updated.Name = "Renamed"
	require.NoError(t, s.SaveApp(ctx, updated))

	got, err := s.Apps(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff([]domain.AppRecord{SampleApp("com.example.a"), updated}, got); diff != "" {
		t.Errorf("apps mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, s.DeleteApp(ctx, "com.example.a"))
	require.NoError(t, s.DeleteApp(ctx, "com.example.none"))
	got, err = s.Apps(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "com.example.b", got[0].Package)
}

func testResourceGroups(t *testing.T, s domain.Store) {
	ctx := context.Background()
	rg := SampleResourceGroup("org.pmp.location")
	require.NoError(t, s.SaveResourceGroup(ctx, rg))

	got, err := s.ResourceGroups(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff([]domain.ResourceGroupRecord{rg}, got); diff != "" {
		t.Errorf("resource groups mismatch (-want +got):\n%s", diff)
	}

	rg.Revision = 4
	require.NoError(t, s.SaveResourceGroup(ctx, rg))
	got, err = s.ResourceGroups(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(4), got[0].Revision)

	require.NoError(t, s.DeleteResourceGroup(ctx, rg.Package))
	got, err = s.ResourceGroups(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testPresets(t *testing.T, s domain.Store) {
	ctx := context.Background()
	user := SamplePreset("", "default")
	bundled := SamplePreset("com.example.a", "strict")
	bundled.Deleted = true
	bundled.Grants = nil
	bundled.Apps = nil

	require.NoError(t, s.SavePreset(ctx, bundled))
	require.NoError(t, s.SavePreset(ctx, user))
	require.NoError(t, s.SavePreset(ctx, SamplePreset("", "default_1")))

	got, err := s.Preset(ctx, user.Key())
	require.NoError(t, err)
	if diff := cmp.Diff(user, got); diff != "" {
		t.Errorf("preset mismatch (-want +got):\n%s", diff)
	}

	_, err = s.Preset(ctx, domain.PresetKey{Identifier: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ids, err := s.PresetIdentifiers(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "default_1"}, ids)
	ids, err = s.PresetIdentifiers(ctx, "com.example.a")
	require.NoError(t, err)
	assert.Equal(t, []string{"strict"}, ids)

	// Saving replaces grants and app references.
	user.Grants = user.Grants[1:]
	user.Apps = []string{"com.example.c"}
	require.NoError(t, s.SavePreset(ctx, user))
	got, err = s.Preset(ctx, user.Key())
	require.NoError(t, err)
	if diff := cmp.Diff(user, got); diff != "" {
		t.Errorf("preset after update mismatch (-want +got):\n%s", diff)
	}

	all, err := s.Presets(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	keys := []domain.PresetKey{all[0].Key(), all[1].Key(), all[2].Key()}
	assert.Contains(t, keys, bundled.Key())
	for _, p := range all {
		if p.Key() == bundled.Key() {
			assert.True(t, p.Deleted)
			assert.Empty(t, p.Grants)
		}
	}

	require.NoError(t, s.DeletePreset(ctx, user.Key()))
	_, err = s.Preset(ctx, user.Key())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testAnnotations(t *testing.T, s domain.Store) {
	ctx := context.Background()
	p1 := SamplePreset("", "p1")
	p2 := SamplePreset("", "p2")
	require.NoError(t, s.SavePreset(ctx, p1))
	require.NoError(t, s.SavePreset(ctx, p2))

	a := domain.ContextAnnotationRecord{
		ID: "01A", PresetIdentifier: "p1", ResourceGroup: "org.pmp.location", PrivacySetting: "precision",
		Context: "TimeContext", Condition: "08:00:00-17:00:00-D", OverrideValue: "0",
	}
	b := a
	b.ID, b.PresetIdentifier = "01B", "p2"
	c := a
	c.ID = "01C"
	for _, rec := range []domain.ContextAnnotationRecord{c, a, b} {
		require.NoError(t, s.SaveContextAnnotation(ctx, rec))
	}

	got, err := s.ContextAnnotations(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff([]domain.ContextAnnotationRecord{a, b, c}, got); diff != "" {
		t.Errorf("annotations mismatch (-want +got):\n%s", diff)
	}

	a.Condition = "22:00:00-06:00:00-D"
	require.NoError(t, s.SaveContextAnnotation(ctx, a))
	require.NoError(t, s.DeleteContextAnnotation(ctx, "01B"))

	// Deleting a preset drops its annotations.
	require.NoError(t, s.DeletePreset(ctx, p1.Key()))
	got, err = s.ContextAnnotations(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testClear(t *testing.T, s domain.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveApp(ctx, SampleApp("com.example.a")))
	require.NoError(t, s.SaveResourceGroup(ctx, SampleResourceGroup("org.pmp.location")))
	require.NoError(t, s.SavePreset(ctx, SamplePreset("", "p")))
	require.NoError(t, s.SaveContextAnnotation(ctx, domain.ContextAnnotationRecord{
		ID: "01A", PresetIdentifier: "p", ResourceGroup: "r", PrivacySetting: "s", Context: "TimeContext",
	}))

	require.NoError(t, s.Clear(ctx))

	apps, err := s.Apps(ctx)
	require.NoError(t, err)
	assert.Empty(t, apps)
	rgs, err := s.ResourceGroups(ctx)
	require.NoError(t, err)
	assert.Empty(t, rgs)
	presets, err := s.Presets(ctx)
	require.NoError(t, err)
	assert.Empty(t, presets)
	annotations, err := s.ContextAnnotations(ctx)
	require.NoError(t, err)
	assert.Empty(t, annotations)
}
