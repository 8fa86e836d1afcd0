package model

import (
	"cmp"
	"maps"
	"slices"
)

// Grant resolution. Nothing here mutates the graph, and values outside a
// setting's domain are returned as errors for the caller to handle.

// FindGrantedPSValue returns what preset grants for ps right now. The first
// active annotation replaces the stored grant; each later active annotation
// replaces the running value only if it permits at least as much.
func FindGrantedPSValue(preset *Preset, ps *PrivacySetting) (string, bool, error) {
	value, ok := preset.GrantedValue(ps)
	overridden := false
	for _, ca := range preset.ContextAnnotations(ps) {
		if !ca.IsActive() {
			continue
		}
		if !overridden {
			value, ok, overridden = ca.override, true, true
			continue
		}
		wider, err := ps.Permits(value, ca.override)
		if err != nil {
			return "", false, err
		}
		if wider {
			value = ca.override
		}
	}
	return value, ok, nil
}

// FindGranted joins, for each of settings, the values granted to app by its
// available non-deleted presets. Settings no preset grants are absent.
func FindGranted(app *App, settings []*PrivacySetting) (map[*PrivacySetting]string, error) {
	granted := make(map[*PrivacySetting]string)
	for _, p := range app.AssignedPresets() {
		if !p.IsAvailable() || p.IsDeleted() {
			continue
		}
		for _, ps := range settings {
			value, ok, err := FindGrantedPSValue(p, ps)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			existing, has := granted[ps]
			if !has {
				granted[ps] = value
				continue
			}
			wider, err := ps.Permits(existing, value)
			if err != nil {
				return nil, err
			}
			if wider {
				granted[ps] = value
			}
		}
	}
	return granted, nil
}

// FindBestValue is FindGranted for a single setting.
func FindBestValue(app *App, ps *PrivacySetting) (string, bool, error) {
	granted, err := FindGranted(app, []*PrivacySetting{ps})
	if err != nil {
		return "", false, err
	}
	v, ok := granted[ps]
	return v, ok, nil
}

// VerifyServiceFeature reports whether sf is available and granted covers
// every requirement. A requirement with no granted value is not covered.
func VerifyServiceFeature(granted map[*PrivacySetting]string, sf *ServiceFeature) (bool, error) {
	if !sf.IsAvailable() {
		return false, nil
	}
	for _, req := range sf.requirements {
		ps := sf.resolve(req)
		value, ok := granted[ps]
		if !ok {
			return false, nil
		}
		covered, err := ps.Permits(req.Value, value)
		if err != nil {
			return false, err
		}
		if !covered {
			return false, nil
		}
	}
	return true, nil
}

// VerifyServiceFeatures verifies every feature of app against one join of
// its grants.
func VerifyServiceFeatures(app *App) (map[string]bool, error) {
	relevant := make(map[*PrivacySetting]struct{})
	for _, sf := range app.features {
		if !sf.IsAvailable() {
			continue
		}
		for _, ps := range sf.RequiredPrivacySettings() {
			relevant[ps] = struct{}{}
		}
	}
	settings := slices.SortedFunc(maps.Keys(relevant), func(a, b *PrivacySetting) int {
		return cmp.Compare(a.Key(), b.Key())
	})
	granted, err := FindGranted(app, settings)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(app.features))
	for _, sf := range app.features {
		ok, err := VerifyServiceFeature(granted, sf)
		if err != nil {
			return nil, err
		}
		out[sf.id] = ok
	}
	return out, nil
}
