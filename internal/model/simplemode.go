package model

import (
	"context"
	"errors"
	"slices"

	"pmp/internal/domain"
	"pmp/internal/ipc"
)

// SimpleMode presents the model as one user preset per app whose grants are
// exactly what the app's active service features need.
type SimpleMode struct {
	m *Model
}

func NewSimpleMode(m *Model) *SimpleMode {
	return &SimpleMode{m: m}
}

// ConvertExpertToSimple rebuilds the presets in simple form, keeping every
// app's active features active. Features whose requirements hold invalid
// values are logged and skipped.
func (s *SimpleMode) ConvertExpertToSimple(ctx context.Context) error {
	const op = "SimpleMode.ConvertExpertToSimple"
	m := s.m
	b := ipc.Begin(m.notifier)
	defer b.End()

	apps := m.Apps()
	actives := make(map[*App][]*ServiceFeature, len(apps))
	for _, a := range apps {
		active, err := a.ActiveServiceFeatures()
		if err != nil {
			m.logger.Warn("could not determine active service features", "app", a.pkg, "error", err)
		}
		actives[a] = active
	}

	for _, p := range m.PresetsBy("") {
		for _, ps := range p.GrantedPrivacySettings() {
			for _, ca := range p.ContextAnnotations(ps) {
				if err := p.RemoveContextAnnotation(ctx, ca); err != nil {
					return domain.WrapOp(op, err)
				}
			}
		}
		if _, err := m.RemovePreset(ctx, "", p.key.Identifier); err != nil {
			return domain.WrapOp(op, err)
		}
	}
	for _, p := range m.Presets() {
		if err := p.SetDeleted(ctx, true); err != nil {
			return domain.WrapOp(op, err)
		}
	}

	for _, a := range apps {
		p, err := s.createPresetForApp(ctx, a)
		if err != nil {
			return domain.WrapOp(op, err)
		}
		for _, sf := range actives[a] {
			if err := p.AssignServiceFeature(ctx, sf); err != nil {
				if errors.Is(err, domain.ErrPrivacySettingValue) {
					m.logger.Warn("service feature requests an invalid value", "app", a.pkg, "feature", sf.id, "error", err)
					continue
				}
				return domain.WrapOp(op, err)
			}
		}
	}
	m.logger.Info("converted to simple mode", "apps", len(apps))
	return nil
}

// IsSimpleMode reports whether the model is in simple form: bundled presets
// are deleted, each preset covers exactly one app and has no annotations,
// and no app has more than one non-deleted preset.
func (s *SimpleMode) IsSimpleMode() bool {
	for _, p := range s.m.Presets() {
		if p.IsBundled() && !p.IsDeleted() {
			return false
		}
		if len(p.AssignedApps()) != 1 && len(p.MissingApps()) != 1 {
			return false
		}
		if len(p.allAnnotations()) > 0 {
			return false
		}
	}
	for _, a := range s.m.Apps() {
		live := 0
		for _, p := range a.AssignedPresets() {
			if !p.IsDeleted() {
				live++
			}
		}
		if live > 1 {
			return false
		}
	}
	return true
}

// SetServiceFeatureActive switches sf on or off by rebuilding the grants of
// its app's preset. It reports false when the model is not in simple mode
// or the feature already is in the requested state.
func (s *SimpleMode) SetServiceFeatureActive(ctx context.Context, sf *ServiceFeature, active bool) (bool, error) {
	const op = "SimpleMode.SetServiceFeatureActive"
	if sf == nil {
		return false, misuse(op, "nil service feature")
	}
	if !s.IsSimpleMode() {
		return false, nil
	}
	a := sf.app
	actives, err := a.ActiveServiceFeatures()
	if err != nil {
		return false, domain.WrapOp(op, err)
	}
	if slices.Contains(actives, sf) == active {
		return false, nil
	}
	if active {
		actives = append(actives, sf)
	} else {
		actives = slices.DeleteFunc(actives, func(x *ServiceFeature) bool { return x == sf })
	}

	var p *Preset
	for _, candidate := range a.AssignedPresets() {
		if !candidate.IsDeleted() {
			p = candidate
			break
		}
	}
	if p == nil {
		if p, err = s.createPresetForApp(ctx, a); err != nil {
			return false, domain.WrapOp(op, err)
		}
	}

	tx := p.Transaction()
	if err := tx.Start(); err != nil {
		return false, domain.WrapOp(op, err)
	}
	for _, ps := range p.GrantedPrivacySettings() {
		if err := p.RemovePrivacySetting(ctx, ps); err != nil {
			return false, s.abort(ctx, tx, op, err)
		}
	}
	for _, f := range actives {
		if err := p.AssignServiceFeature(ctx, f); err != nil {
			return false, s.abort(ctx, tx, op, err)
		}
	}
	tx.Commit()
	return true, nil
}

func (s *SimpleMode) abort(ctx context.Context, tx *Transaction, op string, cause error) error {
	if err := tx.Abort(ctx); err != nil {
		s.m.logger.Error("transaction abort failed", "error", err)
	}
	return domain.WrapOp(op, cause)
}

func (s *SimpleMode) createPresetForApp(ctx context.Context, a *App) (*Preset, error) {
	p, err := s.m.AddUserPreset(ctx, a.name, "")
	if err != nil {
		return nil, err
	}
	if err := p.AssignApp(ctx, a); err != nil {
		return nil, err
	}
	return p, nil
}
