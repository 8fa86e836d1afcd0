package model

import (
	"context"
	"slices"

	"pmp/internal/domain"
)

// App is a registered app.
type App struct {
	m           *Model
	pkg         string
	name        string
	description string
	serviceURL  string
	features    []*ServiceFeature
}

// ServiceFeature is a capability of an app that needs minimum grants on a
// set of privacy settings.
type ServiceFeature struct {
	app          *App
	id           string
	name         string
	description  string
	requirements []domain.RequirementRecord
}

func newApp(m *Model, rec domain.AppRecord) *App {
	a := &App{
		m:           m,
		pkg:         rec.Package,
		name:        rec.Name,
		description: rec.Description,
		serviceURL:  rec.ServiceURL,
	}
	for _, sfr := range rec.ServiceFeatures {
		a.features = append(a.features, &ServiceFeature{
			app:          a,
			id:           sfr.Identifier,
			name:         sfr.Name,
			description:  sfr.Description,
			requirements: slices.Clone(sfr.Requirements),
		})
	}
	return a
}

func appRecord(d domain.AppDescriptor) domain.AppRecord {
	rec := domain.AppRecord{
		Package:     d.Identifier,
		Name:        d.Name,
		Description: d.Description,
		ServiceURL:  d.Service,
	}
	for _, sf := range d.ServiceFeatures {
		rec.ServiceFeatures = append(rec.ServiceFeatures, domain.ServiceFeatureRecord{
			Identifier:   sf.Identifier,
			Name:         sf.Name,
			Description:  sf.Description,
			Requirements: sf.Requirements(),
		})
	}
	return rec
}

// Package identifies the app.
func (a *App) Package() string { return a.pkg }

func (a *App) Name() string        { return a.name }
func (a *App) Description() string { return a.description }

// ServiceURL is where the app's mediation service answers; empty when it
// has none.
func (a *App) ServiceURL() string { return a.serviceURL }

func (a *App) String() string { return a.pkg }

// ServiceFeatures returns the app's features in declaration order.
func (a *App) ServiceFeatures() []*ServiceFeature {
	return slices.Clone(a.features)
}

// ServiceFeature returns the feature with the given identifier, or nil.
func (a *App) ServiceFeature(id string) *ServiceFeature {
	for _, sf := range a.features {
		if sf.id == id {
			return sf
		}
	}
	return nil
}

// AssignedPresets returns every preset the app is assigned to, deleted and
// unavailable ones included.
func (a *App) AssignedPresets() []*Preset {
	var out []*Preset
	for _, p := range a.m.cache.Presets() {
		if p.IsAppAssigned(a) {
			out = append(out, p)
		}
	}
	return out
}

// ActiveServiceFeatures returns the features enabled by the grants in
// effect right now.
func (a *App) ActiveServiceFeatures() ([]*ServiceFeature, error) {
	verified, err := VerifyServiceFeatures(a)
	if err != nil {
		return nil, err
	}
	var out []*ServiceFeature
	for _, sf := range a.features {
		if verified[sf.id] {
			out = append(out, sf)
		}
	}
	return out, nil
}

// VerifyServiceFeatures recomputes which features are enabled and queues the
// result on the notifier. A value outside a setting's domain is logged and
// nothing is queued.
func (a *App) VerifyServiceFeatures(ctx context.Context) {
	verified, err := VerifyServiceFeatures(a)
	if err != nil {
		a.m.logger.WarnContext(ctx, "service feature verification failed", "app", a.pkg, "error", err)
		return
	}
	a.m.notifier.Queue(a.pkg, verified)
}

func (sf *ServiceFeature) App() *App           { return sf.app }
func (sf *ServiceFeature) Identifier() string  { return sf.id }
func (sf *ServiceFeature) Name() string        { return sf.name }
func (sf *ServiceFeature) Description() string { return sf.description }
func (sf *ServiceFeature) String() string      { return sf.app.pkg + "/" + sf.id }

// Requirements returns the feature's stored requirements, resolvable or not.
func (sf *ServiceFeature) Requirements() []domain.RequirementRecord {
	return slices.Clone(sf.requirements)
}

// IsAvailable reports whether every required setting exists in a resource
// group of at least the required revision.
func (sf *ServiceFeature) IsAvailable() bool {
	for _, req := range sf.requirements {
		if sf.resolve(req) == nil {
			return false
		}
	}
	return true
}

func (sf *ServiceFeature) resolve(req domain.RequirementRecord) *PrivacySetting {
	rg := sf.app.m.cache.rgs[req.ResourceGroup]
	if rg == nil || rg.revision < req.MinRevision {
		return nil
	}
	return rg.PrivacySetting(req.PrivacySetting)
}

// RequiredPrivacySettings returns the required settings that currently
// resolve, in requirement order.
func (sf *ServiceFeature) RequiredPrivacySettings() []*PrivacySetting {
	var out []*PrivacySetting
	for _, req := range sf.requirements {
		if ps := sf.resolve(req); ps != nil {
			out = append(out, ps)
		}
	}
	return out
}

// RequiredValue returns the minimum value the feature needs for ps.
func (sf *ServiceFeature) RequiredValue(ps *PrivacySetting) (string, bool) {
	for _, req := range sf.requirements {
		if req.ResourceGroup == ps.rg.pkg && req.PrivacySetting == ps.id {
			return req.Value, true
		}
	}
	return "", false
}
