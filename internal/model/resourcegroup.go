package model

import (
	"fmt"

	"pmp/internal/domain"
	"pmp/internal/plugin"
	"pmp/internal/privacysetting"
)

// ResourceGroup is an installed resource group with its privacy settings,
// including the implicit Mode setting.
type ResourceGroup struct {
	pkg         string
	name        string
	description string
	revision    int64
	settings    []*PrivacySetting
	byID        map[string]*PrivacySetting
}

// PrivacySetting is one grant dimension of a resource group. Its identity is
// the pointer: the cache hands out one instance per (group, identifier).
type PrivacySetting struct {
	rg          *ResourceGroup
	id          string
	name        string
	description string
	requestable bool
	lattice     privacysetting.Setting
}

func newResourceGroup(rec domain.ResourceGroupRecord) (*ResourceGroup, error) {
	rg := &ResourceGroup{
		pkg:         rec.Package,
		name:        rec.Name,
		description: rec.Description,
		revision:    rec.Revision,
		byID:        make(map[string]*PrivacySetting, len(rec.PrivacySettings)),
	}
	for _, psr := range rec.PrivacySettings {
		lattice, err := privacysetting.New(psr.Spec)
		if err != nil {
			return nil, fmt.Errorf("privacy setting %s/%s: %w", rec.Package, psr.Identifier, err)
		}
		ps := &PrivacySetting{
			rg:          rg,
			id:          psr.Identifier,
			name:        psr.Name,
			description: psr.Description,
			requestable: psr.Requestable,
			lattice:     lattice,
		}
		rg.settings = append(rg.settings, ps)
		rg.byID[ps.id] = ps
	}
	return rg, nil
}

// resourceGroupRecord builds the record of a verified bundle: the Mode
// setting first, then every declared setting with the implemented domain.
func resourceGroupRecord(b *plugin.Bundle) domain.ResourceGroupRecord {
	d := b.Manifest.ResourceGroupDescriptor
	rec := domain.ResourceGroupRecord{
		Package:     d.Identifier,
		Name:        d.Name,
		Description: d.Description,
		Revision:    d.Revision,
		PrivacySettings: []domain.PrivacySettingRecord{{
			Identifier:  domain.ModePrivacySetting,
			Name:        domain.ModePrivacySetting,
			Description: "Selects normal, mocked or cloaked access to the resources.",
			Spec:        privacysetting.Mode().Spec(),
		}},
	}
	for _, ps := range d.PrivacySettings {
		impl, _ := b.Manifest.Implementation.Setting(ps.Identifier)
		rec.PrivacySettings = append(rec.PrivacySettings, domain.PrivacySettingRecord{
			Identifier:  ps.Identifier,
			Name:        ps.Name,
			Description: ps.Description,
			Requestable: ps.IsRequestable(),
			Spec:        impl.Spec,
		})
	}
	return rec
}

func (rg *ResourceGroup) Package() string     { return rg.pkg }
func (rg *ResourceGroup) Name() string        { return rg.name }
func (rg *ResourceGroup) Description() string { return rg.description }
func (rg *ResourceGroup) Revision() int64     { return rg.revision }

// PrivacySettings returns the settings in declaration order, Mode first.
func (rg *ResourceGroup) PrivacySettings() []*PrivacySetting {
	out := make([]*PrivacySetting, len(rg.settings))
	copy(out, rg.settings)
	return out
}

// PrivacySetting returns the setting with the given identifier, or nil.
func (rg *ResourceGroup) PrivacySetting(id string) *PrivacySetting {
	return rg.byID[id]
}

func (ps *PrivacySetting) ResourceGroup() *ResourceGroup { return ps.rg }
func (ps *PrivacySetting) Identifier() string            { return ps.id }
func (ps *PrivacySetting) Name() string                  { return ps.name }
func (ps *PrivacySetting) Description() string           { return ps.description }
func (ps *PrivacySetting) IsRequestable() bool           { return ps.requestable }
func (ps *PrivacySetting) Kind() string                  { return ps.lattice.Kind() }

// Key is "<resource group>/<identifier>".
func (ps *PrivacySetting) Key() string { return ps.rg.pkg + "/" + ps.id }

// Permits reports whether granting value covers everything granting
// reference allows. Values outside the domain are an error.
func (ps *PrivacySetting) Permits(reference, value string) (bool, error) {
	return ps.lattice.Permits(reference, value)
}

// Validate checks value belongs to the setting's domain.
func (ps *PrivacySetting) Validate(value string) error {
	return ps.lattice.Validate(value)
}

func (ps *PrivacySetting) HumanReadable(value string) (string, error) {
	return ps.lattice.HumanReadable(value)
}

func (ps *PrivacySetting) String() string { return ps.Key() }
