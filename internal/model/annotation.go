package model

import (
	"pmp/internal/contexts"
	"pmp/internal/domain"
)

// ContextAnnotation overrides the grant of one privacy setting of a preset
// while a context condition holds.
type ContextAnnotation struct {
	id        string
	preset    *Preset
	ps        *PrivacySetting
	context   contexts.Context
	condition string
	override  string
}

func (ca *ContextAnnotation) ID() string                      { return ca.id }
func (ca *ContextAnnotation) Preset() *Preset                 { return ca.preset }
func (ca *ContextAnnotation) PrivacySetting() *PrivacySetting { return ca.ps }
func (ca *ContextAnnotation) Context() contexts.Context       { return ca.context }
func (ca *ContextAnnotation) Condition() string               { return ca.condition }
func (ca *ContextAnnotation) OverrideValue() string           { return ca.override }

// IsActive evaluates the condition against the context's last sample.
func (ca *ContextAnnotation) IsActive() bool {
	return ca.context.LastState(ca.condition)
}

func (ca *ContextAnnotation) HumanReadableCondition() (string, error) {
	return ca.context.HumanReadable(ca.condition)
}

func (ca *ContextAnnotation) record() domain.ContextAnnotationRecord {
	return domain.ContextAnnotationRecord{
		ID:               ca.id,
		PresetCreator:    ca.preset.key.Creator,
		PresetIdentifier: ca.preset.key.Identifier,
		ResourceGroup:    ca.ps.rg.pkg,
		PrivacySetting:   ca.ps.id,
		Context:          ca.context.Identifier(),
		Condition:        ca.condition,
		OverrideValue:    ca.override,
	}
}

// ConflictingContextAnnotations returns the annotations other places on the
// same setting, provided the two presets share an app.
func (ca *ContextAnnotation) ConflictingContextAnnotations(other *Preset) []*ContextAnnotation {
	if other == nil || !ca.preset.sharesAppWith(other) {
		return nil
	}
	return other.ContextAnnotations(ca.ps)
}

// IsPrivacySettingConflicting reports whether other, sharing an app, grants
// the setting a different value that permits at least the override. Values
// outside the domain are logged and count as no conflict.
func (ca *ContextAnnotation) IsPrivacySettingConflicting(other *Preset) bool {
	if other == nil || !ca.preset.sharesAppWith(other) {
		return false
	}
	granted, ok := other.GrantedValue(ca.ps)
	if !ok || granted == ca.override {
		return false
	}
	wider, err := ca.ps.Permits(ca.override, granted)
	if err != nil {
		ca.preset.m.logger.Warn("invalid value while checking for CA/PS conflicts",
			"annotation", ca.id, "ps", ca.ps.Key(), "error", err)
		return false
	}
	return wider
}
