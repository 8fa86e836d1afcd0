package domain

import "context"

// UserCreator is the creator string persisted for presets created by the
// user rather than bundled by an app or resource group.
const UserCreator = "."

// AppRecord is the persisted form of a registered app.
type AppRecord struct {
	Package         string                 `json:"package"`
	Name            string                 `json:"name"`
	Description     string                 `json:"description"`
	ServiceURL      string                 `json:"service_url,omitempty"`
	ServiceFeatures []ServiceFeatureRecord `json:"service_features"`
}

// ServiceFeatureRecord is one capability of an app.
type ServiceFeatureRecord struct {
	Identifier   string              `json:"identifier"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	Requirements []RequirementRecord `json:"requirements"`
}

// RequirementRecord is a minimum grant a service feature needs.
type RequirementRecord struct {
	ResourceGroup  string `json:"resource_group"`
	MinRevision    int64  `json:"min_revision"`
	PrivacySetting string `json:"privacy_setting"`
	Value          string `json:"value"`
}

// ResourceGroupRecord is the persisted form of an installed resource group.
type ResourceGroupRecord struct {
	Package         string                 `json:"package"`
	Name            string                 `json:"name"`
	Description     string                 `json:"description"`
	Revision        int64                  `json:"revision"`
	PrivacySettings []PrivacySettingRecord `json:"privacy_settings"`
}

// PrivacySettingRecord is one privacy setting of a resource group.
type PrivacySettingRecord struct {
	Identifier  string             `json:"identifier"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Requestable bool               `json:"requestable"`
	Spec        PrivacySettingSpec `json:"spec"`
}

// PrivacySettingSpec describes the value domain of a privacy setting.
type PrivacySettingSpec struct {
	Kind    string   `json:"kind"              yaml:"kind"`
	Values  []string `json:"values,omitempty"  yaml:"values,omitempty"`
	Worst   int      `json:"worst,omitempty"   yaml:"worst,omitempty"`
	Best    int      `json:"best,omitempty"    yaml:"best,omitempty"`
	Default string   `json:"default,omitempty" yaml:"default,omitempty"`
}

// PresetKey identifies a preset. Creator is empty for user presets.
type PresetKey struct {
	Creator    string `json:"creator"`
	Identifier string `json:"identifier"`
}

func (k PresetKey) String() string {
	if k.Creator == "" {
		return UserCreator + "/" + k.Identifier
	}
	return k.Creator + "/" + k.Identifier
}

// PresetRecord is the persisted form of a preset, including references
// that may not resolve in the live graph.
type PresetRecord struct {
	Creator     string        `json:"creator"`
	Identifier  string        `json:"identifier"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Deleted     bool          `json:"deleted"`
	Grants      []GrantRecord `json:"grants"`
	Apps        []string      `json:"apps"`
}

// Key returns the preset's identity.
func (r PresetRecord) Key() PresetKey {
	return PresetKey{Creator: r.Creator, Identifier: r.Identifier}
}

// GrantRecord is a granted privacy-setting value of a preset.
type GrantRecord struct {
	ResourceGroup  string `json:"resource_group"`
	PrivacySetting string `json:"privacy_setting"`
	Value          string `json:"value"`
}

// ContextAnnotationRecord is the persisted form of a context annotation.
type ContextAnnotationRecord struct {
	ID               string `json:"id"`
	PresetCreator    string `json:"preset_creator"`
	PresetIdentifier string `json:"preset_identifier"`
	ResourceGroup    string `json:"resource_group"`
	PrivacySetting   string `json:"privacy_setting"`
	Context          string `json:"context"`
	Condition        string `json:"condition"`
	OverrideValue    string `json:"override_value"`
}

// PresetKey returns the key of the preset owning the annotation.
func (r ContextAnnotationRecord) PresetKey() PresetKey {
	return PresetKey{Creator: r.PresetCreator, Identifier: r.PresetIdentifier}
}

// Store is the persistence collaborator of the engine. Any relational or
// key-value engine can satisfy it. Lookups of absent keys return ErrNotFound.
type Store interface {
	Apps(ctx context.Context) ([]AppRecord, error)
	SaveApp(ctx context.Context, rec AppRecord) error
	DeleteApp(ctx context.Context, pkg string) error

	ResourceGroups(ctx context.Context) ([]ResourceGroupRecord, error)
	SaveResourceGroup(ctx context.Context, rec ResourceGroupRecord) error
	DeleteResourceGroup(ctx context.Context, pkg string) error

	Presets(ctx context.Context) ([]PresetRecord, error)
	Preset(ctx context.Context, key PresetKey) (PresetRecord, error)
	// PresetIdentifiers lists the local identifiers used under creator.
	PresetIdentifiers(ctx context.Context, creator string) ([]string, error)
	// SavePreset upserts the preset and replaces its grants and app references.
	SavePreset(ctx context.Context, rec PresetRecord) error
	// DeletePreset removes the preset together with its context annotations.
	DeletePreset(ctx context.Context, key PresetKey) error

	ContextAnnotations(ctx context.Context) ([]ContextAnnotationRecord, error)
	SaveContextAnnotation(ctx context.Context, rec ContextAnnotationRecord) error
	DeleteContextAnnotation(ctx context.Context, id string) error

	// Clear removes every record.
	Clear(ctx context.Context) error
	Close() error
}
