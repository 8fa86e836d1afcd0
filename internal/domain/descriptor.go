package domain

// ModePrivacySetting is the implicit privacy setting every resource group
// receives on install. It selects normal, mocked or cloaked mediation and
// must not be declared by a descriptor.
const ModePrivacySetting = "Mode"

// AppDescriptor is what an app declares about itself on registration.
type AppDescriptor struct {
	Identifier      string                     `json:"identifier"                 yaml:"identifier"       validate:"required,identifier"`
	Name            string                     `json:"name"                       yaml:"name"             validate:"required"`
	Description     string                     `json:"description,omitempty"      yaml:"description"`
	Service         string                     `json:"service,omitempty"          yaml:"service"          validate:"omitempty,url"`
	ServiceFeatures []ServiceFeatureDescriptor `json:"service_features,omitempty" yaml:"service_features" validate:"dive"`
}

// ServiceFeatureDescriptor declares one capability of an app.
type ServiceFeatureDescriptor struct {
	Identifier             string                  `json:"identifier"                         yaml:"identifier"               validate:"required,identifier"`
	Name                   string                  `json:"name"                               yaml:"name"                     validate:"required"`
	Description            string                  `json:"description,omitempty"              yaml:"description"`
	RequiredResourceGroups []RequiredResourceGroup `json:"required_resource_groups,omitempty" yaml:"required_resource_groups" validate:"dive"`
}

// RequiredResourceGroup lists what a service feature needs from one resource group.
type RequiredResourceGroup struct {
	Identifier      string                   `json:"identifier"       yaml:"identifier"       validate:"required,identifier"`
	MinRevision     int64                    `json:"min_revision"     yaml:"min_revision"     validate:"gte=0"`
	PrivacySettings []RequiredPrivacySetting `json:"privacy_settings" yaml:"privacy_settings" validate:"min=1,dive"`
}

// RequiredPrivacySetting is a minimum value for one privacy setting.
type RequiredPrivacySetting struct {
	Identifier string `json:"identifier" yaml:"identifier" validate:"required,identifier"`
	Value      string `json:"value"      yaml:"value"`
}

// Requirements flattens the descriptor into requirement records.
func (d ServiceFeatureDescriptor) Requirements() []RequirementRecord {
	var out []RequirementRecord
	for _, rg := range d.RequiredResourceGroups {
		for _, ps := range rg.PrivacySettings {
			out = append(out, RequirementRecord{
				ResourceGroup:  rg.Identifier,
				MinRevision:    rg.MinRevision,
				PrivacySetting: ps.Identifier,
				Value:          ps.Value,
			})
		}
	}
	return out
}

// ResourceGroupDescriptor is the declarative part of a resource-group bundle.
type ResourceGroupDescriptor struct {
	Identifier      string                     `json:"identifier"            yaml:"identifier"       validate:"required,identifier"`
	Name            string                     `json:"name"                  yaml:"name"             validate:"required"`
	Description     string                     `json:"description,omitempty" yaml:"description"`
	Revision        int64                      `json:"revision"              yaml:"revision"         validate:"gte=0"`
	PrivacySettings []PrivacySettingDescriptor `json:"privacy_settings"      yaml:"privacy_settings" validate:"dive"`
}

// PrivacySettingDescriptor declares one privacy setting of a resource group.
type PrivacySettingDescriptor struct {
	Identifier  string `json:"identifier"            yaml:"identifier"  validate:"required,identifier"`
	Name        string `json:"name"                  yaml:"name"        validate:"required"`
	Description string `json:"description,omitempty" yaml:"description"`
	Requestable *bool  `json:"requestable,omitempty" yaml:"requestable,omitempty"`
}

// IsRequestable reports whether apps may request the setting. Defaults to true.
func (d PrivacySettingDescriptor) IsRequestable() bool {
	return d.Requestable == nil || *d.Requestable
}
