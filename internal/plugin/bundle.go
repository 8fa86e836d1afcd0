// Package plugin provides resource-group bundles: discovering them on disk,
// downloading them from a registry, checking what their implementation
// exposes and tracking which are installed.
package plugin

import (
	"fmt"
	"slices"

	"pmp/internal/descriptor"
	"pmp/internal/domain"
)

// ManifestFile is the bundle manifest inside a bundle directory.
const ManifestFile = "resourcegroup.yaml"

// Capability describes one binder variant a resource exposes: the interface
// it serves and the concrete implementation behind it.
type Capability struct {
	Interface      string   `yaml:"interface"      json:"interface"`
	Implementation string   `yaml:"implementation" json:"implementation"`
	Anonymous      bool     `yaml:"anonymous"      json:"anonymous,omitempty"`
	Extends        []string `yaml:"extends"        json:"extends,omitempty"`
}

// related reports whether either capability is a subtype of the other.
func (c *Capability) related(o *Capability) bool {
	return c.Implementation == o.Implementation ||
		slices.Contains(c.Extends, o.Implementation) ||
		slices.Contains(o.Extends, c.Implementation)
}

// Resource is one resource of a bundle with its three binder variants.
type Resource struct {
	Identifier string      `yaml:"identifier" json:"identifier"`
	Normal     *Capability `yaml:"normal"     json:"normal,omitempty"`
	Mocked     *Capability `yaml:"mocked"     json:"mocked,omitempty"`
	Cloaked    *Capability `yaml:"cloaked"    json:"cloaked,omitempty"`
}

// ImplementedSetting is a privacy setting as the bundle's code implements it.
type ImplementedSetting struct {
	Identifier string                    `yaml:"identifier" json:"identifier"`
	Spec       domain.PrivacySettingSpec `yaml:"spec"       json:"spec"`
}

// Implementation is what the bundle's code reports about itself.
type Implementation struct {
	Identifier      string               `yaml:"identifier"       json:"identifier"`
	Revision        int64                `yaml:"revision"         json:"revision"`
	PrivacySettings []ImplementedSetting `yaml:"privacy_settings" json:"privacy_settings"`
	Resources       []Resource           `yaml:"resources"        json:"resources"`
}

// Setting returns the implemented setting with the given identifier.
func (i Implementation) Setting(id string) (ImplementedSetting, bool) {
	for _, s := range i.PrivacySettings {
		if s.Identifier == id {
			return s, true
		}
	}
	return ImplementedSetting{}, false
}

// Manifest is the parsed resourcegroup.yaml: the declarative descriptor plus
// the implementation section and requested permissions.
type Manifest struct {
	domain.ResourceGroupDescriptor `yaml:",inline"`
	Permissions                    []string       `yaml:"permissions,omitempty"`
	Implementation                 Implementation `yaml:"implementation"`
}

// Bundle is a discovered bundle.
type Bundle struct {
	Package  string
	Dir      string
	Manifest Manifest
}

func mismatch(what string, a, b any) error {
	return domain.NewSubSystemError("plugin", "plugin.Verify", domain.ErrInvalidDescriptor,
		fmt.Sprintf("%s mismatch: '%v' != '%v'", what, a, b))
}

// Verify checks that b is a consistent bundle for pkg: a valid descriptor
// that matches its implementation, no declared Mode setting, and resources
// with proper binders. The first violation is returned.
func Verify(pkg string, b *Bundle) error {
	d := b.Manifest.ResourceGroupDescriptor
	impl := b.Manifest.Implementation

	if issues := descriptor.ValidateResourceGroup(d); len(issues) > 0 {
		return domain.NewSubSystemError("plugin", "plugin.Verify", domain.ErrInvalidDescriptor, descriptor.JoinIssues(issues))
	}
	if pkg != d.Identifier {
		return mismatch("ResourceGroup package (parameter, XML)", pkg, d.Identifier)
	}
	if d.Identifier != impl.Identifier {
		return mismatch("ResourceGroup package (XML, object)", d.Identifier, impl.Identifier)
	}
	if d.Revision != impl.Revision {
		return mismatch("ResourceGroup revision (XML, object)", d.Revision, impl.Revision)
	}
	for _, ps := range d.PrivacySettings {
		if ps.Identifier == domain.ModePrivacySetting {
			return domain.NewSubSystemError("plugin", "plugin.Verify", domain.ErrInvalidDescriptor,
				"XML must not contain Privacy Setting 'Mode'.")
		}
		if _, ok := impl.Setting(ps.Identifier); !ok {
			return domain.NewSubSystemError("plugin", "plugin.Verify", domain.ErrInvalidDescriptor,
				fmt.Sprintf("PrivacySetting (XML, objects) inconsistency: %s defined in the XML, but not found in the ResourceGroup implementation.", ps.Identifier))
		}
	}
	return ValidateBinders(b)
}

// ValidateBinders checks every resource exposes three anonymous-free,
// mutually unrelated binder variants serving one interface.
func ValidateBinders(b *Bundle) error {
	for _, r := range b.Manifest.Implementation.Resources {
		if err := validateResource(r); err != nil {
			return err
		}
	}
	return nil
}

func validateResource(r Resource) error {
	fail := func(msg string) error {
		return domain.NewSubSystemError("plugin", "plugin.ValidateBinders", domain.ErrInvalidPlugin,
			fmt.Sprintf("Resource '%s' %s", r.Identifier, msg))
	}
	if r.Normal == nil || r.Mocked == nil || r.Cloaked == nil {
		return fail("does not provide all IBinders.")
	}
	if r.Normal.Anonymous || r.Mocked.Anonymous || r.Cloaked.Anonymous {
		return fail("does provide illegal anonymous IBinders.")
	}

	pairs := []struct {
		names string
		a, b  *Capability
	}{
		{"normal and mocked", r.Normal, r.Mocked},
		{"normal and cloaked", r.Normal, r.Cloaked},
		{"mocked and cloaked", r.Mocked, r.Cloaked},
	}
	for _, p := range pairs {
		if p.a.related(p.b) {
			return fail(fmt.Sprintf("may not provide %s IBinders which are subtypes of each other.", p.names))
		}
	}
	for _, p := range pairs {
		if p.a.Interface != p.b.Interface {
			return fail(fmt.Sprintf("may not provide %s IBinders which do implement a different interface.", p.names))
		}
	}
	return nil
}
