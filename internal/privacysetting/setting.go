// Package privacysetting implements the value domains of privacy settings
// and the "permits" partial order used for all grant resolution.
package privacysetting

import (
	"fmt"

	"pmp/internal/domain"
)

// Kinds of privacy settings.
const (
	KindBoolean = "boolean"
	KindEnum    = "enum"
	KindInteger = "integer"
	KindSet     = "set"
)

// Mode values of the implicit Mode privacy setting, in permits order.
const (
	ModeNormal = "NORMAL"
	ModeMock   = "MOCK"
	ModeCloak  = "CLOAK"
)

// Setting is the value domain of one privacy setting. Values travel as
// strings; the empty string selects the domain's default.
type Setting interface {
	Kind() string
	// Validate reports whether value belongs to the domain.
	Validate(value string) error
	// Permits reports whether granting value is at least as permissive as
	// granting reference. It fails when either value is outside the domain.
	Permits(reference, value string) (bool, error)
	// HumanReadable renders value for display.
	HumanReadable(value string) (string, error)
	// Spec returns the persisted description of the domain.
	Spec() domain.PrivacySettingSpec
}

// New builds the Setting described by spec.
func New(spec domain.PrivacySettingSpec) (Setting, error) {
	switch spec.Kind {
	case KindBoolean, "":
		return Boolean{}, nil
	case KindEnum:
		return NewEnum(spec.Values, spec.Default)
	case KindInteger:
		return Integer{Worst: spec.Worst, Best: spec.Best}, nil
	case KindSet:
		return Set{Allowed: spec.Values}, nil
	default:
		return nil, fmt.Errorf("%w: unknown privacy setting kind %q", domain.ErrInvalidInput, spec.Kind)
	}
}

// Mode returns the domain of the implicit Mode setting: NORMAL < MOCK < CLOAK.
func Mode() Setting {
	e, _ := NewEnum([]string{ModeNormal, ModeMock, ModeCloak}, ModeNormal)
	return e
}

func valueError(op, value string, cause error) error {
	detail := fmt.Sprintf("value %q", value)
	if cause != nil {
		detail = fmt.Sprintf("value %q: %v", value, cause)
	}
	return domain.NewSubSystemError("privacysetting", op, domain.ErrPrivacySettingValue, detail)
}
