package privacysetting

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"pmp/internal/domain"
)

// Boolean orders false below true.
type Boolean struct{}

func (Boolean) Kind() string { return KindBoolean }

func (b Boolean) parse(value string) (bool, error) {
	if value == "" {
		return false, nil
	}
	switch strings.ToLower(value) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, valueError("Boolean.Parse", value, nil)
}

func (b Boolean) Validate(value string) error {
	_, err := b.parse(value)
	return err
}

func (b Boolean) Permits(reference, value string) (bool, error) {
	ref, err := b.parse(reference)
	if err != nil {
		return false, err
	}
	v, err := b.parse(value)
	if err != nil {
		return false, err
	}
	return v || !ref, nil
}

func (b Boolean) HumanReadable(value string) (string, error) {
	v, err := b.parse(value)
	if err != nil {
		return "", err
	}
	return strconv.FormatBool(v), nil
}

func (Boolean) Spec() domain.PrivacySettingSpec {
	return domain.PrivacySettingSpec{Kind: KindBoolean}
}

// Enum orders its values by declaration: later values permit more.
type Enum struct {
	values []string
	def    string
}

// NewEnum returns an Enum over values. An empty def selects the first value.
func NewEnum(values []string, def string) (Enum, error) {
	if len(values) == 0 {
		return Enum{}, fmt.Errorf("%w: enum privacy setting without values", domain.ErrInvalidInput)
	}
	if def == "" {
		def = values[0]
	}
	if !slices.Contains(values, def) {
		return Enum{}, fmt.Errorf("%w: enum default %q is not a value", domain.ErrInvalidInput, def)
	}
	return Enum{values: slices.Clone(values), def: def}, nil
}

func (Enum) Kind() string { return KindEnum }

// Values returns the declared values in permits order.
func (e Enum) Values() []string { return slices.Clone(e.values) }

func (e Enum) ordinal(value string) (int, error) {
	if value == "" {
		value = e.def
	}
	i := slices.Index(e.values, value)
	if i < 0 {
		return 0, valueError("Enum.Parse", value, nil)
	}
	return i, nil
}

func (e Enum) Validate(value string) error {
	_, err := e.ordinal(value)
	return err
}

func (e Enum) Permits(reference, value string) (bool, error) {
	ref, err := e.ordinal(reference)
	if err != nil {
		return false, err
	}
	v, err := e.ordinal(value)
	if err != nil {
		return false, err
	}
	return v >= ref, nil
}

func (e Enum) HumanReadable(value string) (string, error) {
	i, err := e.ordinal(value)
	if err != nil {
		return "", err
	}
	return e.values[i], nil
}

func (e Enum) Spec() domain.PrivacySettingSpec {
	return domain.PrivacySettingSpec{Kind: KindEnum, Values: slices.Clone(e.values), Default: e.def}
}

// Integer orders integers from Worst towards Best; either may be larger.
// The empty value is Worst.
type Integer struct {
	Worst int
	Best  int
}

func (Integer) Kind() string { return KindInteger }

func (n Integer) parse(value string) (int, error) {
	if value == "" {
		return n.Worst, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, valueError("Integer.Parse", value, err)
	}
	return v, nil
}

func (n Integer) Validate(value string) error {
	_, err := n.parse(value)
	return err
}

func (n Integer) Permits(reference, value string) (bool, error) {
	ref, err := n.parse(reference)
	if err != nil {
		return false, err
	}
	v, err := n.parse(value)
	if err != nil {
		return false, err
	}
	if n.Worst <= n.Best {
		return v >= ref, nil
	}
	return v <= ref, nil
}

func (n Integer) HumanReadable(value string) (string, error) {
	v, err := n.parse(value)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(v), nil
}

func (n Integer) Spec() domain.PrivacySettingSpec {
	return domain.PrivacySettingSpec{Kind: KindInteger, Worst: n.Worst, Best: n.Best}
}

const (
	setSeparator = ";"
	setEscaped   = `\;`
)

// Set holds a set of strings; a value permits a reference iff it is a
// superset of it. Allowed, when non-empty, restricts the items.
type Set struct {
	Allowed []string
}

func (Set) Kind() string { return KindSet }

// ParseSet splits a set value on unescaped separators.
func (s Set) ParseSet(value string) (map[string]struct{}, error) {
	items := make(map[string]struct{})
	if value == "" {
		return items, nil
	}
	var cur strings.Builder
	flush := func() error {
		item := cur.String()
		cur.Reset()
		if item == "" {
			return nil
		}
		if len(s.Allowed) > 0 && !slices.Contains(s.Allowed, item) {
			return valueError("Set.Parse", value, fmt.Errorf("item %q not allowed", item))
		}
		items[item] = struct{}{}
		return nil
	}
	for i := 0; i < len(value); i++ {
		if strings.HasPrefix(value[i:], setEscaped) {
			cur.WriteString(setSeparator)
			i++
			continue
		}
		if value[i] == setSeparator[0] {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		cur.WriteByte(value[i])
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return items, nil
}

// FormatSet joins items into a set value, escaping separators.
func FormatSet(items []string) string {
	sorted := slices.Clone(items)
	slices.Sort(sorted)
	escaped := make([]string, len(sorted))
	for i, it := range sorted {
		escaped[i] = strings.ReplaceAll(it, setSeparator, setEscaped)
	}
	return strings.Join(escaped, setSeparator)
}

func (s Set) Validate(value string) error {
	_, err := s.ParseSet(value)
	return err
}

func (s Set) Permits(reference, value string) (bool, error) {
	ref, err := s.ParseSet(reference)
	if err != nil {
		return false, err
	}
	v, err := s.ParseSet(value)
	if err != nil {
		return false, err
	}
	for item := range ref {
		if _, ok := v[item]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func (s Set) HumanReadable(value string) (string, error) {
	items, err := s.ParseSet(value)
	if err != nil {
		return "", err
	}
	out := make([]string, 0, len(items))
	for it := range items {
		out = append(out, it)
	}
	slices.Sort(out)
	return strings.Join(out, ", "), nil
}

func (s Set) Spec() domain.PrivacySettingSpec {
	return domain.PrivacySettingSpec{Kind: KindSet, Values: slices.Clone(s.Allowed)}
}
