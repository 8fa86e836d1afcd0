package privacysetting

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmp/internal/domain"
)

func TestBooleanPermits(t *testing.T) {
	b := Boolean{}
	tests := []struct {
		ref, val string
		want     bool
	}{
		{"false", "false", true},
		{"false", "true", true},
		{"true", "false", false},
		{"true", "true", true},
		{"", "true", true},
		{"true", "", false},
	}
	for _, tt := range tests {
		got, err := b.Permits(tt.ref, tt.val)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "Permits(%q, %q)", tt.ref, tt.val)
	}

	_, err := b.Permits("true", "yes")
	assert.True(t, errors.Is(err, domain.ErrPrivacySettingValue))
}

func TestEnumPermits(t *testing.T) {
	e, err := NewEnum([]string{"none", "city", "exact"}, "")
	require.NoError(t, err)

	ok, err := e.Permits("city", "exact")
	require.NoError(t, err)
	assert.True(t, ok, "exact is at least as permissive as city")

	ok, err = e.Permits("exact", "city")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.Permits("", "none")
	require.NoError(t, err)
	assert.True(t, ok, "empty selects the default value")

	_, err = e.Permits("city", "street")
	assert.ErrorIs(t, err, domain.ErrPrivacySettingValue)
}

func TestNewEnumRejectsBadDefinition(t *testing.T) {
	_, err := NewEnum(nil, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = NewEnum([]string{"a"}, "b")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestIntegerPermits(t *testing.T) {
	ascending := Integer{Worst: 0, Best: 100}
	ok, err := ascending.Permits("10", "20")
	require.NoError(t, err)
	assert.True(t, ok)

	descending := Integer{Worst: 1000, Best: 10}
	ok, err = descending.Permits("100", "50")
	require.NoError(t, err)
	assert.True(t, ok, "smaller is better when worst > best")
	ok, err = descending.Permits("50", "100")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = descending.Permits("50", "")
	require.NoError(t, err)
	assert.False(t, ok, "empty is the worst value")

	_, err = ascending.Permits("1", "ten")
	assert.ErrorIs(t, err, domain.ErrPrivacySettingValue)
}

func TestSetPermits(t *testing.T) {
	s := Set{}
	ok, err := s.Permits("a;b", "a;b;c")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Permits("a;b;c", "a;b")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Permits("", "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetEscaping(t *testing.T) {
	s := Set{}
	items, err := s.ParseSet(`a\;b;c`)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Contains(t, items, "a;b")
	assert.Contains(t, items, "c")

	assert.Equal(t, `a\;b;c`, FormatSet([]string{"c", "a;b"}))

	human, err := s.HumanReadable(`c;a\;b`)
	require.NoError(t, err)
	assert.Equal(t, "a;b, c", human)
}

func TestSetAllowedItems(t *testing.T) {
	s := Set{Allowed: []string{"read", "write"}}
	assert.NoError(t, s.Validate("read;write"))
	assert.ErrorIs(t, s.Validate("read;delete"), domain.ErrPrivacySettingValue)
}

func TestNewFromSpec(t *testing.T) {
	for _, spec := range []domain.PrivacySettingSpec{
		{Kind: KindBoolean},
		{Kind: KindEnum, Values: []string{"x", "y"}, Default: "y"},
		{Kind: KindInteger, Worst: 5, Best: 1},
		{Kind: KindSet, Values: []string{"a"}},
	} {
		s, err := New(spec)
		require.NoError(t, err, spec.Kind)
		assert.Equal(t, spec, s.Spec())
	}

	_, err := New(domain.PrivacySettingSpec{Kind: "float"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestModeOrder(t *testing.T) {
	m := Mode()
	ok, err := m.Permits(ModeNormal, ModeCloak)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.Permits(ModeCloak, ModeMock)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{ModeNormal, ModeMock, ModeCloak}, m.Spec().Values)
}
