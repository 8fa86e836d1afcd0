package model

import (
	"slices"

	"pmp/internal/domain"
)

// ConflictPair is an unordered pair of conflicting presets.
type ConflictPair struct {
	A, B *Preset
}

// Contains reports whether p is one of the pair.
func (c ConflictPair) Contains(p *Preset) bool {
	return c.A == p || c.B == p
}

func (c ConflictPair) same(o ConflictPair) bool {
	return (c.A == o.A && c.B == o.B) || (c.A == o.B && c.B == o.A)
}

// ProgressCallback follows a conflict calculation.
type ProgressCallback interface {
	StepMessage(msg string)
	ProgressUpdate(done, total int)
	Finished()
}

type nopProgress struct{}

func (nopProgress) StepMessage(string)      {}
func (nopProgress) ProgressUpdate(int, int) {}
func (nopProgress) Finished()               {}

// ConflictModel tracks which presets conflict. Calculate only compares
// presets that changed since the previous run. A pair is recorded when
// either preset reports a conflict with the other.
type ConflictModel struct {
	m            *Model
	fingerprints map[domain.PresetKey]string
	pairs        []ConflictPair
}

func NewConflictModel(m *Model) *ConflictModel {
	return &ConflictModel{m: m, fingerprints: make(map[domain.PresetKey]string)}
}

// IsUpToDate reports whether no preset changed since the last Calculate.
func (c *ConflictModel) IsUpToDate() bool {
	presets := c.m.Presets()
	if len(presets) != len(c.fingerprints) {
		return false
	}
	for _, p := range presets {
		if c.fingerprints[p.key] != p.fingerprint() {
			return false
		}
	}
	return true
}

// Pairs returns the conflicts found by the last Calculate.
func (c *ConflictModel) Pairs() []ConflictPair {
	return slices.Clone(c.pairs)
}

// ConflictsOf returns the presets conflicting with p.
func (c *ConflictModel) ConflictsOf(p *Preset) []*Preset {
	var out []*Preset
	for _, pair := range c.pairs {
		switch p {
		case pair.A:
			out = append(out, pair.B)
		case pair.B:
			out = append(out, pair.A)
		}
	}
	return out
}

// Calculate rescans changed presets. cb may be nil.
func (c *ConflictModel) Calculate(cb ProgressCallback) {
	if cb == nil {
		cb = nopProgress{}
	}
	presets := c.m.Presets()

	cb.StepMessage("Checking for updated Presets...")
	live := make(map[domain.PresetKey]bool, len(presets))
	var updated []*Preset
	for i, p := range presets {
		cb.ProgressUpdate(i+1, len(presets))
		live[p.key] = true
		fp := p.fingerprint()
		if c.fingerprints[p.key] == fp {
			continue
		}
		c.fingerprints[p.key] = fp
		updated = append(updated, p)
		c.dropPairsOf(p)
	}
	for key := range c.fingerprints {
		if !live[key] {
			delete(c.fingerprints, key)
		}
	}
	// pairs with removed presets go too
	c.pairs = slices.DeleteFunc(c.pairs, func(pair ConflictPair) bool {
		return !live[pair.A.key] || !live[pair.B.key] ||
			c.m.cache.preset(pair.A.key) != pair.A || c.m.cache.preset(pair.B.key) != pair.B
	})

	cb.StepMessage("Checking for possible conflicts...")
	done, total := 0, len(updated)*max(len(presets)-1, 0)
	for _, p := range updated {
		for _, other := range presets {
			if other == p {
				continue
			}
			done++
			cb.ProgressUpdate(done, total)
			pair := ConflictPair{A: p, B: other}
			if c.hasPair(pair) {
				continue
			}
			if conflicting(p, other) || conflicting(other, p) {
				c.pairs = append(c.pairs, pair)
			}
		}
	}
	c.m.logger.Debug("conflicts calculated", "updated", len(updated), "pairs", len(c.pairs))
	cb.Finished()
}

// conflicting runs the directional queries from p's side only.
func conflicting(p, other *Preset) bool {
	return len(p.PSPSConflicts(other)) > 0 ||
		len(p.CACAConflicts(other)) > 0 ||
		len(p.CAPSConflicts(other)) > 0
}

func (c *ConflictModel) hasPair(pair ConflictPair) bool {
	return slices.ContainsFunc(c.pairs, pair.same)
}

func (c *ConflictModel) dropPairsOf(p *Preset) {
	c.pairs = slices.DeleteFunc(c.pairs, func(pair ConflictPair) bool { return pair.Contains(p) })
}
