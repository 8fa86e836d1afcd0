package model

import (
	"cmp"
	"context"
	"maps"
	"slices"

	"pmp/internal/domain"
)

// Cache holds every live entity of the graph. It has no business rules.
type Cache struct {
	apps    map[string]*App
	rgs     map[string]*ResourceGroup
	presets map[string]map[string]*Preset // creator -> identifier -> preset
}

func newCache() *Cache {
	return &Cache{
		apps:    make(map[string]*App),
		rgs:     make(map[string]*ResourceGroup),
		presets: make(map[string]map[string]*Preset),
	}
}

func loadCache(ctx context.Context, m *Model) (*Cache, error) {
	c := newCache()

	rgs, err := m.store.ResourceGroups(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range rgs {
		rg, err := newResourceGroup(rec)
		if err != nil {
			return nil, integrity("loadCache", err.Error())
		}
		c.rgs[rg.pkg] = rg
	}

	apps, err := m.store.Apps(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range apps {
		c.apps[rec.Package] = newApp(m, rec)
	}

	presets, err := m.store.Presets(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range presets {
		c.putPreset(newPresetPlaceholder(m, rec.Key()))
	}
	return c, nil
}

func (c *Cache) Apps() []*App {
	return sortedValues(c.apps, func(a *App) string { return a.pkg })
}

func (c *Cache) ResourceGroups() []*ResourceGroup {
	return sortedValues(c.rgs, func(rg *ResourceGroup) string { return rg.pkg })
}

// Presets returns every preset, user presets first.
func (c *Cache) Presets() []*Preset {
	var out []*Preset
	for _, creator := range slices.Sorted(maps.Keys(c.presets)) {
		out = append(out, c.PresetsBy(creator)...)
	}
	return out
}

func (c *Cache) PresetsBy(creator string) []*Preset {
	return sortedValues(c.presets[creator], func(p *Preset) string { return p.key.Identifier })
}

func (c *Cache) preset(key domain.PresetKey) *Preset {
	return c.presets[key.Creator][key.Identifier]
}

func (c *Cache) putPreset(p *Preset) {
	byID := c.presets[p.key.Creator]
	if byID == nil {
		byID = make(map[string]*Preset)
		c.presets[p.key.Creator] = byID
	}
	byID[p.key.Identifier] = p
}

func (c *Cache) removePreset(key domain.PresetKey) {
	byID := c.presets[key.Creator]
	delete(byID, key.Identifier)
	if len(byID) == 0 {
		delete(c.presets, key.Creator)
	}
}

func (c *Cache) presetCount() int {
	n := 0
	for _, byID := range c.presets {
		n += len(byID)
	}
	return n
}

func (c *Cache) privacySetting(rg, id string) *PrivacySetting {
	if g := c.rgs[rg]; g != nil {
		return g.byID[id]
	}
	return nil
}

func sortedValues[V any](m map[string]V, key func(V) string) []V {
	out := slices.Collect(maps.Values(m))
	slices.SortFunc(out, func(a, b V) int { return cmp.Compare(key(a), key(b)) })
	return out
}
