package model

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/oklog/ulid/v2"

	"pmp/internal/domain"
	"pmp/internal/ipc"
)

// MissingApp is an assigned app that is not registered.
type MissingApp struct {
	Package string `json:"package"`
}

// MissingPrivacySettingValue is a grant whose privacy setting is not
// installed.
type MissingPrivacySettingValue struct {
	ResourceGroup  string `json:"resource_group"`
	PrivacySetting string `json:"privacy_setting"`
	Value          string `json:"value"`
}

// presetState is everything a transaction snapshots.
type presetState struct {
	name            string
	description     string
	deleted         bool
	grants          map[*PrivacySetting]string
	apps            []*App
	annotations     map[*PrivacySetting][]*ContextAnnotation
	missingSettings []MissingPrivacySettingValue
	missingApps     []MissingApp
}

func (s presetState) clone() presetState {
	c := s
	c.grants = maps.Clone(s.grants)
	c.apps = slices.Clone(s.apps)
	c.annotations = make(map[*PrivacySetting][]*ContextAnnotation, len(s.annotations))
	for ps, cas := range s.annotations {
		c.annotations[ps] = slices.Clone(cas)
	}
	c.missingSettings = slices.Clone(s.missingSettings)
	c.missingApps = slices.Clone(s.missingApps)
	return c
}

// Preset is a named bundle of grants assigned to apps. A preset is available
// iff it has neither missing apps nor missing privacy settings.
//
// Presets are placeholders until first accessed; forceRecache drops the
// resolved state so the next access resolves the stored record against the
// current graph.
type Preset struct {
	m      *Model
	key    domain.PresetKey
	cached bool
	tx     *Transaction
	presetState
}

func newPresetPlaceholder(m *Model, key domain.PresetKey) *Preset {
	return &Preset{m: m, key: key}
}

func (p *Preset) ensure() {
	if p.cached {
		return
	}
	if err := p.load(context.Background()); err != nil {
		panic(integrity("Preset.load", fmt.Sprintf("%s: %v", p.key, err)))
	}
}

func (p *Preset) forceRecache() {
	p.cached = false
}

func (p *Preset) load(ctx context.Context) error {
	rec, err := p.m.store.Preset(ctx, p.key)
	if err != nil {
		return err
	}
	annotations, err := p.m.store.ContextAnnotations(ctx)
	if err != nil {
		return err
	}
	p.apply(rec, annotations)
	return nil
}

// apply resolves a stored record against the live graph.
func (p *Preset) apply(rec domain.PresetRecord, annotations []domain.ContextAnnotationRecord) {
	c := p.m.cache
	s := presetState{
		name:        rec.Name,
		description: rec.Description,
		deleted:     rec.Deleted,
		grants:      make(map[*PrivacySetting]string, len(rec.Grants)),
		annotations: make(map[*PrivacySetting][]*ContextAnnotation),
	}
	for _, g := range rec.Grants {
		if ps := c.privacySetting(g.ResourceGroup, g.PrivacySetting); ps != nil {
			s.grants[ps] = g.Value
			continue
		}
		s.missingSettings = append(s.missingSettings, MissingPrivacySettingValue(g))
	}
	for _, pkg := range rec.Apps {
		if a := c.apps[pkg]; a != nil {
			s.apps = append(s.apps, a)
			continue
		}
		s.missingApps = append(s.missingApps, MissingApp{Package: pkg})
	}
	for _, ar := range annotations {
		if ar.PresetKey() != p.key {
			continue
		}
		ps := c.privacySetting(ar.ResourceGroup, ar.PrivacySetting)
		cx, ok := p.m.contexts.Get(ar.Context)
		if ps == nil || !ok {
			// stays stored; resolves again once the setting or context exists
			continue
		}
		s.annotations[ps] = append(s.annotations[ps], &ContextAnnotation{
			id: ar.ID, preset: p, ps: ps, context: cx,
			condition: ar.Condition, override: ar.OverrideValue,
		})
	}
	p.presetState = s
	p.cached = true
}

func (p *Preset) record() domain.PresetRecord {
	rec := domain.PresetRecord{
		Creator:     p.key.Creator,
		Identifier:  p.key.Identifier,
		Name:        p.name,
		Description: p.description,
		Deleted:     p.deleted,
	}
	for ps, v := range p.grants {
		rec.Grants = append(rec.Grants, domain.GrantRecord{ResourceGroup: ps.rg.pkg, PrivacySetting: ps.id, Value: v})
	}
	for _, ms := range p.missingSettings {
		rec.Grants = append(rec.Grants, domain.GrantRecord(ms))
	}
	slices.SortFunc(rec.Grants, func(a, b domain.GrantRecord) int {
		return cmp.Or(cmp.Compare(a.ResourceGroup, b.ResourceGroup), cmp.Compare(a.PrivacySetting, b.PrivacySetting))
	})
	for _, a := range p.apps {
		rec.Apps = append(rec.Apps, a.pkg)
	}
	for _, ma := range p.missingApps {
		rec.Apps = append(rec.Apps, ma.Package)
	}
	slices.Sort(rec.Apps)
	return rec
}

// mutate applies change and writes the preset through. A failed write
// restores the previous state.
func (p *Preset) mutate(ctx context.Context, op string, change func()) error {
	p.ensure()
	before := p.presetState.clone()
	change()
	if err := p.m.store.SavePreset(ctx, p.record()); err != nil {
		p.presetState = before
		return domain.WrapOp(op, err)
	}
	return nil
}

// Key identifies the preset by creator and identifier.
func (p *Preset) Key() domain.PresetKey { return p.key }

// Creator is the creating app or resource group, empty for user presets.
func (p *Preset) Creator() string { return p.key.Creator }

// Identifier is unique among the creator's presets.
func (p *Preset) Identifier() string { return p.key.Identifier }

func (p *Preset) String() string { return p.key.String() }

// IsBundled reports whether an app or resource group created the preset.
func (p *Preset) IsBundled() bool { return p.key.Creator != "" }

// Name is the display name.
func (p *Preset) Name() string {
	p.ensure()
	return p.name
}

func (p *Preset) Description() string {
	p.ensure()
	return p.description
}

// SetName renames the preset and writes it through.
func (p *Preset) SetName(ctx context.Context, name string) error {
	return p.mutate(ctx, "Preset.SetName", func() { p.name = name })
}

// SetDescription replaces the description and writes it through.
func (p *Preset) SetDescription(ctx context.Context, description string) error {
	return p.mutate(ctx, "Preset.SetDescription", func() { p.description = description })
}

// IsAvailable reports whether every stored reference resolves.
func (p *Preset) IsAvailable() bool {
	p.ensure()
	return len(p.missingApps) == 0 && len(p.missingSettings) == 0
}

// IsDeleted reports whether the preset is in the trash. Deleted presets
// grant nothing.
func (p *Preset) IsDeleted() bool {
	p.ensure()
	return p.deleted
}

// SetDeleted moves the preset into or out of the trash and rolls out.
func (p *Preset) SetDeleted(ctx context.Context, deleted bool) error {
	if err := p.mutate(ctx, "Preset.SetDeleted", func() { p.deleted = deleted }); err != nil {
		return err
	}
	p.forceRecache()
	p.Rollout(ctx)
	return nil
}

// MissingApps lists assigned apps that are not registered.
func (p *Preset) MissingApps() []MissingApp {
	p.ensure()
	return slices.Clone(p.missingApps)
}

// MissingPrivacySettings lists grants whose resource group or setting is
// not installed.
func (p *Preset) MissingPrivacySettings() []MissingPrivacySettingValue {
	p.ensure()
	return slices.Clone(p.missingSettings)
}

// RemoveMissingApp drops a reference to an unregistered app. The preset is
// rolled out if that made it available.
func (p *Preset) RemoveMissingApp(ctx context.Context, missing MissingApp) error {
	p.ensure()
	i := slices.Index(p.missingApps, missing)
	if i < 0 {
		return misuse("Preset.RemoveMissingApp", fmt.Sprintf("%s is not missing in %s", missing.Package, p.key))
	}
	if err := p.mutate(ctx, "Preset.RemoveMissingApp", func() {
		p.missingApps = slices.Delete(p.missingApps, i, i+1)
	}); err != nil {
		return err
	}
	if p.IsAvailable() && !p.deleted {
		p.Rollout(ctx)
	}
	return nil
}

// AssignedApps returns the registered apps the preset is assigned to.
func (p *Preset) AssignedApps() []*App {
	p.ensure()
	return slices.Clone(p.apps)
}

// IsAppAssigned reports whether a is among the assigned apps.
func (p *Preset) IsAppAssigned(a *App) bool {
	p.ensure()
	return slices.Contains(p.apps, a)
}

// AssignApp assigns a registered app and rolls out. Assigning twice is a
// no-op.
func (p *Preset) AssignApp(ctx context.Context, a *App) error {
	if err := p.checkApp("Preset.AssignApp", a); err != nil {
		return err
	}
	if p.IsAppAssigned(a) {
		return nil
	}
	if err := p.mutate(ctx, "Preset.AssignApp", func() { p.apps = append(p.apps, a) }); err != nil {
		return err
	}
	p.m.logger.Debug("app assigned", "preset", p.key.String(), "app", a.pkg)
	p.Rollout(ctx)
	return nil
}

// RemoveApp unassigns an app, verifying it afterwards along with the rest.
func (p *Preset) RemoveApp(ctx context.Context, a *App) error {
	if err := p.checkApp("Preset.RemoveApp", a); err != nil {
		return err
	}
	i := slices.Index(p.AssignedApps(), a)
	if i < 0 {
		return nil
	}
	if err := p.mutate(ctx, "Preset.RemoveApp", func() { p.apps = slices.Delete(p.apps, i, i+1) }); err != nil {
		return err
	}
	b := ipc.Begin(p.m.notifier)
	defer b.End()
	a.VerifyServiceFeatures(ctx)
	p.Rollout(ctx)
	return nil
}

func (p *Preset) checkApp(op string, a *App) error {
	if a == nil {
		return misuse(op, "nil app")
	}
	if p.m.cache.apps[a.pkg] != a {
		return misuse(op, fmt.Sprintf("app %s is not registered", a.pkg))
	}
	return nil
}

func (p *Preset) checkSetting(op string, ps *PrivacySetting) error {
	if ps == nil {
		return misuse(op, "nil privacy setting")
	}
	if p.m.cache.privacySetting(ps.rg.pkg, ps.id) != ps {
		return misuse(op, fmt.Sprintf("privacy setting %s is not installed", ps.Key()))
	}
	return nil
}

// GrantedPrivacySettings returns the settings the preset grants, ordered by
// key.
func (p *Preset) GrantedPrivacySettings() []*PrivacySetting {
	p.ensure()
	out := slices.Collect(maps.Keys(p.grants))
	slices.SortFunc(out, func(a, b *PrivacySetting) int { return cmp.Compare(a.Key(), b.Key()) })
	return out
}

// GrantedValue returns the stored grant for ps, ignoring annotations.
func (p *Preset) GrantedValue(ps *PrivacySetting) (string, bool) {
	p.ensure()
	v, ok := p.grants[ps]
	return v, ok
}

// AssignPrivacySetting grants value for ps and rolls out. The value must
// belong to the setting's domain.
func (p *Preset) AssignPrivacySetting(ctx context.Context, ps *PrivacySetting, value string) error {
	const op = "Preset.AssignPrivacySetting"
	if err := p.checkSetting(op, ps); err != nil {
		return err
	}
	if err := ps.Validate(value); err != nil {
		return domain.WrapOp(op, err)
	}
	if err := p.mutate(ctx, op, func() { p.grants[ps] = value }); err != nil {
		return err
	}
	p.m.logger.Debug("privacy setting assigned", "preset", p.key.String(), "ps", ps.Key(), "value", value)
	p.Rollout(ctx)
	return nil
}

// RemovePrivacySetting drops the grant for ps together with its annotations
// and rolls out.
func (p *Preset) RemovePrivacySetting(ctx context.Context, ps *PrivacySetting) error {
	const op = "Preset.RemovePrivacySetting"
	if err := p.checkSetting(op, ps); err != nil {
		return err
	}
	p.ensure()
	for _, ca := range p.annotations[ps] {
		if err := p.m.store.DeleteContextAnnotation(ctx, ca.id); err != nil {
			return domain.WrapOp(op, err)
		}
	}
	if err := p.mutate(ctx, op, func() {
		delete(p.grants, ps)
		delete(p.annotations, ps)
	}); err != nil {
		return err
	}
	p.Rollout(ctx)
	return nil
}

// AssignServiceFeature grants what sf requires, in one batch. Existing
// grants that already cover a requirement are kept.
func (p *Preset) AssignServiceFeature(ctx context.Context, sf *ServiceFeature) error {
	const op = "Preset.AssignServiceFeature"
	if sf == nil {
		return misuse(op, "nil service feature")
	}
	if !sf.IsAvailable() {
		return misuse(op, fmt.Sprintf("service feature %s is not available", sf))
	}
	b := ipc.Begin(p.m.notifier)
	defer b.End()
	for _, ps := range sf.RequiredPrivacySettings() {
		required, _ := sf.RequiredValue(ps)
		if current, ok := p.GrantedValue(ps); ok {
			covered, err := ps.Permits(required, current)
			if err != nil {
				return domain.WrapOp(op, err)
			}
			if covered {
				continue
			}
		}
		if err := p.AssignPrivacySetting(ctx, ps, required); err != nil {
			return err
		}
	}
	return nil
}

// ContextAnnotations returns the annotations on ps.
func (p *Preset) ContextAnnotations(ps *PrivacySetting) []*ContextAnnotation {
	p.ensure()
	return slices.Clone(p.annotations[ps])
}

func (p *Preset) allAnnotations() []*ContextAnnotation {
	p.ensure()
	var out []*ContextAnnotation
	for _, ps := range slices.SortedFunc(maps.Keys(p.annotations), func(a, b *PrivacySetting) int {
		return cmp.Compare(a.Key(), b.Key())
	}) {
		out = append(out, p.annotations[ps]...)
	}
	return out
}

// AssignContextAnnotation overrides ps with override while the condition of
// the context contextID holds.
func (p *Preset) AssignContextAnnotation(ctx context.Context, ps *PrivacySetting, contextID, condition, override string) (*ContextAnnotation, error) {
	const op = "Preset.AssignContextAnnotation"
	if err := p.checkSetting(op, ps); err != nil {
		return nil, err
	}
	cx, ok := p.m.contexts.Get(contextID)
	if !ok {
		return nil, domain.NewSubSystemError("context", op, domain.ErrNotFound, contextID)
	}
	if err := cx.ValidateCondition(condition); err != nil {
		return nil, domain.WrapOp(op, err)
	}
	if err := ps.Validate(override); err != nil {
		return nil, domain.WrapOp(op, err)
	}
	p.ensure()

	ca := &ContextAnnotation{
		id:        ulid.Make().String(),
		preset:    p,
		ps:        ps,
		context:   cx,
		condition: condition,
		override:  override,
	}
	if err := p.m.store.SaveContextAnnotation(ctx, ca.record()); err != nil {
		return nil, domain.WrapOp(op, err)
	}
	p.annotations[ps] = append(p.annotations[ps], ca)
	p.m.logger.Debug("context annotation assigned",
		"preset", p.key.String(), "ps", ps.Key(), "context", contextID, "annotation", ca.id)
	p.Rollout(ctx)
	return ca, nil
}

// RemoveContextAnnotation deletes ca from the preset and rolls out.
func (p *Preset) RemoveContextAnnotation(ctx context.Context, ca *ContextAnnotation) error {
	const op = "Preset.RemoveContextAnnotation"
	if ca == nil || ca.preset != p {
		return misuse(op, "annotation does not belong to "+p.key.String())
	}
	p.ensure()
	i := slices.Index(p.annotations[ca.ps], ca)
	if i < 0 {
		return domain.NewSubSystemError("annotation", op, domain.ErrNotFound, ca.id)
	}
	if err := p.m.store.DeleteContextAnnotation(ctx, ca.id); err != nil {
		return domain.WrapOp(op, err)
	}
	p.annotations[ca.ps] = slices.Delete(p.annotations[ca.ps], i, i+1)
	if len(p.annotations[ca.ps]) == 0 {
		delete(p.annotations, ca.ps)
	}
	p.Rollout(ctx)
	return nil
}

// Transaction returns the preset's transaction.
func (p *Preset) Transaction() *Transaction {
	p.ensure()
	if p.tx == nil {
		p.tx = &Transaction{p: p}
	}
	return p.tx
}

// Rollout verifies the service features of every assigned app.
func (p *Preset) Rollout(ctx context.Context) {
	b := ipc.Begin(p.m.notifier)
	defer b.End()
	for _, a := range p.AssignedApps() {
		a.VerifyServiceFeatures(ctx)
	}
	p.m.recorder.Rollout()
}

func (p *Preset) sharesAppWith(other *Preset) bool {
	for _, a := range p.AssignedApps() {
		if other.IsAppAssigned(a) {
			return true
		}
	}
	return false
}

// IsPrivacySettingConflicting reports whether other, sharing an app with p,
// grants ps a different value that permits at least what p grants. The
// check is directional: with p granting "city" and other granting "exact",
// p conflicts with other but not the reverse. Values outside the domain are
// logged and count as no conflict.
func (p *Preset) IsPrivacySettingConflicting(other *Preset, ps *PrivacySetting) bool {
	if other == nil || ps == nil || !p.sharesAppWith(other) {
		return false
	}
	here, ok := p.GrantedValue(ps)
	if !ok {
		return false
	}
	there, ok := other.GrantedValue(ps)
	if !ok || here == there {
		return false
	}
	wider, err := ps.Permits(here, there)
	if err != nil {
		p.m.logger.Warn("invalid value while checking for PS/PS conflicts",
			"preset", p.key.String(), "other", other.key.String(), "ps", ps.Key(), "error", err)
		return false
	}
	return wider
}

// PSPSConflicts returns the granted settings of p conflicting with other.
func (p *Preset) PSPSConflicts(other *Preset) []*PrivacySetting {
	var out []*PrivacySetting
	for _, ps := range p.GrantedPrivacySettings() {
		if p.IsPrivacySettingConflicting(other, ps) {
			out = append(out, ps)
		}
	}
	return out
}

// CAPSConflicts returns the settings on which an annotation of p conflicts
// with the grant of other.
func (p *Preset) CAPSConflicts(other *Preset) []*PrivacySetting {
	var out []*PrivacySetting
	for _, ca := range p.allAnnotations() {
		if ca.IsPrivacySettingConflicting(other) && !slices.Contains(out, ca.ps) {
			out = append(out, ca.ps)
		}
	}
	return out
}

// CACAConflicts returns the annotations of other on settings p annotates
// too, when the presets share an app.
func (p *Preset) CACAConflicts(other *Preset) []*ContextAnnotation {
	var out []*ContextAnnotation
	for _, ca := range p.allAnnotations() {
		for _, c := range ca.ConflictingContextAnnotations(other) {
			if !slices.Contains(out, c) {
				out = append(out, c)
			}
		}
	}
	return out
}

// fingerprint changes whenever anything a conflict depends on changes.
func (p *Preset) fingerprint() string {
	rec := p.record()
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s|%s|%t|", rec.Name, p.key, rec.Deleted)
	for _, g := range rec.Grants {
		fmt.Fprintf(&sb, "%s/%s=%s;", g.ResourceGroup, g.PrivacySetting, g.Value)
	}
	sb.WriteString(strings.Join(rec.Apps, ","))
	for _, ca := range p.allAnnotations() {
		fmt.Fprintf(&sb, "|%s:%s:%s:%s", ca.id, ca.context.Identifier(), ca.condition, ca.override)
	}
	return sb.String()
}
