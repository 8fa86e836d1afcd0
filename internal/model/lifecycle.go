package model

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"go.opentelemetry.io/otel/trace"

	"pmp/internal/descriptor"
	"pmp/internal/domain"
	"pmp/internal/infra/tracer"
	"pmp/internal/ipc"
	"pmp/internal/plugin"
)

// RegistrationResult is the outcome of RegisterApp. Reason says why a
// registration failed.
type RegistrationResult struct {
	Succeeded bool   `json:"succeeded"`
	Reason    string `json:"reason,omitempty"`
}

// RegisterApp registers pkg from its descriptor. Validation failures come
// back as an unsuccessful result with the graph unchanged; registering an
// already registered app is misuse.
func (m *Model) RegisterApp(ctx context.Context, pkg string) (RegistrationResult, error) {
	const op = "Model.RegisterApp"
	ctx, span := tracer.StartSpan(ctx, "model.register_app",
		trace.WithAttributes(tracer.StringAttr("app", pkg)),
	)
	defer span.End()

	m.checkCached()
	if pkg == "" {
		return RegistrationResult{}, misuse(op, "empty app package")
	}
	if m.cache.apps[pkg] != nil {
		return RegistrationResult{}, misuse(op, fmt.Sprintf("app %s is already registered", pkg))
	}

	fail := func(logMsg, reason string) (RegistrationResult, error) {
		m.logger.Warn("app failed registration: "+logMsg, "app", pkg, "reason", reason)
		m.recorder.AppRegistration(false)
		span.SetAttributes(tracer.StringAttr("reason", reason))
		tracer.SetOK(span)
		return RegistrationResult{Reason: reason}, nil
	}

	if m.apps == nil {
		return RegistrationResult{}, misuse(op, "no app source configured")
	}
	d, err := m.apps.AppDescriptor(ctx, pkg)
	if err != nil {
		return fail("could not find associated files", err.Error())
	}
	if issues := descriptor.ValidateApp(d); len(issues) > 0 {
		return fail("descriptor contains errors", descriptor.JoinIssues(issues))
	}
	if d.Identifier != pkg {
		return fail("descriptor inconsistent with request",
			fmt.Sprintf("App package (parameter, descriptor) mismatch: '%s' != '%s'", pkg, d.Identifier))
	}
	if m.prober != nil && !m.prober.Reachable(ctx, pkg, d.Service) {
		return fail("service not available", "Service not available.")
	}
	for _, sf := range d.ServiceFeatures {
		for _, req := range sf.RequiredResourceGroups {
			if rg := m.cache.rgs[req.Identifier]; rg != nil && rg.revision < req.MinRevision {
				return fail("requests newer resource groups than installed",
					fmt.Sprintf("Requesting newer ResourceGroups not supported: '%s' revision %d is installed, %d requested.",
						req.Identifier, rg.revision, req.MinRevision))
			}
		}
	}

	rec := appRecord(d)
	if err := m.store.SaveApp(ctx, rec); err != nil {
		tracer.RecordError(span, err)
		return RegistrationResult{}, domain.WrapOp(op, err)
	}
	pending := m.presetsWhere(func(p *Preset) bool { return !p.IsAvailable() && !p.IsDeleted() })
	m.cache.apps[pkg] = newApp(m, rec)

	m.cascade(func() {
		for _, p := range pending {
			p.forceRecache()
			if p.IsAvailable() && !p.IsDeleted() {
				p.Rollout(ctx)
			}
		}
	})

	m.logger.Info("app registered", "app", pkg, "service_features", len(rec.ServiceFeatures))
	m.recorder.AppRegistration(true)
	m.publishEvent(domain.EventAppRegistered, pkg, nil)
	tracer.SetOK(span)
	return RegistrationResult{Succeeded: true}, nil
}

// UnregisterApp removes pkg. Presets referencing it are recached, so they
// record it as missing, and rolled out. Reports false if pkg was unknown.
func (m *Model) UnregisterApp(ctx context.Context, pkg string) (bool, error) {
	const op = "Model.UnregisterApp"
	ctx, span := tracer.StartSpan(ctx, "model.unregister_app",
		trace.WithAttributes(tracer.StringAttr("app", pkg)),
	)
	defer span.End()

	m.checkCached()
	app := m.cache.apps[pkg]
	if app == nil {
		tracer.SetOK(span)
		return false, nil
	}
	assigned := app.AssignedPresets()
	if err := m.store.DeleteApp(ctx, pkg); err != nil {
		tracer.RecordError(span, err)
		return false, domain.WrapOp(op, err)
	}
	delete(m.cache.apps, pkg)

	m.cascade(func() {
		for _, p := range assigned {
			p.forceRecache()
			if !p.IsDeleted() {
				p.Rollout(ctx)
			}
		}
	})

	m.logger.Info("app unregistered", "app", pkg, "presets", len(assigned))
	m.publishEvent(domain.EventAppUnregistered, pkg, nil)
	tracer.SetOK(span)
	return true, nil
}

// InstallResourceGroup installs the bundle pkg, downloading it first unless
// skipDownload is set. A bundle failing verification is uninstalled again
// and the error carries the reason; the graph is left unchanged.
func (m *Model) InstallResourceGroup(ctx context.Context, pkg string, skipDownload bool) (err error) {
	const op = "Model.InstallResourceGroup"
	ctx, span := tracer.StartSpan(ctx, "model.install_resource_group",
		trace.WithAttributes(tracer.StringAttr("rg", pkg)),
	)
	defer span.End()

	m.checkCached()
	if pkg == "" {
		return misuse(op, "empty resource group package")
	}
	if m.cache.rgs[pkg] != nil {
		return misuse(op, fmt.Sprintf("resource group %s is already installed", pkg))
	}
	if _, blocked := m.unallowedInstall[pkg]; blocked {
		return domain.NewSubSystemError("model", op, domain.ErrReinstallBlocked, pkg)
	}
	if m.plugins == nil {
		return misuse(op, "no plugin provider configured")
	}

	defer func() {
		m.recorder.ResourceGroupInstall(err == nil)
		if err != nil {
			tracer.RecordError(span, err)
			m.logger.Warn("resource group failed installation", "rg", pkg, "reason", domain.Reason(err))
			return
		}
		tracer.SetOK(span)
	}()

	if !skipDownload {
		if err := m.plugins.Download(ctx, pkg); err != nil {
			return domain.WrapOp(op, err)
		}
	}
	bundle, err := m.plugins.Install(ctx, pkg)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	rollback := func(cause error) error {
		if uerr := m.plugins.Uninstall(pkg); uerr != nil {
			m.logger.Warn("could not uninstall rejected bundle", "rg", pkg, "error", uerr)
		}
		return domain.WrapOp(op, cause)
	}
	if err := plugin.Verify(pkg, bundle); err != nil {
		return rollback(err)
	}
	rec := resourceGroupRecord(bundle)
	rg, err := newResourceGroup(rec)
	if err != nil {
		return rollback(domain.NewSubSystemError("plugin", "plugin.Verify", domain.ErrInvalidPlugin, err.Error()))
	}
	if err := m.store.SaveResourceGroup(ctx, rec); err != nil {
		return rollback(err)
	}

	unavailable := m.featuresWhere(func(sf *ServiceFeature) bool { return !sf.IsAvailable() })
	pending := m.presetsWhere(func(p *Preset) bool { return !p.IsAvailable() })
	m.cache.rgs[pkg] = rg

	m.cascade(func() {
		for app, features := range unavailable {
			if slices.ContainsFunc(features, (*ServiceFeature).IsAvailable) {
				app.VerifyServiceFeatures(ctx)
			}
		}
		for _, p := range pending {
			p.forceRecache()
			if p.IsAvailable() && !p.IsDeleted() {
				p.Rollout(ctx)
			}
		}
	})

	m.logger.Info("resource group installed", "rg", pkg, "revision", rg.revision, "privacy_settings", len(rg.settings))
	m.publishEvent(domain.EventResourceGroupInstalled, pkg, map[string]int64{"revision": rg.revision})
	return nil
}

// UninstallResourceGroup removes pkg. Dependent presets are recached and
// those that became unavailable rolled out. The package cannot be installed
// again by this process. Reports false if pkg was not installed.
func (m *Model) UninstallResourceGroup(ctx context.Context, pkg string) (bool, error) {
	const op = "Model.UninstallResourceGroup"
	ctx, span := tracer.StartSpan(ctx, "model.uninstall_resource_group",
		trace.WithAttributes(tracer.StringAttr("rg", pkg)),
	)
	defer span.End()

	m.checkCached()
	rg := m.cache.rgs[pkg]
	if rg == nil {
		tracer.SetOK(span)
		return false, nil
	}
	available := m.featuresWhere((*ServiceFeature).IsAvailable)
	dependents := m.presetsWhere(func(p *Preset) bool { return p.references(rg) })
	wasAvailable := make(map[*Preset]bool, len(dependents))
	for _, p := range dependents {
		wasAvailable[p] = p.IsAvailable() && !p.IsDeleted()
	}

	if err := m.store.DeleteResourceGroup(ctx, pkg); err != nil {
		tracer.RecordError(span, err)
		return false, domain.WrapOp(op, err)
	}
	if m.plugins != nil {
		if err := m.plugins.Uninstall(pkg); err != nil {
			m.logger.Warn("plugin provider could not uninstall bundle", "rg", pkg, "error", err)
		}
	}
	m.unallowedInstall[pkg] = struct{}{}
	delete(m.cache.rgs, pkg)

	m.cascade(func() {
		for app, features := range available {
			if !allAvailable(features) {
				app.VerifyServiceFeatures(ctx)
			}
		}
		for _, p := range dependents {
			p.forceRecache()
			if wasAvailable[p] && !p.IsAvailable() {
				p.Rollout(ctx)
			}
		}
	})

	m.logger.Info("resource group uninstalled", "rg", pkg)
	m.publishEvent(domain.EventResourceGroupUninstalled, pkg, nil)
	tracer.SetOK(span)
	return true, nil
}

// AddPreset creates an empty preset. creator is empty for user presets and
// otherwise must name a registered app or installed resource group.
func (m *Model) AddPreset(ctx context.Context, creator, id, name, description string) (*Preset, error) {
	const op = "Model.AddPreset"
	m.checkCached()
	if id == "" {
		return nil, misuse(op, "empty preset identifier")
	}
	if creator != "" && m.cache.apps[creator] == nil && m.cache.rgs[creator] == nil {
		return nil, misuse(op, fmt.Sprintf("invalid creator %q", creator))
	}
	key := domain.PresetKey{Creator: creator, Identifier: id}
	if m.cache.preset(key) != nil {
		return nil, domain.NewSubSystemError("preset", op, domain.ErrDuplicate, key.String())
	}
	rec := domain.PresetRecord{Creator: creator, Identifier: id, Name: name, Description: description}
	if err := m.store.SavePreset(ctx, rec); err != nil {
		return nil, domain.WrapOp(op, err)
	}
	p := newPresetPlaceholder(m, key)
	p.apply(rec, nil)
	m.cache.putPreset(p)

	m.logger.Info("preset added", "preset", key.String())
	m.publishEvent(domain.EventPresetAdded, key.String(), nil)
	return p, nil
}

// AddUserPreset creates a user preset named name. Its identifier is the
// first of name, name2, name3, ... not yet taken.
func (m *Model) AddUserPreset(ctx context.Context, name, description string) (*Preset, error) {
	m.checkCached()
	if name == "" {
		return nil, misuse("Model.AddUserPreset", "empty preset name")
	}
	stored, err := m.store.PresetIdentifiers(ctx, "")
	if err != nil {
		return nil, domain.WrapOp("Model.AddUserPreset", err)
	}
	taken := func(id string) bool {
		return slices.Contains(stored, id) || m.cache.preset(domain.PresetKey{Identifier: id}) != nil
	}
	id := name
	for suffix := 2; taken(id); suffix++ {
		id = name + strconv.Itoa(suffix)
	}
	return m.AddPreset(ctx, "", id, name, description)
}

// RemovePreset deletes a preset with its annotations and re-verifies the
// apps it was assigned to. Reports false if there was no such preset.
func (m *Model) RemovePreset(ctx context.Context, creator, id string) (bool, error) {
	m.checkCached()
	key := domain.PresetKey{Creator: creator, Identifier: id}
	p := m.cache.preset(key)
	if p == nil {
		return false, nil
	}
	apps := p.AssignedApps()
	if err := m.store.DeletePreset(ctx, key); err != nil {
		return false, domain.WrapOp("Model.RemovePreset", err)
	}
	m.cache.removePreset(key)

	m.cascade(func() {
		for _, a := range apps {
			a.VerifyServiceFeatures(ctx)
		}
	})

	m.logger.Info("preset removed", "preset", key.String())
	m.publishEvent(domain.EventPresetRemoved, key.String(), nil)
	return true, nil
}

// cascade runs fn inside an update batch, released even if fn panics.
func (m *Model) cascade(fn func()) {
	b := ipc.Begin(m.notifier)
	defer b.End()
	fn()
}

func (m *Model) presetsWhere(keep func(*Preset) bool) []*Preset {
	var out []*Preset
	for _, p := range m.cache.Presets() {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// featuresWhere groups the features matching keep by app.
func (m *Model) featuresWhere(keep func(*ServiceFeature) bool) map[*App][]*ServiceFeature {
	out := make(map[*App][]*ServiceFeature)
	for _, a := range m.cache.apps {
		for _, sf := range a.features {
			if keep(sf) {
				out[a] = append(out[a], sf)
			}
		}
	}
	return out
}

func allAvailable(features []*ServiceFeature) bool {
	for _, sf := range features {
		if !sf.IsAvailable() {
			return false
		}
	}
	return true
}

// references reports whether p grants or annotates a setting of rg.
func (p *Preset) references(rg *ResourceGroup) bool {
	p.ensure()
	for ps := range p.grants {
		if ps.rg == rg {
			return true
		}
	}
	for ps := range p.annotations {
		if ps.rg == rg {
			return true
		}
	}
	return false
}
