// Package model is the consistency engine. It holds the live graph of apps,
// resource groups, privacy settings, service features and presets, keeps
// preset availability in step with installs and removals, and resolves the
// grants in effect for each app over the permits lattice.
//
// The graph has no internal locking. Callers serialize mutations.
package model

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"pmp/internal/contexts"
	"pmp/internal/domain"
	"pmp/internal/ipc"
	"pmp/internal/plugin"
)

// PluginProvider supplies resource-group bundles.
type PluginProvider interface {
	// Download fetches the bundle for pkg into the provider's directories.
	Download(ctx context.Context, pkg string) error
	// Install marks pkg installed and returns its bundle.
	Install(ctx context.Context, pkg string) (*plugin.Bundle, error)
	// Uninstall forgets an installed bundle.
	Uninstall(pkg string) error
}

// AppSource supplies the descriptor an app registers with.
type AppSource interface {
	AppDescriptor(ctx context.Context, pkg string) (domain.AppDescriptor, error)
}

// ServiceProber answers whether an app's mediation service is reachable.
type ServiceProber interface {
	Reachable(ctx context.Context, app, serviceURL string) bool
}

// Notifier receives service-feature verifications. StartUpdate and EndUpdate
// nest; queued verifications are delivered once the outermost batch ends.
type Notifier interface {
	StartUpdate()
	EndUpdate()
	Queue(app string, features map[string]bool)
}

// Recorder observes engine activity for metrics.
type Recorder interface {
	AppRegistration(succeeded bool)
	ResourceGroupInstall(succeeded bool)
	Rollout()
}

// Deps are the collaborators of a Model.
type Deps struct {
	Store    domain.Store
	Plugins  PluginProvider
	Apps     AppSource
	Prober   ServiceProber
	Notifier Notifier
	Contexts *contexts.Registry
	Bus      domain.EventBus // optional
	Recorder Recorder        // optional
	Logger   *slog.Logger
}

// Model is the engine facade.
type Model struct {
	store    domain.Store
	plugins  PluginProvider
	apps     AppSource
	prober   ServiceProber
	notifier Notifier
	contexts *contexts.Registry
	bus      domain.EventBus
	recorder Recorder
	logger   *slog.Logger

	cache *Cache
	// packages uninstalled during this process; reinstalling them needs a restart
	unallowedInstall map[string]struct{}
}

// New creates a Model. Call Open before use.
func New(deps Deps) *Model {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := deps.Contexts
	if registry == nil {
		registry = contexts.NewRegistry(logger)
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Model{
		store:            deps.Store,
		plugins:          deps.Plugins,
		apps:             deps.Apps,
		prober:           deps.Prober,
		notifier:         notifier,
		contexts:         registry,
		bus:              deps.Bus,
		recorder:         recorder,
		logger:           logger.With("component", "model"),
		unallowedInstall: make(map[string]struct{}),
	}
}

// Open builds the cache from the store. Presets are created as placeholders
// and populate themselves on first access.
func (m *Model) Open(ctx context.Context) error {
	c, err := loadCache(ctx, m)
	if err != nil {
		return domain.WrapOp("Model.Open", err)
	}
	m.cache = c
	m.logger.Debug("cache loaded",
		"apps", len(c.apps), "resource_groups", len(c.rgs), "presets", c.presetCount())
	return nil
}

func (m *Model) checkCached() {
	if m.cache == nil {
		panic(domain.NewSubSystemError("model", "Model", domain.ErrMisuse, "model used before Open"))
	}
}

// Apps returns every registered app ordered by package.
func (m *Model) Apps() []*App {
	m.checkCached()
	return m.cache.Apps()
}

// App returns the app registered as pkg, or nil.
func (m *Model) App(pkg string) *App {
	m.checkCached()
	return m.cache.apps[pkg]
}

// ResourceGroups returns every installed resource group ordered by package.
func (m *Model) ResourceGroups() []*ResourceGroup {
	m.checkCached()
	return m.cache.ResourceGroups()
}

// ResourceGroup returns the resource group installed as pkg, or nil.
func (m *Model) ResourceGroup(pkg string) *ResourceGroup {
	m.checkCached()
	return m.cache.rgs[pkg]
}

// Presets returns every preset ordered by creator and identifier.
func (m *Model) Presets() []*Preset {
	m.checkCached()
	return m.cache.Presets()
}

// PresetsBy returns the presets of one creator. The empty creator selects
// user presets.
func (m *Model) PresetsBy(creator string) []*Preset {
	m.checkCached()
	return m.cache.PresetsBy(creator)
}

// Preset returns the preset with the given key, or nil.
func (m *Model) Preset(creator, id string) *Preset {
	m.checkCached()
	return m.cache.preset(domain.PresetKey{Creator: creator, Identifier: id})
}

// Contexts returns the registered contexts.
func (m *Model) Contexts() []contexts.Context {
	return m.contexts.All()
}

// ContextAnnotations returns every annotation using the context contextID.
// An empty contextID selects all annotations.
func (m *Model) ContextAnnotations(contextID string) []*ContextAnnotation {
	m.checkCached()
	var out []*ContextAnnotation
	for _, p := range m.cache.Presets() {
		for _, ca := range p.allAnnotations() {
			if contextID == "" || ca.Context().Identifier() == contextID {
				out = append(out, ca)
			}
		}
	}
	return out
}

// ClearAll removes every record and rebuilds an empty cache.
func (m *Model) ClearAll(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return domain.WrapOp("Model.ClearAll", err)
	}
	m.cache = newCache()
	m.logger.Info("model cleared")
	return nil
}

// RefreshContexts samples every context and rolls out each available,
// non-deleted preset carrying annotations, in one batch. Sampling failures
// are returned after the rollout.
func (m *Model) RefreshContexts(ctx context.Context) error {
	m.checkCached()
	sampleErr := m.contexts.UpdateAll(ctx)

	b := ipc.Begin(m.notifier)
	defer b.End()
	var rolled int
	for _, p := range m.cache.Presets() {
		if !p.IsAvailable() || p.IsDeleted() || len(p.allAnnotations()) == 0 {
			continue
		}
		p.Rollout(ctx)
		rolled++
	}
	m.logger.Debug("contexts refreshed", "presets", rolled)
	m.publishEvent(domain.EventContextsRefreshed, "", map[string]int{"presets": rolled})
	return sampleErr
}

func (m *Model) publishEvent(eventType domain.EventType, subject string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(context.Background(), domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Subject:   subject,
		Payload:   mustJSON(payload),
	})
}

func mustJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, _ := json.Marshal(v)
	return data
}

func misuse(op, detail string) error {
	return domain.NewSubSystemError("model", op, domain.ErrMisuse, detail)
}

func integrity(op, detail string) *domain.DomainError {
	return domain.NewSubSystemError("model", op, domain.ErrIntegrity, detail)
}

type nopRecorder struct{}

func (nopRecorder) AppRegistration(bool)      {}
func (nopRecorder) ResourceGroupInstall(bool) {}
func (nopRecorder) Rollout()                  {}

type nopNotifier struct{}

func (nopNotifier) StartUpdate()                   {}
func (nopNotifier) EndUpdate()                     {}
func (nopNotifier) Queue(string, map[string]bool) {}
