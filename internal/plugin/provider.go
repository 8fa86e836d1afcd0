package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"pmp/internal/domain"
)

// ProviderConfig configures where bundles are found and which permissions
// they may request.
type ProviderConfig struct {
	Dirs             []string
	AllowPermissions []string
	DenyPermissions  []string
}

// Provider keeps the index of bundles available on disk and the set the
// engine has installed. Installed bundles are snapshots: a later rescan
// does not change what an installed bundle reports.
type Provider struct {
	mu        sync.RWMutex
	index     map[string]Bundle
	installed map[string]Bundle

	cfg       ProviderConfig
	installer *Installer
	bus       domain.EventBus
	logger    *slog.Logger
}

// NewProvider creates a provider. installer and bus may be nil; without an
// installer Download always fails.
func NewProvider(cfg ProviderConfig, installer *Installer, bus domain.EventBus, logger *slog.Logger) *Provider {
	if installer != nil && !slices.Contains(cfg.Dirs, installer.Dir()) {
		cfg.Dirs = append(slices.Clone(cfg.Dirs), installer.Dir())
	}
	return &Provider{
		index:     make(map[string]Bundle),
		installed: make(map[string]Bundle),
		cfg:       cfg,
		installer: installer,
		bus:       bus,
		logger:    logger,
	}
}

// Dirs returns the directories scanned for bundles.
func (p *Provider) Dirs() []string { return slices.Clone(p.cfg.Dirs) }

// Rescan rebuilds the bundle index from disk.
func (p *Provider) Rescan() error {
	bundles, err := ScanDirectories(p.cfg.Dirs)
	if err != nil {
		return err
	}
	index := make(map[string]Bundle, len(bundles))
	for _, b := range bundles {
		index[b.Package] = b
	}

	p.mu.Lock()
	changed := !slices.Equal(slices.Sorted(maps.Keys(p.index)), slices.Sorted(maps.Keys(index)))
	p.index = index
	p.mu.Unlock()

	p.logger.Debug("bundle index rescanned", "bundles", len(index))
	if changed {
		p.publishEvent(domain.EventBundlesChanged, "")
	}
	return nil
}

// Download fetches pkg from the registry and adds it to the index.
func (p *Provider) Download(ctx context.Context, pkg string) error {
	if p.installer == nil {
		return domain.NewSubSystemError("plugin", "Provider.Download", domain.ErrPluginNotFound, "no registry configured for "+pkg)
	}
	if err := p.installer.Fetch(ctx, pkg); err != nil {
		return err
	}
	return p.Rescan()
}

// Install marks pkg installed and returns its bundle. The bundle is looked
// up in the index, rescanning once when it is missing.
func (p *Provider) Install(_ context.Context, pkg string) (*Bundle, error) {
	b, ok := p.lookup(pkg)
	if !ok {
		if err := p.Rescan(); err != nil {
			return nil, err
		}
		if b, ok = p.lookup(pkg); !ok {
			return nil, domain.NewSubSystemError("plugin", "Provider.Install", domain.ErrPluginNotFound, pkg)
		}
	}
	if err := ValidatePermissions(&b, p.cfg.AllowPermissions, p.cfg.DenyPermissions); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.installed[pkg] = b
	p.mu.Unlock()

	p.logger.Info("bundle installed", "rg", pkg, "dir", b.Dir)
	return &b, nil
}

// Uninstall forgets an installed bundle. Files on disk are kept.
func (p *Provider) Uninstall(pkg string) error {
	p.mu.Lock()
	_, ok := p.installed[pkg]
	delete(p.installed, pkg)
	p.mu.Unlock()

	if !ok {
		return domain.NewSubSystemError("plugin", "Provider.Uninstall", domain.ErrPluginNotFound, pkg)
	}
	p.logger.Info("bundle uninstalled", "rg", pkg)
	return nil
}

// Bundle returns the installed bundle of pkg.
func (p *Provider) Bundle(pkg string) (*Bundle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.installed[pkg]
	if !ok {
		return nil, false
	}
	return &b, true
}

// Installed lists installed packages, sorted.
func (p *Provider) Installed() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Sorted(maps.Keys(p.installed))
}

// Available returns every indexed bundle ordered by package.
func (p *Provider) Available() []Bundle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Bundle, 0, len(p.index))
	for _, pkg := range slices.Sorted(maps.Keys(p.index)) {
		out = append(out, p.index[pkg])
	}
	return out
}

func (p *Provider) lookup(pkg string) (Bundle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.index[pkg]
	return b, ok
}

func (p *Provider) publishEvent(eventType domain.EventType, subject string) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(context.Background(), domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Subject:   subject,
		Payload:   mustJSON(map[string][]string{"available": p.availablePackages()}),
	})
}

func (p *Provider) availablePackages() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Sorted(maps.Keys(p.index))
}

// mustJSON marshals v, panicking on error (programmer error).
func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("plugin: marshal event payload: %v", err))
	}
	return b
}
