package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pmp/internal/domain"
)

// RegistryEntry describes a resource-group bundle offered by the remote
// registry index.
type RegistryEntry struct {
	Package     string   `json:"package"`
	Name        string   `json:"name"`
	Revision    int64    `json:"revision"`
	Description string   `json:"description"`
	DownloadURL string   `json:"download_url"` // direct URL to .tar.gz
	Checksum    string   `json:"checksum"`     // SHA256 hex
	Tags        []string `json:"tags"`
}

const registryCacheFile = "registry.json"

// Registry is a client for the remote bundle index, a JSON array of
// entries. The last fetched index is cached on disk and served when the
// network fails.
type Registry struct {
	url      string
	cacheDir string
	cacheTTL time.Duration
	client   *http.Client

	mu      sync.RWMutex
	entries []RegistryEntry
	fetched time.Time

	logger *slog.Logger
}

// NewRegistry creates a registry client.
func NewRegistry(url, cacheDir string, logger *slog.Logger) *Registry {
	return &Registry{
		url:      url,
		cacheDir: cacheDir,
		cacheTTL: 15 * time.Minute,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

// Refresh fetches the index from the remote URL.
func (r *Registry) Refresh(ctx context.Context) error {
	if r.url == "" {
		return fmt.Errorf("%w: no registry url configured", domain.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fmt.Errorf("registry request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("registry fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry fetch: HTTP %d", resp.StatusCode)
	}

	var entries []RegistryEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return fmt.Errorf("registry decode: %w", err)
	}

	r.mu.Lock()
	r.entries = entries
	r.fetched = time.Now()
	r.mu.Unlock()

	if r.cacheDir != "" {
		if err := r.saveCache(entries); err != nil {
			r.logger.Warn("failed to cache registry index", "error", err)
		}
	}
	return nil
}

// Entries returns the index, refreshing it when stale.
func (r *Registry) Entries(ctx context.Context) ([]RegistryEntry, error) {
	r.mu.RLock()
	stale := time.Since(r.fetched) > r.cacheTTL
	entries := r.entries
	r.mu.RUnlock()

	if !stale && entries != nil {
		return entries, nil
	}

	if entries == nil && r.cacheDir != "" {
		if cached, err := r.loadCache(); err == nil {
			r.mu.Lock()
			r.entries = cached
			r.mu.Unlock()
			entries = cached
		}
	}

	if err := r.Refresh(ctx); err != nil {
		if entries != nil {
			r.logger.Warn("using stale registry cache", "error", err)
			return entries, nil
		}
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries, nil
}

// Search returns entries whose package, name, description or tags contain
// query, case-insensitively.
func (r *Registry) Search(ctx context.Context, query string) ([]RegistryEntry, error) {
	entries, err := r.Entries(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var results []RegistryEntry
	for _, e := range entries {
		if matchesQuery(e, q) {
			results = append(results, e)
		}
	}
	return results, nil
}

// Get returns the entry of pkg. When the index lists a package more than
// once the highest revision wins.
func (r *Registry) Get(ctx context.Context, pkg string) (*RegistryEntry, error) {
	entries, err := r.Entries(ctx)
	if err != nil {
		return nil, err
	}
	var best *RegistryEntry
	for i := range entries {
		if entries[i].Package == pkg && (best == nil || entries[i].Revision > best.Revision) {
			best = &entries[i]
		}
	}
	if best == nil {
		return nil, domain.NewSubSystemError("plugin", "Registry.Get", domain.ErrPluginNotFound, pkg)
	}
	return best, nil
}

func matchesQuery(e RegistryEntry, q string) bool {
	for _, s := range []string{e.Package, e.Name, e.Description} {
		if strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	for _, tag := range e.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

func (r *Registry) saveCache(entries []RegistryEntry) error {
	if err := os.MkdirAll(r.cacheDir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.cacheDir, registryCacheFile), data, 0o644)
}

func (r *Registry) loadCache() ([]RegistryEntry, error) {
	data, err := os.ReadFile(filepath.Join(r.cacheDir, registryCacheFile))
	if err != nil {
		return nil, err
	}
	var entries []RegistryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
