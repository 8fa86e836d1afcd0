package plugin

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pmp/internal/domain"
)

// maxBundleFile caps each extracted file.
const maxBundleFile = 100 << 20

// Installer downloads bundles listed in the registry into a local
// directory, verifying their checksum and manifest.
type Installer struct {
	dir      string
	registry *Registry
	client   *http.Client
	logger   *slog.Logger
}

// NewInstaller creates an installer writing bundles to dir/<package>.
func NewInstaller(dir string, registry *Registry, logger *slog.Logger) *Installer {
	return &Installer{
		dir:      dir,
		registry: registry,
		client:   &http.Client{Timeout: 5 * time.Minute},
		logger:   logger,
	}
}

// Dir is the directory bundles are downloaded to.
func (i *Installer) Dir() string { return i.dir }

// Fetch downloads pkg, replacing any previously downloaded copy only once
// the new one has been verified.
func (i *Installer) Fetch(ctx context.Context, pkg string) error {
	if pkg == "" || filepath.Base(pkg) != pkg {
		return domain.NewDomainError("Installer.Fetch", domain.ErrInvalidInput, fmt.Sprintf("bad package %q", pkg))
	}
	entry, err := i.registry.Get(ctx, pkg)
	if err != nil {
		return err
	}
	if entry.DownloadURL == "" {
		return domain.NewSubSystemError("plugin", "Installer.Fetch", domain.ErrInvalidPlugin, "no download url for "+pkg)
	}

	if err := os.MkdirAll(i.dir, 0o755); err != nil {
		return fmt.Errorf("create bundle dir: %w", err)
	}
	staging, err := os.MkdirTemp(i.dir, ".staging-"+pkg+"-")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := i.download(ctx, entry, staging); err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Join(staging, ManifestFile))
	if err != nil {
		return domain.NewSubSystemError("plugin", "Installer.Fetch", domain.ErrInvalidPlugin, "bundle has no "+ManifestFile)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return domain.NewSubSystemError("plugin", "Installer.Fetch", domain.ErrInvalidDescriptor, err.Error())
	}
	if m.Identifier != pkg {
		return mismatch("ResourceGroup package (registry, XML)", pkg, m.Identifier)
	}

	dest := filepath.Join(i.dir, pkg)
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("remove previous bundle: %w", err)
	}
	if err := os.Rename(staging, dest); err != nil {
		return fmt.Errorf("move bundle into place: %w", err)
	}

	i.logger.Info("bundle downloaded", "rg", pkg, "revision", entry.Revision)
	return nil
}

// Remove deletes a downloaded bundle.
func (i *Installer) Remove(pkg string) error {
	dest := filepath.Join(i.dir, pkg)
	if _, err := os.Stat(dest); errors.Is(err, os.ErrNotExist) {
		return domain.NewSubSystemError("plugin", "Installer.Remove", domain.ErrPluginNotFound, pkg)
	}
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("remove bundle: %w", err)
	}
	return nil
}

func (i *Installer) download(ctx context.Context, entry *RegistryEntry, destDir string) error {
	tmp, err := os.CreateTemp("", "pmp-bundle-*.tar.gz")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.DownloadURL, nil)
	if err != nil {
		return fmt.Errorf("download request: %w", err)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download: HTTP %d", resp.StatusCode)
	}

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body); err != nil {
		return fmt.Errorf("download write: %w", err)
	}

	got := hex.EncodeToString(hasher.Sum(nil))
	if entry.Checksum != "" && !strings.EqualFold(got, entry.Checksum) {
		return domain.NewSubSystemError("plugin", "Installer.Fetch", domain.ErrInvalidPlugin,
			fmt.Sprintf("checksum mismatch: got %s, want %s", got, entry.Checksum))
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek temp file: %w", err)
	}
	if err := extractTarGz(tmp, destDir); err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	return nil
}

// extractTarGz extracts a .tar.gz stream into destDir, refusing entries
// that would land outside it.
func extractTarGz(r io.Reader, destDir string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("gzip reader: %w", err)
	}
	defer gzr.Close()

	root := filepath.Clean(destDir)
	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tar next: %w", err)
		}

		target := filepath.Clean(filepath.Join(destDir, header.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("path traversal detected: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("mkdir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("mkdir parent %s: %w", target, err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode)&0o755)
			if err != nil {
				return fmt.Errorf("create %s: %w", target, err)
			}
			if _, err := io.Copy(f, io.LimitReader(tr, maxBundleFile)); err != nil {
				f.Close()
				return fmt.Errorf("write %s: %w", target, err)
			}
			f.Close()
		}
	}
}
