package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseManifest decodes a resourcegroup.yaml.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// ScanDirectories walks each directory looking for <pkg>/resourcegroup.yaml
// bundle manifests. Malformed manifests and manifests without an
// identifier are skipped, as are hidden directories. Earlier directories win on duplicate packages.
func ScanDirectories(dirs []string) ([]Bundle, error) {
	var bundles []Bundle
	seen := make(map[string]bool)
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read bundle dir %s: %w", dir, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || seen[entry.Name()] {
				continue
			}
			bundleDir := filepath.Join(dir, entry.Name())
			data, err := os.ReadFile(filepath.Join(bundleDir, ManifestFile))
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, fmt.Errorf("read manifest %s: %w", bundleDir, err)
			}
			m, err := ParseManifest(data)
			if err != nil || m.Identifier == "" {
				continue
			}
			seen[entry.Name()] = true
			bundles = append(bundles, Bundle{Package: entry.Name(), Dir: bundleDir, Manifest: m})
		}
	}
	return bundles, nil
}
