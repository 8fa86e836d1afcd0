package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxIncludeDepth = 10

// processIncludes overlays the files named by cfg.Includes onto cfg, in
// order. Patterns are globs relative to baseDir and must stay inside it.
// visited holds absolute paths already merged; a repeat is a cycle.
func processIncludes(cfg *Config, baseDir string, visited map[string]bool, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}
	if visited == nil {
		visited = make(map[string]bool)
	}

	patterns := cfg.Includes
	cfg.Includes = nil
	for _, pattern := range patterns {
		paths, err := resolveIncludePaths(pattern, baseDir)
		if err != nil {
			return err
		}
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return fmt.Errorf("config includes: abs path %q: %w", p, err)
			}
			if visited[abs] {
				return fmt.Errorf("config includes: circular include detected for %q", abs)
			}
			visited[abs] = true
			if err := mergeFile(cfg, abs, visited, depth+1); err != nil {
				return err
			}
		}
	}
	cfg.Includes = nil
	return nil
}

// resolveIncludePaths expands pattern. A literal path that does not exist is
// returned as is so mergeFile reports it; a glob matching nothing is fine.
func resolveIncludePaths(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}
	pattern = filepath.Clean(pattern)

	if rel, err := filepath.Rel(baseDir, pattern); err == nil && strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("config includes: path %q escapes config directory", pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
		return []string{pattern}, nil
	}
	return matches, nil
}

// mergeFile unmarshals path onto cfg, then follows its own includes.
func mergeFile(cfg *Config, path string, visited map[string]bool, depth int) error {
	if err := validatePermissions(path); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config includes: read %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}

	cfg.Includes = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config includes: parse %q: %w", path, err)
	}
	if len(cfg.Includes) > 0 {
		return processIncludes(cfg, filepath.Dir(path), visited, depth)
	}
	return nil
}
