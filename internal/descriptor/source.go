package descriptor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"pmp/internal/domain"
)

// AppFile is the descriptor file name inside an app directory.
const AppFile = "app.yaml"

// DirSource finds app descriptors at <dir>/<package>/app.yaml. Earlier
// directories win.
type DirSource struct {
	Dirs []string
}

// AppDescriptor loads and parses the descriptor of pkg.
func (s DirSource) AppDescriptor(_ context.Context, pkg string) (domain.AppDescriptor, error) {
	if pkg == "" || filepath.Base(pkg) != pkg {
		return domain.AppDescriptor{}, domain.NewDomainError("DirSource.AppDescriptor", domain.ErrInvalidInput, fmt.Sprintf("bad package %q", pkg))
	}
	for _, dir := range s.Dirs {
		data, err := os.ReadFile(filepath.Join(dir, pkg, AppFile))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return domain.AppDescriptor{}, fmt.Errorf("read app descriptor %s: %w", pkg, err)
		}
		return ParseApp(data)
	}
	return domain.AppDescriptor{}, domain.NewSubSystemError("app", "DirSource.AppDescriptor", domain.ErrNotFound, pkg)
}

// Packages lists every package with a descriptor, sorted.
func (s DirSource) Packages() ([]string, error) {
	seen := make(map[string]bool)
	for _, dir := range s.Dirs {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list app descriptors: %w", err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if _, err := os.Stat(filepath.Join(dir, e.Name(), AppFile)); err == nil {
				seen[e.Name()] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for pkg := range seen {
		out = append(out, pkg)
	}
	slices.Sort(out)
	return out, nil
}
