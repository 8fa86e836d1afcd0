package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"pmp/internal/descriptor"
	"pmp/internal/infra/config"
	"pmp/internal/infra/logger"
	"pmp/internal/plugin"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(ctx context.Context, cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor(ctx context.Context, cfgPath string, out io.Writer) error {
	cfg, cfgErr := config.Load(cfgPath)
	if cfg == nil {
		cfg = config.Defaults()
	}

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Store", Fn: checkStore},
		{Name: "Resource group bundles", Fn: checkBundles},
		{Name: "App descriptors", Fn: checkAppDescriptors},
		{Name: "Registry", Fn: checkRegistry},
		{Name: "Location fixes", Fn: checkLocationFixes},
	}

	fmt.Fprintln(out, "pmp doctor")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(ctx, cfg)
		result.Name = check.Name

		fmt.Fprintf(out, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(out, "      Fix: %s\n", result.Fix)
		}
		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config file exists and loaded. A
// missing file is only a warning: defaults apply.
func checkConfigFile(cfgPath string, cfgErr error) func(context.Context, *config.Config) CheckResult {
	return func(context.Context, *config.Config) CheckResult {
		if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
				Fix:     "Create config.yaml or set PMP_CONFIG",
			}
		}
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check config.yaml syntax and values",
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("config loaded from %s", cfgPath)}
	}
}

func checkStore(_ context.Context, cfg *config.Config) CheckResult {
	s, err := openStore(cfg.Store, logger.Discard())
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     "Check store.path is writable",
		}
	}
	if err := s.Close(); err != nil {
		return CheckResult{Status: StatusWarn, Message: fmt.Sprintf("close: %v", err)}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s store at %s", cfg.Store.Driver, cfg.Store.Path)}
}

func checkBundles(_ context.Context, cfg *config.Config) CheckResult {
	var missing []string
	for _, d := range cfg.Plugins.Dirs {
		if _, err := os.Stat(d); err != nil {
			missing = append(missing, d)
		}
	}
	bundles, err := plugin.ScanDirectories(cfg.Plugins.Dirs)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error(), Fix: "Fix or remove the broken resourcegroup.yaml"}
	}
	var broken []string
	for i := range bundles {
		if err := plugin.Verify(bundles[i].Package, &bundles[i]); err != nil {
			broken = append(broken, bundles[i].Package)
		}
	}
	switch {
	case len(broken) > 0:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%d bundle(s) would fail installation: %s", len(broken), strings.Join(broken, ", ")),
		}
	case len(missing) > 0:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%d bundle(s); missing directories: %s", len(bundles), strings.Join(missing, ", ")),
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d bundle(s) found", len(bundles))}
}

func checkAppDescriptors(ctx context.Context, cfg *config.Config) CheckResult {
	src := descriptor.DirSource{Dirs: cfg.Apps.Dirs}
	pkgs, err := src.Packages()
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	var invalid []string
	for _, pkg := range pkgs {
		d, err := src.AppDescriptor(ctx, pkg)
		if err != nil || len(descriptor.ValidateApp(d)) > 0 {
			invalid = append(invalid, pkg)
		}
	}
	if len(invalid) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%d of %d descriptor(s) invalid: %s", len(invalid), len(pkgs), strings.Join(invalid, ", ")),
			Fix:     "Run 'pmp app register <package>' to see the reason",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d descriptor(s) found", len(pkgs))}
}

func checkRegistry(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg.Plugins.RegistryURL == "" {
		return CheckResult{Status: StatusPass, Message: "no registry configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Plugins.RegistryURL, nil)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("registry unreachable: %v", err),
			Fix:     "Install bundles with 'pmp rg install --local'",
		}
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return CheckResult{Status: StatusWarn, Message: fmt.Sprintf("registry returned %s", resp.Status)}
	}
	return CheckResult{Status: StatusPass, Message: "registry reachable"}
}

func checkLocationFixes(_ context.Context, cfg *config.Config) CheckResult {
	path := cfg.Contexts.Location.FixesFile
	if path == "" {
		return CheckResult{Status: StatusPass, Message: "no fix source configured, location context stays idle"}
	}
	if _, err := os.Stat(path); err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("fixes file %s: %v", path, err),
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("reading fixes from %s", path)}
}
