// Command pmp manages privacy presets: apps, resource groups, presets and
// their context annotations, and runs the daemon that keeps them in effect.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"pmp/internal/infra/config"
	"pmp/internal/infra/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		var u usageError
		if errors.As(err, &u) {
			fmt.Fprintf(os.Stderr, "%v\n\nRun 'pmp --help' for usage information.\n", err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "pmp: %v\n", err)
		os.Exit(1)
	}
}

// usageError reports a malformed command line.
type usageError string

func (u usageError) Error() string { return string(u) }

func usagef(format string, args ...any) error {
	return usageError(fmt.Sprintf(format, args...))
}

// command runs against a wired engine; args exclude the command name.
type command func(ctx context.Context, c *cli, args []string) error

var commands = map[string]command{
	"app":       runApp,
	"rg":        runResourceGroup,
	"preset":    runPreset,
	"context":   runContext,
	"conflicts": runConflicts,
	"mediate":   runMediate,
	"simple":    runSimple,
	"serve":     runServe,
	"audit":     runAudit,
}

// cli is the state every command shares.
type cli struct {
	cfg *config.Config
	e   *engine
	out io.Writer
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cfgPath, args := parseGlobalFlags(args)
	if len(args) == 0 {
		showUsage(out)
		return nil
	}

	switch args[0] {
	case "--help", "-h", "help":
		showUsage(out)
		return nil
	case "doctor":
		return runDoctor(ctx, cfgPath, out)
	}

	cmd, ok := commands[args[0]]
	if !ok {
		return usagef("unknown command: %s", args[0])
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closeLog()

	e, err := openEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer e.Close(context.WithoutCancel(ctx))

	return cmd(ctx, &cli{cfg: cfg, e: e, out: out}, args[1:])
}

// parseGlobalFlags strips --config PATH / --config=PATH from args. PMP_CONFIG
// names the file otherwise.
func parseGlobalFlags(args []string) (string, []string) {
	path := os.Getenv("PMP_CONFIG")
	if path == "" {
		path = "./config.yaml"
	}
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config" && i+1 < len(args):
			path = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--config="):
			path = strings.TrimPrefix(args[i], "--config=")
		default:
			rest = append(rest, args[i])
		}
	}
	return path, rest
}

// hasFlag removes flag from args and reports whether it was present.
func hasFlag(args []string, flag string) ([]string, bool) {
	out := args[:0:0]
	found := false
	for _, a := range args {
		if a == flag {
			found = true
			continue
		}
		out = append(out, a)
	}
	return out, found
}

func showUsage(out io.Writer) {
	fmt.Fprintln(out, `pmp - privacy management platform

USAGE:
    pmp [--config PATH] <COMMAND> [ARGS]

COMMANDS:
    app         Apps: list, available, show, register, unregister
    rg          Resource groups: list, available, show, install, uninstall, search
    preset      Presets: list, show, add, remove, delete, restore, assign-app,
                unassign-app, grant, revoke, enable-feature, annotate, unannotate
    context     Contexts: list, refresh
    conflicts   Scan presets for conflicts
    mediate     Resolve a privacy setting value or mode for an app
    simple      Simple mode: convert, status, feature
    serve       Run the scheduler, bundle watcher and metrics endpoint
    audit       Show the latest audit trail entries
    doctor      Run health checks on your setup

CONFIGURATION:
    Config file: ./config.yaml (or PMP_CONFIG)
    Environment: PMP_* variables override config`)
}
