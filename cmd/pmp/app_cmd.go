package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"pmp/internal/model"
)

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runApp(ctx context.Context, c *cli, args []string) error {
	if len(args) == 0 {
		return usagef("usage: pmp app <list|available|show|register|unregister> [package]")
	}
	switch args[0] {
	case "list":
		return appList(c)
	case "available":
		return appAvailable(c)
	}
	if len(args) < 2 {
		return usagef("usage: pmp app %s <package>", args[0])
	}
	pkg := args[1]
	switch args[0] {
	case "show":
		return appShow(c, pkg)
	case "register":
		res, err := c.e.model.RegisterApp(ctx, pkg)
		if err != nil {
			return err
		}
		if !res.Succeeded {
			return fmt.Errorf("register %s: %s", pkg, res.Reason)
		}
		fmt.Fprintf(c.out, "Registered %s.\n", pkg)
		return nil
	case "unregister":
		ok, err := c.e.model.UnregisterApp(ctx, pkg)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("app %s is not registered", pkg)
		}
		fmt.Fprintf(c.out, "Unregistered %s.\n", pkg)
		return nil
	default:
		return usagef("unknown app subcommand: %s", args[0])
	}
}

func appList(c *cli) error {
	apps := c.e.model.Apps()
	if len(apps) == 0 {
		fmt.Fprintln(c.out, "No apps registered.")
		return nil
	}
	w := newTable(c.out)
	fmt.Fprintln(w, "PACKAGE\tNAME\tFEATURES\tACTIVE\tPRESETS")
	for _, a := range apps {
		active, err := a.ActiveServiceFeatures()
		activeCol := fmt.Sprint(len(active))
		if err != nil {
			activeCol = "error"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\n",
			a.Package(), a.Name(), len(a.ServiceFeatures()), activeCol, len(a.AssignedPresets()))
	}
	return w.Flush()
}

func appAvailable(c *cli) error {
	pkgs, err := c.e.apps.Packages()
	if err != nil {
		return err
	}
	w := newTable(c.out)
	fmt.Fprintln(w, "PACKAGE\tREGISTERED")
	for _, pkg := range pkgs {
		fmt.Fprintf(w, "%s\t%t\n", pkg, c.e.model.App(pkg) != nil)
	}
	return w.Flush()
}

func appShow(c *cli, pkg string) error {
	a := c.e.model.App(pkg)
	if a == nil {
		return fmt.Errorf("app %s is not registered", pkg)
	}
	fmt.Fprintf(c.out, "%s (%s)\n", a.Name(), a.Package())
	if a.Description() != "" {
		fmt.Fprintf(c.out, "  %s\n", a.Description())
	}
	fmt.Fprintf(c.out, "  service: %s\n\n", orDash(a.ServiceURL()))

	verified, err := model.VerifyServiceFeatures(a)
	if err != nil {
		return err
	}
	w := newTable(c.out)
	fmt.Fprintln(w, "FEATURE\tNAME\tAVAILABLE\tACTIVE\tREQUIRES")
	for _, sf := range a.ServiceFeatures() {
		var reqs []string
		for _, r := range sf.Requirements() {
			reqs = append(reqs, fmt.Sprintf("%s/%s=%s", r.ResourceGroup, r.PrivacySetting, r.Value))
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n",
			sf.Identifier(), sf.Name(), sf.IsAvailable(), verified[sf.Identifier()], strings.Join(reqs, ", "))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	presets := a.AssignedPresets()
	if len(presets) == 0 {
		return nil
	}
	fmt.Fprintln(c.out, "\nPresets:")
	for _, p := range presets {
		fmt.Fprintf(c.out, "  %s\n", p)
	}
	return nil
}
