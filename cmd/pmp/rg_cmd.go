package main

import (
	"context"
	"fmt"
	"strings"

	"pmp/internal/domain"
)

func runResourceGroup(ctx context.Context, c *cli, args []string) error {
	if len(args) == 0 {
		return usagef("usage: pmp rg <list|available|show|install|uninstall|search> [package]")
	}
	switch args[0] {
	case "list":
		return rgList(c)
	case "available":
		return rgAvailable(c)
	case "search":
		return rgSearch(ctx, c, strings.Join(args[1:], " "))
	}

	rest, local := hasFlag(args[1:], "--local")
	if len(rest) < 1 {
		return usagef("usage: pmp rg %s <package>", args[0])
	}
	pkg := rest[0]
	switch args[0] {
	case "show":
		return rgShow(c, pkg)
	case "install":
		// without a registry there is nothing to download from
		skipDownload := local || c.e.registry == nil
		if err := c.e.model.InstallResourceGroup(ctx, pkg, skipDownload); err != nil {
			if domain.IsValidationError(err) {
				return fmt.Errorf("install %s: %s", pkg, domain.Reason(err))
			}
			return err
		}
		fmt.Fprintf(c.out, "Installed %s.\n", pkg)
		return nil
	case "uninstall":
		ok, err := c.e.model.UninstallResourceGroup(ctx, pkg)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("resource group %s is not installed", pkg)
		}
		fmt.Fprintf(c.out, "Uninstalled %s.\n", pkg)
		return nil
	default:
		return usagef("unknown rg subcommand: %s", args[0])
	}
}

func rgList(c *cli) error {
	rgs := c.e.model.ResourceGroups()
	if len(rgs) == 0 {
		fmt.Fprintln(c.out, "No resource groups installed.")
		return nil
	}
	w := newTable(c.out)
	fmt.Fprintln(w, "PACKAGE\tNAME\tREVISION\tSETTINGS")
	for _, rg := range rgs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", rg.Package(), rg.Name(), rg.Revision(), len(rg.PrivacySettings()))
	}
	return w.Flush()
}

func rgAvailable(c *cli) error {
	bundles := c.e.provider.Available()
	if len(bundles) == 0 {
		fmt.Fprintf(c.out, "No bundles found in %s.\n", strings.Join(c.e.provider.Dirs(), ", "))
		return nil
	}
	w := newTable(c.out)
	fmt.Fprintln(w, "PACKAGE\tREVISION\tINSTALLED\tPERMISSIONS\tDIR")
	for _, b := range bundles {
		perms := strings.Join(b.Manifest.Permissions, ",")
		fmt.Fprintf(w, "%s\t%d\t%t\t%s\t%s\n",
			b.Package, b.Manifest.Revision, c.e.model.ResourceGroup(b.Package) != nil, orDash(perms), b.Dir)
	}
	return w.Flush()
}

func rgShow(c *cli, pkg string) error {
	rg := c.e.model.ResourceGroup(pkg)
	if rg == nil {
		return fmt.Errorf("resource group %s is not installed", pkg)
	}
	fmt.Fprintf(c.out, "%s (%s) revision %d\n", rg.Name(), rg.Package(), rg.Revision())
	if rg.Description() != "" {
		fmt.Fprintf(c.out, "  %s\n", rg.Description())
	}
	fmt.Fprintln(c.out)

	w := newTable(c.out)
	fmt.Fprintln(w, "SETTING\tNAME\tKIND\tREQUESTABLE")
	for _, ps := range rg.PrivacySettings() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", ps.Identifier(), ps.Name(), ps.Kind(), ps.IsRequestable())
	}
	return w.Flush()
}

func rgSearch(ctx context.Context, c *cli, query string) error {
	if c.e.registry == nil {
		return fmt.Errorf("no registry configured (plugins.registry_url)")
	}
	entries, err := c.e.registry.Search(ctx, query)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No matching resource groups.")
		return nil
	}
	w := newTable(c.out)
	fmt.Fprintln(w, "PACKAGE\tNAME\tREVISION\tDESCRIPTION")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", e.Package, e.Name, e.Revision, e.Description)
	}
	return w.Flush()
}
