package main

import (
	"context"
	"fmt"

	"pmp/internal/model"
)

func runContext(ctx context.Context, c *cli, args []string) error {
	if len(args) == 0 {
		return usagef("usage: pmp context <list|refresh>")
	}
	switch args[0] {
	case "list":
		w := newTable(c.out)
		fmt.Fprintln(w, "CONTEXT\tNAME\tANNOTATIONS\tDESCRIPTION")
		for _, cx := range c.e.model.Contexts() {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				cx.Identifier(), cx.Name(), len(c.e.model.ContextAnnotations(cx.Identifier())), cx.Description())
		}
		return w.Flush()
	case "refresh":
		if err := c.e.model.RefreshContexts(ctx); err != nil {
			fmt.Fprintf(c.out, "Sampling reported: %v\n", err)
		}
		w := newTable(c.out)
		fmt.Fprintln(w, "ANNOTATION\tPRESET\tCONTEXT\tACTIVE")
		for _, cx := range c.e.model.Contexts() {
			for _, ca := range c.e.model.ContextAnnotations(cx.Identifier()) {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", ca.ID(), ca.Preset(), cx.Identifier(), ca.IsActive())
			}
		}
		return w.Flush()
	default:
		return usagef("unknown context subcommand: %s", args[0])
	}
}

func runMediate(_ context.Context, c *cli, args []string) error {
	md := model.NewMediator(c.e.model, c.e.logger)
	if len(args) == 3 && args[0] == "mode" {
		fmt.Fprintln(c.out, md.Mode(args[1], args[2]))
		return nil
	}
	if len(args) != 3 {
		return usagef("usage: pmp mediate <rg> <setting> <app> | pmp mediate mode <rg> <app>")
	}
	value, ok := md.PrivacySettingValue(args[0], args[1], args[2])
	if !ok {
		fmt.Fprintln(c.out, "(no value)")
		return nil
	}
	fmt.Fprintln(c.out, value)
	return nil
}

func runSimple(ctx context.Context, c *cli, args []string) error {
	sm := model.NewSimpleMode(c.e.model)
	if len(args) == 0 {
		return usagef("usage: pmp simple <convert|status|feature <app> <feature> on|off>")
	}
	switch args[0] {
	case "status":
		fmt.Fprintf(c.out, "simple mode: %t\n", sm.IsSimpleMode())
		return nil
	case "convert":
		if err := sm.ConvertExpertToSimple(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Converted to simple mode.")
		return nil
	case "feature":
		if len(args) != 4 || (args[3] != "on" && args[3] != "off") {
			return usagef("usage: pmp simple feature <app> <feature> on|off")
		}
		sf, err := resolveServiceFeature(c.e.model, args[1], args[2])
		if err != nil {
			return err
		}
		changed, err := sm.SetServiceFeatureActive(ctx, sf, args[3] == "on")
		if err != nil {
			return reasonOf(err)
		}
		if !changed {
			fmt.Fprintln(c.out, "Nothing changed.")
			return nil
		}
		fmt.Fprintf(c.out, "%s is now %s.\n", sf, args[3])
		return nil
	default:
		return usagef("unknown simple subcommand: %s", args[0])
	}
}
