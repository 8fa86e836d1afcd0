package main

import (
	"context"
	"fmt"
	"strings"

	"pmp/internal/domain"
	"pmp/internal/model"
)

const presetUsage = `usage: pmp preset <subcommand>
    list
    show <preset>
    add <name> [description]
    add-bundled <creator> <id> <name> [description]
    remove <preset>
    delete <preset> | restore <preset>
    rename <preset> <name>
    assign-app <preset> <app> | unassign-app <preset> <app>
    grant <preset> <rg> <setting> <value> | revoke <preset> <rg> <setting>
    enable-feature <preset> <app> <feature>
    annotate <preset> <rg> <setting> <context> <override> <condition>
    unannotate <preset> <annotation-id>

A preset is named creator/identifier; user presets use "./identifier" or
just the identifier.`

func runPreset(ctx context.Context, c *cli, args []string) error {
	if len(args) == 0 {
		return usagef(presetUsage)
	}
	sub, args := args[0], args[1:]
	need := func(n int) error {
		if len(args) < n {
			return usagef(presetUsage)
		}
		return nil
	}
	m := c.e.model

	switch sub {
	case "list":
		return presetList(c)
	case "add":
		if err := need(1); err != nil {
			return err
		}
		p, err := m.AddUserPreset(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Added %s.\n", p)
		return nil
	case "add-bundled":
		if err := need(3); err != nil {
			return err
		}
		p, err := m.AddPreset(ctx, args[0], args[1], args[2], strings.Join(args[3:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Added %s.\n", p)
		return nil
	}

	if err := need(1); err != nil {
		return err
	}
	p, err := resolvePreset(m, args[0])
	if err != nil {
		return err
	}
	args = args[1:]

	switch sub {
	case "show":
		return presetShow(c, p)
	case "remove":
		if _, err := m.RemovePreset(ctx, p.Creator(), p.Identifier()); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Removed %s.\n", p)
		return nil
	case "delete", "restore":
		return p.SetDeleted(ctx, sub == "delete")
	case "rename":
		if err := need(1); err != nil {
			return err
		}
		return p.SetName(ctx, strings.Join(args, " "))
	case "assign-app", "unassign-app":
		if err := need(1); err != nil {
			return err
		}
		a := m.App(args[0])
		if a == nil {
			return fmt.Errorf("app %s is not registered", args[0])
		}
		if sub == "assign-app" {
			return p.AssignApp(ctx, a)
		}
		return p.RemoveApp(ctx, a)
	case "grant":
		if err := need(3); err != nil {
			return err
		}
		ps, err := resolvePrivacySetting(m, args[0], args[1])
		if err != nil {
			return err
		}
		return reasonOf(p.AssignPrivacySetting(ctx, ps, args[2]))
	case "revoke":
		if err := need(2); err != nil {
			return err
		}
		ps, err := resolvePrivacySetting(m, args[0], args[1])
		if err != nil {
			return err
		}
		return p.RemovePrivacySetting(ctx, ps)
	case "enable-feature":
		if err := need(2); err != nil {
			return err
		}
		sf, err := resolveServiceFeature(m, args[0], args[1])
		if err != nil {
			return err
		}
		return reasonOf(p.AssignServiceFeature(ctx, sf))
	case "annotate":
		if err := need(5); err != nil {
			return err
		}
		ps, err := resolvePrivacySetting(m, args[0], args[1])
		if err != nil {
			return err
		}
		ca, err := p.AssignContextAnnotation(ctx, ps, args[2], strings.Join(args[4:], " "), args[3])
		if err != nil {
			return reasonOf(err)
		}
		fmt.Fprintf(c.out, "Added annotation %s.\n", ca.ID())
		return nil
	case "unannotate":
		if err := need(1); err != nil {
			return err
		}
		ca := findAnnotation(m, p, args[0])
		if ca == nil {
			return fmt.Errorf("%s has no annotation %s", p, args[0])
		}
		return p.RemoveContextAnnotation(ctx, ca)
	default:
		return usagef("unknown preset subcommand: %s", sub)
	}
}

// reasonOf shortens validation errors to the text meant for the user.
func reasonOf(err error) error {
	if err != nil && domain.IsValidationError(err) {
		return fmt.Errorf("%s", domain.Reason(err))
	}
	return err
}

func resolvePreset(m *model.Model, ref string) (*model.Preset, error) {
	creator, id, ok := strings.Cut(ref, "/")
	if !ok {
		creator, id = "", ref
	}
	if creator == domain.UserCreator {
		creator = ""
	}
	p := m.Preset(creator, id)
	if p == nil {
		return nil, fmt.Errorf("preset %s not found", ref)
	}
	return p, nil
}

func resolvePrivacySetting(m *model.Model, rg, id string) (*model.PrivacySetting, error) {
	group := m.ResourceGroup(rg)
	if group == nil {
		return nil, fmt.Errorf("resource group %s is not installed", rg)
	}
	ps := group.PrivacySetting(id)
	if ps == nil {
		return nil, fmt.Errorf("resource group %s has no privacy setting %s", rg, id)
	}
	return ps, nil
}

func resolveServiceFeature(m *model.Model, app, id string) (*model.ServiceFeature, error) {
	a := m.App(app)
	if a == nil {
		return nil, fmt.Errorf("app %s is not registered", app)
	}
	sf := a.ServiceFeature(id)
	if sf == nil {
		return nil, fmt.Errorf("app %s has no service feature %s", app, id)
	}
	return sf, nil
}

func findAnnotation(m *model.Model, p *model.Preset, id string) *model.ContextAnnotation {
	for _, cx := range m.Contexts() {
		for _, ca := range m.ContextAnnotations(cx.Identifier()) {
			if ca.Preset() == p && ca.ID() == id {
				return ca
			}
		}
	}
	return nil
}

func presetList(c *cli) error {
	presets := c.e.model.Presets()
	if len(presets) == 0 {
		fmt.Fprintln(c.out, "No presets.")
		return nil
	}
	w := newTable(c.out)
	fmt.Fprintln(w, "PRESET\tNAME\tAVAILABLE\tDELETED\tAPPS\tGRANTS")
	for _, p := range presets {
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%d\t%d\n",
			p, p.Name(), p.IsAvailable(), p.IsDeleted(), len(p.AssignedApps()), len(p.GrantedPrivacySettings()))
	}
	return w.Flush()
}

func presetShow(c *cli, p *model.Preset) error {
	fmt.Fprintf(c.out, "%s (%s)\n", p.Name(), p)
	if p.Description() != "" {
		fmt.Fprintf(c.out, "  %s\n", p.Description())
	}
	fmt.Fprintf(c.out, "  available: %t, deleted: %t\n", p.IsAvailable(), p.IsDeleted())

	fmt.Fprintln(c.out, "\nApps:")
	for _, a := range p.AssignedApps() {
		fmt.Fprintf(c.out, "  %s\n", a.Package())
	}
	for _, missing := range p.MissingApps() {
		fmt.Fprintf(c.out, "  %s (missing)\n", missing.Package)
	}

	fmt.Fprintln(c.out, "\nGrants:")
	w := newTable(c.out)
	for _, ps := range p.GrantedPrivacySettings() {
		value, _ := p.GrantedValue(ps)
		readable, err := ps.HumanReadable(value)
		if err != nil {
			readable = "invalid"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", ps.Key(), value, readable)
		for _, ca := range p.ContextAnnotations(ps) {
			cond, err := ca.HumanReadableCondition()
			if err != nil {
				cond = ca.Condition()
			}
			fmt.Fprintf(w, "    [%s]\t%s\t%s (%s, active: %t)\n",
				ca.ID(), ca.OverrideValue(), cond, ca.Context().Identifier(), ca.IsActive())
		}
	}
	for _, missing := range p.MissingPrivacySettings() {
		fmt.Fprintf(w, "  %s/%s\t%s\t(missing)\n", missing.ResourceGroup, missing.PrivacySetting, missing.Value)
	}
	return w.Flush()
}
