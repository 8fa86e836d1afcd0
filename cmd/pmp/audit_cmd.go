package main

import (
	"context"
	"fmt"
	"strconv"

	"pmp/internal/audit"
)

const defaultAuditLines = 20

func runAudit(_ context.Context, c *cli, args []string) error {
	if c.e.audit == nil {
		return fmt.Errorf("audit trail is disabled (audit.path)")
	}
	n := defaultAuditLines
	if len(args) > 0 {
		var err error
		if n, err = strconv.Atoi(args[0]); err != nil || n < 0 {
			return usagef("usage: pmp audit [count]")
		}
	}
	entries, err := audit.Tail(c.e.audit.Path(), n)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No audit entries.")
		return nil
	}
	w := newTable(c.out)
	fmt.Fprintln(w, "TIME\tEVENT\tSUBJECT\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Event, orDash(e.Subject), orDash(string(e.Detail)))
	}
	return w.Flush()
}
