package main

import (
	"context"
	"fmt"
	"io"

	"pmp/internal/model"
)

// progressPrinter reports scan steps; per-pair updates are too chatty.
type progressPrinter struct{ out io.Writer }

func (p progressPrinter) StepMessage(msg string)  { fmt.Fprintln(p.out, msg) }
func (p progressPrinter) ProgressUpdate(int, int) {}
func (p progressPrinter) Finished()               {}

func runConflicts(_ context.Context, c *cli, args []string) error {
	_, quiet := hasFlag(args, "--quiet")
	cm := model.NewConflictModel(c.e.model)

	var cb model.ProgressCallback
	if !quiet {
		cb = progressPrinter{out: c.out}
	}
	cm.Calculate(cb)
	pairs := cm.Pairs()
	c.e.metrics.ConflictPairs(len(pairs))

	if len(pairs) == 0 {
		fmt.Fprintln(c.out, "No conflicts.")
		return nil
	}
	w := newTable(c.out)
	fmt.Fprintln(w, "PRESET\tCONFLICTS WITH\tKIND\tDETAIL")
	for _, pair := range pairs {
		// conflict queries are directional
		writeConflicts(w, pair.A, pair.B)
		writeConflicts(w, pair.B, pair.A)
	}
	return w.Flush()
}

func writeConflicts(w io.Writer, a, b *model.Preset) {
	for _, ps := range a.PSPSConflicts(b) {
		fmt.Fprintf(w, "%s\t%s\tgrant/grant\t%s\n", a, b, ps.Key())
	}
	for _, ps := range a.CAPSConflicts(b) {
		fmt.Fprintf(w, "%s\t%s\tannotation/grant\t%s\n", a, b, ps.Key())
	}
	for _, ca := range a.CACAConflicts(b) {
		fmt.Fprintf(w, "%s\t%s\tannotation/annotation\t%s %s\n", a, b, ca.PrivacySetting().Key(), ca.ID())
	}
}
