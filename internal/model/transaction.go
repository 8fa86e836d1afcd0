package model

import (
	"context"

	"pmp/internal/domain"
	"pmp/internal/ipc"
)

// Transaction groups changes to one preset. Start snapshots the preset and
// opens an update batch; Commit keeps the changes made since; Abort puts the
// snapshot back, writes it through and rolls out.
//
//	tx := preset.Transaction()
//	if err := tx.Start(); err != nil {
//		return err
//	}
//	if err := change(preset); err != nil {
//		return tx.Abort(ctx)
//	}
//	tx.Commit()
type Transaction struct {
	p     *Preset
	snap  presetState
	batch *ipc.Batch
}

// Start begins the transaction. Starting one that is already running is
// misuse and leaves it untouched.
func (t *Transaction) Start() error {
	if t.batch != nil {
		return misuse("Transaction.Start", "transaction already started for "+t.p.key.String())
	}
	t.p.ensure()
	t.snap = t.p.presetState.clone()
	t.batch = ipc.Begin(t.p.m.notifier)
	return nil
}

// Commit ends the transaction keeping the changes.
func (t *Transaction) Commit() {
	t.end()
}

// Abort restores the preset to its state at Start.
func (t *Transaction) Abort(ctx context.Context) error {
	if t.batch == nil {
		return misuse("Transaction.Abort", "transaction not started")
	}
	defer t.end()

	p := t.p
	p.ensure()
	current := p.allAnnotations()
	p.presetState = t.snap.clone()
	if err := t.restoreAnnotations(ctx, current); err != nil {
		return domain.WrapOp("Transaction.Abort", err)
	}
	if err := p.m.store.SavePreset(ctx, p.record()); err != nil {
		return domain.WrapOp("Transaction.Abort", err)
	}
	p.Rollout(ctx)
	return nil
}

// restoreAnnotations makes the stored annotations of the preset match the
// snapshot again.
func (t *Transaction) restoreAnnotations(ctx context.Context, current []*ContextAnnotation) error {
	kept := make(map[string]bool)
	for _, ca := range t.p.allAnnotations() {
		kept[ca.id] = true
		if err := t.p.m.store.SaveContextAnnotation(ctx, ca.record()); err != nil {
			return err
		}
	}
	for _, ca := range current {
		if !kept[ca.id] {
			if err := t.p.m.store.DeleteContextAnnotation(ctx, ca.id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Transaction) end() {
	if t.batch != nil {
		t.batch.End()
		t.batch = nil
	}
}
