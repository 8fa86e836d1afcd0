package ipc

import "sync"

// Batcher is anything with the update-batch counter.
type Batcher interface {
	StartUpdate()
	EndUpdate()
}

// Batch holds one level of an update batch open until End.
type Batch struct {
	b    Batcher
	once sync.Once
}

// Begin opens a batch level on b.
//
//	batch := ipc.Begin(notifier)
//	defer batch.End()
func Begin(b Batcher) *Batch {
	b.StartUpdate()
	return &Batch{b: b}
}

// End closes the level. Only the first call has an effect.
func (b *Batch) End() {
	b.once.Do(b.b.EndUpdate)
}
