package indexdb

import (
	"sync"

	"adgobye.dev/internal/content"
)

type opKind int

const (
	opAdd opKind = iota + 1
	opEdit
	opRemove
)

type op struct {
	kind opKind
	c    content.Content
}

// Batch buffers index mutations until Apply. It is safe for concurrent use
// by staging workers. The last staged mutation for an id wins.
type Batch struct {
	mu    sync.Mutex
	order []string
	ops   map[string]op
}

type BatchStats struct {
	Added   int
	Edited  int
	Removed int
}

func NewBatch() *Batch {
	return &Batch{ops: map[string]op{}}
}

func (b *Batch) stage(id string, o op) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.ops[id]; !ok {
		b.order = append(b.order, id)
	}
	b.ops[id] = o
}

func (b *Batch) Add(c content.Content)  { b.stage(c.ID, op{kind: opAdd, c: c.Clone()}) }
func (b *Batch) Edit(c content.Content) { b.stage(c.ID, op{kind: opEdit, c: c.Clone()}) }
func (b *Batch) Remove(id string)       { b.stage(id, op{kind: opRemove}) }

// EditNewer stages c as an edit unless a row with the same or a higher
// version is already staged for its id. It reports whether c was staged.
func (b *Batch) EditNewer(c content.Content) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.ops[c.ID]; ok {
		if prev.kind == opRemove || prev.c.VersionMeta.Version >= c.VersionMeta.Version {
			return false
		}
	} else {
		b.order = append(b.order, c.ID)
	}
	b.ops[c.ID] = op{kind: opEdit, c: c.Clone()}
	return true
}

func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ops)
}

// Staged returns the pending row for id. removed is true when the last
// mutation for id is a removal.
func (b *Batch) Staged(id string) (c content.Content, removed bool, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.ops[id]
	if !ok {
		return content.Content{}, false, false
	}
	return o.c.Clone(), o.kind == opRemove, true
}

func (b *Batch) drain() (removes []string, puts []content.Content, stats BatchStats) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range b.order {
		o := b.ops[id]
		switch o.kind {
		case opRemove:
			removes = append(removes, id)
			stats.Removed++
		case opAdd:
			puts = append(puts, o.c)
			stats.Added++
		case opEdit:
			puts = append(puts, o.c)
			stats.Edited++
		}
	}
	b.order = nil
	b.ops = map[string]op{}
	return removes, puts, stats
}
