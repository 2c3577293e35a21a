package metadata

import (
	"iter"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Table is the authoritative mapping from identifier to record. Iteration
// order is unspecified.
//
// Alongside the records it maintains roaring posting lists keyed by namespace
// and entity. These are derived accelerators for exact-match scans (graph
// export, partition listing); they are rebuilt incrementally on every write
// and never persisted.
type Table struct {
	docs map[uint64]*Metadata

	namespaces map[string]*roaring64.Bitmap
	entities   map[string]*roaring64.Bitmap
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		docs:       make(map[uint64]*Metadata),
		namespaces: make(map[string]*roaring64.Bitmap),
		entities:   make(map[string]*roaring64.Bitmap),
	}
}

// Len returns the number of records.
func (t *Table) Len() int {
	return len(t.docs)
}

// Get returns the live record for id. The pointer must not be retained across
// writes; callers handing data out of the engine clone it first.
func (t *Table) Get(id uint64) (*Metadata, bool) {
	m, ok := t.docs[id]
	return m, ok
}

// All iterates over all (id, record) pairs in unspecified order.
func (t *Table) All() iter.Seq2[uint64, *Metadata] {
	return func(yield func(uint64, *Metadata) bool) {
		for id, m := range t.docs {
			if !yield(id, m) {
				return
			}
		}
	}
}

// InsertOrMerge stores the record. If a record already exists and the incoming
// one carries no edges, the existing edges are preserved; every other field is
// taken from the incoming value. This lets repeated adds register new
// modalities without clobbering accumulated graph state.
func (t *Table) InsertOrMerge(id uint64, m Metadata) {
	if prev, ok := t.docs[id]; ok {
		if len(m.Edges) == 0 && len(prev.Edges) > 0 {
			m.Edges = prev.Edges
		}
		t.unindex(id, prev)
	}
	stored := m.Clone()
	t.docs[id] = &stored
	t.index(id, &stored)
}

// Replace stores the record verbatim, overwriting any previous value.
func (t *Table) Replace(id uint64, m Metadata) {
	if prev, ok := t.docs[id]; ok {
		t.unindex(id, prev)
	}
	stored := m.Clone()
	t.docs[id] = &stored
	t.index(id, &stored)
}

// SetImportance updates the importance of an existing record.
// Returns false if the id is unknown.
func (t *Table) SetImportance(id uint64, importance float32) bool {
	m, ok := t.docs[id]
	if !ok {
		return false
	}
	m.Importance = importance
	return true
}

// IncrementRecall bumps the recall counter and stamps the recall clock.
// Returns false if the id is unknown.
func (t *Table) IncrementRecall(id uint64, now uint64) bool {
	m, ok := t.docs[id]
	if !ok {
		return false
	}
	m.RecallCount++
	m.LastRecalledAt = now
	return true
}

// IDsInNamespace returns the posting list for a namespace, or nil if empty.
// The returned bitmap is shared; callers must not mutate it.
func (t *Table) IDsInNamespace(ns string) *roaring64.Bitmap {
	return t.namespaces[ns]
}

// IDsForEntity returns the posting list for an entity, or nil if empty.
// The returned bitmap is shared; callers must not mutate it.
func (t *Table) IDsForEntity(entity string) *roaring64.Bitmap {
	return t.entities[entity]
}

// AllIDs returns a bitmap of every stored identifier.
func (t *Table) AllIDs() *roaring64.Bitmap {
	ids := roaring64.New()
	for id := range t.docs {
		ids.Add(id)
	}
	return ids
}

func (t *Table) index(id uint64, m *Metadata) {
	if m.NamespaceID != "" {
		bm, ok := t.namespaces[m.NamespaceID]
		if !ok {
			bm = roaring64.New()
			t.namespaces[m.NamespaceID] = bm
		}
		bm.Add(id)
	}
	if m.EntityID != "" {
		bm, ok := t.entities[m.EntityID]
		if !ok {
			bm = roaring64.New()
			t.entities[m.EntityID] = bm
		}
		bm.Add(id)
	}
}

func (t *Table) unindex(id uint64, m *Metadata) {
	if m.NamespaceID != "" {
		if bm, ok := t.namespaces[m.NamespaceID]; ok {
			bm.Remove(id)
			if bm.IsEmpty() {
				delete(t.namespaces, m.NamespaceID)
			}
		}
	}
	if m.EntityID != "" {
		if bm, ok := t.entities[m.EntityID]; ok {
			bm.Remove(id)
			if bm.IsEmpty() {
				delete(t.entities, m.EntityID)
			}
		}
	}
}
