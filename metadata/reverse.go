package metadata

// ReverseIndex maps a target id to its incoming edges. It is the exact
// transpose of the forward edge set: mutated synchronously on every edge
// write and rebuilt from the table on load. Never the authoritative source.
type ReverseIndex struct {
	incoming map[uint64][]IncomingEdge
}

// NewReverseIndex creates an empty reverse index.
func NewReverseIndex() *ReverseIndex {
	return &ReverseIndex{
		incoming: make(map[uint64][]IncomingEdge),
	}
}

// Add mirrors an outgoing edge from source into the incoming list of its target.
func (r *ReverseIndex) Add(source uint64, e Edge) {
	r.incoming[e.TargetID] = append(r.incoming[e.TargetID], IncomingEdge{
		SourceID: source,
		RelType:  e.RelType,
		Weight:   e.Weight,
	})
}

// RemoveSource strips every incoming entry contributed by the given source.
// Called before re-adding a record's edges so stale entries cannot accumulate.
func (r *ReverseIndex) RemoveSource(source uint64) {
	for target, list := range r.incoming {
		kept := list[:0]
		for _, ie := range list {
			if ie.SourceID != source {
				kept = append(kept, ie)
			}
		}
		if len(kept) == 0 {
			delete(r.incoming, target)
		} else {
			r.incoming[target] = kept
		}
	}
}

// Incoming returns a copy of the incoming edges for target.
func (r *ReverseIndex) Incoming(target uint64) []IncomingEdge {
	list, ok := r.incoming[target]
	if !ok {
		return nil
	}
	out := make([]IncomingEdge, len(list))
	copy(out, list)
	return out
}

// Rebuild clears the index and reconstructs it from the table's forward edges.
func (r *ReverseIndex) Rebuild(t *Table) {
	r.incoming = make(map[uint64][]IncomingEdge)
	for id, m := range t.All() {
		for _, e := range m.Edges {
			r.Add(id, e)
		}
	}
}
