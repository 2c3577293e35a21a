// Package feather provides an embedded, single-file vector database with an
// in-process knowledge graph and an adaptive temporal scoring model.
//
// A store holds float vectors keyed by a 64-bit identifier under one or more
// named modalities, attaches structured metadata and typed weighted edges to
// each identifier, and answers approximate-nearest-neighbor queries that may
// be composed with metadata filters, temporal/salience scoring and n-hop
// graph expansion.
//
// # Quick start
//
//	db, err := feather.Open("memories.feather", feather.WithDefaultDimension(3))
//	if err != nil {
//	    panic(err)
//	}
//	defer db.Close()
//
//	meta := metadata.New()
//	meta.Content = "the sky is blue"
//	_ = db.Add(1, []float32{0.1, 0.2, 0.3}, func(o *feather.AddOptions) {
//	    o.Metadata = &meta
//	})
//
//	results, _ := db.Search([]float32{0.1, 0.2, 0.3}, 5)
//
// A DB is single-owner-mutable: it is NOT safe for concurrent mutation.
// Concurrent readers are safe only while no writer is active; callers that
// share a DB across goroutines must synchronize externally.
package feather

import (
	"container/heap"
	"errors"
	"io"
	"os"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/feather-store/feather/hnsw"
	"github.com/feather-store/feather/metadata"
	"github.com/feather-store/feather/persistence"
	"github.com/feather-store/feather/queue"
	"github.com/feather-store/feather/scoring"
)

// DefaultModality is the modality used when none is named.
const DefaultModality = "text"

// scoringHeadroom is the candidate multiplier requested when temporal scoring
// re-ranks results.
const scoringHeadroom = 3

type modalityIndex struct {
	index *hnsw.Index
	dim   int
}

// DB is the embedded store engine. It exclusively owns the metadata table,
// the modality registry and all vector indices.
type DB struct {
	path string

	modalities map[string]*modalityIndex
	meta       *metadata.Table
	reverse    *metadata.ReverseIndex

	opts   options
	closed bool
}

// Open loads the store at path, or creates a fresh one if the file is missing
// or carries a foreign magic. Vector indices are rebuilt by re-insertion; the
// reverse edge index is rebuilt from the metadata table.
func Open(path string, optFns ...Option) (*DB, error) {
	opts := applyOptions(optFns)

	db := &DB{
		path:       path,
		modalities: make(map[string]*modalityIndex),
		meta:       metadata.NewTable(),
		reverse:    metadata.NewReverseIndex(),
		opts:       opts,
	}

	var snap *persistence.Snapshot
	err := persistence.LoadFromFile(path, func(r io.Reader) error {
		var readErr error
		snap, readErr = persistence.Read(r)
		return readErr
	})

	switch {
	case err == nil:
		// Clean load
	case errors.Is(err, os.ErrNotExist), errors.Is(err, persistence.ErrInvalidMagic):
		// Missing or foreign file: start fresh
		snap = nil
	case errors.Is(err, persistence.ErrCorruptData):
		// Partial recovery: keep whatever decoded before the damage
		opts.logger.Warn("store file corrupt, loading partial data",
			"path", path,
			"error", err,
		)
	default:
		err = translateError("", err)
		opts.logger.LogOpen(path, 0, 0, err)
		return nil, err
	}

	if snap != nil {
		if err := db.applySnapshot(snap); err != nil {
			opts.logger.LogOpen(path, 0, 0, err)
			return nil, err
		}
	}

	if len(db.modalities) == 0 {
		if _, err := db.getOrCreateIndex(DefaultModality, opts.defaultDimension); err != nil {
			return nil, err
		}
	}

	opts.logger.LogOpen(path, db.meta.Len(), len(db.modalities), nil)
	return db, nil
}

// applySnapshot installs records and rebuilds every modality index from its
// persisted vectors. Index rebuilds run in parallel, one goroutine per
// modality; this is safe because the indices are disjoint and the metadata
// table is not touched.
func (db *DB) applySnapshot(snap *persistence.Snapshot) error {
	for id, m := range snap.Records {
		db.meta.Replace(id, *m)
	}

	var g errgroup.Group
	for _, section := range snap.Modalities {
		idx, err := db.getOrCreateIndex(section.Name, section.Dim)
		if err != nil {
			return err
		}
		items := section.Items
		g.Go(func() error {
			for _, item := range items {
				if err := idx.index.AddPoint(item.Vector, item.ID); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	db.reverse.Rebuild(db.meta)
	return nil
}

// getOrCreateIndex returns the modality's index, creating it with the given
// dimension on first use. Re-registering with a different dimension fails.
func (db *DB) getOrCreateIndex(modality string, dim int) (*modalityIndex, error) {
	if m, ok := db.modalities[modality]; ok {
		if m.dim != dim {
			return nil, &ErrDimensionMismatch{Modality: modality, Expected: m.dim, Actual: dim}
		}
		return m, nil
	}

	idx := hnsw.New(dim, func(o *hnsw.Options) {
		o.RandomSeed = db.opts.randomSeed
	})

	m := &modalityIndex{index: idx, dim: dim}
	db.modalities[modality] = m
	return m, nil
}

func (db *DB) now() time.Time {
	return db.opts.clock()
}

// AddOptions contains options for Add.
type AddOptions struct {
	// Metadata is stored (or merged) for the identifier. Nil means the default
	// record: importance 1.0, type fact.
	Metadata *metadata.Metadata

	// Modality routes the vector to a named index. Defaults to "text".
	Modality string
}

// Add inserts the vector under id in the chosen modality, replacing any vector
// already at that (id, modality) slot, and stores or merges the metadata.
// Edges already attached to the identifier survive re-adds that carry none.
func (db *DB) Add(id uint64, vector []float32, optFns ...func(o *AddOptions)) error {
	start := time.Now()

	opts := AddOptions{Modality: DefaultModality}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Modality == "" {
		opts.Modality = DefaultModality
	}

	err := db.add(id, vector, &opts)

	db.opts.metricsCollector.RecordAdd(time.Since(start), err)
	db.opts.logger.LogAdd(id, opts.Modality, len(vector), err)
	return err
}

func (db *DB) add(id uint64, vector []float32, opts *AddOptions) error {
	if db.closed {
		return ErrClosed
	}

	idx, err := db.getOrCreateIndex(opts.Modality, len(vector))
	if err != nil {
		return err
	}

	if err := idx.index.AddPoint(vector, id); err != nil {
		return translateError(opts.Modality, err)
	}

	m := metadata.New()
	if opts.Metadata != nil {
		m = *opts.Metadata
	}
	db.meta.InsertOrMerge(id, m)

	// Merging either kept the stored edges (incoming record carried none) or
	// replaced them with the incoming ones; mirror the stored state.
	db.reverse.RemoveSource(id)
	if stored, ok := db.meta.Get(id); ok {
		for _, e := range stored.Edges {
			db.reverse.Add(id, e)
		}
	}

	return nil
}

// SearchResult represents one search hit.
type SearchResult struct {
	ID       uint64
	Score    float32
	Metadata metadata.Metadata
}

// SearchOptions contains options for Search.
type SearchOptions struct {
	// Filter constrains hits by metadata; evaluated inside the index traversal.
	Filter *metadata.Filter

	// Scoring enables temporal re-ranking. When set, the index is asked for
	// 3k candidates to give the re-rank headroom.
	Scoring *scoring.Config

	// Modality selects the index to search. Defaults to "text".
	Modality string
}

// Search performs an approximate nearest neighbor query and returns up to k
// hits sorted by descending score (ties broken by ascending id).
//
// Every candidate returned by the index has its recall counter bumped and its
// last-recall clock stamped, visible to subsequent operations.
func (db *DB) Search(query []float32, k int, optFns ...func(o *SearchOptions)) ([]SearchResult, error) {
	start := time.Now()

	opts := SearchOptions{Modality: DefaultModality}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Modality == "" {
		opts.Modality = DefaultModality
	}

	results, err := db.search(query, k, &opts)

	db.opts.metricsCollector.RecordSearch(k, time.Since(start), err)
	db.opts.logger.LogSearch(opts.Modality, k, len(results), err)
	return results, err
}

func (db *DB) search(query []float32, k int, opts *SearchOptions) ([]SearchResult, error) {
	if db.closed {
		return nil, ErrClosed
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}

	idx, ok := db.modalities[opts.Modality]
	if !ok {
		return nil, nil
	}

	candidates := k
	if opts.Scoring != nil {
		candidates = scoringHeadroom * k
	}

	var filter hnsw.FilterFunc
	if opts.Filter != nil {
		filter = func(id uint64) bool {
			m, found := db.meta.Get(id)
			return found && opts.Filter.Matches(m)
		}
	}

	res, err := idx.index.SearchKNN(query, candidates, filter)
	if err != nil {
		return nil, translateError(opts.Modality, err)
	}

	now := db.now().Unix()

	results := make([]SearchResult, 0, res.Len())
	for res.Len() > 0 {
		item, _ := heap.Pop(res).(*queue.PriorityQueueItem)

		// Score from the state the record had when the query ran, then bump
		// the recall counter.
		var snapshot metadata.Metadata
		var score float32
		if m, found := db.meta.Get(item.Node); found {
			snapshot = m.Clone()
			if opts.Scoring != nil {
				score = scoring.Score(item.Distance, &snapshot, *opts.Scoring, now)
			} else {
				score = scoring.Similarity(item.Distance)
			}
		} else {
			score = scoring.Similarity(item.Distance)
		}

		db.meta.IncrementRecall(item.Node, uint64(now))

		results = append(results, SearchResult{ID: item.Node, Score: score, Metadata: snapshot})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// LinkOptions contains options for Link.
type LinkOptions struct {
	// RelType is the relation name. Defaults to "related_to".
	RelType string

	// Weight is the edge weight. Defaults to 1.0.
	Weight float32
}

// Link appends a typed weighted edge from one identifier to another and
// mirrors it into the reverse index. The call is idempotent on the
// (from, to, rel_type) triple: repeats are no-ops even if the weight differs.
//
// Linking from an identifier with no metadata record is a silent no-op: edges
// against not-yet-added sources are dropped, not queued.
func (db *DB) Link(from, to uint64, optFns ...func(o *LinkOptions)) {
	opts := LinkOptions{RelType: metadata.RelRelatedTo, Weight: 1.0}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.RelType == "" {
		opts.RelType = metadata.RelRelatedTo
	}

	created := db.link(from, to, opts.RelType, opts.Weight)

	db.opts.metricsCollector.RecordLink(created)
	db.opts.logger.LogLink(from, to, opts.RelType, created)
}

func (db *DB) link(from, to uint64, relType string, weight float32) bool {
	if db.closed {
		return false
	}

	m, ok := db.meta.Get(from)
	if !ok {
		return false
	}

	if m.HasEdge(to, relType) {
		return false
	}

	edge := metadata.Edge{TargetID: to, RelType: relType, Weight: weight}
	m.Edges = append(m.Edges, edge)
	db.reverse.Add(from, edge)
	return true
}

// Touch bumps the recall counter of an identifier and stamps its last-recall
// clock. Unknown identifiers are ignored.
func (db *DB) Touch(id uint64) {
	if db.closed {
		return
	}
	db.meta.IncrementRecall(id, uint64(db.now().Unix()))
}

// AutoLinkOptions contains options for AutoLink.
type AutoLinkOptions struct {
	// Modality selects the index to scan. Defaults to "text".
	Modality string

	// Threshold is the minimum similarity (1/(1+distance)) for a link.
	// Defaults to 0.8. With squared-L2 distances, thresholds above 0.5 are
	// practically only reachable for near-duplicates.
	Threshold float32

	// RelType is the relation given to created edges. Defaults to "related_to".
	RelType string

	// Candidates is how many neighbours to consider per element. Defaults to 15.
	Candidates int
}

// AutoLink scans every element of a modality and creates directed edges to
// neighbours whose similarity meets the threshold, weighted by that
// similarity. Existing (from, to, rel_type) triples are left alone.
// Returns the number of edges created.
func (db *DB) AutoLink(optFns ...func(o *AutoLinkOptions)) (int, error) {
	if db.closed {
		return 0, ErrClosed
	}

	opts := AutoLinkOptions{
		Modality:   DefaultModality,
		Threshold:  0.8,
		RelType:    metadata.RelRelatedTo,
		Candidates: 15,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	idx, ok := db.modalities[opts.Modality]
	if !ok {
		return 0, nil
	}

	created := 0
	n := idx.index.CurrentElementCount()

	for i := 0; i < n; i++ {
		from := idx.index.ExternalLabel(i)
		vec := idx.index.DataByInternal(i)

		res, err := idx.index.SearchKNN(vec, opts.Candidates+1, nil)
		if err != nil {
			return created, translateError(opts.Modality, err)
		}

		m, ok := db.meta.Get(from)
		if !ok {
			continue
		}

		for res.Len() > 0 {
			item, _ := heap.Pop(res).(*queue.PriorityQueueItem)
			to := item.Node
			if to == from {
				continue
			}

			sim := scoring.Similarity(item.Distance)
			if sim < opts.Threshold {
				continue
			}

			if m.HasEdge(to, opts.RelType) {
				continue
			}

			edge := metadata.Edge{TargetID: to, RelType: opts.RelType, Weight: sim}
			m.Edges = append(m.Edges, edge)
			db.reverse.Add(from, edge)
			created++
		}
	}

	return created, nil
}

// GetMetadata returns a copy of the record for id.
func (db *DB) GetMetadata(id uint64) (metadata.Metadata, bool) {
	m, ok := db.meta.Get(id)
	if !ok {
		return metadata.Metadata{}, false
	}
	return m.Clone(), true
}

// UpdateMetadata replaces the record for id and rebuilds its contribution to
// the reverse index.
func (db *DB) UpdateMetadata(id uint64, m metadata.Metadata) {
	if db.closed {
		return
	}

	db.meta.Replace(id, m)

	db.reverse.RemoveSource(id)
	if stored, ok := db.meta.Get(id); ok {
		for _, e := range stored.Edges {
			db.reverse.Add(id, e)
		}
	}
}

// UpdateImportance sets the importance of an existing record.
// Unknown identifiers are ignored.
func (db *DB) UpdateImportance(id uint64, importance float32) {
	if db.closed {
		return
	}
	db.meta.SetImportance(id, importance)
}

// SetAttribute sets one attribute key on an existing record.
// Returns false if the id is unknown.
func (db *DB) SetAttribute(id uint64, key, value string) bool {
	if db.closed {
		return false
	}

	m, ok := db.meta.Get(id)
	if !ok {
		return false
	}
	if m.Attributes == nil {
		m.Attributes = make(map[string]string)
	}
	m.Attributes[key] = value
	return true
}

// GetAttribute returns one attribute value from a record.
func (db *DB) GetAttribute(id uint64, key string) (string, bool) {
	m, ok := db.meta.Get(id)
	if !ok {
		return "", false
	}
	v, ok := m.Attributes[key]
	return v, ok
}

// GetEdges returns a copy of the outgoing edges of id.
func (db *DB) GetEdges(id uint64) []metadata.Edge {
	m, ok := db.meta.Get(id)
	if !ok {
		return nil
	}
	out := make([]metadata.Edge, len(m.Edges))
	copy(out, m.Edges)
	return out
}

// GetIncoming returns a copy of the incoming edges of id.
func (db *DB) GetIncoming(id uint64) []metadata.IncomingEdge {
	return db.reverse.Incoming(id)
}

// GetVector returns a copy of the vector stored for id in the given modality.
func (db *DB) GetVector(id uint64, modality string) ([]float32, bool) {
	if modality == "" {
		modality = DefaultModality
	}
	idx, ok := db.modalities[modality]
	if !ok {
		return nil, false
	}
	return idx.index.DataByLabel(id)
}

// GetAllIDs returns every identifier present in a modality, ascending.
func (db *DB) GetAllIDs(modality string) []uint64 {
	if modality == "" {
		modality = DefaultModality
	}
	idx, ok := db.modalities[modality]
	if !ok {
		return nil
	}

	n := idx.index.CurrentElementCount()
	ids := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, idx.index.ExternalLabel(i))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Size returns the number of records in the store.
func (db *DB) Size() int {
	return db.meta.Len()
}

// Dim returns the dimension of a modality, or 0 if it does not exist.
func (db *DB) Dim(modality string) int {
	if modality == "" {
		modality = DefaultModality
	}
	idx, ok := db.modalities[modality]
	if !ok {
		return 0
	}
	return idx.dim
}

// ModalityStats describes one modality index.
type ModalityStats struct {
	Dim      int
	Elements int
}

// Stats is a point-in-time snapshot of store shape.
type Stats struct {
	Records    int
	Modalities map[string]ModalityStats
}

// Stats returns a snapshot of store shape.
func (db *DB) Stats() Stats {
	s := Stats{
		Records:    db.meta.Len(),
		Modalities: make(map[string]ModalityStats, len(db.modalities)),
	}
	for name, idx := range db.modalities {
		s.Modalities[name] = ModalityStats{
			Dim:      idx.dim,
			Elements: idx.index.CurrentElementCount(),
		}
	}
	return s
}

// snapshot captures the current state in persisted form. Modality sections
// are emitted in sorted name order; vectors in internal-index order.
func (db *DB) snapshot() *persistence.Snapshot {
	snap := persistence.NewSnapshot()

	for id, m := range db.meta.All() {
		stored := m.Clone()
		snap.Records[id] = &stored
	}

	names := make([]string, 0, len(db.modalities))
	for name := range db.modalities {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		idx := db.modalities[name]
		section := persistence.ModalitySection{Name: name, Dim: idx.dim}

		n := idx.index.CurrentElementCount()
		for i := 0; i < n; i++ {
			section.Items = append(section.Items, persistence.VectorItem{
				ID:     idx.index.ExternalLabel(i),
				Vector: idx.index.DataByInternal(i),
			})
		}
		snap.Modalities = append(snap.Modalities, section)
	}

	return snap
}

// Save writes the store to its file atomically.
func (db *DB) Save() error {
	start := time.Now()

	err := db.save()

	db.opts.metricsCollector.RecordSave(time.Since(start), err)
	db.opts.logger.LogSave(db.path, db.meta.Len(), err)
	return err
}

func (db *DB) save() error {
	if db.closed {
		return ErrClosed
	}

	snap := db.snapshot()
	return persistence.SaveToFile(db.path, func(w io.Writer) error {
		return persistence.Write(w, snap)
	})
}

// Close saves the store and marks the handle closed. After Close, Add, Search,
// ContextChain, AutoLink, Save, BackupTo and RestoreFrom fail with ErrClosed,
// and the silent mutators (Link, Touch, UpdateMetadata, UpdateImportance,
// SetAttribute) do nothing. The read-only getters (GetMetadata, GetEdges,
// GetIncoming, GetVector, GetAllIDs, GetAttribute, Size, Dim, Stats,
// ExportGraph) do not check the closed state and keep answering from memory.
// Close is idempotent.
func (db *DB) Close() error {
	if db.closed {
		return nil
	}
	if err := db.Save(); err != nil {
		return err
	}
	db.closed = true
	return nil
}
