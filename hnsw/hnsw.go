// Package hnsw implements the Hierarchical Navigable Small World graph for
// approximate nearest neighbor search over float32 vectors keyed by external
// uint64 labels.
package hnsw

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/feather-store/feather/metric"
	"github.com/feather-store/feather/queue"
)

// ErrDimensionMismatch is a named error type for dimension mismatch
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// FilterFunc decides whether a candidate label may enter the result set.
// It is invoked during traversal, not post-hoc, so the search keeps widening
// until enough passing candidates are found (bounded by ef).
type FilterFunc func(label uint64) bool

// Node represents a node in the HNSW graph
type Node struct {
	Connections [][]uint32 // Links to other nodes, one list per layer
	Vector      []float32  // Vector (X dimensions)
	Layer       int        // Layer the node exists in the HNSW tree
	Label       uint64     // External identifier
}

// Options represents the options for configuring HNSW.
type Options struct {
	// M specifies the number of established connections for every new element during construction.
	// The range M=12-48 is ok for most use cases.
	M int

	// EF specifies the size of the dynamic candidate list.
	// Larger EF values can improve recall at the cost of increased search time.
	EF int

	// Heuristic indicates whether to use the heuristic neighbor selection (true)
	// or the naive closest-M selection (false).
	Heuristic bool

	// DistanceFunc represents the distance function for calculating distance between vectors.
	DistanceFunc metric.DistanceFunc

	// RandomSeed pins the layer-assignment RNG for deterministic graphs.
	// If nil, the generator is seeded from the wall clock.
	RandomSeed *int64
}

// DefaultOptions contains the default options for HNSW.
var DefaultOptions = Options{
	M:            16,
	EF:           200,
	Heuristic:    true,
	DistanceFunc: metric.SquaredL2,
}

// Index represents the Hierarchical Navigable Small World graph
type Index struct {
	dimension int
	mmax      int     // Max number of connections per element/per layer
	mmax0     int     // Max for the 0 layer
	ml        float64 // Normalization factor for level generation
	ep        uint32  // Entry point into the top layer
	maxLevel  int     // Track the current max level used

	nodes  []*Node           // internal index -> node, insertion order
	labels map[uint64]uint32 // external label -> internal index

	rng *rand.Rand

	opts Options

	mutex sync.Mutex
}

// New creates a new Index with the given dimension and options
func New(dimension int, optFns ...func(o *Options)) *Index {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.M < 2 {
		// M == 1 would result in division by zero in the level multiplier
		opts.M = 2
	}

	var rng *rand.Rand
	if opts.RandomSeed != nil {
		rng = rand.New(rand.NewSource(*opts.RandomSeed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) // nolint gosec
	}

	return &Index{
		dimension: dimension,
		mmax:      opts.M,
		mmax0:     2 * opts.M,
		ml:        1 / math.Log(1.0*float64(opts.M)),
		nodes:     make([]*Node, 0),
		labels:    make(map[uint64]uint32),
		rng:       rng,
		opts:      opts,
	}
}

// Dimension returns the fixed dimensionality of the index.
func (h *Index) Dimension() int {
	return h.dimension
}

// CurrentElementCount returns the number of elements in the index.
func (h *Index) CurrentElementCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.nodes)
}

// ExternalLabel returns the label stored at the given internal index.
func (h *Index) ExternalLabel(internal int) uint64 {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.nodes[internal].Label
}

// DataByInternal returns a copy of the vector stored at the given internal index.
func (h *Index) DataByInternal(internal int) []float32 {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	vec := make([]float32, len(h.nodes[internal].Vector))
	copy(vec, h.nodes[internal].Vector)
	return vec
}

// DataByLabel returns a copy of the vector stored under the given label.
func (h *Index) DataByLabel(label uint64) ([]float32, bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	internal, ok := h.labels[label]
	if !ok {
		return nil, false
	}

	vec := make([]float32, len(h.nodes[internal].Vector))
	copy(vec, h.nodes[internal].Vector)
	return vec, true
}

// ContainsLabel reports whether the label is present in the index.
func (h *Index) ContainsLabel(label uint64) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	_, ok := h.labels[label]
	return ok
}

// AddPoint inserts the vector under the given label, or replaces the vector
// already stored there. The graph links of a replaced node are kept.
func (h *Index) AddPoint(v []float32, label uint64) error {
	if len(v) != h.dimension {
		return &ErrDimensionMismatch{Expected: h.dimension, Actual: len(v)}
	}

	// Make a copy of the vector to ensure changes outside this function don't affect the node
	vectorCopy := make([]float32, len(v))
	copy(vectorCopy, v)

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if internal, ok := h.labels[label]; ok {
		h.nodes[internal].Vector = vectorCopy
		return nil
	}

	internal := uint32(len(h.nodes))

	node := &Node{
		Label:  label,
		Vector: vectorCopy,
		Layer:  int(math.Floor(-math.Log(h.rng.Float64()) * h.ml)), // nolint gosec
	}
	node.Connections = make([][]uint32, node.Layer+1)

	// First element becomes the entry point
	if len(h.nodes) == 0 {
		h.nodes = append(h.nodes, node)
		h.labels[label] = internal
		h.ep = internal
		h.maxLevel = node.Layer
		return nil
	}

	// Find single shortest path from top layers above our new node, which will be our starting-point
	currID, currDist, err := h.greedyDescend(vectorCopy, node.Layer)
	if err != nil {
		return err
	}

	// For all levels equal and below our node, find the closest candidates and link
	for level := min(node.Layer, h.maxLevel); level >= 0; level-- {
		results, err := h.searchLayerInternal(vectorCopy, currID, currDist, level, h.opts.EF, nil)
		if err != nil {
			return err
		}

		// Best candidate seeds the next level down
		for _, item := range results.Items {
			if item.Distance < currDist {
				currDist = item.Distance
				currID = uint32(item.Node)
			}
		}

		var neighbours []uint32
		if h.opts.Heuristic {
			neighbours = h.selectNeighboursHeuristic(results, h.opts.M)
		} else {
			neighbours = h.selectNeighboursSimple(results, h.opts.M)
		}

		node.Connections[level] = neighbours
	}

	h.nodes = append(h.nodes, node)
	h.labels[label] = internal

	// Link the neighbour nodes back to our new node, making it visible
	for level := min(node.Layer, h.maxLevel); level >= 0; level-- {
		for _, neighbour := range node.Connections[level] {
			h.link(neighbour, internal, level)
		}
	}

	if node.Layer > h.maxLevel {
		h.ep = internal
		h.maxLevel = node.Layer
	}

	return nil
}

// greedyDescend walks from the entry point down to targetLayer+1, always moving
// to the closest neighbour, and returns the closest node seen.
func (h *Index) greedyDescend(v []float32, targetLayer int) (uint32, float32, error) {
	currID := h.ep
	currDist, err := h.opts.DistanceFunc(h.nodes[currID].Vector, v)
	if err != nil {
		return 0, 0, err
	}

	for level := h.maxLevel; level > targetLayer; level-- {
		changed := true
		for changed {
			changed = false

			curr := h.nodes[currID]
			if level >= len(curr.Connections) {
				continue
			}

			for _, nextID := range curr.Connections[level] {
				nextDist, err := h.opts.DistanceFunc(h.nodes[nextID].Vector, v)
				if err != nil {
					return 0, 0, err
				}

				if nextDist < currDist {
					currID = nextID
					currDist = nextDist
					changed = true
				}
			}
		}
	}

	return currID, currDist, nil
}

// SearchKNN performs a k-nearest neighbor search. The returned queue is a
// max-heap (farthest on top) of (label, distance) pairs: callers consume it
// worst-to-best.
//
// If filter is non-nil it is evaluated against candidate labels during the
// layer-0 traversal; failing candidates still guide navigation but never enter
// the result set, so the search widens until k passing candidates are found
// (bounded by ef).
func (h *Index) SearchKNN(q []float32, k int, filter FilterFunc) (*queue.PriorityQueue, error) {
	if len(q) != h.dimension {
		return nil, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(q)}
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if len(h.nodes) == 0 {
		empty := &queue.PriorityQueue{Order: true}
		heap.Init(empty)
		return empty, nil
	}

	ef := h.opts.EF
	if ef < k {
		ef = k
	}

	currID, currDist, err := h.greedyDescend(q, 0)
	if err != nil {
		return nil, err
	}

	results, err := h.searchLayerInternal(q, currID, currDist, 0, ef, filter)
	if err != nil {
		return nil, err
	}

	for results.Len() > k {
		_ = heap.Pop(results)
	}

	h.relabel(results)

	return results, nil
}

// BruteSearch performs an exhaustive search. Used by tests as a recall oracle.
func (h *Index) BruteSearch(q []float32, k int, filter FilterFunc) (*queue.PriorityQueue, error) {
	if len(q) != h.dimension {
		return nil, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(q)}
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	topCandidates := &queue.PriorityQueue{Order: true}
	heap.Init(topCandidates)

	for _, node := range h.nodes {
		if filter != nil && !filter(node.Label) {
			continue
		}

		dist, err := h.opts.DistanceFunc(q, node.Vector)
		if err != nil {
			return nil, err
		}

		if topCandidates.Len() < k {
			heap.Push(topCandidates, &queue.PriorityQueueItem{Node: node.Label, Distance: dist})
			continue
		}

		worst, _ := topCandidates.Top().(*queue.PriorityQueueItem)
		if dist < worst.Distance {
			heap.Pop(topCandidates)
			heap.Push(topCandidates, &queue.PriorityQueueItem{Node: node.Label, Distance: dist})
		}
	}

	return topCandidates, nil
}

// searchLayerInternal performs a search in a specified layer of the HNSW graph.
// The returned max-heap holds internal indices; callers relabel when handing
// results out.
func (h *Index) searchLayerInternal(q []float32, epID uint32, epDist float32, level int, ef int, filter FilterFunc) (*queue.PriorityQueue, error) {
	var visited bitset.BitSet
	visited.Set(uint(epID))

	candidates := &queue.PriorityQueue{Order: false}
	heap.Init(candidates)
	heap.Push(candidates, &queue.PriorityQueueItem{Node: uint64(epID), Distance: epDist})

	results := &queue.PriorityQueue{Order: true}
	heap.Init(results)

	// The entry point always seeds navigation, but enters the results only if
	// it passes the filter.
	if filter == nil || filter(h.nodes[epID].Label) {
		heap.Push(results, &queue.PriorityQueueItem{Node: uint64(epID), Distance: epDist})
	}

	for candidates.Len() > 0 {
		curr, _ := heap.Pop(candidates).(*queue.PriorityQueueItem)

		if results.Len() >= ef {
			worst, _ := results.Top().(*queue.PriorityQueueItem)
			if curr.Distance > worst.Distance {
				break
			}
		}

		node := h.nodes[curr.Node]
		if level >= len(node.Connections) {
			continue
		}

		for _, nextID := range node.Connections[level] {
			if visited.Test(uint(nextID)) {
				continue
			}
			visited.Set(uint(nextID))

			nextDist, err := h.opts.DistanceFunc(q, h.nodes[nextID].Vector)
			if err != nil {
				return nil, err
			}

			// Prune obviously-bad candidates once ef results exist. With a
			// filter active, traversal stays permissive so the search does not
			// get trapped in filtered-out regions.
			if filter == nil && results.Len() >= ef {
				worst, _ := results.Top().(*queue.PriorityQueueItem)
				if nextDist > worst.Distance {
					continue
				}
			}

			heap.Push(candidates, &queue.PriorityQueueItem{Node: uint64(nextID), Distance: nextDist})

			if filter == nil || filter(h.nodes[nextID].Label) {
				heap.Push(results, &queue.PriorityQueueItem{Node: uint64(nextID), Distance: nextDist})
				if results.Len() > ef {
					_ = heap.Pop(results)
				}
			}
		}
	}

	return results, nil
}

// relabel swaps internal indices for external labels in place. Heap order is
// unaffected since distances stay untouched.
func (h *Index) relabel(pq *queue.PriorityQueue) {
	for _, item := range pq.Items {
		item.Node = h.nodes[item.Node].Label
	}
}

// link adds a connection from node first to node second at the given level,
// pruning back to the connection budget when it overflows.
func (h *Index) link(first uint32, second uint32, level int) {
	maxConnections := h.mmax
	// HNSW allows double the connections for the bottom level (0)
	if level == 0 {
		maxConnections = h.mmax0
	}

	node := h.nodes[first]
	if level >= len(node.Connections) {
		return
	}
	node.Connections[level] = append(node.Connections[level], second)

	if len(node.Connections[level]) <= maxConnections {
		return
	}

	// Rebuild the neighbour list from the best candidates
	topCandidates := &queue.PriorityQueue{Order: true}
	heap.Init(topCandidates)

	for _, id := range node.Connections[level] {
		distance, err := h.opts.DistanceFunc(node.Vector, h.nodes[id].Vector)
		if err != nil {
			continue
		}
		heap.Push(topCandidates, &queue.PriorityQueueItem{Node: uint64(id), Distance: distance})
	}

	var neighbours []uint32
	if h.opts.Heuristic {
		neighbours = h.selectNeighboursHeuristic(topCandidates, maxConnections)
	} else {
		neighbours = h.selectNeighboursSimple(topCandidates, maxConnections)
	}

	node.Connections[level] = neighbours
}

// selectNeighboursSimple keeps the M closest candidates.
// The queue holds internal indices and is consumed.
func (h *Index) selectNeighboursSimple(topCandidates *queue.PriorityQueue, m int) []uint32 {
	for topCandidates.Len() > m {
		_ = heap.Pop(topCandidates)
	}

	neighbours := make([]uint32, topCandidates.Len())
	// Max-heap pops worst first; fill back-to-front for best-first order.
	for i := topCandidates.Len() - 1; i >= 0; i-- {
		item, _ := heap.Pop(topCandidates).(*queue.PriorityQueueItem)
		neighbours[i] = uint32(item.Node)
	}

	return neighbours
}

// selectNeighboursHeuristic selects up to M candidates satisfying the relative
// neighborhood property: a candidate is kept only if it is closer to the query
// node than to every already-kept neighbour.
func (h *Index) selectNeighboursHeuristic(topCandidates *queue.PriorityQueue, m int) []uint32 {
	if topCandidates.Len() <= m {
		return h.selectNeighboursSimple(topCandidates, m)
	}

	// Drain the max-heap into best-first order
	sorted := make([]*queue.PriorityQueueItem, topCandidates.Len())
	for i := len(sorted) - 1; i >= 0; i-- {
		sorted[i], _ = heap.Pop(topCandidates).(*queue.PriorityQueueItem)
	}

	neighbours := make([]uint32, 0, m)
	discarded := make([]*queue.PriorityQueueItem, 0)

	for _, cand := range sorted {
		if len(neighbours) >= m {
			break
		}

		keep := true
		for _, kept := range neighbours {
			distance, err := h.opts.DistanceFunc(h.nodes[kept].Vector, h.nodes[cand.Node].Vector)
			if err != nil || distance < cand.Distance {
				keep = false
				break
			}
		}

		if keep {
			neighbours = append(neighbours, uint32(cand.Node))
		} else {
			discarded = append(discarded, cand)
		}
	}

	// Fill up from discarded candidates if the heuristic was too aggressive
	for _, cand := range discarded {
		if len(neighbours) >= m {
			break
		}
		neighbours = append(neighbours, uint32(cand.Node))
	}

	return neighbours
}
