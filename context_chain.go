package feather

import (
	"container/heap"
	"sort"
	"time"

	"github.com/feather-store/feather/metadata"
	"github.com/feather-store/feather/queue"
	"github.com/feather-store/feather/scoring"
)

// ContextNode is one node reached by a context chain query.
type ContextNode struct {
	ID         uint64
	Score      float32
	Similarity float32 // 0 if reached via graph expansion
	Hop        int     // 0 = direct search hit, 1+ = graph hops
	Metadata   metadata.Metadata
}

// ContextEdge is one edge traversed during expansion, direction preserved.
type ContextEdge struct {
	Source  uint64
	Target  uint64
	RelType string
	Weight  float32
}

// ContextChainResult bundles the nodes and edges of a context chain query.
type ContextChainResult struct {
	Nodes []ContextNode
	Edges []ContextEdge
}

// ContextChainOptions contains options for ContextChain.
type ContextChainOptions struct {
	// K is the number of vector-search seeds. Defaults to 5.
	K int

	// Hops bounds the BFS expansion depth. Defaults to 2.
	Hops int

	// Modality selects the index that seeds the chain. Defaults to "text".
	Modality string
}

// ContextChain seeds from vector similarity and expands through the knowledge
// graph by bounded BFS over both outgoing and incoming edges.
//
// Seed nodes score by their similarity; expanded nodes by 1/(1+hop). Both are
// modulated by importance and recall stickiness. Recall counters are bumped on
// seeds only, never on nodes reached via expansion.
func (db *DB) ContextChain(query []float32, optFns ...func(o *ContextChainOptions)) (*ContextChainResult, error) {
	start := time.Now()
	defer func() {
		db.opts.metricsCollector.RecordContextChain(time.Since(start))
	}()

	if db.closed {
		return nil, ErrClosed
	}

	opts := ContextChainOptions{K: 5, Hops: 2, Modality: DefaultModality}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Modality == "" {
		opts.Modality = DefaultModality
	}

	result := &ContextChainResult{}

	idx, ok := db.modalities[opts.Modality]
	if !ok {
		return result, nil
	}

	// Step 1: vector search seeds the chain
	res, err := idx.index.SearchKNN(query, opts.K, nil)
	if err != nil {
		return nil, translateError(opts.Modality, err)
	}

	simScores := make(map[uint64]float32)
	for res.Len() > 0 {
		item, _ := heap.Pop(res).(*queue.PriorityQueueItem)
		simScores[item.Node] = scoring.Similarity(item.Distance)
		db.Touch(item.Node)
	}

	// Step 2: BFS over outgoing and incoming edges
	type bfsEntry struct {
		id  uint64
		hop int
	}

	visited := make(map[uint64]int) // id -> best hop
	var bfs []bfsEntry
	for id := range simScores {
		visited[id] = 0
		bfs = append(bfs, bfsEntry{id: id, hop: 0})
	}

	var collected []ContextEdge

	for len(bfs) > 0 {
		cur := bfs[0]
		bfs = bfs[1:]

		if cur.hop >= opts.Hops {
			continue
		}

		if m, ok := db.meta.Get(cur.id); ok {
			for _, e := range m.Edges {
				collected = append(collected, ContextEdge{
					Source:  cur.id,
					Target:  e.TargetID,
					RelType: e.RelType,
					Weight:  e.Weight,
				})
				if _, seen := visited[e.TargetID]; !seen {
					visited[e.TargetID] = cur.hop + 1
					bfs = append(bfs, bfsEntry{id: e.TargetID, hop: cur.hop + 1})
				}
			}
		}

		for _, ie := range db.reverse.Incoming(cur.id) {
			collected = append(collected, ContextEdge{
				Source:  ie.SourceID,
				Target:  cur.id,
				RelType: ie.RelType,
				Weight:  ie.Weight,
			})
			if _, seen := visited[ie.SourceID]; !seen {
				visited[ie.SourceID] = cur.hop + 1
				bfs = append(bfs, bfsEntry{id: ie.SourceID, hop: cur.hop + 1})
			}
		}
	}

	// Step 3: score every visited node
	for id, hop := range visited {
		meta := metadata.New()
		var stickiness float32 = 1.0
		var importance float32 = 1.0
		if m, ok := db.meta.Get(id); ok {
			meta = m.Clone()
			stickiness = scoring.Stickiness(m.RecallCount)
			importance = m.Importance
		}

		sim := simScores[id]

		base := sim
		if hop > 0 {
			base = 1.0 / (1.0 + float32(hop))
		}

		result.Nodes = append(result.Nodes, ContextNode{
			ID:         id,
			Score:      base * importance * stickiness,
			Similarity: sim,
			Hop:        hop,
			Metadata:   meta,
		})
	}

	// Deduplicate edges by (source, target, rel_type)
	type edgeKey struct {
		source, target uint64
		relType        string
	}
	seen := make(map[edgeKey]struct{}, len(collected))
	deduped := collected[:0]
	for _, e := range collected {
		key := edgeKey{e.Source, e.Target, e.RelType}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, e)
	}
	result.Edges = deduped

	sort.SliceStable(result.Nodes, func(i, j int) bool {
		if result.Nodes[i].Score != result.Nodes[j].Score {
			return result.Nodes[i].Score > result.Nodes[j].Score
		}
		return result.Nodes[i].ID < result.Nodes[j].ID
	})

	db.opts.logger.LogContextChain(opts.Modality, opts.K, opts.Hops, len(result.Nodes), len(result.Edges))
	return result, nil
}
