package hnsw

import (
	"container/heap"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feather-store/feather/queue"
	"github.com/feather-store/feather/testutil"
)

func seeded(dim int) *Index {
	return New(dim, func(o *Options) {
		seed := int64(42)
		o.RandomSeed = &seed
	})
}

func popAll(pq *queue.PriorityQueue) []uint64 {
	// Max-heap pops worst first; reverse into best-first order
	out := make([]uint64, pq.Len())
	for i := pq.Len() - 1; i >= 0; i-- {
		item, _ := heap.Pop(pq).(*queue.PriorityQueueItem)
		out[i] = item.Node
	}
	return out
}

func TestAddPoint(t *testing.T) {
	t.Run("Insert", func(t *testing.T) {
		h := seeded(3)

		require.NoError(t, h.AddPoint([]float32{1, 0, 0}, 10))
		require.NoError(t, h.AddPoint([]float32{0, 1, 0}, 20))

		assert.Equal(t, 2, h.CurrentElementCount())
		assert.True(t, h.ContainsLabel(10))
		assert.True(t, h.ContainsLabel(20))
		assert.False(t, h.ContainsLabel(30))
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		h := seeded(3)

		err := h.AddPoint([]float32{1, 0}, 1)
		assert.Error(t, err)
		assert.IsType(t, &ErrDimensionMismatch{}, err)
	})

	t.Run("Replace", func(t *testing.T) {
		h := seeded(3)

		require.NoError(t, h.AddPoint([]float32{1, 0, 0}, 1))
		require.NoError(t, h.AddPoint([]float32{0, 0, 9}, 1))

		assert.Equal(t, 1, h.CurrentElementCount())

		vec, ok := h.DataByLabel(1)
		require.True(t, ok)
		assert.Equal(t, []float32{0, 0, 9}, vec)
	})

	t.Run("VectorIsCopied", func(t *testing.T) {
		h := seeded(3)

		v := []float32{1, 2, 3}
		require.NoError(t, h.AddPoint(v, 1))
		v[0] = 99

		vec, _ := h.DataByLabel(1)
		assert.Equal(t, []float32{1, 2, 3}, vec)
	})
}

func TestAccessors(t *testing.T) {
	h := seeded(2)
	require.NoError(t, h.AddPoint([]float32{1, 1}, 100))
	require.NoError(t, h.AddPoint([]float32{2, 2}, 200))

	// Internal order is insertion order
	assert.Equal(t, uint64(100), h.ExternalLabel(0))
	assert.Equal(t, uint64(200), h.ExternalLabel(1))
	assert.Equal(t, []float32{2, 2}, h.DataByInternal(1))
	assert.Equal(t, 2, h.Dimension())

	_, ok := h.DataByLabel(300)
	assert.False(t, ok)
}

func TestSearchKNN(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		h := seeded(3)

		res, err := h.SearchKNN([]float32{1, 0, 0}, 5, nil)
		require.NoError(t, err)
		assert.Zero(t, res.Len())
	})

	t.Run("QueryDimensionMismatch", func(t *testing.T) {
		h := seeded(3)
		require.NoError(t, h.AddPoint([]float32{1, 0, 0}, 1))

		_, err := h.SearchKNN([]float32{1, 0}, 1, nil)
		assert.IsType(t, &ErrDimensionMismatch{}, err)
	})

	t.Run("SelfRecall", func(t *testing.T) {
		h := seeded(8)
		rng := testutil.NewRNG(7)
		vectors := rng.UniformVectors(200, 8)

		for i, v := range vectors {
			require.NoError(t, h.AddPoint(v, uint64(i+1)))
		}

		for i := 0; i < 200; i += 10 {
			res, err := h.SearchKNN(vectors[i], 1, nil)
			require.NoError(t, err)
			require.Equal(t, 1, res.Len())

			item, _ := res.Top().(*queue.PriorityQueueItem)
			assert.Equal(t, uint64(i+1), item.Node)
			assert.Zero(t, item.Distance)
		}
	})

	t.Run("OrderedResults", func(t *testing.T) {
		h := seeded(1)
		require.NoError(t, h.AddPoint([]float32{1}, 1))
		require.NoError(t, h.AddPoint([]float32{2}, 2))
		require.NoError(t, h.AddPoint([]float32{5}, 3))

		res, err := h.SearchKNN([]float32{0}, 2, nil)
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 2}, popAll(res))
	})

	t.Run("Filtered", func(t *testing.T) {
		h := seeded(4)
		rng := testutil.NewRNG(13)
		vectors := rng.UniformVectors(100, 4)

		for i, v := range vectors {
			require.NoError(t, h.AddPoint(v, uint64(i)))
		}

		even := func(label uint64) bool { return label%2 == 0 }

		res, err := h.SearchKNN(vectors[0], 10, even)
		require.NoError(t, err)
		require.Equal(t, 10, res.Len())

		for _, label := range popAll(res) {
			assert.Zero(t, label%2, "filtered search returned odd label %d", label)
		}
	})

	t.Run("FilterRejectsAll", func(t *testing.T) {
		h := seeded(2)
		require.NoError(t, h.AddPoint([]float32{1, 1}, 1))
		require.NoError(t, h.AddPoint([]float32{2, 2}, 2))

		res, err := h.SearchKNN([]float32{1, 1}, 5, func(uint64) bool { return false })
		require.NoError(t, err)
		assert.Zero(t, res.Len())
	})
}

func TestBruteSearch(t *testing.T) {
	h := seeded(1)
	require.NoError(t, h.AddPoint([]float32{1}, 1))
	require.NoError(t, h.AddPoint([]float32{2}, 2))
	require.NoError(t, h.AddPoint([]float32{3}, 3))

	res, err := h.BruteSearch([]float32{0}, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, popAll(res))
}

func TestRecallAgainstBruteForce(t *testing.T) {
	h := seeded(16)
	rng := testutil.NewRNG(99)
	vectors := rng.UniformVectors(500, 16)

	for i, v := range vectors {
		require.NoError(t, h.AddPoint(v, uint64(i)))
	}

	query := make([]float32, 16)
	rng.FillUniform(query)

	exact, err := h.BruteSearch(query, 10, nil)
	require.NoError(t, err)
	approx, err := h.SearchKNN(query, 10, nil)
	require.NoError(t, err)

	exactSet := make(map[uint64]bool)
	for _, id := range popAll(exact) {
		exactSet[id] = true
	}

	overlap := 0
	for _, id := range popAll(approx) {
		if exactSet[id] {
			overlap++
		}
	}

	// ef=200 on a 500-element graph gives near-exhaustive recall
	assert.GreaterOrEqual(t, overlap, 8, "recall@10 too low: %d/10", overlap)
}
