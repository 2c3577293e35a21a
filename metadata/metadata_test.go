package metadata

import (
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() Metadata {
	m := New()
	m.Timestamp = 1700000000
	m.Importance = 0.75
	m.Type = TypeEvent
	m.Source = "ingest/web"
	m.Content = "the quick brown fox"
	m.TagsJSON = `["animals","speed"]`
	m.Edges = []Edge{
		{TargetID: 7, RelType: RelSupports, Weight: 0.5},
		{TargetID: 9, RelType: RelRelatedTo, Weight: 1.0},
	}
	m.RecallCount = 3
	m.LastRecalledAt = 1700000100
	m.NamespaceID = "ns-a"
	m.EntityID = "entity-1"
	m.Attributes = map[string]string{"color": "red", "shape": "round"}
	return m
}

func TestNew(t *testing.T) {
	m := New()
	assert.Equal(t, float32(1.0), m.Importance)
	assert.Equal(t, TypeFact, m.Type)
	assert.Zero(t, m.Timestamp)
	assert.Empty(t, m.Edges)
}

func TestClone(t *testing.T) {
	m := sample()
	c := m.Clone()

	c.Edges[0].TargetID = 999
	c.Attributes["color"] = "blue"

	assert.Equal(t, uint64(7), m.Edges[0].TargetID)
	assert.Equal(t, "red", m.Attributes["color"])
}

func TestHasEdge(t *testing.T) {
	m := sample()
	assert.True(t, m.HasEdge(7, RelSupports))
	assert.False(t, m.HasEdge(7, RelRelatedTo))
	assert.False(t, m.HasEdge(8, RelSupports))
}

func TestCodec(t *testing.T) {
	t.Run("RoundTripV5", func(t *testing.T) {
		m := sample()

		var buf bytes.Buffer
		require.NoError(t, Write(&buf, &m))

		got, err := Read(&buf, FormatV5)
		require.NoError(t, err)
		assert.Equal(t, m, got)
	})

	t.Run("RoundTripDefaults", func(t *testing.T) {
		m := New()

		var buf bytes.Buffer
		require.NoError(t, Write(&buf, &m))

		got, err := Read(&buf, FormatV5)
		require.NoError(t, err)
		assert.Equal(t, m, got)
	})

	t.Run("V3StopsBeforeNamespace", func(t *testing.T) {
		// Hand-craft a v3 record: base fields, legacy links, counters.
		var buf bytes.Buffer
		require.NoError(t, writeUint64(&buf, uint64(1234)))          // timestamp
		require.NoError(t, writeUint32(&buf, math.Float32bits(0.5))) // importance
		_, err := buf.Write([]byte{byte(TypePreference)})            // type
		require.NoError(t, err)
		require.NoError(t, writeString16(&buf, "src"))     // source
		require.NoError(t, writeString32(&buf, "content")) // content
		require.NoError(t, writeString16(&buf, "[]"))      // tags
		require.NoError(t, writeUint16(&buf, 2))           // legacy links
		require.NoError(t, writeUint64(&buf, 42))
		require.NoError(t, writeUint64(&buf, 43))
		require.NoError(t, writeUint32(&buf, 5))   // recall count
		require.NoError(t, writeUint64(&buf, 999)) // last recalled

		got, err := Read(&buf, FormatV3)
		require.NoError(t, err)

		assert.Equal(t, int64(1234), got.Timestamp)
		assert.Equal(t, TypePreference, got.Type)
		assert.Equal(t, uint32(5), got.RecallCount)

		// Legacy links promoted to edges
		require.Len(t, got.Edges, 2)
		assert.Equal(t, Edge{TargetID: 42, RelType: RelRelatedTo, Weight: 1.0}, got.Edges[0])
		assert.Equal(t, Edge{TargetID: 43, RelType: RelRelatedTo, Weight: 1.0}, got.Edges[1])

		// v4+ fields default
		assert.Empty(t, got.NamespaceID)
		assert.Empty(t, got.EntityID)
		assert.Empty(t, got.Attributes)
	})

	t.Run("V4StopsBeforeEdges", func(t *testing.T) {
		m := sample()
		m.Edges = nil

		var full bytes.Buffer
		require.NoError(t, Write(&full, &m))

		// A v5 record with no edges is a v4 record plus a zero edge count;
		// dropping the trailing u16 yields a valid v4 record.
		v4 := full.Bytes()[:full.Len()-2]

		got, err := Read(bytes.NewReader(v4), FormatV4)
		require.NoError(t, err)

		assert.Equal(t, m.NamespaceID, got.NamespaceID)
		assert.Equal(t, m.EntityID, got.EntityID)
		assert.Equal(t, m.Attributes, got.Attributes)
		assert.Empty(t, got.Edges)
	})

	t.Run("TruncatedRecord", func(t *testing.T) {
		m := sample()

		var buf bytes.Buffer
		require.NoError(t, Write(&buf, &m))

		_, err := Read(bytes.NewReader(buf.Bytes()[:10]), FormatV5)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("EmptyStream", func(t *testing.T) {
		_, err := Read(bytes.NewReader(nil), FormatV5)
		assert.ErrorIs(t, err, io.EOF)
	})
}

func TestTable(t *testing.T) {
	t.Run("InsertAndGet", func(t *testing.T) {
		tbl := NewTable()
		tbl.InsertOrMerge(1, sample())

		m, ok := tbl.Get(1)
		require.True(t, ok)
		assert.Equal(t, "the quick brown fox", m.Content)
		assert.Equal(t, 1, tbl.Len())

		_, ok = tbl.Get(2)
		assert.False(t, ok)
	})

	t.Run("MergePreservesEdges", func(t *testing.T) {
		tbl := NewTable()
		tbl.InsertOrMerge(1, sample())

		// Re-register with fresh metadata carrying no edges
		fresh := New()
		fresh.Content = "updated"
		tbl.InsertOrMerge(1, fresh)

		m, _ := tbl.Get(1)
		assert.Equal(t, "updated", m.Content)
		assert.Len(t, m.Edges, 2, "edges must survive edge-less re-adds")
	})

	t.Run("MergeWithEdgesOverwrites", func(t *testing.T) {
		tbl := NewTable()
		tbl.InsertOrMerge(1, sample())

		fresh := New()
		fresh.Edges = []Edge{{TargetID: 100, RelType: RelPartOf, Weight: 1}}
		tbl.InsertOrMerge(1, fresh)

		m, _ := tbl.Get(1)
		require.Len(t, m.Edges, 1)
		assert.Equal(t, uint64(100), m.Edges[0].TargetID)
	})

	t.Run("ReplaceOverwrites", func(t *testing.T) {
		tbl := NewTable()
		tbl.InsertOrMerge(1, sample())

		fresh := New()
		tbl.Replace(1, fresh)

		m, _ := tbl.Get(1)
		assert.Empty(t, m.Edges)
	})

	t.Run("SetImportance", func(t *testing.T) {
		tbl := NewTable()
		tbl.InsertOrMerge(1, New())

		assert.True(t, tbl.SetImportance(1, 0.25))
		assert.False(t, tbl.SetImportance(2, 0.25))

		m, _ := tbl.Get(1)
		assert.Equal(t, float32(0.25), m.Importance)
	})

	t.Run("IncrementRecall", func(t *testing.T) {
		tbl := NewTable()
		tbl.InsertOrMerge(1, New())

		assert.True(t, tbl.IncrementRecall(1, 111))
		assert.True(t, tbl.IncrementRecall(1, 222))
		assert.False(t, tbl.IncrementRecall(2, 333))

		m, _ := tbl.Get(1)
		assert.Equal(t, uint32(2), m.RecallCount)
		assert.Equal(t, uint64(222), m.LastRecalledAt)
	})

	t.Run("PostingLists", func(t *testing.T) {
		tbl := NewTable()

		a := New()
		a.NamespaceID = "ns-a"
		a.EntityID = "e1"
		tbl.InsertOrMerge(1, a)

		b := New()
		b.NamespaceID = "ns-a"
		tbl.InsertOrMerge(2, b)

		ns := tbl.IDsInNamespace("ns-a")
		require.NotNil(t, ns)
		assert.Equal(t, uint64(2), ns.GetCardinality())

		e := tbl.IDsForEntity("e1")
		require.NotNil(t, e)
		assert.True(t, e.Contains(1))
		assert.False(t, e.Contains(2))

		// Moving a record out of a namespace updates the lists
		moved := New()
		moved.NamespaceID = "ns-b"
		tbl.Replace(1, moved)

		ns = tbl.IDsInNamespace("ns-a")
		require.NotNil(t, ns)
		assert.False(t, ns.Contains(1))
		assert.True(t, tbl.IDsInNamespace("ns-b").Contains(1))
		assert.Nil(t, tbl.IDsForEntity("e1"))
	})

	t.Run("AllIDs", func(t *testing.T) {
		tbl := NewTable()
		tbl.InsertOrMerge(5, New())
		tbl.InsertOrMerge(6, New())

		ids := tbl.AllIDs()
		assert.Equal(t, uint64(2), ids.GetCardinality())
		assert.True(t, ids.Contains(5))
		assert.True(t, ids.Contains(6))
	})
}

func TestReverseIndex(t *testing.T) {
	t.Run("AddAndIncoming", func(t *testing.T) {
		ri := NewReverseIndex()
		ri.Add(1, Edge{TargetID: 2, RelType: RelSupports, Weight: 0.5})

		in := ri.Incoming(2)
		require.Len(t, in, 1)
		assert.Equal(t, IncomingEdge{SourceID: 1, RelType: RelSupports, Weight: 0.5}, in[0])

		assert.Empty(t, ri.Incoming(1))
	})

	t.Run("RemoveSource", func(t *testing.T) {
		ri := NewReverseIndex()
		ri.Add(1, Edge{TargetID: 2, RelType: RelSupports, Weight: 1})
		ri.Add(3, Edge{TargetID: 2, RelType: RelContradicts, Weight: 1})

		ri.RemoveSource(1)

		in := ri.Incoming(2)
		require.Len(t, in, 1)
		assert.Equal(t, uint64(3), in[0].SourceID)
	})

	t.Run("Rebuild", func(t *testing.T) {
		tbl := NewTable()
		m := New()
		m.Edges = []Edge{
			{TargetID: 2, RelType: RelRelatedTo, Weight: 1},
			{TargetID: 3, RelType: RelPrecedes, Weight: 0.2},
		}
		tbl.InsertOrMerge(1, m)

		ri := NewReverseIndex()
		ri.Add(99, Edge{TargetID: 2, RelType: "stale", Weight: 1})
		ri.Rebuild(tbl)

		in := ri.Incoming(2)
		require.Len(t, in, 1)
		assert.Equal(t, uint64(1), in[0].SourceID)
		assert.Equal(t, RelRelatedTo, in[0].RelType)

		require.Len(t, ri.Incoming(3), 1)
	})
}
