package feather

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// exportLabelLimit caps the node label at a readable prefix of the content.
const exportLabelLimit = 60

// ExportOptions contains options for ExportGraph.
type ExportOptions struct {
	// NamespaceID, when non-empty, restricts nodes to that namespace.
	NamespaceID string

	// EntityID, when non-empty, restricts nodes to that entity.
	EntityID string
}

// ExportGraph emits the store's graph as a JSON document
// {"nodes":[...],"edges":[...]} suitable for D3 or Cytoscape.
//
// A node is included iff it passes both filters; an edge is emitted only when
// both endpoints passed, so the document never contains dangling edges.
// Nodes and edges are ordered by ascending id for stable output.
func (db *DB) ExportGraph(optFns ...func(o *ExportOptions)) string {
	opts := ExportOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	exported := db.exportedIDs(&opts)

	ids := exported.ToArray()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var sb strings.Builder
	sb.WriteString(`{"nodes":[`)

	first := true
	for _, id := range ids {
		m, ok := db.meta.Get(id)
		if !ok {
			continue
		}
		if !first {
			sb.WriteByte(',')
		}
		first = false

		label := m.Content
		if len(label) > exportLabelLimit {
			label = label[:exportLabelLimit]
		}

		sb.WriteString(`{"id":`)
		sb.WriteString(strconv.FormatUint(id, 10))
		sb.WriteString(`,"label":"`)
		sb.WriteString(escapeJSON(label))
		sb.WriteString(`","namespace_id":"`)
		sb.WriteString(escapeJSON(m.NamespaceID))
		sb.WriteString(`","entity_id":"`)
		sb.WriteString(escapeJSON(m.EntityID))
		sb.WriteString(`","type":`)
		sb.WriteString(strconv.Itoa(int(m.Type)))
		sb.WriteString(`,"source":"`)
		sb.WriteString(escapeJSON(m.Source))
		sb.WriteString(`","importance":`)
		sb.WriteString(formatFloat(m.Importance))
		sb.WriteString(`,"recall_count":`)
		sb.WriteString(strconv.FormatUint(uint64(m.RecallCount), 10))
		sb.WriteString(`,"timestamp":`)
		sb.WriteString(strconv.FormatInt(m.Timestamp, 10))
		sb.WriteString(`,"attributes":{`)

		attrKeys := make([]string, 0, len(m.Attributes))
		for k := range m.Attributes {
			attrKeys = append(attrKeys, k)
		}
		sort.Strings(attrKeys)
		for i, k := range attrKeys {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteByte('"')
			sb.WriteString(escapeJSON(k))
			sb.WriteString(`":"`)
			sb.WriteString(escapeJSON(m.Attributes[k]))
			sb.WriteByte('"')
		}
		sb.WriteString("}}")
	}

	sb.WriteString(`],"edges":[`)

	first = true
	for _, id := range ids {
		m, ok := db.meta.Get(id)
		if !ok {
			continue
		}
		for _, e := range m.Edges {
			// Only emit the edge if the target survived the node filter
			if !exported.Contains(e.TargetID) {
				continue
			}
			if !first {
				sb.WriteByte(',')
			}
			first = false

			sb.WriteString(`{"source":`)
			sb.WriteString(strconv.FormatUint(id, 10))
			sb.WriteString(`,"target":`)
			sb.WriteString(strconv.FormatUint(e.TargetID, 10))
			sb.WriteString(`,"rel_type":"`)
			sb.WriteString(escapeJSON(e.RelType))
			sb.WriteString(`","weight":`)
			sb.WriteString(formatFloat(e.Weight))
			sb.WriteByte('}')
		}
	}

	sb.WriteString("]}")
	return sb.String()
}

// exportedIDs resolves the node filter to an id set, using the table's
// posting lists when exact-match filters are present.
func (db *DB) exportedIDs(opts *ExportOptions) *roaring64.Bitmap {
	var exported *roaring64.Bitmap

	if opts.NamespaceID != "" {
		bm := db.meta.IDsInNamespace(opts.NamespaceID)
		if bm == nil {
			return roaring64.New()
		}
		exported = bm.Clone()
	}

	if opts.EntityID != "" {
		bm := db.meta.IDsForEntity(opts.EntityID)
		if bm == nil {
			return roaring64.New()
		}
		if exported == nil {
			exported = bm.Clone()
		} else {
			exported.And(bm)
		}
	}

	if exported == nil {
		exported = db.meta.AllIDs()
	}
	return exported
}

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}

// escapeJSON escapes quote, backslash, the common control escapes, and emits
// \uXXXX for the remaining characters below 0x20.
func escapeJSON(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if c < 0x20 {
				sb.WriteString(fmt.Sprintf(`\u%04x`, c))
			} else {
				sb.WriteByte(c)
			}
		}
	}
	return sb.String()
}
