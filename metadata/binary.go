package metadata

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// Format versions understood by the record codec. The store header owns the
// version; the codec only needs to know which optional sections to expect.
const (
	// FormatV3 carries the base fields plus legacy plain links and salience counters.
	FormatV3 uint32 = 3
	// FormatV4 adds namespace, entity and attributes.
	FormatV4 uint32 = 4
	// FormatV5 adds typed weighted edges; the legacy links slot is always written as empty.
	FormatV5 uint32 = 5
)

var byteOrder = binary.LittleEndian

// Write serializes the record in the v5 layout.
//
// The legacy links count is always written as zero: plain links loaded from
// older files have already been promoted to edges, which are re-emitted in the
// edge section.
func Write(w io.Writer, m *Metadata) error {
	if err := writeUint64(w, uint64(m.Timestamp)); err != nil {
		return err
	}
	if err := writeUint32(w, math.Float32bits(m.Importance)); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(m.Type)}); err != nil {
		return err
	}

	if err := writeString16(w, m.Source); err != nil {
		return err
	}
	if err := writeString32(w, m.Content); err != nil {
		return err
	}
	if err := writeString16(w, m.TagsJSON); err != nil {
		return err
	}

	// Legacy links slot, always empty on write
	if err := writeUint16(w, 0); err != nil {
		return err
	}

	if err := writeUint32(w, m.RecallCount); err != nil {
		return err
	}
	if err := writeUint64(w, m.LastRecalledAt); err != nil {
		return err
	}

	if err := writeString16(w, m.NamespaceID); err != nil {
		return err
	}
	if err := writeString16(w, m.EntityID); err != nil {
		return err
	}

	attrCount := len(m.Attributes)
	if attrCount > math.MaxUint16 {
		attrCount = math.MaxUint16
	}
	if err := writeUint16(w, uint16(attrCount)); err != nil {
		return err
	}
	written := 0
	for k, v := range m.Attributes {
		if written >= attrCount {
			break
		}
		if err := writeString16(w, k); err != nil {
			return err
		}
		if err := writeString32(w, v); err != nil {
			return err
		}
		written++
	}

	edgeCount := len(m.Edges)
	if edgeCount > math.MaxUint16 {
		edgeCount = math.MaxUint16
	}
	if err := writeUint16(w, uint16(edgeCount)); err != nil {
		return err
	}
	for _, e := range m.Edges[:edgeCount] {
		if err := writeUint64(w, e.TargetID); err != nil {
			return err
		}
		if err := writeString8(w, e.RelType); err != nil {
			return err
		}
		if err := writeUint32(w, math.Float32bits(e.Weight)); err != nil {
			return err
		}
	}

	return nil
}

// Read deserializes a record written at the given format version. Versions
// below FormatV4 stop before the namespace section; versions below FormatV5
// stop before the edge section. Legacy plain links found in v3/v4 records are
// promoted to edges with RelType "related_to" and weight 1.0.
//
// A record truncated by EOF inside an optional section is returned as read so
// far, with io.ErrUnexpectedEOF; callers decide whether partial data is usable.
func Read(r io.Reader, version uint32) (Metadata, error) {
	m := New()

	ts, err := readUint64(r)
	if err != nil {
		return m, err
	}
	m.Timestamp = int64(ts)

	imp, err := readUint32(r)
	if err != nil {
		return m, unexpected(err)
	}
	m.Importance = math.Float32frombits(imp)

	var typ [1]byte
	if _, err := io.ReadFull(r, typ[:]); err != nil {
		return m, unexpected(err)
	}
	m.Type = ContextType(typ[0])

	if m.Source, err = readString16(r); err != nil {
		return m, unexpected(err)
	}
	if m.Content, err = readString32(r); err != nil {
		return m, unexpected(err)
	}
	if m.TagsJSON, err = readString16(r); err != nil {
		return m, unexpected(err)
	}

	linksCount, err := readUint16(r)
	if err != nil {
		return m, unexpected(err)
	}
	for range linksCount {
		target, err := readUint64(r)
		if err != nil {
			return m, unexpected(err)
		}
		m.Edges = append(m.Edges, Edge{TargetID: target, RelType: RelRelatedTo, Weight: 1.0})
	}

	if m.RecallCount, err = readUint32(r); err != nil {
		return m, unexpected(err)
	}
	if m.LastRecalledAt, err = readUint64(r); err != nil {
		return m, unexpected(err)
	}

	if version < FormatV4 {
		return m, nil
	}

	if m.NamespaceID, err = readString16(r); err != nil {
		return m, unexpected(err)
	}
	if m.EntityID, err = readString16(r); err != nil {
		return m, unexpected(err)
	}

	attrCount, err := readUint16(r)
	if err != nil {
		return m, unexpected(err)
	}
	if attrCount > 0 {
		m.Attributes = make(map[string]string, attrCount)
	}
	for range attrCount {
		k, err := readString16(r)
		if err != nil {
			return m, unexpected(err)
		}
		v, err := readString32(r)
		if err != nil {
			return m, unexpected(err)
		}
		m.Attributes[k] = v
	}

	if version < FormatV5 {
		return m, nil
	}

	edgeCount, err := readUint16(r)
	if err != nil {
		return m, unexpected(err)
	}
	for range edgeCount {
		var e Edge
		if e.TargetID, err = readUint64(r); err != nil {
			return m, unexpected(err)
		}
		if e.RelType, err = readString8(r); err != nil {
			return m, unexpected(err)
		}
		w, err := readUint32(r)
		if err != nil {
			return m, unexpected(err)
		}
		e.Weight = math.Float32frombits(w)
		m.Edges = append(m.Edges, e)
	}

	return m, nil
}

// unexpected maps a clean EOF in the middle of a record to ErrUnexpectedEOF so
// callers can distinguish "no more records" from "record cut short".
func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func writeUint16(w io.Writer, v uint16) error {
	var buf [2]byte
	byteOrder.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	byteOrder.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	byteOrder.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeString8(w io.Writer, s string) error {
	if len(s) > math.MaxUint8 {
		s = s[:math.MaxUint8]
	}
	if _, err := w.Write([]byte{byte(len(s))}); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func writeString16(w io.Writer, s string) error {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}
	if err := writeUint16(w, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func writeString32(w io.Writer, s string) error {
	if err := writeUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return byteOrder.Uint16(buf[:]), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return byteOrder.Uint32(buf[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return byteOrder.Uint64(buf[:]), nil
}

func readString8(r io.Reader) (string, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return "", err
	}
	return readBytes(r, int(buf[0]))
}

func readString16(r io.Reader) (string, error) {
	n, err := readUint16(r)
	if err != nil {
		return "", err
	}
	return readBytes(r, int(n))
}

func readString32(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	return readBytes(r, int(n))
}

func readBytes(r io.Reader, n int) (string, error) {
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
