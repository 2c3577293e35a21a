package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/feather-store/feather/metadata"
)

var byteOrder = binary.LittleEndian

// Write serializes the snapshot in the current (v5) layout:
// header, metadata section, then one section per modality.
func Write(w io.Writer, snap *Snapshot) error {
	if err := writeUint32(w, MagicNumber); err != nil {
		return err
	}
	if err := writeUint32(w, VersionCurrent); err != nil {
		return err
	}

	if err := writeUint32(w, uint32(len(snap.Records))); err != nil {
		return err
	}
	for id, m := range snap.Records {
		if err := writeUint64(w, id); err != nil {
			return err
		}
		if err := metadata.Write(w, m); err != nil {
			return err
		}
	}

	if err := writeUint32(w, uint32(len(snap.Modalities))); err != nil {
		return err
	}
	for _, section := range snap.Modalities {
		name := section.Name
		if len(name) > math.MaxUint16 {
			name = name[:math.MaxUint16]
		}
		if err := writeUint16(w, uint16(len(name))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, name); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(section.Dim)); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(len(section.Items))); err != nil {
			return err
		}
		for _, item := range section.Items {
			if err := writeUint64(w, item.ID); err != nil {
				return err
			}
			if err := writeVector(w, item.Vector); err != nil {
				return err
			}
		}
	}

	return nil
}

// Read deserializes a store file. Header problems are fatal: a foreign magic
// yields ErrInvalidMagic, an unknown version ErrUnsupportedVersion. Corruption
// past the header stops the read at the damaged record and returns the
// snapshot as decoded so far, together with an error wrapping ErrCorruptData.
func Read(r io.Reader) (*Snapshot, error) {
	magic, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMagic, err)
	}
	if magic != MagicNumber {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, magic)
	}

	version, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMagic, err)
	}
	if version < VersionMin || version > VersionCurrent {
		return nil, &ErrUnsupportedVersion{Version: version}
	}

	snap := NewSnapshot()
	snap.Version = version

	if version == 2 {
		return readV2(r, snap)
	}
	return readSectioned(r, snap)
}

// readV2 decodes the legacy layout: a single implicit "text" modality with
// metadata interleaved between id and vector, repeated until EOF.
func readV2(r io.Reader, snap *Snapshot) (*Snapshot, error) {
	dim, err := readUint32(r)
	if err != nil {
		return snap, corrupt("v2 dimension", err)
	}

	section := ModalitySection{Name: "text", Dim: int(dim)}

	for {
		id, err := readUint64(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			snap.Modalities = append(snap.Modalities, section)
			return snap, corrupt("v2 record id", err)
		}

		m, err := metadata.Read(r, snap.Version)
		if err != nil {
			snap.Modalities = append(snap.Modalities, section)
			return snap, corrupt("v2 metadata", err)
		}

		vec, err := readVector(r, int(dim))
		if err != nil {
			snap.Modalities = append(snap.Modalities, section)
			return snap, corrupt("v2 vector", err)
		}

		snap.Records[id] = &m
		section.Items = append(section.Items, VectorItem{ID: id, Vector: vec})
	}

	snap.Modalities = append(snap.Modalities, section)
	return snap, nil
}

// readSectioned decodes the v3+ layout: metadata section first so edges can be
// reconstructed before the vector sections are streamed.
func readSectioned(r io.Reader, snap *Snapshot) (*Snapshot, error) {
	metaCount, err := readUint32(r)
	if err != nil {
		return snap, corrupt("metadata count", err)
	}

	for i := uint32(0); i < metaCount; i++ {
		id, err := readUint64(r)
		if err != nil {
			return snap, corrupt("record id", err)
		}
		m, err := metadata.Read(r, snap.Version)
		if err != nil {
			return snap, corrupt("metadata record", err)
		}
		snap.Records[id] = &m
	}

	modalCount, err := readUint32(r)
	if err != nil {
		return snap, corrupt("modality count", err)
	}

	for i := uint32(0); i < modalCount; i++ {
		nameLen, err := readUint16(r)
		if err != nil {
			return snap, corrupt("modality name length", err)
		}
		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBuf); err != nil {
			return snap, corrupt("modality name", err)
		}

		dim, err := readUint32(r)
		if err != nil {
			return snap, corrupt("modality dimension", err)
		}
		elementCount, err := readUint32(r)
		if err != nil {
			return snap, corrupt("modality element count", err)
		}

		section := ModalitySection{Name: string(nameBuf), Dim: int(dim)}
		for j := uint32(0); j < elementCount; j++ {
			id, err := readUint64(r)
			if err != nil {
				snap.Modalities = append(snap.Modalities, section)
				return snap, corrupt("vector id", err)
			}
			vec, err := readVector(r, int(dim))
			if err != nil {
				snap.Modalities = append(snap.Modalities, section)
				return snap, corrupt("vector data", err)
			}
			section.Items = append(section.Items, VectorItem{ID: id, Vector: vec})
		}
		snap.Modalities = append(snap.Modalities, section)
	}

	return snap, nil
}

func corrupt(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCorruptData, what, err)
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

func writeVector(w io.Writer, vec []float32) error {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		byteOrder.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	_, err := w.Write(buf)
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

func readVector(r io.Reader, dim int) ([]float32, error) {
	buf := make([]byte, dim*4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(byteOrder.Uint32(buf[i*4:]))
	}
	return vec, nil
}
