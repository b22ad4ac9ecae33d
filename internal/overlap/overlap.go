package overlap

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/dreamware/tessera/internal/box"
	"github.com/dreamware/tessera/internal/pattern"
)

// ControlLen is the size of the control byte that leads every writer's
// exposed region and every entry of a receive buffer.
const ControlLen = 1

// Control byte values: the writer's stream status for the step.
const (
	StatusData        byte = 0
	StatusEndOfStream byte = 1
)

// Range is a byte range inside a writer's exposed region.
type Range struct {
	Offset uint64
	Length uint64
}

// Segment is the overlap of one writer block with one selection, packed
// densely in the writer's major order inside the receive buffer.
type Segment struct {
	Selection int
	Block     int
	Name      string
	Type      pattern.ElementType
	// Order and Box describe the packed elements in the writer's axis
	// convention. Local-array boxes are in block coordinates.
	Order  box.MajorOrder
	Box    box.Box
	Offset uint64
	Length uint64
	// Remote lists where the packed bytes come from in the writer's region.
	Remote []Range
}

// Entry is the receive-buffer slot of one contributing writer: a control
// byte at Offset followed by the writer's segments.
type Entry struct {
	Writer    int
	BigEndian bool
	Offset    uint64
	Length    uint64
	Segments  []Segment
}

// Ranges returns the remote ranges to fetch for the entry, in receive
// buffer order: the control byte first, then every segment. Their total
// length equals e.Length.
func (e Entry) Ranges() []Range {
	out := []Range{{Offset: 0, Length: ControlLen}}
	for _, s := range e.Segments {
		out = append(out, s.Remote...)
	}
	return out
}

// SkippedBlock records a block the resolver could not use.
type SkippedBlock struct {
	Writer int
	Name   string
	Err    error
}

// Map is the receive-buffer layout of one reader for one pattern pair.
type Map struct {
	Entries []Entry
	Size    uint64
	Skipped []SkippedBlock
}

// Entry returns the entry of writer w.
func (m *Map) Entry(w int) (Entry, bool) {
	for _, e := range m.Entries {
		if e.Writer == w {
			return e, true
		}
	}
	return Entry{}, false
}

// Digest fingerprints the layout. Equal inputs to Resolve produce equal
// digests.
func (m *Map) Digest() uint64 {
	d := xxhash.New()
	var buf []byte
	put := func(v uint64) { buf = binary.LittleEndian.AppendUint64(buf, v) }
	put(m.Size)
	for _, e := range m.Entries {
		put(uint64(e.Writer))
		put(e.Offset)
		put(e.Length)
		for _, s := range e.Segments {
			put(uint64(s.Selection))
			put(uint64(s.Block))
			put(s.Offset)
			put(s.Length)
			for _, r := range s.Remote {
				put(r.Offset)
				put(r.Length)
			}
		}
	}
	_, _ = d.Write(buf)
	return d.Sum64()
}

// Resolve lays out the receive buffer of a reader with selections sels
// against write pattern wp.
//
// Writers are walked in ascending order and their array blocks intersected
// with the reader's selections of the same name. Global-array blocks match
// global selections; a local-array block matches only selections addressed
// to its writer. Selection axes are reversed when the major orders differ.
// Each writer that overlaps anything gets the next slot of the buffer,
// sized as its overlap bytes plus ControlLen. Blocks of unknown or
// variable-size element type are recorded in Skipped.
//
// A block is intersected with each selection on its own, not with the
// union of the selections. Every intersection becomes a Segment bound to
// one selection's destination, so elements covered by two overlapping
// selections are fetched once per selection and counted twice in the
// entry's Length.
//
// Parameters:
//   - wp: the write pattern of the step, one entry per writer rank
//   - sels: the reader's selections, in the order they were made
//
// Returns:
//   - *Map: the receive buffer layout, packed in ascending writer order
//   - error: a block whose box cannot be walked in its major order
//
// Example:
//
//	m, err := overlap.Resolve(wp, rp.Readers[rank])
//	if err != nil {
//	    return err
//	}
//	buf := make([]byte, m.Size)
func Resolve(wp pattern.WritePattern, sels []pattern.SelectionRequest) (*Map, error) {
	m := &Map{}
	var running uint64
	for w, we := range wp.Writers {
		var (
			segs  []Segment
			total uint64
		)
		for bi, b := range we.Blocks {
			if !b.Kind.IsArray() {
				continue
			}
			size := uint64(b.Type.Size())
			if !b.Type.Known() || size == 0 {
				m.Skipped = append(m.Skipped, SkippedBlock{
					Writer: w,
					Name:   b.Name,
					Err:    fmt.Errorf("block %q of writer %d has type %s: %w", b.Name, w, b.Type, pattern.ErrUnknownDataType),
				})
				continue
			}
			blockBox := b.Box()
			for si, s := range sels {
				if s.Name != b.Name || !matchesWriter(b.Kind, s.Writer, w) {
					continue
				}
				sb := s.Box()
				if s.Order != b.Order {
					sb = sb.Reverse()
				}
				inter, ok := box.Intersect(blockBox, sb)
				if !ok {
					continue
				}
				runs, err := box.Runs(inter, blockBox, b.Order)
				if err != nil {
					return nil, fmt.Errorf("block %q of writer %d: %w", b.Name, w, err)
				}
				remote := make([]Range, len(runs))
				for i, r := range runs {
					remote[i] = Range{Offset: ControlLen + b.Offset + r.Offset*size, Length: r.Length * size}
				}
				length := inter.Volume() * size
				segs = append(segs, Segment{
					Selection: si,
					Block:     bi,
					Name:      b.Name,
					Type:      b.Type,
					Order:     b.Order,
					Box:       inter,
					Offset:    running + ControlLen + total,
					Length:    length,
					Remote:    remote,
				})
				total += length
			}
		}
		if total == 0 {
			continue
		}
		e := Entry{
			Writer:    w,
			BigEndian: we.BigEndian,
			Offset:    running,
			Length:    total + ControlLen,
			Segments:  segs,
		}
		m.Entries = append(m.Entries, e)
		running += e.Length
	}
	m.Size = running
	return m, nil
}

func matchesWriter(kind pattern.ShapeKind, selWriter, w int) bool {
	if kind == pattern.LocalArray {
		return selWriter == w
	}
	return selWriter == pattern.AnyWriter
}

// ProbeWriter is the writer whose control byte a reader polls when its map
// has no entries, so it still observes the stream status every step.
const ProbeWriter = 0

// Consumers returns the reader indices that will fetch from writer w for
// the pattern pair: readers whose map has an entry for w, plus, for
// ProbeWriter, readers whose map is empty.
func Consumers(wp pattern.WritePattern, rp pattern.ReadPattern, w int) ([]int, error) {
	var out []int
	for j, sels := range rp.Readers {
		m, err := Resolve(wp, sels)
		if err != nil {
			return nil, err
		}
		if _, ok := m.Entry(w); ok || (len(m.Entries) == 0 && w == ProbeWriter) {
			out = append(out, j)
		}
	}
	return out, nil
}
