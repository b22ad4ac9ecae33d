package box

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// Dims is a per-axis list of extents or coordinates.
type Dims []uint64

// Volume returns the product of all entries. An empty Dims has volume 1,
// matching a 0-D (scalar) box.
func (d Dims) Volume() uint64 {
	v := uint64(1)
	for _, n := range d {
		v *= n
	}
	return v
}

// Reverse returns a reversed copy of d.
func (d Dims) Reverse() Dims {
	if d == nil {
		return nil
	}
	out := slices.Clone(d)
	slices.Reverse(out)
	return out
}

// Clone returns an independent copy of d.
func (d Dims) Clone() Dims {
	if d == nil {
		return nil
	}
	return slices.Clone(d)
}

// Equal reports whether d and o hold the same entries.
func (d Dims) Equal(o Dims) bool {
	return slices.Equal(d, o)
}

// Zero returns a Dims of the given rank filled with zeros.
func Zero(rank int) Dims {
	return make(Dims, rank)
}

// MajorOrder is the memory layout convention of a box: which axis varies
// fastest in linear memory.
type MajorOrder uint8

const (
	// RowMajor places the last axis fastest (C convention).
	RowMajor MajorOrder = iota
	// ColumnMajor places the first axis fastest (Fortran convention).
	ColumnMajor
)

func (o MajorOrder) String() string {
	switch o {
	case RowMajor:
		return "row-major"
	case ColumnMajor:
		return "column-major"
	default:
		return fmt.Sprintf("MajorOrder(%d)", uint8(o))
	}
}

// Box is an axis-aligned region: a start coordinate and a count per axis.
//
// A Box with no axes is a 0-D scalar box of volume 1. Boxes are plain values;
// the methods that return boxes never alias the receiver's slices.
type Box struct {
	Start Dims
	Count Dims
}

// New builds a box from start and count. Both are copied.
func New(start, count Dims) Box {
	return Box{Start: start.Clone(), Count: count.Clone()}
}

// Of builds a box at the origin with the given count.
func Of(count ...uint64) Box {
	return Box{Start: Zero(len(count)), Count: Dims(count).Clone()}
}

// Rank returns the number of axes.
func (b Box) Rank() int {
	return len(b.Count)
}

// Valid reports whether start and count describe the same number of axes.
func (b Box) Valid() bool {
	return len(b.Start) == len(b.Count)
}

// End returns the exclusive end coordinate per axis.
func (b Box) End() Dims {
	end := make(Dims, len(b.Count))
	for i := range b.Count {
		end[i] = b.Start[i] + b.Count[i]
	}
	return end
}

// Volume returns the number of elements in the box.
func (b Box) Volume() uint64 {
	return b.Count.Volume()
}

// Empty reports whether any axis has a zero count.
func (b Box) Empty() bool {
	for _, c := range b.Count {
		if c == 0 {
			return true
		}
	}
	return false
}

// Equal reports whether two boxes cover the same region with the same rank.
func (b Box) Equal(o Box) bool {
	return b.Start.Equal(o.Start) && b.Count.Equal(o.Count)
}

// Reverse returns the box with its axis list reversed, the conversion
// between row-major and column-major views of the same region.
func (b Box) Reverse() Box {
	return Box{Start: b.Start.Reverse(), Count: b.Count.Reverse()}
}

// Contains reports whether o lies entirely inside b.
func (b Box) Contains(o Box) bool {
	if b.Rank() != o.Rank() {
		return false
	}
	for i := range b.Count {
		if o.Start[i] < b.Start[i] || o.Start[i]+o.Count[i] > b.Start[i]+b.Count[i] {
			return false
		}
	}
	return true
}

func (b Box) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i := range b.Count {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d+%d", b.Start[i], b.Count[i])
	}
	sb.WriteString("]")
	return sb.String()
}

// Intersect returns the overlap of a and b. The second result is false when
// the boxes differ in rank or the overlap has zero volume; an empty overlap
// is not an error.
func Intersect(a, b Box) (Box, bool) {
	if a.Rank() != b.Rank() {
		return Box{}, false
	}
	out := Box{Start: make(Dims, a.Rank()), Count: make(Dims, a.Rank())}
	for i := range a.Count {
		start := max(a.Start[i], b.Start[i])
		end := min(a.Start[i]+a.Count[i], b.Start[i]+b.Count[i])
		if end <= start {
			return Box{}, false
		}
		out.Start[i] = start
		out.Count[i] = end - start
	}
	return out, true
}
