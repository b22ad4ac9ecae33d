package box

import (
	"errors"
	"fmt"
)

var (
	// ErrRankMismatch is returned when boxes taking part in one copy do not
	// share the same number of axes after major-order conversion.
	ErrRankMismatch = errors.New("box rank mismatch")
	// ErrOutOfBounds is returned when a logical box is not inside its memory box.
	ErrOutOfBounds = errors.New("box outside memory box")
	// ErrShortBuffer is returned when a byte slice is smaller than its memory box.
	ErrShortBuffer = errors.New("buffer smaller than memory box")
)

// Region describes one side of a copy: bytes laid out as a dense array over
// Memory, of which Box is the logical part taking part in the copy.
//
// Memory is optional. When it has no axes the allocation is assumed to be
// exactly Box; a separate memory box addresses a sub-region of an oversized
// allocation.
type Region struct {
	Data   []byte
	Box    Box
	Memory Box
	Order  MajorOrder
}

func (r Region) memory() Box {
	if r.Memory.Rank() == 0 && r.Box.Rank() != 0 {
		return r.Box
	}
	return r.Memory
}

// CopyBox copies the overlap of srcBox and dstBox from src into dst. Each
// buffer holds exactly its box in its own major order. See Copy.
//
// Parameters:
//   - dst, dstBox, dstOrder: destination bytes, the box they hold and its axis order
//   - src, srcBox, srcOrder: source bytes, the box they hold and its axis order
//   - elemSize: bytes per element
//   - reverseByteOrder: byte-swap every element while copying
//
// Returns:
//   - error: ErrRankMismatch, ErrShortBuffer or ErrOutOfBounds; an empty
//     overlap is not an error
//
// Example:
//
//	// x[3:7] from a writer holding x[5:10]
//	err := box.CopyBox(dst, box.New(box.Dims{3}, box.Dims{4}), box.RowMajor,
//	    src, box.New(box.Dims{5}, box.Dims{5}), box.RowMajor, 4, false)
func CopyBox(dst []byte, dstBox Box, dstOrder MajorOrder, src []byte, srcBox Box, srcOrder MajorOrder, elemSize int, reverseByteOrder bool) error {
	_, err := Copy(
		Region{Data: dst, Box: dstBox, Order: dstOrder},
		Region{Data: src, Box: srcBox, Order: srcOrder},
		elemSize, reverseByteOrder)
	return err
}

// Copy copies every element inside the intersection of dst.Box and src.Box
// from src to dst, leaving all other destination bytes untouched, and returns
// the number of elements copied.
//
// Boxes are given in their region's own axis convention. When the orders
// differ, the destination axes are reversed to match the source before the
// intersection is taken. An empty intersection is a no-op. With
// reverseByteOrder set every elemSize-byte element is byte-swapped while it
// is copied.
func Copy(dst, src Region, elemSize int, reverseByteOrder bool) (uint64, error) {
	swapSize := 0
	if reverseByteOrder {
		swapSize = elemSize
	}
	return CopySwapped(dst, src, elemSize, swapSize)
}

// CopySwapped is Copy with the byte swap done in words of swapSize bytes.
// A complex element swaps its real and imaginary halves separately, so it
// passes half its size. A swapSize of 0 or 1 copies bytes unchanged.
func CopySwapped(dst, src Region, elemSize, swapSize int) (uint64, error) {
	if elemSize <= 0 {
		return 0, fmt.Errorf("element size %d: %w", elemSize, ErrShortBuffer)
	}
	if swapSize < 0 || swapSize > 1 && elemSize%swapSize != 0 {
		return 0, fmt.Errorf("swap size %d does not divide element size %d", swapSize, elemSize)
	}
	dstBox, dstMem := dst.Box, dst.memory()
	srcBox, srcMem := src.Box, src.memory()
	if dst.Order != src.Order {
		dstBox, dstMem = dstBox.Reverse(), dstMem.Reverse()
	}
	// Normalise to row-major so the last axis is always the fastest.
	if src.Order == ColumnMajor {
		dstBox, dstMem = dstBox.Reverse(), dstMem.Reverse()
		srcBox, srcMem = srcBox.Reverse(), srcMem.Reverse()
	}

	rank := srcBox.Rank()
	for _, b := range []Box{srcBox, srcMem, dstBox, dstMem} {
		if !b.Valid() || b.Rank() != rank {
			return 0, fmt.Errorf("copy %v into %v: %w", srcBox, dstBox, ErrRankMismatch)
		}
	}
	if !srcMem.Contains(srcBox) {
		return 0, fmt.Errorf("source %v in %v: %w", srcBox, srcMem, ErrOutOfBounds)
	}
	if !dstMem.Contains(dstBox) {
		return 0, fmt.Errorf("destination %v in %v: %w", dstBox, dstMem, ErrOutOfBounds)
	}
	if need := srcMem.Volume() * uint64(elemSize); uint64(len(src.Data)) < need {
		return 0, fmt.Errorf("source has %d bytes, need %d: %w", len(src.Data), need, ErrShortBuffer)
	}
	if need := dstMem.Volume() * uint64(elemSize); uint64(len(dst.Data)) < need {
		return 0, fmt.Errorf("destination has %d bytes, need %d: %w", len(dst.Data), need, ErrShortBuffer)
	}

	inter, ok := Intersect(srcBox, dstBox)
	if !ok {
		return 0, nil
	}
	es := uint64(elemSize)

	if rank == 1 {
		srcOff := (inter.Start[0] - srcMem.Start[0]) * es
		dstOff := (inter.Start[0] - dstMem.Start[0]) * es
		n := inter.Count[0] * es
		copyRun(dst.Data[dstOff:dstOff+n], src.Data[srcOff:srcOff+n], swapSize)
		return inter.Count[0], nil
	}

	walk(inter, []Box{srcMem, dstMem}, func(offs []uint64, run uint64) {
		so, do, n := offs[0]*es, offs[1]*es, run*es
		copyRun(dst.Data[do:do+n], src.Data[so:so+n], swapSize)
	})
	return inter.Volume(), nil
}

// Run is a contiguous stretch of elements inside a memory box.
type Run struct {
	Offset uint64
	Length uint64
}

// Runs lists, in memory order, the contiguous element runs that make up sub
// inside a dense array laid out over mem. Adjacent runs are coalesced.
func Runs(sub, mem Box, order MajorOrder) ([]Run, error) {
	if order == ColumnMajor {
		sub, mem = sub.Reverse(), mem.Reverse()
	}
	if !sub.Valid() || !mem.Valid() || sub.Rank() != mem.Rank() {
		return nil, fmt.Errorf("runs of %v in %v: %w", sub, mem, ErrRankMismatch)
	}
	if !mem.Contains(sub) {
		return nil, fmt.Errorf("runs of %v in %v: %w", sub, mem, ErrOutOfBounds)
	}
	if sub.Empty() {
		return nil, nil
	}
	var runs []Run
	walk(sub, []Box{mem}, func(offs []uint64, run uint64) {
		if n := len(runs); n > 0 && runs[n-1].Offset+runs[n-1].Length == offs[0] {
			runs[n-1].Length += run
			return
		}
		runs = append(runs, Run{Offset: offs[0], Length: run})
	})
	return runs, nil
}

// walk visits the contiguous runs of inter inside each of the row-major
// memory boxes mems, passing the linear element offset of the run's first
// element in every memory box and the run length. inter must be non-empty
// and contained in every memory box.
func walk(inter Box, mems []Box, visit func(offs []uint64, run uint64)) {
	rank := inter.Rank()
	offs := make([]uint64, len(mems))
	if rank == 0 {
		visit(offs, 1)
		return
	}

	strides := make([][]uint64, len(mems))
	for m, mem := range mems {
		s := make([]uint64, rank)
		s[rank-1] = 1
		for i := rank - 2; i >= 0; i-- {
			s[i] = s[i+1] * mem.Count[i+1]
		}
		strides[m] = s
	}

	// Fold fast axes into one run while they span every memory box fully.
	fixed := rank - 1
	run := inter.Count[fixed]
	for fixed > 0 && spansAll(inter, mems, fixed) {
		fixed--
		run *= inter.Count[fixed]
	}

	coord := inter.Start.Clone()
	for {
		for m, mem := range mems {
			var off uint64
			for i := 0; i < rank; i++ {
				off += (coord[i] - mem.Start[i]) * strides[m][i]
			}
			offs[m] = off
		}
		visit(offs, run)

		// Odometer over the slow axes [0, fixed).
		ax := fixed - 1
		for ; ax >= 0; ax-- {
			coord[ax]++
			if coord[ax] < inter.Start[ax]+inter.Count[ax] {
				break
			}
			coord[ax] = inter.Start[ax]
		}
		if ax < 0 {
			return
		}
	}
}

func spansAll(inter Box, mems []Box, axis int) bool {
	for _, mem := range mems {
		if inter.Count[axis] != mem.Count[axis] {
			return false
		}
	}
	return true
}

func copyRun(dst, src []byte, swapSize int) {
	if swapSize <= 1 {
		copy(dst, src)
		return
	}
	for i := 0; i+swapSize <= len(src); i += swapSize {
		for j := 0; j < swapSize; j++ {
			dst[i+j] = src[i+swapSize-1-j]
		}
	}
}
