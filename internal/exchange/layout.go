package exchange

import (
	"errors"
	"fmt"
)

// ErrBadLayout is returned for group layouts the exchanger cannot serve.
var ErrBadLayout = errors.New("invalid group layout")

// Layout places writers at ranks [0, Writers) and readers at ranks
// [Writers, Writers+Readers) of the combined group.
type Layout struct {
	Writers int
	Readers int
}

// Size returns the combined group size.
func (l Layout) Size() int {
	return l.Writers + l.Readers
}

// WriteMaster is the rank that merges and broadcasts the write pattern.
func (l Layout) WriteMaster() int {
	return 0
}

// ReadMaster is the rank that merges and broadcasts the read pattern: the
// first reader.
func (l Layout) ReadMaster() int {
	return l.Writers
}

// IsWriter reports whether rank belongs to the writer group.
func (l Layout) IsWriter(rank int) bool {
	return rank >= 0 && rank < l.Writers
}

// ReaderRank returns the group rank of reader index i.
func (l Layout) ReaderRank(i int) int {
	return l.Writers + i
}

// ReaderIndex returns the reader index of rank, or -1 for writers.
func (l Layout) ReaderIndex(rank int) int {
	if rank < l.Writers || rank >= l.Size() {
		return -1
	}
	return rank - l.Writers
}

// Validate checks that both groups are non-empty and that the layout
// matches a group of the given size.
func (l Layout) Validate(size int) error {
	if l.Writers < 1 || l.Readers < 1 {
		return fmt.Errorf("%w: %d writers, %d readers", ErrBadLayout, l.Writers, l.Readers)
	}
	if l.Size() != size {
		return fmt.Errorf("%w: %d writers + %d readers in a group of %d", ErrBadLayout, l.Writers, l.Readers, size)
	}
	return nil
}
