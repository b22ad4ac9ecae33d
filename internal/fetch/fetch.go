package fetch

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned after the table or transport has been closed.
	ErrClosed = errors.New("fetch transport closed")
	// ErrOutOfRange is returned when a requested range falls outside the
	// exposed region.
	ErrOutOfRange = errors.New("range outside exposed region")
	// ErrStaleStep is returned when a step's region has already been
	// released.
	ErrStaleStep = errors.New("step no longer exposed")
	// ErrDuplicateStep is returned when a step is exposed twice.
	ErrDuplicateStep = errors.New("step already exposed")
)

// Range is a byte range within a writer's exposed region.
type Range struct {
	Offset uint64
	Length uint64
}

// End returns the offset one past the range.
func (r Range) End() uint64 {
	return r.Offset + r.Length
}

// TotalLength sums the lengths of ranges.
func TotalLength(ranges []Range) uint64 {
	var n uint64
	for _, r := range ranges {
		n += r.Length
	}
	return n
}

// Request asks one writer for byte ranges of its region for one step. The
// reply is the ranges' bytes concatenated in request order. Reader is the
// requesting reader's index, used for consumption bookkeeping.
type Request struct {
	Writer int
	Reader int
	Step   uint64
	Ranges []Range
}

func (r Request) String() string {
	return fmt.Sprintf("writer %d step %d reader %d (%d ranges)", r.Writer, r.Step, r.Reader, len(r.Ranges))
}

// Exposer is the writer side: it publishes one region per step.
type Exposer interface {
	// Expose makes region fetchable for step until the returned exposure is
	// released. consumers lists the reader indices expected to fetch it.
	Expose(step uint64, region []byte, consumers []int) (*Exposure, error)
}

// Fetcher is the reader side. Fetch blocks until the writer exposes the
// requested step, the context ends, or the fetch fails.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

// Transport combines both sides.
type Transport interface {
	Exposer
	Fetcher
}
