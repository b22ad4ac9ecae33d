package fetch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Table holds the regions one writer currently exposes, keyed by step, and
// serves range reads against them. Reads for a step that has not been
// exposed yet block until it is.
type Table struct {
	logger *zap.Logger

	mu        sync.Mutex
	exposures map[uint64]*Exposure
	// released is one past the highest step released so far.
	released uint64
	changed  chan struct{}
	closed   bool
}

// NewTable creates an empty exposure table.
func NewTable(logger *zap.Logger) *Table {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Table{
		logger:    logger,
		exposures: make(map[uint64]*Exposure),
		changed:   make(chan struct{}),
	}
}

// Exposure is a scoped exposed region. It stays readable until Release,
// which is safe to call more than once.
type Exposure struct {
	table  *Table
	step   uint64
	region []byte

	// guarded by table.mu
	pending  map[int]bool
	done     chan struct{}
	finished bool
	released bool
}

// Expose implements Exposer. The table keeps a reference to region; the
// caller must not modify it until the exposure is released.
func (t *Table) Expose(step uint64, region []byte, consumers []int) (*Exposure, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if _, ok := t.exposures[step]; ok {
		return nil, fmt.Errorf("step %d: %w", step, ErrDuplicateStep)
	}
	e := &Exposure{
		table:   t,
		step:    step,
		region:  region,
		pending: make(map[int]bool, len(consumers)),
		done:    make(chan struct{}),
	}
	for _, r := range consumers {
		e.pending[r] = true
	}
	if len(e.pending) == 0 {
		e.finish()
	}
	t.exposures[step] = e
	t.notify()
	t.logger.Debug("exposed region",
		zap.Uint64("step", step),
		zap.Int("bytes", len(region)),
		zap.Ints("consumers", consumers))
	return e, nil
}

// Serve copies ranges of step's region for reader, waiting for the step to
// be exposed. The reader is marked as having consumed the step.
func (t *Table) Serve(ctx context.Context, step uint64, reader int, ranges []Range) ([]byte, error) {
	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return nil, ErrClosed
		}
		if e, ok := t.exposures[step]; ok {
			out, err := e.read(ranges)
			if err == nil {
				e.consume(reader)
			}
			t.mu.Unlock()
			return out, err
		}
		if step < t.released {
			t.mu.Unlock()
			return nil, fmt.Errorf("step %d: %w", step, ErrStaleStep)
		}
		wait := t.changed
		t.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close releases every exposure and fails pending and future reads.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for step, e := range t.exposures {
		e.released = true
		e.finish()
		delete(t.exposures, step)
	}
	t.notify()
	return nil
}

// Exposed returns the number of live exposures.
func (t *Table) Exposed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.exposures)
}

// notify wakes every waiting reader. Callers hold t.mu.
func (t *Table) notify() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// Step returns the exposed step.
func (e *Exposure) Step() uint64 {
	return e.step
}

// Wait blocks until every expected consumer has fetched the region, the
// exposure is released, or ctx ends.
func (e *Exposure) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release withdraws the region. Later reads of the step fail with
// ErrStaleStep.
func (e *Exposure) Release() {
	t := e.table
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.released {
		return
	}
	e.released = true
	e.finish()
	if t.exposures[e.step] == e {
		delete(t.exposures, e.step)
	}
	if e.step+1 > t.released {
		t.released = e.step + 1
	}
	t.notify()
	t.logger.Debug("released region", zap.Uint64("step", e.step))
}

func (e *Exposure) read(ranges []Range) ([]byte, error) {
	size := uint64(len(e.region))
	out := make([]byte, 0, TotalLength(ranges))
	for _, r := range ranges {
		if r.End() > size || r.End() < r.Offset {
			return nil, fmt.Errorf("step %d: [%d, %d) of %d bytes: %w", e.step, r.Offset, r.End(), size, ErrOutOfRange)
		}
		out = append(out, e.region[r.Offset:r.End()]...)
	}
	return out, nil
}

func (e *Exposure) consume(reader int) {
	delete(e.pending, reader)
	if len(e.pending) == 0 {
		e.finish()
	}
}

func (e *Exposure) finish() {
	if !e.finished {
		e.finished = true
		close(e.done)
	}
}
