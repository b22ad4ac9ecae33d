package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/tessera/internal/box"
	"github.com/dreamware/tessera/internal/cluster"
	"github.com/dreamware/tessera/internal/exchange"
	"github.com/dreamware/tessera/internal/fetch"
	"github.com/dreamware/tessera/internal/overlap"
	"github.com/dreamware/tessera/internal/pattern"
)

// Definition declares one variable a writer publishes every step. Shape,
// Start and Count are in Order's axis convention; value kinds leave them
// empty.
type Definition struct {
	Name  string
	Type  pattern.ElementType
	Kind  pattern.ShapeKind
	Order box.MajorOrder
	Shape box.Dims
	Start box.Dims
	Count box.Dims
}

type writerVar struct {
	def   Definition
	value pattern.Value
	// published is set once value has travelled in a write pattern.
	published bool
}

// Writer publishes one rank's blocks each step and serves them to readers.
type Writer struct {
	x       *exchange.Exchanger
	exposer fetch.Exposer
	opts    Options
	logger  *zap.Logger

	vars   []*writerVar
	byName map[string]*writerVar
	locked bool

	step    uint64
	started bool
	inStep  bool
	state   State
	puts    map[string][]byte

	wp        pattern.WritePattern
	rp        pattern.ReadPattern
	consumers []int
	release   *task

	// base bounds release tasks; Close cancels it when it gives up.
	base   context.Context
	cancel context.CancelFunc
}

// NewWriter creates the writer of group's rank. The rank must lie in the
// writer range of layout.
//
// Parameters:
//   - group: the collective group shared by every writer and reader
//   - layout: how many writers and readers the group holds
//   - exposer: where step regions are published (fetch.Server or MemoryHub)
//   - opts: background mode, logger and metrics
//
// Returns:
//   - *Writer: ready for Define calls and the first BeginStep
//   - error: exchange.ErrBadLayout when the rank is not a writer
//
// Example:
//
//	w, err := engine.NewWriter(client, layout, fetchServer, engine.Options{})
//	if err != nil {
//	    return err
//	}
//	defer w.Close(ctx)
func NewWriter(group cluster.Group, layout exchange.Layout, exposer fetch.Exposer, opts Options) (*Writer, error) {
	x, err := exchange.New(group, layout, opts.Logger)
	if err != nil {
		return nil, err
	}
	if !layout.IsWriter(group.Rank()) {
		return nil, fmt.Errorf("%w: rank %d is not a writer", exchange.ErrBadLayout, group.Rank())
	}
	base, cancel := context.WithCancel(context.Background())
	return &Writer{
		x:       x,
		exposer: exposer,
		opts:    opts,
		logger:  opts.logger().With(zap.String("role", "writer"), zap.Int("rank", group.Rank())),
		byName:  make(map[string]*writerVar),
		base:    base,
		cancel:  cancel,
	}, nil
}

// Define declares or redefines a variable. Redefinition replaces the
// previous definition from the next EndStep on.
func (w *Writer) Define(d Definition) error {
	if w.locked {
		return fmt.Errorf("define %q: %w", d.Name, ErrDefinitionsLocked)
	}
	if w.state == StateEndOfStream {
		return ErrEndOfStream
	}
	blk := pattern.BlockDescriptor{
		Name: d.Name, Type: d.Type, Kind: d.Kind, Order: d.Order,
		Shape: d.Shape, Start: d.Start, Count: d.Count,
	}
	if d.Kind.IsArray() {
		if d.Type.Size() == 0 {
			return fmt.Errorf("define %q as %s array: %w", d.Name, d.Type, pattern.ErrUnknownDataType)
		}
		blk.Length = d.Count.Volume() * uint64(d.Type.Size())
	} else {
		// Value kinds are validated against their value at PutValue.
		blk.Value = pattern.RawValue(d.Type, nil)
	}
	if err := blk.Validate(); err != nil {
		return err
	}
	if v, ok := w.byName[d.Name]; ok {
		if v.def.Type != d.Type || v.def.Kind != d.Kind {
			v.value = pattern.Value{}
			v.published = false
		}
		v.def = d
		return nil
	}
	v := &writerVar{def: d}
	w.vars = append(w.vars, v)
	w.byName[d.Name] = v
	return nil
}

// LockDefinitions promises that definitions and values no longer change.
// Once every writer and reader has locked, steps skip negotiation.
func (w *Writer) LockDefinitions() {
	w.locked = true
}

// BeginStep opens the next step. It first joins the task of the previous
// EndStep, which waits until every reader fetched the last exposed region
// and releases it.
func (w *Writer) BeginStep(ctx context.Context) (StepStatus, error) {
	switch {
	case w.state == StateEndOfStream:
		return StepEndOfStream, nil
	case w.state == StateFailed:
		return StepOtherError, ErrStreamAborted
	case w.inStep:
		return StepOtherError, ErrStepInProgress
	}
	if err := w.release.wait(ctx); err != nil {
		if ctx.Err() != nil {
			return StepNotReady, err
		}
		return w.fail(err)
	}
	w.release = nil
	w.puts = make(map[string][]byte, len(w.vars))
	w.inStep = true
	if !w.started {
		w.state = StateNegotiating
	}
	return StepOK, nil
}

// Put stages the step's bytes of an array variable, in host byte order and
// the variable's major order. The data is copied.
func (w *Writer) Put(name string, data []byte) error {
	if !w.inStep {
		return ErrNoStep
	}
	v, ok := w.byName[name]
	if !ok {
		return fmt.Errorf("put %q: %w", name, ErrUnknownVariable)
	}
	if !v.def.Kind.IsArray() {
		return fmt.Errorf("put %q: %s takes PutValue", name, v.def.Kind)
	}
	want := v.def.Count.Volume() * uint64(v.def.Type.Size())
	if uint64(len(data)) != want {
		return fmt.Errorf("put %q: %d bytes, want %d: %w", name, len(data), want, box.ErrShortBuffer)
	}
	w.puts[name] = append([]byte(nil), data...)
	return nil
}

// PutValue sets the value of a value-kind variable. After LockDefinitions
// a value that has already been published cannot change.
func (w *Writer) PutValue(name string, val pattern.Value) error {
	if !w.inStep {
		return ErrNoStep
	}
	v, ok := w.byName[name]
	if !ok {
		return fmt.Errorf("put %q: %w", name, ErrUnknownVariable)
	}
	if !v.def.Kind.IsValue() {
		return fmt.Errorf("put %q: %s takes Put", name, v.def.Kind)
	}
	if val.Type != v.def.Type {
		return fmt.Errorf("put %q: %s value for %s variable: %w", name, val.Type, v.def.Type, pattern.ErrInvalidBlock)
	}
	if w.locked && v.published && !val.Equal(v.value) {
		return fmt.Errorf("put %q: %w", name, ErrDefinitionsLocked)
	}
	v.value = pattern.RawValue(val.Type, val.Bytes())
	return nil
}

// EndStep publishes the step. Unless the stream runs in fixed mode it
// exchanges the write pattern and, while readers are unlocked, the read
// pattern. It then exposes the step's region to the readers that will
// fetch from it.
func (w *Writer) EndStep(ctx context.Context) error {
	if !w.inStep {
		return ErrNoStep
	}
	start := time.Now()
	fixed := w.fixed()
	entry, payload := w.layout()
	region := make([]byte, overlap.ControlLen+payload)
	region[0] = overlap.StatusData
	for _, b := range entry.Blocks {
		if data, ok := w.puts[b.Name]; ok && b.Kind.IsArray() {
			copy(region[overlap.ControlLen+b.Offset:], data)
		}
	}

	if !fixed {
		if err := w.negotiate(ctx, entry); err != nil {
			_, err = w.fail(err)
			return err
		}
		if w.state == StateEndOfStream {
			return ErrEndOfStream
		}
	}

	exp, err := w.exposer.Expose(w.step, region, w.consumers)
	if err != nil {
		_, err = w.fail(fmt.Errorf("expose step %d: %w", w.step, err))
		return err
	}
	w.opts.Metrics.AddExposed(len(region))
	w.release = runTask(w.base, w.opts.Background, func(ctx context.Context) error {
		defer exp.Release()
		return exp.Wait(ctx)
	})

	w.logger.Debug("step published",
		zap.Uint64("step", w.step),
		zap.String("mode", pathOf(fixed)),
		zap.Int("bytes", len(region)),
		zap.Ints("consumers", w.consumers))
	w.opts.Metrics.ObserveStep("writer", pathOf(fixed), time.Since(start))

	w.step++
	w.started = true
	w.inStep = false
	if w.fixed() {
		w.state = StateSteadyFixed
	} else {
		w.state = StateSteadyFlexible
	}
	return nil
}

func (w *Writer) negotiate(ctx context.Context, entry pattern.WriterEntry) error {
	first := !w.started
	wp, err := w.x.PublishWritePattern(ctx, &exchange.WriterContribution{Entry: entry, Locked: w.locked})
	if err != nil {
		return err
	}
	if wp.EndOfStream {
		// The write-master closed while this writer was still stepping.
		w.wp = wp
		w.state = StateEndOfStream
		w.inStep = false
		return nil
	}
	for _, b := range entry.Blocks {
		if v := w.byName[b.Name]; v != nil && v.def.Kind.IsValue() {
			v.published = true
		}
	}
	if first || !w.rp.Locked {
		rp, err := w.x.PublishReadPattern(ctx, nil)
		if err != nil {
			return err
		}
		w.rp = rp
	}
	w.wp = wp
	consumers, err := overlap.Consumers(w.wp, w.rp, w.x.Rank())
	if err != nil {
		return err
	}
	w.consumers = consumers
	return nil
}

// layout lays the array variables out back to back in definition order and
// returns this writer's pattern entry and payload size.
func (w *Writer) layout() (pattern.WriterEntry, uint64) {
	entry := pattern.WriterEntry{BigEndian: hostBigEndian}
	var off uint64
	for _, v := range w.vars {
		d := v.def
		b := pattern.BlockDescriptor{
			Name: d.Name, Type: d.Type, Kind: d.Kind, Order: d.Order,
			Shape: d.Shape, Start: d.Start, Count: d.Count,
		}
		if d.Kind.IsArray() {
			b.Offset = off
			b.Length = d.Count.Volume() * uint64(d.Type.Size())
			off += b.Length
		} else {
			if v.value.Type != d.Type {
				// Nothing put yet.
				continue
			}
			b.Shape, b.Start, b.Count = nil, nil, nil
			b.Value = v.value
		}
		entry.Blocks = append(entry.Blocks, b)
	}
	return entry, off
}

// fixed reports whether the next EndStep skips negotiation.
func (w *Writer) fixed() bool {
	return w.started && w.wp.Locked && w.rp.Locked
}

// Close ends the stream. In fixed mode it exposes one more region whose
// control byte reads end of stream and waits for readers to fetch it;
// otherwise it publishes the end-of-stream write pattern. Close is
// collective across writers.
//
// When Close fails, for example because ctx ends before readers fetched
// the last region, every region still exposed is released before it
// returns and the writer cannot be used again.
func (w *Writer) Close(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			w.abandon()
			return
		}
		w.cancel()
	}()
	if w.state == StateEndOfStream || w.state == StateFailed {
		return w.release.wait(ctx)
	}
	if w.inStep {
		if err := w.EndStep(ctx); err != nil {
			return err
		}
	}
	if err := w.release.wait(ctx); err != nil {
		return fmt.Errorf("release step %d: %w", w.step-1, err)
	}
	w.release = nil

	if w.fixed() {
		_, payload := w.layout()
		region := make([]byte, overlap.ControlLen+payload)
		region[0] = overlap.StatusEndOfStream
		exp, err := w.exposer.Expose(w.step, region, w.consumers)
		if err != nil {
			return fmt.Errorf("expose end of stream: %w", err)
		}
		defer exp.Release()
		if err := exp.Wait(ctx); err != nil {
			return fmt.Errorf("wait for readers: %w", err)
		}
	} else {
		_, err := w.x.PublishWritePattern(ctx, &exchange.WriterContribution{EndOfStream: true, Locked: w.locked})
		if err != nil {
			return fmt.Errorf("publish end of stream: %w", err)
		}
	}
	w.state = StateEndOfStream
	w.opts.Metrics.EndOfStream("writer")
	w.logger.Info("stream closed", zap.Uint64("step", w.step))
	return nil
}

// abandon cancels the release task and joins it, which releases the
// region it was guarding.
func (w *Writer) abandon() {
	w.cancel()
	_ = w.release.wait(context.Background())
	w.release = nil
	if w.state != StateEndOfStream {
		w.state = StateFailed
	}
}

// CurrentStep returns the index of the open step, or of the next one
// between steps.
func (w *Writer) CurrentStep() uint64 {
	return w.step
}

// State returns the writer's state.
func (w *Writer) State() State {
	return w.state
}

func (w *Writer) fail(err error) (StepStatus, error) {
	w.state = StateFailed
	w.inStep = false
	w.logger.Error("stream aborted", zap.Uint64("step", w.step), zap.Error(err))
	return StepOtherError, fmt.Errorf("%w: %w", ErrStreamAborted, err)
}
