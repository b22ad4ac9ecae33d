package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/tessera/internal/box"
	"github.com/dreamware/tessera/internal/cluster"
	"github.com/dreamware/tessera/internal/exchange"
	"github.com/dreamware/tessera/internal/fetch"
	"github.com/dreamware/tessera/internal/overlap"
	"github.com/dreamware/tessera/internal/pattern"
	"github.com/dreamware/tessera/internal/variables"
)

// Reader pulls the blocks it selected from every writer each step.
//
// A Reader is driven by one goroutine. The only concurrency is the task
// EndStep hands to the next BeginStep and the step task BeginStep keeps
// across NotReady retries; neither touches state the caller can see until
// it has been joined.
type Reader struct {
	x       *exchange.Exchanger
	index   int
	fetcher fetch.Fetcher
	dir     variables.Directory
	opts    Options
	logger  *zap.Logger

	base   context.Context
	cancel context.CancelFunc

	sels     []pattern.SelectionRequest
	locked   bool
	deferred []int

	step    uint64
	started bool
	inStep  bool
	state   State
	failure error

	wp      pattern.WritePattern
	rp      pattern.ReadPattern
	m       *overlap.Map
	mapKey  [2]uint64
	recv    []byte
	lastEOS bool

	// carried is the task created by the last EndStep; pending is the
	// BeginStep task kept across NotReady returns.
	carried    *task
	pending    *task
	nextWP     pattern.WritePattern
	prefetched []byte
	prefetchOK bool
	nextEOS    bool
}

// NewReader creates the reader of group's rank. The rank must lie in the
// reader range of layout. No communication happens until the first
// BeginStep.
//
// Parameters:
//   - group: the collective group shared by every writer and reader
//   - layout: how many writers and readers the group holds
//   - fetcher: pulls exposed regions from writers (gRPC client or MemoryHub)
//   - opts: background mode, logger and metrics
//
// Returns:
//   - *Reader: ready for Select calls and the first BeginStep
//   - error: exchange.ErrBadLayout when the rank is not a reader
//
// Example:
//
//	r, err := engine.NewReader(client, layout, fetchClient, engine.Options{Background: true})
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//	sel, _ := r.Select("temperature", box.Dims{0, 0}, box.Dims{4, 6}, box.RowMajor)
func NewReader(group cluster.Group, layout exchange.Layout, fetcher fetch.Fetcher, opts Options) (*Reader, error) {
	x, err := exchange.New(group, layout, opts.Logger)
	if err != nil {
		return nil, err
	}
	idx := layout.ReaderIndex(group.Rank())
	if idx < 0 {
		return nil, fmt.Errorf("%w: rank %d is not a reader", exchange.ErrBadLayout, group.Rank())
	}
	dir := opts.Directory
	if dir == nil {
		dir = variables.NewMemoryDirectory()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Reader{
		x:       x,
		index:   idx,
		fetcher: fetcher,
		dir:     dir,
		opts:    opts,
		logger:  opts.logger().With(zap.String("role", "reader"), zap.Int("rank", group.Rank()), zap.Int("reader", idx)),
		base:    base,
		cancel:  cancel,
	}, nil
}

// Directory returns the directory the reader applies definitions and values
// to.
func (r *Reader) Directory() variables.Directory {
	return r.dir
}

// Select adds a selection of a global array and returns its handle. Start
// and Count are in order's axis convention. Selections persist across
// steps.
func (r *Reader) Select(name string, start, count box.Dims, order box.MajorOrder) (int, error) {
	return r.addSelection(pattern.SelectionRequest{
		Name: name, Start: start, Count: count, Order: order, Writer: pattern.AnyWriter,
	})
}

// SelectBlock adds a selection inside writer's local-array block of name,
// in block coordinates.
func (r *Reader) SelectBlock(name string, writer int, start, count box.Dims, order box.MajorOrder) (int, error) {
	if writer < 0 || writer >= r.x.Layout().Writers {
		return 0, fmt.Errorf("select block of writer %d: %w", writer, exchange.ErrBadLayout)
	}
	return r.addSelection(pattern.SelectionRequest{
		Name: name, Start: start, Count: count, Order: order, Writer: writer,
	})
}

func (r *Reader) addSelection(s pattern.SelectionRequest) (int, error) {
	switch {
	case r.locked:
		return 0, fmt.Errorf("select %q: %w", s.Name, ErrSelectionsLocked)
	case r.inStep || r.pending != nil:
		return 0, fmt.Errorf("select %q: %w", s.Name, ErrStepInProgress)
	case !s.Box().Valid():
		return 0, fmt.Errorf("select %q: %w", s.Name, box.ErrRankMismatch)
	}
	s.Start = s.Start.Clone()
	s.Count = s.Count.Clone()
	r.sels = append(r.sels, s)
	return len(r.sels) - 1, nil
}

// LockSelections promises that selections no longer change. Like Select
// it must be called between steps, and fails with ErrStepInProgress while
// a step is open or a BeginStep returned StepNotReady.
func (r *Reader) LockSelections() error {
	if r.inStep || r.pending != nil {
		return fmt.Errorf("lock selections: %w", ErrStepInProgress)
	}
	r.locked = true
	return nil
}

// BeginStep makes the next step's data available.
//
// The work runs on a step task that first joins the task of the previous
// EndStep. When the task does not finish in time BeginStep returns
// StepNotReady and keeps it; the next call waits on the same task.
func (r *Reader) BeginStep(ctx context.Context, mode StepMode, timeout time.Duration) (StepStatus, error) {
	switch {
	case r.state == StateEndOfStream:
		return StepEndOfStream, nil
	case r.state == StateFailed:
		return StepOtherError, r.failure
	case r.inStep:
		return StepOtherError, ErrStepInProgress
	}
	if r.pending == nil {
		start := time.Now()
		r.pending = runTask(r.base, true, func(ctx context.Context) error {
			err := r.prepare(ctx)
			r.opts.Metrics.ObserveStep("reader", pathOf(r.fixedStep()), time.Since(start))
			return err
		})
	}

	var wait <-chan time.Time
	switch {
	case mode == StepPoll:
		select {
		case <-r.pending.done:
		default:
			r.opts.Metrics.NotReady()
			return StepNotReady, nil
		}
	case timeout > 0:
		t := time.NewTimer(timeout)
		defer t.Stop()
		wait = t.C
	}
	select {
	case <-r.pending.done:
	case <-wait:
		r.opts.Metrics.NotReady()
		return StepNotReady, nil
	case <-ctx.Done():
		r.opts.Metrics.NotReady()
		return StepNotReady, ctx.Err()
	}

	t := r.pending
	r.pending = nil
	if t.err != nil {
		return r.abort(t.err)
	}
	if r.lastEOS {
		r.state = StateEndOfStream
		r.opts.Metrics.EndOfStream("reader")
		r.logger.Info("end of stream", zap.Uint64("step", r.step))
		return StepEndOfStream, nil
	}

	r.applyPattern()
	for i := range r.sels {
		r.sels[i].Satisfied = false
		r.sels[i].Destination = nil
	}
	r.deferred = r.deferred[:0]
	r.inStep = true
	r.started = true
	if r.fixedNext() {
		r.state = StateSteadyFixed
	} else {
		r.state = StateSteadyFlexible
	}
	return StepOK, nil
}

// prepare runs on the step task. It joins the carried task and leaves the
// step's patterns, map and receive buffer in place.
func (r *Reader) prepare(ctx context.Context) error {
	if err := r.carried.wait(ctx); err != nil {
		return err
	}
	carried := r.carried
	r.carried = nil

	if carried != nil && r.prefetchOK {
		// Fixed: the previous EndStep fetched this step already.
		r.prefetchOK = false
		r.lastEOS = r.nextEOS
		if !r.lastEOS {
			r.recv = r.prefetched
			r.opts.Metrics.SetReceiveBuffer(uint64(len(r.recv)))
		}
		r.prefetched = nil
		return nil
	}

	var wp pattern.WritePattern
	if carried == nil {
		var err error
		if wp, err = r.x.PublishWritePattern(ctx, nil); err != nil {
			return err
		}
	} else {
		wp = r.nextWP
		r.nextWP = pattern.WritePattern{}
	}
	if wp.EndOfStream {
		r.lastEOS = true
		return nil
	}
	r.wp = wp

	if !r.started || !r.rp.Locked {
		rp, err := r.x.PublishReadPattern(ctx, &exchange.ReaderContribution{Selections: r.sels, Locked: r.locked})
		if err != nil {
			return err
		}
		r.rp = rp
	}

	key := [2]uint64{r.wp.Digest(), r.rp.Digest()}
	if r.m == nil || key != r.mapKey {
		m, err := overlap.Resolve(r.wp, r.rp.Readers[r.index])
		if err != nil {
			return err
		}
		for _, s := range m.Skipped {
			r.logger.Warn("skipping block", zap.Int("writer", s.Writer), zap.String("variable", s.Name), zap.Error(s.Err))
		}
		r.m, r.mapKey = m, key
		r.logger.Debug("overlap resolved",
			zap.Uint64("step", r.step),
			zap.Int("entries", len(m.Entries)),
			zap.Uint64("bytes", m.Size))
	}

	recv, eos, err := r.fetchStep(ctx, r.step)
	if err != nil {
		return err
	}
	r.lastEOS = eos
	if !eos {
		r.recv = recv
		r.opts.Metrics.SetReceiveBuffer(uint64(len(recv)))
	}
	return nil
}

// fetchStep fetches every entry of the current map for step into a fresh
// receive buffer, one writer per goroutine. A reader with nothing to fetch
// reads the probe writer's control byte. The second result reports whether
// any control byte read end of stream.
func (r *Reader) fetchStep(ctx context.Context, step uint64) ([]byte, bool, error) {
	if len(r.m.Entries) == 0 {
		b, err := r.fetcher.Fetch(ctx, fetch.Request{
			Writer: overlap.ProbeWriter,
			Reader: r.index,
			Step:   step,
			Ranges: []fetch.Range{{Offset: 0, Length: overlap.ControlLen}},
		})
		if err != nil {
			return nil, false, fmt.Errorf("probe writer %d step %d: %w", overlap.ProbeWriter, step, err)
		}
		r.opts.Metrics.AddFetched(len(b))
		return []byte{}, len(b) > 0 && b[0] == overlap.StatusEndOfStream, nil
	}

	recv := make([]byte, r.m.Size)
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range r.m.Entries {
		g.Go(func() error {
			ranges := e.Ranges()
			req := fetch.Request{Writer: e.Writer, Reader: r.index, Step: step, Ranges: make([]fetch.Range, len(ranges))}
			for i, rg := range ranges {
				req.Ranges[i] = fetch.Range{Offset: rg.Offset, Length: rg.Length}
			}
			b, err := r.fetcher.Fetch(gctx, req)
			if err != nil {
				return fmt.Errorf("fetch %v: %w", req, err)
			}
			if uint64(len(b)) != e.Length {
				return fmt.Errorf("fetch %v: got %d bytes, want %d: %w", req, len(b), e.Length, fetch.ErrOutOfRange)
			}
			copy(recv[e.Offset:], b)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}
	r.opts.Metrics.AddFetched(len(recv))
	for _, e := range r.m.Entries {
		if recv[e.Offset] == overlap.StatusEndOfStream {
			return nil, true, nil
		}
	}
	return recv, false, nil
}

// applyPattern defines every variable of the step's write pattern in the
// directory and applies the inline values.
func (r *Reader) applyPattern() {
	for w, we := range r.wp.Writers {
		for _, b := range we.Blocks {
			if !b.Type.Known() {
				continue
			}
			err := r.dir.DefineVariable(variables.Variable{Name: b.Name, Type: b.Type, Kind: b.Kind, Shape: b.Shape})
			if err == nil && b.Kind.IsValue() {
				err = r.dir.ApplyScalarValue(b.Name, w, b.Value)
			}
			if err != nil {
				r.logger.Warn("skipping block", zap.Int("writer", w), zap.String("variable", b.Name), zap.Error(err))
			}
		}
	}
}

// Get copies selection sel of the current step into dst and returns the
// destination used. A nil dst is allocated by the directory. Deferred gets
// copy at PerformGets or EndStep.
func (r *Reader) Get(sel int, dst []byte, mode GetMode) ([]byte, error) {
	if !r.inStep {
		return nil, ErrNoStep
	}
	if sel < 0 || sel >= len(r.sels) {
		return nil, fmt.Errorf("selection %d of %d: %w", sel, len(r.sels), ErrUnknownVariable)
	}
	s := &r.sels[sel]
	dst, err := r.dir.AllocateOrAddressDestination(s.Name, s.Box(), dst)
	if err != nil {
		return nil, err
	}
	s.Destination = dst
	s.Satisfied = false
	if mode == GetDeferred {
		r.deferred = append(r.deferred, sel)
		return dst, nil
	}
	return dst, r.copyOut(sel)
}

// GetBlock returns writer's published block of name for the current step.
func (r *Reader) GetBlock(writer int, name string) (pattern.BlockDescriptor, error) {
	if !r.inStep {
		return pattern.BlockDescriptor{}, ErrNoStep
	}
	b, ok := r.wp.Find(writer, name)
	if !ok {
		return pattern.BlockDescriptor{}, fmt.Errorf("%q of writer %d: %w", name, writer, ErrUnknownVariable)
	}
	return b, nil
}

// Blocks returns every block of name published for the current step, in
// writer order.
func (r *Reader) Blocks(name string) []pattern.BlockDescriptor {
	var out []pattern.BlockDescriptor
	for w := range r.wp.Writers {
		if b, ok := r.wp.Find(w, name); ok {
			out = append(out, b)
		}
	}
	return out
}

// PerformGets completes every deferred Get of the step.
func (r *Reader) PerformGets() error {
	if !r.inStep {
		return ErrNoStep
	}
	var err error
	for _, sel := range r.deferred {
		err = multierr.Append(err, r.copyOut(sel))
	}
	r.deferred = r.deferred[:0]
	return err
}

func (r *Reader) copyOut(sel int) error {
	s := &r.sels[sel]
	for _, e := range r.m.Entries {
		reverse := e.BigEndian != hostBigEndian
		for _, seg := range e.Segments {
			if seg.Selection != sel {
				continue
			}
			src := box.Region{Data: r.recv[seg.Offset : seg.Offset+seg.Length], Box: seg.Box, Order: seg.Order}
			dst := box.Region{Data: s.Destination, Box: s.Box(), Order: s.Order}
			swap := 0
			if reverse {
				swap = seg.Type.SwapSize()
			}
			if _, err := box.CopySwapped(dst, src, seg.Type.Size(), swap); err != nil {
				return fmt.Errorf("copy %q from writer %d: %w", s.Name, e.Writer, err)
			}
		}
	}
	s.Satisfied = true
	return nil
}

// Satisfied reports whether selection sel was copied this step.
func (r *Reader) Satisfied(sel int) bool {
	return sel >= 0 && sel < len(r.sels) && r.sels[sel].Satisfied
}

// EndStep completes deferred gets and closes the step. It always creates
// the task the next BeginStep joins: in fixed mode that task fetches the
// next step with the unchanged map, otherwise it takes part in the next
// write-pattern exchange. With Options.Background the task runs on its own
// goroutine.
func (r *Reader) EndStep() error {
	if !r.inStep {
		return ErrNoStep
	}
	err := r.PerformGets()
	for i := range r.sels {
		r.sels[i].Destination = nil
	}
	next := r.step + 1
	if r.fixedNext() {
		r.carried = runTask(r.base, r.opts.Background, func(ctx context.Context) error {
			recv, eos, err := r.fetchStep(ctx, next)
			if err != nil {
				return err
			}
			r.prefetched, r.nextEOS, r.prefetchOK = recv, eos, true
			return nil
		})
	} else {
		r.carried = runTask(r.base, r.opts.Background, func(ctx context.Context) error {
			wp, err := r.x.PublishWritePattern(ctx, nil)
			if err != nil {
				return err
			}
			r.nextWP = wp
			return nil
		})
	}
	r.step = next
	r.inStep = false
	return err
}

// fixedNext reports whether the step after the current one skips
// negotiation.
func (r *Reader) fixedNext() bool {
	return r.wp.Locked && r.rp.Locked
}

// fixedStep reports whether the step being prepared came from a prefetch.
func (r *Reader) fixedStep() bool {
	return r.started && r.fixedNext()
}

// CurrentStep returns the index of the open step, or of the next one
// between steps.
func (r *Reader) CurrentStep() uint64 {
	return r.step
}

// State returns the reader's state.
func (r *Reader) State() State {
	return r.state
}

// Close stops the reader. Pending tasks are cancelled and joined.
func (r *Reader) Close() error {
	r.cancel()
	var err error
	// The step task may still clear carried, so join it first.
	for _, next := range []func() *task{
		func() *task { return r.pending },
		func() *task { return r.carried },
	} {
		werr := next().wait(context.Background())
		if werr != nil && !errors.Is(werr, context.Canceled) && r.state != StateEndOfStream {
			err = multierr.Append(err, werr)
		}
	}
	r.pending, r.carried = nil, nil
	if r.state != StateFailed {
		r.state = StateEndOfStream
	}
	r.inStep = false
	return err
}

func (r *Reader) abort(err error) (StepStatus, error) {
	r.state = StateFailed
	r.failure = fmt.Errorf("%w: %w", ErrStreamAborted, err)
	r.logger.Error("stream aborted", zap.Uint64("step", r.step), zap.Error(err))
	return StepOtherError, r.failure
}
