package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/tessera/internal/box"
	"github.com/dreamware/tessera/internal/cluster"
	"github.com/dreamware/tessera/internal/exchange"
	"github.com/dreamware/tessera/internal/fetch"
	"github.com/dreamware/tessera/internal/pattern"
	"github.com/dreamware/tessera/internal/variables"
)

type stream struct {
	writers []*Writer
	readers []*Reader
	hub     *fetch.MemoryHub
}

func newStream(t *testing.T, nw, nr int, opts Options) *stream {
	t.Helper()
	layout := exchange.Layout{Writers: nw, Readers: nr}
	groups := cluster.NewLocal(layout.Size())
	s := &stream{hub: fetch.NewMemoryHub(nil)}
	t.Cleanup(func() { _ = s.hub.Close() })
	for i := 0; i < nw; i++ {
		w, err := NewWriter(groups[i], layout, s.hub.Writer(i), opts)
		require.NoError(t, err)
		s.writers = append(s.writers, w)
	}
	for j := 0; j < nr; j++ {
		r, err := NewReader(groups[nw+j], layout, s.hub, opts)
		require.NoError(t, err)
		s.readers = append(s.readers, r)
	}
	return s
}

// run drives every writer for steps steps and then closes it, and drives
// every reader until end of stream. It returns the number of steps each
// reader saw.
func (s *stream) run(t *testing.T, steps int,
	write func(w *Writer, rank, step int) error,
	read func(r *Reader, idx, step int) error,
) []int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, len(s.writers)+len(s.readers))
	seen := make([]int, len(s.readers))

	for rank, w := range s.writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for step := 0; step < steps; step++ {
				st, err := w.BeginStep(ctx)
				if err != nil || st != StepOK {
					errs <- fmt.Errorf("writer %d begin step %d: %v %w", rank, step, st, err)
					return
				}
				if err := write(w, rank, step); err != nil {
					errs <- fmt.Errorf("writer %d step %d: %w", rank, step, err)
					return
				}
				if err := w.EndStep(ctx); err != nil {
					errs <- fmt.Errorf("writer %d end step %d: %w", rank, step, err)
					return
				}
			}
			if err := w.Close(ctx); err != nil {
				errs <- fmt.Errorf("writer %d close: %w", rank, err)
			}
		}()
	}
	for idx, r := range s.readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer r.Close()
			for {
				st, err := r.BeginStep(ctx, StepRead, 0)
				if st == StepEndOfStream {
					return
				}
				if err != nil || st != StepOK {
					errs <- fmt.Errorf("reader %d begin step %d: %v %w", idx, r.CurrentStep(), st, err)
					return
				}
				if err := read(r, idx, int(r.CurrentStep())); err != nil {
					errs <- fmt.Errorf("reader %d step %d: %w", idx, r.CurrentStep(), err)
					return
				}
				seen[idx]++
				if err := r.EndStep(); err != nil {
					errs <- fmt.Errorf("reader %d end step: %w", idx, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	return seen
}

func float32s(vals ...float32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.NativeEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

func decodeFloat32s(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.NativeEndian.Uint32(b[4*i:]))
	}
	return out
}

func defineX(t *testing.T, w *Writer, rank int) {
	t.Helper()
	require.NoError(t, w.Define(Definition{
		Name: "x", Type: pattern.Float32, Kind: pattern.GlobalArray,
		Shape: box.Dims{10}, Start: box.Dims{uint64(5 * rank)}, Count: box.Dims{5},
	}))
}

func putX(w *Writer, rank, step int) error {
	vals := make([]float32, 5)
	for i := range vals {
		vals[i] = float32(100*step + 5*rank + i)
	}
	return w.Put("x", float32s(vals...))
}

// runX streams x[10] from two writers to one reader selecting x[3:7] and
// returns what the reader read each step and the reader's state after
// each BeginStep.
func runX(t *testing.T, steps int, lock bool, opts Options) ([][]float32, []State) {
	t.Helper()
	s := newStream(t, 2, 1, opts)
	for rank, w := range s.writers {
		defineX(t, w, rank)
		if lock {
			w.LockDefinitions()
		}
	}
	sel, err := s.readers[0].Select("x", box.Dims{3}, box.Dims{4}, box.RowMajor)
	require.NoError(t, err)
	if lock {
		require.NoError(t, s.readers[0].LockSelections())
	}

	var (
		got    [][]float32
		states []State
	)
	seen := s.run(t, steps, func(w *Writer, rank, step int) error {
		return putX(w, rank, step)
	}, func(r *Reader, _, _ int) error {
		dst, err := r.Get(sel, nil, GetSync)
		if err != nil {
			return err
		}
		got = append(got, decodeFloat32s(dst))
		states = append(states, r.State())
		return nil
	})
	assert.Equal(t, []int{steps}, seen)
	return got, states
}

func expectedX(steps int) [][]float32 {
	var want [][]float32
	for step := 0; step < steps; step++ {
		base := float32(100 * step)
		want = append(want, []float32{base + 3, base + 4, base + 5, base + 6})
	}
	return want
}

func TestFlexibleStream(t *testing.T) {
	for _, background := range []bool{false, true} {
		t.Run(fmt.Sprintf("background=%v", background), func(t *testing.T) {
			got, states := runX(t, 4, false, Options{Background: background})
			assert.Equal(t, expectedX(4), got)
			for _, st := range states {
				assert.Equal(t, StateSteadyFlexible, st)
			}
		})
	}
}

func TestFixedStream(t *testing.T) {
	for _, background := range []bool{false, true} {
		t.Run(fmt.Sprintf("background=%v", background), func(t *testing.T) {
			got, states := runX(t, 4, true, Options{Background: background})
			assert.Equal(t, expectedX(4), got)
			for _, st := range states {
				assert.Equal(t, StateSteadyFixed, st)
			}
		})
	}
}

func TestFixedAndFlexibleAgree(t *testing.T) {
	fixed, _ := runX(t, 3, true, Options{})
	flexible, _ := runX(t, 3, false, Options{})
	assert.Equal(t, flexible, fixed)
}

func TestEndOfStreamBeforeFirstStep(t *testing.T) {
	for _, lock := range []bool{false, true} {
		t.Run(fmt.Sprintf("locked=%v", lock), func(t *testing.T) {
			s := newStream(t, 2, 2, Options{})
			for rank, w := range s.writers {
				defineX(t, w, rank)
				if lock {
					w.LockDefinitions()
				}
			}
			seen := s.run(t, 0, nil, func(*Reader, int, int) error { return nil })
			assert.Equal(t, []int{0, 0}, seen)
			for _, r := range s.readers {
				assert.Equal(t, StateEndOfStream, r.State())
			}
		})
	}
}

func TestEndOfStreamEveryReader(t *testing.T) {
	for _, lock := range []bool{false, true} {
		t.Run(fmt.Sprintf("locked=%v", lock), func(t *testing.T) {
			s := newStream(t, 2, 3, Options{Background: true})
			for rank, w := range s.writers {
				defineX(t, w, rank)
				if lock {
					w.LockDefinitions()
				}
			}
			// Reader 2 selects nothing and only watches the stream status.
			for _, r := range s.readers[:2] {
				_, err := r.Select("x", box.Dims{0}, box.Dims{10}, box.RowMajor)
				require.NoError(t, err)
			}
			if lock {
				for _, r := range s.readers {
					require.NoError(t, r.LockSelections())
				}
			}
			seen := s.run(t, 3, func(w *Writer, rank, step int) error {
				return putX(w, rank, step)
			}, func(*Reader, int, int) error { return nil })
			assert.Equal(t, []int{3, 3, 3}, seen)

			st, err := s.readers[0].BeginStep(context.Background(), StepRead, 0)
			assert.NoError(t, err)
			assert.Equal(t, StepEndOfStream, st)
			st, err = s.writers[0].BeginStep(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, StepEndOfStream, st)
		})
	}
}

func TestScalarValues(t *testing.T) {
	s := newStream(t, 2, 1, Options{})
	for _, w := range s.writers {
		require.NoError(t, w.Define(Definition{Name: "time", Type: pattern.Float64, Kind: pattern.GlobalValue}))
		require.NoError(t, w.Define(Definition{Name: "id", Type: pattern.Int32, Kind: pattern.LocalValue}))
	}
	dir := s.readers[0].Directory().(*variables.MemoryDirectory)

	s.run(t, 3, func(w *Writer, rank, step int) error {
		if err := w.PutValue("time", pattern.ValueOf(float64(step)/2)); err != nil {
			return err
		}
		return w.PutValue("id", pattern.ValueOf(int32(10*step+rank)))
	}, func(r *Reader, _, step int) error {
		v, ok := dir.Value("time", 0)
		if !ok {
			return fmt.Errorf("no time value")
		}
		f, _ := v.Float64()
		assert.Equal(t, float64(step)/2, f)
		for w := 0; w < 2; w++ {
			v, ok := dir.Value("id", w)
			if !ok {
				return fmt.Errorf("no id value for writer %d", w)
			}
			f, _ := v.Float64()
			assert.Equal(t, float64(10*step+w), f)
		}
		assert.Empty(t, r.m.Entries, "values never travel through the receive buffer")
		return nil
	})
}

func TestLockedValuesAreFrozen(t *testing.T) {
	s := newStream(t, 1, 1, Options{})
	w := s.writers[0]
	require.NoError(t, w.Define(Definition{Name: "dt", Type: pattern.Float64, Kind: pattern.GlobalValue}))
	w.LockDefinitions()
	require.NoError(t, s.readers[0].LockSelections())

	var changeErr error
	s.run(t, 2, func(w *Writer, _, step int) error {
		if step == 0 {
			return w.PutValue("dt", pattern.ValueOf(0.5))
		}
		changeErr = w.PutValue("dt", pattern.ValueOf(0.25))
		return w.PutValue("dt", pattern.ValueOf(0.5))
	}, func(*Reader, int, int) error { return nil })
	assert.ErrorIs(t, changeErr, ErrDefinitionsLocked)
	v, ok := s.readers[0].Directory().(*variables.MemoryDirectory).Value("dt", 0)
	require.True(t, ok)
	f, _ := v.Float64()
	assert.Equal(t, 0.5, f)
}

func TestColumnMajorSelection(t *testing.T) {
	s := newStream(t, 2, 1, Options{Background: true})
	for rank, w := range s.writers {
		require.NoError(t, w.Define(Definition{
			Name: "grid", Type: pattern.Int32, Kind: pattern.GlobalArray,
			Shape: box.Dims{4, 6}, Start: box.Dims{uint64(2 * rank), 0}, Count: box.Dims{2, 6},
		}))
	}
	// Columns 1..3 of rows 1..2, named column-major.
	sel, err := s.readers[0].Select("grid", box.Dims{1, 1}, box.Dims{3, 2}, box.ColumnMajor)
	require.NoError(t, err)

	s.run(t, 2, func(w *Writer, rank, step int) error {
		data := make([]byte, 2*6*4)
		for row := 0; row < 2; row++ {
			for col := 0; col < 6; col++ {
				v := int32(1000*step + 10*(2*rank+row) + col)
				binary.NativeEndian.PutUint32(data[4*(row*6+col):], uint32(v))
			}
		}
		return w.Put("grid", data)
	}, func(r *Reader, _, step int) error {
		dst, err := r.Get(sel, nil, GetSync)
		if err != nil {
			return err
		}
		got := make([]int32, 6)
		for i := range got {
			got[i] = int32(binary.NativeEndian.Uint32(dst[4*i:]))
		}
		base := int32(1000 * step)
		assert.Equal(t, []int32{base + 11, base + 12, base + 13, base + 21, base + 22, base + 23}, got)
		return nil
	})
}

func TestLocalArrayBlocks(t *testing.T) {
	s := newStream(t, 2, 1, Options{})
	for _, w := range s.writers {
		require.NoError(t, w.Define(Definition{
			Name: "p", Type: pattern.Uint8, Kind: pattern.LocalArray,
			Start: box.Dims{0}, Count: box.Dims{4},
		}))
	}
	sel, err := s.readers[0].SelectBlock("p", 1, box.Dims{1}, box.Dims{2}, box.RowMajor)
	require.NoError(t, err)
	_, err = s.readers[0].SelectBlock("p", 5, box.Dims{0}, box.Dims{1}, box.RowMajor)
	assert.ErrorIs(t, err, exchange.ErrBadLayout)

	s.run(t, 1, func(w *Writer, rank, _ int) error {
		return w.Put("p", []byte{byte(10 * rank), byte(10*rank + 1), byte(10*rank + 2), byte(10*rank + 3)})
	}, func(r *Reader, _, _ int) error {
		b, err := r.GetBlock(1, "p")
		if err != nil {
			return err
		}
		assert.Equal(t, pattern.LocalArray, b.Kind)
		assert.Len(t, r.Blocks("p"), 2)
		dst, err := r.Get(sel, make([]byte, 2), GetSync)
		if err != nil {
			return err
		}
		assert.Equal(t, []byte{11, 12}, dst)
		return nil
	})
}

func TestDeferredGets(t *testing.T) {
	s := newStream(t, 2, 1, Options{})
	for rank, w := range s.writers {
		defineX(t, w, rank)
	}
	r := s.readers[0]
	low, err := r.Select("x", box.Dims{0}, box.Dims{2}, box.RowMajor)
	require.NoError(t, err)
	high, err := r.Select("x", box.Dims{8}, box.Dims{2}, box.RowMajor)
	require.NoError(t, err)

	s.run(t, 2, func(w *Writer, rank, step int) error {
		return putX(w, rank, step)
	}, func(r *Reader, _, step int) error {
		lowDst, err := r.Get(low, nil, GetDeferred)
		if err != nil {
			return err
		}
		highDst, err := r.Get(high, nil, GetDeferred)
		if err != nil {
			return err
		}
		assert.False(t, r.Satisfied(low))
		assert.Equal(t, []float32{0, 0}, decodeFloat32s(lowDst))
		if err := r.PerformGets(); err != nil {
			return err
		}
		assert.True(t, r.Satisfied(low))
		assert.True(t, r.Satisfied(high))
		base := float32(100 * step)
		assert.Equal(t, []float32{base, base + 1}, decodeFloat32s(lowDst))
		assert.Equal(t, []float32{base + 8, base + 9}, decodeFloat32s(highDst))
		return nil
	})
}

func TestNotReadyThenRetry(t *testing.T) {
	s := newStream(t, 1, 1, Options{})
	w, r := s.writers[0], s.readers[0]
	require.NoError(t, w.Define(Definition{
		Name: "x", Type: pattern.Float32, Kind: pattern.GlobalArray,
		Shape: box.Dims{2}, Start: box.Dims{0}, Count: box.Dims{2},
	}))
	sel, err := r.Select("x", box.Dims{0}, box.Dims{2}, box.RowMajor)
	require.NoError(t, err)

	st, err := r.BeginStep(context.Background(), StepRead, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StepNotReady, st)
	st, err = r.BeginStep(context.Background(), StepPoll, 0)
	require.NoError(t, err)
	assert.Equal(t, StepNotReady, st)
	_, err = r.Select("y", box.Dims{0}, box.Dims{1}, box.RowMajor)
	assert.ErrorIs(t, err, ErrStepInProgress)
	assert.ErrorIs(t, r.LockSelections(), ErrStepInProgress)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		if _, err := w.BeginStep(ctx); err != nil {
			done <- err
			return
		}
		if err := w.Put("x", float32s(1.5, 2.5)); err != nil {
			done <- err
			return
		}
		done <- w.EndStep(ctx)
	}()

	st, err = r.BeginStep(ctx, StepRead, 0)
	require.NoError(t, err)
	require.Equal(t, StepOK, st)
	dst, err := r.Get(sel, nil, GetSync)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, 2.5}, decodeFloat32s(dst))
	assert.ErrorIs(t, r.LockSelections(), ErrStepInProgress)
	require.NoError(t, <-done)
	assert.Equal(t, uint64(0), r.CurrentStep())

	// Without background work EndStep joins the next write exchange, which
	// the writer's Close completes.
	go func() { done <- w.Close(ctx) }()
	require.NoError(t, r.EndStep())
	assert.Equal(t, uint64(1), r.CurrentStep())
	st, err = r.BeginStep(ctx, StepRead, 0)
	require.NoError(t, err)
	assert.Equal(t, StepEndOfStream, st)
	require.NoError(t, <-done)
	assert.NoError(t, r.Close())
}

func TestCloseReleasesUnfetchedRegion(t *testing.T) {
	layout := exchange.Layout{Writers: 1, Readers: 1}
	groups := cluster.NewLocal(2)
	hub := fetch.NewMemoryHub(nil)
	defer hub.Close()
	w, err := NewWriter(groups[0], layout, hub.Writer(0), Options{Background: true})
	require.NoError(t, err)
	require.NoError(t, w.Define(Definition{
		Name: "x", Type: pattern.Float32, Kind: pattern.GlobalArray,
		Shape: box.Dims{2}, Start: box.Dims{0}, Count: box.Dims{2},
	}))

	// The reader side takes part in the exchange but never fetches.
	x, err := exchange.New(groups[1], layout, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exchanged := make(chan error, 1)
	go func() {
		if _, err := x.PublishWritePattern(ctx, nil); err != nil {
			exchanged <- err
			return
		}
		_, err := x.PublishReadPattern(ctx, &exchange.ReaderContribution{
			Selections: []pattern.SelectionRequest{{
				Name: "x", Start: box.Dims{0}, Count: box.Dims{2}, Writer: pattern.AnyWriter,
			}},
		})
		exchanged <- err
	}()

	st, err := w.BeginStep(ctx)
	require.NoError(t, err)
	require.Equal(t, StepOK, st)
	require.NoError(t, w.Put("x", float32s(1, 2)))
	require.NoError(t, w.EndStep(ctx))
	require.NoError(t, <-exchanged)

	table := hub.Writer(0).(*fetch.Table)
	assert.Equal(t, 1, table.Exposed())

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer closeCancel()
	assert.ErrorIs(t, w.Close(closeCtx), context.DeadlineExceeded)
	assert.Zero(t, table.Exposed())
	assert.Equal(t, StateFailed, w.State())
}

func TestCollectiveFailureAborts(t *testing.T) {
	layout := exchange.Layout{Writers: 1, Readers: 1}
	groups := cluster.NewLocal(2)
	r, err := NewReader(groups[1], layout, fetch.NewMemoryHub(nil), Options{})
	require.NoError(t, err)
	cluster.FailLocal(groups[0], assert.AnError)

	st, err := r.BeginStep(context.Background(), StepRead, time.Second)
	assert.Equal(t, StepOtherError, st)
	assert.ErrorIs(t, err, ErrStreamAborted)
	assert.ErrorIs(t, err, cluster.ErrCollectiveFailure)
	assert.Equal(t, StateFailed, r.State())

	st, err = r.BeginStep(context.Background(), StepRead, time.Second)
	assert.Equal(t, StepOtherError, st)
	assert.ErrorIs(t, err, ErrStreamAborted)
}

func TestWriterMisuse(t *testing.T) {
	layout := exchange.Layout{Writers: 1, Readers: 1}
	groups := cluster.NewLocal(2)
	hub := fetch.NewMemoryHub(nil)
	w, err := NewWriter(groups[0], layout, hub.Writer(0), Options{})
	require.NoError(t, err)

	assert.ErrorIs(t, w.Put("x", nil), ErrNoStep)
	assert.ErrorIs(t, w.PutValue("x", pattern.ValueOf(1.0)), ErrNoStep)
	assert.ErrorIs(t, w.EndStep(context.Background()), ErrNoStep)

	err = w.Define(Definition{Name: "x", Type: pattern.Float32, Kind: pattern.GlobalArray,
		Shape: box.Dims{4}, Start: box.Dims{2}, Count: box.Dims{4}})
	assert.ErrorIs(t, err, pattern.ErrInvalidBlock)
	err = w.Define(Definition{Name: "s", Type: pattern.String, Kind: pattern.GlobalArray,
		Shape: box.Dims{4}, Start: box.Dims{0}, Count: box.Dims{4}})
	assert.ErrorIs(t, err, pattern.ErrUnknownDataType)

	require.NoError(t, w.Define(Definition{Name: "x", Type: pattern.Float32, Kind: pattern.GlobalArray,
		Shape: box.Dims{4}, Start: box.Dims{0}, Count: box.Dims{4}}))
	require.NoError(t, w.Define(Definition{Name: "t", Type: pattern.Int64, Kind: pattern.GlobalValue}))

	st, err := w.BeginStep(context.Background())
	require.NoError(t, err)
	require.Equal(t, StepOK, st)
	assert.Equal(t, StateNegotiating, w.State())
	_, err = w.BeginStep(context.Background())
	assert.ErrorIs(t, err, ErrStepInProgress)
	assert.ErrorIs(t, w.Put("x", make([]byte, 3)), box.ErrShortBuffer)
	assert.ErrorIs(t, w.Put("nope", nil), ErrUnknownVariable)
	assert.Error(t, w.Put("t", make([]byte, 8)))
	assert.Error(t, w.PutValue("x", pattern.ValueOf(float32(1))))
	assert.ErrorIs(t, w.PutValue("t", pattern.ValueOf(int32(1))), pattern.ErrInvalidBlock)
	assert.NoError(t, w.PutValue("t", pattern.ValueOf(int64(1))))

	w.LockDefinitions()
	assert.ErrorIs(t, w.Define(Definition{Name: "y", Type: pattern.Int8, Kind: pattern.GlobalValue}), ErrDefinitionsLocked)

	_, err = NewWriter(groups[1], layout, hub.Writer(1), Options{})
	assert.ErrorIs(t, err, exchange.ErrBadLayout)
}

func TestReaderMisuse(t *testing.T) {
	layout := exchange.Layout{Writers: 1, Readers: 1}
	groups := cluster.NewLocal(2)
	r, err := NewReader(groups[1], layout, fetch.NewMemoryHub(nil), Options{})
	require.NoError(t, err)

	_, err = r.Get(0, nil, GetSync)
	assert.ErrorIs(t, err, ErrNoStep)
	_, err = r.GetBlock(0, "x")
	assert.ErrorIs(t, err, ErrNoStep)
	assert.ErrorIs(t, r.PerformGets(), ErrNoStep)
	assert.ErrorIs(t, r.EndStep(), ErrNoStep)

	_, err = r.Select("x", box.Dims{0, 0}, box.Dims{1}, box.RowMajor)
	assert.ErrorIs(t, err, box.ErrRankMismatch)
	sel, err := r.Select("x", box.Dims{0}, box.Dims{1}, box.RowMajor)
	require.NoError(t, err)
	assert.Equal(t, 0, sel)
	require.NoError(t, r.LockSelections())
	_, err = r.Select("y", box.Dims{0}, box.Dims{1}, box.RowMajor)
	assert.ErrorIs(t, err, ErrSelectionsLocked)

	_, err = NewReader(groups[0], layout, fetch.NewMemoryHub(nil), Options{})
	assert.ErrorIs(t, err, exchange.ErrBadLayout)
	assert.NoError(t, r.Close())
}

func TestStrings(t *testing.T) {
	statuses := map[StepStatus]string{
		StepOK:          "ok",
		StepNotReady:    "not-ready",
		StepEndOfStream: "end-of-stream",
		StepOtherError:  "other-error",
	}
	for st, want := range statuses {
		assert.Equal(t, want, st.String())
	}
	states := []string{"idle", "negotiating", "steady-fixed", "steady-flexible", "end-of-stream", "failed"}
	for i, want := range states {
		assert.Equal(t, want, State(i).String())
	}
	assert.Equal(t, StateFailed, State(len(states)-1))
	assert.Equal(t, "StepStatus(9)", StepStatus(9).String())
	assert.Equal(t, "State(9)", State(9).String())
}
