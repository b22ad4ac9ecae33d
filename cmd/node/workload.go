package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/tessera/internal/box"
	"github.com/dreamware/tessera/internal/cluster"
	"github.com/dreamware/tessera/internal/engine"
	"github.com/dreamware/tessera/internal/exchange"
	"github.com/dreamware/tessera/internal/fetch"
	"github.com/dreamware/tessera/internal/pattern"
	"github.com/dreamware/tessera/internal/variables"
)

// The demo array holds float64 elements; element i (row-major flat index
// over the whole shape) of step s is s*stepScale + i.
const stepScale = 1e6

// ownerSuffix names the local value each writer publishes with its rank.
const ownerSuffix = ".owner"

// partition splits total rows into parts near-equal bands and returns the
// band of part i. Earlier parts take the remainder.
func partition(total uint64, parts, i int) (start, count uint64) {
	p := uint64(parts)
	base, rem := total/p, total%p
	idx := uint64(i)
	start = idx*base + min(idx, rem)
	count = base
	if idx < rem {
		count++
	}
	return start, count
}

// band returns the box of rows [start, start+count) spanning every other
// axis of shape.
func band(shape box.Dims, start, count uint64) (box.Dims, box.Dims) {
	s := box.Zero(len(shape))
	c := shape.Clone()
	s[0], c[0] = start, count
	return s, c
}

// expected returns element flat of step.
func expected(step uint64, flat uint64) float64 {
	return float64(step)*stepScale + float64(flat)
}

// fillBand encodes the band of rows starting at row for step in host byte
// order.
func fillBand(step uint64, shape box.Dims, row uint64, count box.Dims) []byte {
	rowSize := shape[1:].Volume()
	n := count.Volume()
	out := make([]byte, 8*n)
	first := row * rowSize
	for i := uint64(0); i < n; i++ {
		binary.NativeEndian.PutUint64(out[8*i:], math.Float64bits(expected(step, first+i)))
	}
	return out
}

// checkBand counts elements of data that differ from fillBand's output.
func checkBand(step uint64, shape box.Dims, row uint64, data []byte) int {
	rowSize := shape[1:].Volume()
	first := row * rowSize
	bad := 0
	for i := 0; i+8 <= len(data); i += 8 {
		v := math.Float64frombits(binary.NativeEndian.Uint64(data[i:]))
		if v != expected(step, first+uint64(i/8)) {
			bad++
		}
	}
	return bad
}

// runWriter publishes the workload's band of this writer for the
// configured number of steps and closes the stream. Definitions are locked
// after the first step, so later steps take the fixed path.
func (n *Node) runWriter(ctx context.Context, group cluster.Group, layout exchange.Layout, exposer fetch.Exposer, opts engine.Options) error {
	wl := n.cfg.Workload
	shape := box.Dims(wl.Shape)
	rank := group.Rank()
	start, count := partition(shape[0], layout.Writers, rank)
	s, c := band(shape, start, count)

	w, err := engine.NewWriter(group, layout, exposer, opts)
	if err != nil {
		return err
	}
	if err := w.Define(engine.Definition{
		Name: wl.Variable, Type: pattern.Float64, Kind: pattern.GlobalArray,
		Order: box.RowMajor, Shape: shape, Start: s, Count: c,
	}); err != nil {
		return err
	}
	if err := w.Define(engine.Definition{Name: wl.Variable + ownerSuffix, Type: pattern.Int64, Kind: pattern.LocalValue}); err != nil {
		return err
	}
	n.logger.Info("writer defined band", zap.Uint64("start", start), zap.Uint64("rows", count))

	for step := 0; step < wl.Steps; step++ {
		if step > 0 && wl.Interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wl.Interval.Std()):
			}
		}
		st, err := w.BeginStep(ctx)
		if err != nil {
			return fmt.Errorf("begin step %d: %w", step, err)
		}
		if st != engine.StepOK {
			return fmt.Errorf("begin step %d: %s", step, st)
		}
		if err := w.Put(wl.Variable, fillBand(w.CurrentStep(), shape, start, c)); err != nil {
			return err
		}
		if step == 0 {
			if err := w.PutValue(wl.Variable+ownerSuffix, pattern.ValueOf(int64(rank))); err != nil {
				return err
			}
		}
		if err := w.EndStep(ctx); err != nil {
			return fmt.Errorf("end step %d: %w", step, err)
		}
		if step == 0 {
			w.LockDefinitions()
		}
		n.progress(w.State(), true, 0)
		n.logger.Debug("step written", zap.Int("step", step))
	}
	err = w.Close(ctx)
	n.progress(w.State(), false, 0)
	return err
}

// runReader reads this reader's band every step until end of stream and
// checks every element.
func (n *Node) runReader(ctx context.Context, group cluster.Group, layout exchange.Layout, fetcher fetch.Fetcher, opts engine.Options) (err error) {
	wl := n.cfg.Workload
	shape := box.Dims(wl.Shape)
	idx := layout.ReaderIndex(group.Rank())
	start, count := partition(shape[0], layout.Readers, idx)
	s, c := band(shape, start, count)

	dir := variables.NewMemoryDirectory()
	opts.Directory = dir
	r, err := engine.NewReader(group, layout, fetcher, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && !errors.Is(cerr, context.Canceled) {
			err = errors.Join(err, cerr)
		}
	}()
	sel, err := r.Select(wl.Variable, s, c, box.RowMajor)
	if err != nil {
		return err
	}
	if err := r.LockSelections(); err != nil {
		return err
	}
	n.logger.Info("reader selected band", zap.Uint64("start", start), zap.Uint64("rows", count))

	var buf []byte
	total := 0
	for {
		st, err := r.BeginStep(ctx, engine.StepRead, n.cfg.StepTimeout.Std())
		switch {
		case st == engine.StepEndOfStream:
			n.progress(r.State(), false, 0)
			n.logger.Info("end of stream", zap.Int("steps", n.Info().Steps), zap.Int("mismatches", total))
			if total > 0 {
				return fmt.Errorf("%d elements differed from the expected values", total)
			}
			return nil
		case st == engine.StepNotReady && ctx.Err() == nil:
			n.logger.Warn("step not ready, retrying", zap.Uint64("step", r.CurrentStep()))
			continue
		case err != nil:
			return fmt.Errorf("begin step %d: %w", r.CurrentStep(), err)
		case st != engine.StepOK:
			return fmt.Errorf("begin step %d: %s", r.CurrentStep(), st)
		}

		step := r.CurrentStep()
		if buf, err = r.Get(sel, buf, engine.GetSync); err != nil {
			return fmt.Errorf("get step %d: %w", step, err)
		}
		bad := checkBand(step, shape, start, buf)
		total += bad
		if step == 0 {
			for w := 0; w < layout.Writers; w++ {
				if v, ok := dir.Value(wl.Variable+ownerSuffix, w); ok {
					owner, _ := v.Float64()
					n.logger.Debug("writer owner value", zap.Int("writer", w), zap.Float64("owner", owner))
				}
			}
		}
		if err := r.EndStep(); err != nil {
			return fmt.Errorf("end step %d: %w", step, err)
		}
		n.progress(r.State(), true, bad)
		n.logger.Debug("step read", zap.Uint64("step", step), zap.Int("mismatches", bad))
	}
}
