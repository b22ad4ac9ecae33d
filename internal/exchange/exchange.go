package exchange

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dreamware/tessera/internal/cluster"
	"github.com/dreamware/tessera/internal/pattern"
)

// WriterContribution is one writer's share of a write pattern.
type WriterContribution struct {
	Entry       pattern.WriterEntry
	Locked      bool
	EndOfStream bool
}

// ReaderContribution is one reader's share of a read pattern.
type ReaderContribution struct {
	Selections []pattern.SelectionRequest
	Locked     bool
}

// Exchanger runs the two pattern collectives over a group.
type Exchanger struct {
	group  cluster.Group
	layout Layout
	logger *zap.Logger
}

// New creates an exchanger. The layout must match the group size.
func New(group cluster.Group, layout Layout, logger *zap.Logger) (*Exchanger, error) {
	if err := layout.Validate(group.Size()); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exchanger{
		group:  group,
		layout: layout,
		logger: logger.With(zap.Int("rank", group.Rank())),
	}, nil
}

// Layout returns the group layout.
func (x *Exchanger) Layout() Layout {
	return x.layout
}

// Rank returns the local group rank.
func (x *Exchanger) Rank() int {
	return x.group.Rank()
}

// PublishWritePattern is collective over the whole group. Writers pass
// their contribution, readers pass nil. Contributions are aggregated at the
// write-master, which merges them in writer order (or, when it is ending the
// stream, reduces them to the end-of-stream sentinel) and broadcasts the
// encoded pattern. Every rank returns the identical decoded pattern.
func (x *Exchanger) PublishWritePattern(ctx context.Context, local *WriterContribution) (pattern.WritePattern, error) {
	var buf []byte
	if local != nil {
		if !x.layout.IsWriter(x.group.Rank()) {
			return pattern.WritePattern{}, fmt.Errorf("%w: rank %d is not a writer", ErrBadLayout, x.group.Rank())
		}
		buf = pattern.EncodeWritePattern(pattern.WritePattern{
			Writers:     []pattern.WriterEntry{local.Entry},
			Locked:      local.Locked,
			EndOfStream: local.EndOfStream,
		})
	}

	root := x.layout.WriteMaster()
	all, sizes, err := x.group.Aggregate(ctx, buf, root)
	if err != nil {
		return pattern.WritePattern{}, fmt.Errorf("aggregate write pattern: %w", err)
	}

	var merged []byte
	if x.group.Rank() == root {
		wp, err := x.mergeWriters(all, sizes)
		if err != nil {
			// Release the other ranks; they fail decoding the empty broadcast.
			_, _ = x.group.Broadcast(ctx, nil, root)
			return pattern.WritePattern{}, err
		}
		merged = pattern.EncodeWritePattern(wp)
	}

	wire, err := x.group.Broadcast(ctx, merged, root)
	if err != nil {
		return pattern.WritePattern{}, fmt.Errorf("broadcast write pattern: %w", err)
	}
	wp, err := pattern.DecodeWritePattern(wire)
	if err != nil {
		return pattern.WritePattern{}, fmt.Errorf("write pattern from rank %d: %w", root, err)
	}
	x.logger.Debug("write pattern published",
		zap.Int("writers", len(wp.Writers)),
		zap.Bool("locked", wp.Locked),
		zap.Bool("end_of_stream", wp.EndOfStream),
		zap.Int("bytes", len(wire)))
	return wp, nil
}

func (x *Exchanger) mergeWriters(all []byte, sizes []int) (pattern.WritePattern, error) {
	parts, err := split(all, sizes)
	if err != nil {
		return pattern.WritePattern{}, err
	}
	wp := pattern.WritePattern{
		Writers: make([]pattern.WriterEntry, x.layout.Writers),
		Locked:  true,
	}
	for w := 0; w < x.layout.Writers; w++ {
		part, err := pattern.DecodeWritePattern(parts[w])
		if err != nil {
			return pattern.WritePattern{}, fmt.Errorf("contribution of writer %d: %w", w, err)
		}
		if len(part.Writers) != 1 {
			return pattern.WritePattern{}, fmt.Errorf("contribution of writer %d has %d entries: %w",
				w, len(part.Writers), pattern.ErrMalformedPattern)
		}
		if w == x.layout.WriteMaster() && part.EndOfStream {
			return pattern.WritePattern{EndOfStream: true}, nil
		}
		wp.Writers[w] = part.Writers[0]
		wp.Locked = wp.Locked && part.Locked
	}
	return wp, nil
}

// PublishReadPattern is collective over the whole group. Readers pass their
// contribution, writers pass nil. Per-rank sizes and payloads are gathered
// in ascending rank order at the read-master, which merges them by reader
// index and broadcasts the result to every rank.
func (x *Exchanger) PublishReadPattern(ctx context.Context, local *ReaderContribution) (pattern.ReadPattern, error) {
	var buf []byte
	if local != nil {
		if x.layout.ReaderIndex(x.group.Rank()) < 0 {
			return pattern.ReadPattern{}, fmt.Errorf("%w: rank %d is not a reader", ErrBadLayout, x.group.Rank())
		}
		buf = pattern.EncodeReadPattern(pattern.ReadPattern{
			Readers: [][]pattern.SelectionRequest{local.Selections},
			Locked:  local.Locked,
		})
	}

	root := x.layout.ReadMaster()
	all, sizes, err := x.group.Aggregate(ctx, buf, root)
	if err != nil {
		return pattern.ReadPattern{}, fmt.Errorf("aggregate read pattern: %w", err)
	}

	var merged []byte
	if x.group.Rank() == root {
		rp, err := x.mergeReaders(all, sizes)
		if err != nil {
			// Release the other ranks; they fail decoding the empty broadcast.
			_, _ = x.group.Broadcast(ctx, nil, root)
			return pattern.ReadPattern{}, err
		}
		merged = pattern.EncodeReadPattern(rp)
	}

	wire, err := x.group.Broadcast(ctx, merged, root)
	if err != nil {
		return pattern.ReadPattern{}, fmt.Errorf("broadcast read pattern: %w", err)
	}
	rp, err := pattern.DecodeReadPattern(wire)
	if err != nil {
		return pattern.ReadPattern{}, fmt.Errorf("read pattern from rank %d: %w", root, err)
	}
	x.logger.Debug("read pattern published",
		zap.Int("readers", len(rp.Readers)),
		zap.Bool("locked", rp.Locked),
		zap.Int("bytes", len(wire)))
	return rp, nil
}

func (x *Exchanger) mergeReaders(all []byte, sizes []int) (pattern.ReadPattern, error) {
	parts, err := split(all, sizes)
	if err != nil {
		return pattern.ReadPattern{}, err
	}
	rp := pattern.ReadPattern{
		Readers: make([][]pattern.SelectionRequest, x.layout.Readers),
		Locked:  true,
	}
	for i := 0; i < x.layout.Readers; i++ {
		rank := x.layout.ReaderRank(i)
		part, err := pattern.DecodeReadPattern(parts[rank])
		if err != nil {
			return pattern.ReadPattern{}, fmt.Errorf("contribution of reader %d: %w", i, err)
		}
		if len(part.Readers) != 1 {
			return pattern.ReadPattern{}, fmt.Errorf("contribution of reader %d has %d entries: %w",
				i, len(part.Readers), pattern.ErrMalformedPattern)
		}
		rp.Readers[i] = part.Readers[0]
		rp.Locked = rp.Locked && part.Locked
	}
	return rp, nil
}

// split cuts an aggregated buffer into per-rank payloads.
func split(all []byte, sizes []int) ([][]byte, error) {
	parts := make([][]byte, len(sizes))
	off := 0
	for i, n := range sizes {
		if n < 0 || off+n > len(all) {
			return nil, fmt.Errorf("rank %d payload of %d bytes overruns %d: %w", i, n, len(all), pattern.ErrMalformedPattern)
		}
		parts[i] = all[off : off+n]
		off += n
	}
	if off != len(all) {
		return nil, fmt.Errorf("%d trailing bytes after payloads: %w", len(all)-off, pattern.ErrMalformedPattern)
	}
	return parts, nil
}
