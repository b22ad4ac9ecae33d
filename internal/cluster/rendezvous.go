package cluster

import (
	"context"
	"fmt"
	"sync"
)

// Result is what one rank receives from a completed round.
type Result struct {
	Payload []byte
	Sizes   []int
}

// Rendezvous matches the contributions of a fixed number of ranks into
// collective rounds. Rounds are keyed by a sequence number that every rank
// advances in lockstep. It backs both the in-process group and the hub.
//
// A rank that gives up waiting (context cancelled) may join the same round
// again; its contribution is replaced rather than counted twice.
type Rendezvous struct {
	size   int
	mu     sync.Mutex
	rounds map[uint64]*round
	failed error
}

type round struct {
	op        Op
	root      int
	payloads  [][]byte
	arrived   []bool
	count     int
	collected int
	done      chan struct{}
	closed    bool
	result    []byte
	sizes     []int
	err       error
}

// NewRendezvous creates a rendezvous for size ranks.
func NewRendezvous(size int) *Rendezvous {
	return &Rendezvous{
		size:   size,
		rounds: make(map[uint64]*round),
	}
}

// Size returns the number of ranks.
func (r *Rendezvous) Size() int {
	return r.size
}

// Join contributes payload to round seq on behalf of rank and blocks until
// every rank has contributed, the context ends, or the rendezvous fails.
func (r *Rendezvous) Join(ctx context.Context, seq uint64, rank int, op Op, root int, payload []byte) (Result, error) {
	if rank < 0 || rank >= r.size {
		return Result{}, fmt.Errorf("%w: rank %d outside group of %d", ErrCollectiveFailure, rank, r.size)
	}
	if root < 0 || root >= r.size {
		return Result{}, fmt.Errorf("%w: root %d outside group of %d", ErrCollectiveFailure, root, r.size)
	}
	if op != OpBroadcast && op != OpAggregate {
		return Result{}, fmt.Errorf("%w: unknown op %q", ErrCollectiveFailure, op)
	}

	r.mu.Lock()
	if r.failed != nil {
		r.mu.Unlock()
		return Result{}, r.failed
	}
	rd, ok := r.rounds[seq]
	if !ok {
		rd = &round{
			op:       op,
			root:     root,
			payloads: make([][]byte, r.size),
			arrived:  make([]bool, r.size),
			done:     make(chan struct{}),
		}
		r.rounds[seq] = rd
	}
	switch {
	case rd.closed:
		// Already complete; this is a retry after a cancelled wait.
	case rd.op != op || rd.root != root:
		rd.err = fmt.Errorf("%w: round %d: rank %d called %s(root=%d), others %s(root=%d)",
			ErrCollectiveFailure, seq, rank, op, root, rd.op, rd.root)
		rd.close()
	default:
		rd.payloads[rank] = append([]byte(nil), payload...)
		if !rd.arrived[rank] {
			rd.arrived[rank] = true
			rd.count++
		}
		if rd.count == r.size {
			rd.complete()
		}
	}
	r.mu.Unlock()

	select {
	case <-rd.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rd.err != nil {
		return Result{}, rd.err
	}
	res := Result{Sizes: rd.sizes}
	if rd.op == OpBroadcast || rank == rd.root {
		res.Payload = rd.result
	}
	rd.collected++
	if rd.collected >= r.size {
		delete(r.rounds, seq)
	}
	return res, nil
}

// Fail aborts every pending round and makes every later Join return an
// error wrapping ErrCollectiveFailure.
func (r *Rendezvous) Fail(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed != nil {
		return
	}
	r.failed = fmt.Errorf("%w: %v", ErrCollectiveFailure, cause)
	for seq, rd := range r.rounds {
		if !rd.closed {
			rd.err = r.failed
			rd.close()
		}
		delete(r.rounds, seq)
	}
}

// Err returns the failure recorded by Fail, if any.
func (r *Rendezvous) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// Pending returns the number of rounds that have not been collected by
// every rank.
func (r *Rendezvous) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rounds)
}

func (rd *round) complete() {
	switch rd.op {
	case OpBroadcast:
		rd.result = rd.payloads[rd.root]
	case OpAggregate:
		rd.sizes = make([]int, len(rd.payloads))
		total := 0
		for i, p := range rd.payloads {
			rd.sizes[i] = len(p)
			total += len(p)
		}
		rd.result = make([]byte, 0, total)
		for _, p := range rd.payloads {
			rd.result = append(rd.result, p...)
		}
	}
	rd.payloads = nil
	rd.close()
}

func (rd *round) close() {
	if !rd.closed {
		rd.closed = true
		close(rd.done)
	}
}
