package cluster

import (
	"context"
	"sync"
)

// NewLocal returns n in-process group members sharing one rendezvous, for
// running writers and readers as goroutines of a single process.
func NewLocal(n int) []Group {
	rv := NewRendezvous(n)
	members := make([]Group, n)
	for i := range members {
		members[i] = &localMember{rv: rv, rank: i}
	}
	return members
}

// FailLocal fails every pending and future collective of a group built by
// NewLocal.
func FailLocal(g Group, cause error) {
	if m, ok := g.(*localMember); ok {
		m.rv.Fail(cause)
	}
}

type localMember struct {
	rv   *Rendezvous
	rank int

	mu  sync.Mutex
	seq uint64
}

func (m *localMember) Rank() int { return m.rank }
func (m *localMember) Size() int { return m.rv.Size() }

func (m *localMember) Broadcast(ctx context.Context, buf []byte, root int) ([]byte, error) {
	res, err := m.join(ctx, OpBroadcast, root, buf)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), res.Payload...), nil
}

func (m *localMember) Aggregate(ctx context.Context, local []byte, root int) ([]byte, []int, error) {
	res, err := m.join(ctx, OpAggregate, root, local)
	if err != nil {
		return nil, nil, err
	}
	var out []byte
	if res.Payload != nil {
		out = append([]byte(nil), res.Payload...)
	}
	return out, append([]int(nil), res.Sizes...), nil
}

// join advances the member's sequence only when the round completes, so a
// caller that timed out re-enters the same round.
func (m *localMember) join(ctx context.Context, op Op, root int, payload []byte) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, err := m.rv.Join(ctx, m.seq, m.rank, op, root, payload)
	if err != nil {
		return Result{}, err
	}
	m.seq++
	return res, nil
}
