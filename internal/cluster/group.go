package cluster

import (
	"context"
	"errors"
)

// ErrCollectiveFailure is returned when a collective cannot complete: a
// member failed, ranks disagreed on the operation, or the group was shut
// down. It is fatal for the stream.
var ErrCollectiveFailure = errors.New("collective failure")

// Op names a collective operation.
type Op string

const (
	OpBroadcast Op = "broadcast"
	OpAggregate Op = "aggregate"
)

// Group is the communication substrate shared by all writers and readers of
// a stream. Every rank must call the same collectives in the same order.
type Group interface {
	// Rank returns this member's position in [0, Size).
	Rank() int
	// Size returns the number of members.
	Size() int
	// Broadcast returns root's buf on every rank. Non-root ranks pass nil.
	Broadcast(ctx context.Context, buf []byte, root int) ([]byte, error)
	// Aggregate gathers every rank's local buffer at root. All ranks get the
	// per-rank sizes; root also gets the buffers concatenated in ascending
	// rank order.
	Aggregate(ctx context.Context, local []byte, root int) ([]byte, []int, error)
}
