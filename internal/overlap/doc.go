// Package overlap computes a reader's receive-buffer layout for one pair of
// write and read patterns.
//
// For every writer, in ascending order, the array blocks it published are
// intersected with the reader's selections of the same variable. Writers
// with a non-empty overlap get one entry each:
//
//	receive buffer
//	┌───┬─────────────────┬───┬──────────────┐
//	│ c │ writer 0 bytes  │ c │ writer 1 ... │
//	└───┴─────────────────┴───┴──────────────┘
//	 ^ control byte (ControlLen)
//
// Each entry starts with a copy of the writer's control byte, which carries
// the stream status, followed by the overlap bytes packed densely in the
// writer's major order. The entry records the remote byte ranges to fetch,
// so only intersection bytes cross the network.
//
// Resolve is a pure function of its inputs: two readers resolving the same
// patterns get the same maps, and writers use Consumers to learn which
// readers will fetch from them.
package overlap
