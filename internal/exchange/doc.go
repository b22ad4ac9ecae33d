// Package exchange implements the two pattern collectives of a stream.
//
// PublishWritePattern gathers every writer's blocks at the write-master
// (rank 0), which merges them in writer order and broadcasts the merged
// pattern to the whole group. When the write-master's contribution ends the
// stream it broadcasts the end-of-stream sentinel instead.
//
// PublishReadPattern gathers every reader's selections at the read-master
// (the first reader rank). The group aggregate delivers per-rank sizes and
// the payloads concatenated in ascending rank order; the read-master merges
// them by reader index and broadcasts the result.
//
// Both calls are collective: every rank of the group must make the same
// call, in the same order, for every exchange. Ranks outside the
// contributing side pass nil.
package exchange
