// Package fetch is the remote byte-range read path between writers and
// readers.
//
// A writer exposes one region per step. Readers read byte ranges of that
// region by writer index and step; a read for a step the writer has not
// exposed yet waits for it. The writer learns when every expected reader has
// read its region (Exposure.Wait) and then releases it; releasing is
// idempotent so every exit path can release unconditionally.
//
//	writer                          reader
//	------                          ------
//	e, _ := table.Expose(step, region, consumers)
//	                                data, _ := fetcher.Fetch(ctx, Request{...})
//	e.Wait(ctx)
//	e.Release()
//
// Table is the writer-side bookkeeping. MemoryHub wires tables and readers
// inside one process. Server and Client carry the same protocol over gRPC
// with a small protowire codec; Client keeps one circuit breaker per writer
// so a dead writer fails fast instead of stalling every step. Fetch
// addresses may be host:port or multiaddrs.
package fetch
