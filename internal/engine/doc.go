// Package engine implements the step controllers of a stream: Writer and
// Reader.
//
// # Steps
//
// Writers and readers advance through numbered steps. A writer opens a step
// with BeginStep, stages data with Put and PutValue, and publishes it with
// EndStep. A reader opens a step with BeginStep, copies its selections out
// with Get or PerformGets, and closes it with EndStep.
//
// # Synchronization paths
//
// Until every writer has locked its definitions and every reader its
// selections, each step is negotiated (the flexible path):
//
//	writer EndStep(n)                 reader BeginStep(n)
//	  PublishWritePattern  ◄────────►   (write exchange, joined)
//	  PublishReadPattern   ◄────────►   PublishReadPattern
//	  Expose(n)                         Resolve, Fetch(n)
//
// The reader's write exchange for step n runs inside the task its EndStep
// for step n-1 created, so with Options.Background it overlaps the caller's
// work. The read exchange is skipped once all readers are locked, and the
// overlap map is reused while both patterns are unchanged.
//
// Once a step was negotiated with both sides locked, later steps skip
// negotiation (the fixed path): writers only expose, and each reader's
// EndStep pre-fetches the next step with the unchanged map into a fresh
// receive buffer.
//
// # End of stream
//
// On the flexible path the write-master's Close publishes the end-of-stream
// pattern. On the fixed path every writer exposes one more region whose
// control byte reads end of stream. Readers report StepEndOfStream in the
// same step either way, without touching their receive buffer.
//
// # Tasks
//
// Every EndStep creates a task and every BeginStep joins it first. Reader
// BeginStep runs the rest of its work on a step task too, so a timeout
// returns StepNotReady and a later call resumes the same work instead of
// starting another collective.
package engine
