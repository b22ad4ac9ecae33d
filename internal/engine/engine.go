package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dreamware/tessera/internal/metrics"
	"github.com/dreamware/tessera/internal/variables"
)

var (
	// ErrEndOfStream is returned by calls made after the stream ended. It
	// is a status, not a failure.
	ErrEndOfStream = errors.New("end of stream")
	// ErrDefinitionsLocked is returned when a writer changes a definition
	// or a frozen value after LockDefinitions.
	ErrDefinitionsLocked = errors.New("definitions are locked")
	// ErrSelectionsLocked is returned when a reader changes its selections
	// after LockSelections.
	ErrSelectionsLocked = errors.New("selections are locked")
	// ErrNoStep is returned by calls that need an open step.
	ErrNoStep = errors.New("no step in progress")
	// ErrStepInProgress is returned by calls that need to run between steps.
	ErrStepInProgress = errors.New("step in progress")
	// ErrStreamAborted wraps the failure that ended a stream.
	ErrStreamAborted = errors.New("stream aborted")
	// ErrUnknownVariable is returned for names that were never defined or
	// selected.
	ErrUnknownVariable = errors.New("unknown variable")
)

// StepStatus is the outcome of BeginStep.
type StepStatus uint8

const (
	// StepOK means the step is open and its data can be read.
	StepOK StepStatus = iota
	// StepNotReady means the step did not become ready in time. The call
	// may be retried and resumes the same work.
	StepNotReady
	// StepEndOfStream is terminal.
	StepEndOfStream
	// StepOtherError means the stream is aborted.
	StepOtherError
)

// String implements fmt.Stringer.
func (s StepStatus) String() string {
	switch s {
	case StepOK:
		return "ok"
	case StepNotReady:
		return "not-ready"
	case StepEndOfStream:
		return "end-of-stream"
	case StepOtherError:
		return "other-error"
	default:
		return fmt.Sprintf("StepStatus(%d)", uint8(s))
	}
}

// StepMode says how BeginStep waits.
type StepMode uint8

const (
	// StepRead waits for the step up to the timeout, or until the context
	// ends when the timeout is not positive.
	StepRead StepMode = iota
	// StepPoll returns StepNotReady at once when the step is not ready.
	StepPoll
)

// GetMode says when a Get copies data into its destination.
type GetMode uint8

const (
	// GetSync copies during the Get call.
	GetSync GetMode = iota
	// GetDeferred copies at PerformGets or EndStep.
	GetDeferred
)

// State is the step state machine of a reader or writer.
type State uint8

const (
	StateIdle State = iota // Created, no step begun yet
	StateNegotiating       // First step, patterns being exchanged
	StateSteadyFixed       // Everyone locked; steps skip negotiation
	StateSteadyFlexible    // Patterns are exchanged every step
	StateEndOfStream       // The write-master closed the stream
	StateFailed            // Aborted by a fatal error
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateSteadyFixed:
		return "steady-fixed"
	case StateSteadyFlexible:
		return "steady-flexible"
	case StateEndOfStream:
		return "end-of-stream"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Options configure a reader or writer.
type Options struct {
	// Background runs EndStep work on a goroutine that the next BeginStep
	// joins.
	Background bool
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	// Directory receives variable definitions and values on readers. A
	// MemoryDirectory is created when nil.
	Directory variables.Directory
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func pathOf(fixed bool) string {
	if fixed {
		return metrics.PathFixed
	}
	return metrics.PathFlexible
}

var hostBigEndian = binary.NativeEndian.Uint16([]byte{0, 1}) == 1

// task is the handle EndStep creates and the next BeginStep joins. It runs
// inline unless started in the background; either way it is joined the
// same way.
type task struct {
	done chan struct{}
	err  error
}

func runTask(ctx context.Context, background bool, fn func(context.Context) error) *task {
	t := &task{done: make(chan struct{})}
	run := func() {
		defer close(t.done)
		t.err = fn(ctx)
	}
	if background {
		go run()
	} else {
		run()
	}
	return t
}

// wait joins the task. A nil task is complete.
func (t *task) wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
