package pattern

import (
	"errors"
	"fmt"

	"github.com/dreamware/tessera/internal/box"
)

var (
	// ErrMalformedPattern is returned when an encoded pattern is truncated,
	// corrupted, or carries field values outside their domain.
	ErrMalformedPattern = errors.New("malformed pattern")
	// ErrUnknownDataType marks a descriptor whose element type this build
	// does not understand.
	ErrUnknownDataType = errors.New("unknown data type")
	// ErrInvalidBlock is returned by BlockDescriptor.Validate.
	ErrInvalidBlock = errors.New("invalid block descriptor")
)

// AnyWriter is the SelectionRequest.Writer value of a selection that
// addresses the global index space rather than one writer's local block.
const AnyWriter = -1

// BlockDescriptor is one region of one variable published by one writer for
// the current step.
//
// Shape, Start and Count are expressed in the writer's major order. Array
// kinds locate their elements in the writer's payload through Offset and
// Length; value kinds carry the element inline in Value and leave both zero.
type BlockDescriptor struct {
	Name   string
	Type   ElementType
	Kind   ShapeKind
	Order  box.MajorOrder
	Shape  box.Dims
	Start  box.Dims
	Count  box.Dims
	Offset uint64
	Length uint64
	Value  Value
}

// Box returns the block's extent in the writer's axis convention.
func (b BlockDescriptor) Box() box.Box {
	return box.New(b.Start, b.Count)
}

// Validate checks the descriptor's internal consistency: equal rank across
// shape, start and count, start+count within the global shape for global
// arrays, a payload length matching the element count, and a value of the
// declared type for value kinds.
func (b BlockDescriptor) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidBlock)
	}
	switch b.Kind {
	case GlobalArray, LocalArray:
		if len(b.Start) != len(b.Count) {
			return fmt.Errorf("%w: %s start has %d axes, count has %d", ErrInvalidBlock, b.Name, len(b.Start), len(b.Count))
		}
		if b.Kind == GlobalArray {
			if len(b.Shape) != len(b.Start) {
				return fmt.Errorf("%w: %s shape has %d axes, block has %d", ErrInvalidBlock, b.Name, len(b.Shape), len(b.Start))
			}
			for i := range b.Shape {
				if b.Start[i]+b.Count[i] > b.Shape[i] {
					return fmt.Errorf("%w: %s axis %d: %d+%d exceeds %d", ErrInvalidBlock, b.Name, i, b.Start[i], b.Count[i], b.Shape[i])
				}
			}
		}
		if size := b.Type.Size(); size > 0 && b.Length != b.Count.Volume()*uint64(size) {
			return fmt.Errorf("%w: %s length %d, want %d", ErrInvalidBlock, b.Name, b.Length, b.Count.Volume()*uint64(size))
		}
	case GlobalValue, LocalValue:
		if b.Value.Type != b.Type {
			return fmt.Errorf("%w: %s value is %s, declared %s", ErrInvalidBlock, b.Name, b.Value.Type, b.Type)
		}
	default:
		return fmt.Errorf("%w: %s has kind %s", ErrInvalidBlock, b.Name, b.Kind)
	}
	return nil
}

// SelectionRequest is one reader's request for one variable.
//
// Start and Count are in the reader's major order. Writer is AnyWriter for
// global selections and a writer index when the request addresses that
// writer's local-array block. Destination and Satisfied live only on the
// reader that issued the request and never travel on the wire.
type SelectionRequest struct {
	Name   string
	Start  box.Dims
	Count  box.Dims
	Order  box.MajorOrder
	Writer int

	Destination []byte
	Satisfied   bool
}

// Box returns the requested extent in the reader's axis convention.
func (s SelectionRequest) Box() box.Box {
	return box.New(s.Start, s.Count)
}

// WriterEntry holds the blocks one writer published for a step.
type WriterEntry struct {
	BigEndian bool
	Blocks    []BlockDescriptor
}

// WritePattern maps writer index to that writer's blocks, in rank order.
type WritePattern struct {
	Writers []WriterEntry
	// Locked is set when every writer has locked its definitions.
	Locked bool
	// EndOfStream is the write-master's terminal sentinel.
	EndOfStream bool
}

// Find returns the first block with the given name published by writer w.
func (p WritePattern) Find(w int, name string) (BlockDescriptor, bool) {
	if w < 0 || w >= len(p.Writers) {
		return BlockDescriptor{}, false
	}
	for _, b := range p.Writers[w].Blocks {
		if b.Name == name {
			return b, true
		}
	}
	return BlockDescriptor{}, false
}

// ReadPattern maps reader index to that reader's selections, in rank order.
type ReadPattern struct {
	Readers [][]SelectionRequest
	// Locked is set when every reader has locked its selections.
	Locked bool
}
