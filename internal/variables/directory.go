package variables

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/tessera/internal/box"
	"github.com/dreamware/tessera/internal/pattern"
)

var (
	// ErrVariableNotFound is returned when a name is not in the directory.
	ErrVariableNotFound = errors.New("variable not found")
	// ErrVariableConflict is returned when a name is redefined with a
	// different type or kind.
	ErrVariableConflict = errors.New("variable redefined with a different type or kind")
	// ErrTypeMismatch is returned when a value does not match its variable.
	ErrTypeMismatch = errors.New("value type does not match variable")
	// ErrShortDestination is returned when a caller-supplied destination
	// cannot hold the selection.
	ErrShortDestination = errors.New("destination too small for selection")
)

// Variable describes one named variable of the stream.
type Variable struct {
	Name  string
	Type  pattern.ElementType
	Kind  pattern.ShapeKind
	Shape box.Dims
}

// Directory owns the variable model the engine reads into and writes from.
// All implementations must be safe for concurrent use.
type Directory interface {
	// InquireVariable returns the variable registered under name.
	// Returns ErrVariableNotFound if there is none.
	InquireVariable(name string) (Variable, error)

	// DefineVariable registers v. Redefining a name with the same type and
	// kind updates its shape; anything else is ErrVariableConflict.
	DefineVariable(v Variable) error

	// ApplyScalarValue stores the value of a value-kind variable. writer is
	// pattern.AnyWriter for global values and the publishing writer's index
	// for local values.
	ApplyScalarValue(name string, writer int, v pattern.Value) error

	// AllocateOrAddressDestination returns the buffer a selection of sel in
	// variable name should be copied into. A non-nil dst is checked and
	// returned as is; a nil dst gets a fresh zeroed buffer.
	AllocateOrAddressDestination(name string, sel box.Box, dst []byte) ([]byte, error)
}

// Stats summarises a directory's contents.
type Stats struct {
	Variables int
	Values    int
	Allocated int // bytes handed out by AllocateOrAddressDestination
}

type entry struct {
	Variable
	values map[int]pattern.Value
}

// MemoryDirectory is an in-memory Directory guarded by a sync.RWMutex.
type MemoryDirectory struct {
	mu        sync.RWMutex
	vars      map[string]*entry
	allocated int
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{vars: make(map[string]*entry)}
}

// InquireVariable implements Directory.
func (d *MemoryDirectory) InquireVariable(name string) (Variable, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.vars[name]
	if !ok {
		return Variable{}, fmt.Errorf("%q: %w", name, ErrVariableNotFound)
	}
	v := e.Variable
	v.Shape = slices.Clone(v.Shape)
	return v, nil
}

// DefineVariable implements Directory.
func (d *MemoryDirectory) DefineVariable(v Variable) error {
	if v.Name == "" {
		return fmt.Errorf("empty name: %w", ErrVariableConflict)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.vars[v.Name]; ok {
		if e.Type != v.Type || e.Kind != v.Kind {
			return fmt.Errorf("%q is %s %s, not %s %s: %w",
				v.Name, e.Kind, e.Type, v.Kind, v.Type, ErrVariableConflict)
		}
		e.Shape = slices.Clone(v.Shape)
		return nil
	}
	v.Shape = slices.Clone(v.Shape)
	d.vars[v.Name] = &entry{Variable: v, values: make(map[int]pattern.Value)}
	return nil
}

// ApplyScalarValue implements Directory.
func (d *MemoryDirectory) ApplyScalarValue(name string, writer int, v pattern.Value) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.vars[name]
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrVariableNotFound)
	}
	if !e.Kind.IsValue() || v.Type != e.Type {
		return fmt.Errorf("%q is %s %s, got %s value: %w", name, e.Kind, e.Type, v.Type, ErrTypeMismatch)
	}
	if e.Kind == pattern.GlobalValue {
		writer = pattern.AnyWriter
	}
	e.values[writer] = pattern.RawValue(v.Type, v.Bytes())
	return nil
}

// AllocateOrAddressDestination implements Directory.
func (d *MemoryDirectory) AllocateOrAddressDestination(name string, sel box.Box, dst []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.vars[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrVariableNotFound)
	}
	size := uint64(e.Type.Size())
	if size == 0 || !e.Kind.IsArray() {
		return nil, fmt.Errorf("%q is %s %s: %w", name, e.Kind, e.Type, pattern.ErrUnknownDataType)
	}
	need := sel.Volume() * size
	if dst != nil {
		if uint64(len(dst)) < need {
			return nil, fmt.Errorf("%q: %d bytes for %v, need %d: %w", name, len(dst), sel, need, ErrShortDestination)
		}
		return dst, nil
	}
	d.allocated += int(need)
	return make([]byte, need), nil
}

// Value returns the last value applied to a value-kind variable. Global
// values ignore writer.
func (d *MemoryDirectory) Value(name string, writer int) (pattern.Value, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.vars[name]
	if !ok {
		return pattern.Value{}, false
	}
	if e.Kind == pattern.GlobalValue {
		writer = pattern.AnyWriter
	}
	v, ok := e.values[writer]
	return v, ok
}

// List returns the variable names in sorted order.
func (d *MemoryDirectory) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.vars))
	for name := range d.vars {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Stats returns directory statistics.
func (d *MemoryDirectory) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Stats{Variables: len(d.vars), Allocated: d.allocated}
	for _, e := range d.vars {
		s.Values += len(e.values)
	}
	return s
}
