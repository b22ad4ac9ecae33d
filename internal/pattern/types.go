package pattern

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ElementType identifies the primitive type of a variable's elements.
type ElementType uint8

// Element types. The numeric values are part of the pattern encoding.
const (
	UnknownType ElementType = iota // Undecodable or unset; blocks of it are skipped
	Int8                           // 1-byte signed integer
	Int16                          // 2-byte signed integer
	Int32                          // 4-byte signed integer
	Int64                          // 8-byte signed integer
	Uint8                          // 1-byte unsigned integer
	Uint16                         // 2-byte unsigned integer
	Uint32                         // 4-byte unsigned integer
	Uint64                         // 8-byte unsigned integer
	Float32                        // IEEE 754 single precision
	Float64                        // IEEE 754 double precision
	Complex64                      // Two float32: real, then imaginary
	Complex128                     // Two float64: real, then imaginary
	String                         // Variable size; values only, never arrays
)

var typeNames = map[ElementType]string{
	UnknownType: "unknown",
	Int8:        "int8",
	Int16:       "int16",
	Int32:       "int32",
	Int64:       "int64",
	Uint8:       "uint8",
	Uint16:      "uint16",
	Uint32:      "uint32",
	Uint64:      "uint64",
	Float32:     "float32",
	Float64:     "float64",
	Complex64:   "complex64",
	Complex128:  "complex128",
	String:      "string",
}

// String returns the type's name as accepted by ParseElementType.
func (t ElementType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ElementType(%d)", uint8(t))
}

// Size returns the number of bytes per element, or 0 for types without a
// fixed size (string) and unknown types.
func (t ElementType) Size() int {
	switch t {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64, Complex64:
		return 8
	case Complex128:
		return 16
	default:
		return 0
	}
}

// SwapSize returns the width of the words that are byte-swapped when an
// element crosses byte orders. Complex types swap their real and imaginary
// parts separately.
func (t ElementType) SwapSize() int {
	switch t {
	case Complex64, Complex128:
		return t.Size() / 2
	default:
		return t.Size()
	}
}

// Known reports whether t is one of the defined element types.
func (t ElementType) Known() bool {
	return t > UnknownType && t <= String
}

// ParseElementType maps a type name such as "float32" to its ElementType.
func ParseElementType(name string) (ElementType, error) {
	for t, n := range typeNames {
		if n == name && t != UnknownType {
			return t, nil
		}
	}
	return UnknownType, fmt.Errorf("element type %q: %w", name, ErrUnknownDataType)
}

// ShapeKind says how a variable is laid out across writers.
type ShapeKind uint8

const (
	// GlobalArray blocks are pieces of one array with a global shape.
	GlobalArray ShapeKind = iota
	// LocalArray blocks are independent per-writer arrays.
	LocalArray
	// GlobalValue is a single value shared by all writers.
	GlobalValue
	// LocalValue is one value per writer.
	LocalValue
)

// String implements fmt.Stringer.
func (k ShapeKind) String() string {
	switch k {
	case GlobalArray:
		return "global-array"
	case LocalArray:
		return "local-array"
	case GlobalValue:
		return "global-value"
	case LocalValue:
		return "local-value"
	default:
		return fmt.Sprintf("ShapeKind(%d)", uint8(k))
	}
}

// IsArray reports whether blocks of this kind travel through the bulk
// data channel.
func (k ShapeKind) IsArray() bool {
	return k == GlobalArray || k == LocalArray
}

// IsValue reports whether blocks of this kind carry their value inline.
func (k ShapeKind) IsValue() bool {
	return k == GlobalValue || k == LocalValue
}

// Value is a single typed element carried inline in a block descriptor.
// Numeric values are little-endian regardless of the writer's host order;
// strings hold UTF-8 bytes.
type Value struct {
	Type ElementType
	raw  []byte
}

// Number is the set of Go types a Value can be built from directly.
type Number interface {
	int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64 |
		float32 | float64 | complex64 | complex128
}

// ValueOf encodes v in little-endian order with the matching ElementType.
func ValueOf[T Number](v T) Value {
	var (
		typ ElementType
		buf []byte
	)
	switch x := any(v).(type) {
	case int8:
		typ, buf = Int8, []byte{byte(x)}
	case uint8:
		typ, buf = Uint8, []byte{x}
	case int16:
		typ, buf = Int16, binary.LittleEndian.AppendUint16(nil, uint16(x))
	case uint16:
		typ, buf = Uint16, binary.LittleEndian.AppendUint16(nil, x)
	case int32:
		typ, buf = Int32, binary.LittleEndian.AppendUint32(nil, uint32(x))
	case uint32:
		typ, buf = Uint32, binary.LittleEndian.AppendUint32(nil, x)
	case float32:
		typ, buf = Float32, binary.LittleEndian.AppendUint32(nil, math.Float32bits(x))
	case int64:
		typ, buf = Int64, binary.LittleEndian.AppendUint64(nil, uint64(x))
	case uint64:
		typ, buf = Uint64, binary.LittleEndian.AppendUint64(nil, x)
	case float64:
		typ, buf = Float64, binary.LittleEndian.AppendUint64(nil, math.Float64bits(x))
	case complex64:
		buf = binary.LittleEndian.AppendUint32(nil, math.Float32bits(real(x)))
		typ, buf = Complex64, binary.LittleEndian.AppendUint32(buf, math.Float32bits(imag(x)))
	case complex128:
		buf = binary.LittleEndian.AppendUint64(nil, math.Float64bits(real(x)))
		typ, buf = Complex128, binary.LittleEndian.AppendUint64(buf, math.Float64bits(imag(x)))
	}
	return Value{Type: typ, raw: buf}
}

// StringValue wraps s as a string Value.
func StringValue(s string) Value {
	return Value{Type: String, raw: []byte(s)}
}

// RawValue builds a Value from bytes already encoded for typ. The slice is
// copied.
func RawValue(typ ElementType, raw []byte) Value {
	return Value{Type: typ, raw: append([]byte(nil), raw...)}
}

// Bytes returns the encoded value. Callers must not modify the result.
func (v Value) Bytes() []byte {
	return v.raw
}

// IsZero reports whether v holds nothing.
func (v Value) IsZero() bool {
	return v.Type == UnknownType && len(v.raw) == 0
}

// Equal reports whether two values have the same type and bytes.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type || len(v.raw) != len(o.raw) {
		return false
	}
	for i := range v.raw {
		if v.raw[i] != o.raw[i] {
			return false
		}
	}
	return true
}

// Float64 decodes a little-endian numeric value as float64. Complex values
// return their real part. The second result is false for strings, unknown
// types, and malformed payloads.
func (v Value) Float64() (float64, bool) {
	if v.Type.Size() == 0 || len(v.raw) != v.Type.Size() {
		return 0, false
	}
	b := v.raw
	switch v.Type {
	case Int8:
		return float64(int8(b[0])), true
	case Uint8:
		return float64(b[0]), true
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(b))), true
	case Uint16:
		return float64(binary.LittleEndian.Uint16(b)), true
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(b))), true
	case Uint32:
		return float64(binary.LittleEndian.Uint32(b)), true
	case Int64:
		return float64(int64(binary.LittleEndian.Uint64(b))), true
	case Uint64:
		return float64(binary.LittleEndian.Uint64(b)), true
	case Float32, Complex64:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), true
	case Float64, Complex128:
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), true
	}
	return 0, false
}

// Text returns the value of a string Value.
func (v Value) Text() (string, bool) {
	if v.Type != String {
		return "", false
	}
	return string(v.raw), true
}

func (v Value) String() string {
	if s, ok := v.Text(); ok {
		return fmt.Sprintf("%q", s)
	}
	if f, ok := v.Float64(); ok {
		return fmt.Sprintf("%s(%v)", v.Type, f)
	}
	return fmt.Sprintf("%s(% x)", v.Type, v.raw)
}
