// Package variables is the variable directory the engine reads into and
// writes from.
//
// The engine itself knows variables only as names inside block descriptors.
// The directory owns everything else: the element type and shape of each
// variable, the current value of value-shaped variables, and the buffers
// that array selections are copied into.
//
// # Operations
//
//   - InquireVariable(name) looks a variable up.
//   - DefineVariable(v) registers a variable; readers define every variable
//     they see in a write pattern.
//   - ApplyScalarValue(name, writer, value) stores an inline value. Local
//     values are kept per writer; global values under pattern.AnyWriter.
//   - AllocateOrAddressDestination(name, box, dst) returns the buffer a
//     selection is copied into, allocating one when the caller passes nil.
//
// # Implementations
//
// MemoryDirectory keeps everything in maps behind a sync.RWMutex. Values
// are copied on the way in, shapes on the way in and out, so callers never
// share memory with the directory.
//
// # Example
//
//	dir := variables.NewMemoryDirectory()
//	_ = dir.DefineVariable(variables.Variable{
//		Name: "temperature", Type: pattern.Float64, Kind: pattern.GlobalArray,
//		Shape: box.Dims{64, 64},
//	})
//	buf, _ := dir.AllocateOrAddressDestination("temperature", box.Of(8, 8), nil)
//	// len(buf) == 8*8*8
package variables
