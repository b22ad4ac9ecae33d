// Package pattern defines the metadata that writers and readers exchange each
// step and the codec that moves it between ranks.
//
// # Overview
//
// A WritePattern lists, per writer, the blocks of every variable that writer
// publishes for the step. A ReadPattern lists, per reader, the selections that
// reader wants filled. Both are indexed by position within their group, so
// writer i is always Writers[i] and reader j is always Readers[j].
//
// Array blocks describe where their elements sit in the writer's exposed
// payload (Offset, Length); the elements themselves travel over the fetch
// transport. Value blocks (GlobalValue, LocalValue) carry their single element
// inline, so readers apply them without a fetch.
//
// # Values
//
// Value is a tagged element: an ElementType plus its encoded bytes. Numeric
// values are little-endian; strings are UTF-8.
//
//	v := pattern.ValueOf(float32(0.5))   // Float32, 4 bytes
//	s := pattern.StringValue("units=K")  // String
//	f, ok := v.Float64()                 // 0.5, true
//
// # Wire Format
//
// Patterns are encoded with the protobuf wire format (no generated code):
//
//	WritePattern { 1: locked  2: end_of_stream  3: writer* }
//	WriterEntry  { 1: big_endian  2: block* }
//	Block        { 1: name  2: type  3: kind  4: order
//	               5: shape  6: start  7: count (packed varints)
//	               8: offset  9: length  10: value }
//	ReadPattern  { 1: locked  2: reader* }
//	ReaderEntry  { 1: selection* }
//	Selection    { 1: name  2: start  3: count  4: order  5: writer (zigzag) }
//
// Every encoded pattern ends with field 15, an xxhash64 of the preceding
// bytes. Decoding rejects input whose last field is not a matching checksum,
// so any truncation or trailing garbage surfaces as ErrMalformedPattern.
// Encoding is deterministic and Digest hashes it, which lets the step
// controller detect unchanged patterns cheaply.
//
// Element type codes this build does not recognise decode as UnknownType
// rather than failing; the overlap resolver skips such blocks and records
// them.
package pattern
