package pattern

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dreamware/tessera/internal/box"
)

// Field numbers of the wire format. Every message ends with the checksum
// field, which must be the last field of the outer message.
const (
	fieldChecksum protowire.Number = 15

	// WritePattern
	fieldWLocked protowire.Number = 1
	fieldWEOS    protowire.Number = 2
	fieldWWriter protowire.Number = 3

	// WriterEntry
	fieldEBigEndian protowire.Number = 1
	fieldEBlock     protowire.Number = 2

	// BlockDescriptor
	fieldBName   protowire.Number = 1
	fieldBType   protowire.Number = 2
	fieldBKind   protowire.Number = 3
	fieldBOrder  protowire.Number = 4
	fieldBShape  protowire.Number = 5
	fieldBStart  protowire.Number = 6
	fieldBCount  protowire.Number = 7
	fieldBOffset protowire.Number = 8
	fieldBLength protowire.Number = 9
	fieldBValue  protowire.Number = 10

	// ReadPattern
	fieldRLocked protowire.Number = 1
	fieldRReader protowire.Number = 2

	// reader entry
	fieldRSelection protowire.Number = 1

	// SelectionRequest
	fieldSName   protowire.Number = 1
	fieldSStart  protowire.Number = 2
	fieldSCount  protowire.Number = 3
	fieldSOrder  protowire.Number = 4
	fieldSWriter protowire.Number = 5
)

// trailerLen is the encoded size of the checksum field.
var trailerLen = protowire.SizeTag(fieldChecksum) + protowire.SizeFixed64()

// EncodeWritePattern serializes p. Writers and their blocks are emitted in
// index order and the output is deterministic for equal patterns.
func EncodeWritePattern(p WritePattern) []byte {
	var b []byte
	if p.Locked {
		b = appendBool(b, fieldWLocked, true)
	}
	if p.EndOfStream {
		b = appendBool(b, fieldWEOS, true)
	}
	for _, w := range p.Writers {
		var e []byte
		if w.BigEndian {
			e = appendBool(e, fieldEBigEndian, true)
		}
		for _, blk := range w.Blocks {
			e = protowire.AppendTag(e, fieldEBlock, protowire.BytesType)
			e = protowire.AppendBytes(e, appendBlock(nil, blk))
		}
		b = protowire.AppendTag(b, fieldWWriter, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	return seal(b)
}

func appendBlock(b []byte, blk BlockDescriptor) []byte {
	b = protowire.AppendTag(b, fieldBName, protowire.BytesType)
	b = protowire.AppendString(b, blk.Name)
	b = appendVarint(b, fieldBType, uint64(blk.Type))
	b = appendVarint(b, fieldBKind, uint64(blk.Kind))
	b = appendVarint(b, fieldBOrder, uint64(blk.Order))
	b = appendDims(b, fieldBShape, blk.Shape)
	b = appendDims(b, fieldBStart, blk.Start)
	b = appendDims(b, fieldBCount, blk.Count)
	b = appendVarint(b, fieldBOffset, blk.Offset)
	b = appendVarint(b, fieldBLength, blk.Length)
	if blk.Kind.IsValue() {
		b = protowire.AppendTag(b, fieldBValue, protowire.BytesType)
		b = protowire.AppendBytes(b, blk.Value.Bytes())
	}
	return b
}

// EncodeReadPattern serializes p. Readers without selections still occupy
// their index.
func EncodeReadPattern(p ReadPattern) []byte {
	var b []byte
	if p.Locked {
		b = appendBool(b, fieldRLocked, true)
	}
	for _, sels := range p.Readers {
		var e []byte
		for _, s := range sels {
			e = protowire.AppendTag(e, fieldRSelection, protowire.BytesType)
			e = protowire.AppendBytes(e, appendSelection(nil, s))
		}
		b = protowire.AppendTag(b, fieldRReader, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	return seal(b)
}

func appendSelection(b []byte, s SelectionRequest) []byte {
	b = protowire.AppendTag(b, fieldSName, protowire.BytesType)
	b = protowire.AppendString(b, s.Name)
	b = appendDims(b, fieldSStart, s.Start)
	b = appendDims(b, fieldSCount, s.Count)
	b = appendVarint(b, fieldSOrder, uint64(s.Order))
	b = appendVarint(b, fieldSWriter, protowire.EncodeZigZag(int64(s.Writer)))
	return b
}

// DecodeWritePattern parses the output of EncodeWritePattern. Element type
// codes this build does not know decode as UnknownType so the resolver can
// skip the block; every other defect returns ErrMalformedPattern.
func DecodeWritePattern(data []byte) (WritePattern, error) {
	body, err := unseal(data)
	if err != nil {
		return WritePattern{}, err
	}
	var p WritePattern
	err = eachField(body, func(f field) error {
		switch f.num {
		case fieldWLocked:
			return f.readBool(&p.Locked)
		case fieldWEOS:
			return f.readBool(&p.EndOfStream)
		case fieldWWriter:
			if err := f.want(protowire.BytesType); err != nil {
				return err
			}
			w, err := decodeWriter(f.bytes)
			if err != nil {
				return err
			}
			p.Writers = append(p.Writers, w)
		}
		return nil
	})
	if err != nil {
		return WritePattern{}, err
	}
	return p, nil
}

func decodeWriter(b []byte) (WriterEntry, error) {
	var w WriterEntry
	err := eachField(b, func(f field) error {
		switch f.num {
		case fieldEBigEndian:
			return f.readBool(&w.BigEndian)
		case fieldEBlock:
			if err := f.want(protowire.BytesType); err != nil {
				return err
			}
			blk, err := decodeBlock(f.bytes)
			if err != nil {
				return err
			}
			w.Blocks = append(w.Blocks, blk)
		}
		return nil
	})
	return w, err
}

func decodeBlock(b []byte) (BlockDescriptor, error) {
	var (
		blk      BlockDescriptor
		raw      []byte
		hasValue bool
	)
	err := eachField(b, func(f field) error {
		switch f.num {
		case fieldBName:
			if err := f.want(protowire.BytesType); err != nil {
				return err
			}
			blk.Name = string(f.bytes)
		case fieldBType:
			if err := f.want(protowire.VarintType); err != nil {
				return err
			}
			if t := ElementType(f.varint); f.varint <= uint64(String) && t.Known() {
				blk.Type = t
			}
		case fieldBKind:
			if err := f.want(protowire.VarintType); err != nil {
				return err
			}
			if f.varint > uint64(LocalValue) {
				return fmt.Errorf("%w: shape kind %d", ErrMalformedPattern, f.varint)
			}
			blk.Kind = ShapeKind(f.varint)
		case fieldBOrder:
			return f.readOrder(&blk.Order)
		case fieldBShape:
			return f.readDims(&blk.Shape)
		case fieldBStart:
			return f.readDims(&blk.Start)
		case fieldBCount:
			return f.readDims(&blk.Count)
		case fieldBOffset:
			return f.readUint(&blk.Offset)
		case fieldBLength:
			return f.readUint(&blk.Length)
		case fieldBValue:
			if err := f.want(protowire.BytesType); err != nil {
				return err
			}
			raw, hasValue = f.bytes, true
		}
		return nil
	})
	if err != nil {
		return BlockDescriptor{}, err
	}
	if blk.Name == "" {
		return BlockDescriptor{}, fmt.Errorf("%w: block without name", ErrMalformedPattern)
	}
	if hasValue {
		blk.Value = RawValue(blk.Type, raw)
	}
	return blk, nil
}

// DecodeReadPattern parses the output of EncodeReadPattern. Decoded
// selections have no destination and are not satisfied.
func DecodeReadPattern(data []byte) (ReadPattern, error) {
	body, err := unseal(data)
	if err != nil {
		return ReadPattern{}, err
	}
	var p ReadPattern
	err = eachField(body, func(f field) error {
		switch f.num {
		case fieldRLocked:
			return f.readBool(&p.Locked)
		case fieldRReader:
			if err := f.want(protowire.BytesType); err != nil {
				return err
			}
			sels, err := decodeReader(f.bytes)
			if err != nil {
				return err
			}
			p.Readers = append(p.Readers, sels)
		}
		return nil
	})
	if err != nil {
		return ReadPattern{}, err
	}
	return p, nil
}

func decodeReader(b []byte) ([]SelectionRequest, error) {
	sels := []SelectionRequest{}
	err := eachField(b, func(f field) error {
		if f.num != fieldRSelection {
			return nil
		}
		if err := f.want(protowire.BytesType); err != nil {
			return err
		}
		s, err := decodeSelection(f.bytes)
		if err != nil {
			return err
		}
		sels = append(sels, s)
		return nil
	})
	return sels, err
}

func decodeSelection(b []byte) (SelectionRequest, error) {
	s := SelectionRequest{Writer: AnyWriter}
	err := eachField(b, func(f field) error {
		switch f.num {
		case fieldSName:
			if err := f.want(protowire.BytesType); err != nil {
				return err
			}
			s.Name = string(f.bytes)
		case fieldSStart:
			return f.readDims(&s.Start)
		case fieldSCount:
			return f.readDims(&s.Count)
		case fieldSOrder:
			return f.readOrder(&s.Order)
		case fieldSWriter:
			if err := f.want(protowire.VarintType); err != nil {
				return err
			}
			s.Writer = int(protowire.DecodeZigZag(f.varint))
		}
		return nil
	})
	if err != nil {
		return SelectionRequest{}, err
	}
	if s.Name == "" {
		return SelectionRequest{}, fmt.Errorf("%w: selection without name", ErrMalformedPattern)
	}
	return s, nil
}

// Digest returns a 64-bit fingerprint of p's encoding. Equal patterns have
// equal digests.
func (p WritePattern) Digest() uint64 {
	return xxhash.Sum64(EncodeWritePattern(p))
}

// Digest returns a 64-bit fingerprint of p's encoding. Destinations and
// satisfied flags do not contribute.
func (p ReadPattern) Digest() uint64 {
	return xxhash.Sum64(EncodeReadPattern(p))
}

func seal(b []byte) []byte {
	sum := xxhash.Sum64(b)
	b = protowire.AppendTag(b, fieldChecksum, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, sum)
}

func unseal(data []byte) ([]byte, error) {
	if len(data) < trailerLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the checksum", ErrMalformedPattern, len(data))
	}
	body, trailer := data[:len(data)-trailerLen], data[len(data)-trailerLen:]
	num, typ, n := protowire.ConsumeTag(trailer)
	if n < 0 || num != fieldChecksum || typ != protowire.Fixed64Type {
		return nil, fmt.Errorf("%w: missing checksum", ErrMalformedPattern)
	}
	sum, m := protowire.ConsumeFixed64(trailer[n:])
	if m < 0 || n+m != trailerLen {
		return nil, fmt.Errorf("%w: missing checksum", ErrMalformedPattern)
	}
	if got := xxhash.Sum64(body); got != sum {
		return nil, fmt.Errorf("%w: checksum %016x, want %016x", ErrMalformedPattern, got, sum)
	}
	return body, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

// appendDims writes d as a packed varint list. Empty lists are omitted and
// decode as nil.
func appendDims(b []byte, num protowire.Number, d box.Dims) []byte {
	if len(d) == 0 {
		return b
	}
	var packed []byte
	for _, v := range d {
		packed = protowire.AppendVarint(packed, v)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// field is one decoded key/value pair.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

func (f field) want(typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("%w: field %d has wire type %d, want %d", ErrMalformedPattern, f.num, f.typ, typ)
	}
	return nil
}

func (f field) readUint(dst *uint64) error {
	if err := f.want(protowire.VarintType); err != nil {
		return err
	}
	*dst = f.varint
	return nil
}

func (f field) readBool(dst *bool) error {
	if err := f.want(protowire.VarintType); err != nil {
		return err
	}
	*dst = protowire.DecodeBool(f.varint)
	return nil
}

func (f field) readOrder(dst *box.MajorOrder) error {
	if err := f.want(protowire.VarintType); err != nil {
		return err
	}
	if f.varint > uint64(box.ColumnMajor) {
		return fmt.Errorf("%w: major order %d", ErrMalformedPattern, f.varint)
	}
	*dst = box.MajorOrder(f.varint)
	return nil
}

func (f field) readDims(dst *box.Dims) error {
	if err := f.want(protowire.BytesType); err != nil {
		return err
	}
	var d box.Dims
	for b := f.bytes; len(b) > 0; {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformedPattern, f.num, protowire.ParseError(n))
		}
		d = append(d, v)
		b = b[n:]
	}
	*dst = d
	return nil
}

// eachField walks the fields of one message. Unknown fields are skipped;
// the checksum number is reserved for the outer trailer.
func eachField(b []byte, fn func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedPattern, protowire.ParseError(n))
		}
		if num == fieldChecksum {
			return fmt.Errorf("%w: checksum inside message body", ErrMalformedPattern)
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.varint, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformedPattern, num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
