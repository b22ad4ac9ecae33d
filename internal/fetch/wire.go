package fetch

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var errBadMessage = errors.New("malformed fetch message")

// wireMessage is implemented by the gRPC request and response types, which
// encode themselves with protowire instead of generated code.
type wireMessage interface {
	marshal() []byte
	unmarshal([]byte) error
}

// codec is the gRPC codec for wireMessage values.
type codec struct{}

func (codec) Name() string { return "tessera-wire" }

func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("fetch codec: cannot marshal %T", v)
	}
	return m.marshal(), nil
}

func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("fetch codec: cannot unmarshal into %T", v)
	}
	return m.unmarshal(data)
}

// fetchRequest { 1: writer  2: reader  3: step  4: range* }
// range        { 1: offset  2: length }
type fetchRequest struct {
	Writer int
	Reader int
	Step   uint64
	Ranges []Range
}

func (r *fetchRequest) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Writer))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Reader))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Step)
	for _, rg := range r.Ranges {
		var e []byte
		e = protowire.AppendTag(e, 1, protowire.VarintType)
		e = protowire.AppendVarint(e, rg.Offset)
		e = protowire.AppendTag(e, 2, protowire.VarintType)
		e = protowire.AppendVarint(e, rg.Length)
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	return b
}

func (r *fetchRequest) unmarshal(b []byte) error {
	*r = fetchRequest{}
	return walkFields(b, func(num protowire.Number, v uint64, raw []byte) error {
		switch num {
		case 1:
			r.Writer = int(v)
		case 2:
			r.Reader = int(v)
		case 3:
			r.Step = v
		case 4:
			var rg Range
			err := walkFields(raw, func(num protowire.Number, v uint64, _ []byte) error {
				switch num {
				case 1:
					rg.Offset = v
				case 2:
					rg.Length = v
				}
				return nil
			})
			if err != nil {
				return err
			}
			r.Ranges = append(r.Ranges, rg)
		}
		return nil
	})
}

// fetchResponse { 1: data }
type fetchResponse struct {
	Data []byte
}

func (r *fetchResponse) marshal() []byte {
	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	return protowire.AppendBytes(b, r.Data)
}

func (r *fetchResponse) unmarshal(b []byte) error {
	*r = fetchResponse{}
	return walkFields(b, func(num protowire.Number, _ uint64, raw []byte) error {
		if num == 1 {
			r.Data = append([]byte(nil), raw...)
		}
		return nil
	})
}

// walkFields calls fn for each varint or bytes field of b and skips the
// rest.
func walkFields(b []byte, fn func(num protowire.Number, v uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", errBadMessage, protowire.ParseError(n))
		}
		b = b[n:]
		var (
			v   uint64
			raw []byte
		)
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n >= 0 {
				b = b[n:]
				continue
			}
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", errBadMessage, num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(num, v, raw); err != nil {
			return err
		}
	}
	return nil
}
