package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// encoder accumulates a message's fields in protobuf wire format. Every
// message type in this package hand-writes its own Marshal using encoder
// rather than going through generated code, since the engine's frames carry
// a fixed, small set of request/response shapes and protoc isn't part of
// this build — the wire format produced is still genuine protobuf, just
// assembled with the low-level google.golang.org/protobuf/encoding/protowire
// primitives instead of a .proto-generated struct.
type encoder struct{ b []byte }

func (e *encoder) bytesField(num protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

func (e *encoder) stringField(num protowire.Number, v string) {
	if v == "" {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendString(e.b, v)
}

func (e *encoder) varintField(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, v)
}

func (e *encoder) boolField(num protowire.Number, v bool) {
	if v {
		e.varintField(num, 1)
	}
}

func (e *encoder) float32Field(num protowire.Number, v float32) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.Fixed32Type)
	e.b = protowire.AppendFixed32(e.b, math.Float32bits(v))
}

// float32SliceField packs a repeated float32 as one length-delimited field
// of concatenated little-endian fixed32 values, per protobuf's packed
// repeated encoding.
func (e *encoder) float32SliceField(num protowire.Number, vs []float32) {
	if len(vs) == 0 {
		return
	}
	packed := make([]byte, 0, len(vs)*4)
	for _, v := range vs {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	e.bytesField(num, packed)
}

func (e *encoder) varintSliceField(num protowire.Number, vs []uint64) {
	if len(vs) == 0 {
		return
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, v)
	}
	e.bytesField(num, packed)
}

// submessageField embeds another message's already-encoded bytes as a
// nested length-delimited field, per protobuf's submessage encoding.
func (e *encoder) submessageField(num protowire.Number, v []byte) {
	e.bytesField(num, v)
}

func (e *encoder) bytes() []byte { return e.b }

// fieldVisitor is called once per decoded field with the still-encoded
// remainder of the message; it must return how many bytes of rest it
// consumed for this field's value.
type fieldVisitor func(num protowire.Number, typ protowire.Type, rest []byte) (n int, err error)

func decodeMessage(data []byte, visit fieldVisitor) error {
	for len(data) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(data)
		if tagLen < 0 {
			return protowire.ParseError(tagLen)
		}
		rest := data[tagLen:]
		n, err := visit(num, typ, rest)
		if err != nil {
			return err
		}
		if n < 0 || n > len(rest) {
			return fmt.Errorf("wire: malformed field %d", num)
		}
		data = rest[n:]
	}
	return nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("wire: expected bytes wire type, got %d", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("wire: expected varint wire type, got %d", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeFixed32(typ protowire.Type, b []byte) (uint32, int, error) {
	if typ != protowire.Fixed32Type {
		return 0, 0, fmt.Errorf("wire: expected fixed32 wire type, got %d", typ)
	}
	v, n := protowire.ConsumeFixed32(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func decodeFloat32Slice(packed []byte) ([]float32, error) {
	if len(packed)%4 != 0 {
		return nil, fmt.Errorf("wire: packed float32 field has length %d, not a multiple of 4", len(packed))
	}
	out := make([]float32, 0, len(packed)/4)
	for i := 0; i < len(packed); i += 4 {
		bits := uint32(packed[i]) | uint32(packed[i+1])<<8 | uint32(packed[i+2])<<16 | uint32(packed[i+3])<<24
		out = append(out, math.Float32frombits(bits))
	}
	return out, nil
}

func float32FromBits(v uint32) float32 {
	return math.Float32frombits(v)
}

func decodeVarintSlice(packed []byte) ([]uint64, error) {
	out := make([]uint64, 0, len(packed)/2)
	for len(packed) > 0 {
		v, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, v)
		packed = packed[n:]
	}
	return out, nil
}
