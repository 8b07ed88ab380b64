package registry

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math/big"

	"github.com/colorfulnotion/flchain/codec"
	"github.com/colorfulnotion/flchain/common"
)

const (
	maxDecodeDepth = 64
	maxSequenceLen = 1 << 20
)

// NamedValue is one field of a decoded composite.
type NamedValue struct {
	Name  string
	Value any
}

// Composite is a decoded struct with named fields, in declaration order.
type Composite []NamedValue

// Get returns the value of the named field.
func (c Composite) Get(name string) (any, bool) {
	for _, f := range c {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

func (c Composite) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(f.Name)
		buf.Write(k)
		buf.WriteByte(':')
		v, err := marshalValue(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// VariantValue is a decoded enum value.
type VariantValue struct {
	Name  string
	Index uint8
	Value any
}

func (v VariantValue) MarshalJSON() ([]byte, error) {
	if v.Value == nil {
		return json.Marshal(v.Name)
	}
	inner, err := marshalValue(v.Value)
	if err != nil {
		return nil, err
	}
	k, _ := json.Marshal(v.Name)
	return []byte(fmt.Sprintf("{%s:%s}", k, inner)), nil
}

func (v VariantValue) String() string {
	if v.Value == nil {
		return v.Name
	}
	return fmt.Sprintf("%s(%v)", v.Name, v.Value)
}

// marshalValue renders byte strings as 0x hex instead of base64.
func marshalValue(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return json.Marshal(common.Bytes2Hex(t))
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := marshalValue(e)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	}
	return json.Marshal(v)
}

// Decode reads one value of type id from r.
func (tt *TypeTable) Decode(id int, r io.Reader) (any, error) {
	return tt.decode(id, r, 0)
}

// DecodeBytes decodes b as type id and requires every byte to be consumed.
func (tt *TypeTable) DecodeBytes(id int, b []byte) (any, error) {
	rd := bytes.NewReader(b)
	v, err := tt.decode(id, rd, 0)
	if err != nil {
		return nil, err
	}
	if rd.Len() != 0 {
		return nil, fmt.Errorf("%w: %d", codec.ErrTrailingBytes, rd.Len())
	}
	return v, nil
}

func (tt *TypeTable) decode(id int, r io.Reader, depth int) (any, error) {
	if depth > maxDecodeDepth {
		return nil, fmt.Errorf("type %d nested too deeply", id)
	}
	def, err := tt.Lookup(id)
	if err != nil {
		return nil, err
	}
	switch def.Kind {
	case KindPrimitive:
		return decodePrimitive(def.Primitive, r)
	case KindCompact:
		return decodeCompactValue(r)
	case KindComposite:
		return tt.decodeFields(def.Fields, r, depth)
	case KindVariant:
		var idx [1]byte
		if _, err := io.ReadFull(r, idx[:]); err != nil {
			return nil, err
		}
		v, ok := def.VariantByIndex(idx[0])
		if !ok {
			return nil, fmt.Errorf("%w: %s variant %d", ErrUnknownVariant, def.Name(), idx[0])
		}
		inner, err := tt.decodeFields(v.Fields, r, depth)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", def.Name(), v.Name, err)
		}
		if def.Name() == "Option" {
			return inner, nil
		}
		return VariantValue{Name: v.Name, Index: v.Index, Value: inner}, nil
	case KindSequence:
		n, err := codec.DecodeCompact(r)
		if err != nil {
			return nil, err
		}
		if n > maxSequenceLen {
			return nil, fmt.Errorf("sequence length %d too large", n)
		}
		if tt.isByte(def.Elem) {
			b := make([]byte, n)
			_, err := io.ReadFull(r, b)
			return b, err
		}
		return tt.decodeList(def.Elem, int(n), r, depth)
	case KindArray:
		if tt.isByte(def.Elem) {
			b := make([]byte, def.Len)
			if _, err := io.ReadFull(r, b); err != nil {
				return nil, err
			}
			switch def.Len {
			case common.AddressLength:
				return common.BytesToAddress(b), nil
			case common.HashLength:
				return common.BytesToHash(b), nil
			}
			return b, nil
		}
		return tt.decodeList(def.Elem, int(def.Len), r, depth)
	case KindTuple:
		if len(def.Tuple) == 0 {
			return nil, nil
		}
		out := make([]any, 0, len(def.Tuple))
		for _, t := range def.Tuple {
			v, err := tt.decode(t, r, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case KindBitSequence:
		bitsLen, err := codec.DecodeCompact(r)
		if err != nil {
			return nil, err
		}
		storeBits := uint64(8)
		if store, err := tt.Lookup(def.BitStore); err == nil {
			storeBits = uint64(primitiveWidth(store.Primitive)) * 8
		}
		words := (bitsLen + storeBits - 1) / storeBits
		if words*storeBits/8 > maxSequenceLen {
			return nil, fmt.Errorf("bit sequence of %d bits too large", bitsLen)
		}
		b := make([]byte, words*storeBits/8)
		_, err = io.ReadFull(r, b)
		return b, err
	}
	return nil, fmt.Errorf("%w: kind %d", ErrUnknownType, def.Kind)
}

func (tt *TypeTable) decodeList(elem, n int, r io.Reader, depth int) ([]any, error) {
	out := make([]any, 0, min(n, 1024))
	for i := 0; i < n; i++ {
		v, err := tt.decode(elem, r, depth+1)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// decodeFields unwraps newtypes: no fields is nil, one unnamed field is its
// value, named fields form a Composite.
func (tt *TypeTable) decodeFields(fields []Field, r io.Reader, depth int) (any, error) {
	switch {
	case len(fields) == 0:
		return nil, nil
	case len(fields) == 1 && fields[0].Name == "":
		return tt.decode(fields[0].Type, r, depth+1)
	case fields[0].Name == "":
		out := make([]any, 0, len(fields))
		for i, f := range fields {
			v, err := tt.decode(f.Type, r, depth+1)
			if err != nil {
				return nil, fmt.Errorf("field %d: %w", i, err)
			}
			out = append(out, v)
		}
		return out, nil
	}
	out := make(Composite, 0, len(fields))
	for _, f := range fields {
		v, err := tt.decode(f.Type, r, depth+1)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out = append(out, NamedValue{Name: f.Name, Value: v})
	}
	return out, nil
}

func primitiveWidth(p string) int {
	switch p {
	case "bool", "u8", "i8":
		return 1
	case "u16", "i16":
		return 2
	case "u32", "i32", "char":
		return 4
	case "u64", "i64":
		return 8
	case "u128", "i128":
		return 16
	case "u256", "i256":
		return 32
	}
	return 0
}

func decodePrimitive(p string, r io.Reader) (any, error) {
	if p == "str" {
		n, err := codec.DecodeCompact(r)
		if err != nil {
			return nil, err
		}
		if n > maxSequenceLen {
			return nil, fmt.Errorf("string length %d too large", n)
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
		return string(b), nil
	}
	width := primitiveWidth(p)
	if width == 0 {
		return nil, fmt.Errorf("%w: primitive %q", ErrUnknownType, p)
	}
	b := make([]byte, width)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	switch p {
	case "bool":
		switch b[0] {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, fmt.Errorf("invalid bool 0x%02x", b[0])
	case "char":
		return string(rune(binary.LittleEndian.Uint32(b))), nil
	case "u8":
		return uint64(b[0]), nil
	case "u16":
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case "u32":
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case "u64":
		return binary.LittleEndian.Uint64(b), nil
	case "i8":
		return int64(int8(b[0])), nil
	case "i16":
		return int64(int16(binary.LittleEndian.Uint16(b))), nil
	case "i32":
		return int64(int32(binary.LittleEndian.Uint32(b))), nil
	case "i64":
		return int64(binary.LittleEndian.Uint64(b)), nil
	case "u128", "u256":
		return new(big.Int).SetBytes(reversed(b)), nil
	default: // i128, i256
		v := new(big.Int).SetBytes(reversed(b))
		if b[width-1]&0x80 != 0 {
			v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(width*8)))
		}
		return v, nil
	}
}

// decodeCompactValue returns uint64, or *big.Int above 64 bits.
func decodeCompactValue(r io.Reader) (any, error) {
	var prefix [1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	if prefix[0]&0b11 != 0b11 || prefix[0]>>2+4 <= 8 {
		return codec.DecodeCompact(io.MultiReader(bytes.NewReader(prefix[:]), r))
	}
	b := make([]byte, int(prefix[0]>>2)+4)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(reversed(b)), nil
}

func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[len(b)-1-i]
	}
	return out
}

// AsUint64 converts decoded integers to uint64.
func AsUint64(v any) (uint64, bool) {
	switch t := v.(type) {
	case uint64:
		return t, true
	case int64:
		return uint64(t), t >= 0
	case *big.Int:
		return t.Uint64(), t.IsUint64()
	}
	return 0, false
}

// AsBytes converts decoded byte strings, hashes and addresses to bytes.
func AsBytes(v any) ([]byte, bool) {
	switch t := v.(type) {
	case []byte:
		return t, true
	case common.Hash:
		return t.Bytes(), true
	case common.Address:
		return t.Bytes(), true
	case uint64:
		// older runtimes encode the module error as a single u8
		return []byte{byte(t)}, t <= 0xff
	}
	return nil, false
}
