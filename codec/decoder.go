package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"reflect"
)

// Decoder reads SCALE values from an io.Reader. Unlike Decode it leaves
// whatever follows the value unread.
type Decoder struct {
	r io.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode reads one value into the pointer dst.
func (d *Decoder) Decode(dst interface{}) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: %T", ErrUnsupportedDestination, dst)
	}
	return d.value(rv.Elem())
}

func (d *Decoder) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, fmt.Errorf("reading %d bytes: %w", n, err)
	}
	return buf, nil
}

func (d *Decoder) value(v reflect.Value) error {
	if v.CanAddr() {
		if u, ok := v.Addr().Interface().(Unmarshaler); ok {
			return u.UnmarshalSCALE(d.r)
		}
	}
	t := v.Type()
	if t == uint128Type {
		b, err := d.read(16)
		if err != nil {
			return err
		}
		u, err := NewUint128(b)
		if err != nil {
			return err
		}
		v.Set(reflect.ValueOf(u))
		return nil
	}

	switch t.Kind() {
	case reflect.Pointer:
		return d.option(v)
	case reflect.Bool:
		b, err := d.read(1)
		if err != nil {
			return err
		}
		if b[0] > 1 {
			return fmt.Errorf("%w: 0x%02x", errDecodeBool, b[0])
		}
		v.SetBool(b[0] == 1)
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := d.fixed(int(t.Size()))
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := d.fixed(int(t.Size()))
		if err != nil {
			return err
		}
		// sign-extend from the encoded width
		shift := 64 - 8*uint(t.Size())
		v.SetInt(int64(n<<shift) >> shift)
	case reflect.Uint, reflect.Int:
		n, err := DecodeCompact(d.r)
		if err != nil {
			return err
		}
		if t.Kind() == reflect.Int && n > math.MaxInt64 {
			return fmt.Errorf("%w: %d", ErrU64OutOfRange, n)
		}
		if t.Kind() == reflect.Int {
			v.SetInt(int64(n))
		} else {
			v.SetUint(n)
		}
	case reflect.String:
		b, err := d.bytes()
		if err != nil {
			return err
		}
		v.SetString(string(b))
	case reflect.Slice:
		return d.slice(v)
	case reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			b, err := d.read(v.Len())
			if err != nil {
				return err
			}
			reflect.Copy(v, reflect.ValueOf(b))
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := d.value(v.Index(i)); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
	case reflect.Struct:
		for _, i := range fields(t) {
			if err := d.value(v.Field(i)); err != nil {
				return fmt.Errorf("field %s: %w", t.Field(i).Name, err)
			}
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	return nil
}

// option reads 0x00 as nil and 0x01 followed by the value.
func (d *Decoder) option(v reflect.Value) error {
	tag, err := d.read(1)
	if err != nil {
		return err
	}
	switch tag[0] {
	case 0:
		v.Set(reflect.Zero(v.Type()))
		return nil
	case 1:
		elem := reflect.New(v.Type().Elem())
		if err := d.value(elem.Elem()); err != nil {
			return err
		}
		v.Set(elem)
		return nil
	}
	return fmt.Errorf("%w: value: %v", ErrUnsupportedOption, tag[0])
}

func (d *Decoder) fixed(size int) (uint64, error) {
	b, err := d.read(size)
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (d *Decoder) length() (int, error) {
	n, err := DecodeCompact(d.r)
	if err != nil {
		return 0, fmt.Errorf("decoding length: %w", err)
	}
	// lengths are Compact<u32>
	if n > math.MaxUint32 {
		return 0, fmt.Errorf("length %d exceeds max value of uint32", n)
	}
	return int(n), nil
}

func (d *Decoder) bytes() ([]byte, error) {
	n, err := d.length()
	if err != nil {
		return nil, err
	}
	return d.read(n)
}

// slice always leaves a non-nil slice, empty for a zero length.
func (d *Decoder) slice(v reflect.Value) error {
	t := v.Type()
	if t.Elem().Kind() == reflect.Uint8 {
		b, err := d.bytes()
		if err != nil {
			return err
		}
		v.Set(reflect.ValueOf(b).Convert(t))
		return nil
	}
	n, err := d.length()
	if err != nil {
		return err
	}
	out := reflect.MakeSlice(t, 0, min(n, 1024))
	for i := 0; i < n; i++ {
		elem := reflect.New(t.Elem()).Elem()
		if err := d.value(elem); err != nil {
			return fmt.Errorf("element %d of %d: %w", i, n, err)
		}
		out = reflect.Append(out, elem)
	}
	v.Set(out)
	return nil
}
