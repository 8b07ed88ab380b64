package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"reflect"
)

// Encoder writes SCALE values to an io.Writer.
type Encoder struct {
	w   io.Writer
	buf []byte
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes v. Pointers encode as Option, int and uint as compact.
func (e *Encoder) Encode(v interface{}) error {
	if v == nil {
		return fmt.Errorf("%w: nil", ErrUnsupportedType)
	}
	e.buf = e.buf[:0]
	if err := e.value(reflect.ValueOf(v)); err != nil {
		return err
	}
	_, err := e.w.Write(e.buf)
	return err
}

func (e *Encoder) value(v reflect.Value) error {
	t := v.Type()
	if t.Kind() == reflect.Pointer {
		if v.IsNil() {
			e.buf = append(e.buf, 0)
			return nil
		}
		e.buf = append(e.buf, 1)
		return e.value(v.Elem())
	}
	if t.Implements(marshalerType) {
		b, err := v.Interface().(Marshaler).MarshalSCALE()
		if err != nil {
			return err
		}
		e.buf = append(e.buf, b...)
		return nil
	}
	if t == uint128Type {
		e.buf = append(e.buf, v.Interface().(Uint128).Bytes()...)
		return nil
	}

	switch t.Kind() {
	case reflect.Bool:
		if v.Bool() {
			e.buf = append(e.buf, 1)
		} else {
			e.buf = append(e.buf, 0)
		}
	case reflect.Uint8:
		e.buf = append(e.buf, byte(v.Uint()))
	case reflect.Int8:
		e.buf = append(e.buf, byte(v.Int()))
	case reflect.Uint16:
		e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(v.Uint()))
	case reflect.Int16:
		e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(v.Int()))
	case reflect.Uint32:
		e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(v.Uint()))
	case reflect.Int32:
		e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(v.Int()))
	case reflect.Uint64:
		e.buf = binary.LittleEndian.AppendUint64(e.buf, v.Uint())
	case reflect.Int64:
		e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(v.Int()))
	case reflect.Uint:
		e.buf = append(e.buf, EncodeCompact(v.Uint())...)
	case reflect.Int:
		if v.Int() < 0 {
			return fmt.Errorf("%w: negative compact %d", ErrUnsupportedType, v.Int())
		}
		e.buf = append(e.buf, EncodeCompact(uint64(v.Int()))...)
	case reflect.String:
		e.buf = append(e.buf, EncodeCompact(uint64(v.Len()))...)
		e.buf = append(e.buf, v.String()...)
	case reflect.Slice:
		e.buf = append(e.buf, EncodeCompact(uint64(v.Len()))...)
		return e.elements(v)
	case reflect.Array:
		return e.elements(v)
	case reflect.Struct:
		for _, i := range fields(t) {
			if err := e.value(v.Field(i)); err != nil {
				return fmt.Errorf("field %s: %w", t.Field(i).Name, err)
			}
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	return nil
}

// elements writes slice or array items without a length prefix; byte
// sequences are copied as is.
func (e *Encoder) elements(v reflect.Value) error {
	if v.Type().Elem().Kind() == reflect.Uint8 && !v.Type().Elem().Implements(marshalerType) {
		start := len(e.buf)
		e.buf = append(e.buf, make([]byte, v.Len())...)
		reflect.Copy(reflect.ValueOf(e.buf[start:]), v)
		return nil
	}
	for i := 0; i < v.Len(); i++ {
		if err := e.value(v.Index(i)); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}
