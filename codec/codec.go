// Package codec implements the SCALE codec used by Substrate runtimes:
// compact integers, length-prefixed bytes and vectors, Option via pointers,
// fixed arrays and structs encoded field by field. Enums are written by
// hand with Marshaler and Unmarshaler.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"reflect"
)

var (
	ErrU16OutOfRange            = errors.New("uint16 out of range")
	ErrU32OutOfRange            = errors.New("uint32 out of range")
	ErrU64OutOfRange            = errors.New("uint64 out of range")
	ErrCompactUintPrefixUnknown = errors.New("unknown prefix for compact uint")
	ErrUnsupportedDestination   = errors.New("unsupported destination type")
	ErrUnsupportedType          = errors.New("unsupported type")
	ErrUnsupportedOption        = errors.New("unsupported option")
	ErrTrailingBytes            = errors.New("trailing bytes after decode")
	errDecodeBool               = errors.New("failed to decode bool")
)

// Marshaler is implemented by types with a hand-written SCALE encoding.
type Marshaler interface {
	MarshalSCALE() ([]byte, error)
}

// Unmarshaler is implemented by types with a hand-written SCALE decoding.
type Unmarshaler interface {
	UnmarshalSCALE(io.Reader) error
}

var (
	marshalerType = reflect.TypeOf((*Marshaler)(nil)).Elem()
	uint128Type   = reflect.TypeOf(Uint128{})
)

// Encode serializes obj.
func Encode(obj interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(obj); err != nil {
		return nil, fmt.Errorf("encoding failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes inp into dst and requires every byte to be consumed.
func Decode(inp []byte, dst interface{}) error {
	r := bytes.NewReader(inp)
	if err := NewDecoder(r).Decode(dst); err != nil {
		return fmt.Errorf("decoding failed: %w", err)
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d", ErrTrailingBytes, r.Len())
	}
	return nil
}

// fields lists the struct fields that take part in the encoding: exported
// and not tagged scale:"-".
func fields(t reflect.Type) []int {
	out := make([]int, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" || f.Tag.Get("scale") == "-" {
			continue
		}
		out = append(out, i)
	}
	return out
}
