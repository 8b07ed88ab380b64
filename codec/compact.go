package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
)

// Compact is an unsigned integer that always uses the compact encoding,
// for fields such as nonces, tips and weights.
type Compact uint64

func (c Compact) MarshalSCALE() ([]byte, error) {
	return EncodeCompact(uint64(c)), nil
}

func (c *Compact) UnmarshalSCALE(r io.Reader) error {
	v, err := DecodeCompact(r)
	if err != nil {
		return err
	}
	*c = Compact(v)
	return nil
}

// EncodeCompact returns the compact encoding of v. Values below 2^6, 2^14
// and 2^30 use the 1, 2 and 4 byte modes; anything larger uses the
// big-integer mode with the minimal number of little-endian bytes.
func EncodeCompact(v uint64) []byte {
	switch {
	case v < 1<<6:
		return []byte{byte(v) << 2}
	case v < 1<<14:
		out := make([]byte, 2)
		binary.LittleEndian.PutUint16(out, uint16(v<<2)|0b01)
		return out
	case v < 1<<30:
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(v<<2)|0b10)
		return out
	default:
		numBytes := (bits.Len64(v) + 7) / 8
		out := make([]byte, 1+numBytes)
		out[0] = byte(numBytes-4)<<2 | 0b11
		for i := 0; i < numBytes; i++ {
			out[1+i] = byte(v >> (8 * i))
		}
		return out
	}
}

// DecodeCompact reads one compact integer from r and rejects
// non-canonical encodings.
func DecodeCompact(r io.Reader) (uint64, error) {
	var prefix [1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, fmt.Errorf("reading byte: %w", err)
	}
	switch prefix[0] & 0b11 {
	case 0:
		return uint64(prefix[0] >> 2), nil
	case 1:
		var next [1]byte
		if _, err := io.ReadFull(r, next[:]); err != nil {
			return 0, fmt.Errorf("reading byte: %w", err)
		}
		value := uint64(binary.LittleEndian.Uint16([]byte{prefix[0], next[0]}) >> 2)
		if value < 1<<6 {
			return 0, fmt.Errorf("%w: %d", ErrU16OutOfRange, value)
		}
		return value, nil
	case 2:
		buf := make([]byte, 4)
		buf[0] = prefix[0]
		if _, err := io.ReadFull(r, buf[1:]); err != nil {
			return 0, fmt.Errorf("reading bytes: %w", err)
		}
		value := uint64(binary.LittleEndian.Uint32(buf) >> 2)
		if value < 1<<14 {
			return 0, fmt.Errorf("%w: %d", ErrU32OutOfRange, value)
		}
		return value, nil
	default:
		byteLen := int(prefix[0]>>2) + 4
		if byteLen > 8 {
			return 0, fmt.Errorf("%w: %d", ErrCompactUintPrefixUnknown, prefix[0])
		}
		buf := make([]byte, byteLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, fmt.Errorf("reading bytes: %w", err)
		}
		var value uint64
		for i := byteLen - 1; i >= 0; i-- {
			value = value<<8 | uint64(buf[i])
		}
		if byteLen == 4 && value < 1<<30 {
			return 0, fmt.Errorf("%w: %d", ErrU32OutOfRange, value)
		}
		if byteLen > 4 && buf[byteLen-1] == 0 {
			return 0, fmt.Errorf("%w: %d", ErrU64OutOfRange, value)
		}
		return value, nil
	}
}
