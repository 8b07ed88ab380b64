package types

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math/bits"

	"github.com/colorfulnotion/flchain/common"
)

const (
	// DefaultEraPeriod is the number of blocks a signed transaction stays valid.
	DefaultEraPeriod uint64 = 64

	minEraPeriod uint64 = 4
	maxEraPeriod uint64 = 1 << 16
)

// Era is the mortality window of a transaction. An immortal era is valid
// forever; a mortal one for Period blocks starting at the block whose
// number is congruent to Phase.
type Era struct {
	IsImmortal bool
	Period     uint64
	Phase      uint64
}

var ImmortalEra = Era{IsImmortal: true}

// NewMortalEra rounds period up to a power of two in [4, 65536] and
// quantizes the phase of current within it.
func NewMortalEra(current, period uint64) Era {
	if period <= minEraPeriod {
		period = minEraPeriod
	} else if period >= maxEraPeriod {
		period = maxEraPeriod
	} else {
		period = 1 << bits.Len64(period-1)
	}
	phase := current % period
	quantize := max(period>>12, 1)
	return Era{Period: period, Phase: phase / quantize * quantize}
}

// Birth is the first block in which the transaction is valid.
func (e Era) Birth(current uint64) uint64 {
	if e.IsImmortal {
		return 0
	}
	return (max(current, e.Phase)-e.Phase)/e.Period*e.Period + e.Phase
}

// Death is the first block in which the transaction is no longer valid.
func (e Era) Death(current uint64) uint64 {
	if e.IsImmortal {
		return ^uint64(0)
	}
	return e.Birth(current) + e.Period
}

func (e Era) MarshalSCALE() ([]byte, error) {
	if e.IsImmortal {
		return []byte{0x00}, nil
	}
	if e.Period < minEraPeriod || e.Period > maxEraPeriod || e.Period&(e.Period-1) != 0 {
		return nil, fmt.Errorf("invalid era period %d", e.Period)
	}
	quantize := max(e.Period>>12, 1)
	encoded := uint16(min(max(bits.TrailingZeros64(e.Period)-1, 1), 15)) | uint16(e.Phase/quantize)<<4
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, encoded)
	return out, nil
}

func (e *Era) UnmarshalSCALE(r io.Reader) error {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return err
	}
	if first[0] == 0 {
		*e = ImmortalEra
		return nil
	}
	var second [1]byte
	if _, err := io.ReadFull(r, second[:]); err != nil {
		return err
	}
	encoded := uint64(first[0]) | uint64(second[0])<<8
	period := uint64(2) << (encoded % 16)
	quantize := max(period>>12, 1)
	phase := (encoded >> 4) * quantize
	if period < minEraPeriod || phase >= period {
		return fmt.Errorf("invalid mortal era 0x%04x", encoded)
	}
	*e = Era{Period: period, Phase: phase}
	return nil
}

// Bytes is the SCALE form; invalid eras encode as immortal.
func (e Era) Bytes() []byte {
	b, err := e.MarshalSCALE()
	if err != nil {
		return []byte{0x00}
	}
	return b
}

// MarshalJSON uses the hex SCALE form, as wallet extensions expect.
func (e Era) MarshalJSON() ([]byte, error) {
	b, err := e.MarshalSCALE()
	if err != nil {
		return nil, err
	}
	return json.Marshal(common.Bytes2Hex(b))
}

func (e *Era) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := common.DecodeHex(s)
	if err != nil {
		return err
	}
	return e.UnmarshalSCALE(bytesReader(b))
}

func (e Era) String() string {
	if e.IsImmortal {
		return "immortal"
	}
	return fmt.Sprintf("mortal(period=%d, phase=%d)", e.Period, e.Phase)
}
