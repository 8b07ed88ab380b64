package codec

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Uint128 is a little-endian u128, the width Substrate uses for balances.
type Uint128 struct {
	Low  uint64
	High uint64
}

func NewUint128(buf []byte) (Uint128, error) {
	if len(buf) != 16 {
		return Uint128{}, fmt.Errorf("invalid length for Uint128: %d", len(buf))
	}
	return Uint128{
		Low:  binary.LittleEndian.Uint64(buf[:8]),
		High: binary.LittleEndian.Uint64(buf[8:]),
	}, nil
}

// Uint128FromBig truncates v to its low 128 bits.
func Uint128FromBig(v *big.Int) Uint128 {
	u, _ := uint256.FromBig(v)
	if u == nil {
		return Uint128{}
	}
	return Uint128{Low: u[0], High: u[1]}
}

func (u Uint128) Bytes() []byte {
	out := make([]byte, 16)
	binary.LittleEndian.PutUint64(out[:8], u.Low)
	binary.LittleEndian.PutUint64(out[8:], u.High)
	return out
}

func (u Uint128) IsZero() bool {
	return u.Low == 0 && u.High == 0
}

func (u Uint128) Uint256() *uint256.Int {
	return &uint256.Int{u.Low, u.High, 0, 0}
}

func (u Uint128) Big() *big.Int {
	return u.Uint256().ToBig()
}

func (u Uint128) String() string {
	return u.Uint256().Dec()
}
