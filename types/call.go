package types

import (
	"bytes"
	"fmt"

	"github.com/colorfulnotion/flchain/codec"
	"github.com/colorfulnotion/flchain/common"
)

// Call is an encoded runtime call: pallet and call indices followed by
// the SCALE encoding of each argument in declaration order.
type Call struct {
	Pallet      string
	Method      string
	PalletIndex uint8
	CallIndex   uint8
	args        []any
}

func NewCall(pallet, method string, palletIndex, callIndex uint8, args ...any) *Call {
	return &Call{
		Pallet:      pallet,
		Method:      method,
		PalletIndex: palletIndex,
		CallIndex:   callIndex,
		args:        append([]any(nil), args...),
	}
}

// Args returns a copy of the call arguments.
func (c *Call) Args() []any {
	return append([]any(nil), c.args...)
}

func (c *Call) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(c.PalletIndex)
	buf.WriteByte(c.CallIndex)
	for i, arg := range c.args {
		b, err := codec.Encode(arg)
		if err != nil {
			return nil, fmt.Errorf("%s.%s arg %d: %w", c.Pallet, c.Method, i, err)
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

// Hex is the 0x form of Encode, empty when encoding fails.
func (c *Call) Hex() string {
	b, err := c.Encode()
	if err != nil {
		return ""
	}
	return common.Bytes2Hex(b)
}

func (c *Call) String() string {
	return fmt.Sprintf("%s.%s(%v)", c.Pallet, c.Method, c.args)
}
