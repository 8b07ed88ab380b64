package call

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/flchain/address"
	"github.com/colorfulnotion/flchain/codec"
	"github.com/colorfulnotion/flchain/common"
	"github.com/colorfulnotion/flchain/registry"
)

var modelHash = "0x" + strings.Repeat("ab", 32)

func TestBuildSubmitLocalModel(t *testing.T) {
	reg := registry.MustDefault()
	c, err := Build(reg, SubmitLocalModel, SubmitLocalModelArgs{ModelHash: modelHash, Accuracy: 8800})
	require.NoError(t, err)

	assert.Equal(t, "FederatedLearning", c.Pallet)
	assert.Equal(t, "submit_local_model", c.Method)
	assert.Equal(t, uint8(8), c.PalletIndex)
	assert.Equal(t, uint8(0), c.CallIndex)

	args := c.Args()
	require.Len(t, args, 4)
	assert.Equal(t, common.HexToHash(modelHash), args[0])
	assert.Equal(t, uint32(8800), args[1])
	assert.Equal(t, []byte(""), args[2])
	assert.Equal(t, []byte(""), args[3])

	args[1] = uint32(1)
	assert.Equal(t, uint32(8800), c.Args()[1], "args are copied out")

	encoded, err := c.Encode()
	require.NoError(t, err)
	want := []byte{8, 0}
	want = append(want, bytes.Repeat([]byte{0xab}, 32)...)
	want = append(want, 0x60, 0x22, 0x00, 0x00, 0x00, 0x00)
	assert.Equal(t, want, encoded)
}

func TestBuildValidation(t *testing.T) {
	reg := registry.MustDefault()
	cases := []struct {
		name   string
		method Method
		args   Args
	}{
		{"short hash", SubmitLocalModel, SubmitLocalModelArgs{ModelHash: "0x1234", Accuracy: 1}},
		{"hash without prefix", SubmitLocalModel, SubmitLocalModelArgs{ModelHash: strings.Repeat("ab", 32)}},
		{"accuracy too high", SubmitLocalModel, SubmitLocalModelArgs{ModelHash: modelHash, Accuracy: 10001}},
		{"negative accuracy", SubmitLocalModel, SubmitLocalModelArgs{ModelHash: modelHash, Accuracy: -1}},
		{"negative weight", UpdateGlobalModel, UpdateGlobalModelArgs{Hash: modelHash, WeightChange: -5}},
		{"weight overflow", UpdateGlobalModel, UpdateGlobalModelArgs{Hash: modelHash, WeightChange: 1 << 32}},
		{"empty institution", ForceAuthorize, ForceAuthorizeArgs{Account: "0xf24ff3a9cf04c71dbc94d0b566f7a27b94566cac", Institution: "  "}},
		{"bad account", ForceUnauthorize, ForceUnauthorizeArgs{Account: "not-an-address"}},
		{"mismatched args", ForceUnauthorize, ForceAuthorizeArgs{}},
		{"nil args", ForceUnauthorize, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(reg, tc.method, tc.args)
			assert.ErrorIs(t, err, ErrInvalidArguments)
		})
	}

	_, err := Build(reg, ForceUnauthorize, ForceUnauthorizeArgs{Account: "0x12"})
	assert.ErrorIs(t, err, address.ErrInvalidAddress)
}

func TestBuildAcceptsBounds(t *testing.T) {
	reg := registry.MustDefault()
	_, err := Build(reg, SubmitLocalModel, SubmitLocalModelArgs{ModelHash: modelHash, Accuracy: 0})
	require.NoError(t, err)
	_, err = Build(reg, SubmitLocalModel, SubmitLocalModelArgs{ModelHash: modelHash, Accuracy: MaxAccuracy})
	require.NoError(t, err)

	c, err := Build(reg, UpdateGlobalModel, UpdateGlobalModelArgs{Hash: modelHash, CID: "bafy", WeightChange: 1<<32 - 1})
	require.NoError(t, err)
	assert.Equal(t, uint8(1), c.CallIndex)
	assert.Equal(t, uint32(1<<32-1), c.Args()[2])
	assert.Equal(t, []byte("bafy"), c.Args()[1])
}

func TestForceAuthorizeWalletNativeTarget(t *testing.T) {
	target := common.HexToAddress("0x3cd0a705a2dc65e5b1e1205896baa2be8a07c6e0")
	ss58, err := address.EncodeSS58(append(target.Bytes(), make([]byte, 12)...), 1284)
	require.NoError(t, err)

	c, err := Build(registry.MustDefault(), ForceAuthorize, ForceAuthorizeArgs{Account: ss58, Institution: " Baliola Lab "})
	require.NoError(t, err)
	assert.Equal(t, uint8(2), c.CallIndex)
	assert.Equal(t, target, c.Args()[0])
	assert.Equal(t, []byte("Baliola Lab"), c.Args()[1])

	encoded, err := c.Encode()
	require.NoError(t, err)
	assert.Equal(t, target.Bytes(), encoded[2:22])
	assert.Equal(t, codec.EncodeCompact(11), encoded[22:23])

	broken := ss58[:len(ss58)-1] + "1"
	if broken == ss58 {
		broken = ss58[:len(ss58)-1] + "2"
	}
	_, err = Build(registry.MustDefault(), ForceAuthorize, ForceAuthorizeArgs{Account: broken, Institution: "x"})
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("submit_local_model")
	require.NoError(t, err)
	assert.Equal(t, SubmitLocalModel, m)
	m, err = ParseMethod("force-unauthorize")
	require.NoError(t, err)
	assert.Equal(t, "force_unauthorize", m.RuntimeName())
	_, err = ParseMethod("transfer")
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestBuilderUnknownPallet(t *testing.T) {
	_, err := NewBuilder(registry.MustDefault(), "Missing").Build(ForceUnauthorize, ForceUnauthorizeArgs{Account: "0xf24ff3a9cf04c71dbc94d0b566f7a27b94566cac"})
	assert.ErrorIs(t, err, registry.ErrUnknownPallet)
}
