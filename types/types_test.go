package types

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/colorfulnotion/flchain/codec"
	"github.com/colorfulnotion/flchain/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMortalEra(t *testing.T) {
	e := NewMortalEra(42, 64)
	assert.Equal(t, Era{Period: 64, Phase: 42}, e)
	assert.Equal(t, []byte{0xa5, 0x02}, e.Bytes())

	e = NewMortalEra(20000, 32768)
	assert.Equal(t, Era{Period: 32768, Phase: 20000}, e)
	assert.Equal(t, []byte{0x4e, 0x9c}, e.Bytes())

	e = NewMortalEra(100, 50)
	assert.Equal(t, uint64(64), e.Period)
	assert.Equal(t, uint64(36), e.Phase)
	assert.Equal(t, uint64(100), e.Birth(100))
	assert.Equal(t, uint64(164), e.Death(100))

	assert.Equal(t, uint64(4), NewMortalEra(9, 1).Period)
	assert.Equal(t, uint64(1<<16), NewMortalEra(9, 1<<20).Period)
}

func TestEraRoundTrip(t *testing.T) {
	for _, e := range []Era{ImmortalEra, NewMortalEra(42, 64), NewMortalEra(20000, 32768), NewMortalEra(7, 4)} {
		var out Era
		require.NoError(t, out.UnmarshalSCALE(bytes.NewReader(e.Bytes())))
		assert.Equal(t, e, out)

		j, err := json.Marshal(e)
		require.NoError(t, err)
		var fromJSON Era
		require.NoError(t, json.Unmarshal(j, &fromJSON))
		assert.Equal(t, e, fromJSON)
	}
	assert.Equal(t, []byte{0x00}, ImmortalEra.Bytes())
}

func testPayload(methodLen int) *SignerPayload {
	method := make([]byte, methodLen)
	for i := range method {
		method[i] = byte(i)
	}
	return &SignerPayload{
		Address:            "0xf24ff3a9cf04c71dbc94d0b566f7a27b94566cac",
		BlockHash:          common.BytesToHash(bytes.Repeat([]byte{0xbb}, 32)),
		BlockNumber:        42,
		Era:                NewMortalEra(42, 64),
		GenesisHash:        common.BytesToHash(bytes.Repeat([]byte{0x99}, 32)),
		Method:             method,
		Nonce:              5,
		SpecVersion:        3000,
		TransactionVersion: 2,
		SignedExtensions:   SignedExtensions,
		Version:            ExtrinsicVersion,
	}
}

func TestExtrinsicPayloadLayout(t *testing.T) {
	p := testPayload(3)
	encoded, err := p.ExtrinsicPayload()
	require.NoError(t, err)

	want := []byte{0x00, 0x01, 0x02, 0xa5, 0x02, 0x14, 0x00}
	want = append(want, 0xb8, 0x0b, 0x00, 0x00)
	want = append(want, 0x02, 0x00, 0x00, 0x00)
	want = append(want, bytes.Repeat([]byte{0x99}, 32)...)
	want = append(want, bytes.Repeat([]byte{0xbb}, 32)...)
	assert.Equal(t, want, encoded)

	p.WithMetadataHash = true
	encoded, err = p.ExtrinsicPayload()
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), encoded[7], "mode after tip")
	assert.Equal(t, len(want)+2, len(encoded))
	assert.Equal(t, byte(0x00), encoded[len(encoded)-1], "Option::None metadata hash")
}

func TestSigningMessageThreshold(t *testing.T) {
	atThreshold, err := testPayload(PayloadHashThreshold - 76).ExtrinsicPayload()
	require.NoError(t, err)
	require.Len(t, atThreshold, PayloadHashThreshold)
	assert.Equal(t, atThreshold, SigningMessage(atThreshold))

	over, err := testPayload(PayloadHashThreshold - 75).ExtrinsicPayload()
	require.NoError(t, err)
	require.Len(t, over, PayloadHashThreshold+1)
	assert.Equal(t, common.ComputeHash(over), SigningMessage(over))
	assert.Len(t, SigningMessage(over), 32)
}

func TestExtrinsicEncodeDecode(t *testing.T) {
	p := testPayload(4)
	signer := common.HexToAddress(p.Address)
	raw := bytes.Repeat([]byte{0x11}, common.SignatureLength)

	for _, scheme := range []SignatureScheme{SchemeEthereum, SchemeEcdsa} {
		sig, err := NewSignature(scheme, raw)
		require.NoError(t, err)
		x := NewExtrinsic(p, signer, sig)
		encoded, err := x.Encode()
		require.NoError(t, err)

		length, err := codec.DecodeCompact(bytes.NewReader(encoded))
		require.NoError(t, err)
		prefixLen := len(codec.EncodeCompact(length))
		assert.Equal(t, int(length), len(encoded)-prefixLen)
		assert.Equal(t, byte(0x84), encoded[prefixLen])
		assert.Equal(t, signer.Bytes(), encoded[prefixLen+1:prefixLen+21])
		if scheme == SchemeEcdsa {
			assert.Equal(t, byte(0x02), encoded[prefixLen+21])
		}

		decoded, err := DecodeExtrinsic(encoded, scheme, false)
		require.NoError(t, err)
		assert.Equal(t, x, decoded)

		h, err := x.Hash()
		require.NoError(t, err)
		assert.Equal(t, common.Blake2Hash(encoded), h)
	}
}

func TestExtrinsicWithMode(t *testing.T) {
	p := testPayload(2)
	p.WithMetadataHash = true
	sig, _ := NewSignature(SchemeEthereum, make([]byte, 65))
	x := NewExtrinsic(p, common.Address{}, sig)
	encoded, err := x.Encode()
	require.NoError(t, err)

	decoded, err := DecodeExtrinsic(encoded, SchemeEthereum, true)
	require.NoError(t, err)
	require.NotNil(t, decoded.Mode)
	assert.Equal(t, []byte{0x00, 0x01}, decoded.Call)
}

func TestNewSignatureLength(t *testing.T) {
	_, err := NewSignature(SchemeEthereum, make([]byte, 64))
	assert.Error(t, err)

	_, err = ParseSignatureScheme("sr25519")
	assert.Error(t, err)
	s, err := ParseSignatureScheme("")
	require.NoError(t, err)
	assert.Equal(t, SchemeEthereum, s)
}

func TestExtrinsicStatusJSON(t *testing.T) {
	var s ExtrinsicStatus
	require.NoError(t, json.Unmarshal([]byte(`"ready"`), &s))
	assert.Equal(t, StatusReady, s.Kind)
	assert.False(t, s.IsTerminal())

	hash := "0xabcd" + string(bytes.Repeat([]byte("00"), 30))
	require.NoError(t, json.Unmarshal([]byte(`{"inBlock":"`+hash+`"}`), &s))
	assert.Equal(t, StatusInBlock, s.Kind)
	assert.Equal(t, hash, s.BlockHash.Hex())

	require.NoError(t, json.Unmarshal([]byte(`{"broadcast":["peer1"]}`), &s))
	assert.Equal(t, []string{"peer1"}, s.Peers)

	require.NoError(t, json.Unmarshal([]byte(`{"finalized":"`+hash+`"}`), &s))
	assert.True(t, s.IsTerminal())

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"finalized":"`+hash+`"}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"a":1,"b":2}`), &s))
}

func TestDispatchErrorDecode(t *testing.T) {
	var e DispatchError
	require.NoError(t, e.UnmarshalSCALE(bytes.NewReader([]byte{3, 51, 2, 0, 0, 0})))
	assert.True(t, e.IsModule())
	assert.Equal(t, uint8(51), e.Module.Index)
	assert.Equal(t, byte(2), e.Module.Error[0])

	require.NoError(t, e.UnmarshalSCALE(bytes.NewReader([]byte{2})))
	assert.Equal(t, "BadOrigin", e.Name())

	require.NoError(t, e.UnmarshalSCALE(bytes.NewReader([]byte{7, 0})))
	assert.Equal(t, "Token.FundsUnavailable", e.Name())

	require.NoError(t, e.UnmarshalSCALE(bytes.NewReader([]byte{8, 1})))
	assert.Equal(t, "Arithmetic.Overflow", e.Name())

	assert.Error(t, e.UnmarshalSCALE(bytes.NewReader([]byte{40})))

	encoded, err := codec.Encode(DispatchError{Kind: DispatchModule, Module: ModuleErrorIndex{Index: 51, Error: [4]byte{1}}})
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 51, 1, 0, 0, 0}, encoded)

	fromName, err := DispatchErrorFromVariant("Arithmetic", "DivisionByZero", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "Arithmetic.DivisionByZero", fromName.Name())
}

func TestPhaseAndEventFilter(t *testing.T) {
	var p Phase
	require.NoError(t, p.UnmarshalSCALE(bytes.NewReader([]byte{0, 2, 0, 0, 0})))
	assert.Equal(t, "ApplyExtrinsic(2)", p.String())

	records := []EventRecord{
		{Phase: Phase{IsApplyExtrinsic: true, ExtrinsicIndex: 1}, Section: "system", Method: "ExtrinsicSuccess"},
		{Phase: Phase{IsApplyExtrinsic: true, ExtrinsicIndex: 2}, Section: "federatedLearning", Method: "LocalModelSubmitted"},
		{Phase: Phase{IsApplyExtrinsic: true, ExtrinsicIndex: 2}, Section: "system", Method: "ExtrinsicSuccess"},
		{Phase: Phase{IsFinalization: true}, Section: "system", Method: "Remarked"},
	}
	got := EventsForExtrinsic(records, 2)
	require.Len(t, got, 2)
	assert.True(t, got[1].Is("System", "ExtrinsicSuccess"))
	assert.Equal(t, "federatedLearning.LocalModelSubmitted", got[0].Name())
}

func TestModelRecordCodec(t *testing.T) {
	rec := ModelRecord{
		Who:         common.HexToAddress("0xf24ff3a9cf04c71dbc94d0b566f7a27b94566cac"),
		ModelHash:   common.HashString("model"),
		Institution: []byte("UKDW"),
		AtBlock:     120,
		Accuracy:    9512,
	}
	encoded, err := codec.Encode(rec)
	require.NoError(t, err)
	assert.Len(t, encoded, 20+32+1+4+4+4+1+1)

	var out ModelRecord
	require.NoError(t, codec.Decode(encoded, &out))
	assert.Equal(t, rec.Who, out.Who)
	assert.Equal(t, "UKDW", string(out.Institution))
	assert.Equal(t, "95.12%", out.AccuracyPercent())

	j, err := json.Marshal(IndexedRecord{ID: 3, ModelRecord: out})
	require.NoError(t, err)
	assert.Contains(t, string(j), `"id":3,"who":"0xf24ff3a9cf04c71dbc94d0b566f7a27b94566cac"`)
}
