package signer

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/flchain/common"
	"github.com/colorfulnotion/flchain/types"
)

const alith = "0xf24ff3a9cf04c71dbc94d0b566f7a27b94566cac"

func testPayload(methodLen int) *types.SignerPayload {
	method := make([]byte, methodLen)
	for i := range method {
		method[i] = byte(i)
	}
	return &types.SignerPayload{
		Address:            alith,
		BlockHash:          common.BytesToHash(bytes.Repeat([]byte{0xbb}, 32)),
		BlockNumber:        42,
		Era:                types.NewMortalEra(42, 64),
		GenesisHash:        common.BytesToHash(bytes.Repeat([]byte{0x99}, 32)),
		Method:             method,
		Nonce:              5,
		SpecVersion:        3000,
		TransactionVersion: 2,
		SignedExtensions:   types.SignedExtensions,
		Version:            types.ExtrinsicVersion,
	}
}

// recordingSigner remembers what it was asked to sign.
type recordingSigner struct {
	inner RawSigner
	seen  []*RawPayload
}

func (r *recordingSigner) SignRaw(ctx context.Context, raw *RawPayload) (*SignerResult, error) {
	r.seen = append(r.seen, raw)
	return r.inner.SignRaw(ctx, raw)
}

func connectedDev(t *testing.T) *KeyProvider {
	p := NewDevProvider()
	_, err := p.Request(context.Background(), "eth_requestAccounts")
	require.NoError(t, err)
	return p
}

func TestAdaptShortPayloadSignsRawBytes(t *testing.T) {
	rec := &recordingSigner{inner: RawSignerFor(connectedDev(t), alith)}
	p := testPayload(100)
	encoded, err := p.ExtrinsicPayload()
	require.NoError(t, err)
	require.LessOrEqual(t, len(encoded), types.PayloadHashThreshold)

	res, err := Adapt(rec).SignPayload(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, rec.seen, 1)
	assert.Equal(t, hexutil.Encode(encoded), rec.seen[0].Data)
	assert.Equal(t, "bytes", rec.seen[0].Type)
	assert.Equal(t, 1, res.ID)

	sig, err := hexutil.Decode(res.Signature)
	require.NoError(t, err)
	assert.Len(t, sig, common.SignatureLength, "ethereum scheme carries no tag")
	require.NoError(t, VerifyPayload(p, res.Signature, alith))

	tagged, err := Adapt(rec, WithScheme(types.SchemeEcdsa)).SignPayload(context.Background(), p)
	require.NoError(t, err)
	sig, err = hexutil.Decode(tagged.Signature)
	require.NoError(t, err)
	assert.Len(t, sig, 1+common.SignatureLength, "ecdsa scheme adds the enum tag")
	assert.Equal(t, hexutil.MustDecode(res.Signature), sig[1:], "same deterministic signature")
	require.NoError(t, VerifyPayload(p, tagged.Signature, alith))
}

func TestAdaptLongPayloadSignsDigest(t *testing.T) {
	rec := &recordingSigner{inner: RawSignerFor(connectedDev(t), alith)}
	p := testPayload(300)
	encoded, err := p.ExtrinsicPayload()
	require.NoError(t, err)

	res, err := Adapt(rec, WithScheme(types.SchemeEcdsa)).SignPayload(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, hexutil.Encode(common.ComputeHash(encoded)), rec.seen[0].Data)
	require.NoError(t, VerifyPayload(p, res.Signature, alith))

	err = VerifyPayload(p, res.Signature, "0x3cd0a705a2dc65e5b1e1205896baa2be8a07c6e0")
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	p.Nonce++
	assert.ErrorIs(t, VerifyPayload(p, res.Signature, alith), ErrSignatureMismatch)
}

func TestAdaptRejection(t *testing.T) {
	dev := NewDevProvider().WithApprover(func(method string, _ []any) bool {
		return method != "personal_sign"
	})
	_, err := dev.Request(context.Background(), "eth_requestAccounts")
	require.NoError(t, err)

	_, err = Adapt(RawSignerFor(dev, alith)).SignPayload(context.Background(), testPayload(10))
	assert.ErrorIs(t, err, ErrSigningRejected)
}

type badSigner struct{ sig string }

func (b badSigner) SignRaw(context.Context, *RawPayload) (*SignerResult, error) {
	return &SignerResult{Signature: b.sig}, nil
}

func TestAdaptBadSignature(t *testing.T) {
	_, err := Adapt(badSigner{sig: "0x1234"}).SignPayload(context.Background(), testPayload(10))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSigningRejected))

	_, err = Adapt(badSigner{sig: "zz"}).SignPayload(context.Background(), testPayload(10))
	require.Error(t, err)
}
