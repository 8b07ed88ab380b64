package signer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/colorfulnotion/flchain/address"
	"github.com/colorfulnotion/flchain/common"
	"github.com/colorfulnotion/flchain/log"
	"github.com/colorfulnotion/flchain/types"
)

var ErrSignatureMismatch = errors.New("signature does not match sender")

type adapterConfig struct {
	scheme types.SignatureScheme
}

type AdapterOption func(*adapterConfig)

// WithScheme picks how the 65-byte signature is wrapped; the default is
// types.SchemeEthereum.
func WithScheme(s types.SignatureScheme) AdapterOption {
	return func(c *adapterConfig) { c.scheme = s }
}

type adapter struct {
	raw    RawSigner
	scheme types.SignatureScheme
}

// Adapt turns a raw signer into a payload signer. The payload is SCALE
// encoded, replaced by its blake2b-256 digest when longer than
// types.PayloadHashThreshold, and handed to the raw signer as hex bytes.
func Adapt(raw RawSigner, opts ...AdapterOption) PayloadSigner {
	cfg := adapterConfig{scheme: types.SchemeEthereum}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &adapter{raw: raw, scheme: cfg.scheme}
}

func (a *adapter) SignPayload(ctx context.Context, p *types.SignerPayload) (*SignerResult, error) {
	encoded, err := p.ExtrinsicPayload()
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	msg := types.SigningMessage(encoded)
	log.Debug(log.SignerModule, "signing payload", "address", p.Address, "payloadLen", len(encoded), "hashed", len(msg) != len(encoded))

	res, err := a.raw.SignRaw(ctx, &RawPayload{
		Address: p.Address,
		Data:    hexutil.Encode(msg),
		Type:    "bytes",
	})
	if err != nil {
		if errors.Is(err, ErrUserRejected) {
			return nil, fmt.Errorf("%w: %v", ErrSigningRejected, err)
		}
		return nil, err
	}
	raw, err := hexutil.Decode(res.Signature)
	if err != nil {
		return nil, fmt.Errorf("signature is not hex: %v", err)
	}
	sig, err := types.NewSignature(a.scheme, raw)
	if err != nil {
		return nil, err
	}
	enc, err := sig.Encoded()
	if err != nil {
		return nil, err
	}
	id := res.ID
	if id == 0 {
		id = 1
	}
	return &SignerResult{ID: id, Signature: enc}, nil
}

// VerifyPayload checks that signature, in its SCALE encoded form, was made
// by chainAddr over payload under the same rules Adapt signs with.
func VerifyPayload(p *types.SignerPayload, signature string, chainAddr string) error {
	encoded, err := p.ExtrinsicPayload()
	if err != nil {
		return err
	}
	b, err := hexutil.Decode(signature)
	if err != nil {
		return fmt.Errorf("signature is not hex: %v", err)
	}
	sig, err := types.ParseEncodedSignature(b)
	if err != nil {
		return err
	}
	signer, err := common.RecoverPersonal(types.SigningMessage(encoded), sig.Raw())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	want, err := address.Normalize(chainAddr)
	if err != nil {
		return err
	}
	if signer.Lower() != want {
		return fmt.Errorf("%w: recovered %s, want %s", ErrSignatureMismatch, signer.Lower(), want)
	}
	return nil
}
