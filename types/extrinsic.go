package types

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/colorfulnotion/flchain/codec"
	"github.com/colorfulnotion/flchain/common"
)

const signedBit = 0x80

var ErrUnsignedExtrinsic = errors.New("extrinsic is not signed")

// Extrinsic is a signed transaction for an AccountId20 runtime.
type Extrinsic struct {
	Signer    common.Address
	Signature Signature
	Era       Era
	Nonce     uint64
	Tip       uint64
	// Mode is present when the runtime has the CheckMetadataHash extension.
	Mode *uint8
	Call []byte
}

// NewExtrinsic pairs a signed payload with its signature.
func NewExtrinsic(p *SignerPayload, signer common.Address, sig Signature) *Extrinsic {
	x := &Extrinsic{
		Signer:    signer,
		Signature: sig,
		Era:       p.Era,
		Nonce:     uint64(p.Nonce),
		Tip:       uint64(p.Tip),
		Call:      append([]byte(nil), p.Method...),
	}
	if p.WithMetadataHash {
		mode := p.Mode
		x.Mode = &mode
	}
	return x
}

// Encode returns compact(len) ‖ 0x84 ‖ signer ‖ signature ‖ era ‖
// compact(nonce) ‖ compact(tip) ‖ [mode] ‖ call.
func (x *Extrinsic) Encode() ([]byte, error) {
	var body bytes.Buffer
	body.WriteByte(signedBit | ExtrinsicVersion)
	body.Write(x.Signer.Bytes())
	sig, err := x.Signature.MarshalSCALE()
	if err != nil {
		return nil, err
	}
	body.Write(sig)
	era, err := x.Era.MarshalSCALE()
	if err != nil {
		return nil, err
	}
	body.Write(era)
	body.Write(codec.EncodeCompact(x.Nonce))
	body.Write(codec.EncodeCompact(x.Tip))
	if x.Mode != nil {
		body.WriteByte(*x.Mode)
	}
	body.Write(x.Call)

	out := codec.EncodeCompact(uint64(body.Len()))
	return append(out, body.Bytes()...), nil
}

// Hash is the blake2b-256 of the length-prefixed encoding, the value
// nodes use to identify a transaction.
func (x *Extrinsic) Hash() (common.Hash, error) {
	b, err := x.Encode()
	if err != nil {
		return common.Hash{}, err
	}
	return common.Blake2Hash(b), nil
}

// DecodeExtrinsic parses a length-prefixed signed extrinsic. withMode must
// match the runtime's extension set.
func DecodeExtrinsic(b []byte, scheme SignatureScheme, withMode bool) (*Extrinsic, error) {
	r := bytes.NewReader(b)
	length, err := codec.DecodeCompact(r)
	if err != nil {
		return nil, fmt.Errorf("length prefix: %w", err)
	}
	if length != uint64(r.Len()) {
		return nil, fmt.Errorf("length prefix %d does not match %d remaining bytes", length, r.Len())
	}
	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version&signedBit == 0 {
		return nil, ErrUnsignedExtrinsic
	}
	if version&^signedBit != ExtrinsicVersion {
		return nil, fmt.Errorf("unsupported extrinsic version %d", version&^signedBit)
	}

	x := &Extrinsic{}
	if _, err := io.ReadFull(r, x.Signer[:]); err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	sigLen := common.SignatureLength
	if scheme == SchemeEcdsa {
		sigLen++
	}
	sig := make([]byte, sigLen)
	if _, err := io.ReadFull(r, sig); err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	if x.Signature, err = ParseEncodedSignature(sig); err != nil {
		return nil, err
	}
	if err := x.Era.UnmarshalSCALE(r); err != nil {
		return nil, fmt.Errorf("era: %w", err)
	}
	if x.Nonce, err = codec.DecodeCompact(r); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	if x.Tip, err = codec.DecodeCompact(r); err != nil {
		return nil, fmt.Errorf("tip: %w", err)
	}
	if withMode {
		mode, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("mode: %w", err)
		}
		x.Mode = &mode
	}
	x.Call, _ = io.ReadAll(r)
	return x, nil
}
