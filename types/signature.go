package types

import (
	"fmt"

	"github.com/colorfulnotion/flchain/common"
)

// SignatureScheme selects how a 65-byte secp256k1 signature is carried in
// an extrinsic.
type SignatureScheme string

const (
	// SchemeEcdsa wraps the signature as MultiSignature::Ecdsa (tag 0x02).
	SchemeEcdsa SignatureScheme = "ecdsa"
	// SchemeEthereum carries the 65 bytes unwrapped (EthereumSignature).
	SchemeEthereum SignatureScheme = "ethereum"

	ecdsaVariant = 0x02
)

func ParseSignatureScheme(s string) (SignatureScheme, error) {
	switch SignatureScheme(s) {
	case SchemeEcdsa, SchemeEthereum:
		return SignatureScheme(s), nil
	case "":
		return SchemeEthereum, nil
	}
	return "", fmt.Errorf("unknown signature scheme %q", s)
}

// Signature is a recoverable secp256k1 signature (r ‖ s ‖ v).
type Signature struct {
	Scheme SignatureScheme
	Bytes  [common.SignatureLength]byte
}

// NewSignature copies a 65-byte signature.
func NewSignature(scheme SignatureScheme, sig []byte) (Signature, error) {
	if len(sig) != common.SignatureLength {
		return Signature{}, fmt.Errorf("signature must be %d bytes, got %d", common.SignatureLength, len(sig))
	}
	s := Signature{Scheme: scheme}
	copy(s.Bytes[:], sig)
	return s, nil
}

func (s Signature) MarshalSCALE() ([]byte, error) {
	switch s.Scheme {
	case SchemeEcdsa:
		return append([]byte{ecdsaVariant}, s.Bytes[:]...), nil
	case SchemeEthereum, "":
		return append([]byte{}, s.Bytes[:]...), nil
	}
	return nil, fmt.Errorf("unknown signature scheme %q", s.Scheme)
}

// Encoded is the SCALE form as 0x hex.
func (s Signature) Encoded() (string, error) {
	b, err := s.MarshalSCALE()
	if err != nil {
		return "", err
	}
	return common.Bytes2Hex(b), nil
}

// Raw returns the 65 signature bytes without any scheme tag.
func (s Signature) Raw() []byte {
	return append([]byte{}, s.Bytes[:]...)
}

// ParseEncodedSignature accepts the SCALE form of either scheme.
func ParseEncodedSignature(b []byte) (Signature, error) {
	switch {
	case len(b) == common.SignatureLength+1 && b[0] == ecdsaVariant:
		return NewSignature(SchemeEcdsa, b[1:])
	case len(b) == common.SignatureLength:
		return NewSignature(SchemeEthereum, b)
	}
	return Signature{}, fmt.Errorf("unrecognized signature encoding of %d bytes", len(b))
}
