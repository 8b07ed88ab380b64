// Package address converts wallet-native account identifiers into the
// canonical 20-byte hex form used by an AccountId20 runtime.
package address

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"golang.org/x/crypto/blake2b"
)

var ErrInvalidAddress = errors.New("invalid address")

const (
	// ChainAddressLength is the byte length of an AccountId20.
	ChainAddressLength = 20

	// GenericPrefix is the SS58 network prefix used when none is given.
	GenericPrefix uint16 = 42
)

var ss58Prefix = []byte("SS58PRE")

// IsCanonical reports whether s is 0x followed by exactly 40 hex characters.
func IsCanonical(s string) bool {
	if len(s) != 2+2*ChainAddressLength || !strings.HasPrefix(s, "0x") {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

// ToChainAddress returns canonical input unchanged and otherwise decodes it
// as SS58, keeping the first 20 bytes of the account payload.
func ToChainAddress(input string) (string, error) {
	if IsCanonical(input) {
		return input, nil
	}
	if strings.HasPrefix(input, "0x") {
		return "", fmt.Errorf("%w: %q is not 20-byte hex", ErrInvalidAddress, input)
	}
	_, payload, err := DecodeSS58(input)
	if err != nil {
		return "", err
	}
	if len(payload) < ChainAddressLength {
		return "", fmt.Errorf("%w: payload of %d bytes is shorter than an account id", ErrInvalidAddress, len(payload))
	}
	return "0x" + hex.EncodeToString(payload[:ChainAddressLength]), nil
}

// Normalize is ToChainAddress followed by lowercasing.
func Normalize(input string) (string, error) {
	out, err := ToChainAddress(input)
	if err != nil {
		return "", err
	}
	return strings.ToLower(out), nil
}

// MustChainAddress panics when input is not convertible.
func MustChainAddress(input string) string {
	out, err := ToChainAddress(input)
	if err != nil {
		panic(err)
	}
	return out
}

// DecodeSS58 returns the network prefix and account payload of an SS58 string.
func DecodeSS58(s string) (uint16, []byte, error) {
	if s == "" {
		return 0, nil, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	decoded := base58.Decode(s)
	if len(decoded) == 0 {
		return 0, nil, fmt.Errorf("%w: %q is not base58", ErrInvalidAddress, s)
	}
	if decoded[0]&0x80 != 0 {
		return 0, nil, fmt.Errorf("%w: invalid ss58 prefix byte 0x%02x", ErrInvalidAddress, decoded[0])
	}

	var prefix uint16
	prefixLen := 1
	if decoded[0]&0x40 == 0 {
		prefix = uint16(decoded[0])
	} else {
		if len(decoded) < 2 {
			return 0, nil, fmt.Errorf("%w: truncated prefix", ErrInvalidAddress)
		}
		prefixLen = 2
		prefix = uint16((decoded[0]&0x3f)<<2) | uint16(decoded[1]>>6) | uint16(decoded[1]&0x3f)<<8
	}
	if prefix == 46 || prefix == 47 {
		return 0, nil, fmt.Errorf("%w: reserved prefix %d", ErrInvalidAddress, prefix)
	}

	checksumLen, ok := checksumLength(len(decoded), prefixLen)
	if !ok {
		return 0, nil, fmt.Errorf("%w: unexpected length %d", ErrInvalidAddress, len(decoded))
	}
	body := decoded[:len(decoded)-checksumLen]
	sum := ss58Checksum(body)
	if string(sum[:checksumLen]) != string(decoded[len(decoded)-checksumLen:]) {
		return 0, nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	payload := make([]byte, len(body)-prefixLen)
	copy(payload, body[prefixLen:])
	return prefix, payload, nil
}

// EncodeSS58 encodes payload under the given network prefix (0..16383).
func EncodeSS58(payload []byte, prefix uint16) (string, error) {
	if prefix > 0x3fff || prefix == 46 || prefix == 47 {
		return "", fmt.Errorf("%w: unsupported prefix %d", ErrInvalidAddress, prefix)
	}
	var body []byte
	if prefix < 64 {
		body = append(body, byte(prefix))
	} else {
		body = append(body,
			byte((prefix&0xfc)>>2)|0x40,
			byte(prefix>>8)|byte(prefix&0x03)<<6,
		)
	}
	var checksumLen int
	switch len(payload) {
	case 1, 2, 4, 8:
		checksumLen = 1
	case 32, 33:
		checksumLen = 2
	default:
		return "", fmt.Errorf("%w: cannot encode %d-byte payload", ErrInvalidAddress, len(payload))
	}
	body = append(body, payload...)
	sum := ss58Checksum(body)
	return base58.Encode(append(body, sum[:checksumLen]...)), nil
}

// checksumLength maps a full decoded length to its checksum width.
func checksumLength(decodedLen, prefixLen int) (int, bool) {
	switch decodedLen {
	case 3, 4, 6, 10, 35, 36, 37, 38:
	default:
		return 0, false
	}
	if decodedLen == 34+prefixLen || decodedLen == 35+prefixLen {
		return 2, true
	}
	return 1, true
}

func ss58Checksum(data []byte) [64]byte {
	return blake2b.Sum512(append(append([]byte{}, ss58Prefix...), data...))
}
