package common

import (
	"encoding/json"
	"strings"

	ethereumCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	HashLength    = ethereumCommon.HashLength
	AddressLength = ethereumCommon.AddressLength
)

// Hash is a 32-byte H256 value (block hashes, model hashes, storage roots).
type Hash ethereumCommon.Hash

// Address is a 20-byte H160 account identifier, the chain's AccountId20.
type Address ethereumCommon.Address

func (h Hash) Bytes() []byte {
	return ethereumCommon.Hash(h).Bytes()
}

func (h Hash) String() string {
	return ethereumCommon.Hash(h).String()
}

// Hex returns the 0x-prefixed hexadecimal string representation of the hash.
func (h Hash) Hex() string {
	return ethereumCommon.Hash(h).Hex()
}

func BytesToHash(b []byte) Hash {
	return Hash(ethereumCommon.BytesToHash(b))
}

// HexToHash converts a hexadecimal string to a Hash.
func HexToHash(s string) Hash {
	return Hash(ethereumCommon.HexToHash(s))
}

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Hex())
}

// UnmarshalJSON accepts 0x hex; malformed input yields a zero-padded hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	*h = HexToHash(hexStr)
	return nil
}

func Bytes2Hex(d []byte) string {
	return "0x" + ethereumCommon.Bytes2Hex(d)
}

// DecodeHex is the strict variant of Hex2Bytes: the 0x prefix is required and
// every character must be a hex digit.
func DecodeHex(s string) ([]byte, error) {
	return hexutil.Decode(s)
}

// IsHexWithLength reports whether s is 0x followed by exactly n bytes of hex.
func IsHexWithLength(s string, n int) bool {
	if len(s) != 2+2*n || !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	_, err := hexutil.Decode(s)
	return err == nil
}

func (a Address) Bytes() []byte {
	return ethereumCommon.Address(a).Bytes()
}

// String returns the lowercase hex form, the canonical chain representation.
func (a Address) String() string {
	return a.Lower()
}

// Hex returns the EIP-55 checksummed hexadecimal string representation of the address.
func (a Address) Hex() string {
	return ethereumCommon.Address(a).Hex()
}

// Lower returns the 0x-prefixed lowercase hex form.
func (a Address) Lower() string {
	return "0x" + ethereumCommon.Bytes2Hex(a[:])
}

// HexToAddress converts a hexadecimal string to an Address.
func HexToAddress(s string) Address {
	return Address(ethereumCommon.HexToAddress(s))
}

func BytesToAddress(b []byte) Address {
	return Address(ethereumCommon.BytesToAddress(b))
}

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Lower())
}

func (a *Address) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	*a = HexToAddress(hexStr)
	return nil
}
