package signer

import (
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/colorfulnotion/flchain/common"
)

// DevKey is a well-known development account.
type DevKey struct {
	Name       string
	PrivateKey string
}

// DevKeys are the Moonbeam style development accounts, funded at genesis on
// dev and local chains.
var DevKeys = []DevKey{
	{Name: "ALITH", PrivateKey: "0x5fb92d6e98884f76de468fa3f6278f8807c48bebc13595d45af5bdc4da702133"},
	{Name: "BALTATHAR", PrivateKey: "0x8075991ce870b93a8870eca0c0f91913d12f47948ca0fd25b49c6fa7cdbeee8b"},
	{Name: "CHARLETH", PrivateKey: "0x0b6e18cafb6ed99687ec547bd28139cafdd2bffe70e6b688025de6b445aa5c5b"},
	{Name: "DOROTHY", PrivateKey: "0x39539ab1876910bbf3a223d84a29e28f1cb4e2e456503e7e91ed39b2e7223d68"},
	{Name: "ETHAN", PrivateKey: "0x7dce9bc8babb68fec1409be38c8e1a52650206a7ed90ff956ae8a6d15eeaaef4"},
	{Name: "FAITH", PrivateKey: "0xb9d2ea9a615f3165812e8d44de0d24da9bbd164b65c4f0573e1ce2c8dbd9c8df"},
}

// Address is the lowercase chain address of the key.
func (k DevKey) Address() string {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(k.PrivateKey, "0x"))
	if err != nil {
		panic(err)
	}
	return common.PubkeyToAddress(key.PublicKey).Lower()
}

// NewDevProvider returns a KeyProvider holding every dev key.
func NewDevProvider() *KeyProvider {
	p := NewKeyProvider()
	for _, k := range DevKeys {
		if _, err := p.AddHexKey(k.PrivateKey, k.Name); err != nil {
			panic(err)
		}
	}
	return p
}
