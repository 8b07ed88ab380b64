// Package storage derives storage keys and reads the federated learning
// pallet, balances and events from chain state.
package storage

import (
	"fmt"

	"github.com/colorfulnotion/flchain/common"
	"github.com/colorfulnotion/flchain/registry"
)

// PlainKey is twox128(prefix) ‖ twox128(entry).
func PlainKey(prefix, entry string) []byte {
	key := common.Twox128([]byte(prefix))
	return append(key, common.Twox128([]byte(entry))...)
}

// Key derives the key of entry in pallet p. keys are the SCALE encoded map
// keys, one per hasher.
func Key(p *registry.Pallet, entry *registry.StorageEntry, keys ...[]byte) ([]byte, error) {
	if len(keys) != len(entry.Hashers) {
		return nil, fmt.Errorf("%s.%s takes %d keys, have %d", p.Name, entry.Name, len(entry.Hashers), len(keys))
	}
	out := PlainKey(p.StoragePrefix, entry.Name)
	for i, h := range entry.Hashers {
		out = append(out, h.Hash(keys[i])...)
	}
	return out, nil
}
