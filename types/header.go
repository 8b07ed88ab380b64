package types

import (
	"encoding/json"
	"fmt"

	"github.com/colorfulnotion/flchain/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type Header struct {
	ParentHash     common.Hash    `json:"parentHash"`
	Number         hexutil.Uint64 `json:"number"`
	StateRoot      common.Hash    `json:"stateRoot"`
	ExtrinsicsRoot common.Hash    `json:"extrinsicsRoot"`
	Digest         Digest         `json:"digest"`
}

type Digest struct {
	Logs []hexutil.Bytes `json:"logs"`
}

func (h *Header) String() string {
	jsonByte, _ := json.Marshal(h)
	return string(jsonByte)
}

type Block struct {
	Header     Header          `json:"header"`
	Extrinsics []hexutil.Bytes `json:"extrinsics"`
}

type SignedBlock struct {
	Block          Block           `json:"block"`
	Justifications json.RawMessage `json:"justifications"`
}

// ExtrinsicIndex finds the position of the extrinsic with the given hash.
func (b *Block) ExtrinsicIndex(hash common.Hash) (int, bool) {
	for i, x := range b.Extrinsics {
		if common.Blake2Hash(x) == hash {
			return i, true
		}
	}
	return 0, false
}

type RuntimeVersion struct {
	SpecName           string          `json:"specName"`
	ImplName           string          `json:"implName"`
	AuthoringVersion   uint32          `json:"authoringVersion"`
	SpecVersion        uint32          `json:"specVersion"`
	ImplVersion        uint32          `json:"implVersion"`
	Apis               json.RawMessage `json:"apis,omitempty"`
	TransactionVersion uint32          `json:"transactionVersion"`
	StateVersion       uint8           `json:"stateVersion"`
}

// Transaction pool status names reported by author_submitAndWatchExtrinsic.
const (
	StatusFuture          = "future"
	StatusReady           = "ready"
	StatusBroadcast       = "broadcast"
	StatusInBlock         = "inBlock"
	StatusRetracted       = "retracted"
	StatusFinalityTimeout = "finalityTimeout"
	StatusFinalized       = "finalized"
	StatusUsurped         = "usurped"
	StatusDropped         = "dropped"
	StatusInvalid         = "invalid"
)

// ExtrinsicStatus is one notification of a watched extrinsic. The wire form
// is either a bare string ("ready") or a single-key object
// ({"inBlock": "0x…"}).
type ExtrinsicStatus struct {
	Kind      string
	BlockHash common.Hash
	Peers     []string
}

func (s *ExtrinsicStatus) UnmarshalJSON(data []byte) error {
	var kind string
	if err := json.Unmarshal(data, &kind); err == nil {
		*s = ExtrinsicStatus{Kind: kind}
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("extrinsic status: %w", err)
	}
	if len(obj) != 1 {
		return fmt.Errorf("extrinsic status: expected one key, got %d", len(obj))
	}
	for k, v := range obj {
		*s = ExtrinsicStatus{Kind: k}
		switch k {
		case StatusBroadcast:
			if err := json.Unmarshal(v, &s.Peers); err != nil {
				return fmt.Errorf("extrinsic status %s: %w", k, err)
			}
		case StatusInBlock, StatusRetracted, StatusFinalityTimeout, StatusFinalized, StatusUsurped:
			if err := json.Unmarshal(v, &s.BlockHash); err != nil {
				return fmt.Errorf("extrinsic status %s: %w", k, err)
			}
		}
	}
	return nil
}

func (s ExtrinsicStatus) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case StatusBroadcast:
		return json.Marshal(map[string][]string{s.Kind: s.Peers})
	case StatusInBlock, StatusRetracted, StatusFinalityTimeout, StatusFinalized, StatusUsurped:
		return json.Marshal(map[string]common.Hash{s.Kind: s.BlockHash})
	}
	return json.Marshal(s.Kind)
}

// IsTerminal reports whether the pool will send no further notifications.
func (s ExtrinsicStatus) IsTerminal() bool {
	switch s.Kind {
	case StatusFinalized, StatusFinalityTimeout, StatusUsurped, StatusDropped, StatusInvalid:
		return true
	}
	return false
}
