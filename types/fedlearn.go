package types

import (
	"encoding/json"
	"fmt"

	"github.com/colorfulnotion/flchain/codec"
	"github.com/colorfulnotion/flchain/common"
)

// ModelRecord is an entry of the FederatedLearning.Records map: one
// submitted local model.
type ModelRecord struct {
	Who         common.Address `json:"who"`
	ModelHash   common.Hash    `json:"modelHash"`
	Institution []byte         `json:"institution"`
	AtBlock     uint32         `json:"atBlock"`
	Accuracy    uint32         `json:"accuracy"`
	IpfsCid     []byte         `json:"ipfsCid"`
	Note        []byte         `json:"note"`
}

// AccuracyPercent renders the basis-point accuracy as a percentage.
func (r *ModelRecord) AccuracyPercent() string {
	return fmt.Sprintf("%d.%02d%%", r.Accuracy/100, r.Accuracy%100)
}

func (r ModelRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Who         string `json:"who"`
		ModelHash   string `json:"modelHash"`
		Institution string `json:"institution"`
		AtBlock     uint32 `json:"atBlock"`
		Accuracy    uint32 `json:"accuracy"`
		IpfsCid     string `json:"ipfsCid,omitempty"`
		Note        string `json:"note,omitempty"`
	}{
		Who:         r.Who.Lower(),
		ModelHash:   r.ModelHash.Hex(),
		Institution: string(r.Institution),
		AtBlock:     r.AtBlock,
		Accuracy:    r.Accuracy,
		IpfsCid:     string(r.IpfsCid),
		Note:        string(r.Note),
	})
}

// IndexedRecord pairs a record with its storage id.
type IndexedRecord struct {
	ID uint64 `json:"id"`
	ModelRecord
}

func (r IndexedRecord) MarshalJSON() ([]byte, error) {
	inner, err := r.ModelRecord.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return append([]byte(fmt.Sprintf(`{"id":%d,`, r.ID)), inner[1:]...), nil
}

// GlobalModel is the FederatedLearning.GlobalModel value.
type GlobalModel struct {
	Hash         common.Hash `json:"hash"`
	Cid          []byte      `json:"cid"`
	WeightChange uint32      `json:"weightChange"`
	UpdatedAt    uint32      `json:"updatedAt"`
}

func (g GlobalModel) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Hash         string `json:"hash"`
		Cid          string `json:"cid"`
		WeightChange uint32 `json:"weightChange"`
		UpdatedAt    uint32 `json:"updatedAt"`
	}{g.Hash.Hex(), string(g.Cid), g.WeightChange, g.UpdatedAt})
}

// AccountData is the balances part of System.Account.
type AccountData struct {
	Free     codec.Uint128
	Reserved codec.Uint128
	Frozen   codec.Uint128
	Flags    codec.Uint128
}

// AccountInfo is the System.Account value.
type AccountInfo struct {
	Nonce       uint32
	Consumers   uint32
	Providers   uint32
	Sufficients uint32
	Data        AccountData
}
