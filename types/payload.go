package types

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/colorfulnotion/flchain/codec"
	"github.com/colorfulnotion/flchain/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	// PayloadHashThreshold is the largest payload signed as-is; longer
	// payloads are replaced by their blake2b-256 digest before signing.
	PayloadHashThreshold = 256

	// ExtrinsicVersion is the transaction format version this client produces.
	ExtrinsicVersion = 4
)

// SignedExtensions lists the extensions of an AccountId20 runtime in order.
var SignedExtensions = []string{
	"CheckNonZeroSender",
	"CheckSpecVersion",
	"CheckTxVersion",
	"CheckGenesis",
	"CheckMortality",
	"CheckNonce",
	"CheckWeight",
	"ChargeTransactionPayment",
	"CheckMetadataHash",
}

// SignerPayload is the structured description of a transaction handed to
// a wallet for signing.
type SignerPayload struct {
	Address            string         `json:"address"`
	BlockHash          common.Hash    `json:"blockHash"`
	BlockNumber        hexutil.Uint64 `json:"blockNumber"`
	Era                Era            `json:"era"`
	GenesisHash        common.Hash    `json:"genesisHash"`
	Method             hexutil.Bytes  `json:"method"`
	Nonce              hexutil.Uint64 `json:"nonce"`
	SpecVersion        hexutil.Uint   `json:"specVersion"`
	Tip                hexutil.Uint64 `json:"tip"`
	TransactionVersion hexutil.Uint   `json:"transactionVersion"`
	SignedExtensions   []string       `json:"signedExtensions"`
	Version            int            `json:"version"`

	// WithMetadataHash enables the CheckMetadataHash extension fields.
	WithMetadataHash bool         `json:"checkMetadataHash,omitempty"`
	Mode             uint8        `json:"mode,omitempty"`
	MetadataHash     *common.Hash `json:"metadataHash,omitempty"`
}

// ExtrinsicPayload returns the SCALE bytes a signature commits to:
//
//	method ‖ era ‖ compact(nonce) ‖ compact(tip) ‖ [mode] ‖ specVersion ‖
//	transactionVersion ‖ genesisHash ‖ blockHash ‖ [Option<metadataHash>]
func (p *SignerPayload) ExtrinsicPayload() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(p.Method)
	era, err := p.Era.MarshalSCALE()
	if err != nil {
		return nil, err
	}
	buf.Write(era)
	buf.Write(codec.EncodeCompact(uint64(p.Nonce)))
	buf.Write(codec.EncodeCompact(uint64(p.Tip)))
	if p.WithMetadataHash {
		buf.WriteByte(p.Mode)
	}
	binary.Write(&buf, binary.LittleEndian, uint32(p.SpecVersion))
	binary.Write(&buf, binary.LittleEndian, uint32(p.TransactionVersion))
	buf.Write(p.GenesisHash.Bytes())
	buf.Write(p.BlockHash.Bytes())
	if p.WithMetadataHash {
		if p.MetadataHash == nil {
			buf.WriteByte(0)
		} else {
			buf.WriteByte(1)
			buf.Write(p.MetadataHash.Bytes())
		}
	}
	return buf.Bytes(), nil
}

// SigningMessage returns the bytes a raw signer must sign for encoded.
func SigningMessage(encoded []byte) []byte {
	if len(encoded) > PayloadHashThreshold {
		return common.ComputeHash(encoded)
	}
	return encoded
}

func (p *SignerPayload) String() string {
	jsonByte, _ := json.Marshal(p)
	return string(jsonByte)
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
