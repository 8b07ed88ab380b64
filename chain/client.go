package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/colorfulnotion/flchain/common"
	"github.com/colorfulnotion/flchain/types"
)

// Substrate RPC method names.
const (
	MethodSubscribeNewHeads   = "chain_subscribeNewHeads"
	MethodUnsubscribeNewHeads = "chain_unsubscribeNewHeads"
	MethodGetBlockHash        = "chain_getBlockHash"
	MethodGetHeader           = "chain_getHeader"
	MethodGetBlock            = "chain_getBlock"
	MethodGetFinalizedHead    = "chain_getFinalizedHead"
	MethodGetStorage          = "state_getStorage"
	MethodQueryStorageAt      = "state_queryStorageAt"
	MethodGetRuntimeVersion   = "state_getRuntimeVersion"
	MethodGetMetadata         = "state_getMetadata"
	MethodAccountNextIndex    = "system_accountNextIndex"
	MethodSystemChain         = "system_chain"
	MethodSystemProperties    = "system_properties"
	MethodSubmitAndWatch      = "author_submitAndWatchExtrinsic"
	MethodUnwatchExtrinsic    = "author_unwatchExtrinsic"
)

var ErrNotFound = errors.New("not found")

// Client wraps a Conn with typed Substrate calls.
type Client struct {
	conn Conn
}

func NewClient(conn Conn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Conn() Conn {
	return c.conn
}

func atParam(at *common.Hash) []any {
	if at == nil {
		return nil
	}
	return []any{at.Hex()}
}

func (c *Client) SubscribeNewHeads(ctx context.Context) (*Subscription, error) {
	return c.conn.Subscribe(ctx, MethodSubscribeNewHeads, MethodUnsubscribeNewHeads)
}

// GetBlockHash returns the hash of block number n, or the best block for nil.
func (c *Client) GetBlockHash(ctx context.Context, n *uint64) (common.Hash, error) {
	var params []any
	if n != nil {
		params = []any{*n}
	}
	var hash *common.Hash
	if err := c.conn.Call(ctx, MethodGetBlockHash, &hash, params...); err != nil {
		return common.Hash{}, err
	}
	if hash == nil {
		return common.Hash{}, fmt.Errorf("%w: block %v", ErrNotFound, n)
	}
	return *hash, nil
}

func (c *Client) GetGenesisHash(ctx context.Context) (common.Hash, error) {
	var zero uint64
	return c.GetBlockHash(ctx, &zero)
}

func (c *Client) GetFinalizedHead(ctx context.Context) (common.Hash, error) {
	var hash common.Hash
	err := c.conn.Call(ctx, MethodGetFinalizedHead, &hash)
	return hash, err
}

// GetHeader returns the header at hash, or the best header for nil.
func (c *Client) GetHeader(ctx context.Context, hash *common.Hash) (*types.Header, error) {
	var h *types.Header
	if err := c.conn.Call(ctx, MethodGetHeader, &h, atParam(hash)...); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("%w: header %v", ErrNotFound, hash)
	}
	return h, nil
}

func (c *Client) GetBlock(ctx context.Context, hash *common.Hash) (*types.SignedBlock, error) {
	var b *types.SignedBlock
	if err := c.conn.Call(ctx, MethodGetBlock, &b, atParam(hash)...); err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: block %v", ErrNotFound, hash)
	}
	return b, nil
}

// GetStorage reads a raw storage value; absent keys return nil, nil.
func (c *Client) GetStorage(ctx context.Context, key []byte, at *common.Hash) ([]byte, error) {
	params := []any{hexutil.Encode(key)}
	if at != nil {
		params = append(params, at.Hex())
	}
	var value *hexutil.Bytes
	if err := c.conn.Call(ctx, MethodGetStorage, &value, params...); err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	return *value, nil
}

type storageChangeSet struct {
	Block   common.Hash        `json:"block"`
	Changes [][]*hexutil.Bytes `json:"changes"`
}

// QueryStorageAt reads several keys in one round trip. The result maps the
// hex key to its value; absent keys map to nil.
func (c *Client) QueryStorageAt(ctx context.Context, keys [][]byte, at *common.Hash) (map[string][]byte, error) {
	hexKeys := make([]string, len(keys))
	for i, k := range keys {
		hexKeys[i] = hexutil.Encode(k)
	}
	params := []any{hexKeys}
	if at != nil {
		params = append(params, at.Hex())
	}
	var sets []storageChangeSet
	if err := c.conn.Call(ctx, MethodQueryStorageAt, &sets, params...); err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for _, set := range sets {
		for _, change := range set.Changes {
			if len(change) != 2 || change[0] == nil {
				continue
			}
			key := hexutil.Encode(*change[0])
			if change[1] == nil {
				out[key] = nil
				continue
			}
			out[key] = *change[1]
		}
	}
	return out, nil
}

func (c *Client) GetRuntimeVersion(ctx context.Context, at *common.Hash) (*types.RuntimeVersion, error) {
	var v types.RuntimeVersion
	if err := c.conn.Call(ctx, MethodGetRuntimeVersion, &v, atParam(at)...); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetMetadata returns the SCALE encoded runtime metadata.
func (c *Client) GetMetadata(ctx context.Context, at *common.Hash) ([]byte, error) {
	var raw hexutil.Bytes
	if err := c.conn.Call(ctx, MethodGetMetadata, &raw, atParam(at)...); err != nil {
		return nil, err
	}
	return raw, nil
}

// AccountNextIndex returns the next nonce including pool transactions.
func (c *Client) AccountNextIndex(ctx context.Context, account string) (uint64, error) {
	var nonce uint64
	err := c.conn.Call(ctx, MethodAccountNextIndex, &nonce, account)
	return nonce, err
}

func (c *Client) SystemChain(ctx context.Context) (string, error) {
	var name string
	err := c.conn.Call(ctx, MethodSystemChain, &name)
	return name, err
}

// Properties is the chain's token metadata.
type Properties struct {
	SS58Format    *uint16         `json:"ss58Format,omitempty"`
	TokenDecimals json.RawMessage `json:"tokenDecimals,omitempty"`
	TokenSymbol   json.RawMessage `json:"tokenSymbol,omitempty"`
}

// Decimals returns the first token decimals entry.
func (p *Properties) Decimals() (uint8, bool) {
	var one uint8
	if json.Unmarshal(p.TokenDecimals, &one) == nil {
		return one, true
	}
	var many []uint8
	if json.Unmarshal(p.TokenDecimals, &many) == nil && len(many) > 0 {
		return many[0], true
	}
	return 0, false
}

// Symbol returns the first token symbol entry.
func (p *Properties) Symbol() (string, bool) {
	var one string
	if json.Unmarshal(p.TokenSymbol, &one) == nil {
		return one, true
	}
	var many []string
	if json.Unmarshal(p.TokenSymbol, &many) == nil && len(many) > 0 {
		return many[0], true
	}
	return "", false
}

func (c *Client) SystemProperties(ctx context.Context) (*Properties, error) {
	var p Properties
	if err := c.conn.Call(ctx, MethodSystemProperties, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SubmitAndWatchExtrinsic submits an encoded extrinsic and watches its
// pool status.
func (c *Client) SubmitAndWatchExtrinsic(ctx context.Context, extrinsic []byte) (*Subscription, error) {
	return c.conn.Subscribe(ctx, MethodSubmitAndWatch, MethodUnwatchExtrinsic, hexutil.Encode(extrinsic))
}
