// Package chaintest provides an in-memory chain.Conn for tests of code that
// reads state and submits extrinsics.
package chaintest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/colorfulnotion/flchain/chain"
	"github.com/colorfulnotion/flchain/common"
	"github.com/colorfulnotion/flchain/types"
)

// Handler answers one RPC method.
type Handler func(params []any) (any, error)

// Node is a scripted node. Storage written with SetStorage is visible at
// every block; SetStorageAt scopes a value to one block.
type Node struct {
	Runtime types.RuntimeVersion

	// OnSubmit runs inside author_submitAndWatchExtrinsic after the
	// subscription exists; it drives the status stream.
	OnSubmit func(ext []byte, sub *chain.Subscription)

	mu         sync.Mutex
	storage    map[string][]byte
	blockState map[common.Hash]map[string][]byte
	blocks     map[common.Hash]*types.SignedBlock
	hashes     map[uint64]common.Hash
	best       common.Hash
	finalized  common.Hash
	nonces     map[string]uint64
	handlers   map[string]Handler
	calls      map[string]int
	submitted  [][]byte
	headSubs   []*chain.Subscription
	unsubs     atomic.Int32
	nextSub    atomic.Int32
	closed     atomic.Bool
}

func NewNode() *Node {
	n := &Node{
		Runtime:    types.RuntimeVersion{SpecName: "fl-chain", SpecVersion: 100, TransactionVersion: 1},
		storage:    make(map[string][]byte),
		blockState: make(map[common.Hash]map[string][]byte),
		blocks:     make(map[common.Hash]*types.SignedBlock),
		hashes:     make(map[uint64]common.Hash),
		nonces:     make(map[string]uint64),
		handlers:   make(map[string]Handler),
		calls:      make(map[string]int),
	}
	n.AddBlock(0)
	return n
}

// EnsureOpen makes the node its own chain.Opener.
func (n *Node) EnsureOpen(ctx context.Context) (chain.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) Handle(method string, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = h
}

func (n *Node) SetStorage(key, value []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.storage[hexutil.Encode(key)] = value
}

func (n *Node) SetStorageAt(at common.Hash, key, value []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.blockState[at] == nil {
		n.blockState[at] = make(map[string][]byte)
	}
	n.blockState[at][hexutil.Encode(key)] = value
}

func (n *Node) SetNonce(account string, nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nonces[account] = nonce
}

// AddBlock appends a block holding extrinsics, makes it best and finalized
// and returns its hash.
func (n *Node) AddBlock(number uint64, extrinsics ...[]byte) common.Hash {
	n.mu.Lock()
	defer n.mu.Unlock()
	hash := common.BytesToHash([]byte(fmt.Sprintf("block-%d-%d", number, len(n.blocks))))
	b := &types.SignedBlock{Block: types.Block{Header: types.Header{Number: hexutil.Uint64(number)}}}
	if number > 0 {
		b.Block.Header.ParentHash = n.hashes[number-1]
	}
	for _, x := range extrinsics {
		b.Block.Extrinsics = append(b.Block.Extrinsics, x)
	}
	n.blocks[hash] = b
	n.hashes[number] = hash
	n.best, n.finalized = hash, hash
	return hash
}

// Calls returns how often method was called or subscribed.
func (n *Node) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

// Submitted returns the extrinsics received so far.
func (n *Node) Submitted() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]byte(nil), n.submitted...)
}

// Unsubscribes counts subscriptions ended by their owner.
func (n *Node) Unsubscribes() int {
	return int(n.unsubs.Load())
}

// HeadSubscriptions returns the open chain_subscribeNewHeads streams.
func (n *Node) HeadSubscriptions() []*chain.Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*chain.Subscription(nil), n.headSubs...)
}

func (n *Node) Close() error {
	n.closed.Store(true)
	return nil
}

func (n *Node) IsConnected() bool {
	return !n.closed.Load()
}

func (n *Node) Call(ctx context.Context, method string, result any, params ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.closed.Load() {
		return chain.ErrConnectionClosed
	}
	n.mu.Lock()
	n.calls[method]++
	h, ok := n.handlers[method]
	n.mu.Unlock()

	var (
		out any
		err error
	)
	if ok {
		out, err = h(params)
	} else {
		out, err = n.builtin(method, params)
	}
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

func (n *Node) builtin(method string, params []any) (any, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch method {
	case chain.MethodGetBlockHash:
		if len(params) == 0 {
			return n.best, nil
		}
		num, err := toUint(params[0])
		if err != nil {
			return nil, err
		}
		h, ok := n.hashes[num]
		if !ok {
			return nil, nil
		}
		return h, nil
	case chain.MethodGetFinalizedHead:
		return n.finalized, nil
	case chain.MethodGetHeader:
		b := n.block(params)
		if b == nil {
			return nil, nil
		}
		return b.Block.Header, nil
	case chain.MethodGetBlock:
		b := n.block(params)
		if b == nil {
			return nil, nil
		}
		return b, nil
	case chain.MethodGetStorage:
		key, _ := params[0].(string)
		// absent keys answer null, present ones 0x hex like a real node
		if raw := n.value(key, params[1:]); raw != nil {
			return hexutil.Bytes(raw), nil
		}
		return nil, nil
	case chain.MethodQueryStorageAt:
		keys, _ := params[0].([]string)
		changes := make([][]*hexutil.Bytes, 0, len(keys))
		for _, k := range keys {
			kb := hexutil.Bytes(hexutil.MustDecode(k))
			var v *hexutil.Bytes
			if raw := n.value(k, params[1:]); raw != nil {
				vb := hexutil.Bytes(raw)
				v = &vb
			}
			changes = append(changes, []*hexutil.Bytes{&kb, v})
		}
		return []map[string]any{{"block": n.best, "changes": changes}}, nil
	case chain.MethodGetRuntimeVersion:
		return n.Runtime, nil
	case chain.MethodAccountNextIndex:
		account, _ := params[0].(string)
		return n.nonces[account], nil
	case chain.MethodSystemChain:
		return "FL Chain Test", nil
	case chain.MethodSystemProperties:
		return map[string]any{"tokenDecimals": 12, "tokenSymbol": "KPGD"}, nil
	case chain.MethodUnwatchExtrinsic, chain.MethodUnsubscribeNewHeads:
		return true, nil
	}
	return nil, &chain.RPCError{Code: -32601, Message: "Method not found: " + method}
}

func (n *Node) block(params []any) *types.SignedBlock {
	hash := n.best
	if len(params) > 0 {
		if s, ok := params[0].(string); ok {
			hash = common.HexToHash(s)
		}
	}
	return n.blocks[hash]
}

func (n *Node) value(key string, at []any) []byte {
	if len(at) > 0 {
		if s, ok := at[0].(string); ok {
			if v, ok := n.blockState[common.HexToHash(s)][key]; ok {
				return v
			}
		}
	}
	return n.storage[key]
}

func (n *Node) Subscribe(ctx context.Context, method, unsubMethod string, params ...any) (*chain.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n.closed.Load() {
		return nil, chain.ErrConnectionClosed
	}
	n.mu.Lock()
	n.calls[method]++
	h, ok := n.handlers[method]
	n.mu.Unlock()
	if ok {
		if _, err := h(params); err != nil {
			return nil, err
		}
	}

	id := strconv.Itoa(int(n.nextSub.Add(1)))
	sub := chain.NewSubscription(id, func() error {
		n.unsubs.Add(1)
		return nil
	})
	switch method {
	case chain.MethodSubmitAndWatch:
		s, _ := params[0].(string)
		ext, err := hexutil.Decode(s)
		if err != nil {
			return nil, &chain.RPCError{Code: -32602, Message: err.Error()}
		}
		n.mu.Lock()
		n.submitted = append(n.submitted, ext)
		n.mu.Unlock()
		if n.OnSubmit != nil {
			n.OnSubmit(ext, sub)
		}
	case chain.MethodSubscribeNewHeads:
		n.mu.Lock()
		n.headSubs = append(n.headSubs, sub)
		n.mu.Unlock()
	}
	return sub, nil
}

// Status sends one extrinsic status notification.
func Status(sub *chain.Subscription, s types.ExtrinsicStatus) {
	raw, _ := json.Marshal(s)
	sub.Notify(raw)
}

func toUint(v any) (uint64, error) {
	switch x := v.(type) {
	case uint64:
		return x, nil
	case int:
		return uint64(x), nil
	case string:
		return hexutil.DecodeUint64(x)
	}
	return 0, fmt.Errorf("block number %v of type %T", v, v)
}

// Genesis is the hash of block 0.
func (n *Node) Genesis() common.Hash {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hashes[0]
}
