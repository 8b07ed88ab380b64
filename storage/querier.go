package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/colorfulnotion/flchain/address"
	"github.com/colorfulnotion/flchain/chain"
	"github.com/colorfulnotion/flchain/codec"
	"github.com/colorfulnotion/flchain/common"
	"github.com/colorfulnotion/flchain/log"
	"github.com/colorfulnotion/flchain/registry"
	"github.com/colorfulnotion/flchain/types"
)

// DefaultPallet is the federated learning pallet's name.
const DefaultPallet = "FederatedLearning"

// recordsBatch bounds the keys of one state_queryStorageAt call.
const recordsBatch = 128

// EventsKey is the System.Events storage key.
var EventsKey = PlainKey("System", "Events")

// Querier reads chain state over the shared connection.
type Querier struct {
	opener chain.Opener
	reg    *registry.Registry
	pallet string
}

func NewQuerier(opener chain.Opener, reg *registry.Registry, pallet string) *Querier {
	if pallet == "" {
		pallet = DefaultPallet
	}
	return &Querier{opener: opener, reg: reg, pallet: pallet}
}

func (q *Querier) client(ctx context.Context) (*chain.Client, error) {
	conn, err := q.opener.EnsureOpen(ctx)
	if err != nil {
		return nil, err
	}
	return chain.NewClient(conn), nil
}

func (q *Querier) key(pallet, entry string, keys ...[]byte) ([]byte, error) {
	p, e, err := q.reg.Storage(pallet, entry)
	if err != nil {
		return nil, err
	}
	return Key(p, e, keys...)
}

// read returns the raw value of pallet.entry; absent entries return nil.
func (q *Querier) read(ctx context.Context, at *common.Hash, pallet, entry string, keys ...[]byte) ([]byte, error) {
	key, err := q.key(pallet, entry, keys...)
	if err != nil {
		return nil, err
	}
	c, err := q.client(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := c.GetStorage(ctx, key, at)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", pallet, entry, err)
	}
	log.Trace(log.ChainModule, "storage read", "entry", pallet+"."+entry, "key", hexutil.Encode(key), "len", len(raw))
	return raw, nil
}

func accountKey(account string) ([]byte, error) {
	chainAddr, err := address.ToChainAddress(strings.TrimSpace(account))
	if err != nil {
		return nil, err
	}
	return common.HexToAddress(chainAddr).Bytes(), nil
}

func idKey(id uint64) []byte {
	b, _ := codec.Encode(id)
	return b
}

// AuthorizedInstitution returns the institution name account is authorized
// under; ok is false when the account is not authorized.
func (q *Querier) AuthorizedInstitution(ctx context.Context, account string) (name string, ok bool, err error) {
	k, err := accountKey(account)
	if err != nil {
		return "", false, err
	}
	raw, err := q.read(ctx, nil, q.pallet, "AuthorizedInstitution", k)
	if err != nil || raw == nil {
		return "", false, err
	}
	var b []byte
	if err := codec.Decode(raw, &b); err != nil {
		return "", false, fmt.Errorf("decode institution: %w", err)
	}
	return string(b), true, nil
}

// GlobalModel returns the current global model, nil before the first update.
func (q *Querier) GlobalModel(ctx context.Context) (*types.GlobalModel, error) {
	raw, err := q.read(ctx, nil, q.pallet, "GlobalModel")
	if err != nil || raw == nil {
		return nil, err
	}
	var g types.GlobalModel
	if err := codec.Decode(raw, &g); err != nil {
		return nil, fmt.Errorf("decode global model: %w", err)
	}
	return &g, nil
}

// NextID is the id the next submitted record will get; absent reads as 0.
func (q *Querier) NextID(ctx context.Context) (uint64, error) {
	raw, err := q.read(ctx, nil, q.pallet, "NextId")
	if err != nil || raw == nil {
		return 0, err
	}
	var id uint64
	if err := codec.Decode(raw, &id); err != nil {
		return 0, fmt.Errorf("decode next id: %w", err)
	}
	return id, nil
}

func (q *Querier) PalletVersion(ctx context.Context) (uint32, error) {
	raw, err := q.read(ctx, nil, q.pallet, "PalletVersion")
	if err != nil || raw == nil {
		return 0, err
	}
	var v uint32
	if err := codec.Decode(raw, &v); err != nil {
		return 0, fmt.Errorf("decode pallet version: %w", err)
	}
	return v, nil
}

// Record returns record id, nil when it does not exist.
func (q *Querier) Record(ctx context.Context, id uint64) (*types.ModelRecord, error) {
	raw, err := q.read(ctx, nil, q.pallet, "Records", idKey(id))
	if err != nil || raw == nil {
		return nil, err
	}
	var r types.ModelRecord
	if err := codec.Decode(raw, &r); err != nil {
		return nil, fmt.Errorf("decode record %d: %w", id, err)
	}
	return &r, nil
}

// IsAdmin reports whether an Admins entry exists for account. The value is
// unit, so presence alone grants admin rights.
func (q *Querier) IsAdmin(ctx context.Context, account string) (bool, error) {
	k, err := accountKey(account)
	if err != nil {
		return false, err
	}
	raw, err := q.read(ctx, nil, q.pallet, "Admins", k)
	if err != nil {
		return false, err
	}
	return raw != nil, nil
}

// Records lists ids 0..NextID-1 newest first, skipping missing ones.
func (q *Querier) Records(ctx context.Context) ([]types.IndexedRecord, error) {
	next, err := q.NextID(ctx)
	if err != nil {
		return nil, err
	}
	if next == 0 {
		return nil, nil
	}
	c, err := q.client(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.IndexedRecord, 0, next)
	for hi := next; hi > 0; {
		lo := uint64(0)
		if hi > recordsBatch {
			lo = hi - recordsBatch
		}
		ids := make([]uint64, 0, hi-lo)
		keys := make([][]byte, 0, hi-lo)
		for id := hi; id > lo; id-- {
			k, err := q.key(q.pallet, "Records", idKey(id-1))
			if err != nil {
				return nil, err
			}
			ids = append(ids, id-1)
			keys = append(keys, k)
		}
		values, err := c.QueryStorageAt(ctx, keys, nil)
		if err != nil {
			return nil, fmt.Errorf("records %d..%d: %w", lo, hi-1, err)
		}
		for i, k := range keys {
			raw := values[hexutil.Encode(k)]
			if raw == nil {
				continue
			}
			var r types.ModelRecord
			if err := codec.Decode(raw, &r); err != nil {
				log.Warn(log.FLModule, "skipping undecodable record", "id", ids[i], "err", err)
				continue
			}
			out = append(out, types.IndexedRecord{ID: ids[i], ModelRecord: r})
		}
		hi = lo
	}
	return out, nil
}

// AccountInfo reads System.Account; absent accounts read as zero.
func (q *Querier) AccountInfo(ctx context.Context, account string) (*types.AccountInfo, error) {
	k, err := accountKey(account)
	if err != nil {
		return nil, err
	}
	raw, err := q.read(ctx, nil, "System", "Account", k)
	if err != nil {
		return nil, err
	}
	var info types.AccountInfo
	if raw == nil {
		return &info, nil
	}
	if err := codec.Decode(raw, &info); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return &info, nil
}

func (q *Querier) FreeBalance(ctx context.Context, account string) (codec.Uint128, error) {
	info, err := q.AccountInfo(ctx, account)
	if err != nil {
		return codec.Uint128{}, err
	}
	return info.Data.Free, nil
}

// BlockEvent is an event with the block it was emitted in.
type BlockEvent struct {
	BlockNumber uint64            `json:"blockNumber"`
	BlockHash   common.Hash       `json:"blockHash"`
	EventIndex  int               `json:"eventIndex"`
	Timestamp   time.Time         `json:"timestamp"`
	Event       types.EventRecord `json:"event"`
}

// Events decodes System.Events at block hash.
func (q *Querier) Events(ctx context.Context, at common.Hash) ([]types.EventRecord, error) {
	c, err := q.client(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := c.GetStorage(ctx, EventsKey, &at)
	if err != nil {
		return nil, fmt.Errorf("events at %s: %w", at.Hex(), err)
	}
	if raw == nil {
		return nil, nil
	}
	return q.reg.DecodeEvents(raw)
}

func (q *Querier) blockEvents(ctx context.Context, number uint64, hash common.Hash) ([]BlockEvent, error) {
	records, err := q.Events(ctx, hash)
	if err != nil {
		return nil, err
	}
	var ts time.Time
	if raw, err := q.read(ctx, &hash, "Timestamp", "Now"); err == nil && raw != nil {
		var ms uint64
		if codec.Decode(raw, &ms) == nil {
			ts = time.UnixMilli(int64(ms))
		}
	}
	out := make([]BlockEvent, len(records))
	for i, r := range records {
		out[i] = BlockEvent{BlockNumber: number, BlockHash: hash, EventIndex: i, Timestamp: ts, Event: r}
	}
	return out, nil
}

// RecentEvents returns the events of the last blocks blocks, newest block
// first. Blocks that cannot be read are skipped.
func (q *Querier) RecentEvents(ctx context.Context, blocks int) ([]BlockEvent, error) {
	c, err := q.client(ctx)
	if err != nil {
		return nil, err
	}
	head, err := c.GetHeader(ctx, nil)
	if err != nil {
		return nil, err
	}
	current := uint64(head.Number)
	var out []BlockEvent
	for i := 0; i < blocks && uint64(i) <= current; i++ {
		n := current - uint64(i)
		hash, err := c.GetBlockHash(ctx, &n)
		if err != nil {
			log.Warn(log.ChainModule, "block hash unavailable", "number", n, "err", err)
			continue
		}
		evs, err := q.blockEvents(ctx, n, hash)
		if err != nil {
			log.Warn(log.ChainModule, "events unavailable", "number", n, "err", err)
			continue
		}
		out = append(out, evs...)
	}
	return out, nil
}

// SubscribeEvents calls fn with the events of every new head until ctx is
// done or the subscription fails.
func (q *Querier) SubscribeEvents(ctx context.Context, fn func(BlockEvent)) error {
	c, err := q.client(ctx)
	if err != nil {
		return err
	}
	sub, err := c.SubscribeNewHeads(ctx)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.C():
			if !ok {
				select {
				case err := <-sub.Err():
					return err
				default:
					return chain.ErrConnectionClosed
				}
			}
			var h types.Header
			if err := json.Unmarshal(msg, &h); err != nil {
				log.Warn(log.ChainModule, "bad header notification", "err", err)
				continue
			}
			n := uint64(h.Number)
			hash, err := c.GetBlockHash(ctx, &n)
			if err != nil {
				log.Warn(log.ChainModule, "block hash unavailable", "number", n, "err", err)
				continue
			}
			evs, err := q.blockEvents(ctx, n, hash)
			if err != nil {
				log.Warn(log.ChainModule, "events unavailable", "number", n, "err", err)
				continue
			}
			for _, ev := range evs {
				fn(ev)
			}
		}
	}
}

// DevAccount is a funded development account.
type DevAccount struct {
	Name             string `json:"name"`
	Address          string `json:"address"`
	Balance          string `json:"balance"`
	BalanceFormatted string `json:"balanceFormatted"`
}

// DevAccountKey names a development account by address.
type DevAccountKey struct {
	Name    string
	Address string
}

// DevAccounts returns the candidates holding a non-zero free balance.
func (q *Querier) DevAccounts(ctx context.Context, candidates []DevAccountKey) ([]DevAccount, error) {
	var out []DevAccount
	for _, cand := range candidates {
		free, err := q.FreeBalance(ctx, cand.Address)
		if err != nil {
			log.Warn(log.FLModule, "dev account check failed", "name", cand.Name, "err", err)
			continue
		}
		if free.IsZero() {
			continue
		}
		out = append(out, DevAccount{
			Name:             cand.Name,
			Address:          strings.ToLower(cand.Address),
			Balance:          free.String(),
			BalanceFormatted: FormatBalance(free, 12, "KPGD"),
		})
	}
	return out, nil
}

// FormatBalance renders v with decimals places scaled down to four
// fractional digits, e.g. "1.2345 KPGD".
func FormatBalance(v codec.Uint128, decimals int, symbol string) string {
	f := new(big.Float).SetInt(v.Big())
	f.Quo(f, new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)))
	return f.Text('f', 4) + " " + symbol
}
