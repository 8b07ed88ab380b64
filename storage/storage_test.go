package storage

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/flchain/chain/chaintest"
	"github.com/colorfulnotion/flchain/codec"
	"github.com/colorfulnotion/flchain/common"
	"github.com/colorfulnotion/flchain/registry"
	"github.com/colorfulnotion/flchain/types"
)

const alith = "0xf24ff3a9cf04c71dbc94d0b566f7a27b94566cac"

func mustEncode(t *testing.T, v any) []byte {
	b, err := codec.Encode(v)
	require.NoError(t, err)
	return b
}

func mustKey(t *testing.T, pallet, entry string, keys ...[]byte) []byte {
	p, e, err := registry.MustDefault().Storage(pallet, entry)
	require.NoError(t, err)
	k, err := Key(p, e, keys...)
	require.NoError(t, err)
	return k
}

func TestPlainKey(t *testing.T) {
	assert.Equal(t, "26aa394eea5630e07c48ae0c9558cef780d41e5e16056765bc8461851072c9d7", hex.EncodeToString(EventsKey))
	assert.Equal(t, "26aa394eea5630e07c48ae0c9558cef702a5c1b19ab7a04f536c519aca4983ac", hex.EncodeToString(PlainKey("System", "Number")))
}

func TestMapKey(t *testing.T) {
	acct := common.HexToAddress(alith).Bytes()
	k := mustKey(t, "System", "Account", acct)
	require.Len(t, k, 32+16+20)
	assert.Equal(t, PlainKey("System", "Account"), k[:32])
	assert.Equal(t, common.Blake2_128Concat(acct), k[32:])

	p, e, err := registry.MustDefault().Storage("System", "Account")
	require.NoError(t, err)
	_, err = Key(p, e)
	assert.Error(t, err)
}

func newQuerier(t *testing.T) (*Querier, *chaintest.Node) {
	node := chaintest.NewNode()
	return NewQuerier(node, registry.MustDefault(), ""), node
}

func TestPalletReads(t *testing.T) {
	q, node := newQuerier(t)
	ctx := context.Background()
	acct := common.HexToAddress(alith).Bytes()

	name, ok, err := q.AuthorizedInstitution(ctx, alith)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, name)

	node.SetStorage(mustKey(t, DefaultPallet, "AuthorizedInstitution", acct), mustEncode(t, []byte("Baliola Lab")))
	name, ok, err = q.AuthorizedInstitution(ctx, alith)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Baliola Lab", name)

	next, err := q.NextID(ctx)
	require.NoError(t, err)
	assert.Zero(t, next)
	node.SetStorage(mustKey(t, DefaultPallet, "NextId"), mustEncode(t, uint64(7)))
	next, err = q.NextID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), next)

	node.SetStorage(mustKey(t, DefaultPallet, "PalletVersion"), mustEncode(t, uint32(2)))
	v, err := q.PalletVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), v)

	g, err := q.GlobalModel(ctx)
	require.NoError(t, err)
	assert.Nil(t, g)
	want := types.GlobalModel{Hash: common.HexToHash("0x01"), Cid: []byte("bafy"), WeightChange: 12, UpdatedAt: 99}
	node.SetStorage(mustKey(t, DefaultPallet, "GlobalModel"), mustEncode(t, want))
	g, err = q.GlobalModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, *g)

	_, _, err = q.AuthorizedInstitution(ctx, "0x12")
	assert.Error(t, err)
}

func TestIsAdminIsExistenceBased(t *testing.T) {
	q, node := newQuerier(t)
	ctx := context.Background()

	admin, err := q.IsAdmin(ctx, alith)
	require.NoError(t, err)
	assert.False(t, admin)

	// unit value: the entry exists but holds no bytes
	node.SetStorage(mustKey(t, DefaultPallet, "Admins", common.HexToAddress(alith).Bytes()), []byte{})
	admin, err = q.IsAdmin(ctx, alith)
	require.NoError(t, err)
	assert.True(t, admin)
}

func testRecord(id byte) types.ModelRecord {
	return types.ModelRecord{
		Who:         common.HexToAddress(alith),
		ModelHash:   common.BytesToHash([]byte{id}),
		Institution: []byte("lab"),
		AtBlock:     uint32(id) * 10,
		Accuracy:    8800,
		IpfsCid:     []byte{},
		Note:        []byte{},
	}
}

func TestRecordsNewestFirstSkippingGaps(t *testing.T) {
	q, node := newQuerier(t)
	ctx := context.Background()

	records, err := q.Records(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	node.SetStorage(mustKey(t, DefaultPallet, "NextId"), mustEncode(t, uint64(4)))
	for _, id := range []uint64{0, 1, 3} {
		node.SetStorage(mustKey(t, DefaultPallet, "Records", mustEncode(t, id)), mustEncode(t, testRecord(byte(id))))
	}

	r, err := q.Record(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, testRecord(1), *r)
	r, err = q.Record(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, r)

	records, err = q.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []uint64{3, 1, 0}, []uint64{records[0].ID, records[1].ID, records[2].ID})
	assert.Equal(t, uint32(30), records[0].AtBlock)
}

func TestRecordsBatches(t *testing.T) {
	q, node := newQuerier(t)
	total := uint64(recordsBatch + 5)
	node.SetStorage(mustKey(t, DefaultPallet, "NextId"), mustEncode(t, total))
	for id := uint64(0); id < total; id++ {
		node.SetStorage(mustKey(t, DefaultPallet, "Records", mustEncode(t, id)), mustEncode(t, testRecord(byte(id))))
	}
	records, err := q.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, int(total))
	assert.Equal(t, total-1, records[0].ID)
	assert.Equal(t, uint64(0), records[len(records)-1].ID)
	assert.Equal(t, 2, node.Calls("state_queryStorageAt"))
}

func TestBalancesAndDevAccounts(t *testing.T) {
	q, node := newQuerier(t)
	ctx := context.Background()

	info := types.AccountInfo{Nonce: 3, Providers: 1, Data: types.AccountData{Free: codec.Uint128{Low: 1_234_500_000_000}}}
	node.SetStorage(mustKey(t, "System", "Account", common.HexToAddress(alith).Bytes()), mustEncode(t, info))

	free, err := q.FreeBalance(ctx, alith)
	require.NoError(t, err)
	assert.Equal(t, "1234500000000", free.String())

	free, err = q.FreeBalance(ctx, "0x3cd0a705a2dc65e5b1e1205896baa2be8a07c6e0")
	require.NoError(t, err)
	assert.True(t, free.IsZero())

	devs, err := q.DevAccounts(ctx, []DevAccountKey{
		{Name: "ALITH", Address: "0xF24FF3a9CF04c71Dbc94D0b566f7A27B94566cac"},
		{Name: "BALTATHAR", Address: "0x3cd0a705a2dc65e5b1e1205896baa2be8a07c6e0"},
	})
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, DevAccount{Name: "ALITH", Address: alith, Balance: "1234500000000", BalanceFormatted: "1.2345 KPGD"}, devs[0])
}

func TestFormatBalance(t *testing.T) {
	assert.Equal(t, "0.0000 KPGD", FormatBalance(codec.Uint128{}, 12, "KPGD"))
	assert.Equal(t, "1000.0000 UNIT", FormatBalance(codec.Uint128{Low: 1_000_000_000_000_000}, 12, "UNIT"))
}
