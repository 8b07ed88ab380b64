package dispatch

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/flchain/address"
	"github.com/colorfulnotion/flchain/call"
	"github.com/colorfulnotion/flchain/chain"
	"github.com/colorfulnotion/flchain/chain/chaintest"
	"github.com/colorfulnotion/flchain/codec"
	"github.com/colorfulnotion/flchain/common"
	"github.com/colorfulnotion/flchain/registry"
	"github.com/colorfulnotion/flchain/signer"
	"github.com/colorfulnotion/flchain/storage"
	"github.com/colorfulnotion/flchain/types"
)

const alith = "0xf24ff3a9cf04c71dbc94d0b566f7a27b94566cac"

var modelHash = "0x" + strings.Repeat("5a", 32)

// record encodes one EventRecord applied by extrinsic idx.
func record(idx uint32, pallet, event byte, fields ...byte) []byte {
	out := []byte{0}
	out = binary.LittleEndian.AppendUint32(out, idx)
	out = append(out, pallet, event)
	out = append(out, fields...)
	return append(out, 0)
}

func events(records ...[]byte) []byte {
	out := codec.EncodeCompact(uint64(len(records)))
	for _, r := range records {
		out = append(out, r...)
	}
	return out
}

func dispatchInfo() []byte {
	out := codec.EncodeCompact(125_000_000)
	out = append(out, codec.EncodeCompact(1_500)...)
	return append(out, 0, 0)
}

func success(idx uint32) []byte {
	return record(idx, 0, 0, dispatchInfo()...)
}

func failed(idx uint32, dispatchErr ...byte) []byte {
	return record(idx, 0, 1, append(dispatchErr, dispatchInfo()...)...)
}

func localModelSubmitted(idx uint32, id uint64) []byte {
	var fields []byte
	fields = binary.LittleEndian.AppendUint64(fields, id)
	fields = append(fields, common.HexToAddress(alith).Bytes()...)
	fields = append(fields, common.HexToHash(modelHash).Bytes()...)
	return record(idx, 8, 0, fields...)
}

// finalizeWith scripts the usual ready, broadcast, inBlock, finalized
// stream and stores evs as the block's events.
func finalizeWith(node *chaintest.Node, evs []byte) {
	node.OnSubmit = func(ext []byte, sub *chain.Subscription) {
		other := []byte{0x04, 0x00}
		block := node.AddBlock(7, other, ext)
		node.SetStorageAt(block, storage.EventsKey, evs)
		chaintest.Status(sub, types.ExtrinsicStatus{Kind: types.StatusReady})
		chaintest.Status(sub, types.ExtrinsicStatus{Kind: types.StatusBroadcast, Peers: []string{"peer"}})
		chaintest.Status(sub, types.ExtrinsicStatus{Kind: types.StatusInBlock, BlockHash: block})
		chaintest.Status(sub, types.ExtrinsicStatus{Kind: types.StatusFinalized, BlockHash: block})
	}
}

func devSigner(t *testing.T) signer.PayloadSigner {
	c, err := signer.NewResolver().Resolve(context.Background(), signer.Identity{ChainAddress: alith}, signer.BackendDev)
	require.NoError(t, err)
	ps, err := c.PayloadSigner()
	require.NoError(t, err)
	return ps
}

func submitLocalModel(t *testing.T) *types.Call {
	c, err := call.Build(registry.MustDefault(), call.SubmitLocalModel, call.SubmitLocalModelArgs{ModelHash: modelHash, Accuracy: 8800})
	require.NoError(t, err)
	return c
}

func TestSubmitLocalModelFinalized(t *testing.T) {
	node := chaintest.NewNode()
	node.SetNonce(alith, 4)
	finalizeWith(node, events(
		success(0),
		localModelSubmitted(1, 7),
		success(1),
	))

	var seen []Transition
	tr := NewTracker(node, registry.MustDefault(), WithObserver(func(tr Transition) { seen = append(seen, tr) }), WithMetrics(nil))
	c := submitLocalModel(t)
	out, err := tr.Submit(context.Background(), c, alith, devSigner(t))
	require.NoError(t, err)
	require.NoError(t, out.Err())

	assert.Equal(t, Finalized, out.Kind)
	assert.Equal(t, uint64(7), out.BlockNumber)
	assert.Equal(t, 1, out.Index)
	require.Len(t, out.Events, 2)
	ev, ok := out.Event("federatedLearning", "LocalModelSubmitted")
	require.True(t, ok)
	id, _ := ev.Field("id")
	assert.Equal(t, uint64(7), id)

	require.Len(t, seen, 3)
	assert.Equal(t, []Status{StatusBroadcasting, StatusInBlock, StatusFinalized}, []Status{seen[0].To, seen[1].To, seen[2].To})
	assert.Equal(t, out.BlockHash, seen[1].BlockHash)

	submitted := node.Submitted()
	require.Len(t, submitted, 1)
	assert.Equal(t, common.Blake2Hash(submitted[0]), out.ExtrinsicHash)
	x, err := types.DecodeExtrinsic(submitted[0], types.SchemeEthereum, false)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(alith), x.Signer)
	assert.Equal(t, uint64(4), x.Nonce)
	method, err := c.Encode()
	require.NoError(t, err)
	assert.Equal(t, method, x.Call)
	assert.Equal(t, 1, node.Unsubscribes())
}

func TestFinalizedWithoutInBlock(t *testing.T) {
	node := chaintest.NewNode()
	node.OnSubmit = func(ext []byte, sub *chain.Subscription) {
		block := node.AddBlock(3, ext)
		node.SetStorageAt(block, storage.EventsKey, events(success(0)))
		chaintest.Status(sub, types.ExtrinsicStatus{Kind: types.StatusFinalized, BlockHash: block})
	}
	var seen []Status
	tr := NewTracker(node, registry.MustDefault(), WithObserver(func(tr Transition) { seen = append(seen, tr.To) }), WithMetrics(nil))
	out, err := tr.Submit(context.Background(), submitLocalModel(t), alith, devSigner(t))
	require.NoError(t, err)
	assert.Equal(t, Finalized, out.Kind)
	assert.Equal(t, []Status{StatusBroadcasting, StatusInBlock, StatusFinalized}, seen)
}

func TestModuleErrorResolvesDispatchFailed(t *testing.T) {
	node := chaintest.NewNode()
	finalizeWith(node, events(success(0), failed(1, 3, 8, 1, 0, 0, 0)))

	out, err := NewTracker(node, registry.MustDefault(), WithMetrics(nil)).Submit(context.Background(), submitLocalModel(t), alith, devSigner(t))
	require.NoError(t, err)
	assert.Equal(t, DispatchFailed, out.Kind)
	require.NotNil(t, out.ModuleError)
	assert.Equal(t, "federatedLearning", out.ModuleError.Section)
	assert.Equal(t, "NotAdmin", out.ModuleError.Name)
	assert.Equal(t, "The sender is not an administrator.", out.ModuleError.Docs)
	assert.ErrorIs(t, out.Err(), ErrDispatchFailed)

	var me *ModuleError
	require.ErrorAs(t, out.Err(), &me)
	assert.Equal(t, "federatedLearning.NotAdmin: The sender is not an administrator.", me.Error())
}

func TestOtherDispatchErrors(t *testing.T) {
	cases := []struct {
		name string
		err  []byte
		want string
	}{
		{"bad origin", []byte{2}, "BadOrigin"},
		{"token", []byte{7, 0}, "Token.FundsUnavailable"},
		{"arithmetic", []byte{8, 1}, "Arithmetic.Overflow"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			node := chaintest.NewNode()
			finalizeWith(node, events(success(0), failed(1, tc.err...)))
			out, err := NewTracker(node, registry.MustDefault(), WithMetrics(nil)).Submit(context.Background(), submitLocalModel(t), alith, devSigner(t))
			require.NoError(t, err)
			assert.Equal(t, DispatchFailed, out.Kind)
			assert.Equal(t, "dispatch", out.ModuleError.Section)
			assert.Equal(t, tc.want, out.ModuleError.Name)
		})
	}
}

func TestFinalizedKeepsBlockWhenEventsUnreadable(t *testing.T) {
	node := chaintest.NewNode()
	finalizeWith(node, events(success(1)))
	node.Handle(chain.MethodGetStorage, func([]any) (any, error) {
		return nil, errors.New("connection reset")
	})

	var seen []Transition
	tr := NewTracker(node, registry.MustDefault(), WithObserver(func(tr Transition) { seen = append(seen, tr) }), WithMetrics(nil))
	out, err := tr.Submit(context.Background(), submitLocalModel(t), alith, devSigner(t))
	require.NoError(t, err)

	assert.Equal(t, Finalized, out.Kind)
	assert.True(t, out.Unverified())
	assert.NoError(t, out.Err())
	assert.ErrorIs(t, out.EventsErr, ErrEventsUnavailable)
	assert.Contains(t, out.EventsErr.Error(), "connection reset")
	assert.NotEqual(t, common.Hash{}, out.BlockHash)
	assert.Equal(t, uint64(7), out.BlockNumber)
	assert.Equal(t, 1, out.Index)
	assert.Empty(t, out.Events)
	require.Len(t, seen, 3)
	assert.Equal(t, StatusFinalized, seen[2].To)
	assert.Equal(t, 1, node.Unsubscribes())
}

func TestFinalizedInUnknownBlock(t *testing.T) {
	node := chaintest.NewNode()
	missing := common.HexToHash("0x0badb10c")
	node.OnSubmit = func(ext []byte, sub *chain.Subscription) {
		chaintest.Status(sub, types.ExtrinsicStatus{Kind: types.StatusInBlock, BlockHash: missing})
		chaintest.Status(sub, types.ExtrinsicStatus{Kind: types.StatusFinalized, BlockHash: missing})
	}
	out, err := NewTracker(node, registry.MustDefault(), WithMetrics(nil)).Submit(context.Background(), submitLocalModel(t), alith, devSigner(t))
	require.NoError(t, err)
	assert.Equal(t, Finalized, out.Kind)
	assert.True(t, out.Unverified())
	assert.Equal(t, missing, out.BlockHash)
	assert.Equal(t, -1, out.Index)
}

func TestConnectionDropResolvesTransportFailed(t *testing.T) {
	node := chaintest.NewNode()
	node.OnSubmit = func(ext []byte, sub *chain.Subscription) {
		chaintest.Status(sub, types.ExtrinsicStatus{Kind: types.StatusReady})
		sub.Fail(chain.ErrConnectionClosed)
	}
	var seen []Status
	tr := NewTracker(node, registry.MustDefault(), WithObserver(func(tr Transition) { seen = append(seen, tr.To) }), WithMetrics(nil))
	out, err := tr.Submit(context.Background(), submitLocalModel(t), alith, devSigner(t))
	require.NoError(t, err)
	assert.Equal(t, TransportFailed, out.Kind)
	assert.ErrorIs(t, out.Err(), ErrTransportFailed)
	assert.ErrorIs(t, out.Err(), chain.ErrConnectionClosed)
	assert.Equal(t, []Status{StatusBroadcasting, StatusErrored}, seen)
}

func TestPoolRejections(t *testing.T) {
	for _, kind := range []string{types.StatusDropped, types.StatusInvalid, types.StatusUsurped} {
		t.Run(kind, func(t *testing.T) {
			node := chaintest.NewNode()
			node.OnSubmit = func(ext []byte, sub *chain.Subscription) {
				chaintest.Status(sub, types.ExtrinsicStatus{Kind: types.StatusFuture})
				chaintest.Status(sub, types.ExtrinsicStatus{Kind: kind})
			}
			out, err := NewTracker(node, registry.MustDefault(), WithMetrics(nil)).Submit(context.Background(), submitLocalModel(t), alith, devSigner(t))
			require.NoError(t, err)
			assert.Equal(t, TransportFailed, out.Kind)
			assert.Contains(t, out.Err().Error(), kind)
		})
	}
}

func TestRetractedThenClosed(t *testing.T) {
	node := chaintest.NewNode()
	node.OnSubmit = func(ext []byte, sub *chain.Subscription) {
		block := node.AddBlock(2, ext)
		chaintest.Status(sub, types.ExtrinsicStatus{Kind: types.StatusInBlock, BlockHash: block})
		chaintest.Status(sub, types.ExtrinsicStatus{Kind: types.StatusRetracted, BlockHash: block})
		sub.Fail(chain.ErrConnectionClosed)
	}
	out, err := NewTracker(node, registry.MustDefault(), WithMetrics(nil)).Submit(context.Background(), submitLocalModel(t), alith, devSigner(t))
	require.NoError(t, err)
	assert.Equal(t, TransportFailed, out.Kind)
	assert.Contains(t, out.Err().Error(), "retracted")
}

func TestTimeout(t *testing.T) {
	node := chaintest.NewNode()
	node.OnSubmit = func(ext []byte, sub *chain.Subscription) {
		chaintest.Status(sub, types.ExtrinsicStatus{Kind: types.StatusReady})
	}
	out, err := NewTracker(node, registry.MustDefault(), WithTimeout(50*time.Millisecond), WithMetrics(nil)).
		Submit(context.Background(), submitLocalModel(t), alith, devSigner(t))
	require.NoError(t, err)
	assert.Equal(t, TransportFailed, out.Kind)
	assert.ErrorIs(t, out.Err(), ErrTimeout)
	assert.Equal(t, 1, node.Unsubscribes())
}

func TestSubmissionRejectedByNode(t *testing.T) {
	node := chaintest.NewNode()
	node.Handle(chain.MethodSubmitAndWatch, func([]any) (any, error) {
		return nil, &chain.RPCError{Code: 1010, Message: "Invalid Transaction", Data: json.RawMessage(`"Transaction has a bad signature"`)}
	})
	out, err := NewTracker(node, registry.MustDefault(), WithMetrics(nil)).Submit(context.Background(), submitLocalModel(t), alith, devSigner(t))
	require.NoError(t, err)
	assert.Equal(t, TransportFailed, out.Kind)
	var rpcErr *chain.RPCError
	require.ErrorAs(t, out.Err(), &rpcErr)
	assert.Equal(t, 1010, rpcErr.Code)
}

func TestSigningRejectedNeverSubmits(t *testing.T) {
	node := chaintest.NewNode()
	dev := signer.NewDevProvider().WithApprover(func(method string, _ []any) bool { return method != "personal_sign" })
	c, err := signer.NewResolver(signer.WithProvider(signer.BackendMetaMask, dev)).
		Resolve(context.Background(), signer.Identity{ChainAddress: alith}, signer.BackendMetaMask)
	require.NoError(t, err)
	ps, err := c.PayloadSigner()
	require.NoError(t, err)

	out, err := NewTracker(node, registry.MustDefault(), WithMetrics(nil)).Submit(context.Background(), submitLocalModel(t), alith, ps)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, signer.ErrSigningRejected)
	assert.Zero(t, node.Calls(chain.MethodSubmitAndWatch))
	assert.Empty(t, node.Submitted())
}

func TestInvalidSender(t *testing.T) {
	node := chaintest.NewNode()
	_, err := NewTracker(node, registry.MustDefault(), WithMetrics(nil)).Submit(context.Background(), submitLocalModel(t), "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY", devSigner(t))
	assert.ErrorIs(t, err, address.ErrInvalidAddress)
	assert.Zero(t, node.Calls(chain.MethodGetFinalizedHead))
}

type failingOpener struct{}

func (failingOpener) EnsureOpen(context.Context) (chain.Conn, error) {
	return nil, chain.ErrNotConnected
}

func TestUnreachableNode(t *testing.T) {
	out, err := NewTracker(failingOpener{}, registry.MustDefault(), WithMetrics(nil)).Submit(context.Background(), submitLocalModel(t), alith, devSigner(t))
	require.NoError(t, err)
	assert.Equal(t, TransportFailed, out.Kind)
	assert.ErrorIs(t, out.Err(), chain.ErrNotConnected)
}

func TestImmortalEra(t *testing.T) {
	node := chaintest.NewNode()
	finalizeWith(node, events(success(0), success(1)))
	var payload *types.SignerPayload
	capture := signer.PayloadSignerFunc(func(ctx context.Context, p *types.SignerPayload) (*signer.SignerResult, error) {
		payload = p
		return devSigner(t).SignPayload(ctx, p)
	})
	_, err := NewTracker(node, registry.MustDefault(), WithEraPeriod(0), WithMetrics(nil)).Submit(context.Background(), submitLocalModel(t), alith, capture)
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.True(t, payload.Era.IsImmortal)
	assert.Equal(t, node.Genesis(), payload.BlockHash)
	assert.Equal(t, payload.GenesisHash, payload.BlockHash)
	assert.False(t, payload.WithMetadataHash)
}

func TestLifecycleRejectsSkips(t *testing.T) {
	lc := &lifecycle{}
	assert.ErrorIs(t, lc.advance(StatusInBlock, "", common.Hash{}), ErrInvalidTransition)
	require.NoError(t, lc.advance(StatusBroadcasting, "", common.Hash{}))
	assert.ErrorIs(t, lc.advance(StatusFinalized, "", common.Hash{}), ErrInvalidTransition)
	require.NoError(t, lc.advance(StatusErrored, "", common.Hash{}))
	assert.True(t, lc.terminal())
	assert.ErrorIs(t, lc.advance(StatusInBlock, "", common.Hash{}), ErrInvalidTransition)
}

func TestOutcomeErr(t *testing.T) {
	assert.NoError(t, (&Outcome{Kind: Finalized}).Err())
	assert.ErrorIs(t, (&Outcome{Kind: DispatchFailed}).Err(), ErrDispatchFailed)
	err := (&Outcome{Kind: TransportFailed, Cause: errors.New("eof")}).Err()
	assert.ErrorIs(t, err, ErrTransportFailed)
	assert.Equal(t, "transport failed: eof", err.Error())
	assert.Equal(t, "dispatchFailed", DispatchFailed.String())
}
