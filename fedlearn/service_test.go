package fedlearn

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/flchain/address"
	"github.com/colorfulnotion/flchain/call"
	"github.com/colorfulnotion/flchain/chain"
	"github.com/colorfulnotion/flchain/chain/chaintest"
	"github.com/colorfulnotion/flchain/codec"
	"github.com/colorfulnotion/flchain/common"
	"github.com/colorfulnotion/flchain/dispatch"
	"github.com/colorfulnotion/flchain/journal"
	"github.com/colorfulnotion/flchain/registry"
	"github.com/colorfulnotion/flchain/signer"
	"github.com/colorfulnotion/flchain/storage"
	"github.com/colorfulnotion/flchain/types"
)

const alith = "0xf24ff3a9cf04c71dbc94d0b566f7a27b94566cac"

var modelHash = "0x" + strings.Repeat("ab", 32)

func dispatchInfo() []byte {
	out := codec.EncodeCompact(1_000_000)
	out = append(out, codec.EncodeCompact(0)...)
	return append(out, 0, 0)
}

// systemEvent encodes a System event emitted by extrinsic 0.
func systemEvent(event byte, fields ...byte) []byte {
	out := []byte{0}
	out = binary.LittleEndian.AppendUint32(out, 0)
	out = append(out, 0, event)
	out = append(out, fields...)
	return append(out, 0)
}

func oneEvent(record []byte) []byte {
	return append(codec.EncodeCompact(1), record...)
}

// settleWith finalizes every submission in a new block carrying evs.
func settleWith(node *chaintest.Node, evs []byte) {
	var number uint64
	node.OnSubmit = func(ext []byte, sub *chain.Subscription) {
		number++
		block := node.AddBlock(number, ext)
		node.SetStorageAt(block, storage.EventsKey, evs)
		chaintest.Status(sub, types.ExtrinsicStatus{Kind: types.StatusInBlock, BlockHash: block})
		chaintest.Status(sub, types.ExtrinsicStatus{Kind: types.StatusFinalized, BlockHash: block})
	}
}

func newService(t *testing.T, node *chaintest.Node, opts ...signer.ResolverOption) (*Service, *journal.Journal) {
	reg := registry.MustDefault()
	j, err := journal.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	svc := New(
		signer.NewResolver(opts...),
		call.NewBuilder(reg, call.DefaultPallet),
		dispatch.NewTracker(node, reg, dispatch.WithMetrics(nil)),
		storage.NewQuerier(node, reg, storage.DefaultPallet),
		WithJournal(j),
	)
	return svc, j
}

func devSender() Sender {
	return Sender{Address: alith, Backend: signer.BackendDev}
}

func TestSubmitLocalModelEndToEnd(t *testing.T) {
	node := chaintest.NewNode()
	settleWith(node, oneEvent(systemEvent(0, dispatchInfo()...)))
	svc, _ := newService(t, node)

	out, err := svc.SubmitLocalModel(context.Background(), devSender(), call.SubmitLocalModelArgs{ModelHash: modelHash, Accuracy: 8800})
	require.NoError(t, err)
	assert.Equal(t, dispatch.Finalized, out.Kind)
	assert.Equal(t, uint64(1), out.BlockNumber)

	x, err := types.DecodeExtrinsic(node.Submitted()[0], types.SchemeEthereum, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{8, 0}, x.Call[:2])
	assert.Equal(t, common.HexToHash(modelHash).Bytes(), x.Call[2:34])

	history, err := svc.History(10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "submit-local-model", history[0].Method)
	assert.Equal(t, "finalized", history[0].Outcome)
	assert.Equal(t, out.ExtrinsicHash, history[0].ExtrinsicHash)
	assert.Empty(t, history[0].Error)
}

func TestDispatchFailureIsJournaled(t *testing.T) {
	node := chaintest.NewNode()
	failed := append([]byte{3, 8, 1, 0, 0, 0}, dispatchInfo()...)
	settleWith(node, oneEvent(systemEvent(1, failed...)))
	svc, _ := newService(t, node)

	out, err := svc.ForceAuthorize(context.Background(), devSender(), call.ForceAuthorizeArgs{
		Account:     "0x3cd0a705a2dc65e5b1e1205896baa2be8a07c6e0",
		Institution: "Baliola Lab",
	})
	require.NoError(t, err)
	assert.Equal(t, dispatch.DispatchFailed, out.Kind)
	assert.Equal(t, "federatedLearning", out.ModuleError.Section)
	assert.Equal(t, "NotAdmin", out.ModuleError.Name)

	history, err := svc.History(0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "dispatchFailed", history[0].Outcome)
	assert.Contains(t, history[0].Error, "NotAdmin")
}

func TestCancelledPermissionPromptNeverSubmits(t *testing.T) {
	node := chaintest.NewNode()
	settleWith(node, oneEvent(systemEvent(0, dispatchInfo()...)))
	metamask := signer.NewDevProvider().WithApprover(func(method string, _ []any) bool {
		return method != "eth_requestAccounts"
	})
	svc, _ := newService(t, node, signer.WithProvider(signer.BackendMetaMask, metamask))

	_, err := svc.SubmitLocalModel(context.Background(),
		Sender{Address: alith, Backend: signer.BackendMetaMask},
		call.SubmitLocalModelArgs{ModelHash: modelHash, Accuracy: 8800})
	assert.ErrorIs(t, err, signer.ErrSigningRejected)
	assert.ErrorIs(t, err, signer.ErrUserRejected)
	assert.Zero(t, node.Calls(chain.MethodSubmitAndWatch))

	history, err := svc.History(0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCancelledSignatureNeverSubmits(t *testing.T) {
	node := chaintest.NewNode()
	metamask := signer.NewDevProvider().WithApprover(func(method string, _ []any) bool {
		return method != "personal_sign"
	})
	svc, _ := newService(t, node, signer.WithProvider(signer.BackendMetaMask, metamask))

	_, err := svc.ForceUnauthorize(context.Background(),
		Sender{Address: alith, Backend: signer.BackendMetaMask},
		call.ForceUnauthorizeArgs{Account: alith})
	assert.ErrorIs(t, err, signer.ErrSigningRejected)
	assert.Zero(t, node.Calls(chain.MethodSubmitAndWatch))
}

func TestExtensionBackend(t *testing.T) {
	node := chaintest.NewNode()
	settleWith(node, oneEvent(systemEvent(0, dispatchInfo()...)))

	key, err := crypto.HexToECDSA(strings.TrimPrefix(signer.DevKeys[1].PrivateKey, "0x"))
	require.NoError(t, err)
	kr := signer.NewKeyring(signer.BackendTalisman)
	sender := kr.Add(key, "Baltathar")
	svc, _ := newService(t, node, signer.WithExtensionHost(signer.StaticHost{kr}))

	out, err := svc.UpdateGlobalModel(context.Background(),
		Sender{Address: sender, Backend: signer.BackendTalisman},
		call.UpdateGlobalModelArgs{Hash: modelHash, CID: "bafy", WeightChange: 12})
	require.NoError(t, err)
	assert.Equal(t, dispatch.Finalized, out.Kind)

	x, err := types.DecodeExtrinsic(node.Submitted()[0], types.SchemeEthereum, false)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(sender), x.Signer)

	wallets, err := svc.Wallets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signer.BackendTalisman, wallets[0].ID)
}

func TestSubmitValidation(t *testing.T) {
	node := chaintest.NewNode()
	svc, _ := newService(t, node)
	ctx := context.Background()

	_, err := svc.SubmitLocalModel(ctx, Sender{Address: "0x1234", Backend: signer.BackendDev},
		call.SubmitLocalModelArgs{ModelHash: modelHash, Accuracy: 1})
	assert.ErrorIs(t, err, address.ErrInvalidAddress)

	_, err = svc.SubmitLocalModel(ctx, devSender(), call.SubmitLocalModelArgs{ModelHash: "0x12", Accuracy: 1})
	assert.ErrorIs(t, err, call.ErrInvalidArguments)

	_, err = svc.Submit(ctx, devSender(), nil)
	assert.ErrorIs(t, err, call.ErrInvalidArguments)

	_, err = svc.SubmitLocalModel(ctx, Sender{Address: alith, Backend: signer.BackendNova},
		call.SubmitLocalModelArgs{ModelHash: modelHash, Accuracy: 1})
	assert.ErrorIs(t, err, signer.ErrNoWalletFound)

	assert.Zero(t, node.Calls(chain.MethodSubmitAndWatch))
}

func TestDevAccounts(t *testing.T) {
	node := chaintest.NewNode()
	svc, _ := newService(t, node)

	p, e, err := registry.MustDefault().Storage("System", "Account")
	require.NoError(t, err)
	k, err := storage.Key(p, e, common.HexToAddress(signer.DevKeys[2].Address()).Bytes())
	require.NoError(t, err)
	info, err := codec.Encode(types.AccountInfo{Providers: 1, Data: types.AccountData{Free: codec.Uint128{Low: 2_000_000_000_000}}})
	require.NoError(t, err)
	node.SetStorage(k, info)

	devs, err := svc.DevAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, "CHARLETH", devs[0].Name)
	assert.Equal(t, "2.0000 KPGD", devs[0].BalanceFormatted)
}

func TestModelHashes(t *testing.T) {
	assert.Equal(t, "0xe3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", ModelHashFromString(""))

	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0o644))
	h, err := ModelHashFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ModelHashFromString("weights"), h)

	_, err = ModelHashFromFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
