package signer

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// walletService exposes a KeyProvider as eth_* and personal_* methods.
type walletService struct {
	p *KeyProvider
}

func (s *walletService) call(ctx context.Context, method string, params ...any) (any, error) {
	res, err := s.p.Request(ctx, method, params...)
	if err != nil {
		return nil, err
	}
	return res, nil
}

type ethAPI struct{ *walletService }

func (a ethAPI) Accounts(ctx context.Context) (any, error) {
	return a.call(ctx, "eth_accounts")
}

func (a ethAPI) RequestAccounts(ctx context.Context) (any, error) {
	return a.call(ctx, "eth_requestAccounts")
}

type personalAPI struct{ *walletService }

func (a personalAPI) Sign(ctx context.Context, data, addr string) (any, error) {
	return a.call(ctx, "personal_sign", data, addr)
}

func newWalletServer(t *testing.T, p *KeyProvider) string {
	srv := rpc.NewServer()
	svc := &walletService{p: p}
	require.NoError(t, srv.RegisterName("eth", ethAPI{svc}))
	require.NoError(t, srv.RegisterName("personal", personalAPI{svc}))
	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		hs.Close()
		srv.Stop()
	})
	return hs.URL
}

func TestRPCProviderSigns(t *testing.T) {
	url := newWalletServer(t, NewDevProvider())
	ctx := context.Background()
	p, err := DialRPCProvider(ctx, url)
	require.NoError(t, err)
	defer p.Close()

	r := NewResolver(WithProvider(BackendManual, p))
	c, err := r.Resolve(ctx, Identity{ChainAddress: alith}, BackendManual)
	require.NoError(t, err)

	ps, err := c.PayloadSigner()
	require.NoError(t, err)
	payload := testPayload(64)
	res, err := ps.SignPayload(ctx, payload)
	require.NoError(t, err)
	require.NoError(t, VerifyPayload(payload, res.Signature, alith))
}

func TestRPCProviderRejection(t *testing.T) {
	dev := NewDevProvider().WithApprover(func(string, []any) bool { return false })
	url := newWalletServer(t, dev)
	ctx := context.Background()
	p, err := DialRPCProvider(ctx, url)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Request(ctx, "eth_requestAccounts")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, CodeUserRejected, perr.Code)
	assert.ErrorIs(t, err, ErrUserRejected)

	_, err = NewResolver(WithProvider(BackendMetaMask, p)).Resolve(ctx, Identity{ChainAddress: alith}, BackendMetaMask)
	assert.ErrorIs(t, err, ErrUserRejected)
}

func TestDialRPCProviderFailure(t *testing.T) {
	_, err := DialRPCProvider(context.Background(), "unsupported://wallet")
	assert.ErrorIs(t, err, ErrNoWalletFound)
}
