// Package signer resolves a sender to a signing capability over the wallet
// backends a user may hold: EIP-1193 style raw signers (MetaMask, a manual
// bridge, in-process dev keys) and extension style payload signers.
package signer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/colorfulnotion/flchain/types"
)

var (
	ErrNoWalletFound   = errors.New("no wallet found")
	ErrNoAccountFound  = errors.New("no account found")
	ErrUserRejected    = errors.New("user rejected the request")
	ErrSigningRejected = errors.New("signing rejected")
)

// BackendID names a wallet backend.
type BackendID string

const (
	BackendPolkadotJS BackendID = "polkadot-js"
	BackendSubWallet  BackendID = "subwallet-js"
	BackendTalisman   BackendID = "talisman"
	BackendFearless   BackendID = "fearless-wallet"
	BackendEnkrypt    BackendID = "enkrypt"
	BackendNova       BackendID = "nova-wallet"
	BackendMetaMask   BackendID = "metamask"
	BackendManual     BackendID = "manual"
	BackendKeystore   BackendID = "keystore"
	BackendDev        BackendID = "dev"
)

var walletNames = map[BackendID]string{
	BackendPolkadotJS: "Polkadot.js",
	BackendSubWallet:  "SubWallet",
	BackendTalisman:   "Talisman",
	BackendFearless:   "Fearless Wallet",
	BackendEnkrypt:    "Enkrypt",
	BackendNova:       "Nova Wallet",
	BackendMetaMask:   "MetaMask",
}

// DisplayName is the user facing wallet name; unknown sources are capitalized.
func (b BackendID) DisplayName() string {
	if name, ok := walletNames[b]; ok {
		return name
	}
	if b == "" {
		return ""
	}
	return strings.ToUpper(string(b[:1])) + string(b[1:])
}

// IsRaw reports whether the backend only signs raw bytes and needs the
// payload adapter.
func (b BackendID) IsRaw() bool {
	switch b {
	case BackendMetaMask, BackendManual, BackendDev:
		return true
	}
	return false
}

// Identity is the sender as the user chose it: the chain address and, for
// extension wallets, the address form the wallet knows.
type Identity struct {
	ChainAddress  string
	WalletAddress string
}

// walletOrChain is the address an extension looks accounts up by.
func (id Identity) walletOrChain() string {
	if id.WalletAddress != "" {
		return id.WalletAddress
	}
	return id.ChainAddress
}

// Account is a discovered account of a backend.
type Account struct {
	ChainAddress  string    `json:"address"`
	WalletAddress string    `json:"originalAddress"`
	Name          string    `json:"name"`
	Backend       BackendID `json:"source"`
}

// Wallet is an available backend.
type Wallet struct {
	ID   BackendID `json:"id"`
	Name string    `json:"name"`
}

// RawPayload is a request to sign opaque bytes.
type RawPayload struct {
	ID      int    `json:"id,omitempty"`
	Address string `json:"address"`
	// Data is 0x hex.
	Data string `json:"data"`
	Type string `json:"type"`
}

// SignerResult carries a 0x hex signature.
type SignerResult struct {
	ID        int    `json:"id"`
	Signature string `json:"signature"`
}

// PayloadSigner signs a structured transaction payload. The signature is
// the SCALE encoded signature the extrinsic will carry.
type PayloadSigner interface {
	SignPayload(ctx context.Context, payload *types.SignerPayload) (*SignerResult, error)
}

// RawSigner signs raw bytes, returning a 65-byte recoverable signature.
type RawSigner interface {
	SignRaw(ctx context.Context, raw *RawPayload) (*SignerResult, error)
}

// PayloadSignerFunc adapts a function to PayloadSigner.
type PayloadSignerFunc func(ctx context.Context, payload *types.SignerPayload) (*SignerResult, error)

func (f PayloadSignerFunc) SignPayload(ctx context.Context, payload *types.SignerPayload) (*SignerResult, error) {
	return f(ctx, payload)
}

// Capability is what a resolved backend can do. At least one signer is set.
type Capability struct {
	Backend BackendID
	Payload PayloadSigner
	Raw     RawSigner
}

// PayloadSigner returns the structured signer, adapting the raw one when the
// backend has no native payload signing.
func (c *Capability) PayloadSigner(opts ...AdapterOption) (PayloadSigner, error) {
	switch {
	case c.Payload != nil:
		return c.Payload, nil
	case c.Raw != nil:
		return Adapt(c.Raw, opts...), nil
	}
	return nil, fmt.Errorf("%w: %s has no signer", ErrNoWalletFound, c.Backend)
}
