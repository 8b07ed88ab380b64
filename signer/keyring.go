package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/colorfulnotion/flchain/address"
	"github.com/colorfulnotion/flchain/common"
	"github.com/colorfulnotion/flchain/log"
	"github.com/colorfulnotion/flchain/types"
)

// InjectedAccount is an account as an extension reports it. Address is in
// the wallet's own format, SS58 or hex.
type InjectedAccount struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Extension is an injected wallet that signs structured payloads itself.
type Extension interface {
	Name() BackendID
	Accounts(ctx context.Context) ([]InjectedAccount, error)
	Signer(ctx context.Context, walletAddress string) (PayloadSigner, error)
}

// ExtensionHost enables the injected extensions for an application.
type ExtensionHost interface {
	Enable(ctx context.Context, appName string) ([]Extension, error)
}

// StaticHost is an ExtensionHost over a fixed set of extensions.
type StaticHost []Extension

func (h StaticHost) Enable(ctx context.Context, appName string) ([]Extension, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h, nil
}

type keyringEntry struct {
	key    *ecdsa.PrivateKey
	chain  string
	wallet string
	name   string
}

// Keyring is an extension style backend over secp256k1 keys. Accounts are
// found by chain address or by the wallet address they were added under.
type Keyring struct {
	id     BackendID
	scheme types.SignatureScheme

	mu      sync.RWMutex
	entries map[string]*keyringEntry
	aliases map[string]string
	order   []string
}

func NewKeyring(id BackendID, opts ...AdapterOption) *Keyring {
	cfg := adapterConfig{scheme: types.SchemeEthereum}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Keyring{
		id:      id,
		scheme:  cfg.scheme,
		entries: make(map[string]*keyringEntry),
		aliases: make(map[string]string),
	}
}

func (k *Keyring) Name() BackendID {
	return k.id
}

// Add registers key under its chain address and returns that address.
func (k *Keyring) Add(key *ecdsa.PrivateKey, name string) string {
	chain := common.PubkeyToAddress(key.PublicKey).Lower()
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.entries[chain]; !ok {
		k.order = append(k.order, chain)
	}
	k.entries[chain] = &keyringEntry{key: key, chain: chain, wallet: chain, name: name}
	return chain
}

// AddWithWalletAddress registers key and reports it under walletAddress,
// which must convert to the key's chain address.
func (k *Keyring) AddWithWalletAddress(key *ecdsa.PrivateKey, name, walletAddress string) (string, error) {
	want, err := address.Normalize(walletAddress)
	if err != nil {
		return "", err
	}
	chain := k.Add(key, name)
	if want != chain {
		return "", fmt.Errorf("%w: %s converts to %s, key is %s", address.ErrInvalidAddress, walletAddress, want, chain)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.entries[chain].wallet = walletAddress
	k.aliases[walletAddress] = chain
	return chain, nil
}

// LoadKeystore decrypts every v3 keystore file in dir with passphrase.
func (k *Keyring) LoadKeystore(dir, passphrase string) (int, error) {
	ks := keystore.NewKeyStore(dir, keystore.LightScryptN, keystore.LightScryptP)
	loaded := 0
	for _, acct := range ks.Accounts() {
		blob, err := os.ReadFile(acct.URL.Path)
		if err != nil {
			return loaded, fmt.Errorf("read keystore %s: %w", acct.URL.Path, err)
		}
		key, err := keystore.DecryptKey(blob, passphrase)
		if err != nil {
			return loaded, fmt.Errorf("decrypt keystore %s: %w", acct.Address.Hex(), err)
		}
		k.Add(key.PrivateKey, acct.Address.Hex())
		loaded++
	}
	log.Debug(log.SignerModule, "keystore loaded", "dir", dir, "accounts", loaded)
	return loaded, nil
}

func (k *Keyring) Accounts(ctx context.Context) ([]InjectedAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]InjectedAccount, 0, len(k.order))
	for _, chain := range k.order {
		e := k.entries[chain]
		out = append(out, InjectedAccount{Address: e.wallet, Name: e.name})
	}
	return out, nil
}

func (k *Keyring) lookup(addr string) (*keyringEntry, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if chain, ok := k.aliases[addr]; ok {
		return k.entries[chain], true
	}
	chain, err := address.Normalize(addr)
	if err != nil {
		return nil, false
	}
	e, ok := k.entries[chain]
	return e, ok
}

func (k *Keyring) Signer(ctx context.Context, walletAddress string) (PayloadSigner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := k.lookup(walletAddress)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrNoAccountFound, walletAddress, k.id)
	}
	return &keyringSigner{entry: e, scheme: k.scheme}, nil
}

type keyringSigner struct {
	entry  *keyringEntry
	scheme types.SignatureScheme
}

func (s *keyringSigner) SignPayload(ctx context.Context, p *types.SignerPayload) (*SignerResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sender, err := address.Normalize(p.Address); err != nil || sender != s.entry.chain {
		return nil, fmt.Errorf("%w: payload address %s is not %s", ErrNoAccountFound, p.Address, s.entry.chain)
	}
	encoded, err := p.ExtrinsicPayload()
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	raw, err := common.PersonalSign(s.entry.key, types.SigningMessage(encoded))
	if err != nil {
		return nil, err
	}
	sig, err := types.NewSignature(s.scheme, raw)
	if err != nil {
		return nil, err
	}
	enc, err := sig.Encoded()
	if err != nil {
		return nil, err
	}
	log.Trace(log.SignerModule, "keyring signed", "address", s.entry.chain, "sig", hexutil.Encode(raw))
	return &SignerResult{ID: 1, Signature: enc}, nil
}

// isHexAccount reports whether addr is a raw 0x account.
func isHexAccount(addr string) bool {
	return strings.HasPrefix(addr, "0x")
}
