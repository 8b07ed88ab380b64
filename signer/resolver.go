package signer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/colorfulnotion/flchain/address"
	"github.com/colorfulnotion/flchain/log"
)

// DefaultAppName is the name extensions are enabled under.
const DefaultAppName = "FL Blockchain Sim"

// Resolver maps a sender and a chosen backend to a signing capability.
// Access to a raw backend is requested at most once per account and
// extensions are enabled once per Resolver.
type Resolver struct {
	appName   string
	providers map[BackendID]Provider
	host      ExtensionHost

	mu         sync.Mutex
	enabled    bool
	extensions []Extension
	granted    map[BackendID]map[string]bool
}

type ResolverOption func(*Resolver)

// WithProvider registers a raw backend.
func WithProvider(id BackendID, p Provider) ResolverOption {
	return func(r *Resolver) { r.providers[id] = p }
}

// WithoutProvider removes a raw backend, including the default dev one.
func WithoutProvider(id BackendID) ResolverOption {
	return func(r *Resolver) { delete(r.providers, id) }
}

// WithExtensionHost sets where extension backends come from.
func WithExtensionHost(h ExtensionHost) ResolverOption {
	return func(r *Resolver) { r.host = h }
}

func WithAppName(name string) ResolverOption {
	return func(r *Resolver) { r.appName = name }
}

// NewResolver returns a Resolver with the dev backend registered.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		appName:   DefaultAppName,
		providers: map[BackendID]Provider{BackendDev: NewDevProvider()},
		granted:   make(map[BackendID]map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the capability backend offers for id.
func (r *Resolver) Resolve(ctx context.Context, id Identity, backend BackendID) (*Capability, error) {
	if backend.IsRaw() {
		return r.resolveRaw(ctx, id, backend)
	}
	return r.resolveExtension(ctx, id, backend)
}

func (r *Resolver) resolveRaw(ctx context.Context, id Identity, backend BackendID) (*Capability, error) {
	p, ok := r.providers[backend]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoWalletFound, backend.DisplayName())
	}
	sender := strings.ToLower(id.ChainAddress)
	if err := r.requestAccess(ctx, backend, p, sender); err != nil {
		return nil, err
	}
	log.Debug(log.SignerModule, "resolved raw signer", "backend", backend, "address", sender)
	return &Capability{Backend: backend, Raw: RawSignerFor(p, sender)}, nil
}

// requestAccess asks for eth_requestAccounts only when eth_accounts does not
// already list sender.
func (r *Resolver) requestAccess(ctx context.Context, backend BackendID, p Provider, sender string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.granted[backend][sender] {
		return nil
	}
	listed, err := requestAccounts(ctx, p, "eth_accounts")
	if err != nil {
		return providerFailure(backend, err)
	}
	if !contains(listed, sender) {
		log.Debug(log.SignerModule, "requesting account access", "backend", backend)
		if listed, err = requestAccounts(ctx, p, "eth_requestAccounts"); err != nil {
			return providerFailure(backend, err)
		}
		if !contains(listed, sender) {
			return fmt.Errorf("%w: %s in %s", ErrNoAccountFound, sender, backend.DisplayName())
		}
	}
	r.grant(backend, listed)
	return nil
}

func (r *Resolver) grant(backend BackendID, accounts []string) {
	set := r.granted[backend]
	if set == nil {
		set = make(map[string]bool)
		r.granted[backend] = set
	}
	for _, a := range accounts {
		set[a] = true
	}
}

func (r *Resolver) resolveExtension(ctx context.Context, id Identity, backend BackendID) (*Capability, error) {
	ext, err := r.extension(ctx, backend)
	if err != nil {
		return nil, err
	}
	ps, err := ext.Signer(ctx, id.walletOrChain())
	if err != nil {
		return nil, err
	}
	log.Debug(log.SignerModule, "resolved extension signer", "backend", backend, "address", id.walletOrChain())
	return &Capability{Backend: backend, Payload: ps}, nil
}

// enable runs the host's Enable once; a failed attempt is retried on the
// next call.
func (r *Resolver) enable(ctx context.Context) ([]Extension, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enabled {
		return r.extensions, nil
	}
	if r.host == nil {
		r.enabled = true
		return nil, nil
	}
	exts, err := r.host.Enable(ctx, r.appName)
	if err != nil {
		return nil, providerFailure("extensions", err)
	}
	r.extensions = exts
	r.enabled = true
	log.Info(log.SignerModule, "extensions enabled", "app", r.appName, "count", len(exts))
	return exts, nil
}

func (r *Resolver) extension(ctx context.Context, backend BackendID) (Extension, error) {
	exts, err := r.enable(ctx)
	if err != nil {
		return nil, err
	}
	for _, ext := range exts {
		if ext.Name() == backend {
			return ext, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoWalletFound, backend.DisplayName())
}

// Wallets lists the available backends, extensions first.
func (r *Resolver) Wallets(ctx context.Context) ([]Wallet, error) {
	exts, err := r.enable(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Wallet, 0, len(exts)+len(r.providers))
	for _, ext := range exts {
		out = append(out, Wallet{ID: ext.Name(), Name: ext.Name().DisplayName()})
	}
	raw := make([]string, 0, len(r.providers))
	for id := range r.providers {
		raw = append(raw, string(id))
	}
	sort.Strings(raw)
	for _, id := range raw {
		out = append(out, Wallet{ID: BackendID(id), Name: BackendID(id).DisplayName()})
	}
	return out, nil
}

type namer interface {
	Name(addr string) string
}

// Accounts discovers the accounts of backend. Raw backends are asked for
// access; extension accounts in SS58 form are converted to chain addresses
// and keep their wallet address.
func (r *Resolver) Accounts(ctx context.Context, backend BackendID) ([]Account, error) {
	if backend.IsRaw() {
		return r.rawAccounts(ctx, backend)
	}
	ext, err := r.extension(ctx, backend)
	if err != nil {
		return nil, err
	}
	injected, err := ext.Accounts(ctx)
	if err != nil {
		return nil, providerFailure(backend, err)
	}
	out := make([]Account, 0, len(injected))
	for _, a := range injected {
		chain, err := address.ToChainAddress(a.Address)
		if err != nil {
			log.Warn(log.SignerModule, "skipping account", "backend", backend, "address", a.Address, "err", err)
			continue
		}
		acct := Account{ChainAddress: chain, Name: a.Name, Backend: backend}
		if !isHexAccount(a.Address) {
			acct.WalletAddress = a.Address
		}
		out = append(out, acct)
	}
	return out, nil
}

func (r *Resolver) rawAccounts(ctx context.Context, backend BackendID) ([]Account, error) {
	p, ok := r.providers[backend]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoWalletFound, backend.DisplayName())
	}
	listed, err := requestAccounts(ctx, p, "eth_requestAccounts")
	if err != nil {
		return nil, providerFailure(backend, err)
	}
	r.mu.Lock()
	r.grant(backend, listed)
	r.mu.Unlock()

	n, _ := p.(namer)
	out := make([]Account, 0, len(listed))
	for _, a := range listed {
		acct := Account{ChainAddress: a, Backend: backend}
		if n != nil {
			acct.Name = n.Name(a)
		}
		out = append(out, acct)
	}
	return out, nil
}

func requestAccounts(ctx context.Context, p Provider, method string) ([]string, error) {
	res, err := p.Request(ctx, method)
	if err != nil {
		return nil, err
	}
	var accounts []string
	if err := json.Unmarshal(res, &accounts); err != nil {
		return nil, fmt.Errorf("%s result: %w", method, err)
	}
	for i, a := range accounts {
		accounts[i] = strings.ToLower(a)
	}
	return accounts, nil
}

func providerFailure(backend BackendID, err error) error {
	var perr *ProviderError
	if errors.As(err, &perr) && perr.Code == CodeUserRejected {
		return fmt.Errorf("%w: %s: %s", ErrUserRejected, backend, perr.Message)
	}
	return fmt.Errorf("%s: %w", backend, err)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
