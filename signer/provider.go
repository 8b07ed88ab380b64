package signer

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/colorfulnotion/flchain/common"
	"github.com/colorfulnotion/flchain/log"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejected = 4001
	CodeUnauthorized = 4100
)

// Provider is an EIP-1193 style request interface.
type Provider interface {
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// ProviderError is an error returned by a provider. Code 4001 is a user
// rejection and matches ErrUserRejected.
type ProviderError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%d|%s", e.Code, e.Message)
}

func (e *ProviderError) ErrorCode() int {
	return e.Code
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrUserRejected && e.Code == CodeUserRejected
}

// providerSigner signs raw bytes with personal_sign.
type providerSigner struct {
	provider Provider
	address  string
}

// RawSignerFor returns a RawSigner that asks p to personal_sign as addr.
func RawSignerFor(p Provider, addr string) RawSigner {
	return &providerSigner{provider: p, address: addr}
}

func (s *providerSigner) SignRaw(ctx context.Context, raw *RawPayload) (*SignerResult, error) {
	res, err := s.provider.Request(ctx, "personal_sign", raw.Data, s.address)
	if err != nil {
		return nil, err
	}
	var sig string
	if err := json.Unmarshal(res, &sig); err != nil {
		return nil, fmt.Errorf("personal_sign result: %w", err)
	}
	id := raw.ID
	if id == 0 {
		id = 1
	}
	return &SignerResult{ID: id, Signature: sig}, nil
}

// Approver decides whether a prompting request is allowed; returning false
// rejects it with code 4001 as a user would.
type Approver func(method string, params []any) bool

// KeyProvider is an in-process provider over secp256k1 keys. It answers
// eth_accounts, eth_requestAccounts, personal_sign and eth_chainId.
type KeyProvider struct {
	mu        sync.Mutex
	keys      map[string]*ecdsa.PrivateKey
	names     map[string]string
	approve   Approver
	connected bool
	chainID   uint64
}

func NewKeyProvider() *KeyProvider {
	return &KeyProvider{
		keys:  make(map[string]*ecdsa.PrivateKey),
		names: make(map[string]string),
	}
}

// WithApprover installs a prompt simulator.
func (p *KeyProvider) WithApprover(a Approver) *KeyProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.approve = a
	return p
}

// AddKey registers a key and returns its lowercase chain address.
func (p *KeyProvider) AddKey(key *ecdsa.PrivateKey, name string) string {
	addr := common.PubkeyToAddress(key.PublicKey).Lower()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[addr] = key
	p.names[addr] = name
	return addr
}

// AddHexKey registers a 0x hex private key.
func (p *KeyProvider) AddHexKey(hexKey, name string) (string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	return p.AddKey(key, name), nil
}

// Name returns the label of addr.
func (p *KeyProvider) Name(addr string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.names[strings.ToLower(addr)]
}

func (p *KeyProvider) accounts() []string {
	out := make([]string, 0, len(p.keys))
	for addr := range p.keys {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

func (p *KeyProvider) allowed(method string, params []any) bool {
	return p.approve == nil || p.approve(method, params)
}

func (p *KeyProvider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	log.Trace(log.SignerModule, "provider request", "method", method)

	switch method {
	case "eth_accounts":
		if !p.connected {
			return json.Marshal([]string{})
		}
		return json.Marshal(p.accounts())
	case "eth_requestAccounts":
		if !p.allowed(method, params) {
			return nil, &ProviderError{Code: CodeUserRejected, Message: "User rejected the request."}
		}
		p.connected = true
		return json.Marshal(p.accounts())
	case "eth_chainId":
		return json.Marshal(hexutil.Uint64(p.chainID))
	case "personal_sign":
		return p.personalSign(params)
	}
	return nil, &ProviderError{Code: 4200, Message: fmt.Sprintf("method %s not supported", method)}
}

func (p *KeyProvider) personalSign(params []any) (json.RawMessage, error) {
	if len(params) != 2 {
		return nil, fmt.Errorf("personal_sign expects [message, address], got %d params", len(params))
	}
	msgHex, _ := params[0].(string)
	addr, _ := params[1].(string)
	key, ok := p.keys[strings.ToLower(addr)]
	if !ok || !p.connected {
		return nil, &ProviderError{Code: CodeUnauthorized, Message: fmt.Sprintf("account %s not authorized", addr)}
	}
	msg, err := hexutil.Decode(msgHex)
	if err != nil {
		return nil, fmt.Errorf("personal_sign message: %w", err)
	}
	if !p.allowed("personal_sign", params) {
		return nil, &ProviderError{Code: CodeUserRejected, Message: "User denied message signature."}
	}
	sig, err := common.PersonalSign(key, msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(hexutil.Encode(sig))
}
