// Package call builds the runtime calls of the federated learning pallet
// from typed, validated arguments.
package call

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/colorfulnotion/flchain/address"
	"github.com/colorfulnotion/flchain/common"
	"github.com/colorfulnotion/flchain/registry"
	"github.com/colorfulnotion/flchain/types"
)

var ErrInvalidArguments = errors.New("invalid arguments")

// DefaultPallet is the runtime pallet the calls belong to.
const DefaultPallet = "FederatedLearning"

// MaxAccuracy is 100% in basis points.
const MaxAccuracy = 10000

// Method names a pallet call.
type Method string

const (
	SubmitLocalModel  Method = "submit-local-model"
	UpdateGlobalModel Method = "update-global-model"
	ForceAuthorize    Method = "force-authorize"
	ForceUnauthorize  Method = "force-unauthorize"
)

// Methods lists every supported call.
var Methods = []Method{SubmitLocalModel, UpdateGlobalModel, ForceAuthorize, ForceUnauthorize}

// RuntimeName is the call name in the runtime, e.g. submit_local_model.
func (m Method) RuntimeName() string {
	return strings.ReplaceAll(string(m), "-", "_")
}

// ParseMethod accepts the dashed or the runtime form.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ReplaceAll(strings.ToLower(s), "_", "-"))
	for _, known := range Methods {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unknown method %q", ErrInvalidArguments, s)
}

// Args are the typed arguments of one method.
type Args interface {
	Method() Method
	values() ([]any, error)
}

type SubmitLocalModelArgs struct {
	ModelHash string `json:"modelHash"`
	Accuracy  int64  `json:"accuracy"`
	CID       string `json:"cid"`
	Note      string `json:"note"`
}

func (SubmitLocalModelArgs) Method() Method { return SubmitLocalModel }

func (a SubmitLocalModelArgs) values() ([]any, error) {
	hash, err := parseHash("model hash", a.ModelHash)
	if err != nil {
		return nil, err
	}
	if a.Accuracy < 0 || a.Accuracy > MaxAccuracy {
		return nil, fmt.Errorf("%w: accuracy %d outside [0, %d]", ErrInvalidArguments, a.Accuracy, MaxAccuracy)
	}
	return []any{hash, uint32(a.Accuracy), []byte(a.CID), []byte(a.Note)}, nil
}

type UpdateGlobalModelArgs struct {
	Hash         string `json:"hash"`
	CID          string `json:"cid"`
	WeightChange int64  `json:"weightChange"`
}

func (UpdateGlobalModelArgs) Method() Method { return UpdateGlobalModel }

func (a UpdateGlobalModelArgs) values() ([]any, error) {
	hash, err := parseHash("hash", a.Hash)
	if err != nil {
		return nil, err
	}
	if a.WeightChange < 0 || a.WeightChange > math.MaxUint32 {
		return nil, fmt.Errorf("%w: weight change %d outside [0, %d]", ErrInvalidArguments, a.WeightChange, uint32(math.MaxUint32))
	}
	return []any{hash, []byte(a.CID), uint32(a.WeightChange)}, nil
}

type ForceAuthorizeArgs struct {
	Account     string `json:"account"`
	Institution string `json:"institution"`
}

func (ForceAuthorizeArgs) Method() Method { return ForceAuthorize }

func (a ForceAuthorizeArgs) values() ([]any, error) {
	account, err := parseAccount(a.Account)
	if err != nil {
		return nil, err
	}
	institution := strings.TrimSpace(a.Institution)
	if institution == "" {
		return nil, fmt.Errorf("%w: institution is empty", ErrInvalidArguments)
	}
	return []any{account, []byte(institution)}, nil
}

type ForceUnauthorizeArgs struct {
	Account string `json:"account"`
}

func (ForceUnauthorizeArgs) Method() Method { return ForceUnauthorize }

func (a ForceUnauthorizeArgs) values() ([]any, error) {
	account, err := parseAccount(a.Account)
	if err != nil {
		return nil, err
	}
	return []any{account}, nil
}

func parseHash(what, s string) (common.Hash, error) {
	if !common.IsHexWithLength(s, 32) {
		return common.Hash{}, fmt.Errorf("%w: %s %q is not 0x + 64 hex characters", ErrInvalidArguments, what, s)
	}
	return common.HexToHash(s), nil
}

func parseAccount(s string) (common.Address, error) {
	chain, err := address.ToChainAddress(strings.TrimSpace(s))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: account: %w", ErrInvalidArguments, err)
	}
	return common.HexToAddress(chain), nil
}

// Builder resolves call indices against a runtime description.
type Builder struct {
	reg    *registry.Registry
	pallet string
}

func NewBuilder(reg *registry.Registry, pallet string) *Builder {
	if pallet == "" {
		pallet = DefaultPallet
	}
	return &Builder{reg: reg, pallet: pallet}
}

// Build validates args for method and returns the encoded-ready call.
func (b *Builder) Build(method Method, args Args) (*types.Call, error) {
	if args == nil {
		return nil, fmt.Errorf("%w: no arguments for %s", ErrInvalidArguments, method)
	}
	if args.Method() != method {
		return nil, fmt.Errorf("%w: %T does not belong to %s", ErrInvalidArguments, args, method)
	}
	values, err := args.values()
	if err != nil {
		return nil, err
	}
	info, err := b.reg.Call(b.pallet, method.RuntimeName())
	if err != nil {
		return nil, err
	}
	if len(info.Args) != len(values) {
		return nil, fmt.Errorf("%w: %s.%s takes %d arguments in this runtime, have %d", ErrInvalidArguments, info.Pallet, info.Method, len(info.Args), len(values))
	}
	return types.NewCall(info.Pallet, info.Method, info.PalletIndex, info.CallIndex, values...), nil
}

// Build is NewBuilder(reg, DefaultPallet).Build(method, args).
func Build(reg *registry.Registry, method Method, args Args) (*types.Call, error) {
	return NewBuilder(reg, DefaultPallet).Build(method, args)
}
