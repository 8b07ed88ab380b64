// Package fedlearn exposes the FederatedLearning pallet to user interfaces:
// the four write operations, each run through signer resolution, call
// building, payload signing and dispatch, and the read-only queries.
package fedlearn

import (
	"context"
	"errors"
	"fmt"

	"github.com/colorfulnotion/flchain/address"
	"github.com/colorfulnotion/flchain/call"
	"github.com/colorfulnotion/flchain/common"
	"github.com/colorfulnotion/flchain/dispatch"
	"github.com/colorfulnotion/flchain/journal"
	"github.com/colorfulnotion/flchain/log"
	"github.com/colorfulnotion/flchain/signer"
	"github.com/colorfulnotion/flchain/storage"
	"github.com/colorfulnotion/flchain/types"
)

// Sender is the account a write operation is signed by and the wallet
// backend that holds it.
type Sender struct {
	Address       string           `json:"address"`
	WalletAddress string           `json:"originalAddress,omitempty"`
	Backend       signer.BackendID `json:"source"`
}

func (s Sender) identity() signer.Identity {
	return signer.Identity{ChainAddress: s.Address, WalletAddress: s.WalletAddress}
}

// Service is safe for concurrent use; submissions from different goroutines
// settle independently.
type Service struct {
	resolver *signer.Resolver
	builder  *call.Builder
	tracker  *dispatch.Tracker
	querier  *storage.Querier
	journal  *journal.Journal
	scheme   types.SignatureScheme
}

type Option func(*Service)

// WithJournal records every settled submission.
func WithJournal(j *journal.Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithScheme selects how adapted raw signatures are encoded.
func WithScheme(scheme types.SignatureScheme) Option {
	return func(s *Service) { s.scheme = scheme }
}

func New(resolver *signer.Resolver, builder *call.Builder, tracker *dispatch.Tracker, querier *storage.Querier, opts ...Option) *Service {
	s := &Service{
		resolver: resolver,
		builder:  builder,
		tracker:  tracker,
		querier:  querier,
		scheme:   types.SchemeEthereum,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) SubmitLocalModel(ctx context.Context, from Sender, args call.SubmitLocalModelArgs) (*dispatch.Outcome, error) {
	return s.Submit(ctx, from, args)
}

func (s *Service) UpdateGlobalModel(ctx context.Context, from Sender, args call.UpdateGlobalModelArgs) (*dispatch.Outcome, error) {
	return s.Submit(ctx, from, args)
}

func (s *Service) ForceAuthorize(ctx context.Context, from Sender, args call.ForceAuthorizeArgs) (*dispatch.Outcome, error) {
	return s.Submit(ctx, from, args)
}

func (s *Service) ForceUnauthorize(ctx context.Context, from Sender, args call.ForceUnauthorizeArgs) (*dispatch.Outcome, error) {
	return s.Submit(ctx, from, args)
}

// Submit runs one write operation. A declined wallet prompt, at account
// access or at signing, returns signer.ErrSigningRejected and nothing is
// sent. Failures after submission come back as the Outcome.
func (s *Service) Submit(ctx context.Context, from Sender, args call.Args) (*dispatch.Outcome, error) {
	if args == nil {
		return nil, fmt.Errorf("%w: no arguments", call.ErrInvalidArguments)
	}
	method := args.Method()
	if !address.IsCanonical(from.Address) {
		return nil, fmt.Errorf("%w: sender %q must be 0x + 40 hex characters", address.ErrInvalidAddress, from.Address)
	}

	capability, err := s.resolver.Resolve(ctx, from.identity(), from.Backend)
	if err != nil {
		if errors.Is(err, signer.ErrUserRejected) {
			log.Info(log.FLModule, "wallet access declined", "method", method, "backend", from.Backend)
			return nil, fmt.Errorf("%w: %w", signer.ErrSigningRejected, err)
		}
		return nil, err
	}
	c, err := s.builder.Build(method, args)
	if err != nil {
		return nil, err
	}
	ps, err := capability.PayloadSigner(signer.WithScheme(s.scheme))
	if err != nil {
		return nil, err
	}

	log.Info(log.FLModule, "submitting", "method", method, "sender", from.Address, "backend", from.Backend)
	out, err := s.tracker.Submit(ctx, c, from.Address, ps)
	if err != nil {
		if errors.Is(err, signer.ErrSigningRejected) {
			log.Info(log.FLModule, "signing cancelled", "method", method)
		}
		return nil, err
	}
	s.record(method, from.Address, out)
	return out, nil
}

func (s *Service) record(method call.Method, sender string, out *dispatch.Outcome) {
	if s.journal == nil {
		return
	}
	e := journal.Entry{
		Method:        string(method),
		Sender:        sender,
		ExtrinsicHash: out.ExtrinsicHash,
		Outcome:       out.Kind.String(),
		BlockHash:     out.BlockHash,
		BlockNumber:   out.BlockNumber,
	}
	if err := out.Err(); err != nil {
		e.Error = err.Error()
	} else if out.Unverified() {
		e.Error = out.EventsErr.Error()
	}
	if err := s.journal.Append(e); err != nil {
		log.Warn(log.FLModule, "journal append failed", "hash", out.ExtrinsicHash.Hex(), "err", err)
	}
}

// History lists recorded submissions, newest first.
func (s *Service) History(limit int) ([]journal.Entry, error) {
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.List(limit)
}

func (s *Service) Wallets(ctx context.Context) ([]signer.Wallet, error) {
	return s.resolver.Wallets(ctx)
}

func (s *Service) Accounts(ctx context.Context, backend signer.BackendID) ([]signer.Account, error) {
	return s.resolver.Accounts(ctx, backend)
}

// ModelHashFromFile derives a model hash from the model file's contents.
func ModelHashFromFile(path string) (string, error) {
	h, err := common.HashFile(path)
	if err != nil {
		return "", err
	}
	return h.Hex(), nil
}

// ModelHashFromString derives a model hash from a text identifier.
func ModelHashFromString(s string) string {
	return common.HashString(s).Hex()
}
