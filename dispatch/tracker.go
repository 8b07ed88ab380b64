// Package dispatch signs and submits calls and follows them until they
// settle, resolving each submission exactly once.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.opentelemetry.io/otel/attribute"

	"github.com/colorfulnotion/flchain/address"
	"github.com/colorfulnotion/flchain/chain"
	"github.com/colorfulnotion/flchain/common"
	"github.com/colorfulnotion/flchain/log"
	"github.com/colorfulnotion/flchain/metrics"
	"github.com/colorfulnotion/flchain/registry"
	"github.com/colorfulnotion/flchain/signer"
	"github.com/colorfulnotion/flchain/storage"
	"github.com/colorfulnotion/flchain/telemetry"
	"github.com/colorfulnotion/flchain/types"
)

// DefaultEraPeriod is the mortality window in blocks.
const DefaultEraPeriod = 64

// Tracker submits signed calls over the shared connection.
type Tracker struct {
	opener    chain.Opener
	reg       *registry.Registry
	eraPeriod uint64
	timeout   time.Duration
	observer  Observer
	metrics   *metrics.Metrics
}

type Option func(*Tracker)

// WithTimeout bounds the wait for finality; zero waits until the context
// ends.
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.timeout = d }
}

// WithObserver reports every lifecycle transition.
func WithObserver(o Observer) Option {
	return func(t *Tracker) { t.observer = o }
}

// WithEraPeriod sets the mortality period; zero makes transactions immortal.
func WithEraPeriod(blocks uint64) Option {
	return func(t *Tracker) { t.eraPeriod = blocks }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

func NewTracker(opener chain.Opener, reg *registry.Registry, opts ...Option) *Tracker {
	t := &Tracker{
		opener:    opener,
		reg:       reg,
		eraPeriod: DefaultEraPeriod,
		metrics:   metrics.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Submit signs c as sender with ps, submits it and waits for it to settle.
// Errors before submission (bad sender, signing rejected, encoding) are
// returned as err; everything after resolves to an Outcome. Transport
// failures while preparing the payload resolve to TransportFailed.
func (t *Tracker) Submit(ctx context.Context, c *types.Call, sender string, ps signer.PayloadSigner) (out *Outcome, err error) {
	if !address.IsCanonical(sender) {
		return nil, fmt.Errorf("%w: sender %q must be 0x + 40 hex characters", address.ErrInvalidAddress, sender)
	}
	ctx, span := telemetry.Start(ctx, "dispatch.Submit",
		attribute.String("call", c.Pallet+"."+c.Method),
		attribute.String("sender", sender))
	start := time.Now()
	defer func() {
		if out != nil {
			t.metrics.ObserveSubmission(c.Method, out.Kind.String(), time.Since(start))
			telemetry.End(span, out.Err())
			return
		}
		telemetry.End(span, err)
	}()

	conn, err := t.opener.EnsureOpen(ctx)
	if err != nil {
		return transportFailed(common.Hash{}, err), nil
	}
	client := chain.NewClient(conn)

	payload, err := t.payload(ctx, client, c, sender)
	if err != nil {
		var transport *transportError
		if errors.As(err, &transport) {
			return transportFailed(common.Hash{}, transport.err), nil
		}
		return nil, err
	}

	res, err := ps.SignPayload(ctx, payload)
	if err != nil {
		log.Warn(log.DispatchModule, "signing failed", "call", c.String(), "err", err)
		return nil, err
	}
	ext, err := assemble(payload, sender, res)
	if err != nil {
		return nil, err
	}
	encoded, err := ext.Encode()
	if err != nil {
		return nil, err
	}
	hash := common.Blake2Hash(encoded)
	log.Info(log.DispatchModule, "submitting", "call", c.Pallet+"."+c.Method, "sender", sender, "nonce", uint64(payload.Nonce), "hash", hash.Hex())

	sub, err := client.SubmitAndWatchExtrinsic(ctx, encoded)
	if err != nil {
		log.Warn(log.DispatchModule, "submission rejected", "hash", hash.Hex(), "err", err)
		return transportFailed(hash, err), nil
	}
	defer func() {
		if uerr := sub.Unsubscribe(); uerr != nil {
			log.Debug(log.DispatchModule, "unwatch failed", "hash", hash.Hex(), "err", uerr)
		}
	}()
	return t.watch(ctx, client, sub, hash), nil
}

// transportError marks RPC failures while building the payload.
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func (t *Tracker) payload(ctx context.Context, client *chain.Client, c *types.Call, sender string) (*types.SignerPayload, error) {
	method, err := c.Encode()
	if err != nil {
		return nil, err
	}
	genesis, err := client.GetGenesisHash(ctx)
	if err != nil {
		return nil, &transportError{err}
	}
	finalized, err := client.GetFinalizedHead(ctx)
	if err != nil {
		return nil, &transportError{err}
	}
	header, err := client.GetHeader(ctx, &finalized)
	if err != nil {
		return nil, &transportError{err}
	}
	version, err := client.GetRuntimeVersion(ctx, &finalized)
	if err != nil {
		return nil, &transportError{err}
	}
	nonce, err := client.AccountNextIndex(ctx, sender)
	if err != nil {
		return nil, &transportError{err}
	}

	p := &types.SignerPayload{
		Address:            sender,
		BlockHash:          finalized,
		BlockNumber:        header.Number,
		Era:                types.ImmortalEra,
		GenesisHash:        genesis,
		Method:             method,
		Nonce:              hexutil.Uint64(nonce),
		SpecVersion:        hexutil.Uint(version.SpecVersion),
		TransactionVersion: hexutil.Uint(version.TransactionVersion),
		SignedExtensions:   t.reg.SignedExtensions,
		Version:            types.ExtrinsicVersion,
		WithMetadataHash:   t.reg.HasSignedExtension("CheckMetadataHash"),
	}
	if len(p.SignedExtensions) == 0 {
		p.SignedExtensions = types.SignedExtensions
	}
	if t.eraPeriod > 0 {
		p.Era = types.NewMortalEra(uint64(header.Number), t.eraPeriod)
	} else {
		p.BlockHash = genesis
	}
	return p, nil
}

func assemble(p *types.SignerPayload, sender string, res *signer.SignerResult) (*types.Extrinsic, error) {
	raw, err := hexutil.Decode(res.Signature)
	if err != nil {
		return nil, fmt.Errorf("signature is not hex: %v", err)
	}
	sig, err := types.ParseEncodedSignature(raw)
	if err != nil {
		return nil, err
	}
	return types.NewExtrinsic(p, common.HexToAddress(sender), sig), nil
}

// watch follows the status stream until the submission settles.
func (t *Tracker) watch(ctx context.Context, client *chain.Client, sub *chain.Subscription, hash common.Hash) *Outcome {
	lc := &lifecycle{observer: t.observer}
	_ = lc.advance(StatusBroadcasting, "submitted", common.Hash{})
	defer func() {
		if !lc.terminal() {
			log.Error(log.DispatchModule, "settled outside a terminal status", "hash", hash.Hex(), "status", lc.status)
		}
	}()

	var timeout <-chan time.Time
	if t.timeout > 0 {
		timer := time.NewTimer(t.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	fail := func(cause error) *Outcome {
		_ = lc.advance(StatusErrored, "", common.Hash{})
		log.Warn(log.DispatchModule, "submission failed", "hash", hash.Hex(), "err", cause)
		return transportFailed(hash, cause)
	}

	retracted := false
	for {
		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		case <-timeout:
			return fail(ErrTimeout)
		case msg, ok := <-sub.C():
			if !ok {
				var cause error
				select {
				case cause = <-sub.Err():
				default:
					cause = chain.ErrConnectionClosed
				}
				if retracted {
					cause = fmt.Errorf("retracted, then %w", cause)
				}
				return fail(cause)
			}
			var st types.ExtrinsicStatus
			if err := json.Unmarshal(msg, &st); err != nil {
				log.Warn(log.DispatchModule, "bad status", "hash", hash.Hex(), "status", string(msg), "err", err)
				continue
			}
			t.metrics.ObserveStatus(st.Kind)
			log.Debug(log.DispatchModule, "status", "hash", hash.Hex(), "status", st.Kind)

			switch st.Kind {
			case types.StatusFuture, types.StatusReady, types.StatusBroadcast:
			case types.StatusInBlock:
				retracted = false
				if err := lc.advance(StatusInBlock, st.Kind, st.BlockHash); err != nil {
					log.Warn(log.DispatchModule, "ignoring status", "hash", hash.Hex(), "err", err)
					continue
				}
				log.Info(log.DispatchModule, "in block", "hash", hash.Hex(), "block", st.BlockHash.Hex())
			case types.StatusRetracted:
				retracted = true
				log.Warn(log.DispatchModule, "block retracted", "hash", hash.Hex(), "block", st.BlockHash.Hex())
			case types.StatusFinalized:
				if lc.status == StatusBroadcasting {
					_ = lc.advance(StatusInBlock, st.Kind, st.BlockHash)
				}
				out := t.settle(ctx, client, hash, st.BlockHash)
				_ = lc.advance(StatusFinalized, st.Kind, st.BlockHash)
				log.Info(log.DispatchModule, "finalized", "hash", hash.Hex(), "block", st.BlockHash.Hex(), "outcome", out.Kind.String())
				return out
			case types.StatusDropped, types.StatusInvalid, types.StatusUsurped, types.StatusFinalityTimeout:
				return fail(fmt.Errorf("extrinsic %s", st.Kind))
			default:
				log.Warn(log.DispatchModule, "unknown status", "hash", hash.Hex(), "status", st.Kind)
			}
		}
	}
}

// settle reads the finalized block's events for the extrinsic. The node has
// already finalized it, so read failures leave the outcome Finalized with
// EventsErr set rather than reporting a retryable transport failure.
func (t *Tracker) settle(ctx context.Context, client *chain.Client, hash, blockHash common.Hash) *Outcome {
	out := &Outcome{Kind: Finalized, ExtrinsicHash: hash, BlockHash: blockHash, Index: -1}
	unverified := func(err error) *Outcome {
		out.EventsErr = fmt.Errorf("%w: %w", ErrEventsUnavailable, err)
		log.Warn(log.DispatchModule, "finalized without events", "hash", hash.Hex(), "block", blockHash.Hex(), "err", err)
		return out
	}

	block, err := client.GetBlock(ctx, &blockHash)
	if err != nil {
		return unverified(err)
	}
	out.BlockNumber = uint64(block.Block.Header.Number)
	idx, ok := block.Block.ExtrinsicIndex(hash)
	if !ok {
		return unverified(fmt.Errorf("extrinsic %s not in block %s", hash.Hex(), blockHash.Hex()))
	}
	out.Index = idx
	raw, err := client.GetStorage(ctx, storage.EventsKey, &blockHash)
	if err != nil {
		return unverified(err)
	}
	var records []types.EventRecord
	if raw != nil {
		if records, err = t.reg.DecodeEvents(raw); err != nil {
			return unverified(fmt.Errorf("decode events: %w", err))
		}
	}

	out.Events = types.EventsForExtrinsic(records, uint32(idx))
	if me := t.failure(out.Events); me != nil {
		out.Kind = DispatchFailed
		out.ModuleError = me
		log.Warn(log.DispatchModule, "dispatch failed", "hash", hash.Hex(), "err", me.Error())
	}
	return out
}

// failure finds a dispatch error among the extrinsic's events: a
// System.ExtrinsicFailed, or an Err result of a Sudo.Sudid.
func (t *Tracker) failure(events []types.EventRecord) *ModuleError {
	for i := range events {
		ev := &events[i]
		switch {
		case ev.Is("system", "ExtrinsicFailed"):
			de, err := registry.ExtrinsicFailure(ev)
			if err != nil {
				return &ModuleError{Section: "dispatch", Name: "Unknown", Docs: err.Error()}
			}
			return t.describe(de)
		case ev.Is("sudo", "Sudid"):
			if len(ev.Fields) == 0 {
				continue
			}
			res, ok := ev.Fields[0].Value.(registry.VariantValue)
			if !ok || res.Name != "Err" {
				continue
			}
			de, err := registry.DispatchErrorFromValue(res.Value)
			if err != nil {
				return &ModuleError{Section: "dispatch", Name: "Unknown", Docs: err.Error()}
			}
			return t.describe(de)
		}
	}
	return nil
}

func (t *Tracker) describe(de types.DispatchError) *ModuleError {
	if de.IsModule() {
		if info, err := t.reg.FindModuleError(de.Module); err == nil {
			return &ModuleError{Section: info.Section, Name: info.Name, Docs: strings.Join(info.Docs, " ")}
		}
	}
	if de.IsModule() {
		return &ModuleError{Section: "dispatch", Name: de.Name(), Docs: de.String()}
	}
	return &ModuleError{Section: "dispatch", Name: de.Name()}
}
