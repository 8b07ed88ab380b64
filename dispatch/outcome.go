package dispatch

import (
	"errors"
	"fmt"

	"github.com/colorfulnotion/flchain/common"
	"github.com/colorfulnotion/flchain/types"
)

var (
	ErrDispatchFailed  = errors.New("dispatch failed")
	ErrTransportFailed = errors.New("transport failed")
	ErrTimeout         = errors.New("timed out waiting for finality")
	// ErrEventsUnavailable marks a finalized extrinsic whose block or events
	// could not be read, so its dispatch result is unknown.
	ErrEventsUnavailable = errors.New("finalized, events unavailable")
)

// Kind tags an Outcome.
type Kind int

const (
	Finalized Kind = iota
	DispatchFailed
	TransportFailed
)

var kindNames = []string{"finalized", "dispatchFailed", "transportFailed"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ModuleError is a decoded dispatch failure. Errors outside a pallet's
// error enum use section "dispatch" and the DispatchError variant name.
type ModuleError struct {
	Section string `json:"section"`
	Name    string `json:"name"`
	Docs    string `json:"docs"`
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Section, e.Name, e.Docs)
}

func (e *ModuleError) Is(target error) bool {
	return target == ErrDispatchFailed
}

// Outcome is how a submission settled.
type Outcome struct {
	Kind          Kind                `json:"kind"`
	ExtrinsicHash common.Hash         `json:"extrinsicHash"`
	BlockHash     common.Hash         `json:"blockHash"`
	BlockNumber   uint64              `json:"blockNumber"`
	Index         int                 `json:"extrinsicIndex"`
	Events        []types.EventRecord `json:"events,omitempty"`
	ModuleError   *ModuleError        `json:"moduleError,omitempty"`
	Cause         error               `json:"-"`
	// EventsErr is set on a Finalized outcome whose events could not be
	// read. The extrinsic is on chain; resubmitting would apply it twice.
	EventsErr     error               `json:"-"`
}

// Unverified reports whether the chain finalized the extrinsic but its
// dispatch result could not be confirmed.
func (o *Outcome) Unverified() bool {
	return o.Kind == Finalized && o.EventsErr != nil
}

// Err is nil for Finalized, the *ModuleError for DispatchFailed and an
// ErrTransportFailed wrapping the cause otherwise.
func (o *Outcome) Err() error {
	switch o.Kind {
	case Finalized:
		return nil
	case DispatchFailed:
		if o.ModuleError == nil {
			return ErrDispatchFailed
		}
		return o.ModuleError
	}
	if o.Cause == nil {
		return ErrTransportFailed
	}
	return fmt.Errorf("%w: %w", ErrTransportFailed, o.Cause)
}

// Event returns the first event matching section and method.
func (o *Outcome) Event(section, method string) (*types.EventRecord, bool) {
	for i := range o.Events {
		if o.Events[i].Is(section, method) {
			return &o.Events[i], true
		}
	}
	return nil, false
}

func transportFailed(hash common.Hash, cause error) *Outcome {
	return &Outcome{Kind: TransportFailed, ExtrinsicHash: hash, Cause: cause}
}
