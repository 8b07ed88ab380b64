package dispatch

import (
	"errors"
	"fmt"

	"github.com/colorfulnotion/flchain/common"
)

var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// Status is the tracker's view of a submission.
type Status string

const (
	StatusBroadcasting Status = "broadcasting"
	StatusInBlock      Status = "inBlock"
	StatusFinalized    Status = "finalized"
	StatusErrored      Status = "errored"
)

// Transition is reported to the Observer on every status change.
type Transition struct {
	From      Status
	To        Status
	BlockHash common.Hash
	// PoolStatus is the node's status name that caused the change.
	PoolStatus string
}

// Observer receives transitions in order on the submitting goroutine.
type Observer func(Transition)

var transitions = map[Status][]Status{
	"":                 {StatusBroadcasting},
	StatusBroadcasting: {StatusInBlock, StatusErrored},
	StatusInBlock:      {StatusInBlock, StatusFinalized, StatusErrored},
}

type lifecycle struct {
	status   Status
	observer Observer
}

func (l *lifecycle) advance(to Status, pool string, block common.Hash) error {
	for _, next := range transitions[l.status] {
		if next != to {
			continue
		}
		t := Transition{From: l.status, To: to, BlockHash: block, PoolStatus: pool}
		l.status = to
		if l.observer != nil {
			l.observer(t)
		}
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.status, to)
}

func (l *lifecycle) terminal() bool {
	return l.status == StatusFinalized || l.status == StatusErrored
}
