package types

import (
	"fmt"
	"io"
	"strings"

	"github.com/colorfulnotion/flchain/codec"
	"github.com/colorfulnotion/flchain/common"
)

// Phase is the part of block execution an event was emitted in.
type Phase struct {
	IsApplyExtrinsic bool
	ExtrinsicIndex   uint32
	IsFinalization   bool
	IsInitialization bool
}

func (p Phase) MarshalSCALE() ([]byte, error) {
	switch {
	case p.IsApplyExtrinsic:
		return append([]byte{0}, common.Uint32ToBytes(p.ExtrinsicIndex)...), nil
	case p.IsFinalization:
		return []byte{1}, nil
	default:
		return []byte{2}, nil
	}
}

func (p *Phase) UnmarshalSCALE(r io.Reader) error {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return err
	}
	*p = Phase{}
	switch tag[0] {
	case 0:
		p.IsApplyExtrinsic = true
		return codec.NewDecoder(r).Decode(&p.ExtrinsicIndex)
	case 1:
		p.IsFinalization = true
	case 2:
		p.IsInitialization = true
	default:
		return fmt.Errorf("unknown phase %d", tag[0])
	}
	return nil
}

func (p Phase) String() string {
	switch {
	case p.IsApplyExtrinsic:
		return fmt.Sprintf("ApplyExtrinsic(%d)", p.ExtrinsicIndex)
	case p.IsFinalization:
		return "Finalization"
	default:
		return "Initialization"
	}
}

// EventField is one decoded event argument.
type EventField struct {
	Name  string `json:"name,omitempty"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// EventRecord is an entry of System.Events decoded against a runtime registry.
type EventRecord struct {
	Phase       Phase         `json:"-"`
	PhaseName   string        `json:"phase"`
	PalletIndex uint8         `json:"palletIndex"`
	EventIndex  uint8         `json:"eventIndex"`
	Section     string        `json:"section"`
	Method      string        `json:"method"`
	Fields      []EventField  `json:"data"`
	Topics      []common.Hash `json:"topics,omitempty"`
}

// Name is section.method, e.g. system.ExtrinsicSuccess.
func (e *EventRecord) Name() string {
	return e.Section + "." + e.Method
}

// Is matches section and method case-insensitively on the section.
func (e *EventRecord) Is(section, method string) bool {
	return strings.EqualFold(e.Section, section) && e.Method == method
}

// Field returns the value of the named field.
func (e *EventRecord) Field(name string) (any, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// EventsForExtrinsic filters records emitted while applying extrinsic idx.
func EventsForExtrinsic(records []EventRecord, idx uint32) []EventRecord {
	var out []EventRecord
	for _, r := range records {
		if r.Phase.IsApplyExtrinsic && r.Phase.ExtrinsicIndex == idx {
			out = append(out, r)
		}
	}
	return out
}
