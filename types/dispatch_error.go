package types

import (
	"fmt"
	"io"
)

// DispatchErrorKind is the variant index of sp_runtime::DispatchError.
type DispatchErrorKind uint8

const (
	DispatchOther DispatchErrorKind = iota
	DispatchCannotLookup
	DispatchBadOrigin
	DispatchModule
	DispatchConsumerRemaining
	DispatchNoProviders
	DispatchTooManyConsumers
	DispatchToken
	DispatchArithmetic
	DispatchTransactional
	DispatchExhausted
	DispatchCorruption
	DispatchUnavailable
	DispatchRootNotAllowed
)

var dispatchErrorNames = []string{
	"Other", "CannotLookup", "BadOrigin", "Module", "ConsumerRemaining",
	"NoProviders", "TooManyConsumers", "Token", "Arithmetic", "Transactional",
	"Exhausted", "Corruption", "Unavailable", "RootNotAllowed",
}

var tokenErrorNames = []string{
	"FundsUnavailable", "OnlyProvider", "BelowMinimum", "CannotCreate",
	"UnknownAsset", "Frozen", "Unsupported", "CannotCreateHold",
	"NotExpendable", "Blocked",
}

var arithmeticErrorNames = []string{"Underflow", "Overflow", "DivisionByZero"}

var transactionalErrorNames = []string{"LimitReached", "NoLayer"}

func (k DispatchErrorKind) String() string {
	if int(k) < len(dispatchErrorNames) {
		return dispatchErrorNames[k]
	}
	return fmt.Sprintf("DispatchError(%d)", uint8(k))
}

// ModuleErrorIndex locates a pallet error: the pallet index and the
// error variant in the first byte of Error.
type ModuleErrorIndex struct {
	Index uint8
	Error [4]byte
}

// DispatchError is the reason an included extrinsic failed.
type DispatchError struct {
	Kind   DispatchErrorKind
	Module ModuleErrorIndex
	// Sub is the inner variant for Token, Arithmetic and Transactional.
	Sub uint8
}

func (e DispatchError) MarshalSCALE() ([]byte, error) {
	out := []byte{byte(e.Kind)}
	switch e.Kind {
	case DispatchModule:
		out = append(out, e.Module.Index)
		out = append(out, e.Module.Error[:]...)
	case DispatchToken, DispatchArithmetic, DispatchTransactional:
		out = append(out, e.Sub)
	}
	return out, nil
}

func (e *DispatchError) UnmarshalSCALE(r io.Reader) error {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return err
	}
	*e = DispatchError{Kind: DispatchErrorKind(tag[0])}
	switch e.Kind {
	case DispatchModule:
		var b [5]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return fmt.Errorf("module error: %w", err)
		}
		e.Module.Index = b[0]
		copy(e.Module.Error[:], b[1:])
	case DispatchToken, DispatchArithmetic, DispatchTransactional:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return fmt.Errorf("%s error: %w", e.Kind, err)
		}
		e.Sub = b[0]
	default:
		if int(e.Kind) >= len(dispatchErrorNames) {
			return fmt.Errorf("unknown dispatch error variant %d", tag[0])
		}
	}
	return nil
}

// IsModule reports whether a pallet raised the error.
func (e DispatchError) IsModule() bool {
	return e.Kind == DispatchModule
}

// Name is the variant name, qualified with the inner variant where one
// exists (Token.FundsUnavailable).
func (e DispatchError) Name() string {
	var inner []string
	switch e.Kind {
	case DispatchToken:
		inner = tokenErrorNames
	case DispatchArithmetic:
		inner = arithmeticErrorNames
	case DispatchTransactional:
		inner = transactionalErrorNames
	default:
		return e.Kind.String()
	}
	if int(e.Sub) < len(inner) {
		return e.Kind.String() + "." + inner[e.Sub]
	}
	return fmt.Sprintf("%s(%d)", e.Kind, e.Sub)
}

func (e DispatchError) String() string {
	if e.IsModule() {
		return fmt.Sprintf("Module{index: %d, error: 0x%x}", e.Module.Index, e.Module.Error)
	}
	return e.Name()
}

// DispatchErrorFromVariant builds the typed error from a decoded variant
// name, its inner variant name and, for Module, the pallet and error bytes.
func DispatchErrorFromVariant(name, sub string, moduleIndex uint8, moduleError []byte) (DispatchError, error) {
	kind := -1
	for i, n := range dispatchErrorNames {
		if n == name {
			kind = i
			break
		}
	}
	if kind < 0 {
		return DispatchError{}, fmt.Errorf("unknown dispatch error variant %q", name)
	}
	e := DispatchError{Kind: DispatchErrorKind(kind)}
	switch e.Kind {
	case DispatchModule:
		e.Module.Index = moduleIndex
		copy(e.Module.Error[:], moduleError)
	case DispatchToken:
		e.Sub = indexOf(tokenErrorNames, sub)
	case DispatchArithmetic:
		e.Sub = indexOf(arithmeticErrorNames, sub)
	case DispatchTransactional:
		e.Sub = indexOf(transactionalErrorNames, sub)
	}
	return e, nil
}

func indexOf(names []string, name string) uint8 {
	for i, n := range names {
		if n == name {
			return uint8(i)
		}
	}
	return 0xff
}
