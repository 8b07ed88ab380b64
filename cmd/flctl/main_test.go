package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/colorfulnotion/flchain/address"
	"github.com/colorfulnotion/flchain/call"
	"github.com/colorfulnotion/flchain/dispatch"
	"github.com/colorfulnotion/flchain/signer"
)

func TestExitCodes(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: %w", signer.ErrSigningRejected, signer.ErrUserRejected), 2},
		{fmt.Errorf("%w: accuracy", call.ErrInvalidArguments), 3},
		{address.ErrInvalidAddress, 3},
		{&dispatch.ModuleError{Section: "federatedLearning", Name: "NotAdmin"}, 4},
		{(&dispatch.Outcome{Kind: dispatch.TransportFailed, Cause: errors.New("eof")}).Err(), 5},
		{errors.New("other"), 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, exitCode(tc.err), tc.err.Error())
	}
}

func TestDescribeCancellation(t *testing.T) {
	assert.Equal(t, "cancelled in the wallet", describe(fmt.Errorf("%w: user denied", signer.ErrSigningRejected)))
	assert.Equal(t, "boom", describe(errors.New("boom")))
}

func TestFormatOutcome(t *testing.T) {
	out := &dispatch.Outcome{Kind: dispatch.DispatchFailed, BlockNumber: 9, ModuleError: &dispatch.ModuleError{Section: "federatedLearning", Name: "NotAdmin", Docs: "The sender is not an administrator."}}
	assert.Equal(t, "dispatch failed in block #9: federatedLearning.NotAdmin: The sender is not an administrator.", formatOutcome(out))
	assert.Equal(t, "transport failed: eof", formatOutcome(&dispatch.Outcome{Kind: dispatch.TransportFailed, Cause: errors.New("eof")}))

	unverified := &dispatch.Outcome{Kind: dispatch.Finalized, Index: -1, EventsErr: fmt.Errorf("%w: eof", dispatch.ErrEventsUnavailable)}
	assert.Contains(t, formatOutcome(unverified), "result unknown: finalized, events unavailable: eof")
	assert.Contains(t, formatOutcome(unverified), "do not resubmit")
}
