package calls

import (
	"context"
	"fmt"

	"github.com/qmuntal/stateless"
)

// Triggers for the session status machine. Each writable target status has
// exactly one trigger, so a requested transition maps 1:1 onto a firing.
const (
	triggerAccept  = "accept"
	triggerHangUp  = "hang_up"
	triggerDecline = "decline"
)

func triggerFor(to SessionStatus) (string, bool) {
	switch to {
	case StatusActive:
		return triggerAccept, true
	case StatusEnded:
		return triggerHangUp, true
	case StatusMissed:
		return triggerDecline, true
	}
	// inviting is create-only and never a transition target.
	return "", false
}

// newStatusMachine builds the lifecycle machine rooted at the given status.
//
//	inviting -> active | ended | missed
//	active   -> ended
//	ended, missed: terminal
func newStatusMachine(from SessionStatus) *stateless.StateMachine {
	m := stateless.NewStateMachine(from)
	m.Configure(StatusInviting).
		Permit(triggerAccept, StatusActive).
		Permit(triggerHangUp, StatusEnded).
		Permit(triggerDecline, StatusMissed)
	m.Configure(StatusActive).
		Permit(triggerHangUp, StatusEnded)
	m.Configure(StatusEnded)
	m.Configure(StatusMissed)
	return m
}

// nextStatus validates from->to against the lifecycle machine and returns the
// resulting status. Illegal requests come back as ErrInvalidTransition.
func nextStatus(ctx context.Context, from, to SessionStatus) (SessionStatus, error) {
	trigger, ok := triggerFor(to)
	if !ok {
		return "", fmt.Errorf("%w: %q is not a transition target", ErrInvalidTransition, to)
	}
	m := newStatusMachine(from)
	if err := m.FireCtx(ctx, trigger); err != nil {
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	state, err := m.State(ctx)
	if err != nil {
		return "", fmt.Errorf("read machine state: %w", err)
	}
	next, ok := state.(SessionStatus)
	if !ok {
		return "", fmt.Errorf("unexpected machine state %v", state)
	}
	return next, nil
}
