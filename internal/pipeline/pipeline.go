// Package pipeline holds the track review state machine: the fixed forward
// phase sequence, the gates on each hop, and the archive path.
package pipeline

import (
	"errors"
	"fmt"

	"greenroom/api/internal/rbac"
)

type Phase string

const (
	PhaseInbox        Phase = "inbox"
	PhaseSecondListen Phase = "second_listen"
	PhaseTeamReview   Phase = "team_review"
	PhaseContracting  Phase = "contracting"
	PhaseUpcoming     Phase = "upcoming"
	PhaseVault        Phase = "vault"
)

// order is the only legal sequence. Tracks never skip and never move back.
var order = []Phase{
	PhaseInbox,
	PhaseSecondListen,
	PhaseTeamReview,
	PhaseContracting,
	PhaseUpcoming,
	PhaseVault,
}

var (
	ErrAlreadyFinal      = errors.New("track is already in the vault")
	ErrEnergyRequired    = errors.New("energy rating required before team review")
	ErrContractNotSigned = errors.New("contract must be signed before scheduling")
	ErrReasonRequired    = errors.New("rejection reason required")
	ErrForbidden         = errors.New("permission denied for this transition")
	ErrArchived          = errors.New("track is archived")
	ErrUnknownPhase      = errors.New("unknown phase")
)

func ParsePhase(raw string) (Phase, error) {
	for _, p := range order {
		if string(p) == raw {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPhase, raw)
}

func (p Phase) Terminal() bool {
	return p == PhaseVault
}

// Next returns the following phase. ok is false for the terminal phase.
func (p Phase) Next() (Phase, bool) {
	for i, candidate := range order {
		if candidate == p && i+1 < len(order) {
			return order[i+1], true
		}
	}
	return "", false
}

// State is the slice of a track the state machine reads. Callers convert
// from their row representation at the boundary.
type State struct {
	Phase          Phase
	Archived       bool
	Energy         int
	ContractSigned bool
}

// Outcome describes what a successful advance must persist.
type Outcome struct {
	Next Phase
	// SnapshotRelease is set on the contracting → upcoming hop: the target
	// release date becomes the scheduled release date at that moment.
	SnapshotRelease bool
	// MarkSecondListen is set on the inbox → second_listen hop.
	MarkSecondListen bool
}

// Advance runs every gate for the next hop. It never mutates anything; the
// caller persists the outcome against the authoritative store.
func Advance(state State, perms rbac.Permissions) (Outcome, error) {
	if state.Archived {
		return Outcome{}, ErrArchived
	}
	if state.Phase.Terminal() {
		return Outcome{}, ErrAlreadyFinal
	}
	next, ok := state.Phase.Next()
	if !ok {
		return Outcome{}, ErrAlreadyFinal
	}

	if !hopPermitted(state.Phase, perms) {
		return Outcome{}, ErrForbidden
	}

	switch state.Phase {
	case PhaseSecondListen:
		if state.Energy == 0 {
			return Outcome{}, ErrEnergyRequired
		}
	case PhaseContracting:
		if !state.ContractSigned {
			return Outcome{}, ErrContractNotSigned
		}
	}

	return Outcome{
		Next:             next,
		SnapshotRelease:  state.Phase == PhaseContracting,
		MarkSecondListen: state.Phase == PhaseInbox,
	}, nil
}

// hopPermitted maps the capability flags onto the hop being attempted.
// Lobby covers leaving the inbox, office covers both review stages, and
// contract covers entering the release schedule. The final hop into the
// vault requires vault access.
func hopPermitted(from Phase, perms rbac.Permissions) bool {
	switch from {
	case PhaseInbox:
		return perms.CanAdvanceLobby
	case PhaseSecondListen, PhaseTeamReview:
		return perms.CanAdvanceOffice
	case PhaseContracting:
		return perms.CanAdvanceContract
	case PhaseUpcoming:
		return perms.CanAccessVault
	default:
		return false
	}
}

const DefaultRejectionReason = "No reason provided"

// Reject validates the archive path. The phase is left untouched so history
// survives; only the archived flag and reason change.
func Reject(state State, reason string, reasonRequired bool, perms rbac.Permissions) (string, error) {
	if state.Archived {
		return "", ErrArchived
	}
	if !perms.CanAccessArchive {
		return "", ErrForbidden
	}
	if reason == "" {
		if reasonRequired {
			return "", ErrReasonRequired
		}
		reason = DefaultRejectionReason
	}
	return reason, nil
}
