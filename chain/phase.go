package chain

import (
	"encoding/json"
	"fmt"
)

type Phase int

const (
	PhaseSetup Phase = iota
	PhasePlaying
	PhaseChainBroken
	PhaseGameOver
)

func (p Phase) String() string {
	switch p {
	case PhasePlaying:
		return "playing"
	case PhaseChainBroken:
		return "chain_broken"
	case PhaseGameOver:
		return "game_over"
	default:
		return "setup"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// BreakKind classifies why a chain ended. None of these are errors: they
// are ordinary gameplay outcomes.
type BreakKind int

const (
	InvalidAnswer BreakKind = iota
	AlreadyUsed
	TimerExpired
	PlayerGaveUp
)

func (k BreakKind) String() string {
	switch k {
	case AlreadyUsed:
		return "already_used"
	case TimerExpired:
		return "timer_expired"
	case PlayerGaveUp:
		return "gave_up"
	default:
		return "invalid_answer"
	}
}

func (k BreakKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// BreakReason carries what a player needs to be told about a chain break.
// Submitted is the rejected answer's name; Expected is the name it should
// have connected to.
type BreakReason struct {
	Kind      BreakKind `json:"kind"`
	Submitted string    `json:"submitted,omitempty"`
	Expected  string    `json:"expected,omitempty"`
}

func (r BreakReason) Message() string {
	switch r.Kind {
	case AlreadyUsed:
		return fmt.Sprintf("%q was already used in this chain", r.Submitted)
	case TimerExpired:
		return "Time ran out!"
	case PlayerGaveUp:
		return "Player gave up"
	default:
		return fmt.Sprintf("%q is not valid for %s", r.Submitted, r.Expected)
	}
}

func (r BreakReason) MarshalJSON() ([]byte, error) {
	type reason BreakReason

	return json.Marshal(struct {
		reason
		Message string `json:"message"`
	}{reason(r), r.Message()})
}
