package chain

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how chain breaks are punished and how players are ranked.
type Mode int

const (
	// Elimination gives every player a fixed number of lives. A chain break
	// costs the current player one; the last player standing wins.
	Elimination Mode = iota
	// Scored runs a turn timer and awards points for every timed answer,
	// more for faster ones. Chain breaks cost nothing.
	Scored
	// Endless has no lives, timer or scoring, and ends only when asked.
	Endless
)

const (
	DefaultLives = 3
	DefaultTimer = 30 * time.Second
	MinPlayers   = 2
	MaxPlayers   = 8
)

// TimerChoices are the turn durations offered to players.
var TimerChoices = []time.Duration{
	15 * time.Second,
	20 * time.Second,
	30 * time.Second,
	45 * time.Second,
	60 * time.Second,
}

var Modes = []Mode{Elimination, Scored, Endless}

func (m Mode) String() string {
	switch m {
	case Scored:
		return "timed"
	case Endless:
		return "endless"
	default:
		return "classic"
	}
}

func (m Mode) Title() string {
	switch m {
	case Scored:
		return "Speed Round"
	case Endless:
		return "Party Mode"
	default:
		return "Classic"
	}
}

func (m Mode) Description() string {
	switch m {
	case Scored:
		return "Race against the clock. Points for speed!"
	case Endless:
		return "No pressure. See how long you can keep the chain going!"
	default:
		return fmt.Sprintf("Each player has %d lives. Last one standing wins!", DefaultLives)
	}
}

func (m Mode) HasLives() bool   { return m == Elimination }
func (m Mode) HasTimer() bool   { return m == Scored }
func (m Mode) HasScoring() bool { return m == Scored }

func (m Mode) valid() bool {
	return m >= Elimination && m <= Endless
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "classic", "elimination":
		return Elimination, nil
	case "timed", "scored", "speed":
		return Scored, nil
	case "endless", "party":
		return Endless, nil
	}

	return Elimination, fmt.Errorf("%w: unknown mode %q", ErrInvalidSetting, s)
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}

	*m = parsed

	return nil
}
