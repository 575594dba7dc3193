package chain

import "slices"

type EventType int

const (
	EventState EventType = iota
	EventTick
	EventWarning
	EventBreak
	EventGameOver
	EventSearch
)

func (t EventType) String() string {
	switch t {
	case EventTick:
		return "tick"
	case EventWarning:
		return "warning"
	case EventBreak:
		return "break"
	case EventGameOver:
		return "game_over"
	case EventSearch:
		return "search"
	default:
		return "state"
	}
}

// Event is published to subscribers after every change, carrying the state
// as it was immediately after the change.
type Event struct {
	Type     EventType
	Snapshot Snapshot
}

// Snapshot is a copy of everything a player-facing surface shows.
type Snapshot struct {
	Phase        Phase    `json:"phase"`
	Mode         Mode     `json:"mode"`
	TimerSeconds int      `json:"timer_seconds"`
	Players      []Player `json:"players"`
	Current      int      `json:"current"`
	Expected     Kind     `json:"expected"`
	Prompt       string   `json:"prompt"`
	Chain        []Link   `json:"chain"`

	Remaining    int  `json:"remaining"`
	TimerRunning bool `json:"timer_running"`
	Warning      bool `json:"warning"`

	Reason *BreakReason `json:"reason,omitempty"`
	Winner *Player      `json:"winner,omitempty"`

	LongestChain int `json:"longest_chain"`
	ChainsBroken int `json:"chains_broken"`

	Query     string `json:"query"`
	Results   []Link `json:"results"`
	Searching bool   `json:"searching"`
}

// CurrentPlayer returns the player whose turn it is.
func (s Snapshot) CurrentPlayer() Player {
	if s.Current < 0 || s.Current >= len(s.Players) {
		return Player{}
	}

	return s.Players[s.Current]
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	s := Snapshot{
		Phase:        e.phase,
		Mode:         e.mode,
		TimerSeconds: int(e.duration.Seconds()),
		Players:      slices.Clone(e.players),
		Current:      e.current,
		Expected:     e.expectedLocked(),
		Prompt:       e.promptLocked(),
		Chain:        slices.Clone(e.links),
		Remaining:    e.remaining,
		TimerRunning: e.timerRunning,
		Warning:      e.timerRunning && e.remaining <= e.warnAt,
		LongestChain: e.longest,
		ChainsBroken: e.broken,
		Query:        e.query,
		Results:      slices.Clone(e.results),
		Searching:    e.searching,
	}

	if e.reason != nil && (e.phase == PhaseChainBroken || e.phase == PhaseGameOver) {
		reason := *e.reason
		s.Reason = &reason
	}

	if e.phase == PhaseGameOver && e.winner >= 0 {
		winner := e.players[e.winner]
		s.Winner = &winner
	}

	return s
}

func (e *Engine) promptLocked() string {
	if len(e.links) == 0 {
		return "Pick an actor or movie to begin!"
	}

	tail := e.links[len(e.links)-1]
	if tail.Kind() == KindMovie {
		return "Name an actor from \"" + tail.Name() + "\""
	}

	return "Name a movie with " + tail.Name()
}

// Subscribe returns a channel of events and a function that cancels the
// subscription. Events are dropped rather than block the engine when the
// subscriber falls behind; the next event carries the full state anyway.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		close(ch)
		return ch, func() {}
	}

	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
}

func (e *Engine) emitLocked(t EventType) {
	if e.closed || len(e.subs) == 0 {
		return
	}

	ev := Event{Type: t, Snapshot: e.snapshotLocked()}

	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
