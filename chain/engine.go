// Package chain runs a game of Movie Chain: players take turns extending a
// chain that alternates between movies and the people who appeared in them,
// with every answer checked against a reference graph.
package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/moviechain/moviedb"
	"go.uber.org/zap"
)

// Graph is the read-only view of the reference data the engine needs.
// *moviedb.Store satisfies it.
type Graph interface {
	Ready() bool
	GetMovie(ctx context.Context, id string) (*moviedb.Movie, error)
	GetPerson(ctx context.Context, id string) (*moviedb.Person, error)
	SearchMovies(ctx context.Context, query string, limit int) ([]moviedb.Movie, error)
	SearchPeople(ctx context.Context, query string, limit int) ([]moviedb.Person, error)
	SearchPeopleInMovie(ctx context.Context, query, movieID string, limit int) ([]moviedb.Person, error)
	SearchMoviesWithPerson(ctx context.Context, query, personID string, limit int) ([]moviedb.Movie, error)
	IsAppearance(ctx context.Context, personID, movieID string) (bool, error)
}

// Engine owns all state for one game. Every mutation happens under mu, so a
// timer expiry and a submission can never both apply to the same turn.
type Engine struct {
	graph Graph
	log   *zap.Logger
	score *ScorePolicy

	lives    int
	warnAt   int
	tick     time.Duration
	debounce time.Duration
	workers  int

	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan searchJob
	wg     sync.WaitGroup

	mu sync.Mutex

	mode     Mode
	duration time.Duration
	players  []Player

	phase   Phase
	reason  *BreakReason
	winner  int
	current int

	links      []Link
	usedMovies map[string]bool
	usedPeople map[string]bool

	// gen changes whenever a turn ends. Submissions and timer ticks that
	// started under an older generation are discarded.
	gen          uint64
	remaining    int
	warned       bool
	timerRunning bool
	stopTimer    chan struct{}

	longest int
	broken  int

	query     string
	querySeq  uint64
	results   []Link
	searching bool
	debouncer *time.Timer

	subs    map[int]chan Event
	nextSub int
	closed  bool
}

func New(graph Graph, opts ...Option) *Engine {
	e := &Engine{
		graph:      graph,
		log:        zap.NewNop(),
		lives:      DefaultLives,
		warnAt:     int(DefaultWarningThreshold / time.Second),
		tick:       time.Second,
		debounce:   DefaultDebounce,
		workers:    DefaultSearchWorkers,
		mode:       Elimination,
		duration:   DefaultTimer,
		winner:     -1,
		usedMovies: make(map[string]bool),
		usedPeople: make(map[string]bool),
		subs:       make(map[int]chan Event),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.score == nil {
		e.score, _ = NewScorePolicy(DefaultScoreFormula)
	}

	e.players = make([]Player, MinPlayers)
	for i := range e.players {
		e.players[i] = newPlayer(i)
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.jobs = make(chan searchJob, e.workers)

	for range e.workers {
		e.wg.Add(1)
		go e.searchWorker()
	}

	return e
}

// Close stops the turn timer and search workers and closes every
// subscription. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.gen++
	e.stopTimerLocked()
	if e.debouncer != nil {
		e.debouncer.Stop()
	}
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()

	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}

// ---- Setup ----

func (e *Engine) SetPlayerCount(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseSetup {
		return ErrWrongPhase
	}

	if n < MinPlayers || n > MaxPlayers {
		return fmt.Errorf("%w: %d (want %d-%d)", ErrPlayerCount, n, MinPlayers, MaxPlayers)
	}

	for i := len(e.players); i < n; i++ {
		e.players = append(e.players, newPlayer(i))
	}
	e.players = e.players[:n]

	e.emitLocked(EventState)

	return nil
}

// SetPlayerName renames player i. A blank name restores the default.
func (e *Engine) SetPlayerName(i int, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseSetup {
		return ErrWrongPhase
	}

	if i < 0 || i >= len(e.players) {
		return fmt.Errorf("%w: no player %d", ErrInvalidSetting, i)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName(i)
	}
	e.players[i].Name = name

	e.emitLocked(EventState)

	return nil
}

func (e *Engine) SetMode(m Mode) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseSetup {
		return ErrWrongPhase
	}

	if !m.valid() {
		return fmt.Errorf("%w: unknown mode %d", ErrInvalidSetting, m)
	}
	e.mode = m

	e.emitLocked(EventState)

	return nil
}

// SetTimerDuration sets the turn length for timed play. It must be a
// positive whole number of seconds.
func (e *Engine) SetTimerDuration(d time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseSetup {
		return ErrWrongPhase
	}

	if d < time.Second || d%time.Second != 0 {
		return fmt.Errorf("%w: timer duration %s", ErrInvalidSetting, d)
	}
	e.duration = d

	e.emitLocked(EventState)

	return nil
}

// ---- Game flow ----

// StartGame begins a game from setup, or a rematch from game over. Player
// names, colours and settings carry over; every statistic is reset.
func (e *Engine) StartGame() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseSetup && e.phase != PhaseGameOver {
		return ErrWrongPhase
	}

	if e.graph == nil || !e.graph.Ready() {
		return ErrNotReady
	}

	lives := 0
	if e.mode.HasLives() {
		lives = e.lives
	}

	for i := range e.players {
		e.players[i].reset(lives)
	}

	e.resetChainLocked()
	e.current = 0
	e.longest = 0
	e.broken = 0
	e.winner = -1
	e.phase = PhasePlaying

	e.log.Info("game started",
		zap.Stringer("mode", e.mode),
		zap.Int("players", len(e.players)),
	)

	e.emitLocked(EventState)

	return nil
}

// Submit offers link as the current player's answer. A rejected answer is
// not an error: it breaks the chain, and the reason is visible in the
// snapshot. Submit returns an error only if the answer could not be judged,
// in which case no state has changed. An opening link that is not in the
// graph is refused with moviedb.ErrNotFound.
func (e *Engine) Submit(ctx context.Context, link Link) error {
	if link == nil {
		return fmt.Errorf("%w: empty answer", ErrInvalidSetting)
	}

	e.mu.Lock()

	if e.phase != PhasePlaying {
		e.mu.Unlock()
		return ErrWrongPhase
	}

	if e.usedLocked(link) {
		e.breakChainLocked(BreakReason{Kind: AlreadyUsed, Submitted: link.Name()})
		e.mu.Unlock()
		return nil
	}

	if len(e.links) == 0 {
		gen := e.gen
		e.mu.Unlock()

		return e.submitFirst(ctx, gen, link)
	}

	tail := e.links[len(e.links)-1]
	if link.Kind() == tail.Kind() {
		e.breakChainLocked(BreakReason{Kind: InvalidAnswer, Submitted: link.Name(), Expected: tail.Name()})
		e.mu.Unlock()
		return nil
	}

	gen := e.gen
	e.mu.Unlock()

	personID, movieID := link.ID(), tail.ID()
	if link.Kind() == KindMovie {
		personID, movieID = tail.ID(), link.ID()
	}

	ok, err := e.graph.IsAppearance(ctx, personID, movieID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.gen || e.phase != PhasePlaying {
		return ErrTurnOver
	}

	if err != nil {
		return fmt.Errorf("check %s in %s: %w", personID, movieID, err)
	}

	if !ok {
		e.breakChainLocked(BreakReason{Kind: InvalidAnswer, Submitted: link.Name(), Expected: tail.Name()})
		return nil
	}

	e.acceptLocked(link)

	return nil
}

// submitFirst opens a chain with link once the graph confirms it exists.
func (e *Engine) submitFirst(ctx context.Context, gen uint64, link Link) error {
	var err error
	if link.Kind() == KindMovie {
		_, err = e.graph.GetMovie(ctx, link.ID())
	} else {
		_, err = e.graph.GetPerson(ctx, link.ID())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.gen || e.phase != PhasePlaying {
		return ErrTurnOver
	}

	if err != nil {
		return fmt.Errorf("look up %s: %w", link.ID(), err)
	}

	e.acceptLocked(link)

	return nil
}

// GiveUp breaks the chain on the current player's behalf.
func (e *Engine) GiveUp() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhasePlaying {
		return ErrWrongPhase
	}

	e.breakChainLocked(BreakReason{Kind: PlayerGaveUp})

	return nil
}

// StartNewChain resumes play after a chain break, with the next player
// choosing the first link.
func (e *Engine) StartNewChain() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseChainBroken {
		return ErrWrongPhase
	}

	e.resetChainLocked()
	e.phase = PhasePlaying
	e.advanceLocked()

	e.emitLocked(EventState)

	return nil
}

// EndGame finishes the game and picks a winner.
func (e *Engine) EndGame() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhasePlaying && e.phase != PhaseChainBroken {
		return ErrWrongPhase
	}

	e.reason = nil
	e.finishLocked()

	return nil
}

// ReturnToSetup abandons the game. Names, colours and settings are kept;
// everything else is cleared.
func (e *Engine) ReturnToSetup() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase == PhaseSetup {
		return nil
	}

	for i := range e.players {
		e.players[i].reset(0)
	}

	e.resetChainLocked()
	e.current = 0
	e.longest = 0
	e.broken = 0
	e.remaining = 0
	e.winner = -1
	e.phase = PhaseSetup

	e.emitLocked(EventState)

	return nil
}

// Resolve looks up the movie or person with the given ID and wraps it as a
// Link ready for Submit.
func (e *Engine) Resolve(ctx context.Context, kind Kind, id string) (Link, error) {
	switch kind {
	case KindMovie:
		m, err := e.graph.GetMovie(ctx, id)
		if err != nil {
			return nil, err
		}
		return MovieLink{Movie: *m}, nil
	case KindPerson:
		p, err := e.graph.GetPerson(ctx, id)
		if err != nil {
			return nil, err
		}
		return PersonLink{Person: *p}, nil
	}

	return nil, fmt.Errorf("%w: cannot resolve a link of kind %s", ErrInvalidSetting, kind)
}

// ---- Transitions (mu held) ----

func (e *Engine) usedLocked(link Link) bool {
	if link.Kind() == KindMovie {
		return e.usedMovies[link.ID()]
	}

	return e.usedPeople[link.ID()]
}

func (e *Engine) acceptLocked(link Link) {
	e.links = append(e.links, link)

	p := &e.players[e.current]
	p.Links++

	if link.Kind() == KindMovie {
		e.usedMovies[link.ID()] = true
		p.Movies++
	} else {
		e.usedPeople[link.ID()] = true
		p.People++
	}

	// The opening pick is untimed, so it never scores.
	if e.mode.HasScoring() && e.timerRunning {
		points, err := e.score.Points(e.remaining, int(e.duration/time.Second), len(e.links))
		if err != nil {
			e.log.Warn("scoring failed", zap.Error(err))
		}
		p.Score += points
	}

	e.longest = max(e.longest, len(e.links))

	e.log.Debug("link accepted",
		zap.String("player", p.Name),
		zap.Stringer("kind", link.Kind()),
		zap.String("id", link.ID()),
		zap.Int("length", len(e.links)),
	)

	e.clearQueryLocked()
	e.advanceLocked()
	e.gen++

	if e.mode.HasTimer() {
		e.startTimerLocked()
	}

	e.emitLocked(EventState)
}

// breakChainLocked ends the current chain attempt and applies the mode's
// consequences. In elimination mode the game ends in the same step once at
// most one player is left standing.
func (e *Engine) breakChainLocked(reason BreakReason) {
	e.stopTimerLocked()
	e.gen++
	e.broken++
	e.reason = &reason
	e.clearQueryLocked()

	p := &e.players[e.current]

	e.log.Debug("chain broken",
		zap.String("player", p.Name),
		zap.Stringer("reason", reason.Kind),
		zap.Int("length", len(e.links)),
	)

	if e.mode.HasLives() {
		p.Lives--
		if p.Lives <= 0 {
			p.Lives = 0
			p.Eliminated = true
		}

		if e.activeLocked() <= 1 {
			e.finishLocked()
			return
		}
	}

	e.phase = PhaseChainBroken

	e.emitLocked(EventBreak)
}

func (e *Engine) finishLocked() {
	e.stopTimerLocked()
	e.gen++
	e.clearQueryLocked()
	e.phase = PhaseGameOver
	e.winner = e.winnerLocked()

	if e.winner >= 0 {
		e.log.Info("game over", zap.String("winner", e.players[e.winner].Name))
	} else {
		e.log.Info("game over")
	}

	e.emitLocked(EventGameOver)
}

func (e *Engine) resetChainLocked() {
	e.stopTimerLocked()
	e.gen++
	e.links = nil
	e.reason = nil
	clear(e.usedMovies)
	clear(e.usedPeople)
	e.clearQueryLocked()
}

// advanceLocked moves to the next player, skipping eliminated players in
// elimination mode.
func (e *Engine) advanceLocked() {
	n := len(e.players)

	for i := 1; i <= n; i++ {
		next := (e.current + i) % n
		if !e.mode.HasLives() || !e.players[next].Eliminated {
			e.current = next
			return
		}
	}
}

func (e *Engine) activeLocked() int {
	active := 0
	for _, p := range e.players {
		if !p.Eliminated {
			active++
		}
	}

	return active
}

// winnerLocked returns the index of the winning player, or -1. Ties go to
// the earliest player in the roster.
func (e *Engine) winnerLocked() int {
	best := -1

	for i, p := range e.players {
		switch e.mode {
		case Elimination:
			if !p.Eliminated {
				return i
			}
		case Scored:
			if best < 0 || p.Score > e.players[best].Score {
				best = i
			}
		case Endless:
			if best < 0 || p.Links > e.players[best].Links {
				best = i
			}
		}
	}

	return best
}

func (e *Engine) expectedLocked() Kind {
	if len(e.links) == 0 {
		return KindAny
	}

	return e.links[len(e.links)-1].Kind().opposite()
}
