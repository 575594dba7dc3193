package chain

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/Seednode/moviechain/moviedb"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	inception = "tt1375666"
	titanic   = "tt0120338"
	departed  = "tt0407887"
	matrix    = "tt0133093"
	reloaded  = "tt0234215"
	shawshank = "tt0111161"
	dicaprio  = "nm0000138"
	winslet   = "nm0000701"
	keanu     = "nm0000206"
	fishburne = "nm0000401"
)

func TestSetup(t *testing.T) {
	e := newEngine(t, newFakeGraph())

	snap := e.Snapshot()
	assert.Equal(t, PhaseSetup, snap.Phase)
	assert.Equal(t, Elimination, snap.Mode)
	assert.Equal(t, 30, snap.TimerSeconds)
	require.Len(t, snap.Players, 2)
	assert.Equal(t, "Player 1", snap.Players[0].Name)
	assert.Equal(t, "blue", snap.Players[1].Color)
	assert.NotEqual(t, snap.Players[0].ID, snap.Players[1].ID)

	t.Run("Player count keeps existing names", func(t *testing.T) {
		require.NoError(t, e.SetPlayerName(0, "  Ada  "))
		require.NoError(t, e.SetPlayerCount(5))
		require.NoError(t, e.SetPlayerCount(3))

		players := e.Snapshot().Players
		require.Len(t, players, 3)
		assert.Equal(t, "Ada", players[0].Name)
		assert.Equal(t, "Player 3", players[2].Name)
		assert.Equal(t, "green", players[2].Color)
	})

	t.Run("Player count bounds", func(t *testing.T) {
		assert.ErrorIs(t, e.SetPlayerCount(1), ErrPlayerCount)
		assert.ErrorIs(t, e.SetPlayerCount(MaxPlayers+1), ErrPlayerCount)
		assert.NoError(t, e.SetPlayerCount(MaxPlayers))
		assert.Equal(t, "yellow", e.Snapshot().Players[MaxPlayers-1].Color)
		assert.NoError(t, e.SetPlayerCount(3))
	})

	t.Run("Blank name restores the default", func(t *testing.T) {
		require.NoError(t, e.SetPlayerName(1, "Bo"))
		require.NoError(t, e.SetPlayerName(1, "   "))
		assert.Equal(t, "Player 2", e.Snapshot().Players[1].Name)
		assert.ErrorIs(t, e.SetPlayerName(7, "Nobody"), ErrInvalidSetting)
	})

	t.Run("Mode and timer", func(t *testing.T) {
		require.NoError(t, e.SetMode(Scored))
		require.NoError(t, e.SetTimerDuration(45*time.Second))
		assert.ErrorIs(t, e.SetTimerDuration(0), ErrInvalidSetting)
		assert.ErrorIs(t, e.SetTimerDuration(1500*time.Millisecond), ErrInvalidSetting)
		assert.ErrorIs(t, e.SetMode(Mode(9)), ErrInvalidSetting)

		snap := e.Snapshot()
		assert.Equal(t, Scored, snap.Mode)
		assert.Equal(t, 45, snap.TimerSeconds)
	})

	t.Run("Setup is locked during play", func(t *testing.T) {
		require.NoError(t, e.StartGame())

		assert.ErrorIs(t, e.SetPlayerCount(4), ErrWrongPhase)
		assert.ErrorIs(t, e.SetPlayerName(0, "Late"), ErrWrongPhase)
		assert.ErrorIs(t, e.SetMode(Endless), ErrWrongPhase)
		assert.ErrorIs(t, e.SetTimerDuration(time.Minute), ErrWrongPhase)
		assert.ErrorIs(t, e.StartGame(), ErrWrongPhase)

		require.NoError(t, e.ReturnToSetup())
		assert.NoError(t, e.SetMode(Endless))
	})
}

func TestStartGameRequiresDataset(t *testing.T) {
	g := newFakeGraph()
	g.ready = false
	e := newEngine(t, g)

	assert.ErrorIs(t, e.StartGame(), ErrNotReady)
	assert.Equal(t, PhaseSetup, e.Snapshot().Phase)

	assert.ErrorIs(t, newEngine(t, nil).StartGame(), ErrNotReady)
}

func TestReturnToSetupClearsGame(t *testing.T) {
	e := newEngine(t, newFakeGraph(), WithTickInterval(time.Hour))
	require.NoError(t, e.SetMode(Scored))
	require.NoError(t, e.StartGame())

	submit(t, e, resolve(t, e, KindMovie, "m1"))
	submit(t, e, resolve(t, e, KindPerson, "p1"))
	require.NoError(t, e.GiveUp())

	snap := e.Snapshot()
	require.Equal(t, 1, snap.ChainsBroken)
	require.Equal(t, 2, snap.LongestChain)
	require.Positive(t, snap.Remaining)

	require.NoError(t, e.ReturnToSetup())

	snap = e.Snapshot()
	assert.Equal(t, PhaseSetup, snap.Phase)
	assert.Zero(t, snap.ChainsBroken)
	assert.Zero(t, snap.LongestChain)
	assert.Zero(t, snap.Remaining)
	assert.Zero(t, snap.Current)
	assert.Nil(t, snap.Reason)
	assert.Empty(t, snap.Chain)
	for _, p := range snap.Players {
		assert.Zero(t, p.Score, p.Name)
		assert.Zero(t, p.Links, p.Name)
	}
	assert.Equal(t, Scored, snap.Mode)
}

func TestSubmitUnknownOpeningLink(t *testing.T) {
	e := newEngine(t, newFakeGraph())
	require.NoError(t, e.StartGame())

	err := e.Submit(context.Background(), MovieLink{Movie: moviedb.Movie{ID: "m404", Title: "Lost Reel"}})
	assert.ErrorIs(t, err, moviedb.ErrNotFound)

	err = e.Submit(context.Background(), PersonLink{Person: moviedb.Person{ID: "p404", Name: "Nobody"}})
	assert.ErrorIs(t, err, moviedb.ErrNotFound)

	snap := e.Snapshot()
	assert.Equal(t, PhasePlaying, snap.Phase)
	assert.Empty(t, snap.Chain)
	assert.Zero(t, snap.Current)
	assert.Zero(t, snap.Players[0].Links)
}

func TestWrongPhase(t *testing.T) {
	e := newEngine(t, newFakeGraph())
	ctx := context.Background()

	assert.ErrorIs(t, e.Submit(ctx, resolve(t, e, KindMovie, "m1")), ErrWrongPhase)
	assert.ErrorIs(t, e.GiveUp(), ErrWrongPhase)
	assert.ErrorIs(t, e.StartNewChain(), ErrWrongPhase)
	assert.ErrorIs(t, e.EndGame(), ErrWrongPhase)
	assert.NoError(t, e.ReturnToSetup())

	require.NoError(t, e.StartGame())
	assert.ErrorIs(t, e.StartNewChain(), ErrWrongPhase)
	assert.ErrorIs(t, e.Submit(ctx, nil), ErrInvalidSetting)
}

func TestChainScenario(t *testing.T) {
	e := newEngine(t, fixtureStore(t))
	require.NoError(t, e.StartGame())

	snap := e.Snapshot()
	assert.Equal(t, PhasePlaying, snap.Phase)
	assert.Equal(t, KindAny, snap.Expected)
	assert.Equal(t, "Pick an actor or movie to begin!", snap.Prompt)
	assert.False(t, snap.TimerRunning)

	submit(t, e, resolve(t, e, KindMovie, inception))

	snap = e.Snapshot()
	assert.Equal(t, []string{inception}, linkIDs(snap.Chain))
	assert.Equal(t, KindPerson, snap.Expected)
	assert.Equal(t, 1, snap.Current)
	assert.Equal(t, `Name an actor from "Inception"`, snap.Prompt)
	assert.False(t, snap.TimerRunning, "Expected no timer outside timed mode")

	submit(t, e, resolve(t, e, KindPerson, dicaprio))

	snap = e.Snapshot()
	assert.Equal(t, []string{inception, dicaprio}, linkIDs(snap.Chain))
	assert.Equal(t, KindMovie, snap.Expected)
	assert.Equal(t, 0, snap.Current)
	assert.Equal(t, "Name a movie with Leonardo DiCaprio", snap.Prompt)
	assert.Equal(t, 2, snap.LongestChain)

	submit(t, e, resolve(t, e, KindMovie, inception))

	snap = e.Snapshot()
	assert.Equal(t, PhaseChainBroken, snap.Phase)
	require.NotNil(t, snap.Reason)
	assert.Equal(t, BreakReason{Kind: AlreadyUsed, Submitted: "Inception"}, *snap.Reason)
	assert.Equal(t, `"Inception" was already used in this chain`, snap.Reason.Message())
	assert.Equal(t, 1, snap.ChainsBroken)

	want := []Player{
		{Name: "Player 1", Color: "red", Lives: 2, Links: 1, Movies: 1},
		{Name: "Player 2", Color: "blue", Lives: 3, Links: 1, People: 1},
	}
	if diff := cmp.Diff(want, snap.Players, cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".ID"
	}, cmp.Ignore())); diff != "" {
		t.Errorf("Players mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, e.StartNewChain())

	snap = e.Snapshot()
	assert.Equal(t, PhasePlaying, snap.Phase)
	assert.Empty(t, snap.Chain)
	assert.Nil(t, snap.Reason)
	assert.Equal(t, 1, snap.Current)

	submit(t, e, resolve(t, e, KindMovie, inception))
	assert.Len(t, e.Snapshot().Chain, 1, "Expected used IDs to reset with a new chain")
}

func TestInvalidAnswer(t *testing.T) {
	e := newEngine(t, fixtureStore(t))
	require.NoError(t, e.StartGame())

	submit(t, e, resolve(t, e, KindMovie, inception))
	submit(t, e, resolve(t, e, KindPerson, keanu))

	snap := e.Snapshot()
	assert.Equal(t, PhaseChainBroken, snap.Phase)
	require.NotNil(t, snap.Reason)
	assert.Equal(t, BreakReason{Kind: InvalidAnswer, Submitted: "Keanu Reeves", Expected: "Inception"}, *snap.Reason)
	assert.Equal(t, `"Keanu Reeves" is not valid for Inception`, snap.Reason.Message())
	assert.Equal(t, DefaultLives-1, snap.Players[1].Lives)
	assert.Equal(t, DefaultLives, snap.Players[0].Lives)
	assert.Equal(t, []string{inception}, linkIDs(snap.Chain))
}

func TestWrongKindIsInvalid(t *testing.T) {
	e := newEngine(t, fixtureStore(t))
	require.NoError(t, e.StartGame())

	submit(t, e, resolve(t, e, KindPerson, dicaprio))
	submit(t, e, resolve(t, e, KindPerson, winslet))

	snap := e.Snapshot()
	require.NotNil(t, snap.Reason)
	assert.Equal(t, BreakReason{Kind: InvalidAnswer, Submitted: "Kate Winslet", Expected: "Leonardo DiCaprio"}, *snap.Reason)
}

func TestElimination(t *testing.T) {
	t.Run("Last player standing wins in the same transition", func(t *testing.T) {
		e := newEngine(t, fixtureStore(t), WithLives(1))
		require.NoError(t, e.StartGame())

		require.NoError(t, e.GiveUp())

		snap := e.Snapshot()
		assert.Equal(t, PhaseGameOver, snap.Phase)
		require.NotNil(t, snap.Winner)
		assert.Equal(t, "Player 2", snap.Winner.Name)
		assert.True(t, snap.Players[0].Eliminated)
		require.NotNil(t, snap.Reason)
		assert.Equal(t, PlayerGaveUp, snap.Reason.Kind)
	})

	t.Run("Eliminated players are skipped", func(t *testing.T) {
		e := newEngine(t, fixtureStore(t), WithLives(1))
		require.NoError(t, e.SetPlayerCount(3))
		require.NoError(t, e.StartGame())

		require.NoError(t, e.GiveUp())
		assert.Equal(t, PhaseChainBroken, e.Snapshot().Phase)

		require.NoError(t, e.StartNewChain())
		assert.Equal(t, 1, e.Snapshot().Current)

		submit(t, e, resolve(t, e, KindMovie, matrix))
		assert.Equal(t, 2, e.Snapshot().Current)

		submit(t, e, resolve(t, e, KindPerson, keanu))
		assert.Equal(t, 1, e.Snapshot().Current, "Expected eliminated player 1 to be skipped")

		submit(t, e, resolve(t, e, KindMovie, shawshank))

		snap := e.Snapshot()
		assert.Equal(t, PhaseGameOver, snap.Phase)
		require.NotNil(t, snap.Winner)
		assert.Equal(t, "Player 3", snap.Winner.Name)
	})

	t.Run("Play again resets statistics", func(t *testing.T) {
		e := newEngine(t, fixtureStore(t), WithLives(1))
		require.NoError(t, e.SetPlayerName(0, "Ada"))
		require.NoError(t, e.StartGame())
		require.NoError(t, e.GiveUp())
		require.Equal(t, PhaseGameOver, e.Snapshot().Phase)

		require.NoError(t, e.StartGame())

		snap := e.Snapshot()
		assert.Equal(t, PhasePlaying, snap.Phase)
		assert.Nil(t, snap.Winner)
		assert.Zero(t, snap.ChainsBroken)
		assert.Equal(t, "Ada", snap.Players[0].Name)
		assert.False(t, snap.Players[0].Eliminated)
		assert.Equal(t, 1, snap.Players[0].Lives)
	})
}

func TestEndGameWinners(t *testing.T) {
	t.Run("Endless picks most links", func(t *testing.T) {
		e := newEngine(t, fixtureStore(t))
		require.NoError(t, e.SetPlayerCount(3))
		require.NoError(t, e.SetMode(Endless))
		require.NoError(t, e.StartGame())

		submit(t, e, resolve(t, e, KindMovie, matrix))
		submit(t, e, resolve(t, e, KindPerson, keanu))
		submit(t, e, resolve(t, e, KindMovie, reloaded))
		submit(t, e, resolve(t, e, KindPerson, fishburne))

		snap := e.Snapshot()
		assert.Zero(t, snap.Players[0].Lives)
		require.NoError(t, e.EndGame())

		snap = e.Snapshot()
		assert.Equal(t, PhaseGameOver, snap.Phase)
		assert.Nil(t, snap.Reason)
		require.NotNil(t, snap.Winner)
		assert.Equal(t, "Player 1", snap.Winner.Name)
		assert.Equal(t, 2, snap.Winner.Links)
		assert.Equal(t, 1, snap.Winner.Movies)
		assert.Equal(t, 1, snap.Winner.People)
	})

	t.Run("Endless breaks cost nothing", func(t *testing.T) {
		e := newEngine(t, fixtureStore(t))
		require.NoError(t, e.SetMode(Endless))
		require.NoError(t, e.StartGame())

		for range 5 {
			require.NoError(t, e.GiveUp())
			require.NoError(t, e.StartNewChain())
		}

		snap := e.Snapshot()
		assert.Equal(t, PhasePlaying, snap.Phase)
		assert.Equal(t, 5, snap.ChainsBroken)
	})

	t.Run("Ties go to the earliest player", func(t *testing.T) {
		e := newEngine(t, fixtureStore(t))
		require.NoError(t, e.SetMode(Endless))
		require.NoError(t, e.StartGame())
		require.NoError(t, e.GiveUp())
		require.NoError(t, e.EndGame())

		snap := e.Snapshot()
		require.NotNil(t, snap.Winner)
		assert.Equal(t, snap.Players[0].ID, snap.Winner.ID)
	})
}

func TestScoredMode(t *testing.T) {
	e := newEngine(t, fixtureStore(t), WithTickInterval(time.Hour))
	require.NoError(t, e.SetMode(Scored))
	require.NoError(t, e.StartGame())

	snap := e.Snapshot()
	assert.False(t, snap.TimerRunning, "Expected the opening pick to be untimed")
	assert.Zero(t, snap.Players[0].Lives)

	submit(t, e, resolve(t, e, KindMovie, inception))

	snap = e.Snapshot()
	assert.Zero(t, snap.Players[0].Score, "Expected the opening pick to score nothing")
	assert.True(t, snap.TimerRunning)
	assert.Equal(t, 30, snap.Remaining)

	submit(t, e, resolve(t, e, KindPerson, dicaprio))
	assert.Equal(t, 190, e.Snapshot().Players[1].Score)

	submit(t, e, resolve(t, e, KindMovie, matrix))

	snap = e.Snapshot()
	assert.Equal(t, PhaseChainBroken, snap.Phase)
	assert.False(t, snap.TimerRunning)
	assert.False(t, snap.Players[0].Eliminated)
	assert.Zero(t, snap.Players[0].Score)

	require.NoError(t, e.StartNewChain())
	require.NoError(t, e.EndGame())

	snap = e.Snapshot()
	require.NotNil(t, snap.Winner)
	assert.Equal(t, "Player 2", snap.Winner.Name)
}

func TestCustomScoreFormula(t *testing.T) {
	policy, err := NewScorePolicy("10 * chain")
	require.NoError(t, err)

	e := newEngine(t, fixtureStore(t), WithTickInterval(time.Hour), WithScorePolicy(policy))
	require.NoError(t, e.SetMode(Scored))
	require.NoError(t, e.StartGame())

	submit(t, e, resolve(t, e, KindMovie, inception))
	submit(t, e, resolve(t, e, KindPerson, dicaprio))
	submit(t, e, resolve(t, e, KindMovie, titanic))

	snap := e.Snapshot()
	assert.Equal(t, 30, snap.Players[0].Score)
	assert.Equal(t, 20, snap.Players[1].Score)
}

func TestTimer(t *testing.T) {
	t.Run("Expiry breaks the chain", func(t *testing.T) {
		e := newEngine(t, fixtureStore(t),
			WithTickInterval(5*time.Millisecond),
			WithWarningThreshold(2*time.Second),
		)
		require.NoError(t, e.SetMode(Scored))
		require.NoError(t, e.SetTimerDuration(4*time.Second))
		require.NoError(t, e.StartGame())

		events, cancel := e.Subscribe()
		defer cancel()

		submit(t, e, resolve(t, e, KindMovie, inception))
		waitPhase(t, e, PhaseChainBroken)

		snap := e.Snapshot()
		require.NotNil(t, snap.Reason)
		assert.Equal(t, BreakReason{Kind: TimerExpired}, *snap.Reason)
		assert.Equal(t, "Time ran out!", snap.Reason.Message())
		assert.Equal(t, 1, snap.Current, "Expected the player who ran out of time to stay current")
		assert.False(t, snap.TimerRunning)
		assert.Zero(t, snap.Remaining)

		var seen []EventType
		for len(events) > 0 {
			seen = append(seen, (<-events).Type)
		}
		assert.Equal(t, []EventType{EventState, EventTick, EventWarning, EventTick, EventBreak}, seen)
	})

	t.Run("Turns within the warning threshold warn once", func(t *testing.T) {
		e := newEngine(t, fixtureStore(t), WithTickInterval(5*time.Millisecond))
		require.NoError(t, e.SetMode(Scored))
		require.NoError(t, e.SetTimerDuration(DefaultWarningThreshold))
		require.NoError(t, e.StartGame())

		events, cancel := e.Subscribe()
		defer cancel()

		submit(t, e, resolve(t, e, KindMovie, inception))
		waitPhase(t, e, PhaseChainBroken)

		var seen []EventType
		for len(events) > 0 {
			seen = append(seen, (<-events).Type)
		}
		assert.Equal(t, []EventType{EventState, EventWarning, EventTick, EventTick, EventTick, EventBreak}, seen)
	})

	t.Run("One second turn", func(t *testing.T) {
		e := newEngine(t, fixtureStore(t), WithTickInterval(5*time.Millisecond))
		require.NoError(t, e.SetMode(Scored))
		require.NoError(t, e.SetTimerDuration(time.Second))
		require.NoError(t, e.StartGame())

		submit(t, e, resolve(t, e, KindMovie, inception))
		waitPhase(t, e, PhaseChainBroken)

		snap := e.Snapshot()
		assert.Equal(t, 1, snap.ChainsBroken)
		assert.Equal(t, TimerExpired, snap.Reason.Kind)
		assert.Zero(t, snap.Players[1].Score)
	})

	t.Run("Accepted answers reset the countdown", func(t *testing.T) {
		e := newEngine(t, fixtureStore(t), WithTickInterval(20*time.Millisecond))
		require.NoError(t, e.SetMode(Scored))
		require.NoError(t, e.SetTimerDuration(30*time.Second))
		require.NoError(t, e.StartGame())

		submit(t, e, resolve(t, e, KindMovie, inception))
		require.Eventually(t, func() bool {
			return e.Snapshot().Remaining < 28
		}, 5*time.Second, 5*time.Millisecond)

		submit(t, e, resolve(t, e, KindPerson, dicaprio))
		assert.GreaterOrEqual(t, e.Snapshot().Remaining, 29)
	})

	t.Run("No ticks after leaving play", func(t *testing.T) {
		e := newEngine(t, fixtureStore(t), WithTickInterval(20*time.Millisecond))
		require.NoError(t, e.SetMode(Scored))
		require.NoError(t, e.SetTimerDuration(5*time.Second))
		require.NoError(t, e.StartGame())

		submit(t, e, resolve(t, e, KindMovie, inception))
		require.NoError(t, e.ReturnToSetup())

		events, cancel := e.Subscribe()
		defer cancel()

		select {
		case ev := <-events:
			t.Fatalf("Unexpected %s event after returning to setup", ev.Type)
		case <-time.After(200 * time.Millisecond):
		}

		snap := e.Snapshot()
		assert.Equal(t, PhaseSetup, snap.Phase)
		assert.False(t, snap.TimerRunning)
		assert.Zero(t, snap.ChainsBroken)
	})

	t.Run("No ticks after giving up", func(t *testing.T) {
		e := newEngine(t, fixtureStore(t), WithTickInterval(20*time.Millisecond))
		require.NoError(t, e.SetMode(Scored))
		require.NoError(t, e.SetTimerDuration(5*time.Second))
		require.NoError(t, e.StartGame())

		submit(t, e, resolve(t, e, KindMovie, inception))
		require.NoError(t, e.GiveUp())

		time.Sleep(200 * time.Millisecond)

		snap := e.Snapshot()
		assert.Equal(t, PhaseChainBroken, snap.Phase)
		assert.Equal(t, PlayerGaveUp, snap.Reason.Kind)
		assert.Equal(t, 1, snap.ChainsBroken)
	})
}

func TestSubmitRaces(t *testing.T) {
	t.Run("A turn that ends during validation wins", func(t *testing.T) {
		g := newFakeGraph()
		e := newEngine(t, g)
		require.NoError(t, e.SetMode(Endless))
		require.NoError(t, e.StartGame())

		submit(t, e, resolve(t, e, KindMovie, "m1"))
		diesel := resolve(t, e, KindPerson, "p1")

		seen, release := g.holdAppearance()

		errs := make(chan error, 1)
		go func() {
			errs <- e.Submit(context.Background(), diesel)
		}()

		<-seen
		require.NoError(t, e.GiveUp())
		release()

		assert.ErrorIs(t, <-errs, ErrTurnOver)

		snap := e.Snapshot()
		assert.Equal(t, PhaseChainBroken, snap.Phase)
		assert.Equal(t, PlayerGaveUp, snap.Reason.Kind)
		assert.Equal(t, []string{"m1"}, linkIDs(snap.Chain))
		assert.Zero(t, snap.Players[1].Links)
	})

	t.Run("Store failures leave state unchanged", func(t *testing.T) {
		g := newFakeGraph()
		e := newEngine(t, g)
		require.NoError(t, e.StartGame())

		submit(t, e, resolve(t, e, KindMovie, "m1"))
		before := e.Snapshot()

		boom := errors.New("disk on fire")
		g.appearanceErr = boom

		err := e.Submit(context.Background(), resolve(t, e, KindPerson, "p1"))
		assert.ErrorIs(t, err, boom)

		after := e.Snapshot()
		assert.Equal(t, before.Phase, after.Phase)
		assert.Equal(t, before.Current, after.Current)
		assert.Equal(t, linkIDs(before.Chain), linkIDs(after.Chain))
		assert.Equal(t, before.Players, after.Players)
	})
}

func TestResolve(t *testing.T) {
	e := newEngine(t, fixtureStore(t))
	ctx := context.Background()

	l, err := e.Resolve(ctx, KindMovie, inception)
	require.NoError(t, err)
	assert.Equal(t, "Inception (2010)", l.Label())
	assert.Equal(t, "Action, Adventure, Sci-Fi", l.Detail())

	_, err = e.Resolve(ctx, KindPerson, "nm0000000")
	assert.ErrorIs(t, err, moviedb.ErrNotFound)

	_, err = e.Resolve(ctx, KindAny, inception)
	assert.ErrorIs(t, err, ErrInvalidSetting)
}

// TestChainInvariants drives the engine with random answers and checks
// the chain stays well formed after every step.
func TestChainInvariants(t *testing.T) {
	store := fixtureStore(t)
	ctx := context.Background()

	movies := []string{inception, titanic, departed, matrix, reloaded, shawshank}
	people := []string{dicaprio, winslet, keanu, fishburne, "nm0330687", "nm0000354", "nm0000209", "nm0000151", "nm0913822"}

	rng := rand.New(rand.NewPCG(1, 2))

	for _, mode := range Modes {
		e := newEngine(t, store, WithTickInterval(time.Hour))
		require.NoError(t, e.SetPlayerCount(4))
		require.NoError(t, e.SetMode(mode))
		require.NoError(t, e.StartGame())

		for range 300 {
			switch e.Snapshot().Phase {
			case PhaseChainBroken:
				require.NoError(t, e.StartNewChain())
				continue
			case PhaseGameOver:
				require.NoError(t, e.StartGame())
				continue
			}

			var l Link
			if rng.IntN(2) == 0 {
				l = resolve(t, e, KindMovie, movies[rng.IntN(len(movies))])
			} else {
				l = resolve(t, e, KindPerson, people[rng.IntN(len(people))])
			}
			require.NoError(t, e.Submit(ctx, l))

			snap := e.Snapshot()

			seen := make(map[string]bool)
			for i, link := range snap.Chain {
				assert.False(t, seen[link.ID()], "Duplicate %s in chain", link.ID())
				seen[link.ID()] = true

				if i == 0 {
					continue
				}

				prev := snap.Chain[i-1]
				require.NotEqual(t, prev.Kind(), link.Kind(), "Consecutive links share a kind")

				personID, movieID := link.ID(), prev.ID()
				if link.Kind() == KindMovie {
					personID, movieID = prev.ID(), link.ID()
				}
				ok, err := store.IsAppearance(ctx, personID, movieID)
				require.NoError(t, err)
				assert.True(t, ok, "%s and %s are not connected", personID, movieID)
			}

			if mode == Elimination {
				active := 0
				for _, p := range snap.Players {
					if !p.Eliminated {
						active++
					}
				}
				if active <= 1 {
					assert.Equal(t, PhaseGameOver, snap.Phase)
				}
			}

			if snap.Phase == PhaseChainBroken && snap.Reason.Kind == InvalidAnswer && len(snap.Chain) > 0 {
				tail := snap.Chain[len(snap.Chain)-1]
				if tail.Kind() != l.Kind() {
					personID, movieID := l.ID(), tail.ID()
					if l.Kind() == KindMovie {
						personID, movieID = tail.ID(), l.ID()
					}
					ok, err := store.IsAppearance(ctx, personID, movieID)
					require.NoError(t, err)
					assert.False(t, ok)
				}
			}
		}
	}
}

func TestClose(t *testing.T) {
	e := New(newFakeGraph(), WithTickInterval(time.Millisecond))
	require.NoError(t, e.SetMode(Scored))
	require.NoError(t, e.StartGame())
	submit(t, e, resolve(t, e, KindMovie, "m1"))
	e.SetQuery("fast")

	events, _ := e.Subscribe()

	e.Close()
	e.Close()

	for range events {
	}

	late, cancel := e.Subscribe()
	_, open := <-late
	assert.False(t, open)
	cancel()
}
