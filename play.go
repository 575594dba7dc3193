package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Seednode/moviechain/chain"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const playHelp = `Type part of a movie title or actor name to search, then the number of a
result to play it.

  /chain   show the chain so far
  /giveup  give up this turn
  /end     end the game
  /help    show this message
  /quit    leave`

type playOptions struct {
	players []string
	mode    string
	timer   time.Duration
}

var (
	titleStyle = color.New(color.FgYellow, color.Bold)
	mutedStyle = color.New(color.Faint)
	alertStyle = color.New(color.FgRed, color.Bold)
	goodStyle  = color.New(color.FgGreen)
)

var playerStyles = map[string]*color.Color{
	"red":    color.New(color.FgRed, color.Bold),
	"blue":   color.New(color.FgBlue, color.Bold),
	"green":  color.New(color.FgGreen, color.Bold),
	"orange": color.New(color.FgHiYellow, color.Bold),
	"purple": color.New(color.FgMagenta, color.Bold),
	"pink":   color.New(color.FgHiMagenta, color.Bold),
	"cyan":   color.New(color.FgCyan, color.Bold),
	"yellow": color.New(color.FgYellow, color.Bold),
}

func newPlayCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	var opts playOptions

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play in the terminal, passing one device between players",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validateGame(); err != nil {
				return err
			}

			return playTerminal(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()

	flags.StringSliceVar(&opts.players, "players", nil, "comma-separated player names, 2-8 (env: MOVIECHAIN_PLAYERS)")
	flags.StringVar(&opts.mode, "mode", chain.Elimination.String(), "game mode: classic, timed or endless (env: MOVIECHAIN_MODE)")
	flags.DurationVar(&opts.timer, "timer", chain.DefaultTimer, "turn timer in timed mode (env: MOVIECHAIN_TIMER)")

	bindEnv(v, flags)

	return cmd
}

func playTerminal(ctx context.Context, cfg *Config, in io.Reader, out io.Writer, opts playOptions) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	store := newStore(cfg, logger.Named("moviedb"))
	defer store.Close()

	mutedStyle.Fprintln(out, "Loading movie database...")

	err = store.Load(ctx, func(f float64) {
		mutedStyle.Fprintf(out, "\r%3.0f%%", f*100)
	})
	fmt.Fprintln(out)
	if err != nil {
		return fmt.Errorf("movie database unavailable: %w", err)
	}

	engine := chain.New(store, append(cfg.engineOptions(), chain.WithLogger(logger.Named("chain")))...)
	defer engine.Close()

	if err := configureGame(engine, opts); err != nil {
		return err
	}

	return runTerminal(ctx, engine, in, out)
}

func configureGame(engine *chain.Engine, opts playOptions) error {
	if len(opts.players) > 0 {
		if err := engine.SetPlayerCount(len(opts.players)); err != nil {
			return err
		}
		for i, name := range opts.players {
			if err := engine.SetPlayerName(i, name); err != nil {
				return err
			}
		}
	}

	mode, err := chain.ParseMode(opts.mode)
	if err != nil {
		return err
	}
	if err := engine.SetMode(mode); err != nil {
		return err
	}

	if mode.HasTimer() {
		return engine.SetTimerDuration(opts.timer)
	}

	return nil
}

// terminal is a hot-seat client: everyone shares one prompt and the current
// player is named before every turn.
type terminal struct {
	engine  *chain.Engine
	out     io.Writer
	results []chain.Link
}

// runTerminal plays games until the input ends, the players quit or ctx is
// cancelled. Timer warnings and expiries are printed as they happen.
func runTerminal(ctx context.Context, engine *chain.Engine, in io.Reader, out io.Writer) error {
	t := &terminal{engine: engine, out: out}

	events, unsubscribe := engine.Subscribe()
	defer unsubscribe()

	lines := make(chan string)
	go func() {
		defer close(lines)

		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := engine.StartGame(); err != nil {
		return err
	}

	s := engine.Snapshot()
	titleStyle.Fprintf(out, "\nMovie Chain: %s\n", s.Mode.Title())
	mutedStyle.Fprintln(out, s.Mode.Description())
	fmt.Fprintln(out, playHelp)
	t.printTurn(s)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			t.handleEvent(ev)

		case line, ok := <-lines:
			if !ok {
				return nil
			}

			quit, err := t.handleLine(ctx, strings.TrimSpace(line))
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
		}
	}
}

func (t *terminal) handleEvent(ev chain.Event) {
	s := ev.Snapshot

	switch ev.Type {
	case chain.EventWarning:
		alertStyle.Fprintf(t.out, "\n%d seconds left!\n", s.Remaining)
	case chain.EventBreak:
		if s.Reason != nil && s.Reason.Kind == chain.TimerExpired {
			fmt.Fprintln(t.out)
			t.printPhase(s)
		}
	}
}

func (t *terminal) handleLine(ctx context.Context, line string) (bool, error) {
	s := t.engine.Snapshot()

	switch line {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(t.out, playHelp)
		return false, nil
	case "/chain":
		t.printChain(s)
		return false, nil
	case "/end":
		return false, t.act(t.engine.EndGame)
	}

	switch s.Phase {
	case chain.PhaseChainBroken:
		return false, t.act(t.engine.StartNewChain)

	case chain.PhaseGameOver:
		if strings.HasPrefix(strings.ToLower(line), "y") {
			t.results = nil
			return false, t.act(t.engine.StartGame)
		}
		return true, nil

	case chain.PhasePlaying:
		switch {
		case line == "":
			t.printTurn(s)
		case line == "/giveup" || line == "/give":
			return false, t.act(t.engine.GiveUp)
		case isPick(line):
			return false, t.pick(ctx, line)
		default:
			return false, t.search(ctx, line)
		}
	}

	return false, nil
}

func isPick(line string) bool {
	_, err := strconv.Atoi(line)

	return err == nil
}

// act runs an engine operation and prints the state it leads to. Misuse
// errors are shown to the players rather than ending the session.
func (t *terminal) act(op func() error) error {
	if err := op(); err != nil {
		if errors.Is(err, chain.ErrWrongPhase) || errors.Is(err, chain.ErrNotReady) {
			alertStyle.Fprintln(t.out, err)
			return nil
		}
		return err
	}

	t.printPhase(t.engine.Snapshot())

	return nil
}

func (t *terminal) search(ctx context.Context, query string) error {
	results, err := t.engine.Search(ctx, query)
	if err != nil {
		return err
	}

	t.results = results

	if len(results) == 0 {
		mutedStyle.Fprintf(t.out, "No matches for %q.\n", query)
		return nil
	}

	for i, r := range results {
		kind := "Movie"
		if r.Kind() == chain.KindPerson {
			kind = "Actor"
		}

		fmt.Fprintf(t.out, "%3d. %s %s", i+1, mutedStyle.Sprintf("%-5s", kind), r.Label())
		if d := r.Detail(); d != "" {
			mutedStyle.Fprintf(t.out, "  %s", d)
		}
		fmt.Fprintln(t.out)
	}

	return nil
}

func (t *terminal) pick(ctx context.Context, line string) error {
	if len(t.results) == 0 {
		alertStyle.Fprintln(t.out, "Search first, then pick a result by number.")
		return nil
	}

	n, _ := strconv.Atoi(line)
	if n < 1 || n > len(t.results) {
		alertStyle.Fprintf(t.out, "Pick a number from the last search (1-%d).\n", len(t.results))
		return nil
	}

	link := t.results[n-1]
	t.results = nil

	err := t.engine.Submit(ctx, link)
	switch {
	case errors.Is(err, chain.ErrTurnOver):
		alertStyle.Fprintln(t.out, "Too late!")
		return nil
	case err != nil:
		return err
	}

	s := t.engine.Snapshot()
	if s.Phase == chain.PhasePlaying {
		goodStyle.Fprintf(t.out, "%s ✓\n", link.Label())
	}
	t.printPhase(s)

	return nil
}

func (t *terminal) printPhase(s chain.Snapshot) {
	switch s.Phase {
	case chain.PhasePlaying:
		t.printTurn(s)
	case chain.PhaseChainBroken:
		t.printBreak(s)
	case chain.PhaseGameOver:
		t.printGameOver(s)
	}
}

func playerName(p chain.Player) string {
	style, ok := playerStyles[p.Color]
	if !ok {
		return p.Name
	}

	return style.Sprint(p.Name)
}

func (t *terminal) printTurn(s chain.Snapshot) {
	p := s.CurrentPlayer()

	var status string
	switch {
	case s.Mode.HasLives():
		status = fmt.Sprintf("  lives: %d", p.Lives)
	case s.Mode.HasScoring():
		status = fmt.Sprintf("  score: %d", p.Score)
	}

	fmt.Fprintf(t.out, "\n[%s]%s  chain: %d\n", playerName(p), mutedStyle.Sprint(status), len(s.Chain))
	if s.TimerRunning {
		mutedStyle.Fprintf(t.out, "%ds on the clock\n", s.Remaining)
	}
	titleStyle.Fprintln(t.out, s.Prompt)
}

func (t *terminal) printChain(s chain.Snapshot) {
	if len(s.Chain) == 0 {
		mutedStyle.Fprintln(t.out, "The chain is empty.")
		return
	}

	for i, l := range s.Chain {
		fmt.Fprintf(t.out, "%3d. %s\n", i+1, l.Label())
	}
}

func (t *terminal) printBreak(s chain.Snapshot) {
	alertStyle.Fprintln(t.out, "Chain broken!")
	if s.Reason != nil {
		fmt.Fprintln(t.out, s.Reason.Message())
	}
	mutedStyle.Fprintf(t.out, "The chain reached %d. Press enter to start a new chain, or /end to finish.\n", len(s.Chain))
}

func (t *terminal) printGameOver(s chain.Snapshot) {
	titleStyle.Fprintln(t.out, "\nGame over!")
	if s.Reason != nil {
		fmt.Fprintln(t.out, s.Reason.Message())
	}
	if s.Winner != nil {
		fmt.Fprintf(t.out, "%s wins!\n", playerName(*s.Winner))
	}

	for _, p := range s.Players {
		fmt.Fprintf(t.out, "  %-16s links: %-3d movies: %-3d actors: %-3d", p.Name, p.Links, p.Movies, p.People)
		if s.Mode.HasScoring() {
			fmt.Fprintf(t.out, " score: %d", p.Score)
		}
		fmt.Fprintln(t.out)
	}

	mutedStyle.Fprintf(t.out, "Longest chain: %d  Chains broken: %d\n", s.LongestChain, s.ChainsBroken)
	fmt.Fprint(t.out, "Play again? [y/N] ")
}
