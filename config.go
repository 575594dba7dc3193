package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Seednode/moviechain/chain"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind           string
	playerTimeout  time.Duration
	port           int
	prefix         string
	profile        bool
	sessionTimeout time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool

	dataDir          string
	dataset          string
	lives            int
	scoreFormula     string
	searchWorkers    int
	warningThreshold time.Duration

	score *chain.ScorePolicy
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	return c.validateGame()
}

// validateGame checks the settings shared by the server and the terminal
// client.
func (c *Config) validateGame() error {
	if c.lives < 1 {
		return fmt.Errorf("invalid lives (must be at least 1): %d", c.lives)
	}
	if c.searchWorkers < 1 {
		return fmt.Errorf("invalid search workers (must be at least 1): %d", c.searchWorkers)
	}
	if c.warningThreshold < 0 || c.warningThreshold%time.Second != 0 {
		return fmt.Errorf("invalid warning threshold (must be whole seconds): %s", c.warningThreshold)
	}
	if c.dataDir == "" {
		return errors.New("--data-dir must not be empty")
	}

	score, err := chain.NewScorePolicy(c.scoreFormula)
	if err != nil {
		return err
	}
	c.score = score

	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// engineOptions are the chain engine settings taken from flags.
func (c *Config) engineOptions() []chain.Option {
	return []chain.Option{
		chain.WithScorePolicy(c.score),
		chain.WithLives(c.lives),
		chain.WithSearchWorkers(c.searchWorkers),
		chain.WithWarningThreshold(c.warningThreshold),
	}
}

func defaultDataDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "data"
	}

	return filepath.Join(dir, "moviechain")
}

// bindEnv mirrors every flag in fs with a MOVIECHAIN_* environment variable.
// Flags given on the command line still win.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("MOVIECHAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "moviechain",
		Short:         "Name a movie, then an actor in it, then another movie they were in. Don't break the chain.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	pfs := cmd.PersistentFlags()

	pfs.StringVar(&cfg.dataDir, "data-dir", defaultDataDir(), "directory the dataset is decompressed into (env: MOVIECHAIN_DATA_DIR)")
	pfs.StringVar(&cfg.dataset, "dataset", "moviechain_core.sqlite.gz", "path to the compressed dataset (env: MOVIECHAIN_DATASET)")
	pfs.IntVar(&cfg.lives, "lives", chain.DefaultLives, "lives per player in classic mode (env: MOVIECHAIN_LIVES)")
	pfs.StringVar(&cfg.scoreFormula, "score-formula", chain.DefaultScoreFormula, "points per timed answer, over remaining, duration and chain (env: MOVIECHAIN_SCORE_FORMULA)")
	pfs.IntVar(&cfg.searchWorkers, "search-workers", chain.DefaultSearchWorkers, "background search workers per game (env: MOVIECHAIN_SEARCH_WORKERS)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: MOVIECHAIN_VERBOSE)")
	pfs.DurationVar(&cfg.warningThreshold, "warning-threshold", chain.DefaultWarningThreshold, "time left on the turn timer when players are warned (env: MOVIECHAIN_WARNING_THRESHOLD)")

	fs := cmd.Flags()

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: MOVIECHAIN_BIND)")
	fs.DurationVar(&cfg.playerTimeout, "player-timeout", 10*time.Minute, "time before a disconnected moderator hands over control (env: MOVIECHAIN_PLAYER_TIMEOUT)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: MOVIECHAIN_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: MOVIECHAIN_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: MOVIECHAIN_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle game sessions are ended (env: MOVIECHAIN_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: MOVIECHAIN_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: MOVIECHAIN_TLS_KEY)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: MOVIECHAIN_VERSION)")

	bindEnv(v, pfs)
	bindEnv(v, fs)

	cmd.AddCommand(newBuildCmd(cfg, v), newPlayCmd(cfg, v))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("moviechain v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
