/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/Seednode/moviechain/moviedb"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type buildOptions struct {
	imdb    string
	fixture string
	out     string
	install bool
}

func newBuildCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	var opts buildOptions

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the compressed dataset from IMDb dumps or a YAML fixture",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return buildDataset(cmd.Context(), cfg, cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()

	flags.StringVar(&opts.imdb, "imdb", "", "directory holding the IMDb title.basics, title.principals, title.ratings and name.basics dumps (env: MOVIECHAIN_IMDB)")
	flags.StringVar(&opts.fixture, "fixture", "", "YAML dataset to build instead of IMDb dumps (env: MOVIECHAIN_FIXTURE)")
	flags.StringVarP(&opts.out, "out", "o", "", "where to write the compressed dataset (default: --dataset) (env: MOVIECHAIN_OUT)")
	flags.BoolVar(&opts.install, "install", false, "remove the decompressed store from --data-dir so the new dataset is used on next start (env: MOVIECHAIN_INSTALL)")

	cmd.MarkFlagsMutuallyExclusive("imdb", "fixture")
	cmd.MarkFlagsOneRequired("imdb", "fixture")

	bindEnv(v, flags)

	return cmd
}

func humanReadableSize(bytes int64) string {
	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(bytes)/float64(div),
		"kMGTPE"[exp])
}

func loadSource(ctx context.Context, cfg *Config, opts buildOptions) (*moviedb.Dataset, error) {
	if opts.imdb != "" {
		logf(cfg, "BUILD: Reading IMDb dumps from %s", opts.imdb)

		return moviedb.LoadIMDb(ctx, opts.imdb)
	}

	logf(cfg, "BUILD: Reading fixture %s", opts.fixture)

	f, err := os.Open(opts.fixture)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return moviedb.LoadFixture(f)
}

func buildDataset(ctx context.Context, cfg *Config, w io.Writer, opts buildOptions) error {
	startTime := time.Now()

	if opts.imdb == "" && opts.fixture == "" {
		return errors.New("one of --imdb or --fixture is required")
	}

	out := opts.out
	if out == "" {
		out = cfg.dataset
	}

	ds, err := loadSource(ctx, cfg, opts)
	if err != nil {
		return err
	}

	logf(cfg, "BUILD: Loaded %d movies, %d people and %d appearances in %s",
		len(ds.Movies),
		len(ds.People),
		len(ds.Appearances),
		time.Since(startTime).Round(time.Millisecond),
	)

	st, err := moviedb.WriteBundle(ctx, ds, out)
	if err != nil {
		return err
	}

	info, err := os.Stat(out)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Wrote %s (%s): %d movies, %d people, %d appearances in %s\n",
		out,
		humanReadableSize(info.Size()),
		st.Movies,
		st.People,
		st.Appearances,
		time.Since(startTime).Round(time.Millisecond),
	)

	if opts.install {
		stale := filepath.Join(cfg.dataDir, moviedb.DatabaseName)

		err := os.Remove(stale)
		switch {
		case err == nil:
			fmt.Fprintf(w, "Removed %s\n", stale)
		case !errors.Is(err, fs.ErrNotExist):
			return err
		}
	}

	return nil
}
