package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Seednode/moviechain/chain"
	"github.com/Seednode/moviechain/moviedb"
	"github.com/stretchr/testify/require"
)

var fixturePath = filepath.Join("moviedb", "testdata", "fixture.yaml")

func testConfig(t *testing.T) *Config {
	t.Helper()

	cfg := &Config{
		bind:             "127.0.0.1",
		port:             8080,
		playerTimeout:    time.Minute,
		sessionTimeout:   time.Hour,
		dataDir:          t.TempDir(),
		dataset:          filepath.Join(t.TempDir(), moviedb.AssetName),
		lives:            chain.DefaultLives,
		scoreFormula:     chain.DefaultScoreFormula,
		searchWorkers:    chain.DefaultSearchWorkers,
		warningThreshold: chain.DefaultWarningThreshold,
	}
	require.NoError(t, cfg.validate())

	return cfg
}

// fixtureStore builds the YAML fixture into an opened store.
func fixtureStore(t *testing.T) *moviedb.Store {
	t.Helper()

	f, err := os.Open(fixturePath)
	require.NoError(t, err)
	defer f.Close()

	ds, err := moviedb.LoadFixture(f)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), moviedb.DatabaseName)
	_, err = moviedb.Build(context.Background(), path, ds)
	require.NoError(t, err)

	s := moviedb.New(moviedb.Config{Path: path})
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}
