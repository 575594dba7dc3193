package moviedb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func loadTestFixture(t *testing.T) *Dataset {
	t.Helper()

	f, err := os.Open(filepath.Join("testdata", "fixture.yaml"))
	require.NoError(t, err)
	defer f.Close()

	ds, err := LoadFixture(f)
	require.NoError(t, err)

	return ds
}

func newFixtureStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), DatabaseName)

	_, err := Build(context.Background(), path, loadTestFixture(t))
	require.NoError(t, err)

	s := New(Config{Path: path})
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

func fixtureBundle(t *testing.T) []byte {
	t.Helper()

	out := filepath.Join(t.TempDir(), AssetName)

	_, err := WriteBundle(context.Background(), loadTestFixture(t), out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	return data
}

func movieIDs(movies []Movie) []string {
	ids := make([]string, 0, len(movies))
	for _, m := range movies {
		ids = append(ids, m.ID)
	}
	return ids
}

func personNames(people []Person) []string {
	names := make([]string, 0, len(people))
	for _, p := range people {
		names = append(names, p.Name)
	}
	return names
}
