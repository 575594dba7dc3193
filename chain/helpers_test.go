package chain

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Seednode/moviechain/moviedb"
	"github.com/stretchr/testify/require"
)

// fixtureStore builds the shared YAML fixture into an opened store.
func fixtureStore(t *testing.T) *moviedb.Store {
	t.Helper()

	f, err := os.Open(filepath.Join("..", "moviedb", "testdata", "fixture.yaml"))
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

func newEngine(t *testing.T, g Graph, opts ...Option) *Engine {
	t.Helper()

	e := New(g, opts...)
	t.Cleanup(e.Close)

	return e
}

func resolve(t *testing.T, e *Engine, kind Kind, id string) Link {
	t.Helper()

	l, err := e.Resolve(context.Background(), kind, id)
	require.NoError(t, err)

	return l
}

func submit(t *testing.T, e *Engine, l Link) {
	t.Helper()

	require.NoError(t, e.Submit(context.Background(), l))
}

func linkIDs(links []Link) []string {
	ids := make([]string, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.ID())
	}
	return ids
}

func waitPhase(t *testing.T, e *Engine, want Phase) {
	t.Helper()

	require.Eventually(t, func() bool {
		return e.Snapshot().Phase == want
	}, 5*time.Second, 5*time.Millisecond, "Expected phase %s", want)
}

// fakeGraph is a tiny in-memory Graph whose calls can be held open to
// stage races.
type fakeGraph struct {
	ready  bool
	movies []moviedb.Movie
	people []moviedb.Person
	cast   map[string][]string

	mu             sync.Mutex
	appearanceErr  error
	appearanceHold chan struct{}
	appearanceSeen chan struct{}
	searchHold     map[string]chan struct{}
	searchSeen     map[string]chan struct{}
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		ready: true,
		movies: []moviedb.Movie{
			{ID: "m1", Title: "Fast Five"},
			{ID: "m2", Title: "Slow West"},
			{ID: "m3", Title: "Fast Company"},
		},
		people: []moviedb.Person{
			{ID: "p1", Name: "Vin Diesel"},
			{ID: "p2", Name: "Michael Fassbender"},
			{ID: "p3", Name: "Paul Walker"},
		},
		cast: map[string][]string{
			"m1": {"p1", "p3"},
			"m2": {"p2"},
		},
		searchHold: make(map[string]chan struct{}),
		searchSeen: make(map[string]chan struct{}),
	}
}

// holdSearch makes movie searches for query block until the returned
// release function is called. seen is closed once the search has started.
func (g *fakeGraph) holdSearch(query string) (seen <-chan struct{}, release func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	hold := make(chan struct{})
	s := make(chan struct{})
	g.searchHold[query] = hold
	g.searchSeen[query] = s

	return s, func() { close(hold) }
}

func (g *fakeGraph) holdAppearance() (seen <-chan struct{}, release func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.appearanceHold = make(chan struct{})
	g.appearanceSeen = make(chan struct{})

	hold := g.appearanceHold
	return g.appearanceSeen, func() { close(hold) }
}

func (g *fakeGraph) Ready() bool { return g.ready }

func (g *fakeGraph) GetMovie(_ context.Context, id string) (*moviedb.Movie, error) {
	for _, m := range g.movies {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, moviedb.ErrNotFound
}

func (g *fakeGraph) GetPerson(_ context.Context, id string) (*moviedb.Person, error) {
	for _, p := range g.people {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, moviedb.ErrNotFound
}

func hasPrefix(name, query string) bool {
	return strings.HasPrefix(strings.ToLower(name), strings.ToLower(query))
}

func (g *fakeGraph) SearchMovies(_ context.Context, query string, limit int) ([]moviedb.Movie, error) {
	g.mu.Lock()
	hold, seen := g.searchHold[query], g.searchSeen[query]
	delete(g.searchHold, query)
	delete(g.searchSeen, query)
	g.mu.Unlock()

	if hold != nil {
		close(seen)
		<-hold
	}

	var out []moviedb.Movie
	for _, m := range g.movies {
		if hasPrefix(m.Title, query) && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (g *fakeGraph) SearchPeople(_ context.Context, query string, limit int) ([]moviedb.Person, error) {
	var out []moviedb.Person
	for _, p := range g.people {
		if hasPrefix(p.Name, query) && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (g *fakeGraph) SearchPeopleInMovie(ctx context.Context, query, movieID string, limit int) ([]moviedb.Person, error) {
	var out []moviedb.Person
	for _, p := range g.people {
		if ok, _ := g.IsAppearance(ctx, p.ID, movieID); ok && hasPrefix(p.Name, query) && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (g *fakeGraph) SearchMoviesWithPerson(ctx context.Context, query, personID string, limit int) ([]moviedb.Movie, error) {
	var out []moviedb.Movie
	for _, m := range g.movies {
		if ok, _ := g.IsAppearance(ctx, personID, m.ID); ok && hasPrefix(m.Title, query) && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (g *fakeGraph) IsAppearance(_ context.Context, personID, movieID string) (bool, error) {
	g.mu.Lock()
	hold, seen, err := g.appearanceHold, g.appearanceSeen, g.appearanceErr
	g.appearanceHold, g.appearanceSeen = nil, nil
	g.mu.Unlock()

	if hold != nil {
		close(seen)
		<-hold
	}

	if err != nil {
		return false, err
	}

	for _, id := range g.cast[movieID] {
		if id == personID {
			return true, nil
		}
	}
	return false, nil
}
