package moviedb

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

const imdbNull = `\N`

// IMDb dump files read by LoadIMDb. Each may also be present gzipped, as
// distributed, with a .gz suffix.
const (
	IMDbBasics     = "title.basics.tsv"
	IMDbPrincipals = "title.principals.tsv"
	IMDbRatings    = "title.ratings.tsv"
	IMDbNames      = "name.basics.tsv"
)

type rating struct {
	value float64
	votes int64
}

// LoadIMDb assembles a Dataset from the IMDb TSV dumps in dir: every
// non-adult feature film, the actors and actresses credited in them, and
// their ratings where known. People never credited in a kept movie are
// dropped.
func LoadIMDb(ctx context.Context, dir string) (*Dataset, error) {
	var (
		ratings map[string]rating
		movies  []Movie
		people  []Person
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		ratings, err = loadRatings(gctx, dir)
		return err
	})

	g.Go(func() error {
		var err error
		movies, err = loadMovies(gctx, dir)
		return err
	})

	g.Go(func() error {
		var err error
		people, err = loadActors(gctx, dir)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	kept := make(map[string]bool, len(movies))
	for i := range movies {
		kept[movies[i].ID] = true

		if r, ok := ratings[movies[i].ID]; ok {
			value, votes := r.value, r.votes
			movies[i].Rating = &value
			movies[i].Votes = &votes
		}
	}

	actors := make(map[string]bool, len(people))
	for _, p := range people {
		actors[p.ID] = true
	}

	links, err := loadAppearances(ctx, dir, kept, actors)
	if err != nil {
		return nil, err
	}

	credited := make(map[string]bool)
	for _, l := range links {
		credited[l.PersonID] = true
	}

	needed := people[:0]
	for _, p := range people {
		if credited[p.ID] {
			needed = append(needed, p)
		}
	}

	return &Dataset{
		Movies:      movies,
		People:      needed,
		Appearances: links,
	}, nil
}

func loadRatings(ctx context.Context, dir string) (map[string]rating, error) {
	ratings := make(map[string]rating)

	err := readTSV(ctx, dir, IMDbRatings, func(row tsvRow) error {
		value, err := strconv.ParseFloat(row.get("averageRating"), 64)
		if err != nil {
			return nil
		}

		votes, err := strconv.ParseInt(row.get("numVotes"), 10, 64)
		if err != nil {
			return nil
		}

		ratings[row.get("tconst")] = rating{value: value, votes: votes}

		return nil
	})

	return ratings, err
}

func loadMovies(ctx context.Context, dir string) ([]Movie, error) {
	var movies []Movie

	err := readTSV(ctx, dir, IMDbBasics, func(row tsvRow) error {
		if row.get("titleType") != "movie" || row.get("isAdult") == "1" {
			return nil
		}

		m := Movie{
			ID:     row.get("tconst"),
			Title:  row.get("primaryTitle"),
			Genres: splitList(row.get("genres")),
		}

		if year, err := strconv.Atoi(row.get("startYear")); err == nil {
			m.Year = &year
		}

		movies = append(movies, m)

		return nil
	})

	return movies, err
}

func loadActors(ctx context.Context, dir string) ([]Person, error) {
	var people []Person

	err := readTSV(ctx, dir, IMDbNames, func(row tsvRow) error {
		professions := row.get("primaryProfession")
		if !strings.Contains(professions, "actor") && !strings.Contains(professions, "actress") {
			return nil
		}

		people = append(people, Person{
			ID:       row.get("nconst"),
			Name:     row.get("primaryName"),
			KnownFor: row.get("knownForTitles"),
		})

		return nil
	})

	return people, err
}

func loadAppearances(ctx context.Context, dir string, movies, actors map[string]bool) ([]Appearance, error) {
	var links []Appearance

	err := readTSV(ctx, dir, IMDbPrincipals, func(row tsvRow) error {
		switch row.get("category") {
		case "actor", "actress":
		default:
			return nil
		}

		l := Appearance{MovieID: row.get("tconst"), PersonID: row.get("nconst")}
		if movies[l.MovieID] && actors[l.PersonID] {
			links = append(links, l)
		}

		return nil
	})

	return links, err
}

type tsvRow struct {
	columns map[string]int
	fields  []string
}

// get returns the named column, with IMDb's \N null marker mapped to "".
func (r tsvRow) get(name string) string {
	i, ok := r.columns[name]
	if !ok || i >= len(r.fields) || r.fields[i] == imdbNull {
		return ""
	}

	return r.fields[i]
}

func openDump(dir, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(dir, name))
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	gz, gzErr := os.Open(filepath.Join(dir, name+".gz"))
	if gzErr != nil {
		return nil, fmt.Errorf("missing required file %s: %w", name, err)
	}

	zr, err := gzip.NewReader(gz)
	if err != nil {
		_ = gz.Close()
		return nil, fmt.Errorf("%s.gz: %w", name, err)
	}

	return struct {
		io.Reader
		io.Closer
	}{zr, gz}, nil
}

// readTSV streams an unquoted, tab-separated IMDb dump, calling fn for every
// data row. The first line names the columns.
func readTSV(ctx context.Context, dir, name string, fn func(tsvRow) error) error {
	rc, err := openDump(dir, name)
	if err != nil {
		return err
	}
	defer rc.Close()

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<24)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return fmt.Errorf("%s: empty file", name)
	}

	row := tsvRow{columns: make(map[string]int)}
	for i, col := range strings.Split(sc.Text(), "\t") {
		row.columns[col] = i
	}

	for n := 0; sc.Scan(); n++ {
		if n%100000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		row.fields = strings.Split(sc.Text(), "\t")
		if err := fn(row); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if err := sc.Err(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	return nil
}
