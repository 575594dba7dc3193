/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package moviedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const schema = `
CREATE TABLE movies (
	tconst TEXT PRIMARY KEY,
	title  TEXT NOT NULL,
	year   INTEGER,
	genres TEXT,
	rating REAL,
	votes  INTEGER
);

CREATE TABLE actors (
	nconst    TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	known_for TEXT
);

CREATE TABLE movie_actors (
	tconst TEXT NOT NULL,
	nconst TEXT NOT NULL,
	PRIMARY KEY (tconst, nconst),
	FOREIGN KEY (tconst) REFERENCES movies(tconst),
	FOREIGN KEY (nconst) REFERENCES actors(nconst)
);

CREATE VIRTUAL TABLE movies_fts USING fts5(
	title,
	content='movies',
	content_rowid='rowid'
);

CREATE VIRTUAL TABLE actors_fts USING fts5(
	name,
	content='actors',
	content_rowid='rowid'
);
`

const indexes = `
CREATE INDEX idx_movie_actors_movie ON movie_actors(tconst);
CREATE INDEX idx_movie_actors_actor ON movie_actors(nconst);
CREATE INDEX idx_movies_votes ON movies(votes DESC);
CREATE INDEX idx_movies_year ON movies(year);
`

// Build writes ds to a fresh SQLite store at path, replacing any existing
// file. Appearances naming an unknown movie or person are skipped.
func Build(ctx context.Context, path string, ds *Dataset) (Stats, error) {
	var st Stats

	if ds == nil {
		return st, errors.New("nil dataset")
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return st, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return st, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return st, err
	}
	defer db.Close()

	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = OFF",
		"PRAGMA synchronous = OFF",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return st, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return st, fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return st, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	movies, err := insertMovies(ctx, tx, ds.Movies)
	if err != nil {
		return st, fmt.Errorf("insert movies: %w", err)
	}

	people, err := insertPeople(ctx, tx, ds.People)
	if err != nil {
		return st, fmt.Errorf("insert people: %w", err)
	}

	links, err := insertAppearances(ctx, tx, ds.Appearances, movies, people)
	if err != nil {
		return st, fmt.Errorf("insert appearances: %w", err)
	}

	for _, q := range []string{
		`INSERT INTO movies_fts(rowid, title) SELECT rowid, title FROM movies`,
		`INSERT INTO actors_fts(rowid, name) SELECT rowid, name FROM actors`,
	} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return st, fmt.Errorf("build search index: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return st, err
	}

	if _, err := db.ExecContext(ctx, indexes); err != nil {
		return st, fmt.Errorf("create indexes: %w", err)
	}

	return Stats{
		Movies:      int64(len(movies)),
		People:      int64(len(people)),
		Appearances: links,
	}, nil
}

func insertMovies(ctx context.Context, tx *sql.Tx, movies []Movie) (map[string]bool, error) {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO movies (tconst, title, year, genres, rating, votes) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	seen := make(map[string]bool, len(movies))
	for _, m := range movies {
		if m.ID == "" || m.Title == "" || seen[m.ID] {
			continue
		}

		var genres any
		if len(m.Genres) > 0 {
			genres = strings.Join(m.Genres, ",")
		}

		if _, err := stmt.ExecContext(ctx, m.ID, m.Title, m.Year, genres, m.Rating, m.Votes); err != nil {
			return nil, err
		}
		seen[m.ID] = true
	}

	return seen, nil
}

func insertPeople(ctx context.Context, tx *sql.Tx, people []Person) (map[string]bool, error) {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO actors (nconst, name, known_for) VALUES (?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	seen := make(map[string]bool, len(people))
	for _, p := range people {
		if p.ID == "" || p.Name == "" || seen[p.ID] {
			continue
		}

		var knownFor any
		if p.KnownFor != "" {
			knownFor = p.KnownFor
		}

		if _, err := stmt.ExecContext(ctx, p.ID, p.Name, knownFor); err != nil {
			return nil, err
		}
		seen[p.ID] = true
	}

	return seen, nil
}

func insertAppearances(ctx context.Context, tx *sql.Tx, links []Appearance, movies, people map[string]bool) (int64, error) {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO movie_actors (tconst, nconst) VALUES (?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var n int64
	for _, l := range links {
		if !movies[l.MovieID] || !people[l.PersonID] {
			continue
		}

		res, err := stmt.ExecContext(ctx, l.MovieID, l.PersonID)
		if err != nil {
			return n, err
		}

		if rows, err := res.RowsAffected(); err == nil {
			n += rows
		}
	}

	return n, nil
}

// WriteBundle builds ds into a temporary store and compresses it into the
// gzip container at out, ready to be shipped as the bundled asset.
func WriteBundle(ctx context.Context, ds *Dataset, out string) (Stats, error) {
	tmpDir, err := os.MkdirTemp("", "moviechain-build-")
	if err != nil {
		return Stats{}, err
	}
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, DatabaseName)

	st, err := Build(ctx, dbPath, ds)
	if err != nil {
		return st, err
	}

	src, err := os.Open(dbPath)
	if err != nil {
		return st, err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return st, err
	}

	dst, err := os.Create(out)
	if err != nil {
		return st, err
	}

	if err := Compress(dst, src, DatabaseName); err != nil {
		_ = dst.Close()
		_ = os.Remove(out)
		return st, err
	}

	return st, dst.Close()
}
