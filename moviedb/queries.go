package moviedb

import (
	"context"
	"database/sql"
	"errors"
	"math/rand/v2"
	"strings"
	"unicode"
)

const (
	movieColumns  = "m.tconst, m.title, m.year, m.genres, m.rating, m.votes"
	personColumns = "a.nconst, a.name, a.known_for"

	// PopularPool is how many of the most-voted movies RandomPopularMovie
	// draws from.
	PopularPool = 1000

	noLimit = -1
)

// matchExpr turns free text into an FTS5 expression matching every
// whitespace-separated token as a prefix. Tokens are quoted so punctuation in
// user input is never parsed as query syntax. Tokens without a letter or
// digit are dropped, so the result may be empty.
func matchExpr(query string) string {
	fields := strings.Fields(query)

	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if strings.IndexFunc(f, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r)
		}) < 0 {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, `""`)+`"*`)
	}

	return strings.Join(terms, " ")
}

// SearchMovies returns movies whose title token-prefix-matches query, most
// voted first.
func (s *Store) SearchMovies(ctx context.Context, query string, limit int) ([]Movie, error) {
	match := matchExpr(query)
	if match == "" || limit <= 0 {
		return nil, nil
	}

	return s.queryMovies(ctx, `SELECT `+movieColumns+`
		FROM movies m
		JOIN movies_fts ON m.rowid = movies_fts.rowid
		WHERE movies_fts MATCH ?
		ORDER BY m.votes DESC, m.rowid
		LIMIT ?`, match, limit)
}

// SearchPeople returns people whose name token-prefix-matches query, in
// dataset order.
func (s *Store) SearchPeople(ctx context.Context, query string, limit int) ([]Person, error) {
	match := matchExpr(query)
	if match == "" || limit <= 0 {
		return nil, nil
	}

	return s.queryPeople(ctx, `SELECT `+personColumns+`
		FROM actors a
		JOIN actors_fts ON a.rowid = actors_fts.rowid
		WHERE actors_fts MATCH ?
		ORDER BY a.rowid
		LIMIT ?`, match, limit)
}

func (s *Store) GetMovie(ctx context.Context, id string) (*Movie, error) {
	movies, err := s.queryMovies(ctx, `SELECT `+movieColumns+` FROM movies m WHERE m.tconst = ?`, id)
	if err != nil {
		return nil, err
	}

	if len(movies) == 0 {
		return nil, ErrNotFound
	}

	return &movies[0], nil
}

func (s *Store) GetPerson(ctx context.Context, id string) (*Person, error) {
	people, err := s.queryPeople(ctx, `SELECT `+personColumns+` FROM actors a WHERE a.nconst = ?`, id)
	if err != nil {
		return nil, err
	}

	if len(people) == 0 {
		return nil, ErrNotFound
	}

	return &people[0], nil
}

// RandomPopularMovie picks uniformly among the PopularPool most voted movies.
func (s *Store) RandomPopularMovie(ctx context.Context) (*Movie, error) {
	db := s.handle()
	if db == nil {
		return nil, ErrNotFound
	}

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM movies`).Scan(&total); err != nil {
		return nil, err
	}

	pool := min(total, PopularPool)
	if pool == 0 {
		return nil, ErrNotFound
	}

	movies, err := s.queryMovies(ctx, `SELECT `+movieColumns+`
		FROM movies m
		ORDER BY m.votes DESC, m.rowid
		LIMIT 1 OFFSET ?`, rand.IntN(pool))
	if err != nil {
		return nil, err
	}

	if len(movies) == 0 {
		return nil, ErrNotFound
	}

	return &movies[0], nil
}

// IsAppearance reports whether personID is credited in movieID.
func (s *Store) IsAppearance(ctx context.Context, personID, movieID string) (bool, error) {
	db := s.handle()
	if db == nil {
		return false, nil
	}

	var one int
	err := db.QueryRowContext(ctx,
		`SELECT 1 FROM movie_actors WHERE tconst = ? AND nconst = ? LIMIT 1`,
		movieID, personID,
	).Scan(&one)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, err
	}

	return true, nil
}

func (s *Store) PeopleInMovie(ctx context.Context, movieID string) ([]Person, error) {
	return s.peopleInMovie(ctx, movieID, noLimit)
}

func (s *Store) MoviesWithPerson(ctx context.Context, personID string) ([]Movie, error) {
	return s.moviesWithPerson(ctx, personID, noLimit)
}

func (s *Store) peopleInMovie(ctx context.Context, movieID string, limit int) ([]Person, error) {
	return s.queryPeople(ctx, `SELECT `+personColumns+`
		FROM actors a
		JOIN movie_actors ma ON a.nconst = ma.nconst
		WHERE ma.tconst = ?
		ORDER BY a.rowid
		LIMIT ?`, movieID, limit)
}

func (s *Store) moviesWithPerson(ctx context.Context, personID string, limit int) ([]Movie, error) {
	return s.queryMovies(ctx, `SELECT `+movieColumns+`
		FROM movies m
		JOIN movie_actors ma ON m.tconst = ma.tconst
		WHERE ma.nconst = ?
		ORDER BY m.votes DESC, m.rowid
		LIMIT ?`, personID, limit)
}

// SearchPeopleInMovie is SearchPeople restricted to the cast of movieID. A
// blank query returns the whole cast, truncated to limit; a query with
// nothing searchable in it returns nothing, as SearchPeople does.
func (s *Store) SearchPeopleInMovie(ctx context.Context, query, movieID string, limit int) ([]Person, error) {
	if limit <= 0 {
		return nil, nil
	}

	if strings.TrimSpace(query) == "" {
		return s.peopleInMovie(ctx, movieID, limit)
	}

	match := matchExpr(query)
	if match == "" {
		return nil, nil
	}

	return s.queryPeople(ctx, `SELECT `+personColumns+`
		FROM actors a
		JOIN actors_fts ON a.rowid = actors_fts.rowid
		JOIN movie_actors ma ON a.nconst = ma.nconst
		WHERE actors_fts MATCH ? AND ma.tconst = ?
		ORDER BY a.rowid
		LIMIT ?`, match, movieID, limit)
}

// SearchMoviesWithPerson is SearchMovies restricted to the filmography of
// personID. A blank query returns the whole filmography, truncated to limit.
func (s *Store) SearchMoviesWithPerson(ctx context.Context, query, personID string, limit int) ([]Movie, error) {
	if limit <= 0 {
		return nil, nil
	}

	if strings.TrimSpace(query) == "" {
		return s.moviesWithPerson(ctx, personID, limit)
	}

	match := matchExpr(query)
	if match == "" {
		return nil, nil
	}

	return s.queryMovies(ctx, `SELECT `+movieColumns+`
		FROM movies m
		JOIN movies_fts ON m.rowid = movies_fts.rowid
		JOIN movie_actors ma ON m.tconst = ma.tconst
		WHERE movies_fts MATCH ? AND ma.nconst = ?
		ORDER BY m.votes DESC, m.rowid
		LIMIT ?`, match, personID, limit)
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats

	db := s.handle()
	if db == nil {
		return st, nil
	}

	err := db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM movies),
		(SELECT COUNT(*) FROM actors),
		(SELECT COUNT(*) FROM movie_actors)`).Scan(&st.Movies, &st.People, &st.Appearances)

	return st, err
}

func (s *Store) queryMovies(ctx context.Context, query string, args ...any) ([]Movie, error) {
	db := s.handle()
	if db == nil {
		return nil, nil
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movies []Movie
	for rows.Next() {
		var (
			m      Movie
			title  sql.NullString
			year   sql.NullInt64
			genres sql.NullString
			rating sql.NullFloat64
			votes  sql.NullInt64
		)

		if err := rows.Scan(&m.ID, &title, &year, &genres, &rating, &votes); err != nil {
			return nil, err
		}

		if m.ID == "" || !title.Valid {
			continue
		}
		m.Title = title.String

		if year.Valid {
			y := int(year.Int64)
			m.Year = &y
		}
		if genres.Valid {
			m.Genres = splitList(genres.String)
		}
		if rating.Valid {
			r := rating.Float64
			m.Rating = &r
		}
		if votes.Valid {
			v := votes.Int64
			m.Votes = &v
		}

		movies = append(movies, m)
	}

	return movies, rows.Err()
}

func (s *Store) queryPeople(ctx context.Context, query string, args ...any) ([]Person, error) {
	db := s.handle()
	if db == nil {
		return nil, nil
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var people []Person
	for rows.Next() {
		var (
			p        Person
			name     sql.NullString
			knownFor sql.NullString
		)

		if err := rows.Scan(&p.ID, &name, &knownFor); err != nil {
			return nil, err
		}

		if p.ID == "" || !name.Valid {
			continue
		}

		p.Name = name.String
		p.KnownFor = knownFor.String

		people = append(people, p)
	}

	return people, rows.Err()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}
