package chain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

type searchJob struct {
	seq   uint64
	query string
}

// scope is the part of the chain state a search depends on.
type scope struct {
	tail Link
	used map[string]bool
}

func (e *Engine) scopeLocked() scope {
	if len(e.links) == 0 {
		return scope{}
	}

	tail := e.links[len(e.links)-1]

	src := e.usedPeople
	if tail.Kind() == KindPerson {
		src = e.usedMovies
	}

	used := make(map[string]bool, len(src))
	for id := range src {
		used[id] = true
	}

	return scope{tail: tail, used: used}
}

// Search returns the answers matching query that the current player could
// give. With an empty chain it interleaves movies and people; otherwise it
// returns only neighbours of the chain's tail that have not been used yet.
// A blank query returns nothing.
func (e *Engine) Search(ctx context.Context, query string) ([]Link, error) {
	e.mu.Lock()
	sc := e.scopeLocked()
	e.mu.Unlock()

	return e.search(ctx, query, sc)
}

func (e *Engine) search(ctx context.Context, query string, sc scope) ([]Link, error) {
	query = strings.TrimSpace(query)
	if query == "" || e.graph == nil {
		return nil, nil
	}

	switch tail := sc.tail.(type) {
	case nil:
		return e.searchInitial(ctx, query)

	case MovieLink:
		people, err := e.graph.SearchPeopleInMovie(ctx, query, tail.ID(), scopedResults+len(sc.used))
		if err != nil {
			return nil, fmt.Errorf("search cast of %s: %w", tail.ID(), err)
		}

		var results []Link
		for _, p := range people {
			if !sc.used[p.ID] && len(results) < scopedResults {
				results = append(results, PersonLink{Person: p})
			}
		}
		return results, nil

	case PersonLink:
		movies, err := e.graph.SearchMoviesWithPerson(ctx, query, tail.ID(), scopedResults+len(sc.used))
		if err != nil {
			return nil, fmt.Errorf("search films of %s: %w", tail.ID(), err)
		}

		var results []Link
		for _, m := range movies {
			if !sc.used[m.ID] && len(results) < scopedResults {
				results = append(results, MovieLink{Movie: m})
			}
		}
		return results, nil
	}

	return nil, nil
}

func (e *Engine) searchInitial(ctx context.Context, query string) ([]Link, error) {
	movies, err := e.graph.SearchMovies(ctx, query, initialResults)
	if err != nil {
		return nil, fmt.Errorf("search movies: %w", err)
	}

	people, err := e.graph.SearchPeople(ctx, query, initialResults)
	if err != nil {
		return nil, fmt.Errorf("search people: %w", err)
	}

	results := make([]Link, 0, len(movies)+len(people))
	for i := range max(len(movies), len(people)) {
		if i < len(movies) {
			results = append(results, MovieLink{Movie: movies[i]})
		}
		if i < len(people) {
			results = append(results, PersonLink{Person: people[i]})
		}
	}

	return results, nil
}

// SetQuery records the current player's search text and refreshes the
// results in the background once typing pauses. Only the results of the
// latest query are ever published.
func (e *Engine) SetQuery(query string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	e.query = query
	e.querySeq++
	seq := e.querySeq

	if e.debouncer != nil {
		e.debouncer.Stop()
		e.debouncer = nil
	}

	if strings.TrimSpace(query) == "" {
		e.results = nil
		e.searching = false
		e.emitLocked(EventSearch)
		return
	}

	e.searching = true
	e.debouncer = time.AfterFunc(e.debounce, func() {
		select {
		case e.jobs <- searchJob{seq: seq, query: query}:
		case <-e.ctx.Done():
		}
	})
}

func (e *Engine) searchWorker() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case job := <-e.jobs:
			e.runSearch(job)
		}
	}
}

func (e *Engine) runSearch(job searchJob) {
	e.mu.Lock()
	if job.seq != e.querySeq {
		e.mu.Unlock()
		return
	}
	sc := e.scopeLocked()
	e.mu.Unlock()

	results, err := e.search(e.ctx, job.query, sc)

	e.mu.Lock()
	defer e.mu.Unlock()

	if job.seq != e.querySeq || e.closed {
		e.log.Debug("discarding stale search", zap.String("query", job.query))
		return
	}

	if err != nil {
		e.log.Warn("search failed", zap.String("query", job.query), zap.Error(err))
		results = nil
	}

	e.results = results
	e.searching = false

	e.emitLocked(EventSearch)
}

func (e *Engine) clearQueryLocked() {
	e.query = ""
	e.querySeq++
	e.results = nil
	e.searching = false

	if e.debouncer != nil {
		e.debouncer.Stop()
		e.debouncer = nil
	}
}
