// Package moviedb owns the movie/people reference graph: bootstrapping the
// bundled gzip container into an SQLite file on first use, then answering
// read-only, concurrency-safe queries over movies, people and the appearance
// relation between them.
package moviedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	// AssetName is the file name of the bundled, compressed dataset.
	AssetName = "moviechain_core.sqlite.gz"
	// DatabaseName is the file name of the decompressed store.
	DatabaseName = "moviechain_core.sqlite"
)

type State int

const (
	StateUnloaded State = iota
	StateDecompressing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDecompressing:
		return "decompressing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unloaded"
	}
}

// Status is a point-in-time view of the bootstrap.
type Status struct {
	State    State   `json:"-"`
	Label    string  `json:"state"`
	Progress float64 `json:"progress"`
	Err      error   `json:"-"`
	Error    string  `json:"error,omitempty"`
}

// Progress is delivered on the channel returned by EnsureLoaded. The last
// value sent has Done set.
type Progress struct {
	Fraction float64
	Done     bool
	Err      error
}

// Config locates the bundled asset and the on-disk destination.
type Config struct {
	Asset     fs.FS
	AssetName string
	Path      string
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// Store is the read-only reference graph. The zero state is "not ready":
// every query returns an empty result until Load or Open succeeds.
type Store struct {
	cfg Config
	log *zap.Logger

	load sync.Mutex

	mu       sync.RWMutex
	db       *sql.DB
	state    State
	progress float64
	err      error
}

func New(cfg Config, opts ...Option) *Store {
	if cfg.AssetName == "" {
		cfg.AssetName = AssetName
	}

	s := &Store{
		cfg: cfg,
		log: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Store) Path() string {
	return s.cfg.Path
}

func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state == StateReady && s.db != nil
}

func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		State:    s.state,
		Label:    s.state.String(),
		Progress: s.progress,
		Err:      s.err,
	}
	if s.err != nil {
		st.Error = s.err.Error()
	}

	return st
}

// EnsureLoaded runs Load on a background goroutine. Progress fractions are
// delivered best-effort; the final value, with Done set, is always delivered
// before the channel is closed.
func (s *Store) EnsureLoaded(ctx context.Context) <-chan Progress {
	ch := make(chan Progress, 16)

	go func() {
		defer close(ch)

		err := s.Load(ctx, func(f float64) {
			// Keep one slot free for the final value.
			if len(ch) < cap(ch)-1 {
				ch <- Progress{Fraction: f}
			}
		})

		ch <- Progress{Fraction: s.Status().Progress, Done: true, Err: err}
	}()

	return ch
}

// Load opens the decompressed store, decompressing the bundled asset first
// if no store exists at the destination yet. It is safe to call repeatedly
// and concurrently; only one bootstrap runs at a time.
func (s *Store) Load(ctx context.Context, progress func(float64)) error {
	s.load.Lock()
	defer s.load.Unlock()

	if s.Ready() {
		return nil
	}

	_, err := os.Stat(s.cfg.Path)
	switch {
	case err == nil:
		s.log.Debug("opening existing store", zap.String("path", s.cfg.Path))
		return s.Open(ctx)
	case !errors.Is(err, fs.ErrNotExist):
		return s.fail(fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
	}

	data, err := s.readAsset()
	if err != nil {
		return s.fail(err)
	}

	s.setState(StateDecompressing, 0, nil)
	s.log.Info("decompressing dataset",
		zap.String("asset", s.cfg.AssetName),
		zap.Int("compressed_bytes", len(data)),
	)

	written, err := s.decompress(ctx, data, progress)
	if err != nil {
		return s.fail(err)
	}

	s.log.Info("dataset decompressed",
		zap.String("path", s.cfg.Path),
		zap.Int64("bytes", written),
	)

	return s.Open(ctx)
}

func (s *Store) readAsset() ([]byte, error) {
	if s.cfg.Asset == nil {
		return nil, fmt.Errorf("%w: no asset source configured", ErrDatasetMissing)
	}

	data, err := fs.ReadFile(s.cfg.Asset, s.cfg.AssetName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatasetMissing, err)
	}

	return data, nil
}

func (s *Store) decompress(ctx context.Context, data []byte, progress func(float64)) (int64, error) {
	dir := filepath.Dir(s.cfg.Path)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDecompressionFailed, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.cfg.Path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDecompressionFailed, err)
	}

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	written, err := Inflate(data, ctxWriter{ctx: ctx, f: tmp}, func(f float64) {
		s.setProgress(f)
		if progress != nil {
			progress(f)
		}
	})
	if err != nil {
		cleanup()
		return written, err
	}

	if err := tmp.Sync(); err != nil {
		cleanup()
		return written, fmt.Errorf("%w: %w", ErrDecompressionFailed, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return written, fmt.Errorf("%w: %w", ErrDecompressionFailed, err)
	}

	if err := os.Rename(tmp.Name(), s.cfg.Path); err != nil {
		_ = os.Remove(tmp.Name())
		return written, fmt.Errorf("%w: %w", ErrDecompressionFailed, err)
	}

	return written, nil
}

// ctxWriter aborts a long decompression once ctx is cancelled.
type ctxWriter struct {
	ctx context.Context
	f   *os.File
}

func (w ctxWriter) Write(p []byte) (int, error) {
	if err := w.ctx.Err(); err != nil {
		return 0, err
	}

	return w.f.Write(p)
}

// Open opens the decompressed store read-only. On failure the store stays
// not ready and the error wraps ErrStoreUnavailable.
func (s *Store) Open(ctx context.Context) error {
	db, err := sql.Open("sqlite", "file:"+s.cfg.Path+"?mode=ro&_pragma=query_only(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return s.fail(fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)

	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return s.fail(fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
	}

	s.mu.Lock()
	old := s.db
	s.db = db
	s.state = StateReady
	s.progress = 1
	s.err = nil
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	s.log.Info("store ready", zap.String("path", s.cfg.Path))

	return nil
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master
		WHERE name IN ('movies', 'actors', 'movie_actors', 'movies_fts', 'actors_fts')`).Scan(&n)
	if err != nil {
		return err
	}

	if n != 5 {
		return fmt.Errorf("missing tables (found %d of 5)", n)
	}

	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.state = StateUnloaded
	s.mu.Unlock()

	if db == nil {
		return nil
	}

	return db.Close()
}

func (s *Store) handle() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateReady {
		return nil
	}

	return s.db
}

func (s *Store) setState(state State, progress float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state
	s.progress = progress
	s.err = err
}

func (s *Store) setProgress(f float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f > s.progress {
		s.progress = f
	}
}

func (s *Store) fail(err error) error {
	s.mu.Lock()
	s.state = StateFailed
	s.err = err
	s.mu.Unlock()

	s.log.Warn("dataset not ready", zap.Error(err))

	return err
}
