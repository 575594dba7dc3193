package chain

import (
	"time"

	"go.uber.org/zap"
)

const (
	DefaultWarningThreshold = 5 * time.Second
	DefaultSearchWorkers    = 2
	DefaultDebounce         = 300 * time.Millisecond

	// Result caps for the open first pick (per kind) and for in-turn search.
	initialResults = 5
	scopedResults  = 20
)

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithScorePolicy(p *ScorePolicy) Option {
	return func(e *Engine) {
		if p != nil {
			e.score = p
		}
	}
}

// WithWarningThreshold sets how much time must remain on the turn timer for
// the low-time warning to fire.
func WithWarningThreshold(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.warnAt = int(d / time.Second)
		}
	}
}

// WithLives sets the lives every player starts with in elimination mode.
func WithLives(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.lives = n
		}
	}
}

func WithSearchWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithDebounce sets how long SetQuery waits for typing to settle before
// dispatching a search.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.debounce = d
		}
	}
}

// WithTickInterval sets the wall-clock length of one timer second.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tick = d
		}
	}
}
