package chain

import (
	"time"

	"go.uber.org/zap"
)

// startTimerLocked (re)starts the turn countdown for the current
// generation.
func (e *Engine) startTimerLocked() {
	e.stopTimerLocked()

	stop := make(chan struct{})
	e.stopTimer = stop
	e.remaining = int(e.duration / time.Second)
	e.warned = false
	e.timerRunning = true

	e.wg.Add(1)
	go e.runTimer(e.gen, stop)
}

func (e *Engine) stopTimerLocked() {
	if e.stopTimer != nil {
		close(e.stopTimer)
		e.stopTimer = nil
	}

	e.timerRunning = false
}

func (e *Engine) runTimer(gen uint64, stop <-chan struct{}) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !e.tickTimer(gen) {
				return
			}
		}
	}
}

// tickTimer counts down one second. A tick that belongs to a turn that has
// already ended does nothing. It reports whether the timer should keep
// running.
func (e *Engine) tickTimer(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.gen || e.phase != PhasePlaying || !e.timerRunning {
		return false
	}

	if e.remaining > 0 {
		e.remaining--
	}

	switch {
	case e.remaining == 0:
		e.log.Debug("turn timer expired", zap.String("player", e.players[e.current].Name))
		e.breakChainLocked(BreakReason{Kind: TimerExpired})
		return false
	case !e.warned && e.remaining <= e.warnAt:
		// Turns no longer than the threshold warn on their first tick.
		e.warned = true
		e.emitLocked(EventWarning)
	default:
		e.emitLocked(EventTick)
	}

	return true
}
