package chain

import "errors"

var (
	ErrWrongPhase     = errors.New("not allowed in the current phase")
	ErrNotReady       = errors.New("dataset not ready")
	ErrTurnOver       = errors.New("turn ended before the answer was checked")
	ErrPlayerCount    = errors.New("player count out of range")
	ErrInvalidSetting = errors.New("invalid setting")
)
