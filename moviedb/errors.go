/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package moviedb

import "errors"

// Dataset errors never terminate the process. Callers surface them as a
// "not ready" status and keep serving.
var (
	ErrDatasetMissing      = errors.New("bundled dataset not found")
	ErrInvalidContainer    = errors.New("invalid gzip container")
	ErrDecompressionFailed = errors.New("dataset decompression failed")
	ErrStoreUnavailable    = errors.New("dataset store unavailable")
	ErrNotFound            = errors.New("not found")
)
