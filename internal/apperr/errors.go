// Package apperr holds the sentinel errors shared across layers.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrTranscription = errors.New("transcription failed")
	ErrUnavailable   = errors.New("service unavailable")
)
