package models

import "errors"

// Pipeline error kinds. Callers match with errors.Is; the wrapped message carries the
// offending path, kind, or placeholder.
var (
	ErrDirectoryNotFound          = errors.New("directory not found")
	ErrNoEligibleFiles            = errors.New("no pdf or json files found")
	ErrUnsupportedFormat          = errors.New("unsupported format")
	ErrEmptyChunkSet              = errors.New("no chunks to build index from")
	ErrIndexBuildInProgress       = errors.New("index build in progress")
	ErrTemplateMissingPlaceholder = errors.New("prompt template missing placeholder")
	ErrModelUnavailable           = errors.New("model unavailable")
	ErrIncompatibleIndex          = errors.New("incompatible index")
)

// IsTransient reports whether err may succeed if the caller retries after a backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrIndexBuildInProgress)
}
