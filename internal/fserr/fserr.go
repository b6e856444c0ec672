// Package fserr defines the error kinds shared by the workspace packages.
//
// Every error returned by the core wraps exactly one sentinel below, so
// callers can classify it with errors.Is and present a specific message.
package fserr

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrInvalidPath means a containment check failed or the input was malformed.
	ErrInvalidPath = errors.New("invalid path")

	// ErrNotFound means the workspace, file or directory does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict means the request is well formed but not allowed in the
	// current state, e.g. deleting a workspace root through a file delete.
	ErrConflict = errors.New("conflict")

	// ErrIO means an underlying read, write or remove failed.
	ErrIO = errors.New("io failure")

	// ErrExtractionFailed means an archive was malformed or one of its
	// entries failed validation.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrUnauthenticated means the caller did not present a valid principal.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Kind names, as exposed to API clients.
const (
	KindInvalidPath      = "invalid_path"
	KindNotFound         = "not_found"
	KindConflict         = "conflict"
	KindIOFailure        = "io_failure"
	KindExtractionFailed = "extraction_failed"
	KindUnauthenticated  = "unauthenticated"
)

// KindOf returns the kind name of err. Unclassified errors report as
// io_failure since they did not come from input validation.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPath):
		return KindInvalidPath
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrExtractionFailed):
		return KindExtractionFailed
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	default:
		return KindIOFailure
	}
}

// InvalidPath returns an ErrInvalidPath with a reason.
func InvalidPath(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPath, fmt.Sprintf(format, args...))
}

// NotFound returns an ErrNotFound with a reason.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflict returns an ErrConflict with a reason.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Extraction wraps err as an ErrExtractionFailed.
func Extraction(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrExtractionFailed, fmt.Sprintf(format, args...))
}

// FromOS classifies an error returned by the os package. A missing file
// becomes ErrNotFound, anything else ErrIO. Errors that already carry a
// kind are returned unchanged.
func FromOS(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if isClassified(err) {
		return err
	}
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, op, path)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrIO, op, path, err)
}

func isClassified(err error) bool {
	for _, s := range []error{ErrInvalidPath, ErrNotFound, ErrConflict, ErrIO, ErrExtractionFailed, ErrUnauthenticated} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}
