package trie

import (
	"errors"
	"fmt"
)

// ErrInvalidPath is returned for paths with no segments, such as "" or "...".
var ErrInvalidPath = errors.New("invalid path")

// DecodeError reports a snapshot that could not be turned into a tree.
// The index it was decoded into is left empty.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode snapshot: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode snapshot: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErrorf(format string, args ...any) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}
