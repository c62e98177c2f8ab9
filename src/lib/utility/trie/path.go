package trie

import (
	"fmt"
	"strings"
)

const Separator = "."

// Split tokenizes a dotted path into its segments. Empty segments from
// leading, trailing or doubled separators are dropped; a path left with no
// segments is invalid.
func Split(path string) ([]string, error) {
	segments := make([]string, 0, strings.Count(path, Separator)+1)
	for _, s := range strings.Split(path, Separator) {
		if s == "" {
			continue
		}
		segments = append(segments, s)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return segments, nil
}

func Join(segments []string) string {
	return strings.Join(segments, Separator)
}

// Canonical returns the path as Split and Join would rebuild it.
func Canonical(path string) (string, error) {
	segments, err := Split(path)
	if err != nil {
		return "", err
	}
	return Join(segments), nil
}
