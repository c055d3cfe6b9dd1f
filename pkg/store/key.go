package store

import (
	"fmt"
	"strings"
)

// key segment separator, segments themselves must not contain it
const keySeparator = ":"

// Key builds a composite store key from its segments.
func Key(segments ...string) string {
	return strings.Join(segments, keySeparator)
}

// Segments splits a composite key into its segments.
func Segments(key string) []string {
	return strings.Split(key, keySeparator)
}

// Segment returns the i-th segment of a composite key, or "" when the key
// has fewer segments.
func Segment(key string, i int) string {
	parts := Segments(key)
	if i < 0 || i >= len(parts) {
		return ""
	}
	return parts[i]
}

// ValueError reports a persisted store value that could not be decoded.
type ValueError struct {
	Store string
	Key   string
	Value string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("store %s: invalid persisted value %q for key %q", e.Store, e.Value, e.Key)
}
