// Package uuid generates local entity identifiers.
package uuid

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Source produces fresh local ids. Repositories take a Source so tests can
// use predictable ids.
type Source func() string

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// Random is the default Source.
var Random Source = New

// Sequence returns a Source yielding prefix-1, prefix-2, ...
func Sequence(prefix string) Source {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

// IsValid reports whether s is a canonical lowercase-or-uppercase UUID v4.
func IsValid(s string) bool {
	if len(s) != 36 || strings.Count(s, "-") != 4 {
		return false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 4 && id.Variant() == uuid.RFC4122
}

// Validate returns an error if s is not a valid UUID v4.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID v4 format: %q", s)
	}
	return nil
}
