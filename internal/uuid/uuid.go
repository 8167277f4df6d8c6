// Package uuid generates the opaque identifiers used for records, queued
// operations and sessions.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator produces a new unique identifier on every call. Components take a
// Generator so tests can substitute deterministic ids.
type Generator func() string

// New generates a new random (v4) identifier.
func New() string {
	return uuid.New().String()
}

// NewTimeOrdered generates a v7 identifier whose lexical order follows
// creation time. Queued operations use it so ids sort in enqueue order.
func NewTimeOrdered() string {
	id, err := uuid.NewV7()
	if err != nil {
		return New()
	}
	return id.String()
}

// IsValid reports whether s is a canonical, dashed UUID string.
func IsValid(s string) bool {
	if len(s) != 36 || strings.Count(s, "-") != 4 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// Validate returns an error if s is not a canonical UUID string.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid id format: %q", s)
	}
	return nil
}
