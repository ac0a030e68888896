// Package idgen mints correlation and session identifiers. The strategy is
// a startup-time choice: constructors take a Generator.
package idgen

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 produces RFC 9562 UUID v7 strings. They sort by creation time, so
// correlation ids of one session list in recording order.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every identifier of gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence produces prefix1, prefix2, ... Deterministic; meant for tests
// and reproducible fixtures.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return prefix + strconv.FormatInt(n.Add(1), 10)
	}
}

// Default is the generator of correlation ids.
var Default Generator = UUIDv7()

// Session is the generator of recording session ids.
var Session Generator = Prefixed("ses_", UUIDv7())

// New returns an identifier from Default.
func New() string { return Default() }

// Parse validates a UUID and returns its canonical form.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("idgen: invalid UUID %q: %w", s, err)
	}
	return u.String(), nil
}
