package event

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownNode means an event names an identifier the context has never
	// bound: a dropped or out-of-order event, or one addressed to another context.
	ErrUnknownNode = errors.New("unknown node id")

	// ErrDuplicateNode means an identifier is bound twice in one context.
	ErrDuplicateNode = errors.New("duplicate node id")

	// ErrUnsupportedNode means a node kind that has no virtual form.
	ErrUnsupportedNode = errors.New("unsupported node type")
)

// ConversionError reports a structure/identifier mismatch between the
// virtual and the live form. It aborts the current mount or the current
// incremental application, never the session.
type ConversionError struct {
	Op  string // "to_virtual", "from_virtual", "lookup", "apply"
	ID  int
	Err error
}

func (e *ConversionError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("event: %s: node %d: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("event: %s: %v", e.Op, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// IsConversion reports whether err is or wraps a *ConversionError.
func IsConversion(err error) bool {
	var ce *ConversionError
	return errors.As(err, &ce)
}
