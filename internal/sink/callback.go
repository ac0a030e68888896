package sink

import (
	"context"

	"github.com/hazyhaar/domreplay/event"
)

// RecordFunc is called for each record (in-process, zero serialisation).
type RecordFunc func(ctx context.Context, rec event.RecordData) error

// Callback delivers records via a Go function call. A nil func drops
// everything.
type Callback struct {
	fn RecordFunc
}

// NewCallback creates a Callback sink.
func NewCallback(fn RecordFunc) *Callback { return &Callback{fn: fn} }

func (c *Callback) Send(ctx context.Context, rec event.RecordData) error {
	if c.fn != nil {
		return c.fn(ctx, rec)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
