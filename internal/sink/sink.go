// Package sink defines local output backends for recorded records.
package sink

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/domreplay/event"
)

// Sink delivers records to one backend.
type Sink interface {
	Send(ctx context.Context, rec event.RecordData) error
	Close() error
}

// Consumer adapts s to a recorder consumer. Send errors are logged; the
// recording pipeline never sees them.
func Consumer(ctx context.Context, s Sink, logger *slog.Logger) func(event.RecordData) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(rec event.RecordData) {
		if err := s.Send(ctx, rec); err != nil {
			logger.Warn("sink: send failed", "related_id", rec.RelatedID, "type", rec.Type, "error", err)
		}
	}
}
