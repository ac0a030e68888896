package replay

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/domreplay/event"
)

// SurfaceFactory opens the surface of a newly mounted context.
type SurfaceFactory func(head *event.Head) (Surface, error)

// Player replays a mixed record stream. Each correlation id gets its own
// Container; records never cross containers, so identifiers of one context
// can never resolve in another.
type Player struct {
	factory SurfaceFactory
	opts    []Option
	logger  *slog.Logger

	pending    map[string]*event.Head
	containers map[string]*Container
	order      []string
}

// NewPlayer creates a player opening surfaces with factory.
func NewPlayer(factory SurfaceFactory, opts ...Option) *Player {
	return &Player{
		factory:    factory,
		opts:       opts,
		logger:     newConfig(opts).logger,
		pending:    make(map[string]*event.Head),
		containers: make(map[string]*Container),
	}
}

// Feed routes one record. HEAD opens a context, SNAPSHOT mounts it, every
// other record is applied to the mounted context.
func (p *Player) Feed(rec event.RecordData) error {
	id := rec.RelatedID
	switch rec.Type {
	case event.TypeHead:
		h := event.HeadOf(rec)
		if h == nil {
			return payloadError(rec)
		}
		if _, ok := p.containers[id]; ok {
			return &event.ConversionError{Op: "route", Err: fmt.Errorf("second HEAD for %q", id)}
		}
		if h.RelatedID == "" {
			h.RelatedID = id
		}
		p.pending[id] = h
		return nil

	case event.TypeSnapshot:
		h, ok := p.pending[id]
		if !ok {
			return &event.ConversionError{Op: "route", Err: fmt.Errorf("%w: %q", ErrUnknownContext, id)}
		}
		s, err := p.factory(h)
		if err != nil {
			return fmt.Errorf("replay: open surface: %w", err)
		}
		c := NewContainer(s, p.opts...)
		if err := c.Mount(h, event.SnapshotOf(rec)); err != nil {
			return err
		}
		delete(p.pending, id)
		p.containers[id] = c
		p.order = append(p.order, id)
		return nil
	}

	c, ok := p.containers[id]
	if !ok {
		return &event.ConversionError{Op: "route", Err: fmt.Errorf("%w: %q", ErrUnknownContext, id)}
	}
	return c.Apply(rec)
}

// Play feeds every record in order. A failing record is logged and skipped;
// the joined errors are returned once the stream is exhausted.
func (p *Player) Play(recs []event.RecordData) error {
	var errs []error
	for _, rec := range recs {
		if err := p.Feed(rec); err != nil {
			p.logger.Warn("replay: record skipped", "related_id", rec.RelatedID, "type", rec.Type, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Container returns the mounted container of a context.
func (p *Player) Container(relatedID string) (*Container, bool) {
	c, ok := p.containers[relatedID]
	return c, ok
}

// Contexts returns the mounted correlation ids in mount order.
func (p *Player) Contexts() []string {
	return append([]string(nil), p.order...)
}
