package replay

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/domreplay/event"
)

// Payload is the replay data of one context as served to a viewer.
type Payload struct {
	Head     *event.Head        `json:"head"`
	Snapshot *event.Snapshot    `json:"snapshot"`
	Records  []event.RecordData `json:"records"`
}

// BuildPayload extracts the context relatedID from a stored record log.
// Records keep their stored order.
func BuildPayload(recs []event.RecordData, relatedID string) (*Payload, error) {
	p := &Payload{}
	for _, rec := range recs {
		if rec.RelatedID != relatedID {
			continue
		}
		switch rec.Type {
		case event.TypeHead:
			if p.Head == nil {
				p.Head = event.HeadOf(rec)
			}
		case event.TypeSnapshot:
			if p.Snapshot == nil {
				p.Snapshot = event.SnapshotOf(rec)
			}
		default:
			p.Records = append(p.Records, rec)
		}
	}
	if p.Head == nil || p.Snapshot == nil {
		return nil, fmt.Errorf("replay: payload: %w: %q has no HEAD and SNAPSHOT", ErrUnknownContext, relatedID)
	}
	return p, nil
}

// Replay mounts the payload on s and applies every record. Errors of
// individual records are returned joined after the whole payload ran.
func (p *Payload) Replay(s Surface, opts ...Option) (*Container, error) {
	c := NewContainer(s, opts...)
	if err := c.Mount(p.Head, p.Snapshot); err != nil {
		return nil, err
	}
	var errs []error
	for _, rec := range p.Records {
		if err := c.Apply(rec); err != nil {
			c.logger.Warn("replay: record skipped", "related_id", rec.RelatedID, "type", rec.Type, "error", err)
			errs = append(errs, err)
		}
	}
	return c, errors.Join(errs...)
}
