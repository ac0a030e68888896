package recorder

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/domreplay/event"
)

// Settings is the read-only recording configuration handed to every
// watcher. It replaces any state attached to the live page.
type Settings struct {
	Mode  string
	Write bool
	Skip  bool // initial storage clear skipped (resume)
	Frame bool // the context is a nested frame
}

// EmitFunc accepts a well-formed record.
type EmitFunc func(rec event.RecordData)

// WatcherOptions is what a watcher is constructed with.
type WatcherOptions struct {
	Context      Context
	ReverseStore *ReverseStore
	RelatedID    string
	Emit         EmitFunc
	Nodes        *event.NodeStore
	Settings     Settings
	Logger       *slog.Logger

	clock *event.Clock
}

// Record builds a record of this context stamped with the context clock.
func (o WatcherOptions) Record(t event.RecordType, data any) event.RecordData {
	stamp := ""
	if o.clock != nil {
		stamp = o.clock.Stamp()
	}
	return event.RecordData{Type: t, Data: data, RelatedID: o.RelatedID, Time: stamp}
}

// Watcher observes one category of live activity. Watch must register its
// teardown in o.ReverseStore and return without blocking.
type Watcher interface {
	Name() string
	Watch(ctx context.Context, o WatcherOptions) error
}

// DefaultWatchers is the watcher set of the main document.
func DefaultWatchers() []Watcher {
	return []Watcher{DOMWatcher{}, MouseWatcher{}, ScrollWatcher{}, FormWatcher{}, WindowWatcher{}}
}

// FrameWatchers is the reduced set used for nested frames.
func FrameWatchers() []Watcher {
	return []Watcher{DOMWatcher{}, MouseWatcher{}, FormWatcher{}, ScrollWatcher{}}
}

// listen subscribes to kinds and registers the teardown.
func listen(o WatcherOptions, fn func(HostEvent), kinds ...EventKind) {
	for _, k := range kinds {
		o.ReverseStore.Add(o.Context.Listen(k, fn))
	}
}
