package recorder

import (
	"log/slog"
	"time"

	"github.com/hazyhaar/domreplay/event"
	"github.com/hazyhaar/domreplay/hooks"
	"github.com/hazyhaar/domreplay/idgen"
)

type options struct {
	storage       Storage
	write         bool
	skipClear     bool
	consumers     []func(event.RecordData)
	hooks         *hooks.Registry
	plugins       []hooks.Plugin
	transmitter   Transmitter
	watchers      []Watcher
	frameWatchers []Watcher
	audio         Watcher
	policy        VisibilityPolicy
	logger        *slog.Logger
	newID         idgen.Generator
	ids           *event.IDSource
	now           func() time.Time
	mode          string
}

// Option configures a Recorder.
type Option func(*options)

// WithStorage sets the durable record log.
func WithStorage(s Storage) Option {
	return func(o *options) { o.storage = s }
}

// WithWrite enables appending records to storage. Without it the storage is
// only cleared at start.
func WithWrite(write bool) Option {
	return func(o *options) { o.write = write }
}

// WithSkipClear keeps the stored log of a previous run.
func WithSkipClear(skip bool) Option {
	return func(o *options) { o.skipClear = skip }
}

// WithConsumer registers an external consumer of every record.
func WithConsumer(fn func(event.RecordData)) Option {
	return func(o *options) {
		if fn != nil {
			o.consumers = append(o.consumers, fn)
		}
	}
}

// WithHooks uses an existing registry instead of a fresh one.
func WithHooks(r *hooks.Registry) Option {
	return func(o *options) { o.hooks = r }
}

// WithPlugins applies plugins to the recorder's registry.
func WithPlugins(p ...hooks.Plugin) Option {
	return func(o *options) { o.plugins = append(o.plugins, p...) }
}

// WithTransmitter forwards every record after the other emit hooks.
func WithTransmitter(t Transmitter) Option {
	return func(o *options) { o.transmitter = t }
}

// WithWatchers replaces the watcher set of the main document.
func WithWatchers(w ...Watcher) Option {
	return func(o *options) { o.watchers = w }
}

// WithFrameWatchers replaces the watcher set of nested frames.
func WithFrameWatchers(w ...Watcher) Option {
	return func(o *options) { o.frameWatchers = w }
}

// WithAudio adds an audio watcher to the main document. Frames never
// record audio.
func WithAudio(w Watcher) Option {
	return func(o *options) { o.audio = w }
}

// WithVisibilityPolicy sets how visibility changes drive the session.
func WithVisibilityPolicy(p VisibilityPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithIDGenerator sets the correlation id generator. Default: idgen.Default.
func WithIDGenerator(g idgen.Generator) Option {
	return func(o *options) { o.newID = g }
}

// WithIDSource shares a node identifier source, e.g. across recorders of
// one session.
func WithIDSource(s *event.IDSource) Option {
	return func(o *options) { o.ids = s }
}

// WithNow sets the clock used for record stamps.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMode sets the free-form mode string handed to watchers.
func WithMode(mode string) Option {
	return func(o *options) { o.mode = mode }
}

func (o *options) defaults() {
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.hooks == nil {
		o.hooks = hooks.New()
	}
	if o.watchers == nil {
		o.watchers = DefaultWatchers()
	}
	if o.frameWatchers == nil {
		o.frameWatchers = FrameWatchers()
	}
	if o.policy == nil {
		o.policy = ResumeOnVisible
	}
	if o.newID == nil {
		o.newID = idgen.Default
	}
	if o.ids == nil {
		o.ids = event.NewIDSource()
	}
	if o.now == nil {
		o.now = time.Now
	}
}
