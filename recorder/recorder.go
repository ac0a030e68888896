// Package recorder is the recording orchestrator. It owns the lifecycle of
// a session: capture of the main document and of every accessible nested
// frame, watcher activation, hand-off of records to hooks, consumers and
// storage, and visibility-driven suspend/resume.
//
// Every record of a document context carries that context's correlation id
// (relatedId). A context always emits HEAD, then SNAPSHOT, then any number
// of incremental records, then exactly one TERMINATE.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/domreplay/event"
	"github.com/hazyhaar/domreplay/hooks"
	"github.com/hazyhaar/domreplay/snapshot"
)

// ErrRunning is returned by Start on a recorder that is already recording.
var ErrRunning = errors.New("recorder: already running")

// contextRec is the per-context state.
type contextRec struct {
	id       string
	parentID string
	frame    bool
	src      Context
	state    ContextState
	nodes    *event.NodeStore
	clock    *event.Clock
	reverse  *ReverseStore
}

// generation is one uninterrupted recording run. A resume starts a new
// generation with fresh correlation ids.
type generation struct {
	ctx      context.Context
	cancel   context.CancelFunc
	settings Settings
	queue    chan frameJob
}

// Recorder orchestrates a recording session over a root document context.
type Recorder struct {
	root   Context
	opts   options
	hooks  *hooks.Registry
	logger *slog.Logger

	// lifeMu serializes lifecycle transitions and context recording.
	lifeMu    sync.Mutex
	running   bool
	suspended bool
	gen       *generation
	visCancel func()
	baseCtx   context.Context

	// mu guards the fields below and serializes the emission pipeline.
	// Hooks and consumers run under mu and must not call back into the
	// recorder.
	mu        sync.Mutex
	consumers []func(event.RecordData)
	contexts  map[string]*contextRec
	order     []string
}

// New creates a recorder for root.
func New(root Context, opts ...Option) *Recorder {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	o.defaults()

	r := &Recorder{
		root:      root,
		opts:      o,
		hooks:     o.hooks,
		logger:    o.logger,
		consumers: append([]func(event.RecordData){}, o.consumers...),
		contexts:  make(map[string]*contextRec),
		baseCtx:   context.Background(),
	}
	r.hooks.Use(o.plugins...)
	if o.transmitter != nil {
		t := o.transmitter
		r.hooks.OnEmit(func(_ context.Context, rec event.RecordData) error {
			t.Transmit(rec)
			return nil
		})
	}
	return r
}

// Hooks returns the registry so callers can attach hooks before Start.
func (r *Recorder) Hooks() *hooks.Registry { return r.hooks }

// OnData registers an additional consumer. It receives every record that
// survived the emit hooks, in emission order.
func (r *Recorder) OnData(fn func(event.RecordData)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.consumers = append(r.consumers, fn)
	r.mu.Unlock()
}

// Start begins recording. A storage that cannot become ready or a failing
// beforeRun hook aborts Start; so does a root document that cannot be
// captured.
func (r *Recorder) Start(ctx context.Context) error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	if r.running {
		return ErrRunning
	}

	if rs, ok := r.opts.storage.(ReadyStorage); ok {
		if err := rs.Ready(ctx); err != nil {
			return &StorageError{Op: "ready", Err: err}
		}
	}

	if err := r.hooks.CallBeforeRun(ctx); err != nil {
		return fmt.Errorf("recorder: beforeRun: %w", err)
	}

	r.baseCtx = context.WithoutCancel(ctx)

	if !r.opts.skipClear && r.opts.storage != nil {
		if err := r.opts.storage.Clear(r.baseCtx); err != nil {
			r.logger.Error("recorder: clear storage", "error", &StorageError{Op: "clear", Err: err})
		}
	}

	gen, rootRec, err := r.begin(Settings{Mode: r.opts.mode, Write: r.opts.write, Skip: r.opts.skipClear})
	if err != nil {
		return err
	}

	if err := r.hooks.CallRun(r.baseCtx); err != nil {
		r.logger.Warn("recorder: run hook", "error", err)
	}

	r.startFrames(gen, rootRec)
	r.visCancel = r.root.Listen(EventVisibility, r.onVisibility)
	r.running = true
	r.suspended = false

	r.logger.Info("recorder: started", "related_id", rootRec.id, "write", r.opts.write)
	return nil
}

// Stop terminates every live context and ends the session. Stopping a
// recorder that is not running is a no-op.
func (r *Recorder) Stop(_ context.Context) error {
	r.lifeMu.Lock()
	if !r.running {
		r.lifeMu.Unlock()
		return nil
	}
	if !r.suspended {
		r.terminate()
	}
	r.running = false
	r.suspended = false
	cancelVis := r.visCancel
	r.visCancel = nil
	r.lifeMu.Unlock()

	if cancelVis != nil {
		cancelVis()
	}
	r.logger.Info("recorder: stopped")
	return nil
}

// Unsubscribe tears down every watcher without emitting TERMINATE. Records
// already emitted are unaffected.
func (r *Recorder) Unsubscribe() {
	r.mu.Lock()
	var stores []*ReverseStore
	for _, id := range r.order {
		stores = append(stores, r.contexts[id].reverse)
	}
	r.mu.Unlock()
	for _, s := range stores {
		s.Run()
	}
}

// Contexts returns the correlation ids of live contexts in creation order.
func (r *Recorder) Contexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, id := range r.order {
		if r.contexts[id].state != Terminated {
			ids = append(ids, id)
		}
	}
	return ids
}

// State returns the lifecycle state of a context.
func (r *Recorder) State(relatedID string) (ContextState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contexts[relatedID]
	if !ok {
		return Idle, false
	}
	return c.state, true
}

// begin opens a generation and records the root context. Caller holds lifeMu.
func (r *Recorder) begin(s Settings) (*generation, *contextRec, error) {
	ctx, cancel := context.WithCancel(r.baseCtx)
	gen := &generation{ctx: ctx, cancel: cancel, settings: s, queue: make(chan frameJob, 16)}

	rootRec, err := r.recordContext(gen, r.root, "", false)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("recorder: record root: %w", err)
	}
	r.gen = gen
	return gen, rootRec, nil
}

// recordContext runs Idle → HeadEmitted → Watching for one context. The
// capture happens before HEAD is emitted so a context that cannot be
// captured leaves nothing behind. Caller holds lifeMu.
func (r *Recorder) recordContext(gen *generation, src Context, parentID string, frame bool) (*contextRec, error) {
	nodes := event.NewNodeStore(r.opts.ids)
	res, err := snapshot.Capture(gen.ctx, src, nodes)
	if err != nil {
		return nil, err
	}
	head, err := src.Head(gen.ctx)
	if err != nil {
		return nil, &snapshot.CaptureError{Err: fmt.Errorf("head: %w", err)}
	}

	c := &contextRec{
		id:       r.opts.newID(),
		parentID: parentID,
		frame:    frame,
		src:      src,
		state:    Idle,
		nodes:    nodes,
		clock:    event.NewClock(r.opts.now),
		reverse:  NewReverseStore(),
	}
	head.RelatedID = c.id
	head.ParentID = parentID
	head.Frame = frame

	r.mu.Lock()
	r.contexts[c.id] = c
	r.order = append(r.order, c.id)
	r.deliverLocked(c, r.stamp(c, event.TypeHead, &head))
	c.state = HeadEmitted
	r.deliverLocked(c, r.stamp(c, event.TypeSnapshot, res.Record()))
	r.mu.Unlock()

	settings := gen.settings
	settings.Frame = frame
	wo := WatcherOptions{
		Context:      src,
		ReverseStore: c.reverse,
		RelatedID:    c.id,
		Emit:         func(rec event.RecordData) { r.emit(c, rec) },
		Nodes:        nodes,
		Settings:     settings,
		Logger:       r.logger,
		clock:        c.clock,
	}
	for _, w := range r.watchersFor(frame) {
		if err := w.Watch(gen.ctx, wo); err != nil {
			r.logger.Warn("recorder: watcher failed", "watcher", w.Name(), "related_id", c.id, "error", err)
		}
	}

	r.mu.Lock()
	c.state = Watching
	r.mu.Unlock()

	r.logger.Debug("recorder: context watching", "related_id", c.id, "parent_id", parentID, "frame", frame)
	return c, nil
}

func (r *Recorder) watchersFor(frame bool) []Watcher {
	if frame {
		return r.opts.frameWatchers
	}
	ws := r.opts.watchers
	if r.opts.audio != nil {
		ws = append(append([]Watcher{}, ws...), r.opts.audio)
	}
	return ws
}

func (r *Recorder) stamp(c *contextRec, t event.RecordType, data any) event.RecordData {
	return event.RecordData{Type: t, Data: data, RelatedID: c.id, Time: c.clock.Stamp()}
}

// emit is the watcher entry point. Records for a context that is no longer
// watching are dropped.
func (r *Recorder) emit(c *contextRec, rec event.RecordData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.state == Terminated || c.state == Idle {
		return
	}
	if rec.RelatedID != c.id {
		r.logger.Warn("recorder: record with foreign relatedId dropped",
			"related_id", c.id, "got", rec.RelatedID, "type", rec.Type)
		return
	}
	r.deliverLocked(c, rec)
}

// deliverLocked runs the hand-off pipeline: emit hooks, consumers, storage.
func (r *Recorder) deliverLocked(c *contextRec, rec event.RecordData) {
	if err := rec.Validate(); err != nil {
		r.logger.Warn("recorder: invalid record dropped", "related_id", c.id, "error", err)
		return
	}

	if err := r.hooks.CallEmit(r.baseCtx, rec); err != nil {
		if errors.Is(err, hooks.ErrDrop) && rec.Type.Incremental() {
			return
		}
		r.logger.Warn("recorder: emit hook", "related_id", c.id, "type", rec.Type, "error", err)
	}

	for _, fn := range r.consumers {
		fn(rec)
	}

	if r.opts.write && r.opts.storage != nil {
		if err := r.opts.storage.AddRecord(r.baseCtx, rec); err != nil {
			r.logger.Error("recorder: append record",
				"related_id", c.id, "type", rec.Type, "error", &StorageError{Op: "append", Err: err})
		}
	}
}

// terminate ends the current generation: one TERMINATE per live context,
// children first, then watcher teardown and the end hook. Caller holds
// lifeMu.
func (r *Recorder) terminate() {
	if r.gen != nil {
		r.gen.cancel()
		r.gen = nil
	}

	r.mu.Lock()
	var stores []*ReverseStore
	for i := len(r.order) - 1; i >= 0; i-- {
		c := r.contexts[r.order[i]]
		if c.state == Terminated {
			continue
		}
		r.deliverLocked(c, r.stamp(c, event.TypeTerminate, nil))
		c.state = Terminated
		stores = append(stores, c.reverse)
	}
	r.mu.Unlock()

	for _, s := range stores {
		s.Run()
	}

	if err := r.hooks.CallEnd(r.baseCtx); err != nil {
		r.logger.Warn("recorder: end hook", "error", err)
	}
}

// onVisibility applies the visibility policy.
func (r *Recorder) onVisibility(ev HostEvent) {
	action := r.opts.policy(ev.Visibility)
	if ev.Visibility == Unloaded {
		action = End
	}

	switch action {
	case Suspend:
		r.lifeMu.Lock()
		defer r.lifeMu.Unlock()
		if !r.running || r.suspended {
			return
		}
		r.terminate()
		r.suspended = true
		r.logger.Info("recorder: suspended", "visibility", ev.Visibility)

	case Resume:
		r.lifeMu.Lock()
		defer r.lifeMu.Unlock()
		if !r.running || !r.suspended {
			return
		}
		gen, rootRec, err := r.begin(Settings{Mode: r.opts.mode, Write: r.opts.write, Skip: true})
		if err != nil {
			r.logger.Error("recorder: resume", "error", err)
			return
		}
		r.suspended = false
		if err := r.hooks.CallRun(r.baseCtx); err != nil {
			r.logger.Warn("recorder: run hook", "error", err)
		}
		r.startFrames(gen, rootRec)
		r.logger.Info("recorder: resumed", "related_id", rootRec.id)

	case End:
		if err := r.Stop(r.baseCtx); err != nil {
			r.logger.Warn("recorder: stop on visibility", "error", err)
		}
	}
}
