package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"

	"github.com/hazyhaar/domreplay/event"
	"github.com/hazyhaar/domreplay/recorder"
	"github.com/hazyhaar/domreplay/snapshot"
)

//go:embed page.js
var pageJS string

const scrollJS = `(frames) => {
	let w = window;
	if (frames.length) {
		const f = window.__domreplay_resolve(frames);
		w = f && f.contentWindow;
	}
	if (!w) return JSON.stringify([0, 0]);
	return JSON.stringify([Math.round(w.scrollX), Math.round(w.scrollY)]);
}`

const viewportJS = `(frames) => {
	let width = window.innerWidth, height = window.innerHeight;
	if (frames.length) {
		const f = window.__domreplay_resolve(frames);
		width = f ? f.clientWidth : 0;
		height = f ? f.clientHeight : 0;
	}
	return JSON.stringify({ ua: navigator.userAgent, width, height });
}`

// Page records a live tab. CDP DOM events keep a mirror of the document
// up to date and become mutation events; the injected script reports
// pointer, scroll, input and visibility activity through a runtime
// binding.
type Page struct {
	rp     *rod.Page
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex // guards mirror and loads
	mirror *mirror
	loads  map[*html.Node]chan struct{}

	subMu sync.Mutex
	subs  []*subscription
}

type subscription struct {
	kind  recorder.EventKind
	owner *html.Node
	fn    func(recorder.HostEvent)
	dead  atomic.Bool
}

// PageOption configures a Page.
type PageOption func(*Page)

// WithPageLogger sets the logger.
func WithPageLogger(l *slog.Logger) PageOption {
	return func(p *Page) { p.logger = l }
}

// Attach starts recording-side tracking on rp: DOM domain, binding, the
// injected script and the initial mirror. Tracking stops when ctx ends or
// Close is called.
func Attach(ctx context.Context, rp *rod.Page, opts ...PageOption) (*Page, error) {
	p := &Page{
		rp:     rp,
		logger: slog.Default(),
		mirror: newMirror(),
		loads:  make(map[*html.Node]chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	if err := (proto.DOMEnable{}).Call(rp); err != nil {
		p.cancel()
		return nil, fmt.Errorf("browser: DOM.enable: %w", err)
	}
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(rp); err != nil {
		p.logger.Warn("browser: addBinding failed (may already exist)", "error", err)
	}
	if _, err := rp.EvalOnNewDocument("(" + pageJS + ")()"); err != nil {
		p.cancel()
		return nil, fmt.Errorf("browser: install script: %w", err)
	}
	if _, err := rp.Eval(pageJS); err != nil {
		p.cancel()
		return nil, fmt.Errorf("browser: inject script: %w", err)
	}

	wait := rp.Context(p.ctx).EachEvent(
		func(e *proto.DOMChildNodeInserted) {
			p.mutate(func(m *mirror) (recorder.Mutation, bool) { return m.insert(e.ParentNodeID, e.PreviousNodeID, e.Node) })
		},
		func(e *proto.DOMChildNodeRemoved) {
			p.mutate(func(m *mirror) (recorder.Mutation, bool) { return m.remove(e.ParentNodeID, e.NodeID) })
		},
		func(e *proto.DOMAttributeModified) {
			p.mutate(func(m *mirror) (recorder.Mutation, bool) { return m.setAttr(e.NodeID, e.Name, e.Value) })
		},
		func(e *proto.DOMAttributeRemoved) {
			p.mutate(func(m *mirror) (recorder.Mutation, bool) { return m.removeAttr(e.NodeID, e.Name) })
		},
		func(e *proto.DOMCharacterDataModified) {
			p.mutate(func(m *mirror) (recorder.Mutation, bool) { return m.setText(e.NodeID, e.CharacterData) })
		},
		func(e *proto.DOMSetChildNodes) {
			p.mu.Lock()
			if el := p.mirror.setChildren(e.ParentID, e.Nodes); el != nil {
				p.markLoaded(el)
			}
			p.mu.Unlock()
		},
		func(e *proto.DOMDocumentUpdated) {
			p.onDocumentUpdated()
		},
		func(e *proto.RuntimeBindingCalled) {
			if e.Name == bindingName {
				p.onMessage(e.Payload)
			}
		},
	)

	if err := p.load(); err != nil {
		p.cancel()
		return nil, err
	}
	go wait()
	return p, nil
}

// Context returns the main document context.
func (p *Page) Context() recorder.Context { return &docContext{page: p} }

// Close stops tracking. The tab itself stays open.
func (p *Page) Close() error {
	p.cancel()
	return nil
}

func (p *Page) load() error {
	depth := -1
	doc, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(p.rp)
	if err != nil {
		return fmt.Errorf("browser: DOM.getDocument: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mirror.reset(doc.Root)
	p.loads = make(map[*html.Node]chan struct{})
	p.logger.Debug("browser: mirror loaded", "nodes", len(p.mirror.ids))
	return nil
}

// mutate applies one CDP event to the mirror and dispatches the resulting
// mutation while the mirror is still locked, so subscribers read the tree
// exactly as the mutation left it.
func (p *Page) mutate(apply func(*mirror) (recorder.Mutation, bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mu, ok := apply(p.mirror)
	if !ok {
		return
	}
	for _, n := range mu.Added {
		for _, el := range append(framesIn(n), n) {
			if _, loaded := p.mirror.frames[el]; loaded {
				p.markLoaded(el)
			}
		}
	}
	p.dispatch(recorder.HostEvent{
		Kind:      recorder.EventMutation,
		Target:    mu.Target,
		Mutations: []recorder.Mutation{mu},
	}, p.mirror.owner(mu.Target))
}

// onDocumentUpdated handles a document replaced underneath the mirror: the
// recorded document is gone for good.
func (p *Page) onDocumentUpdated() {
	p.logger.Info("browser: document replaced")
	p.dispatch(recorder.HostEvent{Kind: recorder.EventVisibility, Visibility: recorder.Unloaded}, nil)
	if err := p.load(); err != nil {
		p.logger.Warn("browser: reload mirror", "error", err)
	}
}

// onMessage resolves the target under the lock and dispatches after
// releasing it. Visibility subscribers may start or stop recordings, which
// capture and therefore lock.
func (p *Page) onMessage(payload string) {
	msg, err := parseMessage(payload)
	if err != nil {
		p.logger.Debug("browser: bad binding message", "error", err)
		return
	}

	p.mu.Lock()
	owner, target, ok := p.mirror.resolveChain(msg.Target)
	var frameID proto.DOMNodeID
	if ok && msg.Kind == kindFrameLoad && target != nil && isFrame(target) {
		frameID = p.mirror.ids[target]
	}
	p.mu.Unlock()

	if msg.Kind == kindFrameLoad {
		if frameID != 0 {
			go p.requestFrame(frameID)
		}
		return
	}
	if !ok {
		p.logger.Debug("browser: unresolved target", "kind", msg.Kind, "target", msg.Target)
		return
	}
	ev := msg.hostEvent()
	ev.Target = target
	p.dispatch(ev, owner)
}

// requestFrame asks CDP for the content document of a frame; it arrives
// as DOM.setChildNodes.
func (p *Page) requestFrame(id proto.DOMNodeID) {
	depth := -1
	err := proto.DOMRequestChildNodes{NodeID: id, Depth: &depth, Pierce: true}.Call(p.rp)
	if err != nil {
		p.logger.Debug("browser: request frame document", "node", id, "error", err)
	}
}

// loadCh returns the load channel of a frame element. Caller holds mu.
func (p *Page) loadCh(el *html.Node) chan struct{} {
	ch, ok := p.loads[el]
	if !ok {
		ch = make(chan struct{})
		p.loads[el] = ch
	}
	return ch
}

// markLoaded closes the load channel of el once. Caller holds mu.
func (p *Page) markLoaded(el *html.Node) {
	ch := p.loadCh(el)
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (p *Page) listen(owner *html.Node, kind recorder.EventKind, fn func(recorder.HostEvent)) func() {
	s := &subscription{kind: kind, owner: owner, fn: fn}
	p.subMu.Lock()
	p.subs = append(p.subs, s)
	p.subMu.Unlock()

	return func() {
		s.dead.Store(true)
		p.subMu.Lock()
		defer p.subMu.Unlock()
		for i, x := range p.subs {
			if x == s {
				p.subs = append(p.subs[:i], p.subs[i+1:]...)
				return
			}
		}
	}
}

// dispatch calls matching subscribers without holding subMu, so a
// subscriber may cancel itself or others.
func (p *Page) dispatch(ev recorder.HostEvent, owner *html.Node) {
	p.subMu.Lock()
	var subs []*subscription
	for _, s := range p.subs {
		if s.kind == ev.Kind && s.owner == owner {
			subs = append(subs, s)
		}
	}
	p.subMu.Unlock()

	for _, s := range subs {
		if !s.dead.Load() {
			s.fn(ev)
		}
	}
}

func (p *Page) scrollOffsets(ctx context.Context, chain [][]int) (int, int, error) {
	if chain == nil {
		chain = [][]int{}
	}
	res, err := p.rp.Context(ctx).Eval(scrollJS, chain)
	if err != nil {
		return 0, 0, fmt.Errorf("browser: scroll offsets: %w", err)
	}
	var off [2]int
	if err := json.Unmarshal([]byte(res.Value.Str()), &off); err != nil {
		return 0, 0, fmt.Errorf("browser: scroll offsets: %w", err)
	}
	return off[0], off[1], nil
}

type viewport struct {
	UA     string `json:"ua"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func (p *Page) viewport(ctx context.Context, chain [][]int) (viewport, error) {
	var vp viewport
	if chain == nil {
		chain = [][]int{}
	}
	res, err := p.rp.Context(ctx).Eval(viewportJS, chain)
	if err != nil {
		return vp, fmt.Errorf("browser: viewport: %w", err)
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), &vp); err != nil {
		return vp, fmt.Errorf("browser: viewport: %w", err)
	}
	return vp, nil
}

// docContext is the main document (nil owner) or the content document of
// a frame element.
type docContext struct {
	page  *Page
	owner *html.Node
}

// Lock holds the mirror still. snapshot.Capture takes it around ReadState
// and the tree conversion.
func (c *docContext) Lock() { c.page.mu.Lock() }
func (c *docContext) Unlock() { c.page.mu.Unlock() }

// ReadState expects the page lock held.
func (c *docContext) ReadState(ctx context.Context) (snapshot.State, error) {
	m := c.page.mirror
	if c.owner != nil && !m.attached(c.owner) {
		return snapshot.State{}, snapshot.ErrInaccessible
	}
	doc := m.document(c.owner)
	if doc == nil {
		return snapshot.State{}, snapshot.ErrInaccessible
	}
	left, top, err := c.page.scrollOffsets(ctx, m.chainOf(c.owner))
	if err != nil {
		return snapshot.State{}, err
	}
	return snapshot.State{Root: doc, ScrollLeft: left, ScrollTop: top}, nil
}

func (c *docContext) Head(ctx context.Context) (event.Head, error) {
	c.page.mu.Lock()
	m := c.page.mirror
	doc := m.document(c.owner)
	if doc == nil {
		c.page.mu.Unlock()
		return event.Head{}, snapshot.ErrInaccessible
	}
	dt, _ := event.DoctypeOf(doc)
	u := m.urls[doc]
	title := titleOf(doc)
	chain := m.chainOf(c.owner)
	c.page.mu.Unlock()

	vp, err := c.page.viewport(ctx, chain)
	if err != nil {
		return event.Head{}, err
	}
	return event.Head{
		Doctype:   dt,
		Href:      u.href,
		BaseHref:  u.base,
		Title:     title,
		UserAgent: vp.UA,
		Width:     vp.Width,
		Height:    vp.Height,
	}, nil
}

func (c *docContext) Frames(context.Context) ([]recorder.Frame, error) {
	c.page.mu.Lock()
	defer c.page.mu.Unlock()

	m := c.page.mirror
	doc := m.document(c.owner)
	if doc == nil {
		return nil, nil
	}
	base := m.urls[doc].href

	var out []recorder.Frame
	for _, el := range framesIn(doc) {
		src, _ := event.Attr(el, "src")
		f := &pageFrame{
			page:       c.page,
			el:         el,
			src:        src,
			accessible: sameOrigin(base, src),
			loaded:     c.page.loadCh(el),
		}
		if _, ok := m.frames[el]; ok {
			c.page.markLoaded(el)
		}
		out = append(out, f)
	}
	return out, nil
}

func (c *docContext) Listen(kind recorder.EventKind, fn func(recorder.HostEvent)) func() {
	return c.page.listen(c.owner, kind, fn)
}

type pageFrame struct {
	page       *Page
	el         *html.Node
	src        string
	accessible bool
	loaded     chan struct{}
}

func (f *pageFrame) Src() string { return f.src }
func (f *pageFrame) Accessible() bool { return f.accessible }
func (f *pageFrame) Loaded() <-chan struct{} { return f.loaded }
func (f *pageFrame) Context() recorder.Context { return &docContext{page: f.page, owner: f.el} }

func (f *pageFrame) Terminated() bool {
	f.page.mu.Lock()
	defer f.page.mu.Unlock()
	return !f.page.mirror.attached(f.el)
}

// sameOrigin reports whether src, resolved against base, shares base's
// scheme and host. Frames without src never match.
func sameOrigin(base, src string) bool {
	if src == "" {
		return false
	}
	b, err := url.Parse(base)
	if err != nil {
		return false
	}
	u, err := b.Parse(src)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "file":
	default:
		return false
	}
	return u.Scheme == b.Scheme && u.Host == b.Host
}
