package replay

import (
	"fmt"
	"log/slog"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/domreplay/event"
)

// Container is the replay of one document context.
type Container struct {
	surface  Surface
	nodes    *event.NodeStore
	logger   *slog.Logger
	appliers map[event.RecordType]Applier

	head       event.Head
	mounted    bool
	terminated bool
	lastTime   string

	pointerX, pointerY int
	clicks             int
}

// NewContainer creates an unmounted container over s.
func NewContainer(s Surface, opts ...Option) *Container {
	cfg := newConfig(opts)
	return &Container{
		surface:  s,
		nodes:    event.NewNodeStore(nil),
		logger:   cfg.logger,
		appliers: cfg.appliers,
	}
}

// Mount builds the document of a context from its HEAD and SNAPSHOT.
func (c *Container) Mount(head *event.Head, snap *event.Snapshot) error {
	if head == nil || snap == nil || snap.Tree == nil {
		return &event.ConversionError{Op: "mount", Err: fmt.Errorf("missing head or snapshot")}
	}
	if err := c.surface.CreateDocument(head.Width, head.Height); err != nil {
		return fmt.Errorf("replay: create document: %w", err)
	}
	if err := c.surface.WriteDocument(DoctypeDeclaration(head.Doctype) + skeleton); err != nil {
		return fmt.Errorf("replay: write document: %w", err)
	}
	if err := c.surface.DisableScrolling(); err != nil {
		return fmt.Errorf("replay: disable scrolling: %w", err)
	}

	c.nodes.Reset()
	root, err := event.FromVirtual(snap.Tree, c.nodes)
	if err != nil {
		return err
	}
	if h := childElement(root, atom.Head); h != nil {
		h.InsertBefore(styleElement(fixedCSS), h.FirstChild)
	}

	doc, err := c.surface.Document()
	if err != nil {
		return fmt.Errorf("replay: document: %w", err)
	}
	if old := event.DocumentElement(doc); old != nil && old.Parent == doc {
		doc.InsertBefore(root, old)
		doc.RemoveChild(old)
	} else {
		doc.AppendChild(root)
	}

	if err := c.surface.Commit(); err != nil {
		return fmt.Errorf("replay: commit: %w", err)
	}
	if err := c.surface.SetScroll(snap.ScrollLeft, snap.ScrollTop); err != nil {
		return fmt.Errorf("replay: restore scroll: %w", err)
	}

	c.head = *head
	c.mounted = true
	c.terminated = false
	c.lastTime = ""
	c.logger.Debug("replay: mounted", "related_id", head.RelatedID, "nodes", c.nodes.Len())
	return nil
}

// Apply applies one incremental record of this context. Records are applied
// in the order given; a time going backwards is logged and applied anyway.
func (c *Container) Apply(rec event.RecordData) error {
	if !c.mounted {
		return &event.ConversionError{Op: "apply", Err: ErrNotMounted}
	}
	if rec.RelatedID != c.head.RelatedID {
		return &event.ConversionError{Op: "apply", Err: fmt.Errorf("%w: %q", ErrForeignContext, rec.RelatedID)}
	}
	if c.terminated {
		return &event.ConversionError{Op: "apply", Err: ErrTerminated}
	}
	if c.lastTime != "" && event.Less(rec.Time, c.lastTime) {
		c.logger.Warn("replay: record time decreased",
			"related_id", rec.RelatedID, "type", rec.Type, "time", rec.Time, "previous", c.lastTime)
	}
	c.lastTime = rec.Time

	switch rec.Type {
	case event.TypeTerminate:
		c.terminated = true
		return nil
	case event.TypeHead, event.TypeSnapshot:
		return &event.ConversionError{Op: "apply", Err: fmt.Errorf("%s on a mounted context", rec.Type)}
	}

	a, ok := c.appliers[rec.Type]
	if !ok {
		c.logger.Debug("replay: no applier", "type", rec.Type)
		return nil
	}
	if a == nil {
		return nil
	}
	if err := a.Apply(c, rec); err != nil {
		return err
	}
	return c.surface.Commit()
}

// RelatedID is the correlation id of the mounted context.
func (c *Container) RelatedID() string { return c.head.RelatedID }

// Head returns the mounted HEAD metadata.
func (c *Container) Head() event.Head { return c.head }

// Nodes exposes the identifier map of the replayed tree.
func (c *Container) Nodes() *event.NodeStore { return c.nodes }

// Surface returns the rendering surface.
func (c *Container) Surface() Surface { return c.surface }

// Terminated reports whether TERMINATE was applied.
func (c *Container) Terminated() bool { return c.terminated }

// Pointer returns the last replayed pointer position and the click count.
func (c *Container) Pointer() (x, y, clicks int) { return c.pointerX, c.pointerY, c.clicks }

func childElement(n *html.Node, a atom.Atom) *html.Node {
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		if ch.Type == html.ElementNode && ch.DataAtom == a {
			return ch
		}
	}
	return nil
}

func styleElement(css string) *html.Node {
	s := &html.Node{Type: html.ElementNode, Data: "style", DataAtom: atom.Style}
	s.AppendChild(&html.Node{Type: html.TextNode, Data: css})
	return s
}
