package replay

import (
	"fmt"
	"slices"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/domreplay/event"
)

// Applier replays one record type against a mounted container.
type Applier interface {
	Apply(c *Container, rec event.RecordData) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(c *Container, rec event.RecordData) error

func (f ApplierFunc) Apply(c *Container, rec event.RecordData) error { return f(c, rec) }

func defaultAppliers() map[event.RecordType]Applier {
	return map[event.RecordType]Applier{
		event.TypeDOM:    ApplierFunc(applyDOM),
		event.TypeScroll: ApplierFunc(applyScroll),
		event.TypeMouse:  ApplierFunc(applyMouse),
		event.TypeForm:   ApplierFunc(applyForm),
		event.TypeWindow: ApplierFunc(applyWindow),
		event.TypeAudio:  nil,
	}
}

func payloadError(rec event.RecordData) error {
	return &event.ConversionError{Op: "apply", Err: fmt.Errorf("%s record with %T payload", rec.Type, rec.Data)}
}

// applyDOM applies the steps of a DOM record in order. A failing step
// aborts the record and rolls back every step already applied, so a
// rejected record leaves the tree and the identifier bindings untouched.
func applyDOM(c *Container, rec event.RecordData) error {
	ch, ok := rec.Data.(*event.DOMChange)
	if !ok {
		return payloadError(rec)
	}
	var undo []func()
	for i, op := range ch.Ops {
		u, err := applyDOMOp(c, op)
		if err != nil {
			for j := len(undo) - 1; j >= 0; j-- {
				undo[j]()
			}
			return fmt.Errorf("replay: dom step %d: %w", i, err)
		}
		undo = append(undo, u)
	}
	return nil
}

// applyDOMOp applies one step and returns the function reverting it.
func applyDOMOp(c *Container, op event.DOMOp) (func(), error) {
	switch op.Kind() {
	case "remove":
		rm := op.Remove
		parent, err := c.nodes.Lookup(rm.Parent)
		if err != nil {
			return nil, err
		}
		n, err := c.nodes.Lookup(rm.ID)
		if err != nil {
			return nil, err
		}
		if n.Parent != parent {
			return nil, &event.ConversionError{Op: "apply", ID: rm.ID, Err: fmt.Errorf("not a child of node %d", rm.Parent)}
		}
		next := n.NextSibling
		bound := bindings(c.nodes, n)
		parent.RemoveChild(n)
		c.nodes.Forget(n)
		return func() {
			parent.InsertBefore(n, next)
			for m, id := range bound {
				_ = c.nodes.Bind(id, m)
			}
		}, nil

	case "add":
		add := op.Add
		parent, err := c.nodes.Lookup(add.Parent)
		if err != nil {
			return nil, err
		}
		var next *html.Node
		if add.Next != 0 {
			if next, err = c.nodes.Lookup(add.Next); err != nil {
				return nil, err
			}
			if next.Parent != parent {
				return nil, &event.ConversionError{Op: "apply", ID: add.Next, Err: fmt.Errorf("not a child of node %d", add.Parent)}
			}
		}
		n, err := event.FromVirtual(add.Node, c.nodes)
		if err != nil {
			return nil, err
		}
		parent.InsertBefore(n, next)
		return func() {
			parent.RemoveChild(n)
			c.nodes.Forget(n)
		}, nil

	case "attr":
		at := op.Attr
		n, err := c.nodes.Lookup(at.ID)
		if err != nil {
			return nil, err
		}
		if n.Type != html.ElementNode {
			return nil, &event.ConversionError{Op: "apply", ID: at.ID, Err: fmt.Errorf("attribute on a non-element node")}
		}
		prev := slices.Clone(n.Attr)
		if at.Removed {
			event.RemoveAttr(n, at.Key)
		} else {
			event.SetAttr(n, at.Key, at.Value)
		}
		return func() { n.Attr = prev }, nil

	case "text":
		tx := op.Text
		n, err := c.nodes.Lookup(tx.ID)
		if err != nil {
			return nil, err
		}
		prev := n.Data
		n.Data = tx.Value
		return func() { n.Data = prev }, nil
	}
	return nil, &event.ConversionError{Op: "apply", Err: fmt.Errorf("dom step must set exactly one change")}
}

// bindings collects the identifiers bound within the subtree of n.
func bindings(s *event.NodeStore, n *html.Node) map[*html.Node]int {
	out := make(map[*html.Node]int)
	var walk func(*html.Node)
	walk = func(m *html.Node) {
		if id, ok := s.IDOf(m); ok {
			out[m] = id
		}
		for ch := m.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return out
}

func applyScroll(c *Container, rec event.RecordData) error {
	s, ok := rec.Data.(*event.Scroll)
	if !ok {
		return payloadError(rec)
	}
	if s.ID == 0 {
		return c.surface.SetScroll(s.Left, s.Top)
	}
	n, err := c.nodes.Lookup(s.ID)
	if err != nil {
		return err
	}
	return c.surface.ScrollElement(n, s.Left, s.Top)
}

func applyMouse(c *Container, rec event.RecordData) error {
	m, ok := rec.Data.(*event.Mouse)
	if !ok {
		return payloadError(rec)
	}
	c.pointerX, c.pointerY = m.X, m.Y
	if m.Kind == event.MouseClick {
		c.clicks++
	}
	ps, ok := c.surface.(PointerSurface)
	if !ok {
		return nil
	}
	if m.Kind == event.MouseClick {
		return ps.Click(m.X, m.Y)
	}
	return ps.MovePointer(m.X, m.Y)
}

// applyForm mirrors the control state into markup so it survives rendering.
func applyForm(c *Container, rec event.RecordData) error {
	f, ok := rec.Data.(*event.FormValue)
	if !ok {
		return payloadError(rec)
	}
	n, err := c.nodes.Lookup(f.ID)
	if err != nil {
		return err
	}
	if n.Type != html.ElementNode {
		return &event.ConversionError{Op: "apply", ID: f.ID, Err: fmt.Errorf("form value on a non-element node")}
	}

	switch n.DataAtom {
	case atom.Textarea:
		for ch := n.FirstChild; ch != nil; {
			next := ch.NextSibling
			n.RemoveChild(ch)
			c.nodes.Forget(ch)
			ch = next
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: f.Value})
	case atom.Select:
		for opt := n.FirstChild; opt != nil; opt = opt.NextSibling {
			if opt.Type != html.ElementNode || opt.DataAtom != atom.Option {
				continue
			}
			v, ok := event.Attr(opt, "value")
			if !ok && opt.FirstChild != nil {
				v = opt.FirstChild.Data
			}
			if v == f.Value {
				event.SetAttr(opt, "selected", "")
			} else {
				event.RemoveAttr(opt, "selected")
			}
		}
	default:
		typ, _ := event.Attr(n, "type")
		if typ == "checkbox" || typ == "radio" {
			if f.Checked {
				event.SetAttr(n, "checked", "")
			} else {
				event.RemoveAttr(n, "checked")
			}
			return nil
		}
		event.SetAttr(n, "value", f.Value)
	}
	return nil
}

func applyWindow(c *Container, rec event.RecordData) error {
	w, ok := rec.Data.(*event.Window)
	if !ok {
		return payloadError(rec)
	}
	c.head.Width, c.head.Height = w.Width, w.Height
	return c.surface.Resize(w.Width, w.Height)
}
