package browser

import (
	"strings"

	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/domreplay/event"
	"github.com/hazyhaar/domreplay/recorder"
)

// mirror is the Go copy of a page DOM keyed by CDP node id. CDP omits
// whitespace-only text nodes, so child indexes here match the injected
// script's paths, which skip them too.
type mirror struct {
	root   *html.Node
	byID   map[proto.DOMNodeID]*html.Node
	ids    map[*html.Node]proto.DOMNodeID
	frames map[*html.Node]*html.Node // iframe element -> content document
	owners map[*html.Node]*html.Node // content document -> iframe element
	urls   map[*html.Node]docURL
}

type docURL struct {
	href string
	base string
}

func newMirror() *mirror {
	m := &mirror{}
	m.clear()
	return m
}

func (m *mirror) clear() {
	m.root = nil
	m.byID = make(map[proto.DOMNodeID]*html.Node)
	m.ids = make(map[*html.Node]proto.DOMNodeID)
	m.frames = make(map[*html.Node]*html.Node)
	m.owners = make(map[*html.Node]*html.Node)
	m.urls = make(map[*html.Node]docURL)
}

// reset replaces the mirror with the tree of DOM.getDocument.
func (m *mirror) reset(root *proto.DOMNode) {
	m.clear()
	m.root = m.build(root)
}

func (m *mirror) build(d *proto.DOMNode) *html.Node {
	n := convertNode(d)
	if n == nil {
		return nil
	}
	m.byID[d.NodeID] = n
	m.ids[n] = d.NodeID
	if n.Type == html.DocumentNode {
		m.urls[n] = docURL{href: d.DocumentURL, base: d.BaseURL}
	}
	for _, c := range d.Children {
		if cn := m.build(c); cn != nil {
			n.AppendChild(cn)
		}
	}
	if d.ContentDocument != nil {
		if doc := m.build(d.ContentDocument); doc != nil {
			m.frames[n] = doc
			m.owners[doc] = n
		}
	}
	return n
}

func convertNode(d *proto.DOMNode) *html.Node {
	if d == nil {
		return nil
	}
	switch d.NodeType {
	case 1:
		name := strings.ToLower(d.LocalName)
		if name == "" {
			name = strings.ToLower(d.NodeName)
		}
		n := &html.Node{Type: html.ElementNode, Data: name, DataAtom: atom.Lookup([]byte(name))}
		for i := 0; i+1 < len(d.Attributes); i += 2 {
			n.Attr = append(n.Attr, html.Attribute{Key: d.Attributes[i], Val: d.Attributes[i+1]})
		}
		return n
	case 3, 4:
		return &html.Node{Type: html.TextNode, Data: d.NodeValue}
	case 8:
		return &html.Node{Type: html.CommentNode, Data: d.NodeValue}
	case 9:
		return &html.Node{Type: html.DocumentNode}
	case 10:
		n := &html.Node{Type: html.DoctypeNode, Data: strings.ToLower(d.NodeName)}
		if d.PublicID != "" {
			n.Attr = append(n.Attr, html.Attribute{Key: "public", Val: d.PublicID})
		}
		if d.SystemID != "" {
			n.Attr = append(n.Attr, html.Attribute{Key: "system", Val: d.SystemID})
		}
		return n
	}
	return nil
}

// forget drops n's subtree and any frame documents below it.
func (m *mirror) forget(n *html.Node) {
	if id, ok := m.ids[n]; ok {
		delete(m.byID, id)
		delete(m.ids, n)
	}
	delete(m.urls, n)
	if doc, ok := m.frames[n]; ok {
		delete(m.frames, n)
		delete(m.owners, doc)
		m.forget(doc)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		m.forget(c)
	}
}

// insert applies DOM.childNodeInserted. prev 0 inserts first.
func (m *mirror) insert(parent, prev proto.DOMNodeID, d *proto.DOMNode) (recorder.Mutation, bool) {
	p := m.byID[parent]
	if p == nil {
		return recorder.Mutation{}, false
	}
	if old := m.byID[d.NodeID]; old != nil {
		if old.Parent != nil {
			old.Parent.RemoveChild(old)
		}
		m.forget(old)
	}
	before := p.FirstChild
	if prev != 0 {
		pn := m.byID[prev]
		if pn == nil || pn.Parent != p {
			return recorder.Mutation{}, false
		}
		before = pn.NextSibling
	}
	n := m.build(d)
	if n == nil {
		return recorder.Mutation{}, false
	}
	p.InsertBefore(n, before)
	return recorder.Mutation{Kind: recorder.ChildList, Target: p, Added: []*html.Node{n}, Next: n.NextSibling}, true
}

// remove applies DOM.childNodeRemoved.
func (m *mirror) remove(parent, id proto.DOMNodeID) (recorder.Mutation, bool) {
	p, n := m.byID[parent], m.byID[id]
	if p == nil || n == nil || n.Parent != p {
		return recorder.Mutation{}, false
	}
	p.RemoveChild(n)
	m.forget(n)
	return recorder.Mutation{Kind: recorder.ChildList, Target: p, Removed: []*html.Node{n}}, true
}

func (m *mirror) setAttr(id proto.DOMNodeID, name, value string) (recorder.Mutation, bool) {
	n := m.byID[id]
	if n == nil || n.Type != html.ElementNode {
		return recorder.Mutation{}, false
	}
	event.SetAttr(n, name, value)
	return recorder.Mutation{Kind: recorder.Attributes, Target: n, Attr: name}, true
}

func (m *mirror) removeAttr(id proto.DOMNodeID, name string) (recorder.Mutation, bool) {
	n := m.byID[id]
	if n == nil || n.Type != html.ElementNode {
		return recorder.Mutation{}, false
	}
	event.RemoveAttr(n, name)
	return recorder.Mutation{Kind: recorder.Attributes, Target: n, Attr: name}, true
}

func (m *mirror) setText(id proto.DOMNodeID, data string) (recorder.Mutation, bool) {
	n := m.byID[id]
	if n == nil || (n.Type != html.TextNode && n.Type != html.CommentNode) {
		return recorder.Mutation{}, false
	}
	n.Data = data
	return recorder.Mutation{Kind: recorder.CharacterData, Target: n}, true
}

// setChildren applies DOM.setChildNodes. The only case the recorder needs
// is a frame reporting its content document; it returns the frame element
// when one was attached.
func (m *mirror) setChildren(parent proto.DOMNodeID, nodes []*proto.DOMNode) *html.Node {
	p := m.byID[parent]
	if p == nil {
		return nil
	}
	if isFrame(p) {
		for _, d := range nodes {
			if d.NodeType != 9 {
				continue
			}
			if old, ok := m.frames[p]; ok {
				delete(m.owners, old)
				m.forget(old)
			}
			doc := m.build(d)
			m.frames[p] = doc
			m.owners[doc] = p
			return p
		}
		return nil
	}
	if p.FirstChild == nil {
		for _, d := range nodes {
			if n := m.build(d); n != nil {
				p.AppendChild(n)
			}
		}
	}
	return nil
}

func isFrame(n *html.Node) bool {
	return n.Type == html.ElementNode && (n.DataAtom == atom.Iframe || n.DataAtom == atom.Frame)
}

// rootOf returns the document n belongs to.
func rootOf(n *html.Node) *html.Node {
	for n != nil && n.Parent != nil {
		n = n.Parent
	}
	return n
}

// owner returns the frame element of the document n belongs to, nil for
// the main document.
func (m *mirror) owner(n *html.Node) *html.Node {
	return m.owners[rootOf(n)]
}

// document returns the document of a context: the main document for a nil
// owner, the frame's content document otherwise.
func (m *mirror) document(owner *html.Node) *html.Node {
	if owner == nil {
		return m.root
	}
	return m.frames[owner]
}

// attached reports whether n is still part of the mirror.
func (m *mirror) attached(n *html.Node) bool {
	_, ok := m.ids[n]
	return ok
}

// pathOf is the child index path of n from its document.
func pathOf(n *html.Node) []int {
	var path []int
	for n != nil && n.Parent != nil {
		i := 0
		for c := n.Parent.FirstChild; c != nil && c != n; c = c.NextSibling {
			i++
		}
		path = append([]int{i}, path...)
		n = n.Parent
	}
	return path
}

func resolvePath(doc *html.Node, path []int) (*html.Node, bool) {
	n := doc
	for _, idx := range path {
		if n == nil || idx < 0 {
			return nil, false
		}
		c := n.FirstChild
		for i := 0; c != nil && i < idx; i++ {
			c = c.NextSibling
		}
		n = c
	}
	return n, n != nil
}

// chainOf is the list of frame element paths leading to owner's document,
// outermost first.
func (m *mirror) chainOf(owner *html.Node) [][]int {
	var chain [][]int
	for el := owner; el != nil; el = m.owner(el) {
		chain = append([][]int{pathOf(el)}, chain...)
	}
	return chain
}

// resolveChain maps a target chain reported by the injected script to the
// frame owning the target and the target itself. The last path addresses
// the target; an empty last path addresses the document.
func (m *mirror) resolveChain(chain [][]int) (owner, target *html.Node, ok bool) {
	doc := m.root
	if doc == nil {
		return nil, nil, false
	}
	if len(chain) == 0 {
		return nil, nil, true
	}
	for i, p := range chain {
		n, ok := resolvePath(doc, p)
		if !ok {
			return nil, nil, false
		}
		if i == len(chain)-1 {
			if len(p) == 0 {
				return owner, nil, true
			}
			return owner, n, true
		}
		fd := m.frames[n]
		if fd == nil {
			return nil, nil, false
		}
		owner, doc = n, fd
	}
	return owner, nil, true
}

// framesIn lists the frame elements of doc, not descending into frames.
func framesIn(doc *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if isFrame(c) {
				out = append(out, c)
				continue
			}
			walk(c)
		}
	}
	if doc != nil {
		walk(doc)
	}
	return out
}

func titleOf(doc *html.Node) string {
	var title string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Title && n.Namespace == "" {
			var b strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					b.WriteString(c.Data)
				}
			}
			title = strings.TrimSpace(b.String())
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	if doc != nil {
		walk(doc)
	}
	return title
}
