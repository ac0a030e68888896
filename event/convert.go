package event

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Attribute namespaces that survive the ns:key encoding.
var foreignAttrNS = map[string]bool{"xlink": true, "xml": true, "xmlns": true}

// ToVirtual converts a live node and its subtree. Nodes already known to the
// store keep their identifier, unknown ones get a fresh identifier.
// Script contents are not captured. On error no fresh identifier stays bound.
func ToVirtual(n *html.Node, s *NodeStore) (*VNode, error) {
	var fresh []*html.Node
	v, err := toVirtual(n, s, &fresh)
	if err != nil {
		s.mu.Lock()
		for _, f := range fresh {
			s.unbindLocked(f)
		}
		s.mu.Unlock()
		return nil, err
	}
	return v, nil
}

func toVirtual(n *html.Node, s *NodeStore, fresh *[]*html.Node) (*VNode, error) {
	if n == nil {
		return nil, &ConversionError{Op: "to_virtual", Err: fmt.Errorf("nil node")}
	}
	switch n.Type {
	case html.ElementNode, html.TextNode, html.CommentNode, html.DocumentNode, html.DoctypeNode:
	default:
		return nil, &ConversionError{Op: "to_virtual", Err: ErrUnsupportedNode}
	}
	if _, known := s.IDOf(n); !known {
		*fresh = append(*fresh, n)
	}
	v := &VNode{ID: s.Assign(n)}

	switch n.Type {
	case html.ElementNode:
		v.Type = ElementNode
		v.Tag = n.Data
		v.NS = n.Namespace
		if len(n.Attr) > 0 {
			v.Attrs = make(map[string]string, len(n.Attr))
			for _, a := range n.Attr {
				v.Attrs[attrKey(a)] = a.Val
			}
		}
		if n.DataAtom == atom.Script && n.Namespace == "" {
			return v, nil
		}
	case html.TextNode:
		v.Type = TextNode
		v.Value = n.Data
		return v, nil
	case html.CommentNode:
		v.Type = CommentNode
		v.Value = n.Data
		return v, nil
	case html.DocumentNode:
		v.Type = DocumentNode
	case html.DoctypeNode:
		v.Type = DoctypeNode
		v.Tag = n.Data
		for _, a := range n.Attr {
			if v.Attrs == nil {
				v.Attrs = make(map[string]string, 2)
			}
			v.Attrs[a.Key] = a.Val
		}
		return v, nil
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		child, err := toVirtual(c, s, fresh)
		if err != nil {
			return nil, err
		}
		v.Children = append(v.Children, child)
	}
	return v, nil
}

// FromVirtual builds the live form of v and binds every identifier in the
// store. The subtree is detached; the caller inserts it. On error nothing
// of the subtree stays bound.
func FromVirtual(v *VNode, s *NodeStore) (*html.Node, error) {
	if v == nil {
		return nil, &ConversionError{Op: "from_virtual", Err: fmt.Errorf("nil vnode")}
	}
	n := &html.Node{}

	switch v.Type {
	case ElementNode:
		n.Type = html.ElementNode
		n.Data = v.Tag
		n.Namespace = v.NS
		if v.NS == "" {
			n.DataAtom = atom.Lookup([]byte(v.Tag))
		}
		n.Attr = attrsFromMap(v.Attrs)
	case TextNode:
		n.Type = html.TextNode
		n.Data = v.Value
	case CommentNode:
		n.Type = html.CommentNode
		n.Data = v.Value
	case DocumentNode:
		n.Type = html.DocumentNode
	case DoctypeNode:
		n.Type = html.DoctypeNode
		n.Data = v.Tag
		for _, k := range sortedKeys(v.Attrs) {
			n.Attr = append(n.Attr, html.Attribute{Key: k, Val: v.Attrs[k]})
		}
	default:
		return nil, &ConversionError{Op: "from_virtual", ID: v.ID, Err: ErrUnsupportedNode}
	}

	if (v.Type == TextNode || v.Type == CommentNode || v.Type == DoctypeNode) && len(v.Children) > 0 {
		return nil, &ConversionError{Op: "from_virtual", ID: v.ID, Err: fmt.Errorf("%s node with children", v.Type)}
	}
	if err := s.Bind(v.ID, n); err != nil {
		return nil, err
	}
	for _, cv := range v.Children {
		c, err := FromVirtual(cv, s)
		if err != nil {
			s.Forget(n)
			return nil, err
		}
		n.AppendChild(c)
	}
	return n, nil
}

// DocumentElement returns the first element child of a document node, or n
// itself when n is already an element.
func DocumentElement(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// DoctypeOf extracts the doctype declaration of a document node.
func DoctypeOf(doc *html.Node) (Doctype, bool) {
	if doc == nil {
		return Doctype{}, false
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.DoctypeNode {
			continue
		}
		d := Doctype{Name: c.Data}
		for _, a := range c.Attr {
			switch a.Key {
			case "public":
				d.PublicID = a.Val
			case "system":
				d.SystemID = a.Val
			}
		}
		return d, true
	}
	return Doctype{}, false
}

func attrKey(a html.Attribute) string {
	if a.Namespace != "" {
		return a.Namespace + ":" + a.Key
	}
	return a.Key
}

func attrsFromMap(m map[string]string) []html.Attribute {
	if len(m) == 0 {
		return nil
	}
	attrs := make([]html.Attribute, 0, len(m))
	for _, k := range sortedKeys(m) {
		a := html.Attribute{Key: k, Val: m[k]}
		if ns, key, ok := strings.Cut(k, ":"); ok && foreignAttrNS[ns] {
			a.Namespace, a.Key = ns, key
		}
		attrs = append(attrs, a)
	}
	return attrs
}

// SetAttr sets or replaces an attribute on a live element.
func SetAttr(n *html.Node, key, val string) {
	ns, k := "", key
	if p, rest, ok := strings.Cut(key, ":"); ok && foreignAttrNS[p] {
		ns, k = p, rest
	}
	for i := range n.Attr {
		if n.Attr[i].Namespace == ns && n.Attr[i].Key == k {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Namespace: ns, Key: k, Val: val})
}

// RemoveAttr deletes an attribute from a live element.
func RemoveAttr(n *html.Node, key string) {
	n.Attr = slices.DeleteFunc(n.Attr, func(a html.Attribute) bool { return attrKey(a) == key })
}

// Attr returns the value of an attribute on a live element.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if attrKey(a) == key {
			return a.Val, true
		}
	}
	return "", false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
