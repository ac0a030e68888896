package event

import "maps"

// NodeType follows DOM nodeType numbering.
type NodeType int

const (
	ElementNode  NodeType = 1
	TextNode     NodeType = 3
	CommentNode  NodeType = 8
	DocumentNode NodeType = 9
	DoctypeNode  NodeType = 10
)

func (t NodeType) String() string {
	switch t {
	case ElementNode:
		return "element"
	case TextNode:
		return "text"
	case CommentNode:
		return "comment"
	case DocumentNode:
		return "document"
	case DoctypeNode:
		return "doctype"
	}
	return "unknown"
}

// VNode is the serialisable form of a DOM node. ID is assigned at capture
// time and is what incremental records use to address the node.
//
// Doctype nodes keep the name in Tag and the identifiers under the "public"
// and "system" attributes. Text and comment data live in Value.
type VNode struct {
	ID       int               `json:"id"`
	Type     NodeType          `json:"type"`
	Tag      string            `json:"tag,omitempty"`
	NS       string            `json:"ns,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Value    string            `json:"value,omitempty"`
	Children []*VNode          `json:"children,omitempty"`
}

// Walk visits v and its descendants depth-first, pre-order. Returning false
// from fn skips the subtree.
func (v *VNode) Walk(fn func(*VNode) bool) {
	if v == nil || !fn(v) {
		return
	}
	for _, c := range v.Children {
		c.Walk(fn)
	}
}

// Count returns the number of nodes in the subtree.
func (v *VNode) Count() int {
	n := 0
	v.Walk(func(*VNode) bool { n++; return true })
	return n
}

// IDs returns the identifiers of the subtree in pre-order.
func (v *VNode) IDs() []int {
	var ids []int
	v.Walk(func(n *VNode) bool { ids = append(ids, n.ID); return true })
	return ids
}

// ElementChildren returns the direct children of kind element.
func (v *VNode) ElementChildren() []*VNode {
	var out []*VNode
	for _, c := range v.Children {
		if c.Type == ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// Equal reports whether two trees are identical, identifiers included.
// Attribute order is irrelevant.
func Equal(a, b *VNode) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ID != b.ID || a.Type != b.Type || a.Tag != b.Tag || a.NS != b.NS || a.Value != b.Value {
		return false
	}
	if len(a.Attrs) != len(b.Attrs) || !maps.Equal(a.Attrs, b.Attrs) {
		return false
	}
	if len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		if !Equal(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}
