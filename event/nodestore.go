package event

import (
	"sync"
	"sync/atomic"

	"golang.org/x/net/html"
)

// IDSource mints node identifiers for one recording session. Identifiers
// are never reused, even across resumed captures.
type IDSource struct {
	last atomic.Int64
}

// NewIDSource returns a source whose first identifier is 1.
func NewIDSource() *IDSource { return &IDSource{} }

// Next returns a fresh identifier.
func (s *IDSource) Next() int { return int(s.last.Add(1)) }

// observe moves the source past id so later Next calls never collide with
// identifiers bound from the outside (replay side).
func (s *IDSource) observe(id int) {
	for {
		cur := s.last.Load()
		if int64(id) <= cur || s.last.CompareAndSwap(cur, int64(id)) {
			return
		}
	}
}

// NodeStore maps identifiers to live nodes for one document context.
type NodeStore struct {
	mu    sync.RWMutex
	src   *IDSource
	nodes map[int]*html.Node
	ids   map[*html.Node]int
}

// NewNodeStore creates an empty store. A nil src gets a private source.
func NewNodeStore(src *IDSource) *NodeStore {
	if src == nil {
		src = NewIDSource()
	}
	return &NodeStore{
		src:   src,
		nodes: make(map[int]*html.Node),
		ids:   make(map[*html.Node]int),
	}
}

// IDOf returns the identifier bound to n.
func (s *NodeStore) IDOf(n *html.Node) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.ids[n]
	return id, ok
}

// Assign returns the identifier of n, minting a fresh one if n is unknown.
func (s *NodeStore) Assign(n *html.Node) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.ids[n]; ok {
		return id
	}
	id := s.src.Next()
	s.nodes[id] = n
	s.ids[n] = id
	return id
}

// Bind associates id with n. Binding an identifier already used by another
// node is a ConversionError.
func (s *NodeStore) Bind(id int, n *html.Node) error {
	if id <= 0 {
		return &ConversionError{Op: "bind", ID: id, Err: ErrUnknownNode}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.nodes[id]; ok && prev != n {
		return &ConversionError{Op: "bind", ID: id, Err: ErrDuplicateNode}
	}
	if old, ok := s.ids[n]; ok && old != id {
		delete(s.nodes, old)
	}
	s.nodes[id] = n
	s.ids[n] = id
	s.src.observe(id)
	return nil
}

// Lookup returns the node bound to id.
func (s *NodeStore) Lookup(id int) (*html.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, &ConversionError{Op: "lookup", ID: id, Err: ErrUnknownNode}
	}
	return n, nil
}

// Forget unbinds n and all its descendants.
func (s *NodeStore) Forget(n *html.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgetLocked(n)
}

func (s *NodeStore) forgetLocked(n *html.Node) {
	s.unbindLocked(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		s.forgetLocked(c)
	}
}

func (s *NodeStore) unbindLocked(n *html.Node) {
	if id, ok := s.ids[n]; ok {
		delete(s.ids, n)
		delete(s.nodes, id)
	}
}

// Reset drops every binding. The identifier source keeps counting.
func (s *NodeStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[int]*html.Node)
	s.ids = make(map[*html.Node]int)
}

// Len returns the number of bound nodes.
func (s *NodeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}
