package replay

import (
	"errors"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domreplay/event"
)

// MemorySurface is a Surface backed by an in-process document. It renders
// replays without a browser.
type MemorySurface struct {
	mu            sync.Mutex
	doc           *html.Node
	width, height int
	noScroll      bool
	left, top     int
	elements      map[*html.Node][2]int
	pointer       [2]int
	commits       int
}

// NewMemorySurface returns an empty surface.
func NewMemorySurface() *MemorySurface {
	return &MemorySurface{elements: make(map[*html.Node][2]int)}
}

// MemoryFactory is a SurfaceFactory producing MemorySurfaces.
func MemoryFactory(*event.Head) (Surface, error) { return NewMemorySurface(), nil }

func (s *MemorySurface) CreateDocument(width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = &html.Node{Type: html.DocumentNode}
	s.width, s.height = width, height
	s.left, s.top = 0, 0
	s.elements = make(map[*html.Node][2]int)
	return nil
}

func (s *MemorySurface) WriteDocument(markup string) error {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	return nil
}

func (s *MemorySurface) DisableScrolling() error {
	s.mu.Lock()
	s.noScroll = true
	s.mu.Unlock()
	return nil
}

func (s *MemorySurface) Document() (*html.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil, errors.New("replay: no document created")
	}
	return s.doc, nil
}

func (s *MemorySurface) Commit() error {
	s.mu.Lock()
	s.commits++
	s.mu.Unlock()
	return nil
}

func (s *MemorySurface) Resize(width, height int) error {
	s.mu.Lock()
	s.width, s.height = width, height
	s.mu.Unlock()
	return nil
}

func (s *MemorySurface) ScrollOffsets() (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.left, s.top, nil
}

func (s *MemorySurface) SetScroll(left, top int) error {
	s.mu.Lock()
	s.left, s.top = left, top
	s.mu.Unlock()
	return nil
}

func (s *MemorySurface) ScrollElement(n *html.Node, left, top int) error {
	s.mu.Lock()
	s.elements[n] = [2]int{left, top}
	s.mu.Unlock()
	return nil
}

func (s *MemorySurface) MovePointer(x, y int) error {
	s.mu.Lock()
	s.pointer = [2]int{x, y}
	s.mu.Unlock()
	return nil
}

func (s *MemorySurface) Click(x, y int) error { return s.MovePointer(x, y) }

// ElementScroll returns the offsets last applied to n.
func (s *MemorySurface) ElementScroll(n *html.Node) (left, top int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.elements[n]
	return o[0], o[1], ok
}

// Size returns the current viewport size.
func (s *MemorySurface) Size() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// ScrollingDisabled reports whether DisableScrolling was called.
func (s *MemorySurface) ScrollingDisabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.noScroll
}

// Commits counts Commit calls.
func (s *MemorySurface) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Render serializes the current document.
func (s *MemorySurface) Render() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return "", errors.New("replay: no document created")
	}
	var b strings.Builder
	if err := html.Render(&b, s.doc); err != nil {
		return "", err
	}
	return b.String(), nil
}
