package browser

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"

	"github.com/hazyhaar/domreplay/event"
	"github.com/hazyhaar/domreplay/replay"
)

const noScrollJS = `() => {
	document.documentElement.style.overflow = 'hidden';
	if (document.body) document.body.style.overflow = 'hidden';
}`

const scrollToJS = `(left, top) => { window.scrollTo(left, top); }`

const scrollElementJS = `(path, left, top) => {
	let n = document;
	for (const i of path) n = n && n.childNodes[i];
	if (n) { n.scrollLeft = left; n.scrollTop = top; }
}`

const offsetsJS = `() => JSON.stringify([Math.round(window.scrollX), Math.round(window.scrollY)])`

// Surface replays into a browser tab. The container edits the Go tree
// returned by Document; Commit renders it into the tab.
type Surface struct {
	page *rod.Page

	mu        sync.Mutex
	doc       *html.Node
	noScroll  bool
	left, top int
}

var (
	_ replay.Surface        = (*Surface)(nil)
	_ replay.PointerSurface = (*Surface)(nil)
)

// NewSurface replays into page.
func NewSurface(page *rod.Page) *Surface { return &Surface{page: page} }

// SurfaceFactory opens a blank tab per replayed context.
func SurfaceFactory(m *Manager) replay.SurfaceFactory {
	return func(*event.Head) (replay.Surface, error) {
		page, err := m.Blank()
		if err != nil {
			return nil, err
		}
		return NewSurface(page), nil
	}
}

func (s *Surface) CreateDocument(width, height int) error {
	s.mu.Lock()
	s.doc = &html.Node{Type: html.DocumentNode}
	s.left, s.top = 0, 0
	s.mu.Unlock()
	return s.Resize(width, height)
}

func (s *Surface) WriteDocument(markup string) error {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return fmt.Errorf("browser: parse document: %w", err)
	}
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return s.page.SetDocumentContent(markup)
}

func (s *Surface) DisableScrolling() error {
	s.mu.Lock()
	s.noScroll = true
	s.mu.Unlock()
	_, err := s.page.Eval(noScrollJS)
	return err
}

func (s *Surface) Document() (*html.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil, fmt.Errorf("browser: no document created")
	}
	return s.doc, nil
}

// Commit renders the tree into the tab and restores the scroll position
// the rewrite discards.
func (s *Surface) Commit() error {
	s.mu.Lock()
	var b strings.Builder
	err := html.Render(&b, s.doc)
	noScroll, left, top := s.noScroll, s.left, s.top
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("browser: render: %w", err)
	}

	if err := s.page.SetDocumentContent(b.String()); err != nil {
		return fmt.Errorf("browser: commit: %w", err)
	}
	if noScroll {
		if _, err := s.page.Eval(noScrollJS); err != nil {
			return err
		}
	}
	_, err = s.page.Eval(scrollToJS, left, top)
	return err
}

func (s *Surface) Resize(width, height int) error {
	return proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	}.Call(s.page)
}

func (s *Surface) ScrollOffsets() (int, int, error) {
	res, err := s.page.Eval(offsetsJS)
	if err != nil {
		return 0, 0, err
	}
	var off [2]int
	if err := json.Unmarshal([]byte(res.Value.Str()), &off); err != nil {
		return 0, 0, fmt.Errorf("browser: scroll offsets: %w", err)
	}
	return off[0], off[1], nil
}

func (s *Surface) SetScroll(left, top int) error {
	s.mu.Lock()
	s.left, s.top = left, top
	s.mu.Unlock()
	_, err := s.page.Eval(scrollToJS, left, top)
	return err
}

func (s *Surface) ScrollElement(n *html.Node, left, top int) error {
	_, err := s.page.Eval(scrollElementJS, pathOf(n), left, top)
	return err
}

func (s *Surface) MovePointer(x, y int) error {
	return s.page.Mouse.MoveTo(proto.Point{X: float64(x), Y: float64(y)})
}

func (s *Surface) Click(x, y int) error {
	if err := s.MovePointer(x, y); err != nil {
		return err
	}
	return s.page.Mouse.Click(proto.InputMouseButtonLeft, 1)
}
