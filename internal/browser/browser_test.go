package browser

import (
	"context"
	"log/slog"
	"reflect"
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"

	"github.com/hazyhaar/domreplay/recorder"
)

// cdpDoc is a DOM.getDocument result:
//
//	#document(1)
//	  <!DOCTYPE html>(2)
//	  <html>(3)
//	    <head>(4) <title>(5) "Shop"(6)
//	    <body>(7)
//	      <p class="a">(8) "hi"(9)
//	      <iframe src="/inner">(10) -> #document(11) <html>(12) <body>(13)
func cdpDoc() *proto.DOMNode {
	return &proto.DOMNode{
		NodeID: 1, NodeType: 9, NodeName: "#document",
		DocumentURL: "https://shop.test/cart", BaseURL: "https://shop.test/",
		Children: []*proto.DOMNode{
			{NodeID: 2, NodeType: 10, NodeName: "html"},
			{NodeID: 3, NodeType: 1, NodeName: "HTML", LocalName: "html", Children: []*proto.DOMNode{
				{NodeID: 4, NodeType: 1, NodeName: "HEAD", LocalName: "head", Children: []*proto.DOMNode{
					{NodeID: 5, NodeType: 1, NodeName: "TITLE", LocalName: "title", Children: []*proto.DOMNode{
						{NodeID: 6, NodeType: 3, NodeName: "#text", NodeValue: " Shop "},
					}},
				}},
				{NodeID: 7, NodeType: 1, NodeName: "BODY", LocalName: "body", Children: []*proto.DOMNode{
					{NodeID: 8, NodeType: 1, NodeName: "P", LocalName: "p", Attributes: []string{"class", "a"}, Children: []*proto.DOMNode{
						{NodeID: 9, NodeType: 3, NodeName: "#text", NodeValue: "hi"},
					}},
					{NodeID: 10, NodeType: 1, NodeName: "IFRAME", LocalName: "iframe", Attributes: []string{"src", "/inner"},
						ContentDocument: &proto.DOMNode{
							NodeID: 11, NodeType: 9, NodeName: "#document", DocumentURL: "https://shop.test/inner",
							Children: []*proto.DOMNode{
								{NodeID: 12, NodeType: 1, LocalName: "html", Children: []*proto.DOMNode{
									{NodeID: 13, NodeType: 1, LocalName: "body"},
								}},
							},
						}},
				}},
			}},
		},
	}
}

func testMirror() *mirror {
	m := newMirror()
	m.reset(cdpDoc())
	return m
}

func TestMirrorBuild(t *testing.T) {
	m := testMirror()
	if m.root == nil || m.root.Type != html.DocumentNode {
		t.Fatal("root is not a document")
	}
	p := m.byID[8]
	if p == nil || p.Data != "p" || p.Attr[0].Key != "class" {
		t.Fatalf("p: got %+v", p)
	}
	if dt := m.byID[2]; dt.Type != html.DoctypeNode || dt.Data != "html" {
		t.Errorf("doctype: got %+v", dt)
	}
	iframe := m.byID[10]
	doc := m.frames[iframe]
	if doc == nil || m.owners[doc] != iframe {
		t.Fatal("frame document not attached")
	}
	if iframe.FirstChild != nil {
		t.Error("frame document must not be a child of the iframe")
	}
	if got := titleOf(m.root); got != "Shop" {
		t.Errorf("title: got %q", got)
	}
	if m.urls[m.root].href != "https://shop.test/cart" {
		t.Errorf("url: got %q", m.urls[m.root].href)
	}
	if m.owner(m.byID[13]) != iframe || m.owner(p) != nil {
		t.Error("owner mismatch")
	}
}

func TestMirrorInsertRemove(t *testing.T) {
	m := testMirror()
	body := m.byID[7]

	mu, ok := m.insert(7, 8, &proto.DOMNode{NodeID: 20, NodeType: 1, LocalName: "span"})
	if !ok {
		t.Fatal("insert failed")
	}
	span := m.byID[20]
	if mu.Kind != recorder.ChildList || mu.Target != body || mu.Added[0] != span || mu.Next != m.byID[10] {
		t.Errorf("mutation: got %+v", mu)
	}
	if span.PrevSibling != m.byID[8] {
		t.Error("span not inserted after p")
	}

	if _, ok := m.insert(7, 0, &proto.DOMNode{NodeID: 21, NodeType: 3, NodeValue: "first"}); !ok {
		t.Fatal("insert first failed")
	}
	if body.FirstChild != m.byID[21] {
		t.Error("prev 0 must insert first")
	}

	if _, ok := m.insert(7, 99, &proto.DOMNode{NodeID: 22, NodeType: 1, LocalName: "b"}); ok {
		t.Error("unknown previous sibling accepted")
	}

	mu, ok = m.remove(7, 10)
	if !ok || mu.Removed[0] == nil {
		t.Fatal("remove failed")
	}
	if _, ok := m.byID[11]; ok {
		t.Error("frame document still tracked after removing its iframe")
	}
	if len(m.frames) != 0 || len(m.owners) != 0 {
		t.Error("frame maps not cleared")
	}
	if _, ok := m.remove(4, 8); ok {
		t.Error("remove with wrong parent accepted")
	}
}

func TestMirrorAttrsAndText(t *testing.T) {
	m := testMirror()
	mu, ok := m.setAttr(8, "class", "b")
	if !ok || mu.Kind != recorder.Attributes || mu.Attr != "class" {
		t.Fatalf("setAttr: %+v %v", mu, ok)
	}
	if m.byID[8].Attr[0].Val != "b" {
		t.Error("attribute not updated")
	}
	if _, ok := m.removeAttr(8, "class"); !ok || len(m.byID[8].Attr) != 0 {
		t.Error("attribute not removed")
	}
	if _, ok := m.setAttr(9, "x", "y"); ok {
		t.Error("attribute on a text node accepted")
	}
	mu, ok = m.setText(9, "bye")
	if !ok || mu.Kind != recorder.CharacterData || m.byID[9].Data != "bye" {
		t.Error("text not updated")
	}
}

func TestMirrorFrameDocumentArrives(t *testing.T) {
	m := newMirror()
	doc := cdpDoc()
	doc.Children[1].Children[1].Children[1].ContentDocument = nil
	m.reset(doc)

	if el := m.setChildren(10, []*proto.DOMNode{{NodeID: 30, NodeType: 9, DocumentURL: "https://shop.test/inner"}}); el != m.byID[10] {
		t.Fatalf("setChildren: got %v", el)
	}
	if m.document(m.byID[10]) != m.byID[30] {
		t.Error("frame document not attached")
	}
	if m.setChildren(99, nil) != nil {
		t.Error("unknown parent accepted")
	}
}

func TestResolveChain(t *testing.T) {
	m := testMirror()
	iframe := m.byID[10]

	owner, target, ok := m.resolveChain(nil)
	if !ok || owner != nil || target != nil {
		t.Error("empty chain must address the main document")
	}
	owner, target, ok = m.resolveChain([][]int{pathOf(m.byID[9])})
	if !ok || owner != nil || target != m.byID[9] {
		t.Errorf("text: got %v %v %v", owner, target, ok)
	}
	owner, target, ok = m.resolveChain([][]int{pathOf(iframe), pathOf(m.byID[13])})
	if !ok || owner != iframe || target != m.byID[13] {
		t.Errorf("frame body: got %v %v %v", owner, target, ok)
	}
	owner, target, ok = m.resolveChain([][]int{pathOf(iframe), {}})
	if !ok || owner != iframe || target != nil {
		t.Error("empty last path must address the frame document")
	}
	if _, _, ok := m.resolveChain([][]int{{1, 7}}); ok {
		t.Error("out of range path resolved")
	}
	if got := m.chainOf(iframe); !reflect.DeepEqual(got, [][]int{{1, 1, 1}}) {
		t.Errorf("chainOf: got %v", got)
	}
}

func TestSameOrigin(t *testing.T) {
	base := "https://shop.test/cart"
	cases := map[string]bool{
		"/inner":              true,
		"https://shop.test/x": true,
		"https://ads.test/x":  false,
		"http://shop.test/x":  false,
		"":                    false,
		"about:blank":         false,
		"javascript:void(0)":  false,
	}
	for src, want := range cases {
		if got := sameOrigin(base, src); got != want {
			t.Errorf("sameOrigin(%q): got %v, want %v", src, got, want)
		}
	}
}

func TestResourceFilter(t *testing.T) {
	f := newResourceFilter([]string{"Images", "fonts", "xhr"})
	cases := map[proto.NetworkResourceType]bool{
		proto.NetworkResourceTypeImage:      true,
		proto.NetworkResourceTypeFont:       true,
		proto.NetworkResourceTypeXHR:        true,
		proto.NetworkResourceTypeDocument:   false,
		proto.NetworkResourceTypeStylesheet: false,
	}
	for typ, want := range cases {
		if got := f.blocks(typ); got != want {
			t.Errorf("blocks(%s): got %v, want %v", typ, got, want)
		}
	}
}

func TestParseMessage(t *testing.T) {
	msg, err := parseMessage(`{"kind":"scroll","target":[[1,1],[]],"left":3,"top":40}`)
	if err != nil {
		t.Fatal(err)
	}
	ev := msg.hostEvent()
	if ev.Kind != recorder.EventScroll || ev.Left != 3 || ev.Top != 40 {
		t.Errorf("got %+v", ev)
	}

	msg, _ = parseMessage(`{"kind":"visibilitychange","visibility":"hidden"}`)
	if msg.hostEvent().Visibility != recorder.Hidden {
		t.Error("hidden not parsed")
	}
	msg, _ = parseMessage(`{"kind":"visibilitychange","visibility":"unloaded"}`)
	if msg.hostEvent().Visibility != recorder.Unloaded {
		t.Error("unloaded not parsed")
	}

	if _, err := parseMessage(`{}`); err == nil {
		t.Error("message without kind accepted")
	}
	if _, err := parseMessage(`nope`); err == nil {
		t.Error("garbage accepted")
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("headful") != Headful || ParseMode("plain") != Plain || ParseMode("") != Headless {
		t.Error("mode mapping")
	}
}

func TestXvfbSocket(t *testing.T) {
	for display, want := range map[string]string{
		":99":  "/tmp/.X11-unix/X99",
		":1.0": "/tmp/.X11-unix/X1",
		"99":   "",
		":abc": "",
	} {
		got, err := xvfbSocket(display)
		if want == "" {
			if err == nil {
				t.Errorf("%q accepted as %q", display, got)
			}
			continue
		}
		if err != nil || got != want {
			t.Errorf("%q: got %q, %v; want %q", display, got, err, want)
		}
	}
}

func testPage() *Page {
	return &Page{
		logger: slog.Default(),
		mirror: testMirror(),
		loads:  make(map[*html.Node]chan struct{}),
	}
}

func TestPageDispatchByOwner(t *testing.T) {
	p := testPage()
	main := &docContext{page: p}
	frame := &docContext{page: p, owner: p.mirror.byID[10]}

	var mainEvents, frameEvents []recorder.HostEvent
	cancelMain := main.Listen(recorder.EventMutation, func(ev recorder.HostEvent) { mainEvents = append(mainEvents, ev) })
	frame.Listen(recorder.EventMutation, func(ev recorder.HostEvent) { frameEvents = append(frameEvents, ev) })

	p.mutate(func(m *mirror) (recorder.Mutation, bool) { return m.setAttr(8, "class", "z") })
	p.mutate(func(m *mirror) (recorder.Mutation, bool) { return m.setAttr(13, "class", "z") })
	p.mutate(func(m *mirror) (recorder.Mutation, bool) { return m.setAttr(999, "class", "z") })

	if len(mainEvents) != 1 || mainEvents[0].Mutations[0].Target != p.mirror.byID[8] {
		t.Errorf("main: got %d events", len(mainEvents))
	}
	if len(frameEvents) != 1 || frameEvents[0].Mutations[0].Target != p.mirror.byID[13] {
		t.Errorf("frame: got %d events", len(frameEvents))
	}

	cancelMain()
	p.mutate(func(m *mirror) (recorder.Mutation, bool) { return m.setText(9, "x") })
	if len(mainEvents) != 1 {
		t.Error("cancelled subscription still called")
	}
}

func TestPageMessages(t *testing.T) {
	p := testPage()
	main := &docContext{page: p}

	var clicks, vis []recorder.HostEvent
	main.Listen(recorder.EventClick, func(ev recorder.HostEvent) { clicks = append(clicks, ev) })
	main.Listen(recorder.EventVisibility, func(ev recorder.HostEvent) {
		// Visibility subscribers may capture, which takes the page lock.
		p.mu.Lock()
		p.mu.Unlock()
		vis = append(vis, ev)
	})

	p.onMessage(`{"kind":"click","target":[[1,1,0]],"x":5,"y":6}`)
	p.onMessage(`{"kind":"click","target":[[9,9]],"x":5,"y":6}`)
	p.onMessage(`{"kind":"visibilitychange","visibility":"hidden"}`)

	if len(clicks) != 1 || clicks[0].Target != p.mirror.byID[8] || clicks[0].X != 5 {
		t.Errorf("clicks: got %+v", clicks)
	}
	if len(vis) != 1 || vis[0].Visibility != recorder.Hidden {
		t.Errorf("visibility: got %+v", vis)
	}
}

func TestFrames(t *testing.T) {
	p := testPage()
	frames, err := (&docContext{page: p}).Frames(context.Background())
	if err != nil || len(frames) != 1 {
		t.Fatalf("frames: %v %v", frames, err)
	}
	f := frames[0]
	if f.Src() != "/inner" || !f.Accessible() || f.Terminated() {
		t.Errorf("frame: src %q accessible %v terminated %v", f.Src(), f.Accessible(), f.Terminated())
	}
	select {
	case <-f.Loaded():
	default:
		t.Error("frame with a content document must be loaded")
	}

	p.mu.Lock()
	p.mirror.remove(7, 10)
	p.mu.Unlock()
	if !f.Terminated() {
		t.Error("removed frame not terminated")
	}
}
