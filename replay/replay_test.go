package replay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domreplay/event"
	"github.com/hazyhaar/domreplay/snapshot"
)

type staticSource struct {
	doc       *html.Node
	left, top int
}

func (s staticSource) ReadState(context.Context) (snapshot.State, error) {
	return snapshot.State{Root: s.doc, ScrollLeft: s.left, ScrollTop: s.top}, nil
}

// recorded captures markup as the HEAD and SNAPSHOT of relatedID.
func recorded(t *testing.T, ids *event.IDSource, relatedID, markup string, top int) (*event.Head, *event.Snapshot) {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		t.Fatal(err)
	}
	res, err := snapshot.Capture(context.Background(), staticSource{doc: doc, top: top}, event.NewNodeStore(ids))
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	dt, _ := event.DoctypeOf(doc)
	return &event.Head{Doctype: dt, Width: 800, Height: 600, RelatedID: relatedID}, res.Record()
}

func vnodeByTag(v *event.VNode, tag string) *event.VNode {
	var found *event.VNode
	v.Walk(func(n *event.VNode) bool {
		if found == nil && n.Tag == tag {
			found = n
		}
		return found == nil
	})
	return found
}

func rec(t event.RecordType, id, stamp string, data any) event.RecordData {
	return event.RecordData{Type: t, RelatedID: id, Time: stamp, Data: data}
}

func render(t *testing.T, s *MemorySurface) string {
	t.Helper()
	out, err := s.Render()
	if err != nil {
		t.Fatal(err)
	}
	return out
}

const scenarioPage = `<!DOCTYPE html><html><head></head><body><div>hello</div></body></html>`

func TestMountRestoresScroll(t *testing.T) {
	head, snap := recorded(t, nil, "ctx-a", scenarioPage, 120)
	if snap.ScrollLeft != 0 || snap.ScrollTop != 120 {
		t.Fatalf("snapshot offsets: (%d,%d)", snap.ScrollLeft, snap.ScrollTop)
	}

	s := NewMemorySurface()
	c := NewContainer(s)
	if err := c.Mount(head, snap); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	left, top, _ := s.ScrollOffsets()
	if left != 0 || top != 120 {
		t.Errorf("surface scroll: got (%d,%d), want (0,120)", left, top)
	}
	if w, h := s.Size(); w != 800 || h != 600 {
		t.Errorf("surface size: got %dx%d", w, h)
	}
	if !s.ScrollingDisabled() {
		t.Error("scrolling not disabled")
	}

	out := render(t, s)
	if !strings.HasPrefix(out, "<!DOCTYPE html>") {
		t.Errorf("doctype lost: %.40s", out)
	}
	if !strings.Contains(out, "<head><style>") {
		t.Errorf("baseline style is not the first head child: %s", out)
	}
	if !strings.Contains(out, "<div>hello</div>") {
		t.Errorf("content not mounted: %s", out)
	}
	if strings.Count(out, "<html") != 1 {
		t.Errorf("skeleton root not replaced: %s", out)
	}
}

func TestApplyDOMChange(t *testing.T) {
	ids := event.NewIDSource()
	head, snap := recorded(t, ids, "ctx-a", `<html><head></head><body><div id="d"><p>old</p><i>t</i></div></body></html>`, 0)
	s := NewMemorySurface()
	c := NewContainer(s)
	if err := c.Mount(head, snap); err != nil {
		t.Fatal(err)
	}

	div, p, i := vnodeByTag(snap.Tree, "div"), vnodeByTag(snap.Tree, "p"), vnodeByTag(snap.Tree, "i")
	text := i.Children[0]
	span := &event.VNode{ID: ids.Next(), Type: event.ElementNode, Tag: "span",
		Children: []*event.VNode{{ID: ids.Next(), Type: event.TextNode, Value: "new"}}}

	change := &event.DOMChange{Ops: []event.DOMOp{
		{Remove: &event.RemovedNode{Parent: div.ID, ID: p.ID}},
		{Add: &event.AddedNode{Parent: div.ID, Next: i.ID, Node: span}},
		{Attr: &event.AttrChange{ID: div.ID, Key: "class", Value: "x"}},
		{Attr: &event.AttrChange{ID: div.ID, Key: "id", Removed: true}},
		{Text: &event.TextChange{ID: text.ID, Value: "u"}},
	}}
	if err := c.Apply(rec(event.TypeDOM, "ctx-a", event.EncodeTime(1), change)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	out := render(t, s)
	if !strings.Contains(out, `<div class="x"><span>new</span><i>u</i></div>`) {
		t.Errorf("rendered: %s", out)
	}
	if _, err := c.Nodes().Lookup(p.ID); !event.IsConversion(err) {
		t.Error("removed node still resolvable")
	}
}

func TestDOMStepsApplyInRecordedOrder(t *testing.T) {
	ids := event.NewIDSource()
	head, snap := recorded(t, ids, "ctx-a", `<html><head></head><body><div><p>old</p></div></body></html>`, 0)
	s := NewMemorySurface()
	c := NewContainer(s)
	if err := c.Mount(head, snap); err != nil {
		t.Fatal(err)
	}
	div, p := vnodeByTag(snap.Tree, "div"), vnodeByTag(snap.Tree, "p")
	span := &event.VNode{ID: ids.Next(), Type: event.ElementNode, Tag: "span"}

	// Insert before a sibling, touch that sibling, then remove it.
	change := &event.DOMChange{Ops: []event.DOMOp{
		{Add: &event.AddedNode{Parent: div.ID, Next: p.ID, Node: span}},
		{Attr: &event.AttrChange{ID: p.ID, Key: "class", Value: "leaving"}},
		{Text: &event.TextChange{ID: p.Children[0].ID, Value: "bye"}},
		{Remove: &event.RemovedNode{Parent: div.ID, ID: p.ID}},
	}}
	if err := c.Apply(rec(event.TypeDOM, "ctx-a", event.EncodeTime(1), change)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out := render(t, s); !strings.Contains(out, `<div><span></span></div>`) {
		t.Errorf("rendered: %s", out)
	}
}

func TestFailedDOMRecordRollsBack(t *testing.T) {
	ids := event.NewIDSource()
	head, snap := recorded(t, ids, "ctx-a", `<html><head></head><body><div title="t"><p>old</p></div></body></html>`, 0)
	s := NewMemorySurface()
	c := NewContainer(s)
	if err := c.Mount(head, snap); err != nil {
		t.Fatal(err)
	}
	before := render(t, s)
	bound := c.Nodes().Len()
	commits := s.Commits()

	div, p := vnodeByTag(snap.Tree, "div"), vnodeByTag(snap.Tree, "p")
	text := p.Children[0]
	spanID := ids.Next()
	change := &event.DOMChange{Ops: []event.DOMOp{
		{Text: &event.TextChange{ID: text.ID, Value: "new"}},
		{Remove: &event.RemovedNode{Parent: div.ID, ID: p.ID}},
		{Attr: &event.AttrChange{ID: div.ID, Key: "title", Removed: true}},
		{Add: &event.AddedNode{Parent: div.ID, Node: &event.VNode{ID: spanID, Type: event.ElementNode, Tag: "span"}}},
		{Attr: &event.AttrChange{ID: 9999, Key: "class", Value: "x"}},
	}}
	err := c.Apply(rec(event.TypeDOM, "ctx-a", event.EncodeTime(1), change))
	if !event.IsConversion(err) || !errors.Is(err, event.ErrUnknownNode) {
		t.Fatalf("got %v, want ConversionError(unknown node)", err)
	}

	if after := render(t, s); after != before {
		t.Errorf("tree changed by a rejected record:\nbefore %s\nafter  %s", before, after)
	}
	if got := c.Nodes().Len(); got != bound {
		t.Errorf("bindings: got %d, want %d", got, bound)
	}
	if _, err := c.Nodes().Lookup(p.ID); err != nil {
		t.Errorf("removed node not rebound: %v", err)
	}
	if _, err := c.Nodes().Lookup(spanID); err == nil {
		t.Error("added node still bound")
	}
	if s.Commits() != commits {
		t.Error("rejected record was committed")
	}

	// The context stays usable after the rollback.
	ok := &event.DOMChange{Ops: []event.DOMOp{{Remove: &event.RemovedNode{Parent: div.ID, ID: p.ID}}}}
	if err := c.Apply(rec(event.TypeDOM, "ctx-a", event.EncodeTime(2), ok)); err != nil {
		t.Fatalf("Apply after rollback: %v", err)
	}
}

func TestPartialAddedSubtreeUnbound(t *testing.T) {
	ids := event.NewIDSource()
	head, snap := recorded(t, ids, "ctx-a", scenarioPage, 0)
	c := NewContainer(NewMemorySurface())
	if err := c.Mount(head, snap); err != nil {
		t.Fatal(err)
	}
	bound := c.Nodes().Len()
	div := vnodeByTag(snap.Tree, "div")

	okID := ids.Next()
	bad := &event.VNode{ID: ids.Next(), Type: event.ElementNode, Tag: "ul", Children: []*event.VNode{
		{ID: okID, Type: event.ElementNode, Tag: "li"},
		{ID: div.ID, Type: event.ElementNode, Tag: "li"},
	}}
	change := &event.DOMChange{Ops: []event.DOMOp{{Add: &event.AddedNode{Parent: div.ID, Node: bad}}}}
	if err := c.Apply(rec(event.TypeDOM, "ctx-a", event.EncodeTime(1), change)); !errors.Is(err, event.ErrDuplicateNode) {
		t.Fatalf("got %v, want ErrDuplicateNode", err)
	}
	if got := c.Nodes().Len(); got != bound {
		t.Errorf("bindings: got %d, want %d", got, bound)
	}
	if _, err := c.Nodes().Lookup(okID); err == nil {
		t.Error("partially built subtree left a binding")
	}
}

func TestCrossContextRejected(t *testing.T) {
	ids := event.NewIDSource()
	headA, snapA := recorded(t, ids, "ctx-a", scenarioPage, 0)
	headB, snapB := recorded(t, ids, "ctx-b", scenarioPage, 0)

	p := NewPlayer(MemoryFactory)
	for _, r := range []event.RecordData{
		rec(event.TypeHead, "ctx-a", event.EncodeTime(0), headA),
		rec(event.TypeSnapshot, "ctx-a", event.EncodeTime(0), snapA),
		rec(event.TypeHead, "ctx-b", event.EncodeTime(0), headB),
		rec(event.TypeSnapshot, "ctx-b", event.EncodeTime(0), snapB),
	} {
		if err := p.Feed(r); err != nil {
			t.Fatalf("Feed %s: %v", r.Type, err)
		}
	}

	divA := vnodeByTag(snapA.Tree, "div")
	injected := rec(event.TypeDOM, "ctx-b", event.EncodeTime(1),
		&event.DOMChange{Ops: []event.DOMOp{{Attr: &event.AttrChange{ID: divA.ID, Key: "class", Value: "evil"}}}})
	err := p.Feed(injected)
	if !event.IsConversion(err) || !errors.Is(err, event.ErrUnknownNode) {
		t.Fatalf("got %v, want ConversionError(unknown node)", err)
	}

	b, _ := p.Container("ctx-b")
	if strings.Contains(render(t, b.Surface().(*MemorySurface)), "evil") {
		t.Error("foreign identifier resolved in ctx-b")
	}

	if err := p.Feed(rec(event.TypeMouse, "ctx-zzz", event.EncodeTime(1), &event.Mouse{})); !errors.Is(err, ErrUnknownContext) {
		t.Errorf("unknown context: got %v", err)
	}
	if got := p.Contexts(); len(got) != 2 || got[0] != "ctx-a" {
		t.Errorf("Contexts: %v", got)
	}
}

func TestContainerRejectsForeignRecord(t *testing.T) {
	head, snap := recorded(t, nil, "ctx-a", scenarioPage, 0)
	c := NewContainer(NewMemorySurface())
	if err := c.Apply(rec(event.TypeMouse, "ctx-a", event.EncodeTime(0), &event.Mouse{})); !errors.Is(err, ErrNotMounted) {
		t.Errorf("before mount: got %v", err)
	}
	if err := c.Mount(head, snap); err != nil {
		t.Fatal(err)
	}
	if err := c.Apply(rec(event.TypeMouse, "ctx-b", event.EncodeTime(0), &event.Mouse{})); !errors.Is(err, ErrForeignContext) {
		t.Errorf("foreign: got %v", err)
	}
}

func TestMissingEventsLeaveValidTree(t *testing.T) {
	ids := event.NewIDSource()
	head, snap := recorded(t, ids, "ctx-a", scenarioPage, 0)
	p := &Payload{Head: head, Snapshot: snap}
	div := vnodeByTag(snap.Tree, "div")

	lost := ids.Next() // added by a record that never arrived
	p.Records = []event.RecordData{
		rec(event.TypeDOM, "ctx-a", event.EncodeTime(1), &event.DOMChange{Ops: []event.DOMOp{{Text: &event.TextChange{ID: lost, Value: "gone"}}}}),
		rec(event.TypeDOM, "ctx-a", event.EncodeTime(2), &event.DOMChange{Ops: []event.DOMOp{{Attr: &event.AttrChange{ID: div.ID, Key: "title", Value: "ok"}}}}),
	}

	s := NewMemorySurface()
	c, err := p.Replay(s)
	if !event.IsConversion(err) {
		t.Fatalf("got %v, want ConversionError", err)
	}
	if c == nil {
		t.Fatal("no container after partial replay")
	}
	out := render(t, s)
	if !strings.Contains(out, `<div title="ok">hello</div>`) {
		t.Errorf("later record not applied: %s", out)
	}
	if _, err := html.Parse(strings.NewReader(out)); err != nil {
		t.Errorf("rendered tree does not parse: %v", err)
	}
}

func TestApplyKeepsArrivalOrder(t *testing.T) {
	head, snap := recorded(t, nil, "ctx-a", scenarioPage, 0)
	s := NewMemorySurface()
	c := NewContainer(s)
	if err := c.Mount(head, snap); err != nil {
		t.Fatal(err)
	}

	c.Apply(rec(event.TypeScroll, "ctx-a", event.EncodeTime(20), &event.Scroll{Top: 10}))
	if err := c.Apply(rec(event.TypeScroll, "ctx-a", event.EncodeTime(10), &event.Scroll{Top: 5})); err != nil {
		t.Fatalf("out-of-order record rejected: %v", err)
	}
	if _, top, _ := s.ScrollOffsets(); top != 5 {
		t.Errorf("scroll: got %d, want last applied 5", top)
	}

	if err := c.Apply(rec(event.TypeTerminate, "ctx-a", event.EncodeTime(30), nil)); err != nil {
		t.Fatal(err)
	}
	if !c.Terminated() {
		t.Error("not terminated")
	}
	if err := c.Apply(rec(event.TypeScroll, "ctx-a", event.EncodeTime(40), &event.Scroll{})); !errors.Is(err, ErrTerminated) {
		t.Errorf("after TERMINATE: got %v", err)
	}
}

func TestApplyInputKinds(t *testing.T) {
	head, snap := recorded(t, nil, "ctx-a",
		`<html><head></head><body><div style="overflow:auto"></div><input type="checkbox"><input><textarea>a</textarea>`+
			`<select><option>x</option><option value="y">Y</option></select></body></html>`, 0)
	s := NewMemorySurface()
	c := NewContainer(s)
	if err := c.Mount(head, snap); err != nil {
		t.Fatal(err)
	}

	var inputs []*event.VNode
	snap.Tree.Walk(func(n *event.VNode) bool {
		if n.Tag == "input" {
			inputs = append(inputs, n)
		}
		return true
	})
	div := vnodeByTag(snap.Tree, "div")
	stamp := event.EncodeTime(1)
	for _, r := range []event.RecordData{
		rec(event.TypeForm, "ctx-a", stamp, &event.FormValue{ID: inputs[0].ID, Kind: event.FormChange, Checked: true}),
		rec(event.TypeForm, "ctx-a", stamp, &event.FormValue{ID: inputs[1].ID, Kind: event.FormInput, Value: "typed"}),
		rec(event.TypeForm, "ctx-a", stamp, &event.FormValue{ID: vnodeByTag(snap.Tree, "textarea").ID, Value: "long"}),
		rec(event.TypeForm, "ctx-a", stamp, &event.FormValue{ID: vnodeByTag(snap.Tree, "select").ID, Kind: event.FormChange, Value: "y"}),
		rec(event.TypeScroll, "ctx-a", stamp, &event.Scroll{ID: div.ID, Left: 3, Top: 4}),
		rec(event.TypeWindow, "ctx-a", stamp, &event.Window{Width: 320, Height: 480}),
		rec(event.TypeMouse, "ctx-a", stamp, &event.Mouse{Kind: event.MouseClick, X: 7, Y: 8}),
		rec(event.TypeAudio, "ctx-a", stamp, &event.Audio{Encoding: "pcm"}),
	} {
		if err := c.Apply(r); err != nil {
			t.Fatalf("Apply %s: %v", r.Type, err)
		}
	}

	out := render(t, s)
	for _, want := range []string{
		`<input type="checkbox" checked=""/>`,
		`<input value="typed"/>`,
		`<textarea>long</textarea>`,
		`<option value="y" selected="">Y</option>`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}
	divNode, _ := c.Nodes().Lookup(div.ID)
	if l, tp, ok := s.ElementScroll(divNode); !ok || l != 3 || tp != 4 {
		t.Errorf("element scroll: (%d,%d,%v)", l, tp, ok)
	}
	if w, h := s.Size(); w != 320 || h != 480 {
		t.Errorf("resize: %dx%d", w, h)
	}
	if x, y, clicks := c.Pointer(); x != 7 || y != 8 || clicks != 1 {
		t.Errorf("pointer: (%d,%d) clicks=%d", x, y, clicks)
	}
}

func TestDoctypeDeclaration(t *testing.T) {
	tests := []struct {
		in   event.Doctype
		want string
	}{
		{event.Doctype{Name: "html"}, "<!DOCTYPE html>"},
		{event.Doctype{}, "<!DOCTYPE html>"},
		{event.Doctype{Name: "html", PublicID: "-//W3C//DTD XHTML 1.0 Strict//EN", SystemID: "http://www.w3.org/TR/xhtml1/DTD/xhtml1-strict.dtd"},
			`<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Strict//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-strict.dtd">`},
		{event.Doctype{Name: "html", SystemID: "about:legacy-compat"}, `<!DOCTYPE html SYSTEM "about:legacy-compat">`},
	}
	for _, tt := range tests {
		if got := DoctypeDeclaration(tt.in); got != tt.want {
			t.Errorf("DoctypeDeclaration(%+v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPayloadFromRecordLog(t *testing.T) {
	ids := event.NewIDSource()
	headA, snapA := recorded(t, ids, "ctx-a", scenarioPage, 120)
	headB, snapB := recorded(t, ids, "ctx-b", scenarioPage, 0)
	log := []event.RecordData{
		rec(event.TypeHead, "ctx-a", event.EncodeTime(0), headA),
		rec(event.TypeSnapshot, "ctx-a", event.EncodeTime(0), snapA),
		rec(event.TypeHead, "ctx-b", event.EncodeTime(0), headB),
		rec(event.TypeSnapshot, "ctx-b", event.EncodeTime(0), snapB),
		rec(event.TypeScroll, "ctx-a", event.EncodeTime(1), &event.Scroll{Top: 30}),
		rec(event.TypeTerminate, "ctx-a", event.EncodeTime(2), nil),
	}

	p, err := BuildPayload(log, "ctx-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Records) != 2 || p.Snapshot.ScrollTop != 120 {
		t.Fatalf("payload: %d records, scrollTop %d", len(p.Records), p.Snapshot.ScrollTop)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	var back Payload
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	s := NewMemorySurface()
	c, err := back.Replay(s)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if _, top, _ := s.ScrollOffsets(); top != 30 || !c.Terminated() {
		t.Errorf("after replay: top=%d terminated=%v", top, c.Terminated())
	}

	if _, err := BuildPayload(log, "ctx-missing"); !errors.Is(err, ErrUnknownContext) {
		t.Errorf("missing context: got %v", err)
	}
}
