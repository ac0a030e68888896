package event

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"
)

const samplePage = `<!DOCTYPE html><html lang="en"><head><title>t</title>` +
	`<script>alert(1)</script></head><body class="main"><!-- note -->` +
	`<div id="a" data-x="1">hello <b>world</b></div>` +
	`<svg><a xlink:href="#x"></a></svg><input type="text" value="v"></body></html>`

func parse(t *testing.T, s string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestRoundTripIdempotent(t *testing.T) {
	doc := parse(t, samplePage)
	src := NewIDSource()

	capture := NewNodeStore(src)
	v1, err := ToVirtual(doc, capture)
	if err != nil {
		t.Fatalf("ToVirtual: %v", err)
	}

	replay := NewNodeStore(nil)
	live, err := FromVirtual(v1, replay)
	if err != nil {
		t.Fatalf("FromVirtual: %v", err)
	}

	v2, err := ToVirtual(live, replay)
	if err != nil {
		t.Fatalf("ToVirtual (second): %v", err)
	}
	if !Equal(v1, v2) {
		a, _ := json.Marshal(v1)
		b, _ := json.Marshal(v2)
		t.Fatalf("round trip mismatch:\n%s\n%s", a, b)
	}
}

func TestIdentifiersUnique(t *testing.T) {
	doc := parse(t, samplePage)
	v, err := ToVirtual(doc, NewNodeStore(nil))
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[int]bool)
	for _, id := range v.IDs() {
		if id <= 0 {
			t.Fatalf("non-positive id %d", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
}

func TestIdentifiersNeverReusedAcrossStores(t *testing.T) {
	src := NewIDSource()
	a, _ := ToVirtual(parse(t, "<p>a</p>"), NewNodeStore(src))
	b, _ := ToVirtual(parse(t, "<p>b</p>"), NewNodeStore(src))
	seen := make(map[int]bool)
	for _, id := range append(a.IDs(), b.IDs()...) {
		if seen[id] {
			t.Fatalf("id %d reused within one session", id)
		}
		seen[id] = true
	}
}

func TestScriptContentDropped(t *testing.T) {
	v, err := ToVirtual(parse(t, samplePage), NewNodeStore(nil))
	if err != nil {
		t.Fatal(err)
	}
	v.Walk(func(n *VNode) bool {
		if n.Tag == "script" && len(n.Children) != 0 {
			t.Errorf("script kept %d children", len(n.Children))
		}
		return true
	})
}

func TestForeignAttributePreserved(t *testing.T) {
	doc := parse(t, samplePage)
	store := NewNodeStore(nil)
	v, _ := ToVirtual(doc, store)

	var found bool
	v.Walk(func(n *VNode) bool {
		if n.NS == "svg" && n.Tag == "a" {
			found = n.Attrs["xlink:href"] == "#x"
		}
		return true
	})
	if !found {
		t.Fatal("xlink:href not captured")
	}

	live, err := FromVirtual(v, NewNodeStore(nil))
	if err != nil {
		t.Fatal(err)
	}
	var sb strings.Builder
	if err := html.Render(&sb, live); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sb.String(), `xlink:href="#x"`) {
		t.Errorf("rendered output lost xlink:href: %s", sb.String())
	}
}

func TestLookupUnknownIsConversionError(t *testing.T) {
	s := NewNodeStore(nil)
	_, err := s.Lookup(42)
	if !IsConversion(err) {
		t.Fatalf("Lookup(42): got %v, want ConversionError", err)
	}
	if !errors.Is(err, ErrUnknownNode) {
		t.Errorf("error does not wrap ErrUnknownNode: %v", err)
	}
}

func TestFromVirtualDuplicateID(t *testing.T) {
	v := &VNode{ID: 1, Type: ElementNode, Tag: "div", Children: []*VNode{
		{ID: 2, Type: TextNode, Value: "a"},
		{ID: 2, Type: TextNode, Value: "b"},
	}}
	_, err := FromVirtual(v, NewNodeStore(nil))
	if !errors.Is(err, ErrDuplicateNode) {
		t.Fatalf("got %v, want ErrDuplicateNode", err)
	}
}

func TestFromVirtualFailureLeavesNoBinding(t *testing.T) {
	s := NewNodeStore(nil)
	v := &VNode{ID: 1, Type: ElementNode, Tag: "div", Children: []*VNode{
		{ID: 2, Type: ElementNode, Tag: "p"},
		{ID: 3, Type: TextNode, Value: "x", Children: []*VNode{{ID: 4, Type: TextNode}}},
	}}
	if _, err := FromVirtual(v, s); !IsConversion(err) {
		t.Fatalf("got %v, want ConversionError", err)
	}
	if n := s.Len(); n != 0 {
		t.Errorf("Len after failed FromVirtual: got %d, want 0", n)
	}
}

func TestToVirtualUnsupportedLeavesNoBinding(t *testing.T) {
	s := NewNodeStore(nil)
	div := &html.Node{Type: html.ElementNode, Data: "div"}
	div.AppendChild(&html.Node{Type: html.TextNode, Data: "a"})
	div.AppendChild(&html.Node{Type: html.RawNode, Data: "<x>"})

	_, err := ToVirtual(div, s)
	if !errors.Is(err, ErrUnsupportedNode) {
		t.Fatalf("got %v, want ErrUnsupportedNode", err)
	}
	if n := s.Len(); n != 0 {
		t.Errorf("Len after failed ToVirtual: got %d, want 0", n)
	}

	known := &html.Node{Type: html.ElementNode, Data: "p"}
	id := s.Assign(known)
	known.AppendChild(&html.Node{Type: html.RawNode})
	if _, err := ToVirtual(known, s); err == nil {
		t.Fatal("raw child converted")
	}
	if got, ok := s.IDOf(known); !ok || got != id {
		t.Errorf("known node lost its binding: %d %v", got, ok)
	}
}

func TestDOMChangeKeepsStepOrder(t *testing.T) {
	ch := &DOMChange{Ops: []DOMOp{
		{Add: &AddedNode{Parent: 1, Next: 2, Node: &VNode{ID: 5, Type: ElementNode, Tag: "span"}}},
		{Remove: &RemovedNode{Parent: 1, ID: 2}},
		{Text: &TextChange{ID: 3, Value: "t"}},
	}}
	data, err := json.Marshal(ch)
	if err != nil {
		t.Fatal(err)
	}
	var got DOMChange
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	var kinds []string
	for _, o := range got.Ops {
		kinds = append(kinds, o.Kind())
	}
	if strings.Join(kinds, ",") != "add,remove,text" {
		t.Errorf("step order: %v", kinds)
	}
	if len(got.Added()) != 1 || len(got.Removed()) != 1 || len(got.Attrs()) != 0 {
		t.Errorf("accessors: %+v", got)
	}
	if (DOMOp{}).Kind() != "" || (DOMOp{Attr: &AttrChange{}, Text: &TextChange{}}).Kind() != "" {
		t.Error("empty or ambiguous step has a kind")
	}
}

func TestFromVirtualRejectsZeroID(t *testing.T) {
	_, err := FromVirtual(&VNode{Type: ElementNode, Tag: "p"}, NewNodeStore(nil))
	if !IsConversion(err) {
		t.Fatalf("got %v, want ConversionError", err)
	}
}

func TestForgetSubtree(t *testing.T) {
	doc := parse(t, "<div><p>x</p></div>")
	s := NewNodeStore(nil)
	ToVirtual(doc, s)
	before := s.Len()

	div := DocumentElement(doc).LastChild.FirstChild // html > body > div
	s.Forget(div)
	if got := s.Len(); got != before-3 {
		t.Errorf("Len after Forget: got %d, want %d", got, before-3)
	}
}

func TestDoctypeOf(t *testing.T) {
	doc := parse(t, `<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Strict//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-strict.dtd"><html></html>`)
	d, ok := DoctypeOf(doc)
	if !ok {
		t.Fatal("no doctype")
	}
	if d.Name != "html" || d.PublicID != "-//W3C//DTD XHTML 1.0 Strict//EN" {
		t.Errorf("doctype: got %+v", d)
	}
}

func TestTimeEncoding(t *testing.T) {
	for _, ms := range []int64{0, 1, 63, 64, 1708700000000, 1<<48 - 1} {
		s := EncodeTime(ms)
		if len(s) != 8 {
			t.Fatalf("EncodeTime(%d) = %q: want 8 chars", ms, s)
		}
		got, err := DecodeTime(s)
		if err != nil {
			t.Fatal(err)
		}
		if got != ms {
			t.Errorf("DecodeTime(EncodeTime(%d)) = %d", ms, got)
		}
	}
}

func TestTimeOrderMatchesStringOrder(t *testing.T) {
	prev := EncodeTime(0)
	for ms := int64(1); ms < 5000; ms += 7 {
		cur := EncodeTime(ms)
		if !Less(prev, cur) {
			t.Fatalf("EncodeTime(%d)=%q does not sort after %q", ms, cur, prev)
		}
		prev = cur
	}
	if !Less(EncodeTime(1708700000000), EncodeTime(1708700000001)) {
		t.Error("adjacent milliseconds out of order")
	}
}

func TestClockNonDecreasing(t *testing.T) {
	base := time.UnixMilli(1708700000000)
	steps := []time.Duration{0, 10 * time.Millisecond, -5 * time.Second, 20 * time.Millisecond}
	i := 0
	c := NewClock(func() time.Time {
		d := steps[i%len(steps)]
		i++
		return base.Add(d)
	})
	prev := ""
	for range steps {
		s := c.Stamp()
		if prev != "" && Less(s, prev) {
			t.Fatalf("stamp %q before %q", s, prev)
		}
		prev = s
	}
}

func TestRecordJSONUnion(t *testing.T) {
	records := []RecordData{
		{Type: TypeHead, Data: &Head{Doctype: Doctype{Name: "html"}, Width: 800, Height: 600, RelatedID: "r1"}, RelatedID: "r1", Time: EncodeTime(1)},
		{Type: TypeSnapshot, Data: &Snapshot{Tree: &VNode{ID: 1, Type: ElementNode, Tag: "html"}, ScrollTop: 120}, RelatedID: "r1", Time: EncodeTime(2)},
		{Type: TypeDOM, Data: &DOMChange{Ops: []DOMOp{{Attr: &AttrChange{ID: 1, Key: "class", Value: "x"}}, {Remove: &RemovedNode{Parent: 2, ID: 1}}}}, RelatedID: "r1", Time: EncodeTime(3)},
		{Type: TypeScroll, Data: &Scroll{Top: 10}, RelatedID: "r1", Time: EncodeTime(4)},
		{Type: TypeTerminate, RelatedID: "r1", Time: EncodeTime(5)},
	}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			t.Fatalf("Validate %s: %v", r.Type, err)
		}
		data, err := MarshalRecord(r)
		if err != nil {
			t.Fatal(err)
		}
		got, err := UnmarshalRecord(data)
		if err != nil {
			t.Fatalf("UnmarshalRecord %s: %v", r.Type, err)
		}
		if got.Type != r.Type || got.RelatedID != r.RelatedID || got.Time != r.Time {
			t.Errorf("envelope mismatch: got %+v", got)
		}
		if err := got.Validate(); err != nil {
			t.Errorf("decoded %s does not validate: %v", r.Type, err)
		}
	}
}

func TestTerminateSerialisesNullData(t *testing.T) {
	data, _ := MarshalRecord(RecordData{Type: TypeTerminate, RelatedID: "r", Time: EncodeTime(1)})
	if !strings.Contains(string(data), `"data":null`) {
		t.Errorf("TERMINATE json: %s", data)
	}
}

func TestValidateRejectsMismatchedPayload(t *testing.T) {
	r := RecordData{Type: TypeMouse, Data: &Scroll{}, RelatedID: "r", Time: EncodeTime(1)}
	if err := r.Validate(); err == nil {
		t.Fatal("Validate accepted a SCROLL payload on a MOUSE record")
	}
}

func TestByContextKeepsOrder(t *testing.T) {
	rs := []RecordData{
		{Type: TypeHead, RelatedID: "a"},
		{Type: TypeHead, RelatedID: "b"},
		{Type: TypeSnapshot, RelatedID: "a"},
	}
	groups, order := ByContext(rs)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order: got %v", order)
	}
	if len(groups["a"]) != 2 || groups["a"][1].Type != TypeSnapshot {
		t.Errorf("group a: got %+v", groups["a"])
	}
}
