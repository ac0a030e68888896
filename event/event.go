// Package event defines the record/replay contract shared by the recorder and
// the replay engine: the record kinds, their payloads, the virtual tree and
// the conversion between a live x/net/html tree and its virtual form.
//
// Any consumer (storage, transmission, replay) imports this package to read
// the stream. Values are immutable once emitted.
package event

import (
	"encoding/json"
	"fmt"
)

// RecordType is the kind of a RecordData.
type RecordType string

const (
	TypeHead      RecordType = "HEAD"      // document metadata, first event of a context
	TypeSnapshot  RecordType = "SNAPSHOT"  // full virtual tree + scroll offsets
	TypeDOM       RecordType = "DOM"       // structural mutation batch
	TypeMouse     RecordType = "MOUSE"     // pointer move / click
	TypeScroll    RecordType = "SCROLL"    // document or element scroll
	TypeForm      RecordType = "FORM_EL"   // form control value change
	TypeWindow    RecordType = "WINDOW"    // viewport resize
	TypeAudio     RecordType = "AUDIO"     // opaque audio chunk
	TypeTerminate RecordType = "TERMINATE" // last event of a context, data is null
)

// Incremental reports whether records of this type are emitted by watchers
// after the HEAD/SNAPSHOT baseline.
func (t RecordType) Incremental() bool {
	switch t {
	case TypeDOM, TypeMouse, TypeScroll, TypeForm, TypeWindow, TypeAudio:
		return true
	}
	return false
}

// Known reports whether t is one of the defined kinds.
func (t RecordType) Known() bool {
	return t.Incremental() || t == TypeHead || t == TypeSnapshot || t == TypeTerminate
}

// RecordData is one event of the stream. Data holds the payload matching
// Type (a pointer to Head, Snapshot, DOMChange, ...), nil for TERMINATE.
type RecordData struct {
	Type      RecordType `json:"type"`
	Data      any        `json:"data"`
	RelatedID string     `json:"relatedId"`
	Time      string     `json:"time"`
}

// Doctype is the document type declaration captured once per context.
type Doctype struct {
	Name     string `json:"name"`
	PublicID string `json:"publicId"`
	SystemID string `json:"systemId"`
}

// Head is the payload of a HEAD record.
type Head struct {
	Doctype   Doctype `json:"doctype"`
	Href      string  `json:"href"`
	BaseHref  string  `json:"baseHref,omitempty"`
	Title     string  `json:"title,omitempty"`
	UserAgent string  `json:"userAgent,omitempty"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	RelatedID string  `json:"relatedId"`
	ParentID  string  `json:"parentId,omitempty"` // owning context for frames
	Frame     bool    `json:"frame,omitempty"`
}

// Snapshot is the payload of a SNAPSHOT record.
type Snapshot struct {
	Tree       *VNode `json:"vNode"`
	ScrollLeft int    `json:"scrollLeft"`
	ScrollTop  int    `json:"scrollTop"`
}

// AddedNode describes a subtree inserted under Parent, before Next (0 = append).
type AddedNode struct {
	Parent int    `json:"parentId"`
	Next   int    `json:"nextId,omitempty"`
	Node   *VNode `json:"node"`
}

// RemovedNode describes a subtree detached from Parent.
type RemovedNode struct {
	Parent int `json:"parentId"`
	ID     int `json:"id"`
}

// AttrChange sets or removes one attribute.
type AttrChange struct {
	ID      int    `json:"id"`
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

// TextChange replaces the data of a text or comment node.
type TextChange struct {
	ID    int    `json:"id"`
	Value string `json:"value"`
}

// DOMOp is one step of a DOM record. Exactly one field is set.
type DOMOp struct {
	Remove *RemovedNode `json:"remove,omitempty"`
	Add    *AddedNode   `json:"add,omitempty"`
	Attr   *AttrChange  `json:"attr,omitempty"`
	Text   *TextChange  `json:"text,omitempty"`
}

// Kind names the set field, or "" when the op is empty or ambiguous.
func (o DOMOp) Kind() string {
	kind, n := "", 0
	if o.Remove != nil {
		kind, n = "remove", n+1
	}
	if o.Add != nil {
		kind, n = "add", n+1
	}
	if o.Attr != nil {
		kind, n = "attr", n+1
	}
	if o.Text != nil {
		kind, n = "text", n+1
	}
	if n != 1 {
		return ""
	}
	return kind
}

// DOMChange is the payload of a DOM record: the steps of one mutation batch
// in the order the page performed them. Replay applies them in that order.
type DOMChange struct {
	Ops []DOMOp `json:"ops"`
}

// Empty reports whether the change carries nothing to apply.
func (d *DOMChange) Empty() bool { return len(d.Ops) == 0 }

// Removed returns the removal steps.
func (d *DOMChange) Removed() []RemovedNode {
	var out []RemovedNode
	for _, o := range d.Ops {
		if o.Remove != nil {
			out = append(out, *o.Remove)
		}
	}
	return out
}

// Added returns the insertion steps.
func (d *DOMChange) Added() []AddedNode {
	var out []AddedNode
	for _, o := range d.Ops {
		if o.Add != nil {
			out = append(out, *o.Add)
		}
	}
	return out
}

// Attrs returns the attribute steps.
func (d *DOMChange) Attrs() []AttrChange {
	var out []AttrChange
	for _, o := range d.Ops {
		if o.Attr != nil {
			out = append(out, *o.Attr)
		}
	}
	return out
}

// Texts returns the character data steps.
func (d *DOMChange) Texts() []TextChange {
	var out []TextChange
	for _, o := range d.Ops {
		if o.Text != nil {
			out = append(out, *o.Text)
		}
	}
	return out
}

// MouseKind distinguishes pointer records.
type MouseKind string

const (
	MouseMove  MouseKind = "move"
	MouseClick MouseKind = "click"
)

// Mouse is the payload of a MOUSE record. ID is the target node (0 if unknown).
type Mouse struct {
	Kind MouseKind `json:"type"`
	ID   int       `json:"id,omitempty"`
	X    int       `json:"x"`
	Y    int       `json:"y"`
}

// Scroll is the payload of a SCROLL record. ID 0 addresses the document.
type Scroll struct {
	ID   int `json:"id,omitempty"`
	Left int `json:"left"`
	Top  int `json:"top"`
}

// FormKind distinguishes form records.
type FormKind string

const (
	FormInput  FormKind = "input"
	FormChange FormKind = "change"
)

// FormValue is the payload of a FORM_EL record.
type FormValue struct {
	ID      int      `json:"id"`
	Kind    FormKind `json:"type"`
	Value   string   `json:"value,omitempty"`
	Checked bool     `json:"checked,omitempty"`
}

// Window is the payload of a WINDOW record.
type Window struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Audio is the payload of an AUDIO record. The recorder treats it as opaque.
type Audio struct {
	Encoding string `json:"encoding"`
	Chunk    []byte `json:"chunk"`
}

// UnmarshalJSON decodes the envelope and the payload matching its type.
func (r *RecordData) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type      RecordType      `json:"type"`
		Data      json.RawMessage `json:"data"`
		RelatedID string          `json:"relatedId"`
		Time      string          `json:"time"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.Type = raw.Type
	r.RelatedID = raw.RelatedID
	r.Time = raw.Time
	r.Data = nil

	payload := newPayload(raw.Type)
	if payload == nil {
		if raw.Type == TypeTerminate {
			return nil
		}
		return fmt.Errorf("event: unknown record type %q", raw.Type)
	}
	if len(raw.Data) == 0 || string(raw.Data) == "null" {
		return fmt.Errorf("event: %s record without data", raw.Type)
	}
	if err := json.Unmarshal(raw.Data, payload); err != nil {
		return fmt.Errorf("event: decode %s data: %w", raw.Type, err)
	}
	r.Data = payload
	return nil
}

func newPayload(t RecordType) any {
	switch t {
	case TypeHead:
		return &Head{}
	case TypeSnapshot:
		return &Snapshot{}
	case TypeDOM:
		return &DOMChange{}
	case TypeMouse:
		return &Mouse{}
	case TypeScroll:
		return &Scroll{}
	case TypeForm:
		return &FormValue{}
	case TypeWindow:
		return &Window{}
	case TypeAudio:
		return &Audio{}
	}
	return nil
}

// Validate checks that the payload matches the type. Watchers must only emit
// records that pass.
func (r RecordData) Validate() error {
	if r.RelatedID == "" {
		return fmt.Errorf("event: %s record without relatedId", r.Type)
	}
	if _, err := DecodeTime(r.Time); err != nil {
		return err
	}
	ok := false
	switch r.Type {
	case TypeHead:
		_, ok = r.Data.(*Head)
	case TypeSnapshot:
		var s *Snapshot
		s, ok = r.Data.(*Snapshot)
		ok = ok && s != nil && s.Tree != nil
	case TypeDOM:
		_, ok = r.Data.(*DOMChange)
	case TypeMouse:
		_, ok = r.Data.(*Mouse)
	case TypeScroll:
		_, ok = r.Data.(*Scroll)
	case TypeForm:
		_, ok = r.Data.(*FormValue)
	case TypeWindow:
		_, ok = r.Data.(*Window)
	case TypeAudio:
		_, ok = r.Data.(*Audio)
	case TypeTerminate:
		ok = r.Data == nil
	default:
		return fmt.Errorf("event: unknown record type %q", r.Type)
	}
	if !ok {
		return fmt.Errorf("event: %s record with %T payload", r.Type, r.Data)
	}
	return nil
}

// HeadOf returns the HEAD payload of r, or nil.
func HeadOf(r RecordData) *Head {
	h, _ := r.Data.(*Head)
	return h
}

// SnapshotOf returns the SNAPSHOT payload of r, or nil.
func SnapshotOf(r RecordData) *Snapshot {
	s, _ := r.Data.(*Snapshot)
	return s
}
