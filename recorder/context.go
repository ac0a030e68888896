package recorder

import (
	"context"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domreplay/event"
	"github.com/hazyhaar/domreplay/snapshot"
)

// Context is one document context: the main page or a nested frame. The
// live tree it exposes through ReadState is the tree that host events refer
// to, so watchers can resolve identifiers against the capture's NodeStore.
type Context interface {
	snapshot.Source

	// Head assembles the metadata of the HEAD record. RelatedID, ParentID
	// and Frame are filled by the recorder.
	Head(ctx context.Context) (event.Head, error)

	// Frames lists the child frames currently present in the document.
	Frames(ctx context.Context) ([]Frame, error)

	// Listen subscribes fn to host events of one kind. The returned
	// function removes the subscription; it must not block on fn.
	Listen(kind EventKind, fn func(HostEvent)) (cancel func())
}

// Frame is a child frame discovered in a document context.
type Frame interface {
	// Src is the frame's source attribute.
	Src() string
	// Accessible is false for foreign-origin frames and frames without src.
	Accessible() bool
	// Terminated is true once the frame has been detached.
	Terminated() bool
	// Loaded is closed when the frame has finished loading. A frame that
	// never loads never closes it.
	Loaded() <-chan struct{}
	// Context returns the frame's document context. Valid after Loaded.
	Context() Context
}

// EventKind names a category of raw host notifications.
type EventKind string

const (
	EventMutation   EventKind = "mutation"
	EventMouseMove  EventKind = "mousemove"
	EventClick      EventKind = "click"
	EventScroll     EventKind = "scroll"
	EventInput      EventKind = "input"
	EventChange     EventKind = "change"
	EventResize     EventKind = "resize"
	EventVisibility EventKind = "visibilitychange"
)

// Visibility is the host page visibility.
type Visibility int

const (
	Visible  Visibility = iota
	Hidden              // backgrounded, may come back
	Unloaded            // the page is going away for good
)

func (v Visibility) String() string {
	switch v {
	case Visible:
		return "visible"
	case Hidden:
		return "hidden"
	case Unloaded:
		return "unloaded"
	}
	return "unknown"
}

// MutationKind follows MutationObserver record types.
type MutationKind int

const (
	ChildList MutationKind = iota
	Attributes
	CharacterData
)

// Mutation is one raw structural change. The host has already applied it
// to the live tree: added nodes are attached, removed nodes are detached.
type Mutation struct {
	Kind    MutationKind
	Target  *html.Node   // parent for ChildList, the changed node otherwise
	Added   []*html.Node // ChildList, contiguous, in document order
	Removed []*html.Node // ChildList
	Next    *html.Node   // ChildList: sibling following the added nodes, nil = end
	Attr    string       // Attributes: qualified attribute name
}

// HostEvent is a raw notification from the live document. Watchers turn it
// into RecordData; it never leaves the recorder.
type HostEvent struct {
	Kind       EventKind
	Target     *html.Node // nil addresses the document
	X, Y       int
	Left, Top  int
	Value      string
	Checked    bool
	Width      int
	Height     int
	Visibility Visibility
	Mutations  []Mutation
}
