// Package snapshot produces the initial full-state virtual tree of a
// document context.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domreplay/event"
)

// ErrInaccessible is returned by a Source whose content the capturing
// process cannot read (foreign origin, detached frame).
var ErrInaccessible = errors.New("document context is not accessible")

// State is the live document together with its scroll offsets, read in one
// consistent step.
type State struct {
	Root       *html.Node // document node or document element
	ScrollLeft int
	ScrollTop  int
}

// Source exposes a document context for capture. ReadState must not let a
// watcher-driven mutation land between reading the tree and the offsets.
// A Source whose tree changes on another goroutine also implements
// sync.Locker; Capture then holds the lock until the tree is converted.
type Source interface {
	ReadState(ctx context.Context) (State, error)
}

// Result is a captured baseline.
type Result struct {
	Tree       *event.VNode
	ScrollLeft int
	ScrollTop  int
}

// Record wraps the result as a SNAPSHOT payload.
func (r *Result) Record() *event.Snapshot {
	return &event.Snapshot{Tree: r.Tree, ScrollLeft: r.ScrollLeft, ScrollTop: r.ScrollTop}
}

// CaptureError means the context could not be captured. The caller skips
// the context and keeps the session running.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string { return "snapshot: capture: " + e.Err.Error() }
func (e *CaptureError) Unwrap() error { return e.Err }

// Capture walks the document element of src once, binding every node in
// store. The store should be fresh for the context: every node gets an
// identifier the session has not used before.
func Capture(ctx context.Context, src Source, store *event.NodeStore) (*Result, error) {
	if l, ok := src.(sync.Locker); ok {
		l.Lock()
		defer l.Unlock()
	}
	st, err := src.ReadState(ctx)
	if err != nil {
		return nil, &CaptureError{Err: err}
	}
	root := event.DocumentElement(st.Root)
	if root == nil {
		return nil, &CaptureError{Err: fmt.Errorf("%w: no document element", ErrInaccessible)}
	}

	tree, err := event.ToVirtual(root, store)
	if err != nil {
		return nil, &CaptureError{Err: err}
	}
	if dup, ok := firstDuplicate(tree); ok {
		return nil, &CaptureError{Err: &event.ConversionError{Op: "capture", ID: dup, Err: event.ErrDuplicateNode}}
	}

	return &Result{Tree: tree, ScrollLeft: st.ScrollLeft, ScrollTop: st.ScrollTop}, nil
}

func firstDuplicate(tree *event.VNode) (int, bool) {
	seen := make(map[int]struct{}, 256)
	dup := 0
	tree.Walk(func(n *event.VNode) bool {
		if dup != 0 {
			return false
		}
		if _, ok := seen[n.ID]; ok {
			dup = n.ID
			return false
		}
		seen[n.ID] = struct{}{}
		return true
	})
	return dup, dup != 0
}
