package recorder

import (
	"context"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domreplay/event"
)

// MouseWatcher records pointer moves and clicks.
type MouseWatcher struct{}

func (MouseWatcher) Name() string { return "mouse" }

func (MouseWatcher) Watch(_ context.Context, o WatcherOptions) error {
	listen(o, func(ev HostEvent) {
		kind := event.MouseMove
		if ev.Kind == EventClick {
			kind = event.MouseClick
		}
		id, _ := targetID(o, ev.Target)
		o.Emit(o.Record(event.TypeMouse, &event.Mouse{Kind: kind, ID: id, X: ev.X, Y: ev.Y}))
	}, EventMouseMove, EventClick)
	return nil
}

// ScrollWatcher records document and element scrolling.
type ScrollWatcher struct{}

func (ScrollWatcher) Name() string { return "scroll" }

func (ScrollWatcher) Watch(_ context.Context, o WatcherOptions) error {
	listen(o, func(ev HostEvent) {
		id, ok := targetID(o, ev.Target)
		if !ok {
			return
		}
		o.Emit(o.Record(event.TypeScroll, &event.Scroll{ID: id, Left: ev.Left, Top: ev.Top}))
	}, EventScroll)
	return nil
}

// FormWatcher records value changes of form controls.
type FormWatcher struct{}

func (FormWatcher) Name() string { return "form" }

func (FormWatcher) Watch(_ context.Context, o WatcherOptions) error {
	listen(o, func(ev HostEvent) {
		if ev.Target == nil || ev.Target.Type != html.ElementNode {
			return
		}
		id, ok := o.Nodes.IDOf(ev.Target)
		if !ok {
			return
		}
		kind := event.FormInput
		if ev.Kind == EventChange {
			kind = event.FormChange
		}
		o.Emit(o.Record(event.TypeForm, &event.FormValue{ID: id, Kind: kind, Value: ev.Value, Checked: ev.Checked}))
	}, EventInput, EventChange)
	return nil
}

// WindowWatcher records viewport resizes of the main document.
type WindowWatcher struct{}

func (WindowWatcher) Name() string { return "window" }

func (WindowWatcher) Watch(_ context.Context, o WatcherOptions) error {
	if o.Settings.Frame {
		return nil
	}
	listen(o, func(ev HostEvent) {
		o.Emit(o.Record(event.TypeWindow, &event.Window{Width: ev.Width, Height: ev.Height}))
	}, EventResize)
	return nil
}

// targetID resolves an event target. A nil target is the document itself
// and maps to 0.
func targetID(o WatcherOptions, n *html.Node) (int, bool) {
	if n == nil || n.Type == html.DocumentNode {
		return 0, true
	}
	return o.Nodes.IDOf(n)
}
