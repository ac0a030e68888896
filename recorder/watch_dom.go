package recorder

import (
	"context"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domreplay/event"
)

// DOMWatcher turns structural mutations into DOM records.
type DOMWatcher struct{}

func (DOMWatcher) Name() string { return "dom" }

func (DOMWatcher) Watch(_ context.Context, o WatcherOptions) error {
	listen(o, func(ev HostEvent) {
		change := buildDOMChange(o, ev.Mutations)
		if change.Empty() {
			return
		}
		o.Emit(o.Record(event.TypeDOM, change))
	}, EventMutation)
	return nil
}

// buildDOMChange resolves live nodes to identifiers, one step per change in
// batch order. Nodes outside the captured tree (script contents, untracked
// subtrees) are skipped. Added subtrees are serialized in their current
// state; a node already tracked is part of an earlier step and is skipped.
func buildDOMChange(o WatcherOptions, muts []Mutation) *event.DOMChange {
	change := &event.DOMChange{}
	for _, m := range muts {
		switch m.Kind {
		case ChildList:
			parent, ok := o.Nodes.IDOf(m.Target)
			if !ok {
				o.Logger.Debug("recorder: mutation on untracked parent", "related_id", o.RelatedID)
				continue
			}
			for _, n := range m.Removed {
				id, ok := o.Nodes.IDOf(n)
				if !ok {
					continue
				}
				change.Ops = append(change.Ops, event.DOMOp{Remove: &event.RemovedNode{Parent: parent, ID: id}})
				o.Nodes.Forget(n)
			}
			for _, n := range m.Added {
				if n.Parent != m.Target {
					// moved again before this record was delivered
					continue
				}
				if _, ok := o.Nodes.IDOf(n); ok {
					continue
				}
				v, err := event.ToVirtual(n, o.Nodes)
				if err != nil {
					o.Logger.Warn("recorder: convert added node", "related_id", o.RelatedID, "error", err)
					continue
				}
				change.Ops = append(change.Ops, event.DOMOp{Add: &event.AddedNode{Parent: parent, Next: nextTracked(o, m.Next), Node: v}})
			}

		case Attributes:
			id, ok := o.Nodes.IDOf(m.Target)
			if !ok || m.Target.Type != html.ElementNode {
				continue
			}
			at := &event.AttrChange{ID: id, Key: m.Attr}
			if val, ok := event.Attr(m.Target, m.Attr); ok {
				at.Value = val
			} else {
				at.Removed = true
			}
			change.Ops = append(change.Ops, event.DOMOp{Attr: at})

		case CharacterData:
			id, ok := o.Nodes.IDOf(m.Target)
			if !ok {
				continue
			}
			change.Ops = append(change.Ops, event.DOMOp{Text: &event.TextChange{ID: id, Value: m.Target.Data}})
		}
	}
	return change
}

// nextTracked returns the identifier an insertion is anchored before, 0 to
// append. An untracked sibling cannot be addressed on replay, so the node is
// appended instead.
func nextTracked(o WatcherOptions, next *html.Node) int {
	if next == nil {
		return 0
	}
	id, _ := o.Nodes.IDOf(next)
	return id
}
