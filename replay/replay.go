// Package replay rebuilds recorded document contexts. A Container mounts the
// HEAD and SNAPSHOT of one context onto an isolated Surface and then applies
// its incremental records in arrival order. A Player routes a mixed record
// stream to one Container per correlation id.
package replay

import (
	_ "embed"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domreplay/event"
)

// fixedCSS normalizes the replay environment. It is inserted as the first
// child of the replayed head.
//
//go:embed fixed.css
var fixedCSS string

var (
	// ErrNotMounted means a record arrived before its context was mounted.
	ErrNotMounted = errors.New("context not mounted")
	// ErrTerminated means a record arrived after the context's TERMINATE.
	ErrTerminated = errors.New("context terminated")
	// ErrForeignContext means a record was routed to another context.
	ErrForeignContext = errors.New("record belongs to another context")
	// ErrUnknownContext means no HEAD was seen for a correlation id.
	ErrUnknownContext = errors.New("unknown context")
)

// Surface is the isolated rendering target of one replayed context.
type Surface interface {
	// CreateDocument opens an empty document sized to the viewport.
	CreateDocument(width, height int) error
	// WriteDocument writes raw markup, doctype declaration included.
	WriteDocument(markup string) error
	// DisableScrolling stops user scrolling from moving the replay.
	DisableScrolling() error
	// Document returns the document node the engine mutates in place.
	Document() (*html.Node, error)
	// Commit publishes the mutated document.
	Commit() error
	Resize(width, height int) error
	ScrollOffsets() (left, top int, err error)
	SetScroll(left, top int) error
	ScrollElement(n *html.Node, left, top int) error
}

// PointerSurface is implemented by surfaces that can show the pointer.
type PointerSurface interface {
	MovePointer(x, y int) error
	Click(x, y int) error
}

// DoctypeDeclaration renders the declaration of a recorded doctype.
func DoctypeDeclaration(d event.Doctype) string {
	name := d.Name
	if name == "" {
		name = "html"
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE ")
	b.WriteString(name)
	switch {
	case d.PublicID != "":
		b.WriteString(` PUBLIC "` + d.PublicID + `"`)
		if d.SystemID != "" {
			b.WriteString(` "` + d.SystemID + `"`)
		}
	case d.SystemID != "":
		b.WriteString(` SYSTEM "` + d.SystemID + `"`)
	}
	b.WriteString(">")
	return b.String()
}

// skeleton is written after the declaration; its root is replaced on mount.
const skeleton = "<html><head></head><body></body></html>"

// Option configures a Container or a Player.
type Option func(*config)

type config struct {
	logger   *slog.Logger
	appliers map[event.RecordType]Applier
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithApplier overrides the applier of one record type. A nil applier
// ignores the type.
func WithApplier(t event.RecordType, a Applier) Option {
	return func(c *config) { c.appliers[t] = a }
}

func newConfig(opts []Option) config {
	c := config{appliers: defaultAppliers()}
	for _, fn := range opts {
		fn(&c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}
