// Package page defines the contract between the engine and a live page.
//
// A Page answers queries with fresh element snapshots and accepts low-level input
// events. Snapshots are never updated in place: observing the page again means
// querying again.
package page

import (
	"context"
	"fmt"
	"strings"
)

// NodeRef identifies a node for the lifetime of the loaded document.
type NodeRef string

type Option struct {
	Value    string `json:"value"`
	Text     string `json:"text"`
	Selected bool   `json:"selected"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Element is a snapshot of one DOM element at query time.
type Element struct {
	Ref      NodeRef           `json:"ref"`
	Tag      string            `json:"tag"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Text     string            `json:"text"`
	Value    string            `json:"value"`
	Checked  bool              `json:"checked,omitempty"`
	Visible  bool              `json:"visible"`
	Enabled  bool              `json:"enabled"`
	ReadOnly bool              `json:"readOnly,omitempty"`
	Multiple bool              `json:"multiple,omitempty"`
	Options  []Option          `json:"options,omitempty"`
}

func (e Element) Attr(name string) (string, bool) {
	v, ok := e.Attrs[name]
	return v, ok
}

// Editable reports whether the element accepts typed text.
func (e Element) Editable() bool {
	switch e.Tag {
	case "textarea":
		return true
	case "input":
		switch strings.ToLower(e.Attrs["type"]) {
		case "checkbox", "radio", "submit", "button", "reset", "file", "image", "hidden":
			return false
		}
		return true
	}
	_, ok := e.Attrs["contenteditable"]
	return ok
}

func (e Element) Checkable() bool {
	if e.Tag != "input" {
		return false
	}
	t := strings.ToLower(e.Attrs["type"])
	return t == "checkbox" || t == "radio"
}

// String renders a short CSS-like description, e.g. <input#firstpassword.form-control>.
func (e Element) String() string {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(e.Tag)
	if id := e.Attrs["id"]; id != "" {
		b.WriteString("#")
		b.WriteString(id)
	}
	if cls := strings.Fields(e.Attrs["class"]); len(cls) > 0 {
		b.WriteString(".")
		b.WriteString(strings.Join(cls, "."))
	}
	b.WriteString(">")
	return b.String()
}

// Query selects elements by CSS selector, optionally narrowed to the first
// deepest element, in document order, whose text contains Text. A non-empty Scope restricts the search to
// descendants of the elements it selects; with an empty Selector the scope
// elements themselves are candidates too.
type Query struct {
	Scope    string `json:"scope,omitempty"`
	Selector string `json:"selector"`
	Text     string `json:"text,omitempty"`
}

func (q Query) String() string {
	var s string
	switch {
	case q.Text == "":
		s = q.Selector
	case q.Selector == "":
		s = fmt.Sprintf("contains(%q)", q.Text)
	default:
		s = fmt.Sprintf("%s contains(%q)", q.Selector, q.Text)
	}
	if q.Scope != "" {
		s = q.Scope + " > " + s
	}
	return s
}

type EventType string

const (
	EventFocus     EventType = "focus"
	EventBlur      EventType = "blur"
	EventKeyDown   EventType = "keydown"
	EventKeyPress  EventType = "keypress"
	EventInput     EventType = "input"
	EventKeyUp     EventType = "keyup"
	EventMouseDown EventType = "mousedown"
	EventMouseUp   EventType = "mouseup"
	EventClick     EventType = "click"
	EventChange    EventType = "change"
	EventSubmit    EventType = "submit"
)

// Event is a low-level input event. Key holds a single character or a named key
// such as "Backspace"; Values holds the option values for a select change.
type Event struct {
	Type   EventType `json:"type"`
	Key    string    `json:"key,omitempty"`
	Values []string  `json:"values,omitempty"`
}

// Named keys understood by page implementations.
const (
	KeyBackspace = "Backspace"
	KeyEnter     = "Enter"
	KeySelectAll = "SelectAll"
)

// Error is a runtime error raised by the page outside the command flow.
type Error struct {
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
	Line    int    `json:"line,omitempty"`
}

func (e Error) Error() string {
	if e.Source == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s:%d)", e.Message, e.Source, e.Line)
}

// Page is a live document driven by exactly one command at a time.
type Page interface {
	Visit(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	Query(ctx context.Context, q Query) ([]Element, error)
	Dispatch(ctx context.Context, ref NodeRef, ev Event) error
	// ClickAt clicks the document at viewport coordinates.
	ClickAt(ctx context.Context, x, y int) error
	// Errors delivers uncaught page errors. The channel is never closed before Close.
	Errors() <-chan Error
	Close() error
}
