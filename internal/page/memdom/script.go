package memdom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"sea-e2e/internal/page"
)

// Script is the handle a behavior uses to script its document.
//
// Behaviors and listeners run with the page locked, so they may touch nodes
// directly. Work started with Go runs unlocked and must go back through Update
// (or After) before touching the document again. Once the page navigates away
// the script's context is cancelled and its pending updates are dropped.
type Script struct {
	p   *Page
	ctx context.Context
	gen int
	url *url.URL
}

func (s *Script) Context() context.Context { return s.ctx }

func (s *Script) URL() *url.URL {
	u := *s.url
	return &u
}

// On registers a delegated listener: fn runs for events of typ whose
// propagation path crosses an element matching selector.
func (s *Script) On(selector string, typ page.EventType, fn func(*Event)) {
	sel := cascadia.MustCompile(selector)
	s.p.listeners = append(s.p.listeners, listener{sel: sel, typ: typ, fn: fn})
}

func (s *Script) Find(selector string) []*Node {
	sel := cascadia.MustCompile(selector)
	var out []*Node
	for _, n := range sel.MatchAll(s.p.doc) {
		out = append(out, s.p.wrap(n))
	}
	return out
}

// First returns the first match or nil.
func (s *Script) First(selector string) *Node {
	if n := cascadia.MustCompile(selector).MatchFirst(s.p.doc); n != nil {
		return s.p.wrap(n)
	}
	return nil
}

// Throw reports an uncaught error as the browser would for a failing script.
func (s *Script) Throw(message string) {
	s.p.emit(page.Error{Message: message})
}

func (s *Script) ThrowAt(message, source string, line int) {
	s.p.emit(page.Error{Message: message, Source: source, Line: line})
}

// Go runs fn in the background, unlocked.
func (s *Script) Go(fn func(ctx context.Context)) {
	s.p.scripts.Add(1)
	go func() {
		defer s.p.scripts.Done()
		fn(s.ctx)
	}()
}

// Update runs fn with the document locked, unless the page has navigated away.
func (s *Script) Update(fn func()) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.p.gen != s.gen || s.ctx.Err() != nil {
		return
	}
	s.p.guardLocked("timer", fn)
}

// After runs fn with the document locked once d has elapsed.
func (s *Script) After(d time.Duration, fn func()) {
	s.Go(func(ctx context.Context) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		s.Update(fn)
	})
}

// FetchJSON performs a request through the page's client, so interception
// applies, and decodes a JSON response body. Call it from Go, never while
// locked.
func (s *Script) FetchJSON(ctx context.Context, method, rawURL string, body any) (int, any, error) {
	u, err := s.URL().Parse(rawURL)
	if err != nil {
		return 0, nil, fmt.Errorf("parse url: %w", err)
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("json marshal: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return resp.StatusCode, nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return resp.StatusCode, string(raw), fmt.Errorf("decode body: %w", err)
	}
	return resp.StatusCode, v, nil
}

// ---- Nodes ----

// Node is a scripted view of a document element.
type Node struct {
	p *Page
	n *html.Node
}

func (p *Page) wrap(n *html.Node) *Node {
	if n == nil {
		return nil
	}
	return &Node{p: p, n: n}
}

func (n *Node) Tag() string { return n.n.Data }

func (n *Node) Attr(name string) string {
	v, _ := attr(n.n, name)
	return v
}

func (n *Node) HasAttr(name string) bool    { return hasAttr(n.n, name) }
func (n *Node) SetAttr(name, value string)  { setAttr(n.n, name, value) }
func (n *Node) RemoveAttr(name string)      { removeAttr(n.n, name) }
func (n *Node) Text() string                { return textContent(n.n) }
func (n *Node) Value() string               { return n.p.valueOf(n.n) }
func (n *Node) SetValue(v string)           { n.p.setValue(n.n, v) }
func (n *Node) Checked() bool               { return checked(n.n) }
func (n *Node) SetChecked(on bool)          { setChecked(n.n, on) }
func (n *Node) Visible() bool               { return visible(n.n) }
func (n *Node) Same(other *Node) bool       { return other != nil && n.n == other.n }
func (n *Node) SelectedValues() []string    { return selectedValues(n.n) }
func (n *Node) SetSelected(values []string) { setSelected(n.n, values) }

func (n *Node) Show() { removeAttr(n.n, "hidden") }
func (n *Node) Hide() { setAttr(n.n, "hidden", "") }

func (n *Node) SetEnabled(on bool) {
	if on {
		removeAttr(n.n, "disabled")
	} else {
		setAttr(n.n, "disabled", "")
	}
}

func (n *Node) HasClass(class string) bool {
	for _, c := range strings.Fields(n.Attr("class")) {
		if c == class {
			return true
		}
	}
	return false
}

func (n *Node) AddClass(class string) {
	if n.HasClass(class) {
		return
	}
	n.SetAttr("class", strings.TrimSpace(n.Attr("class")+" "+class))
}

func (n *Node) RemoveClass(class string) {
	var keep []string
	for _, c := range strings.Fields(n.Attr("class")) {
		if c != class {
			keep = append(keep, c)
		}
	}
	n.SetAttr("class", strings.Join(keep, " "))
}

// Closest returns the nearest ancestor-or-self matching selector, or nil.
func (n *Node) Closest(selector string) *Node {
	sel := cascadia.MustCompile(selector)
	for _, a := range ancestorsOrSelf(n.n) {
		if sel.Match(a) {
			return n.p.wrap(a)
		}
	}
	return nil
}

func (n *Node) Find(selector string) []*Node {
	var out []*Node
	for _, m := range cascadia.MustCompile(selector).MatchAll(n.n) {
		if m != n.n {
			out = append(out, n.p.wrap(m))
		}
	}
	return out
}

// SetText replaces the children with a single text node.
func (n *Node) SetText(text string) {
	removeChildren(n.n)
	n.n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	delete(n.p.values, n.n)
}

// SetHTML replaces the children with parsed markup.
func (n *Node) SetHTML(markup string) error {
	removeChildren(n.n)
	return n.AppendHTML(markup)
}

func (n *Node) AppendHTML(markup string) error {
	nodes, err := html.ParseFragment(strings.NewReader(markup), n.n)
	if err != nil {
		return fmt.Errorf("parse fragment: %w", err)
	}
	for _, c := range nodes {
		n.n.AppendChild(c)
	}
	return nil
}

func (n *Node) Remove() {
	if n.n.Parent != nil {
		n.n.Parent.RemoveChild(n.n)
	}
}
