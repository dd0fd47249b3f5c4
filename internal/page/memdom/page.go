// Package memdom is an in-memory page backend. It parses documents with
// x/net/html, selects with cascadia and emulates page scripts with Go
// behaviors registered per URL pattern. There is no layout or rendering:
// visibility follows the hidden attribute and inline display/visibility styles.
package memdom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"sea-e2e/internal/intercept"
	"sea-e2e/internal/page"
)

var (
	ErrNoDocument = errors.New("no document loaded")
	ErrDetached   = errors.New("node is detached from the document")
)

const errorBuffer = 64

// Behavior emulates the scripts of a page. It runs once per load, after parsing.
type Behavior func(s *Script)

type behavior struct {
	pattern intercept.Pattern
	fn      Behavior
}

type Option func(*Page)

// WithClient sets the HTTP client used for navigation and script fetches,
// normally one built on the interception transport.
func WithClient(c *http.Client) Option {
	return func(p *Page) { p.client = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Page) { p.logger = l }
}

// WithBehavior attaches fn to every document whose URL matches pattern.
func WithBehavior(pattern string, fn Behavior) Option {
	return func(p *Page) {
		pat, err := intercept.NewPattern("GET", pattern)
		if err != nil {
			p.initErr = errors.Join(p.initErr, fmt.Errorf("behavior %q: %w", pattern, err))
			return
		}
		p.behaviors = append(p.behaviors, behavior{pattern: pat, fn: fn})
	}
}

type listener struct {
	sel cascadia.Selector
	typ page.EventType
	fn  func(*Event)
}

// Page is a single in-memory document. It implements page.Page.
type Page struct {
	client    *http.Client
	logger    *slog.Logger
	behaviors []behavior
	initErr   error
	errs      chan page.Error

	mu        sync.Mutex
	doc       *html.Node
	url       *url.URL
	gen       int
	cancel    context.CancelFunc
	scripts   sync.WaitGroup
	listeners []listener
	values    map[*html.Node]string
	refs      map[*html.Node]page.NodeRef
	nodes     map[page.NodeRef]*html.Node
	nextRef   int
	focused   *html.Node
	focusVal  string
	keyHeld   bool
	selectAll map[*html.Node]bool
	closed    bool
}

var _ page.Page = (*Page)(nil)

func New(opts ...Option) (*Page, error) {
	p := &Page{
		client: http.DefaultClient,
		logger: slog.Default(),
		errs:   make(chan page.Error, errorBuffer),
	}
	for _, o := range opts {
		o(p)
	}
	if p.initErr != nil {
		return nil, p.initErr
	}
	p.resetLocked()
	return p, nil
}

func (p *Page) resetLocked() {
	p.listeners = nil
	p.values = map[*html.Node]string{}
	p.refs = map[*html.Node]page.NodeRef{}
	p.nodes = map[page.NodeRef]*html.Node{}
	p.selectAll = map[*html.Node]bool{}
	p.focused = nil
	p.keyHeld = false
}

// Visit loads rawURL, resolved against the current location, and runs the
// matching behaviors.
func (p *Page) Visit(ctx context.Context, rawURL string) error {
	p.mu.Lock()
	target, err := p.resolveLocked(rawURL)
	p.mu.Unlock()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("visit %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("visit %s: status %d", target, resp.StatusCode)
	}
	doc, err := html.Parse(resp.Body)
	if err != nil {
		return fmt.Errorf("parse %s: %w", target, err)
	}
	return p.load(target, doc)
}

// SetContent loads an HTML document directly, as if served from rawURL.
func (p *Page) SetContent(rawURL, markup string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	return p.load(u, doc)
}

func (p *Page) load(u *url.URL, doc *html.Node) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("page closed")
	}
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.resetLocked()
	p.doc = doc
	p.url = u
	p.gen++
	gen := p.gen

	for _, b := range p.behaviors {
		if !b.pattern.Match(http.MethodGet, u) {
			continue
		}
		s := &Script{p: p, ctx: ctx, gen: gen, url: u}
		p.guardLocked("behavior", func() { b.fn(s) })
	}
	p.mu.Unlock()
	p.logger.Debug("document loaded", slog.String("url", u.String()))
	return nil
}

func (p *Page) resolveLocked(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if p.url != nil {
		u = p.url.ResolveReference(u)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("visit %q: url must be absolute for the first navigation", rawURL)
	}
	return u, nil
}

func (p *Page) Location(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.url == nil {
		return "about:blank", nil
	}
	return p.url.String(), nil
}

// Query returns fresh snapshots of the matching elements in document order.
func (p *Page) Query(_ context.Context, q page.Query) ([]page.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return nil, ErrNoDocument
	}
	nodes, err := p.queryLocked(q)
	if err != nil {
		return nil, err
	}
	out := make([]page.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, p.snapshot(n))
	}
	return out, nil
}

func (p *Page) queryLocked(q page.Query) ([]*html.Node, error) {
	doc := goquery.NewDocumentFromNode(p.doc)
	var sel *goquery.Selection
	if q.Scope != "" {
		m, err := cascadia.Compile(q.Scope)
		if err != nil {
			return nil, fmt.Errorf("scope %q: %w", q.Scope, err)
		}
		scope := doc.FindMatcher(m)
		switch {
		case q.Selector != "":
			m, err := cascadia.Compile(q.Selector)
			if err != nil {
				return nil, fmt.Errorf("selector %q: %w", q.Selector, err)
			}
			sel = scope.FindMatcher(m)
		default:
			sel = scope.Find("*").AddSelection(scope)
		}
	} else {
		selector := q.Selector
		if selector == "" {
			selector = "body, body *"
		}
		m, err := cascadia.Compile(selector)
		if err != nil {
			return nil, fmt.Errorf("selector %q: %w", selector, err)
		}
		sel = doc.FindMatcher(m)
	}
	if q.Text == "" {
		return sel.Nodes, nil
	}
	return deepestContaining(sel.Nodes, q.Text), nil
}

// deepestContaining returns the first candidate, in document order, whose
// text contains text and which has no descendant candidate that also does.
func deepestContaining(cands []*html.Node, text string) []*html.Node {
	var hits []*html.Node
	for _, n := range cands {
		if strings.Contains(textContent(n), text) {
			hits = append(hits, n)
		}
	}
	for _, n := range hits {
		deeper := false
		for _, m := range hits {
			if m != n && contains(n, m) {
				deeper = true
				break
			}
		}
		if !deeper {
			return []*html.Node{n}
		}
	}
	return nil
}

func (p *Page) refOf(n *html.Node) page.NodeRef {
	if r, ok := p.refs[n]; ok {
		return r
	}
	p.nextRef++
	r := page.NodeRef(fmt.Sprintf("n%d", p.nextRef))
	p.refs[n] = r
	p.nodes[r] = n
	return r
}

func (p *Page) nodeLocked(ref page.NodeRef) (*html.Node, error) {
	if p.doc == nil {
		return nil, ErrNoDocument
	}
	n, ok := p.nodes[ref]
	if !ok || !contains(p.doc, n) {
		return nil, fmt.Errorf("%w: %s", ErrDetached, ref)
	}
	return n, nil
}

// Dispatch delivers ev to the node and runs its listeners and default action.
func (p *Page) Dispatch(_ context.Context, ref page.NodeRef, ev page.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.nodeLocked(ref)
	if err != nil {
		return err
	}
	p.dispatchLocked(n, ev)
	return nil
}

// ClickAt clicks the document body. Without layout every coordinate lands
// outside any widget.
func (p *Page) ClickAt(_ context.Context, x, y int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return ErrNoDocument
	}
	body := findFirst(p.doc, func(n *html.Node) bool { return n.Data == "body" })
	if body == nil {
		return errors.New("document has no body")
	}
	p.logger.Debug("click at", slog.Int("x", x), slog.Int("y", y))
	for _, t := range []page.EventType{page.EventMouseDown, page.EventMouseUp, page.EventClick} {
		p.dispatchLocked(body, page.Event{Type: t})
	}
	return nil
}

func (p *Page) Errors() <-chan page.Error { return p.errs }

func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	p.scripts.Wait()
	return nil
}

// emit reports an uncaught page error. A full buffer drops the error.
func (p *Page) emit(e page.Error) {
	select {
	case p.errs <- e:
	default:
		p.logger.Warn("page error dropped", slog.String("message", e.Message))
	}
}

// guardLocked runs fn, turning a panic into an uncaught page error.
func (p *Page) guardLocked(source string, fn func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch e := r.(type) {
		case page.Error:
			p.emit(e)
		case error:
			p.emit(page.Error{Message: e.Error(), Source: source})
		default:
			p.emit(page.Error{Message: fmt.Sprint(e), Source: source})
		}
	}()
	fn()
}
