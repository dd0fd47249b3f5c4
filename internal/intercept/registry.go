package intercept

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"sea-e2e/internal/failure"
)

// Route is one registered matcher. A nil Response makes it a passthrough spy.
type Route struct {
	Pattern  Pattern
	Response *Response
	Alias    string
	seq      int
}

func (r *Route) Mocked() bool { return r.Response != nil }

// Record is one observed exchange, mocked or real.
type Record struct {
	ID             string        `json:"id"`
	Alias          string        `json:"alias,omitempty"`
	Route          string        `json:"route,omitempty"`
	Method         string        `json:"method"`
	URL            string        `json:"url"`
	RequestHeaders http.Header   `json:"requestHeaders,omitempty"`
	RequestBody    string        `json:"requestBody,omitempty"`
	Status         int           `json:"status"`
	ResponseBody   string        `json:"responseBody,omitempty"`
	Mocked         bool          `json:"mocked"`
	Matched        bool          `json:"matched"`
	Error          string        `json:"error,omitempty"`
	At             time.Time     `json:"at"`
	Duration       time.Duration `json:"duration"`
}

type RegistryOption func(*Registry)

// WithHitHook is called for every recorded exchange.
func WithHitHook(fn func(Record)) RegistryOption {
	return func(r *Registry) { r.onHit = fn }
}

// Registry holds the routes and records of one test.
type Registry struct {
	mu       sync.Mutex
	routes   []*Route
	seq      int
	records  []Record
	consumed map[string]int
	changed  chan struct{}
	logger   *slog.Logger
	onHit    func(Record)
}

func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		consumed: map[string]int{},
		changed:  make(chan struct{}),
		logger:   logger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Intercept registers a route. A route with the same method and pattern is
// replaced and becomes the most recent registration.
func (r *Registry) Intercept(p Pattern, resp *Response, alias string) *Route {
	alias = strings.TrimPrefix(alias, "@")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	rt := &Route{Pattern: p, Response: resp, Alias: alias, seq: r.seq}
	for i, old := range r.routes {
		if old.Pattern.Key() == p.Key() {
			r.routes = append(r.routes[:i], r.routes[i+1:]...)
			r.logger.Debug("route replaced", slog.String("route", p.String()))
			break
		}
	}
	r.routes = append(r.routes, rt)
	r.logger.Debug("route registered",
		slog.String("route", p.String()),
		slog.String("alias", alias),
		slog.Bool("mocked", resp != nil))
	return rt
}

// Lookup returns the winning route for a request, or nil. Most specific wins;
// ties go to the most recent registration.
func (r *Registry) Lookup(method string, u *url.URL) *Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *Route
	for _, rt := range r.routes {
		if !rt.Pattern.Match(method, u) {
			continue
		}
		if best == nil {
			best = rt
			continue
		}
		bs, rs := best.Pattern.Specificity(), rt.Pattern.Specificity()
		if rs > bs || (rs == bs && rt.seq > best.seq) {
			best = rt
		}
	}
	return best
}

func (r *Registry) HasAlias(alias string) bool {
	alias = strings.TrimPrefix(alias, "@")
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rt := range r.routes {
		if rt.Alias == alias {
			return true
		}
	}
	return false
}

// Record stores an exchange and wakes waiters.
func (r *Registry) Record(rec Record) Record {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	r.mu.Lock()
	r.records = append(r.records, rec)
	close(r.changed)
	r.changed = make(chan struct{})
	hook := r.onHit
	r.mu.Unlock()

	r.logger.Debug("network exchange",
		slog.String("method", rec.Method),
		slog.String("url", rec.URL),
		slog.Int("status", rec.Status),
		slog.Bool("mocked", rec.Mocked),
		slog.String("alias", rec.Alias))
	if hook != nil {
		hook(rec)
	}
	return rec
}

func (r *Registry) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Hits returns the records of one alias in arrival order.
func (r *Registry) Hits(alias string) []Record {
	alias = strings.TrimPrefix(alias, "@")
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hitsLocked(alias)
}

func (r *Registry) hitsLocked(alias string) []Record {
	var out []Record
	for _, rec := range r.records {
		if rec.Alias == alias {
			out = append(out, rec)
		}
	}
	return out
}

// Wait returns the next hit of alias not yet returned by an earlier Wait. It
// fails with NetworkMismatch when no such hit arrives within timeout.
func (r *Registry) Wait(ctx context.Context, alias string, timeout time.Duration) (Record, error) {
	alias = strings.TrimPrefix(alias, "@")
	if !r.HasAlias(alias) {
		return Record{}, failure.Newf(failure.KindInvalidCommand, "no route is aliased @%s", alias)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		r.mu.Lock()
		hits := r.hitsLocked(alias)
		n := r.consumed[alias]
		if len(hits) > n {
			r.consumed[alias] = n + 1
			r.mu.Unlock()
			return hits[n], nil
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			return Record{}, failure.Newf(failure.KindNetworkMismatch,
				"expected route @%s to be hit (request #%d) within %s", alias, n+1, timeout)
		case <-ctx.Done():
			return Record{}, failure.New(failure.KindTimeout, "waiting for @"+alias, ctx.Err())
		}
	}
}

// Reset drops all routes and records; used at test end.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = nil
	r.records = nil
	r.consumed = map[string]int{}
}
