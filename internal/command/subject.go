package command

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sea-e2e/internal/page"
)

type SubjectKind int

const (
	SubjectNone SubjectKind = iota
	SubjectResponse
	SubjectElements
	SubjectValue
)

// Observer re-obtains a subject from its source.
type Observer func(ctx context.Context) (Subject, error)

// Subject is the resolved result flowing down a chain. A subject with an observer
// is live and can be re-observed; one without is immutable.
type Subject struct {
	Kind    SubjectKind
	Value   any
	Query   *page.Query
	observe Observer
}

func Immutable(kind SubjectKind, v any) Subject {
	return Subject{Kind: kind, Value: v}
}

func Live(kind SubjectKind, v any, observe Observer) Subject {
	return Subject{Kind: kind, Value: v, observe: observe}
}

func (s Subject) Live() bool { return s.observe != nil }

func (s Subject) Observer() Observer { return s.observe }

// Refresh re-observes a live subject; immutable subjects return themselves.
func (s Subject) Refresh(ctx context.Context) (Subject, error) {
	if s.observe == nil {
		return s, nil
	}
	return s.observe(ctx)
}

// Elements returns the element snapshots of an element subject.
func (s Subject) Elements() []page.Element {
	els, _ := s.Value.([]page.Element)
	return els
}

// Derive maps a subject to a derived value. A live parent yields a live child.
func (s Subject) Derive(fn func(Subject) (any, error)) (Subject, error) {
	v, err := fn(s)
	if err != nil {
		return Subject{}, err
	}
	if s.observe == nil {
		return Immutable(SubjectValue, v), nil
	}
	parent := s.observe
	var observe Observer
	observe = func(ctx context.Context) (Subject, error) {
		fresh, err := parent(ctx)
		if err != nil {
			return Subject{}, err
		}
		v, err := fn(fresh)
		if err != nil {
			return Subject{}, err
		}
		return Live(SubjectValue, v, observe), nil
	}
	return Live(SubjectValue, v, observe), nil
}

func (s Subject) FailureString() string {
	switch s.Kind {
	case SubjectElements:
		els := s.Elements()
		if len(els) == 0 {
			return "no elements"
		}
		parts := make([]string, 0, len(els))
		for _, e := range els {
			parts = append(parts, fmt.Sprintf("%s value=%q text=%q", e, e.Value, truncate(e.Text, 80)))
		}
		return strings.Join(parts, ", ")
	case SubjectResponse:
		if r, ok := s.Value.(*Response); ok {
			return r.FailureString()
		}
	}
	b, err := json.Marshal(s.Value)
	if err != nil {
		return fmt.Sprintf("%v", s.Value)
	}
	return string(b)
}

// Response is the subject of a completed HTTP request.
type Response struct {
	Method     string        `json:"method"`
	URL        string        `json:"url"`
	Status     int           `json:"status"`
	StatusText string        `json:"statusText"`
	Headers    http.Header   `json:"headers"`
	Body       any           `json:"body"`
	RawBody    []byte        `json:"-"`
	Duration   time.Duration `json:"duration"`
	Mocked     bool          `json:"mocked"`
}

func (r *Response) FailureString() string {
	return fmt.Sprintf("%s %s -> %d %s", r.Method, r.URL, r.Status, truncate(string(r.RawBody), 200))
}

// DecodeBody decodes JSON bodies into generic values and falls back to the raw string.
func DecodeBody(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	return string(raw)
}

// Lookup resolves a dotted property path such as "body.tags[0].name" against a
// value. Responses expose status, statusText, headers, body and duration.
func Lookup(v any, path string) (any, bool) {
	path = strings.TrimPrefix(strings.TrimPrefix(path, "$"), ".")
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range splitPath(path) {
		var ok bool
		cur, ok = step(cur, seg)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func splitPath(path string) []string {
	var out []string
	for _, part := range strings.Split(path, ".") {
		for part != "" {
			i := strings.IndexByte(part, '[')
			if i < 0 {
				out = append(out, part)
				break
			}
			if i > 0 {
				out = append(out, part[:i])
			}
			j := strings.IndexByte(part[i:], ']')
			if j < 0 {
				out = append(out, part[i:])
				break
			}
			out = append(out, part[i:i+j+1])
			part = part[i+j+1:]
		}
	}
	return out
}

func step(cur any, seg string) (any, bool) {
	if strings.HasPrefix(seg, "[") && strings.HasSuffix(seg, "]") {
		idx, err := strconv.Atoi(seg[1 : len(seg)-1])
		if err != nil {
			return nil, false
		}
		return index(cur, idx)
	}
	switch x := cur.(type) {
	case *Response:
		switch seg {
		case "status":
			return x.Status, true
		case "statusText":
			return x.StatusText, true
		case "headers":
			return flattenHeaders(x.Headers), true
		case "body":
			return x.Body, true
		case "duration":
			return x.Duration.Milliseconds(), true
		case "url":
			return x.URL, true
		}
		return nil, false
	case map[string]any:
		v, ok := x[seg]
		return v, ok
	case map[string]string:
		v, ok := x[seg]
		return v, ok
	case []any:
		if seg == "length" {
			return len(x), true
		}
		if idx, err := strconv.Atoi(seg); err == nil {
			return index(x, idx)
		}
	case []page.Element:
		if seg == "length" {
			return len(x), true
		}
	case string:
		if seg == "length" {
			return len(x), true
		}
	}
	return nil, false
}

func index(cur any, idx int) (any, bool) {
	switch x := cur.(type) {
	case []any:
		if idx < 0 || idx >= len(x) {
			return nil, false
		}
		return x[idx], true
	case []page.Element:
		if idx < 0 || idx >= len(x) {
			return nil, false
		}
		return x[idx], true
	}
	return nil, false
}

func flattenHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
