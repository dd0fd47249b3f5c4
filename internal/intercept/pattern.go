// Package intercept implements the network interception layer: typed route
// patterns, a per-test route registry, mocked responses and an http.RoundTripper
// that consults the registry before any real I/O.
package intercept

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"sea-e2e/internal/command"
)

var ErrBadPattern = errors.New("malformed route pattern")

// globMeta are the doublestar metacharacters a pattern may use. "?" is not one
// of them: it always separates the path from the query.
const globMeta = "*[]{}"

// Pattern is a compiled method + URL matcher.
type Pattern struct {
	Method   string
	raw      string
	re       *regexp.Regexp
	glob     bool
	expr     string
	relative bool
}

// ParsePattern parses "METHOD url-pattern"; a bare pattern matches any method.
func ParsePattern(s string) (Pattern, error) {
	s = strings.TrimSpace(s)
	method := "*"
	if i := strings.IndexByte(s, ' '); i > 0 {
		m, u := command.SplitMethodURL(s)
		method, s = m, u
	}
	return NewPattern(method, s)
}

// NewPattern compiles a URL pattern. Patterns containing glob metacharacters are
// doublestar globs; "/"-prefixed patterns match the request path and query only.
// A "?" is matched literally.
func NewPattern(method, raw string) (Pattern, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "*"
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Pattern{}, fmt.Errorf("%w: empty url", ErrBadPattern)
	}
	p := Pattern{
		Method:   method,
		raw:      raw,
		glob:     strings.ContainsAny(raw, globMeta),
		relative: strings.HasPrefix(raw, "/"),
	}
	if p.glob {
		p.expr = strings.ReplaceAll(raw, "?", `\?`)
		if !doublestar.ValidatePattern(p.expr) {
			return Pattern{}, fmt.Errorf("%w: %q", ErrBadPattern, raw)
		}
	}
	if !p.relative {
		u, err := url.Parse(strings.Map(func(r rune) rune {
			if strings.ContainsRune(globMeta, r) {
				return 'x'
			}
			return r
		}, raw))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return Pattern{}, fmt.Errorf("%w: %q is neither absolute nor /-relative", ErrBadPattern, raw)
		}
	}
	return p, nil
}

// RegexpPattern matches the full request URL against re.
func RegexpPattern(method string, re *regexp.Regexp) Pattern {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "*"
	}
	return Pattern{Method: method, raw: re.String(), re: re}
}

func (p Pattern) String() string { return p.Method + " " + p.raw }

// Key identifies the pattern for replace-on-reregistration.
func (p Pattern) Key() string {
	if p.re != nil {
		return p.Method + " re:" + p.raw
	}
	return p.String()
}

func (p Pattern) Match(method string, u *url.URL) bool {
	if p.Method != "*" && !strings.EqualFold(p.Method, method) {
		return false
	}
	full := u.String()
	if p.re != nil {
		return p.re.MatchString(full)
	}
	targets := []string{full}
	if p.relative {
		targets = []string{u.RequestURI()}
		if !strings.Contains(p.raw, "?") {
			targets = append(targets, u.EscapedPath())
		}
	} else if !strings.Contains(p.raw, "?") && u.RawQuery != "" {
		bare := *u
		bare.RawQuery = ""
		targets = append(targets, bare.String())
	}
	for _, t := range targets {
		if t == p.raw {
			return true
		}
		if !p.glob {
			continue
		}
		if ok, _ := doublestar.Match(p.expr, t); ok {
			return true
		}
		if unescaped, err := url.QueryUnescape(t); err == nil && unescaped != t {
			if ok, _ := doublestar.Match(p.expr, unescaped); ok {
				return true
			}
		}
	}
	return false
}

// Specificity orders overlapping patterns: more literal characters win, and a
// concrete method beats a wildcard one.
func (p Pattern) Specificity() int {
	var literal int
	switch {
	case p.re != nil:
		prefix, complete := p.re.LiteralPrefix()
		literal = len(prefix)
		if complete {
			literal++
		}
	case p.glob:
		for _, r := range p.raw {
			if !strings.ContainsRune(globMeta, r) {
				literal++
			}
		}
	default:
		literal = len(p.raw) + 1
	}
	score := literal * 2
	if p.Method != "*" {
		score++
	}
	return score
}
