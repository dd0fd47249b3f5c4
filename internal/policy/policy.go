// Package policy decides which uncaught page errors a test tolerates.
//
// A Policy belongs to one test run. Installing a new one replaces the old one;
// nothing is shared between tests.
package policy

import (
	"regexp"
	"strings"

	"sea-e2e/internal/page"
)

// Rule reports whether a page error should be suppressed.
type Rule interface {
	Match(page.Error) bool
	String() string
}

// Policy suppresses page errors matched by any of its rules. The zero value
// suppresses nothing.
type Policy struct {
	rules []Rule
}

func New(rules ...Rule) *Policy {
	return &Policy{rules: append([]Rule(nil), rules...)}
}

// Suppress reports whether err matched a rule.
func (p *Policy) Suppress(err page.Error) bool {
	_, ok := p.Match(err)
	return ok
}

// Match returns the first rule matching err.
func (p *Policy) Match(err page.Error) (Rule, bool) {
	if p == nil {
		return nil, false
	}
	for _, r := range p.rules {
		if r.Match(err) {
			return r, true
		}
	}
	return nil, false
}

// Rules returns a copy of the installed rules.
func (p *Policy) Rules() []Rule {
	if p == nil {
		return nil
	}
	return append([]Rule(nil), p.rules...)
}

// ---- Rules ----

type containsRule string

// MessageContains matches errors whose message contains s.
func MessageContains(s string) Rule { return containsRule(s) }

func (r containsRule) Match(e page.Error) bool { return strings.Contains(e.Message, string(r)) }
func (r containsRule) String() string          { return "message contains " + quote(string(r)) }

type matchesRule struct{ re *regexp.Regexp }

// MessageMatches matches errors whose message matches re.
func MessageMatches(re *regexp.Regexp) Rule { return matchesRule{re: re} }

func (r matchesRule) Match(e page.Error) bool { return r.re.MatchString(e.Message) }
func (r matchesRule) String() string          { return "message matches /" + r.re.String() + "/" }

// CrossOriginMessage is what browsers report for errors thrown by scripts of
// another origin.
const CrossOriginMessage = "Script error."

type crossOriginRule struct{}

// CrossOriginScriptError matches only the opaque cross-origin error: exactly
// "Script error." with no source and no line. A first-party error whose
// message merely mentions "Script error." is not matched.
func CrossOriginScriptError() Rule { return crossOriginRule{} }

func (crossOriginRule) Match(e page.Error) bool {
	return e.Message == CrossOriginMessage && e.Source == "" && e.Line == 0
}
func (crossOriginRule) String() string { return "cross-origin script error" }

type funcRule struct {
	name string
	fn   func(page.Error) bool
}

// Func wraps an arbitrary predicate.
func Func(name string, fn func(page.Error) bool) Rule { return funcRule{name: name, fn: fn} }

func (r funcRule) Match(e page.Error) bool { return r.fn != nil && r.fn(e) }
func (r funcRule) String() string          { return r.name }

func quote(s string) string { return `"` + s + `"` }
