// Package command holds the action primitives: immutable command descriptions and
// the subjects they resolve to.
package command

import (
	"fmt"
	"strings"
	"time"
)

type Kind int

const (
	KindNetwork Kind = iota
	KindDomQuery
	KindDomAction
	KindAssertion
	KindSetup
	KindWait
	KindExec
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindDomQuery:
		return "dom-query"
	case KindDomAction:
		return "dom-action"
	case KindAssertion:
		return "assertion"
	case KindSetup:
		return "setup"
	case KindWait:
		return "wait"
	case KindExec:
		return "exec"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Token identifies an enqueued command within its queue. NoToken marks a command
// without a parent subject.
type Token int

const NoToken Token = -1

// Options are per-command knobs. The zero value means "use the configured default".
type Options struct {
	Timeout time.Duration
	Force   bool
	Delay   time.Duration
	Alias   string
	Log     bool
}

// Command is one unit of queued work. It is never mutated after New returns.
type Command struct {
	kind    Kind
	name    string
	target  string
	payload any
	options Options
	parent  Token
}

func New(kind Kind, name, target string, payload any, parent Token, opts Options) Command {
	return Command{kind: kind, name: name, target: target, payload: payload, parent: parent, options: opts}
}

func (c Command) Kind() Kind       { return c.kind }
func (c Command) Name() string     { return c.name }
func (c Command) Target() string   { return c.target }
func (c Command) Payload() any     { return c.payload }
func (c Command) Options() Options { return c.options }
func (c Command) Parent() Token    { return c.parent }
func (c Command) HasParent() bool  { return c.parent != NoToken }

// String renders the command the way it appears in the command log, e.g. get("#msdd").
func (c Command) String() string {
	if c.target == "" {
		return c.name + "()"
	}
	return fmt.Sprintf("%s(%q)", c.name, c.target)
}

// SplitMethodURL splits "GET https://x/y" into its parts; a bare URL means GET.
func SplitMethodURL(s string) (method, url string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ' '); i > 0 {
		m := strings.ToUpper(s[:i])
		if isMethod(m) {
			return m, strings.TrimSpace(s[i+1:])
		}
	}
	return "GET", s
}

func isMethod(m string) bool {
	switch m {
	case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS", "TRACE", "CONNECT", "*":
		return true
	}
	return false
}
