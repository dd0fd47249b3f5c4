// Package ir is the in-memory form of a YAML suite: scenarios made of steps,
// each step one root command followed by a chain of links.
package ir

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Step roots.
const (
	RootRequest          = "request"
	RootIntercept        = "intercept"
	RootVisit            = "visit"
	RootGet              = "get"
	RootContains         = "contains"
	RootURL              = "url"
	RootWait             = "wait"
	RootExec             = "exec"
	RootLog              = "log"
	RootIgnoreExceptions = "ignoreExceptions"
)

type TestSuite struct {
	Name      string     `json:"name" yaml:"name"`
	OpenAPI   string     `json:"openapi,omitempty" yaml:"openapi,omitempty"`
	BaseURL   string     `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Scenarios []Scenario `json:"scenarios" yaml:"scenarios"`
}

type Scenario struct {
	Name     string            `json:"name" yaml:"name"`
	Env      string            `json:"env,omitempty" yaml:"env,omitempty"`
	Tags     []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Vars     map[string]string `json:"vars,omitempty" yaml:"vars,omitempty"`
	Hooks    []Hook            `json:"hooks,omitempty" yaml:"hooks,omitempty"`
	Setup    []Step            `json:"setup,omitempty" yaml:"setup,omitempty"`
	Steps    []Step            `json:"steps" yaml:"steps"`
	Teardown []Step            `json:"teardown,omitempty" yaml:"teardown,omitempty"`
}

// Step is one root command and its chain. Exactly one root field is set.
type Step struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	Request          *Request         `json:"request,omitempty" yaml:"request,omitempty"`
	Intercept        *Intercept       `json:"intercept,omitempty" yaml:"intercept,omitempty"`
	Visit            string           `json:"visit,omitempty" yaml:"visit,omitempty"`
	Get              string           `json:"get,omitempty" yaml:"get,omitempty"`
	Contains         *Contains        `json:"contains,omitempty" yaml:"contains,omitempty"`
	URL              bool             `json:"url,omitempty" yaml:"url,omitempty"`
	Wait             string           `json:"wait,omitempty" yaml:"wait,omitempty"`
	Exec             *Exec            `json:"exec,omitempty" yaml:"exec,omitempty"`
	Log              string           `json:"log,omitempty" yaml:"log,omitempty"`
	IgnoreExceptions *ExceptionPolicy `json:"ignoreExceptions,omitempty" yaml:"ignoreExceptions,omitempty"`

	Chain []Link `json:"chain,omitempty" yaml:"chain,omitempty"`

	Options `yaml:",inline"`
}

// Roots lists the root fields set on the step.
func (s Step) Roots() []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(s.Request != nil, RootRequest)
	add(s.Intercept != nil, RootIntercept)
	add(s.Visit != "", RootVisit)
	add(s.Get != "", RootGet)
	add(s.Contains != nil, RootContains)
	add(s.URL, RootURL)
	add(s.Wait != "", RootWait)
	add(s.Exec != nil, RootExec)
	add(s.Log != "", RootLog)
	add(s.IgnoreExceptions != nil, RootIgnoreExceptions)
	return out
}

// Root returns the single root of a validated step.
func (s Step) Root() string {
	if r := s.Roots(); len(r) == 1 {
		return r[0]
	}
	return ""
}

// Options are the per-command knobs shared by roots and links.
type Options struct {
	TimeoutMs int  `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	DelayMs   int  `json:"delayMs,omitempty" yaml:"delayMs,omitempty"`
	Force     bool `json:"force,omitempty" yaml:"force,omitempty"`
	Logged    bool `json:"logged,omitempty" yaml:"logged,omitempty"`
}

type Request struct {
	Method           string            `yaml:"method" json:"method"`
	URL              string            `yaml:"url" json:"url"`
	Headers          map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body             any               `yaml:"body,omitempty" json:"body,omitempty"`
	TimeoutMs        int               `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty"`
	FailOnStatusCode *bool             `yaml:"failOnStatusCode,omitempty" json:"failOnStatusCode,omitempty"`
}

// Intercept routes matching requests. Without a reply the route only spies.
type Intercept struct {
	Route string `yaml:"route" json:"route"`
	As    string `yaml:"as,omitempty" json:"as,omitempty"`
	Reply *Reply `yaml:"reply,omitempty" json:"reply,omitempty"`
}

type Reply struct {
	StatusCode        int               `yaml:"statusCode,omitempty" json:"statusCode,omitempty"`
	Body              any               `yaml:"body,omitempty" json:"body,omitempty"`
	Headers           map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Fixture           string            `yaml:"fixture,omitempty" json:"fixture,omitempty"`
	DelayMs           int               `yaml:"delayMs,omitempty" json:"delayMs,omitempty"`
	ForceNetworkError bool              `yaml:"forceNetworkError,omitempty" json:"forceNetworkError,omitempty"`
}

type Contains struct {
	Selector string `yaml:"selector,omitempty" json:"selector,omitempty"`
	Text     string `yaml:"text" json:"text"`
}

type Exec struct {
	Cmd          string            `yaml:"cmd" json:"cmd"`
	Args         []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env          map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Dir          string            `yaml:"dir,omitempty" json:"dir,omitempty"`
	TimeoutMs    int               `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty"`
	AllowFailure bool              `yaml:"allowFailure,omitempty" json:"allowFailure,omitempty"`
}

// ExceptionPolicy installs the scenario's uncaught-exception rules.
type ExceptionPolicy struct {
	Messages               []string `yaml:"messages,omitempty" json:"messages,omitempty"`
	Patterns               []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	CrossOriginScriptError bool     `yaml:"crossOriginScriptError,omitempty" json:"crossOriginScriptError,omitempty"`
}

// Link is one chained call. Exactly one action field is set.
type Link struct {
	Should   Args    `yaml:"should,omitempty" json:"should,omitempty"`
	And      Args    `yaml:"and,omitempty" json:"and,omitempty"`
	Its      string  `yaml:"its,omitempty" json:"its,omitempty"`
	Invoke   string  `yaml:"invoke,omitempty" json:"invoke,omitempty"`
	Find     string  `yaml:"find,omitempty" json:"find,omitempty"`
	Contains string  `yaml:"contains,omitempty" json:"contains,omitempty"`
	Type     *string `yaml:"type,omitempty" json:"type,omitempty"`
	Clear    bool    `yaml:"clear,omitempty" json:"clear,omitempty"`
	Check    bool    `yaml:"check,omitempty" json:"check,omitempty"`
	Uncheck  bool    `yaml:"uncheck,omitempty" json:"uncheck,omitempty"`
	Select   Strings `yaml:"select,omitempty" json:"select,omitempty"`
	Click    bool    `yaml:"click,omitempty" json:"click,omitempty"`
	ClickAt  *Point  `yaml:"clickAt,omitempty" json:"clickAt,omitempty"`
	Pick     *Pick   `yaml:"pick,omitempty" json:"pick,omitempty"`
	Contract bool    `yaml:"contract,omitempty" json:"contract,omitempty"`

	Options `yaml:",inline"`
}

// Actions lists the action fields set on the link.
func (l Link) Actions() []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(len(l.Should) > 0, "should")
	add(len(l.And) > 0, "and")
	add(l.Its != "", "its")
	add(l.Invoke != "", "invoke")
	add(l.Find != "", "find")
	add(l.Contains != "", "contains")
	add(l.Type != nil, "type")
	add(l.Clear, "clear")
	add(l.Check, "check")
	add(l.Uncheck, "uncheck")
	add(len(l.Select) > 0, "select")
	add(l.Click, "click")
	add(l.ClickAt != nil, "clickAt")
	add(l.Pick != nil, "pick")
	add(l.Contract, "contract")
	return out
}

// Action returns the single action of a validated link.
func (l Link) Action() string {
	if a := l.Actions(); len(a) == 1 {
		return a[0]
	}
	return ""
}

type Point struct {
	X int `yaml:"x" json:"x"`
	Y int `yaml:"y" json:"y"`
}

// Pick opens a custom dropdown, clicks items by text and dismisses it.
type Pick struct {
	Within    string   `yaml:"within" json:"within"`
	Items     []string `yaml:"items" json:"items"`
	DismissAt *Point   `yaml:"dismissAt,omitempty" json:"dismissAt,omitempty"`
}

// Hook is a process run before or after the scenario.
type Hook struct {
	When      string            `json:"when" yaml:"when"` // "before" | "after"
	Cmd       string            `json:"cmd" yaml:"cmd"`
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`
	TimeoutMs int               `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Args is a chainer followed by its operands. A bare scalar is a chainer
// without operands: `should: exist`.
type Args []any

func (a *Args) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		var s string
		if err := n.Decode(&s); err != nil {
			return err
		}
		*a = Args{s}
		return nil
	case yaml.SequenceNode:
		var xs []any
		if err := n.Decode(&xs); err != nil {
			return err
		}
		*a = xs
		return nil
	}
	return fmt.Errorf("line %d: expected a chainer or a list", n.Line)
}

// Chainer returns the first element as a string.
func (a Args) Chainer() string {
	if len(a) == 0 {
		return ""
	}
	s, _ := a[0].(string)
	return s
}

// Operands returns everything after the chainer.
func (a Args) Operands() []any {
	if len(a) < 2 {
		return nil
	}
	return a[1:]
}

// Strings accepts a scalar or a list of scalars.
type Strings []string

func (s *Strings) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*s = Strings{n.Value}
		return nil
	case yaml.SequenceNode:
		var xs []string
		if err := n.Decode(&xs); err != nil {
			return err
		}
		*s = xs
		return nil
	}
	return fmt.Errorf("line %d: expected a string or a list of strings", n.Line)
}
