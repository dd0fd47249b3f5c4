package parser

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"sea-e2e/internal/intercept"
	"sea-e2e/internal/ir"
)

var ErrValidation = errors.New("validation error")

type Parser struct{}

func New() *Parser { return &Parser{} }

// ParseFile reads and parses one suite file.
func (p *Parser) ParseFile(path string) (*ir.TestSuite, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	s, err := p.ParseBytes(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseBytes parses YAML (or JSON) into IR and validates it.
func (p *Parser) ParseBytes(b []byte) (*ir.TestSuite, error) {
	var suite ir.TestSuite

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true) // fail on unknown fields

	if err := dec.Decode(&suite); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := validateSuite(&suite); err != nil {
		return nil, err
	}

	for i := range suite.Scenarios {
		sc := &suite.Scenarios[i]
		for _, steps := range [][]ir.Step{sc.Setup, sc.Steps, sc.Teardown} {
			for j := range steps {
				if rq := steps[j].Request; rq != nil {
					rq.Method = strings.ToUpper(rq.Method)
				}
			}
		}
		for j := range sc.Hooks {
			sc.Hooks[j].When = strings.ToLower(sc.Hooks[j].When)
		}
	}
	return &suite, nil
}

// --- validation helpers ---

func validateSuite(s *ir.TestSuite) error {
	if s.Name == "" {
		return wrapValidation("suite.name must not be empty")
	}
	if len(s.Scenarios) == 0 {
		return wrapValidation("suite.scenarios must not be empty")
	}
	for i := range s.Scenarios {
		if err := validateScenario(&s.Scenarios[i], i); err != nil {
			return err
		}
	}
	return nil
}

func validateScenario(sc *ir.Scenario, idx int) error {
	if sc.Name == "" {
		return wrapValidation(fmt.Sprintf("scenario[%d].name must not be empty", idx))
	}
	if len(sc.Steps) == 0 {
		return wrapValidation(fmt.Sprintf("scenario[%d].steps must not be empty", idx))
	}
	for j, h := range sc.Hooks {
		if w := strings.ToLower(h.When); w != "before" && w != "after" {
			return wrapValidation(fmt.Sprintf("scenario[%d].hooks[%d].when must be before or after, got %q", idx, j, h.When))
		}
		if strings.TrimSpace(h.Cmd) == "" {
			return wrapValidation(fmt.Sprintf("scenario[%d].hooks[%d].cmd must not be empty", idx, j))
		}
	}
	for _, part := range []struct {
		name  string
		steps []ir.Step
	}{{"setup", sc.Setup}, {"step", sc.Steps}, {"teardown", sc.Teardown}} {
		for j := range part.steps {
			where := fmt.Sprintf("scenario[%d].%s[%d]", idx, part.name, j)
			if err := validateStep(&part.steps[j], where); err != nil {
				return err
			}
		}
	}
	return nil
}

// subject kinds a chain can carry
type subjectKind int

const (
	subjectNone subjectKind = iota
	subjectResponse
	subjectElement
	subjectValue
)

func validateStep(st *ir.Step, where string) error {
	roots := st.Roots()
	switch len(roots) {
	case 0:
		return wrapValidation(where + " has no command (request, intercept, visit, get, contains, url, wait, exec, log, ignoreExceptions)")
	case 1:
	default:
		return wrapValidation(fmt.Sprintf("%s has more than one command: %s", where, strings.Join(roots, ", ")))
	}

	kind := subjectNone
	switch roots[0] {
	case ir.RootRequest:
		if st.Request.Method == "" {
			return wrapValidation(where + ".request.method must not be empty")
		}
		if st.Request.URL == "" {
			return wrapValidation(where + ".request.url must not be empty")
		}
		kind = subjectResponse
	case ir.RootIntercept:
		route := strings.TrimSpace(st.Intercept.Route)
		if route == "" {
			return wrapValidation(where + ".intercept.route must not be empty")
		}
		if !strings.Contains(route, "${") {
			if _, err := intercept.ParsePattern(route); err != nil {
				return wrapValidation(fmt.Sprintf("%s.intercept.route: %v", where, err))
			}
		}
	case ir.RootContains:
		if st.Contains.Text == "" {
			return wrapValidation(where + ".contains.text must not be empty")
		}
		kind = subjectElement
	case ir.RootGet:
		kind = subjectElement
	case ir.RootURL, ir.RootWait:
		kind = subjectValue
	case ir.RootExec:
		if strings.TrimSpace(st.Exec.Cmd) == "" {
			return wrapValidation(where + ".exec.cmd must not be empty")
		}
		kind = subjectValue
	case ir.RootIgnoreExceptions:
		for _, p := range st.IgnoreExceptions.Patterns {
			if _, err := regexp.Compile(p); err != nil {
				return wrapValidation(fmt.Sprintf("%s.ignoreExceptions.patterns: %v", where, err))
			}
		}
	}

	for k, l := range st.Chain {
		lw := fmt.Sprintf("%s.chain[%d]", where, k)
		next, err := validateLink(l, kind, lw)
		if err != nil {
			return err
		}
		kind = next
	}
	return nil
}

func validateLink(l ir.Link, kind subjectKind, where string) (subjectKind, error) {
	actions := l.Actions()
	switch len(actions) {
	case 0:
		return kind, wrapValidation(where + " has no action")
	case 1:
	default:
		return kind, wrapValidation(fmt.Sprintf("%s has more than one action: %s", where, strings.Join(actions, ", ")))
	}
	action := actions[0]
	if kind == subjectNone {
		return kind, wrapValidation(fmt.Sprintf("%s: %s needs a subject, the command yields none", where, action))
	}

	switch action {
	case "should", "and":
		args := l.Should
		if action == "and" {
			args = l.And
		}
		if args.Chainer() == "" {
			return kind, wrapValidation(fmt.Sprintf("%s.%s: first element must be a chainer string", where, action))
		}
		return kind, nil
	case "its":
		return subjectValue, nil
	case "contract":
		if kind != subjectResponse {
			return kind, wrapValidation(where + ": contract applies to request responses only")
		}
		return kind, nil
	}

	if kind != subjectElement {
		return kind, wrapValidation(fmt.Sprintf("%s: %s applies to elements only", where, action))
	}
	switch action {
	case "invoke":
		return subjectValue, nil
	case "pick":
		if l.Pick.Within == "" || len(l.Pick.Items) == 0 {
			return kind, wrapValidation(where + ".pick needs within and items")
		}
	}
	return subjectElement, nil
}

func wrapValidation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
