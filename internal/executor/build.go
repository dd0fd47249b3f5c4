package executor

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"sea-e2e/internal/driver"
	"sea-e2e/internal/engine"
	"sea-e2e/internal/intercept"
	"sea-e2e/internal/ir"
	"sea-e2e/internal/policy"
	"sea-e2e/internal/vars"
)

// builder turns IR steps into engine commands for one scenario.
type builder struct {
	vars    map[string]string
	baseURL string
}

func (b *builder) expand(s string) string { return vars.Expand(s, b.vars) }

// body returns the test body enqueueing steps in order.
func (b *builder) body(steps ...[]ir.Step) func(t *engine.T) {
	return func(t *engine.T) {
		for _, part := range steps {
			for _, st := range part {
				b.step(t, st)
				if t.Err() != nil {
					return
				}
			}
		}
	}
}

// url expands s, joins it to the suite base URL when relative and refuses
// references left unresolved.
func (b *builder) url(t *engine.T, s string) string {
	u := b.expand(s)
	if unresolved := vars.Unresolved(u); len(unresolved) > 0 {
		t.Errorf("unresolved variables in URL: %s (define via --env or use ${VAR|default})", strings.Join(unresolved, ", "))
	}
	if b.baseURL != "" && strings.HasPrefix(u, "/") {
		u = strings.TrimRight(b.expand(b.baseURL), "/") + u
	}
	return u
}

func opts(o ir.Options) []engine.Opt {
	var out []engine.Opt
	if o.TimeoutMs > 0 {
		out = append(out, engine.Timeout(ms(o.TimeoutMs)))
	}
	if o.DelayMs > 0 {
		out = append(out, engine.Delay(ms(o.DelayMs)))
	}
	if o.Force {
		out = append(out, engine.Force())
	}
	if o.Logged {
		out = append(out, engine.Logged())
	}
	return out
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (b *builder) step(t *engine.T, st ir.Step) {
	c := &cursor{}
	o := opts(st.Options)

	switch st.Root() {
	case ir.RootRequest:
		rq := st.Request
		var ro []engine.RequestOption
		if rq.Body != nil {
			ro = append(ro, engine.Body(vars.ExpandJSON(rq.Body, b.vars)))
		}
		if len(rq.Headers) > 0 {
			ro = append(ro, engine.Headers(vars.ExpandAll(rq.Headers, b.vars).(map[string]string)))
		}
		if rq.FailOnStatusCode != nil && !*rq.FailOnStatusCode {
			ro = append(ro, engine.AllowFailureStatus())
		}
		if rq.TimeoutMs > 0 {
			ro = append(ro, engine.RequestTimeout(ms(rq.TimeoutMs)))
		}
		c.resp = t.Request(rq.Method+" "+b.url(t, rq.URL), ro...)
	case ir.RootIntercept:
		b.intercept(t, st.Intercept)
	case ir.RootVisit:
		t.Visit(b.url(t, st.Visit), o...)
	case ir.RootGet:
		c.el = t.Get(b.expand(st.Get), o...)
	case ir.RootContains:
		c.el = t.Contains(b.expand(st.Contains.Selector), b.expand(st.Contains.Text), o...)
	case ir.RootURL:
		c.val = t.URL()
	case ir.RootWait:
		c.val = t.Wait(b.expand(st.Wait), o...)
	case ir.RootExec:
		c.val = b.exec(t, st.Exec)
	case ir.RootLog:
		t.Log(b.expand(st.Log))
	case ir.RootIgnoreExceptions:
		b.ignore(t, st.IgnoreExceptions)
	default:
		t.Errorf("%s: exactly one command is required, got %v", describeStep(st), st.Roots())
		return
	}

	for _, l := range st.Chain {
		if !b.link(t, c, l) {
			return
		}
	}
}

func (b *builder) intercept(t *engine.T, ic *ir.Intercept) {
	route := b.expand(ic.Route)
	var rt *engine.Route
	if ic.Reply == nil {
		rt = t.Spy(route)
	} else {
		rt = t.Intercept(route, intercept.Response{
			StatusCode:        ic.Reply.StatusCode,
			Body:              vars.ExpandJSON(ic.Reply.Body, b.vars),
			Headers:           vars.ExpandAll(ic.Reply.Headers, b.vars).(map[string]string),
			Fixture:           b.expand(ic.Reply.Fixture),
			Delay:             ms(ic.Reply.DelayMs),
			ForceNetworkError: ic.Reply.ForceNetworkError,
		})
	}
	if ic.As != "" {
		rt.As(b.expand(ic.As))
	}
}

func (b *builder) exec(t *engine.T, ex *ir.Exec) *engine.ValueChain {
	var eo []engine.ExecOption
	if len(ex.Env) > 0 {
		eo = append(eo, engine.ExecEnv(vars.ExpandAll(ex.Env, b.vars).(map[string]string)))
	}
	if ex.TimeoutMs > 0 {
		eo = append(eo, engine.ExecTimeout(ms(ex.TimeoutMs)))
	}
	if ex.Dir != "" {
		eo = append(eo, engine.ExecDir(b.expand(ex.Dir)))
	}
	if ex.AllowFailure {
		eo = append(eo, engine.AllowNonZeroExit())
	}
	return t.Exec(b.expand(ex.Cmd), vars.ExpandAll(ex.Args, b.vars).([]string), eo...)
}

func (b *builder) ignore(t *engine.T, ep *ir.ExceptionPolicy) {
	var rules []policy.Rule
	for _, m := range ep.Messages {
		rules = append(rules, policy.MessageContains(b.expand(m)))
	}
	for _, p := range ep.Patterns {
		re, err := regexp.Compile(b.expand(p))
		if err != nil {
			t.Errorf("ignoreExceptions: %v", err)
			return
		}
		rules = append(rules, policy.MessageMatches(re))
	}
	if ep.CrossOriginScriptError {
		rules = append(rules, policy.CrossOriginScriptError())
	}
	t.OnUncaughtException(policy.New(rules...))
}

// cursor holds the handle the chain currently continues from. Exactly one
// field is set, or none for commands that yield no subject.
type cursor struct {
	resp *engine.ResponseChain
	el   *engine.ElementChain
	val  *engine.ValueChain
}

func (c *cursor) value(v *engine.ValueChain) { *c = cursor{val: v} }

// link enqueues one chained call and reports whether the chain may go on.
func (b *builder) link(t *engine.T, c *cursor, l ir.Link) bool {
	o := opts(l.Options)
	action := l.Action()

	switch action {
	case "should", "and":
		args := l.Should
		if action == "and" {
			args = l.And
		}
		chainer := b.expand(args.Chainer())
		operands, _ := vars.ExpandJSON(args.Operands(), b.vars).([]any)
		switch {
		case c.resp != nil:
			c.resp.Should(chainer, operands...)
		case c.el != nil && l.TimeoutMs > 0:
			c.el.ShouldWithin(ms(l.TimeoutMs), chainer, operands...)
		case c.el != nil:
			c.el.Should(chainer, operands...)
		case c.val != nil:
			c.val.Should(chainer, operands...)
		default:
			return b.noSubject(t, action)
		}
		return true
	case "its":
		path := b.expand(l.Its)
		switch {
		case c.resp != nil:
			c.value(c.resp.Its(path))
		case c.el != nil:
			c.value(c.el.Its(path))
		case c.val != nil:
			c.value(c.val.Its(path))
		default:
			return b.noSubject(t, action)
		}
		return true
	case "contract":
		if c.resp == nil {
			t.Errorf("contract applies to request responses only")
			return false
		}
		c.resp.MatchesContract()
		return true
	case "":
		t.Errorf("chain link needs exactly one action, got %v", l.Actions())
		return false
	}

	if c.el == nil {
		t.Errorf("%s applies to elements only", action)
		return false
	}
	switch action {
	case "invoke":
		c.value(c.el.Invoke(b.expand(l.Invoke), o...))
	case "find":
		c.el = c.el.Find(b.expand(l.Find), o...)
	case "contains":
		c.el = c.el.Contains(b.expand(l.Contains), o...)
	case "type":
		c.el = c.el.Type(b.expand(*l.Type), o...)
	case "clear":
		c.el = c.el.Clear(o...)
	case "check":
		c.el = c.el.Check(o...)
	case "uncheck":
		c.el = c.el.Uncheck(o...)
	case "select":
		values := vars.ExpandAll([]string(l.Select), b.vars).([]string)
		if len(values) == 1 {
			c.el = c.el.Select(values[0], o...)
		} else {
			c.el = c.el.SelectAll(values, o...)
		}
	case "click":
		c.el = c.el.Click(o...)
	case "clickAt":
		c.el = c.el.ClickAt(l.ClickAt.X, l.ClickAt.Y, o...)
	case "pick":
		spec := driver.PickSpec{
			Within: b.expand(l.Pick.Within),
			Items:  vars.ExpandAll(l.Pick.Items, b.vars).([]string),
		}
		if d := l.Pick.DismissAt; d != nil {
			spec.DismissX, spec.DismissY = d.X, d.Y
		}
		c.el = c.el.Pick(spec, o...)
	default:
		t.Errorf("unknown chain action %q", action)
		return false
	}
	return true
}

func (b *builder) noSubject(t *engine.T, action string) bool {
	t.Errorf("%s needs a subject, the command yields none", action)
	return false
}

func describeStep(st ir.Step) string {
	if st.Name != "" {
		return st.Name
	}
	return fmt.Sprintf("%s step", st.Root())
}
