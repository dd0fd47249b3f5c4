package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"

	"sea-e2e/internal/assert"
	"sea-e2e/internal/command"
	"sea-e2e/internal/driver"
	"sea-e2e/internal/failure"
	"sea-e2e/internal/page"
)

// chain is the common part of every handle: the token whose subject the next
// command consumes.
type chain struct {
	t   *T
	tok command.Token
}

// Token is the token of the command this handle stands for.
func (c chain) Token() command.Token { return c.tok }

func (c chain) assertion(as []assert.Assertion, o command.Options) command.Token {
	desc := make([]string, 0, len(as))
	for _, a := range as {
		desc = append(desc, a.Description)
	}
	combined := as[0]
	if len(as) > 1 {
		combined = assert.New(strings.Join(desc, " and "), func(s command.Subject) error {
			for _, a := range as {
				if err := a.Check(s); err != nil {
					return err
				}
			}
			return nil
		})
	}
	cmd := command.New(command.KindAssertion, "should", combined.Description, combined, c.tok, o)
	return c.t.q.enqueueAssertion(cmd, combined, func(ctx context.Context, r *run, in command.Subject) (command.Subject, error) {
		res, err := r.eval.WithTimeout(o.Timeout).Eventually(ctx, in, as...)
		return res.Subject, err
	})
}

func (c chain) should(chainer string, args []any, opts []Opt) command.Token {
	a, err := assert.Parse(chainer, args...)
	if err != nil {
		c.t.reject("should", err)
		a = assert.New(chainer, func(command.Subject) error { return err })
	}
	return c.assertion([]assert.Assertion{a}, options(opts))
}

// derive enqueues a command whose subject is computed from the parent's. On a
// live parent it polls until get succeeds and yields a live value.
func (c chain) derive(name, target, desc string, o command.Options, get func(command.Subject) (any, error)) command.Token {
	return c.t.enqueue(command.KindAssertion, name, target, nil, c.tok, o,
		func(ctx context.Context, r *run, in command.Subject) (command.Subject, error) {
			if !in.Live() {
				v, err := get(in)
				if err != nil {
					return in, failure.New(failure.KindAssertionFailed, desc, err).WithSubject(in)
				}
				return command.Immutable(command.SubjectValue, v), nil
			}
			res, err := r.eval.WithTimeout(o.Timeout).Until(ctx, in, desc, func(s command.Subject) error {
				_, err := get(s)
				return err
			})
			if err != nil {
				return res.Subject, err
			}
			return res.Subject.Derive(get)
		})
}

func (c chain) its(path string, opts []Opt) command.Token {
	if path == "" {
		c.t.reject("its", fmt.Errorf("its needs a property path"))
	}
	return c.derive("its", path, "have property "+path, options(opts), func(s command.Subject) (any, error) {
		v, ok := command.Lookup(s.Value, path)
		if !ok {
			return nil, fmt.Errorf("property %q not found in %s", path, failure.FormatSubject(s))
		}
		return v, nil
	})
}

func (c chain) then(fn func(command.Subject) error) command.Token {
	if fn == nil {
		c.t.reject("then", fmt.Errorf("then needs a callback"))
	}
	return c.t.enqueue(command.KindAssertion, "then", "", nil, c.tok, command.Options{},
		func(_ context.Context, _ *run, in command.Subject) (command.Subject, error) {
			if err := fn(in); err != nil {
				return in, failure.As(err, failure.KindAssertionFailed).WithSubject(in)
			}
			return in, nil
		})
}

// ---- responses ----

// ResponseChain is the handle of a request.
type ResponseChain struct{ chain }

// Should asserts with a chainer such as "have.status" or "have.property".
func (c *ResponseChain) Should(chainer string, args ...any) *ResponseChain {
	return &ResponseChain{chain{t: c.t, tok: c.should(chainer, args, nil)}}
}

func (c *ResponseChain) And(chainer string, args ...any) *ResponseChain {
	return c.Should(chainer, args...)
}

// Assert asserts with typed assertions; all must hold on the same observation.
func (c *ResponseChain) Assert(as ...assert.Assertion) *ResponseChain {
	if len(as) == 0 {
		c.t.reject("should", fmt.Errorf("no assertions"))
		return c
	}
	return &ResponseChain{chain{t: c.t, tok: c.assertion(as, command.Options{})}}
}

// Its yields a property of the response: status, statusText, headers, body,
// duration or a path below them such as "body.tags[0].name".
func (c *ResponseChain) Its(path string) *ValueChain {
	return &ValueChain{chain{t: c.t, tok: c.its(path, nil)}}
}

func (c *ResponseChain) Then(fn func(command.Subject) error) *ResponseChain {
	return &ResponseChain{chain{t: c.t, tok: c.then(fn)}}
}

// MatchesContract validates the response against the engine's OpenAPI
// document and marks the operation covered.
func (c *ResponseChain) MatchesContract() *ResponseChain {
	tok := c.t.enqueue(command.KindAssertion, "contract", "", nil, c.tok, command.Options{},
		func(ctx context.Context, r *run, in command.Subject) (command.Subject, error) {
			if r.e.contract == nil {
				return in, failure.Newf(failure.KindInvalidCommand, "no OpenAPI document is configured")
			}
			resp, ok := in.Value.(*command.Response)
			if !ok {
				return in, failure.Newf(failure.KindInvalidCommand, "contract assertion needs a response subject").WithSubject(in)
			}
			if op, err := r.e.contract.Validate(ctx, resp); err != nil {
				desc := "match the OpenAPI contract"
				if op.Path != "" {
					desc += " of " + op.String()
				}
				return in, failure.New(failure.KindAssertionFailed, desc, err).WithSubject(in)
			}
			return in, nil
		})
	return &ResponseChain{chain{t: c.t, tok: tok}}
}

// ---- values ----

// ValueChain is the handle of a plain value: a property, a location, an
// interception or a process result.
type ValueChain struct{ chain }

func (c *ValueChain) Should(chainer string, args ...any) *ValueChain {
	return &ValueChain{chain{t: c.t, tok: c.should(chainer, args, nil)}}
}

func (c *ValueChain) And(chainer string, args ...any) *ValueChain {
	return c.Should(chainer, args...)
}

func (c *ValueChain) Assert(as ...assert.Assertion) *ValueChain {
	if len(as) == 0 {
		c.t.reject("should", fmt.Errorf("no assertions"))
		return c
	}
	return &ValueChain{chain{t: c.t, tok: c.assertion(as, command.Options{})}}
}

func (c *ValueChain) Its(path string) *ValueChain {
	return &ValueChain{chain{t: c.t, tok: c.its(path, nil)}}
}

func (c *ValueChain) Then(fn func(command.Subject) error) *ValueChain {
	return &ValueChain{chain{t: c.t, tok: c.then(fn)}}
}

// ---- elements ----

// ElementChain is the handle of a DOM query or of an action on its result.
type ElementChain struct {
	chain
	query page.Query
}

func (c *ElementChain) next(tok command.Token) *ElementChain {
	return &ElementChain{chain: chain{t: c.t, tok: tok}, query: c.query}
}

func (c *ElementChain) Should(chainer string, args ...any) *ElementChain {
	return c.next(c.should(chainer, args, nil))
}

func (c *ElementChain) And(chainer string, args ...any) *ElementChain {
	return c.Should(chainer, args...)
}

// ShouldWithin is Should with its own timeout.
func (c *ElementChain) ShouldWithin(timeout time.Duration, chainer string, args ...any) *ElementChain {
	return c.next(c.should(chainer, args, []Opt{Timeout(timeout)}))
}

func (c *ElementChain) Assert(as ...assert.Assertion) *ElementChain {
	if len(as) == 0 {
		c.t.reject("should", fmt.Errorf("no assertions"))
		return c
	}
	return c.next(c.assertion(as, command.Options{}))
}

func (c *ElementChain) Its(path string) *ValueChain {
	return &ValueChain{chain{t: c.t, tok: c.its(path, nil)}}
}

func (c *ElementChain) Then(fn func(command.Subject) error) *ElementChain {
	return c.next(c.then(fn))
}

// scope is the selector under which child queries search.
func (c *ElementChain) scope(name string) string {
	if c.query.Text != "" {
		c.t.reject(name, fmt.Errorf("cannot query below %s", c.query))
	}
	return strings.TrimSpace(c.query.Scope + " " + c.query.Selector)
}

// Find queries descendants of the current elements.
func (c *ElementChain) Find(selector string, opts ...Opt) *ElementChain {
	return c.t.query("find", page.Query{Scope: c.scope("find"), Selector: selector}, c.tok, opts)
}

// Contains yields the first deepest descendant whose text contains text.
func (c *ElementChain) Contains(text string, opts ...Opt) *ElementChain {
	return c.t.query("contains", page.Query{Scope: c.scope("contains"), Text: text}, c.tok, opts)
}

// Invoke yields "val", "text" or "attr:NAME" of the current elements.
func (c *ElementChain) Invoke(fn string, opts ...Opt) *ValueChain {
	get, err := invoker(fn)
	if err != nil {
		c.t.reject("invoke", err)
	}
	return &ValueChain{chain{t: c.t, tok: c.derive("invoke", fn, "invoke "+fn, options(opts), get)}}
}

func invoker(fn string) (func(command.Subject) (any, error), error) {
	first := func(s command.Subject) (page.Element, error) {
		els := s.Elements()
		if len(els) == 0 {
			return page.Element{}, fmt.Errorf("no elements to invoke %s on", fn)
		}
		return els[0], nil
	}
	switch {
	case fn == "val":
		return func(s command.Subject) (any, error) {
			el, err := first(s)
			return el.Value, err
		}, nil
	case fn == "text":
		return func(s command.Subject) (any, error) {
			if _, err := first(s); err != nil {
				return nil, err
			}
			var b strings.Builder
			for _, el := range s.Elements() {
				b.WriteString(el.Text)
			}
			return b.String(), nil
		}, nil
	case strings.HasPrefix(fn, "attr:"):
		name := strings.TrimPrefix(fn, "attr:")
		return func(s command.Subject) (any, error) {
			el, err := first(s)
			if err != nil {
				return nil, err
			}
			v, ok := el.Attr(name)
			if !ok {
				return nil, fmt.Errorf("%s has no attribute %q", el, name)
			}
			return v, nil
		}, nil
	}
	return nil, fmt.Errorf("invoke: unknown function %q", fn)
}

type action func(ctx context.Context, d *driver.Driver, in command.Subject, o command.Options) (command.Subject, error)

func (c *ElementChain) act(name, target string, payload any, opts []Opt, fn action) *ElementChain {
	o := options(opts)
	tok := c.t.enqueue(command.KindDomAction, name, target, payload, c.tok, o,
		func(ctx context.Context, r *run, in command.Subject) (command.Subject, error) {
			d, err := r.openPage(ctx)
			if err != nil {
				return in, err
			}
			return fn(ctx, d, in, o)
		})
	return c.next(tok)
}

// Type types text into the element. Braced names are special keys:
// {backspace}, {selectall}, {enter}; "{{}" types a brace.
func (c *ElementChain) Type(text string, opts ...Opt) *ElementChain {
	if _, err := driver.ParseKeys(text); err != nil {
		c.t.reject("type", err)
	}
	return c.act("type", text, text, opts, func(ctx context.Context, d *driver.Driver, in command.Subject, o command.Options) (command.Subject, error) {
		return d.Type(ctx, in, text, o)
	})
}

func (c *ElementChain) Clear(opts ...Opt) *ElementChain {
	return c.act("clear", "", nil, opts, func(ctx context.Context, d *driver.Driver, in command.Subject, o command.Options) (command.Subject, error) {
		return d.Clear(ctx, in, o)
	})
}

func (c *ElementChain) Check(opts ...Opt) *ElementChain {
	return c.act("check", "", nil, opts, func(ctx context.Context, d *driver.Driver, in command.Subject, o command.Options) (command.Subject, error) {
		return d.Check(ctx, in, o)
	})
}

func (c *ElementChain) Uncheck(opts ...Opt) *ElementChain {
	return c.act("uncheck", "", nil, opts, func(ctx context.Context, d *driver.Driver, in command.Subject, o command.Options) (command.Subject, error) {
		return d.Uncheck(ctx, in, o)
	})
}

// Select picks an option by value, or by display text when no value matches.
func (c *ElementChain) Select(value string, opts ...Opt) *ElementChain {
	return c.SelectAll([]string{value}, opts...)
}

// SelectAll picks several options of a multiple select.
func (c *ElementChain) SelectAll(values []string, opts ...Opt) *ElementChain {
	if len(values) == 0 {
		c.t.reject("select", fmt.Errorf("select needs at least one value"))
	}
	return c.act("select", strings.Join(values, ", "), values, opts, func(ctx context.Context, d *driver.Driver, in command.Subject, o command.Options) (command.Subject, error) {
		return d.Select(ctx, in, values, o)
	})
}

func (c *ElementChain) Click(opts ...Opt) *ElementChain {
	return c.act("click", "", nil, opts, func(ctx context.Context, d *driver.Driver, in command.Subject, o command.Options) (command.Subject, error) {
		return d.Click(ctx, in, o)
	})
}

// ClickAt clicks the page at viewport coordinates, e.g. outside a widget to
// close it. The subject passes through.
func (c *ElementChain) ClickAt(x, y int, opts ...Opt) *ElementChain {
	return c.act("clickAt", fmt.Sprintf("%d,%d", x, y), nil, opts, func(ctx context.Context, d *driver.Driver, in command.Subject, o command.Options) (command.Subject, error) {
		return d.ClickAt(ctx, in, x, y, o)
	})
}

// Pick drives a composite multi-select: open it, click each item inside
// spec.Within, then click outside to dismiss it.
func (c *ElementChain) Pick(spec driver.PickSpec, opts ...Opt) *ElementChain {
	if spec.Within == "" || len(spec.Items) == 0 {
		c.t.reject("pick", fmt.Errorf("pick needs a list selector and at least one item"))
	} else if _, err := cascadia.Compile(spec.Within); err != nil {
		c.t.reject("pick", fmt.Errorf("selector %q: %w", spec.Within, err))
	}
	return c.act("pick", strings.Join(spec.Items, ", "), spec, opts, func(ctx context.Context, d *driver.Driver, in command.Subject, o command.Options) (command.Subject, error) {
		return d.Pick(ctx, in, spec, o)
	})
}
