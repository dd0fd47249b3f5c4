// Package driver turns high-level interactions (type, check, select, click)
// into low-level page events. Every action first waits, through the retry
// evaluator, for its target to be visible and enabled; Force skips the wait.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"sea-e2e/internal/assert"
	"sea-e2e/internal/command"
	"sea-e2e/internal/failure"
	"sea-e2e/internal/page"
	"sea-e2e/internal/retry"
)

const DefaultTypeDelay = 10 * time.Millisecond

type Option func(*Driver)

func WithTypeDelay(d time.Duration) Option {
	return func(dr *Driver) { dr.typeDelay = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(dr *Driver) { dr.logger = l }
}

type Driver struct {
	page      page.Page
	eval      *retry.Evaluator
	typeDelay time.Duration
	logger    *slog.Logger
}

func New(p page.Page, eval *retry.Evaluator, opts ...Option) *Driver {
	d := &Driver{page: p, eval: eval, typeDelay: DefaultTypeDelay, logger: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Driver) Page() page.Page { return d.page }

// ---- Queries ----

// Observer re-runs q against the page on every call.
func (d *Driver) Observer(q page.Query) command.Observer {
	var observe command.Observer
	observe = func(ctx context.Context) (command.Subject, error) {
		els, err := d.page.Query(ctx, q)
		if err != nil {
			return command.Subject{}, err
		}
		s := command.Live(command.SubjectElements, els, observe)
		s.Query = &q
		return s, nil
	}
	return observe
}

// Find resolves q. With wait set it polls until at least one element matches
// and fails with ElementNotFound otherwise.
func (d *Driver) Find(ctx context.Context, q page.Query, wait bool, opts command.Options) (command.Subject, error) {
	s, err := d.Observer(q)(ctx)
	if err != nil && !wait {
		return command.Subject{}, failure.New(failure.KindElementNotFound, "query "+q.String(), err)
	}
	if err != nil {
		// keep polling: the document may still be loading
		s = command.Live(command.SubjectElements, []page.Element(nil), d.Observer(q))
		s.Query = &q
	}
	if !wait {
		return s, nil
	}
	res, err := d.eval.WithTimeout(opts.Timeout).Eventually(ctx, s, assert.Exist())
	if err != nil {
		return res.Subject, asElementNotFound(err)
	}
	return res.Subject, nil
}

// ---- Preconditions ----

type need int

const (
	needSingle need = 1 << iota
	needTypeable
	needCheckable
	needSelect
)

// actionable waits until subj satisfies the preconditions of an action and
// returns the fresh observation.
func (d *Driver) actionable(ctx context.Context, subj command.Subject, action string, n need, opts command.Options) (command.Subject, error) {
	if subj.Kind != command.SubjectElements {
		return subj, failure.Newf(failure.KindInvalidCommand, "%s() requires a DOM element subject", action).WithSubject(subj)
	}
	if subj.Live() {
		fresh, err := subj.Refresh(ctx)
		if err != nil {
			fresh = subj
			fresh.Value = []page.Element(nil)
		}
		subj = fresh
	}
	desc := "be visible and enabled"
	if opts.Force {
		desc = "exist"
	}
	cond := func(s command.Subject) error {
		els := s.Elements()
		if len(els) == 0 {
			return assert.Exist().Check(s)
		}
		if n&needSingle != 0 && len(els) > 1 {
			return invalidf(s, "%s() can only be called on a single element, got %d", action, len(els))
		}
		for _, el := range els {
			if msg := shape(action, el, n); msg != "" {
				return invalidf(s, "%s", msg)
			}
			if opts.Force {
				continue
			}
			if !el.Visible {
				return fmt.Errorf("%s is not visible", el)
			}
			if !el.Enabled {
				return fmt.Errorf("%s is disabled", el)
			}
			if n&needTypeable != 0 && el.ReadOnly {
				return fmt.Errorf("%s is readonly", el)
			}
		}
		return nil
	}
	res, err := d.eval.WithTimeout(opts.Timeout).Until(ctx, subj, "expected to "+desc+" before "+action+"()", cond)
	if err != nil {
		return res.Subject, asElementNotFound(err)
	}
	return res.Subject, nil
}

func shape(action string, el page.Element, n need) string {
	switch {
	case n&needTypeable != 0 && !el.Editable():
		return fmt.Sprintf("%s() requires a typeable element, got %s", action, el)
	case n&needCheckable != 0 && !el.Checkable():
		return fmt.Sprintf("%s() requires a checkbox or radio, got %s", action, el)
	case n&needSelect != 0 && el.Tag != "select":
		return fmt.Sprintf("%s() requires a <select>, got %s", action, el)
	}
	return ""
}

// invalidf reports an authoring mistake that no amount of waiting fixes.
func invalidf(s command.Subject, format string, args ...any) error {
	return retry.Stop(failure.Newf(failure.KindInvalidCommand, format, args...).WithSubject(s))
}

// asElementNotFound reports a precondition that never held as ElementNotFound.
func asElementNotFound(err error) error {
	return rekind(err, failure.KindAssertionTimeout, failure.KindElementNotFound)
}

func rekind(err error, from, to failure.Kind) error {
	var fe *failure.Error
	if errors.As(err, &fe) && fe.Kind == from {
		cp := *fe
		cp.Kind = to
		return &cp
	}
	return err
}

func (d *Driver) dispatch(ctx context.Context, el page.Element, types ...page.EventType) error {
	for _, t := range types {
		if err := d.page.Dispatch(ctx, el.Ref, page.Event{Type: t}); err != nil {
			return fmt.Errorf("dispatch %s to %s: %w", t, el, err)
		}
	}
	return nil
}

func (d *Driver) clickElement(ctx context.Context, el page.Element) error {
	return d.dispatch(ctx, el, page.EventMouseDown, page.EventMouseUp, page.EventClick)
}

// ---- Actions ----

// Click clicks the single element of subj.
func (d *Driver) Click(ctx context.Context, subj command.Subject, opts command.Options) (command.Subject, error) {
	s, err := d.actionable(ctx, subj, "click", needSingle, opts)
	if err != nil {
		return s, err
	}
	el := s.Elements()[0]
	d.logger.Debug("click", slog.String("element", el.String()), slog.Bool("force", opts.Force))
	if err := d.clickElement(ctx, el); err != nil {
		return s, err
	}
	return s, nil
}

// ClickAt clicks the page at viewport coordinates once subj is actionable;
// used to dismiss widgets by clicking outside them.
func (d *Driver) ClickAt(ctx context.Context, subj command.Subject, x, y int, opts command.Options) (command.Subject, error) {
	s, err := d.actionable(ctx, subj, "click", needSingle, opts)
	if err != nil {
		return s, err
	}
	if err := d.page.ClickAt(ctx, x, y); err != nil {
		return s, fmt.Errorf("click at %d,%d: %w", x, y, err)
	}
	return s, nil
}

// Type focuses the element and emits keydown/keypress/keyup per character,
// paced at the configured delay.
func (d *Driver) Type(ctx context.Context, subj command.Subject, text string, opts command.Options) (command.Subject, error) {
	keys, err := ParseKeys(text)
	if err != nil {
		return subj, failure.New(failure.KindInvalidCommand, "type()", err)
	}
	s, err := d.actionable(ctx, subj, "type", needSingle|needTypeable, opts)
	if err != nil {
		return s, err
	}
	el := s.Elements()[0]

	delay := d.typeDelay
	if opts.Delay != 0 {
		delay = opts.Delay
	}
	var limiter *rate.Limiter
	if delay > 0 {
		limiter = rate.NewLimiter(rate.Every(delay), 1)
	}

	if err := d.dispatch(ctx, el, page.EventMouseDown, page.EventFocus, page.EventMouseUp, page.EventClick); err != nil {
		return s, err
	}
	d.logger.Debug("type", slog.String("element", el.String()), slog.Int("keys", len(keys)), slog.Duration("delay", delay))
	for _, k := range keys {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return s, failure.New(failure.KindTimeout, "type()", err)
			}
		}
		seq := []page.EventType{page.EventKeyDown, page.EventKeyPress, page.EventKeyUp}
		if k.Special {
			seq = []page.EventType{page.EventKeyDown, page.EventKeyUp}
		}
		for _, t := range seq {
			if err := d.page.Dispatch(ctx, el.Ref, page.Event{Type: t, Key: k.Key}); err != nil {
				return s, fmt.Errorf("dispatch %s %q: %w", t, k.Key, err)
			}
		}
	}
	return s.Refresh(ctx)
}

// Clear empties a text control.
func (d *Driver) Clear(ctx context.Context, subj command.Subject, opts command.Options) (command.Subject, error) {
	opts.Delay = -1
	return d.Type(ctx, subj, "{selectall}{backspace}", opts)
}

// Check checks every checkbox or radio in subj. Already-checked elements are
// left alone; the post-condition is asserted either way.
func (d *Driver) Check(ctx context.Context, subj command.Subject, opts command.Options) (command.Subject, error) {
	return d.setChecked(ctx, subj, true, opts)
}

func (d *Driver) Uncheck(ctx context.Context, subj command.Subject, opts command.Options) (command.Subject, error) {
	return d.setChecked(ctx, subj, false, opts)
}

func (d *Driver) setChecked(ctx context.Context, subj command.Subject, want bool, opts command.Options) (command.Subject, error) {
	action := "check"
	post := assert.Checked()
	if !want {
		action = "uncheck"
		post = assert.Not(assert.Checked())
	}
	s, err := d.actionable(ctx, subj, action, needCheckable, opts)
	if err != nil {
		return s, err
	}
	for _, el := range s.Elements() {
		if el.Checked == want {
			continue
		}
		if !want && strings.EqualFold(el.Attrs["type"], "radio") {
			return s, failure.Newf(failure.KindInvalidCommand, "uncheck() cannot be used on radio %s", el).WithSubject(s)
		}
		if err := d.clickElement(ctx, el); err != nil {
			return s, err
		}
	}
	fresh, err := s.Refresh(ctx)
	if err != nil {
		return s, failure.New(failure.KindElementNotFound, action+"()", err)
	}
	res, err := d.eval.WithTimeout(opts.Timeout).Until(ctx, fresh, "expected to "+post.Description+" after "+action+"()", eachElement(post))
	if err != nil {
		return res.Subject, err
	}
	return res.Subject, nil
}

func eachElement(a assert.Assertion) func(command.Subject) error {
	return func(s command.Subject) error {
		for _, el := range s.Elements() {
			one := command.Immutable(command.SubjectElements, []page.Element{el})
			if err := a.Check(one); err != nil {
				return err
			}
		}
		return nil
	}
}

// Select picks options of a <select> by value, then by display text. It polls
// until every requested option exists, which covers lists filled
// asynchronously, and fails with OptionNotFound otherwise.
func (d *Driver) Select(ctx context.Context, subj command.Subject, values []string, opts command.Options) (command.Subject, error) {
	if len(values) == 0 {
		return subj, failure.Newf(failure.KindInvalidCommand, "select() needs at least one value")
	}
	s, err := d.actionable(ctx, subj, "select", needSingle|needSelect, opts)
	if err != nil {
		return s, err
	}
	if !s.Elements()[0].Multiple && len(values) > 1 {
		return s, failure.Newf(failure.KindInvalidCommand, "select() got %d values for a single <select>", len(values)).WithSubject(s)
	}

	var resolved []string
	desc := fmt.Sprintf("expected to find option %s", quoteAll(values))
	res, err := d.eval.WithTimeout(opts.Timeout).Until(ctx, s, desc, func(cur command.Subject) error {
		els := cur.Elements()
		if len(els) == 0 {
			return assert.Exist().Check(cur)
		}
		out := make([]string, 0, len(values))
		for _, v := range values {
			opt, ok := matchOption(els[0].Options, v)
			if !ok {
				return fmt.Errorf("%s has no option with value or text %q", els[0], v)
			}
			if opt.Disabled {
				return fmt.Errorf("option %q of %s is disabled", v, els[0])
			}
			out = append(out, opt.Value)
		}
		resolved = out
		return nil
	})
	if err != nil {
		return res.Subject, rekind(err, failure.KindAssertionTimeout, failure.KindOptionNotFound)
	}

	el := res.Subject.Elements()[0]
	d.logger.Debug("select", slog.String("element", el.String()), slog.Any("values", resolved))
	if err := d.dispatch(ctx, el, page.EventMouseDown, page.EventFocus, page.EventMouseUp, page.EventClick); err != nil {
		return res.Subject, err
	}
	if err := d.page.Dispatch(ctx, el.Ref, page.Event{Type: page.EventChange, Values: resolved}); err != nil {
		return res.Subject, fmt.Errorf("dispatch change to %s: %w", el, err)
	}
	return res.Subject.Refresh(ctx)
}

func matchOption(opts []page.Option, v string) (page.Option, bool) {
	for _, o := range opts {
		if o.Value == v {
			return o, true
		}
	}
	for _, o := range opts {
		if strings.TrimSpace(o.Text) == strings.TrimSpace(v) {
			return o, true
		}
	}
	return page.Option{}, false
}

func quoteAll(vs []string) string {
	q := make([]string, len(vs))
	for i, v := range vs {
		q[i] = fmt.Sprintf("%q", v)
	}
	return strings.Join(q, ", ")
}

// PickSpec drives a non-native multi-select: Open is clicked, each Item is
// clicked inside Within, and the widget is dismissed by a click outside it.
type PickSpec struct {
	Within string
	Items  []string
	// DismissX and DismissY are the page coordinates clicked to close the widget.
	DismissX, DismissY int
}

// Pick implements the open, pick N, dismiss pattern on the widget in subj.
func (d *Driver) Pick(ctx context.Context, subj command.Subject, spec PickSpec, opts command.Options) (command.Subject, error) {
	if spec.Within == "" || len(spec.Items) == 0 {
		return subj, failure.Newf(failure.KindInvalidCommand, "pick() needs a list selector and at least one item")
	}
	widget, err := d.Click(ctx, subj, opts)
	if err != nil {
		return widget, err
	}
	itemOpts := opts
	itemOpts.Force = false
	for _, item := range spec.Items {
		q := page.Query{Scope: spec.Within, Text: item}
		found, err := d.Find(ctx, q, true, itemOpts)
		if err != nil {
			return found, err
		}
		if _, err := d.Click(ctx, found, itemOpts); err != nil {
			return found, err
		}
	}
	if err := d.page.ClickAt(ctx, spec.DismissX, spec.DismissY); err != nil {
		return widget, fmt.Errorf("dismiss: %w", err)
	}
	return widget.Refresh(ctx)
}
