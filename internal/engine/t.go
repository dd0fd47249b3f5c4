package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"

	"sea-e2e/internal/command"
	"sea-e2e/internal/config"
	"sea-e2e/internal/failure"
	"sea-e2e/internal/hooks"
	"sea-e2e/internal/intercept"
	"sea-e2e/internal/page"
	"sea-e2e/internal/policy"
)

// T is handed to a test body. Every method enqueues a command and returns at
// once; nothing touches the network or the page until the body has returned.
type T struct {
	q      *Queue
	cfg    config.Config
	policy *policy.Policy
	err    error
}

func (t *T) author(body func(t *T)) {
	defer func() {
		if p := recover(); p != nil {
			t.reject("", fmt.Errorf("panic: %v", p))
		}
	}()
	body(t)
}

// reject records the first authoring error. The test then fails with
// InvalidCommand before any command runs.
func (t *T) reject(cmd string, err error) {
	if t.err != nil {
		return
	}
	t.err = failure.New(failure.KindInvalidCommand, "", fmt.Errorf("%w: %w", ErrAuthoring, err)).WithCommand(cmd)
}

// Errorf rejects the test body. Nothing enqueued runs and the test fails
// with InvalidCommand.
func (t *T) Errorf(format string, args ...any) {
	t.reject("", fmt.Errorf(format, args...))
}

// Err returns the authoring error, if any.
func (t *T) Err() error { return t.err }

// Opt adjusts one command's options.
type Opt func(*command.Options)

// Timeout overrides the default command timeout.
func Timeout(d time.Duration) Opt { return func(o *command.Options) { o.Timeout = d } }

// Force skips actionability checks.
func Force() Opt { return func(o *command.Options) { o.Force = true } }

// Delay sets the per-keystroke delay of Type.
func Delay(d time.Duration) Opt { return func(o *command.Options) { o.Delay = d } }

// Logged logs the command at info level instead of debug.
func Logged() Opt { return func(o *command.Options) { o.Log = true } }

func options(opts []Opt) command.Options {
	var o command.Options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (t *T) enqueue(kind command.Kind, name, target string, payload any, parent command.Token, o command.Options, exec step) command.Token {
	return t.q.Enqueue(command.New(kind, name, target, payload, parent, o), exec)
}

// OnUncaughtException installs the exception policy of this test. A later call
// replaces an earlier one.
func (t *T) OnUncaughtException(p *policy.Policy) { t.policy = p }

// ---- network ----

type requestSpec struct {
	method       string
	url          string
	body         any
	headers      http.Header
	failOnStatus bool
	timeout      time.Duration
}

type RequestOption func(*requestSpec)

// Body sets the request body. Strings and byte slices are sent as is; anything
// else is encoded as JSON.
func Body(v any) RequestOption { return func(s *requestSpec) { s.body = v } }

func Header(key, value string) RequestOption {
	return func(s *requestSpec) { s.headers.Add(key, value) }
}

func Headers(h map[string]string) RequestOption {
	return func(s *requestSpec) {
		for k, v := range h {
			s.headers.Set(k, v)
		}
	}
}

// AllowFailureStatus accepts 4xx and 5xx responses instead of failing.
func AllowFailureStatus() RequestOption { return func(s *requestSpec) { s.failOnStatus = false } }

func RequestTimeout(d time.Duration) RequestOption { return func(s *requestSpec) { s.timeout = d } }

// Request enqueues an HTTP request. target is "METHOD url" or a bare URL for GET;
// relative URLs resolve against the configured base URL.
func (t *T) Request(target string, opts ...RequestOption) *ResponseChain {
	method, raw := command.SplitMethodURL(target)
	spec := &requestSpec{method: method, url: raw, headers: http.Header{}, failOnStatus: true}
	for _, o := range opts {
		o(spec)
	}
	name := "request"
	if raw == "" {
		t.reject(name, fmt.Errorf("request %q has no URL", target))
	}
	tok := t.enqueue(command.KindNetwork, name, method+" "+raw, spec, command.NoToken, command.Options{Timeout: spec.timeout},
		func(ctx context.Context, r *run, _ command.Subject) (command.Subject, error) {
			resp, err := r.request(ctx, spec)
			if err != nil {
				return command.Subject{}, err
			}
			return command.Immutable(command.SubjectResponse, resp), nil
		})
	return &ResponseChain{chain{t: t, tok: tok}}
}

func (r *run) resolve(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", failure.New(failure.KindInvalidCommand, "parse url "+raw, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if r.e.cfg.BaseURL == "" {
		return "", failure.Newf(failure.KindInvalidCommand, "relative url %q needs a base URL", raw)
	}
	base, err := url.Parse(r.e.cfg.BaseURL)
	if err != nil {
		return "", failure.New(failure.KindInvalidCommand, "parse base url", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(&url.URL{Path: strings.TrimPrefix(u.Path, "/"), RawQuery: u.RawQuery}).String(), nil
}

func (r *run) request(ctx context.Context, spec *requestSpec) (*command.Response, error) {
	target, err := r.resolve(spec.url)
	if err != nil {
		return nil, err
	}
	desc := spec.method + " " + target

	var body io.Reader
	contentType := ""
	switch b := spec.body.(type) {
	case nil:
	case string:
		body = strings.NewReader(b)
	case []byte:
		body = bytes.NewReader(b)
	default:
		enc, err := json.Marshal(b)
		if err != nil {
			return nil, failure.New(failure.KindInvalidCommand, "encode body of "+desc, err)
		}
		body = bytes.NewReader(enc)
		contentType = "application/json"
	}

	timeout := spec.timeout
	if timeout <= 0 {
		timeout = r.e.cfg.ResponseTimeout.Std()
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var rec intercept.Record
	cctx = intercept.WithRecorder(cctx, func(got intercept.Record) { rec = got })

	req, err := http.NewRequestWithContext(cctx, spec.method, target, body)
	if err != nil {
		return nil, failure.New(failure.KindInvalidCommand, "build "+desc, err)
	}
	req.Header = spec.headers.Clone()
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	res, err := r.client.Do(req)
	if err != nil {
		if cctx.Err() != nil {
			return nil, failure.New(failure.KindTimeout, fmt.Sprintf("%s within %s", desc, timeout), err)
		}
		return nil, failure.New(failure.KindRequestFailed, desc, err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, failure.New(failure.KindRequestFailed, "read body of "+desc, err)
	}

	resp := &command.Response{
		Method:     spec.method,
		URL:        target,
		Status:     res.StatusCode,
		StatusText: http.StatusText(res.StatusCode),
		Headers:    res.Header,
		Body:       command.DecodeBody(raw),
		RawBody:    raw,
		Duration:   time.Since(start),
		Mocked:     rec.Mocked,
	}
	r.logger.Debug("request", slog.String("request", desc), slog.Int("status", resp.Status),
		slog.Bool("mocked", resp.Mocked), slog.Duration("duration", resp.Duration))
	if spec.failOnStatus && resp.Status >= 400 {
		return resp, failure.Newf(failure.KindRequestFailed, "%s: status %d is not 2xx or 3xx", desc, resp.Status).
			WithSubject(command.Immutable(command.SubjectResponse, resp))
	}
	return resp, nil
}

// Intercept registers a mocked route when the command runs. target is
// "METHOD pattern"; a pattern without a method matches any method.
func (t *T) Intercept(target string, resp intercept.Response) *Route {
	return t.route("intercept", target, &resp)
}

// Spy registers a passthrough route: matching requests reach the network and
// are recorded under the route's alias.
func (t *T) Spy(target string) *Route {
	return t.route("spy", target, nil)
}

func (t *T) route(name, target string, resp *intercept.Response) *Route {
	rt := &Route{t: t}
	p, err := intercept.ParsePattern(target)
	if err != nil {
		t.reject(name, err)
	}
	rt.tok = t.enqueue(command.KindSetup, name, target, resp, command.NoToken, command.Options{},
		func(_ context.Context, r *run, _ command.Subject) (command.Subject, error) {
			r.reg.Intercept(p, resp, rt.alias)
			return command.Subject{}, nil
		})
	return rt
}

// Route is the handle of an intercept or spy.
type Route struct {
	t     *T
	tok   command.Token
	alias string
}

// As names the route so Wait("@alias") can wait for its hits.
func (rt *Route) As(alias string) *Route {
	rt.alias = strings.TrimPrefix(alias, "@")
	if rt.alias == "" {
		rt.t.reject("as", fmt.Errorf("empty alias"))
	}
	return rt
}

// Wait waits for the next hit of an alias ("@name") or sleeps for a duration
// ("500ms", or a bare number of milliseconds).
func (t *T) Wait(target string, opts ...Opt) *ValueChain {
	o := options(opts)
	if alias, ok := strings.CutPrefix(target, "@"); ok {
		tok := t.enqueue(command.KindWait, "wait", target, alias, command.NoToken, o,
			func(ctx context.Context, r *run, _ command.Subject) (command.Subject, error) {
				timeout := o.Timeout
				if timeout <= 0 {
					timeout = r.e.cfg.RequestTimeout.Std()
				}
				rec, err := r.reg.Wait(ctx, alias, timeout)
				if err != nil {
					return command.Subject{}, err
				}
				return command.Immutable(command.SubjectValue, interception(rec)), nil
			})
		return &ValueChain{chain{t: t, tok: tok}}
	}

	d, err := time.ParseDuration(target)
	if err != nil {
		ms, aerr := strconv.Atoi(target)
		if aerr != nil {
			t.reject("wait", fmt.Errorf("wait %q: expected @alias or a duration", target))
		}
		d = time.Duration(ms) * time.Millisecond
	}
	tok := t.enqueue(command.KindWait, "wait", target, d, command.NoToken, o,
		func(ctx context.Context, _ *run, _ command.Subject) (command.Subject, error) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
				return command.Subject{}, nil
			case <-ctx.Done():
				return command.Subject{}, failure.New(failure.KindTimeout, "wait "+target, ctx.Err())
			}
		})
	return &ValueChain{chain{t: t, tok: tok}}
}

// interception is the subject yielded by waiting on an alias.
func interception(rec intercept.Record) map[string]any {
	return map[string]any{
		"id":     rec.ID,
		"alias":  rec.Alias,
		"mocked": rec.Mocked,
		"request": map[string]any{
			"method": rec.Method,
			"url":    rec.URL,
			"body":   command.DecodeBody([]byte(rec.RequestBody)),
		},
		"response": map[string]any{
			"statusCode": rec.Status,
			"body":       command.DecodeBody([]byte(rec.ResponseBody)),
		},
	}
}

// ---- page ----

// Visit loads url into the page. Relative URLs resolve against the base URL.
func (t *T) Visit(rawURL string, opts ...Opt) {
	o := options(opts)
	t.enqueue(command.KindSetup, "visit", rawURL, nil, command.NoToken, o,
		func(ctx context.Context, r *run, _ command.Subject) (command.Subject, error) {
			target, err := r.resolve(rawURL)
			if err != nil {
				return command.Subject{}, err
			}
			d, err := r.openPage(ctx)
			if err != nil {
				return command.Subject{}, err
			}
			timeout := o.Timeout
			if timeout <= 0 {
				timeout = r.e.cfg.ResponseTimeout.Std()
			}
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := d.Page().Visit(cctx, target); err != nil {
				if cctx.Err() != nil {
					return command.Subject{}, failure.New(failure.KindTimeout, "visit "+target, err)
				}
				return command.Subject{}, failure.New(failure.KindRequestFailed, "visit "+target, err)
			}
			return command.Subject{}, nil
		})
}

// Get queries the page by CSS selector, waiting until at least one element
// matches.
func (t *T) Get(selector string, opts ...Opt) *ElementChain {
	return t.query("get", page.Query{Selector: selector}, command.NoToken, opts)
}

// Contains yields the first deepest element matching selector whose text
// contains text. An empty selector searches the whole document.
func (t *T) Contains(selector, text string, opts ...Opt) *ElementChain {
	return t.query("contains", page.Query{Selector: selector, Text: text}, command.NoToken, opts)
}

func (t *T) query(name string, q page.Query, parent command.Token, opts []Opt) *ElementChain {
	for _, sel := range []string{q.Scope, q.Selector} {
		if sel == "" {
			continue
		}
		if _, err := cascadia.Compile(sel); err != nil {
			t.reject(name, fmt.Errorf("selector %q: %w", sel, err))
		}
	}
	if q.Selector == "" && q.Text == "" {
		t.reject(name, fmt.Errorf("%s needs a selector or text", name))
	}
	o := options(opts)
	var tok command.Token
	tok = t.enqueue(command.KindDomQuery, name, q.String(), q, parent, o,
		func(ctx context.Context, r *run, _ command.Subject) (command.Subject, error) {
			d, err := r.openPage(ctx)
			if err != nil {
				return command.Subject{}, err
			}
			return d.Find(ctx, q, !r.q.expectsAbsence(tok), o)
		})
	return &ElementChain{chain: chain{t: t, tok: tok}, query: q}
}

// URL yields the page location as a live value.
func (t *T) URL() *ValueChain {
	tok := t.enqueue(command.KindDomQuery, "url", "", nil, command.NoToken, command.Options{},
		func(ctx context.Context, r *run, _ command.Subject) (command.Subject, error) {
			d, err := r.openPage(ctx)
			if err != nil {
				return command.Subject{}, err
			}
			var observe command.Observer
			observe = func(ctx context.Context) (command.Subject, error) {
				loc, err := d.Page().Location(ctx)
				if err != nil {
					return command.Subject{}, err
				}
				return command.Live(command.SubjectValue, loc, observe), nil
			}
			return observe(ctx)
		})
	return &ValueChain{chain{t: t, tok: tok}}
}

// ---- misc ----

// Log writes msg to the test log when the queue reaches it.
func (t *T) Log(msg string, args ...any) {
	t.enqueue(command.KindSetup, "log", msg, nil, command.NoToken, command.Options{},
		func(_ context.Context, r *run, _ command.Subject) (command.Subject, error) {
			r.logger.Info(msg, args...)
			return command.Subject{}, nil
		})
}

type execSpec struct {
	hooks.Spec
	failOnNonZero bool
}

type ExecOption func(*execSpec)

// AllowNonZeroExit makes a failing process a normal subject.
func AllowNonZeroExit() ExecOption { return func(s *execSpec) { s.failOnNonZero = false } }

func ExecEnv(env map[string]string) ExecOption { return func(s *execSpec) { s.Env = env } }

func ExecTimeout(d time.Duration) ExecOption { return func(s *execSpec) { s.Timeout = d } }

func ExecDir(dir string) ExecOption { return func(s *execSpec) { s.Dir = dir } }

// Exec runs a process. The subject is {code, stdout, stderr}; a non-zero exit
// fails with ExecFailed unless AllowNonZeroExit is given.
func (t *T) Exec(name string, args []string, opts ...ExecOption) *ValueChain {
	spec := &execSpec{Spec: hooks.Spec{Cmd: name, Args: args}, failOnNonZero: true}
	for _, o := range opts {
		o(spec)
	}
	if strings.TrimSpace(name) == "" {
		t.reject("exec", fmt.Errorf("exec needs a command"))
	}
	tok := t.enqueue(command.KindExec, "exec", spec.String(), spec, command.NoToken, command.Options{Timeout: spec.Timeout},
		func(ctx context.Context, r *run, _ command.Subject) (command.Subject, error) {
			res, err := hooks.Exec(ctx, spec.Spec)
			subj := command.Immutable(command.SubjectValue, map[string]any{
				"code":   res.Code,
				"stdout": res.Stdout,
				"stderr": res.Stderr,
			})
			if err != nil {
				kind := failure.KindExecFailed
				if ctx.Err() != nil {
					kind = failure.KindTimeout
				}
				return subj, failure.New(kind, spec.String(), err).WithSubject(res)
			}
			if spec.failOnNonZero && res.Code != 0 {
				return subj, failure.Newf(failure.KindExecFailed, "%s exited with code %d", spec.String(), res.Code).WithSubject(res)
			}
			r.logger.Debug("exec", slog.String("cmd", spec.String()), slog.Int("code", res.Code))
			return subj, nil
		})
	return &ValueChain{chain{t: t, tok: tok}}
}
