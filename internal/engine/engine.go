// Package engine is the command queue and its authoring API.
//
// A test body never acts directly: every call on *T enqueues a command and
// returns a typed handle for chaining. Once the body returns, the queue is
// drained strictly in order, one command at a time, with each command's
// assertions settled before the next starts. The first failure aborts the
// rest of the queue.
package engine

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"sea-e2e/internal/command"
	"sea-e2e/internal/config"
	"sea-e2e/internal/contract"
	"sea-e2e/internal/driver"
	"sea-e2e/internal/failure"
	"sea-e2e/internal/intercept"
	"sea-e2e/internal/logging"
	"sea-e2e/internal/metrics"
	"sea-e2e/internal/page"
	"sea-e2e/internal/page/memdom"
	"sea-e2e/internal/policy"
	"sea-e2e/internal/retry"
)

// PageFactory opens the page of one test. client routes every request of the
// page through the test's interception layer.
type PageFactory func(ctx context.Context, client *http.Client, logger *slog.Logger) (page.Page, error)

// MemoryPages opens in-memory pages with the given behaviors, keyed by URL
// pattern.
func MemoryPages(behaviors map[string]memdom.Behavior) PageFactory {
	return func(_ context.Context, client *http.Client, logger *slog.Logger) (page.Page, error) {
		opts := []memdom.Option{memdom.WithClient(client), memdom.WithLogger(logger)}
		for pattern, b := range behaviors {
			opts = append(opts, memdom.WithBehavior(pattern, b))
		}
		return memdom.New(opts...)
	}
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer("sea-e2e/engine") }
}

func WithPageFactory(f PageFactory) Option { return func(e *Engine) { e.pages = f } }

// WithTransport sets the transport behind the interception layer, i.e. the
// real network.
func WithTransport(rt http.RoundTripper) Option { return func(e *Engine) { e.network = rt } }

// WithContract enables contract assertions against an OpenAPI document.
func WithContract(v *contract.Validator) Option { return func(e *Engine) { e.contract = v } }

// WithCapture keeps the log of every test in its Result.
func WithCapture() Option { return func(e *Engine) { e.capture = true } }

// Engine runs tests. It is safe for concurrent use; every Run gets its own
// queue, registry, policy and page.
type Engine struct {
	cfg      config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	pages    PageFactory
	network  http.RoundTripper
	contract *contract.Validator
	capture  bool
}

func New(cfg config.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		logger: slog.Default(),
		tracer: noop.NewTracerProvider().Tracer("sea-e2e/engine"),
		pages:  MemoryPages(nil),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Config() config.Config { return e.cfg }

// run is the context of one test: everything here dies with the test.
type run struct {
	e       *Engine
	q       *Queue
	name    string
	logger  *slog.Logger
	reg     *intercept.Registry
	client  *http.Client
	eval    *retry.Evaluator
	policy  *policy.Policy
	retries int

	pageOnce sync.Once
	pageErr  error
	page     page.Page
	drv      *driver.Driver

	suppressed []page.Error
}

// Run authors the test by calling body, then drains its queue.
func (e *Engine) Run(ctx context.Context, name string, body func(t *T)) Result {
	start := time.Now()
	res := Result{ID: uuid.NewString(), Name: name}

	logger := e.logger
	var capture *logging.Capture
	if e.capture {
		capture = logging.NewCapture()
		logger = slog.New(logging.Fanout{e.logger.Handler(), capture})
	}
	logger = logger.With(slog.String("test", name), slog.String("run", res.ID))

	ctx, span := e.tracer.Start(ctx, "test "+name, trace.WithAttributes(attribute.String("test.id", res.ID)))
	defer span.End()

	r := &run{e: e, q: &Queue{}, name: name, logger: logger}
	r.reg = intercept.NewRegistry(logger, intercept.WithHitHook(func(rec intercept.Record) {
		e.metrics.InterceptHit(rec.Mocked)
	}))
	transport := intercept.NewTransport(r.reg, e.network, e.cfg.FixturesFolder, logger)
	r.client = transport.Client(0)
	r.eval = retry.New(e.cfg.DefaultCommandTimeout.Std(), e.cfg.RetryInterval.Std(),
		retry.WithInterrupt(r.checkPageErrors),
		retry.WithRetryHook(func() {
			r.retries++
			e.metrics.Retry()
		}))

	t := &T{q: r.q, cfg: e.cfg}
	t.author(body)
	r.policy = t.policy
	if rules := r.policy.Rules(); len(rules) > 0 {
		names := make([]string, len(rules))
		for i, rule := range rules {
			names[i] = rule.String()
		}
		logger.Debug("exception policy", slog.Any("rules", names))
	}

	res.Commands = make([]CommandResult, r.q.Len())
	for i, en := range r.q.entries {
		res.Commands[i] = CommandResult{Token: i, Name: en.cmd.String(), Kind: en.cmd.Kind().String(), State: StateSkipped}
	}

	var runErr error
	if t.err != nil {
		runErr = t.err
		res.Failure = newFailure(t.err, "")
	} else {
		res.Failure = r.drain(ctx, res.Commands)
	}
	res.Interceptions = r.reg.Records()
	r.close()

	res.Passed = res.Failure == nil
	res.Duration = time.Since(start)
	res.SuppressedErrors = r.suppressed
	if capture != nil {
		res.Log = capture.Output()
	}
	for _, c := range res.Commands {
		if c.State == StateSkipped {
			e.metrics.CommandSkipped(c.Kind)
		}
	}
	e.metrics.TestDone(res.Passed)

	if res.Failure != nil {
		if runErr == nil {
			runErr = res.Failure
		}
		span.RecordError(runErr)
		span.SetStatus(codes.Error, string(res.Failure.Kind))
		logger.Info("test failed", slog.String("kind", string(res.Failure.Kind)), slog.String("failure", res.Failure.Message))
	} else {
		logger.Info("test passed", slog.Duration("duration", res.Duration))
	}
	return res
}

func (r *run) drain(ctx context.Context, log []CommandResult) *Failure {
	subjects := make(map[command.Token]command.Subject, r.q.Len())
	for i, en := range r.q.entries {
		tok := command.Token(i)
		cmd := en.cmd
		if ctx.Err() != nil {
			return r.fail(&log[i], failure.New(failure.KindTimeout, "test cancelled", ctx.Err()), cmd)
		}
		if err := r.checkPageErrors(); err != nil {
			return r.fail(&log[i], err, cmd)
		}
		var in command.Subject
		if cmd.HasParent() {
			in = subjects[cmd.Parent()]
		}

		cctx, span := r.e.tracer.Start(ctx, cmd.String(), trace.WithAttributes(
			attribute.String("command.kind", cmd.Kind().String()),
			attribute.Int("command.token", i)))
		before := r.retries
		start := time.Now()
		out, err := en.exec(cctx, r, in)
		if err == nil {
			err = r.checkPageErrors()
		}
		log[i].Duration = time.Since(start)
		log[i].Retries = r.retries - before
		r.e.metrics.CommandDone(cmd.Kind().String(), log[i].Duration, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(failure.KindOf(err)))
			span.End()
			return r.fail(&log[i], err, cmd)
		}
		span.End()

		log[i].State = StatePassed
		if out.Value != nil {
			log[i].Subject = clip(failure.FormatSubject(out), 200)
		}
		subjects[tok] = out
		if cmd.Options().Log {
			r.logger.Info("command", slog.String("command", cmd.String()), slog.Duration("duration", log[i].Duration))
		} else {
			r.logger.Debug("command", slog.String("command", cmd.String()), slog.Duration("duration", log[i].Duration))
		}
	}
	return nil
}

func (r *run) fail(line *CommandResult, err error, cmd command.Command) *Failure {
	f := newFailure(err, cmd.String())
	line.State = StateFailed
	line.Error = f.Message
	line.Subject = f.Subject
	return f
}

// checkPageErrors drains the page's uncaught errors. Errors the policy
// suppresses are logged; the first other error fails the current command.
func (r *run) checkPageErrors() error {
	if r.page == nil {
		return nil
	}
	for {
		select {
		case pe := <-r.page.Errors():
			if rule, ok := r.policy.Match(pe); ok {
				r.suppressed = append(r.suppressed, pe)
				r.e.metrics.PageError(true)
				r.logger.Warn("page error suppressed", slog.String("message", pe.Message),
					slog.String("source", pe.Source), slog.String("rule", rule.String()))
				continue
			}
			r.e.metrics.PageError(false)
			return failure.New(failure.KindUnhandledPageException, "uncaught exception in the page", pe)
		default:
			return nil
		}
	}
}

// openPage opens the page on first use so API-only tests never start one.
func (r *run) openPage(ctx context.Context) (*driver.Driver, error) {
	r.pageOnce.Do(func() {
		p, err := r.e.pages(ctx, r.client, r.logger)
		if err != nil {
			r.pageErr = failure.New(failure.KindInvalidCommand, "open page", err)
			return
		}
		r.page = p
		r.drv = driver.New(p, r.eval, driver.WithTypeDelay(r.e.cfg.TypeDelay.Std()), driver.WithLogger(r.logger))
	})
	return r.drv, r.pageErr
}

func (r *run) close() {
	if r.page != nil {
		if err := r.page.Close(); err != nil {
			r.logger.Warn("close page", slog.Any("error", err))
		}
	}
	r.reg.Reset()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
