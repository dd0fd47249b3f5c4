// Package retry implements the retry-assertion evaluator: it re-observes a live
// subject until its assertions pass or the retry budget is spent.
package retry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"sea-e2e/internal/assert"
	"sea-e2e/internal/command"
	"sea-e2e/internal/failure"
)

const (
	DefaultTimeout  = 4 * time.Second
	DefaultInterval = 50 * time.Millisecond

	initialInterval = 10 * time.Millisecond
)

type Option func(*Evaluator)

// WithInterrupt installs a check run before every evaluation. A non-nil error
// aborts polling immediately and is returned as is.
func WithInterrupt(fn func() error) Option {
	return func(e *Evaluator) { e.interrupt = fn }
}

// WithRetryHook is called once per re-observation.
func WithRetryHook(fn func()) Option {
	return func(e *Evaluator) { e.onRetry = fn }
}

type Evaluator struct {
	timeout   time.Duration
	interval  time.Duration
	interrupt func() error
	onRetry   func()
}

func New(timeout, interval time.Duration, opts ...Option) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	e := &Evaluator{timeout: timeout, interval: interval}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Evaluator) Timeout() time.Duration  { return e.timeout }
func (e *Evaluator) Interval() time.Duration { return e.interval }

// WithTimeout returns a copy with a different budget; zero keeps the current one.
func (e *Evaluator) WithTimeout(d time.Duration) *Evaluator {
	cp := *e
	if d > 0 {
		cp.timeout = d
	}
	return &cp
}

// Result describes one settled evaluation.
type Result struct {
	Subject  command.Subject
	Attempts int
}

// Eventually evaluates all assertions against subj. Immutable subjects are
// evaluated exactly once; live subjects are re-observed until every assertion
// passes in the same observation.
func (e *Evaluator) Eventually(ctx context.Context, subj command.Subject, as ...assert.Assertion) (Result, error) {
	desc := describe(as)
	check := func(s command.Subject) error {
		for _, a := range as {
			if err := a.Check(s); err != nil {
				return err
			}
		}
		return nil
	}
	if !subj.Live() {
		if err := e.interrupted(); err != nil {
			return Result{Subject: subj, Attempts: 0}, err
		}
		if err := check(subj); err != nil {
			return Result{Subject: subj, Attempts: 1},
				failure.New(failure.KindAssertionFailed, desc, err).WithSubject(subj)
		}
		return Result{Subject: subj, Attempts: 1}, nil
	}
	return e.Until(ctx, subj, desc, check)
}

// Until polls subj until cond passes. The first evaluation uses subj as given;
// every later one observes it afresh.
func (e *Evaluator) Until(ctx context.Context, subj command.Subject, desc string, cond func(command.Subject) error) (Result, error) {
	deadline := time.Now().Add(e.timeout)
	bo := e.newBackOff()

	cur := subj
	var lastErr, obsErr error
	for attempt := 1; ; attempt++ {
		if err := e.interrupted(); err != nil {
			return Result{Subject: cur, Attempts: attempt - 1}, err
		}
		if obsErr != nil {
			lastErr = obsErr
		} else if lastErr = cond(cur); lastErr == nil {
			return Result{Subject: cur, Attempts: attempt}, nil
		}
		var perm *backoff.PermanentError
		if errors.As(lastErr, &perm) {
			return Result{Subject: cur, Attempts: attempt}, perm.Unwrap()
		}

		remaining := time.Until(deadline)
		if remaining <= 0 || !cur.Live() {
			return Result{Subject: cur, Attempts: attempt}, e.exhausted(desc, cur, lastErr, obsErr)
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop || wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{Subject: cur, Attempts: attempt}, contextFailure(ctx, desc, cur, lastErr)
		case <-timer.C:
		}

		if e.onRetry != nil {
			e.onRetry()
		}
		fresh, err := cur.Refresh(ctx)
		if err != nil {
			obsErr = err
			continue
		}
		cur, obsErr = fresh, nil
	}
}

// Stop marks a condition error as final: Until returns it at once instead of
// polling on.
func Stop(err error) error { return backoff.Permanent(err) }

func (e *Evaluator) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min(initialInterval, e.interval)
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = e.interval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (e *Evaluator) interrupted() error {
	if e.interrupt == nil {
		return nil
	}
	return e.interrupt()
}

func (e *Evaluator) exhausted(desc string, cur command.Subject, lastErr, obsErr error) error {
	kind := failure.KindAssertionTimeout
	if obsErr != nil || assert.IsMissingElement(lastErr) {
		kind = failure.KindElementNotFound
	}
	var fe *failure.Error
	if errors.As(lastErr, &fe) {
		return fe
	}
	return failure.New(kind, desc, lastErr).WithSubject(cur)
}

func contextFailure(ctx context.Context, desc string, cur command.Subject, lastErr error) error {
	cause := ctx.Err()
	if lastErr != nil {
		cause = errors.Join(lastErr, cause)
	}
	return failure.New(failure.KindTimeout, desc, cause).WithSubject(cur)
}

func describe(as []assert.Assertion) string {
	parts := make([]string, 0, len(as))
	for _, a := range as {
		parts = append(parts, a.Description)
	}
	return "expected to " + strings.Join(parts, " and ")
}
