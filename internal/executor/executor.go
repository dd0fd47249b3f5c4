// Package executor runs YAML suites through the engine, one test per
// scenario.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sea-e2e/internal/engine"
	"sea-e2e/internal/failure"
	"sea-e2e/internal/hooks"
	"sea-e2e/internal/ir"
	"sea-e2e/internal/logging"
	"sea-e2e/internal/vars"
)

// ---- Results model ----

type SuiteResult struct {
	Name      string           `json:"name"`
	Passed    bool             `json:"passed"`
	Scenarios []ScenarioResult `json:"scenarios"`
	Skipped   []string         `json:"skipped,omitempty"`
	Duration  time.Duration    `json:"duration"`
}

// ScenarioResult is the engine result of the scenario's test plus what ran
// around it.
type ScenarioResult struct {
	engine.Result
	Tags       []string       `json:"tags,omitempty"`
	Teardown   *engine.Result `json:"teardown,omitempty"`
	HookErrors []string       `json:"hookErrors,omitempty"`
}

// Counts returns passed and failed scenarios.
func (s *SuiteResult) Counts() (passed, failed int) {
	for _, sc := range s.Scenarios {
		if sc.Passed {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}

// ---- Runner ----

type Runner struct {
	engine   *engine.Engine
	baseVars map[string]string
	envFiles func(name string) (map[string]string, error)

	parallel int
	failFast bool
	include  []string
	exclude  []string

	logger *slog.Logger
	tests  logging.TestLogger
}

func New(e *engine.Engine) *Runner {
	return &Runner{
		engine:   e,
		parallel: 1,
		logger:   slog.Default(),
		tests:    logging.NullTestLogger(),
	}
}

func (r *Runner) WithVars(v map[string]string) *Runner { r.baseVars = vars.Merge(v); return r }

// WithEnvLoader resolves a scenario's env name to extra variables.
func (r *Runner) WithEnvLoader(fn func(name string) (map[string]string, error)) *Runner {
	r.envFiles = fn
	return r
}

func (r *Runner) WithParallel(n int) *Runner {
	if n < 1 {
		n = 1
	}
	r.parallel = n
	return r
}
func (r *Runner) WithFailFast(b bool) *Runner { r.failFast = b; return r }

// WithTags keeps scenarios carrying any include tag (all when empty) and
// none of the exclude tags.
func (r *Runner) WithTags(include, exclude []string) *Runner {
	r.include, r.exclude = include, exclude
	return r
}

func (r *Runner) WithLogger(l *slog.Logger) *Runner         { r.logger = l; return r }
func (r *Runner) WithTestLogger(l logging.TestLogger) *Runner { r.tests = l; return r }

// Selected reports whether the tag filters keep sc.
func (r *Runner) Selected(sc ir.Scenario) bool {
	for _, t := range r.exclude {
		if slices.Contains(sc.Tags, t) {
			return false
		}
	}
	if len(r.include) == 0 {
		return true
	}
	for _, t := range r.include {
		if slices.Contains(sc.Tags, t) {
			return true
		}
	}
	return false
}

// ---- Suite execution ----

func (r *Runner) RunSuite(ctx context.Context, suite *ir.TestSuite) (*SuiteResult, error) {
	if suite == nil {
		return nil, errors.New("nil suite")
	}

	start := time.Now()
	res := &SuiteResult{Name: suite.Name, Passed: true}

	var selected []ir.Scenario
	for _, sc := range suite.Scenarios {
		if r.Selected(sc) {
			selected = append(selected, sc)
			continue
		}
		res.Skipped = append(res.Skipped, sc.Name)
		r.tests.TestSkipped(sc.Name, "filtered by tags")
	}
	res.Scenarios = make([]ScenarioResult, len(selected))

	parallel := r.parallel
	if r.failFast {
		parallel = 1
	}

	if parallel == 1 {
		for i, sc := range selected {
			res.Scenarios[i] = r.runScenario(ctx, suite, sc)
			if !res.Scenarios[i].Passed {
				res.Passed = false
				if r.failFast {
					res.Scenarios = res.Scenarios[:i+1]
					break
				}
			}
		}
		res.Duration = time.Since(start)
		return res, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, sc := range selected {
		i, sc := i, sc
		g.Go(func() error {
			sr := r.runScenario(gctx, suite, sc)
			mu.Lock()
			defer mu.Unlock()
			res.Scenarios[i] = sr
			if !sr.Passed {
				res.Passed = false
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

func (r *Runner) runScenario(ctx context.Context, suite *ir.TestSuite, sc ir.Scenario) ScenarioResult {
	r.tests.TestStarted(sc.Name)
	sr := ScenarioResult{Tags: sc.Tags}

	scVars, err := r.scenarioVars(sc)
	if err != nil {
		sr.Result = hookFailure(sc.Name, "env", err)
		r.finish(sc.Name, &sr)
		return sr
	}
	b := &builder{vars: scVars, baseURL: suite.BaseURL}

	// BEFORE hooks
	for _, hk := range sc.Hooks {
		if hk.When != "before" {
			continue
		}
		out, err := hooks.RunHook(ctx, b.hook(hk), hooks.Input{Vars: vars.Merge(scVars)})
		if err != nil {
			sr.Result = hookFailure(sc.Name, "hook(before)", err)
			r.finish(sc.Name, &sr)
			return sr
		}
		for k, v := range out.Vars {
			if v != "" {
				scVars[k] = v
			}
		}
		sr.HookErrors = append(sr.HookErrors, out.Errors...)
	}

	sr.Result = r.engine.Run(ctx, sc.Name, b.body(sc.Setup, sc.Steps))

	if len(sc.Teardown) > 0 {
		td := r.engine.Run(context.WithoutCancel(ctx), sc.Name+" (teardown)", b.body(sc.Teardown))
		sr.Teardown = &td
		if !td.Passed {
			r.logger.Warn("teardown failed", slog.String("scenario", sc.Name), slog.String("error", td.Failure.Message))
		}
	}

	// AFTER hooks
	for _, hk := range sc.Hooks {
		if hk.When != "after" {
			continue
		}
		out, err := hooks.RunHook(ctx, b.hook(hk), hooks.Input{
			Vars:    vars.Merge(scVars),
			Subject: afterSubject(sr.Result),
		})
		if err != nil {
			sr.HookErrors = append(sr.HookErrors, fmt.Sprintf("hook(after) error: %v", err))
			continue
		}
		sr.HookErrors = append(sr.HookErrors, out.Errors...)
	}

	if len(sr.HookErrors) > 0 && sr.Passed {
		sr.Passed = false
		sr.Failure = &engine.Failure{
			Kind:    failure.KindExecFailed,
			Command: "hook",
			Message: "hook reported errors: " + strings.Join(sr.HookErrors, "; "),
		}
	}
	r.finish(sc.Name, &sr)
	return sr
}

func (r *Runner) scenarioVars(sc ir.Scenario) (map[string]string, error) {
	base := r.baseVars
	if sc.Env != "" && r.envFiles != nil {
		env, err := r.envFiles(sc.Env)
		if err != nil {
			return nil, fmt.Errorf("env %q: %w", sc.Env, err)
		}
		base = vars.Merge(base, env)
	}
	m := vars.Scenario(base)
	for k, v := range sc.Vars {
		m[k] = vars.Expand(v, m)
	}
	return m, nil
}

func (b *builder) hook(h ir.Hook) hooks.Hook {
	return hooks.Hook{
		Cmd:     b.expand(h.Cmd),
		Args:    vars.ExpandAll(h.Args, b.vars).([]string),
		Env:     vars.ExpandAll(h.Env, b.vars).(map[string]string),
		Timeout: ms(h.TimeoutMs),
	}
}

func afterSubject(res engine.Result) map[string]any {
	out := map[string]any{"passed": res.Passed, "id": res.ID}
	if res.Failure != nil {
		out["failure"] = map[string]any{"kind": string(res.Failure.Kind), "message": res.Failure.Message}
	}
	return out
}

func hookFailure(name, cmd string, err error) engine.Result {
	return engine.Result{
		Name: name,
		Failure: &engine.Failure{
			Kind:    failure.KindExecFailed,
			Command: cmd,
			Message: fmt.Sprintf("%s: %v", cmd, err),
		},
	}
}

func (r *Runner) finish(name string, sr *ScenarioResult) {
	if sr.Failure != nil {
		r.tests.TestError(name, sr.Failure)
	}
	r.tests.TestFinished(name, !sr.Passed, sr.Duration, sr.Log)
}
