package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sea-e2e/internal/config"
	"sea-e2e/internal/contract"
	"sea-e2e/internal/engine"
	"sea-e2e/internal/executor"
	"sea-e2e/internal/ir"
	"sea-e2e/internal/logging"
	"sea-e2e/internal/metrics"
	"sea-e2e/internal/parser"
	"sea-e2e/internal/reporter"
	"sea-e2e/internal/vars"
)

type runOptions struct {
	spec        string
	outDir      string
	name        string
	envPaths    []string
	envDir      string
	jsonOut     bool
	junitOut    bool
	htmlOut     bool
	verbose     bool
	openapiPath string
	covMin      float64
	parallel    int
	failFast    bool
	includeTags []string
	excludeTags []string
	browser     string
	trace       bool
	watch       bool
}

func runCmd(configPath *string) *cobra.Command {
	var o runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a suite and write its reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.spec == "" {
				return errors.New("missing --spec")
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if o.browser != "" {
				cfg.Browser = o.browser
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			if o.verbose {
				cfg.LogLevel = "debug"
			}
			if o.watch {
				return watch(cmd.Context(), o, func(ctx context.Context) {
					if _, err := runOnce(ctx, cfg, o); err != nil {
						fmt.Fprintf(os.Stderr, "error: %v\n", err)
					}
				})
			}
			passed, err := runOnce(cmd.Context(), cfg, o)
			if err != nil {
				return err
			}
			if !passed {
				fmt.Println(color.RedString("FAIL"))
				return errFailed
			}
			fmt.Println(color.GreenString("PASS"))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.spec, "spec", "", "Path to the YAML test suite")
	f.StringVar(&o.outDir, "out", "reports", "Output directory for artifacts")
	f.StringVar(&o.name, "name", "", "Optional suite name override")
	f.StringSliceVar(&o.envPaths, "env", nil, "Comma-separated JSON env files (e.g., env/dev.json,env/ci.json)")
	f.StringVar(&o.envDir, "env-dir", "env", "Directory of per-scenario env files, relative to the suite")
	f.BoolVar(&o.jsonOut, "json", true, "Write JSON results")
	f.BoolVar(&o.junitOut, "junit", true, "Write JUnit XML results")
	f.BoolVar(&o.htmlOut, "html", true, "Write HTML report")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "Debug logging and command logs of failed tests")
	f.StringVar(&o.openapiPath, "openapi", "", "Path to OpenAPI (YAML/JSON) for contract checks & coverage")
	f.Float64Var(&o.covMin, "coverage-min", -1, "Fail if coverage percent < this threshold (requires OpenAPI)")
	f.IntVar(&o.parallel, "parallel", 1, "Number of scenarios to execute in parallel")
	f.BoolVar(&o.failFast, "fail-fast", false, "Stop after first failing scenario (forces --parallel=1)")
	f.StringSliceVar(&o.includeTags, "include-tags", nil, "Comma-separated tags to include (OR semantics)")
	f.StringSliceVar(&o.excludeTags, "exclude-tags", nil, "Comma-separated tags to exclude (OR semantics)")
	f.StringVar(&o.browser, "browser", "", "Page backend: memory or chrome (overrides config)")
	f.BoolVar(&o.trace, "trace", false, "Write command spans to <out>/trace.json")
	f.BoolVar(&o.watch, "watch", false, "Rerun when the suite, its OpenAPI document or env files change")
	return cmd
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// runOnce executes the suite and writes every enabled artifact.
func runOnce(ctx context.Context, cfg config.Config, o runOptions) (bool, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return false, err
	}
	logger := logging.New(os.Stderr, level, cfg.LogFormat)

	suite, err := parser.New().ParseFile(o.spec)
	if err != nil {
		return false, fmt.Errorf("parse: %w", err)
	}
	if o.name != "" {
		suite.Name = o.name
	}
	if suite.BaseURL == "" {
		suite.BaseURL = cfg.BaseURL
	}

	baseVars := cfg.Env
	if len(o.envPaths) > 0 {
		loaded, err := vars.LoadJSONFiles(o.envPaths)
		if err != nil {
			return false, fmt.Errorf("load env: %w", err)
		}
		baseVars = vars.Merge(cfg.Env, loaded)
	}

	if err := os.MkdirAll(o.outDir, 0o755); err != nil {
		return false, fmt.Errorf("mkdir out: %w", err)
	}

	m := metrics.New()
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(m),
		engine.WithPageFactory(pageFactory(cfg)),
		engine.WithCapture(),
	}

	var v *contract.Validator
	if file := openapiFile(o, suite); file != "" {
		v, err = contract.LoadFromFile(file)
		if err != nil {
			return false, fmt.Errorf("openapi load: %w", err)
		}
		if suite.BaseURL != "" {
			if err := v.AddServer(suite.BaseURL); err != nil {
				return false, fmt.Errorf("openapi server: %w", err)
			}
		}
		opts = append(opts, engine.WithContract(v))
	}

	if o.trace {
		tp, shutdown, err := fileTracer(filepath.Join(o.outDir, "trace.json"))
		if err != nil {
			return false, err
		}
		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("trace shutdown", slog.Any("error", err))
			}
		}()
		opts = append(opts, engine.WithTracerProvider(tp))
	}

	tests := &logging.ConsoleTestLogger{Out: os.Stdout, DebugOutputOnFailure: o.verbose}
	r := executor.New(engine.New(cfg, opts...)).
		WithVars(baseVars).
		WithEnvLoader(envLoader(filepath.Join(filepath.Dir(o.spec), o.envDir))).
		WithParallel(o.parallel).
		WithFailFast(o.failFast).
		WithTags(o.includeTags, o.excludeTags).
		WithLogger(logger).
		WithTestLogger(tests)

	res, err := r.RunSuite(ctx, suite)
	if err != nil {
		return false, fmt.Errorf("execute: %w", err)
	}
	if len(res.Scenarios) == 0 {
		return false, errors.New("no scenarios left after tag filtering")
	}

	outSuiteName := suite.Name
	if outSuiteName == "" {
		outSuiteName = "sea-e2e"
	}

	var jsonPath string
	if o.jsonOut {
		jsonPath = filepath.Join(o.outDir, "results.json")
		if err := writeFile(jsonPath, func(w io.Writer) error {
			return reporter.WriteJSON(w, res)
		}); err != nil {
			return false, err
		}
	}
	if o.junitOut {
		if err := writeFile(filepath.Join(o.outDir, "junit.xml"), func(w io.Writer) error {
			return reporter.WriteJUnit(w, outSuiteName, res)
		}); err != nil {
			return false, err
		}
	}
	if o.htmlOut {
		// Rendered from results.json when it exists so both always agree.
		err := writeFile(filepath.Join(o.outDir, "report.html"), func(w io.Writer) error {
			if jsonPath != "" {
				return reporter.WriteHTMLFromJSONPath(w, outSuiteName, jsonPath)
			}
			return reporter.WriteHTML(w, outSuiteName, res)
		})
		if err != nil {
			return false, err
		}
	}
	if err := m.WriteFile(filepath.Join(o.outDir, "metrics.prom")); err != nil {
		return false, fmt.Errorf("write metrics: %w", err)
	}

	passed := res.Passed
	if v != nil {
		if err := writeFile(filepath.Join(o.outDir, "coverage.json"), func(w io.Writer) error {
			return reporter.WriteCoverage(w, v.Doc(), v.Covered())
		}); err != nil {
			return false, err
		}
		if o.covMin >= 0 {
			rep := reporter.ComputeCoverage(v.Doc(), v.Covered())
			if rep.Percent+1e-9 < o.covMin {
				fmt.Fprintf(os.Stderr, "coverage gate failed: got %.2f%%, need >= %.2f%%\n", rep.Percent, o.covMin)
				passed = false
			}
		}
	}

	if !res.Passed {
		for _, sc := range res.Scenarios {
			if sc.Passed {
				continue
			}
			fmt.Fprintf(os.Stderr, "\nScenario FAILED: %s\n", sc.Name)
			fmt.Fprint(os.Stderr, indent(reporter.CommandLog(sc.Commands), "  "))
		}
	}
	passedN, failedN := res.Counts()
	fmt.Printf("%d passed, %d failed, %d skipped in %s\n", passedN, failedN, len(res.Skipped), res.Duration.Round(time.Millisecond))
	return passed, nil
}

// openapiFile prefers the flag, then the suite's openapi entry relative to
// the suite file.
func openapiFile(o runOptions, suite *ir.TestSuite) string {
	switch {
	case o.openapiPath != "":
		return o.openapiPath
	case suite.OpenAPI == "":
		return ""
	case filepath.IsAbs(suite.OpenAPI):
		return suite.OpenAPI
	}
	return filepath.Join(filepath.Dir(o.spec), suite.OpenAPI)
}

// envLoader resolves a scenario's env name to dir/<name>.json.
func envLoader(dir string) func(string) (map[string]string, error) {
	return func(name string) (map[string]string, error) {
		if name == "" {
			return nil, nil
		}
		return vars.LoadJSONFiles([]string{filepath.Join(dir, name+".json")})
	}
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func indent(s, prefix string) string {
	lines := strings.SplitAfter(s, "\n")
	var b strings.Builder
	for _, l := range lines {
		if l != "" {
			b.WriteString(prefix + l)
		}
	}
	return b.String()
}
