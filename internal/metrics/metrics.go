// Package metrics counts what the engine does: commands by kind and outcome,
// evaluator retries, interception hits and test outcomes.
package metrics

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

const namespace = "sea_e2e"

// Metrics owns its own registry so parallel runs never share collectors.
type Metrics struct {
	reg *prometheus.Registry

	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	retries         prometheus.Counter
	interceptHits   *prometheus.CounterVec
	tests           *prometheus.CounterVec
	pageErrors      *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands executed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		commandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time from command start until it settled, assertions included.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluator_retries_total",
			Help:      "Re-observations made while polling assertions and preconditions.",
		}),
		interceptHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intercept_hits_total",
			Help:      "Requests seen by the interception layer.",
		}, []string{"mocked"}),
		tests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tests_total",
			Help:      "Tests run, by outcome.",
		}, []string{"outcome"}),
		pageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_errors_total",
			Help:      "Uncaught page errors, by whether the exception policy suppressed them.",
		}, []string{"suppressed"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) CommandDone(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "passed"
	if err != nil {
		outcome = "failed"
	}
	m.commands.WithLabelValues(kind, outcome).Inc()
	m.commandDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) CommandSkipped(kind string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(kind, "skipped").Inc()
}

func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) InterceptHit(mocked bool) {
	if m == nil {
		return
	}
	m.interceptHits.WithLabelValues(fmt.Sprint(mocked)).Inc()
}

func (m *Metrics) PageError(suppressed bool) {
	if m == nil {
		return
	}
	m.pageErrors.WithLabelValues(fmt.Sprint(suppressed)).Inc()
}

func (m *Metrics) TestDone(passed bool) {
	if m == nil {
		return
	}
	outcome := "passed"
	if !passed {
		outcome = "failed"
	}
	m.tests.WithLabelValues(outcome).Inc()
}

// WriteText writes every collected family in the Prometheus text format.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.reg.Gather()
	if err != nil {
		return fmt.Errorf("gather: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

func (m *Metrics) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := m.WriteText(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
