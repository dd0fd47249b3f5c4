package metrics_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sea-e2e/internal/metrics"
)

func TestCountersAndTextExposition(t *testing.T) {
	m := metrics.New()
	m.CommandDone("dom-action", 20*time.Millisecond, nil)
	m.CommandDone("assertion", time.Second, errors.New("boom"))
	m.CommandSkipped("dom-query")
	m.Retry()
	m.Retry()
	m.InterceptHit(true)
	m.PageError(true)
	m.TestDone(false)

	n, err := testutil.GatherAndCount(m.Registry(), "sea_e2e_commands_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var buf bytes.Buffer
	require.NoError(t, m.WriteText(&buf))
	out := buf.String()
	assert.Contains(t, out, "sea_e2e_evaluator_retries_total 2")
	assert.Contains(t, out, `sea_e2e_commands_total{kind="assertion",outcome="failed"} 1`)
	assert.Contains(t, out, `sea_e2e_intercept_hits_total{mocked="true"} 1`)
	assert.Contains(t, out, `sea_e2e_tests_total{outcome="failed"} 1`)
}

func TestNilMetricsIsANoop(t *testing.T) {
	var m *metrics.Metrics
	m.Retry()
	m.CommandDone("x", time.Millisecond, nil)
	m.TestDone(true)
}
