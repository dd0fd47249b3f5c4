package executor_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sea-e2e/internal/executor"
	"sea-e2e/internal/ir"
)

func TestRunSuite_ParallelScenarios(t *testing.T) {
	// Mock server that sleeps 250ms per request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(250 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	step := ir.Step{
		Request: &ir.Request{Method: "GET", URL: srv.URL, TimeoutMs: 2000},
		Chain:   []ir.Link{{Should: ir.Args{"have.status", 200}}},
	}
	suite := &ir.TestSuite{
		Name: "parallel",
		Scenarios: []ir.Scenario{
			{Name: "A", Steps: []ir.Step{step}},
			{Name: "B", Steps: []ir.Step{step}},
		},
	}

	// Parallel(2) should finish in ~250-350ms instead of ~500ms (sequential).
	r := executor.New(testEngine()).WithParallel(2)
	start := time.Now()
	res, err := r.RunSuite(context.Background(), suite)
	if err != nil {
		t.Fatalf("RunSuite: %v", err)
	}
	elapsed := time.Since(start)

	if !res.Passed {
		t.Fatalf("suite failed: %+v", res)
	}
	if res.Scenarios[0].Name != "A" || res.Scenarios[1].Name != "B" {
		t.Fatalf("results must keep suite order, got %s, %s", res.Scenarios[0].Name, res.Scenarios[1].Name)
	}
	if elapsed >= 450*time.Millisecond {
		t.Fatalf("expected parallel speedup (<450ms), got %v", elapsed)
	}
}

func TestRunSuite_ParallelScenariosAreIsolated(t *testing.T) {
	// Each scenario mocks the same URL with its own reply; no route leaks.
	var scenarios []ir.Scenario
	for _, who := range []string{"alpha", "beta", "gamma", "delta"} {
		scenarios = append(scenarios, ir.Scenario{
			Name: who,
			Steps: []ir.Step{
				{Intercept: &ir.Intercept{Route: "GET http://api.test/me", Reply: &ir.Reply{Body: map[string]any{"name": who}, DelayMs: 30}}},
				{
					Request: &ir.Request{Method: "GET", URL: "http://api.test/me"},
					Chain:   []ir.Link{{Its: "body.name"}, {Should: ir.Args{"eq", who}}},
				},
			},
		})
	}
	res, err := executor.New(testEngine()).WithParallel(4).RunSuite(context.Background(), &ir.TestSuite{Name: "iso", Scenarios: scenarios})
	if err != nil {
		t.Fatalf("RunSuite: %v", err)
	}
	for _, sc := range res.Scenarios {
		if !sc.Passed {
			t.Fatalf("%s failed: %+v", sc.Name, sc.Failure)
		}
	}
}
