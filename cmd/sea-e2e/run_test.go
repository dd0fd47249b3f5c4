package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sea-e2e/internal/config"
	"sea-e2e/internal/executor"
	"sea-e2e/internal/fixture"
	"sea-e2e/internal/ir"
	"sea-e2e/internal/logging"
)

const cliSuite = `
name: CLI
openapi: petstore.openapi.yaml
scenarios:
  - name: fetch a pet
    steps:
      - request: {method: GET, url: /pet/1}
        chain:
          - contract: true
          - its: body.name
          - should: [eq, Rex]
  - name: tagged out
    tags: [slow]
    steps: [{log: skipped}]
`

func writeSuite(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "petstore.openapi.yaml"), fixture.PetStoreOpenAPI(), 0o644))
	suite := "baseUrl: " + baseURL + "\n" + cliSuite
	path := filepath.Join(dir, "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(suite), 0o644))
	return path
}

func cliOptions(spec, out string) runOptions {
	return runOptions{
		spec:        spec,
		outDir:      out,
		envDir:      "env",
		jsonOut:     true,
		junitOut:    true,
		htmlOut:     true,
		covMin:      -1,
		parallel:    1,
		excludeTags: []string{"slow"},
	}
}

func TestRunOnce_WritesArtifacts(t *testing.T) {
	srv := httptest.NewServer(fixture.NewHandler(logging.Discard()))
	defer srv.Close()

	out := t.TempDir()
	o := cliOptions(writeSuite(t, srv.URL+"/v2"), out)
	o.trace = true

	passed, err := runOnce(context.Background(), config.Default(), o)
	require.NoError(t, err)
	assert.True(t, passed)

	for _, name := range []string{"results.json", "junit.xml", "report.html", "metrics.prom", "coverage.json", "trace.json"} {
		assert.FileExists(t, filepath.Join(out, name))
	}

	b, err := os.ReadFile(filepath.Join(out, "results.json"))
	require.NoError(t, err)
	var res executor.SuiteResult
	require.NoError(t, json.Unmarshal(b, &res))
	assert.Equal(t, "CLI", res.Name)
	assert.Equal(t, []string{"tagged out"}, res.Skipped)
}

func TestRunOnce_CoverageGate(t *testing.T) {
	srv := httptest.NewServer(fixture.NewHandler(logging.Discard()))
	defer srv.Close()

	o := cliOptions(writeSuite(t, srv.URL+"/v2"), t.TempDir())
	o.covMin = 50

	passed, err := runOnce(context.Background(), config.Default(), o)
	require.NoError(t, err)
	assert.False(t, passed, "one of four operations is below the gate")
}

func TestOpenAPIFileResolution(t *testing.T) {
	o := runOptions{spec: filepath.Join("suites", "a.yaml")}
	suite := &ir.TestSuite{OpenAPI: "doc.yaml"}
	assert.Equal(t, filepath.Join("suites", "doc.yaml"), openapiFile(o, suite))

	o.openapiPath = "flag.yaml"
	assert.Equal(t, "flag.yaml", openapiFile(o, suite))

	o.openapiPath = ""
	suite.OpenAPI = ""
	assert.Empty(t, openapiFile(o, suite))
}

func TestEnvLoader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ci.json"), []byte(`{"HOST":"ci.local"}`), 0o644))

	load := envLoader(dir)
	m, err := load("ci")
	require.NoError(t, err)
	assert.Equal(t, "ci.local", m["HOST"])

	_, err = load("missing")
	assert.Error(t, err)
}

func TestIndent(t *testing.T) {
	assert.Equal(t, "  a\n  b\n", indent("a\nb\n", "  "))
	assert.Empty(t, indent("", "  "))
}
