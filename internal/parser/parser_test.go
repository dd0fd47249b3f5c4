package parser_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"sea-e2e/internal/ir"
	"sea-e2e/internal/parser"
)

const validYAML = `
name: Pet store
baseUrl: https://petstore.swagger.io/v2
scenarios:
  - name: Create pet returns it
    env: staging
    tags: [pets, smoke]
    vars:
      NAME: Rex
    hooks:
      - when: BEFORE
        cmd: go
        args: [run, ./scripts/genid]
    steps:
      - request:
          method: post
          url: /pet
          timeoutMs: 10000
          headers:
            Content-Type: application/json
          body:
            id: ${PET_ID}
            name: ${NAME}
        chain:
          - should: [have.status, 200]
          - its: body.name
          - should: [eq, "${NAME}"]
      - intercept:
          route: GET https://restcountries.eu/rest/v1/all
          as: countries
          reply:
            fixture: countries.json
      - visit: http://demo.automationtesting.in/Register.html
      - get: "#firstpassword"
        chain:
          - type: "secret{enter}"
            delayMs: 5
          - should: exist
      - wait: "@countries"
    teardown:
      - request:
          method: delete
          url: /pet/${PET_ID}
          failOnStatusCode: false
`

const missingNameYAML = `
scenarios: []
`

const unknownFieldYAML = `
name: Foo
scenarios:
  - name: Bar
    steps:
      - visit: http://localhost:8080
    notARealField: true
`

func TestParse_ValidSuite(t *testing.T) {
	p := parser.New()

	suite, err := p.ParseBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("ParseBytes error: %v", err)
	}
	if diff := cmp.Diff("Pet store", suite.Name); diff != "" {
		t.Fatalf("name mismatch (-want +got):\n%s", diff)
	}
	if suite.BaseURL != "https://petstore.swagger.io/v2" {
		t.Fatalf("baseUrl = %q", suite.BaseURL)
	}

	sc := suite.Scenarios[0]
	if sc.Env != "staging" {
		t.Fatalf("env = %s, want staging", sc.Env)
	}
	if sc.Hooks[0].When != "before" {
		t.Fatalf("hook when = %q, want normalized before", sc.Hooks[0].When)
	}
	if got, want := len(sc.Steps), 5; got != want {
		t.Fatalf("steps len = %d, want %d", got, want)
	}

	step := sc.Steps[0]
	if step.Root() != ir.RootRequest {
		t.Fatalf("root = %q, want request", step.Root())
	}
	if step.Request.Method != "POST" {
		t.Fatalf("method = %s, want POST", step.Request.Method)
	}
	if step.Request.TimeoutMs != 10000 {
		t.Fatalf("timeoutMs = %d, want 10000", step.Request.TimeoutMs)
	}
	wantChain := []ir.Link{
		{Should: ir.Args{"have.status", 200}},
		{Its: "body.name"},
		{Should: ir.Args{"eq", "${NAME}"}},
	}
	if diff := cmp.Diff(wantChain, step.Chain); diff != "" {
		t.Fatalf("chain mismatch (-want +got):\n%s", diff)
	}

	ic := sc.Steps[1].Intercept
	if ic.As != "countries" || ic.Reply == nil || ic.Reply.Fixture != "countries.json" {
		t.Fatalf("intercept = %+v", ic)
	}

	typed := sc.Steps[3].Chain[0]
	if typed.Type == nil || *typed.Type != "secret{enter}" || typed.DelayMs != 5 {
		t.Fatalf("type link = %+v", typed)
	}
	if got := sc.Steps[3].Chain[1].Should; !cmp.Equal(got, ir.Args{"exist"}) {
		t.Fatalf("bare chainer decoded as %v", got)
	}

	td := sc.Teardown[0].Request
	if td.Method != "DELETE" || td.FailOnStatusCode == nil || *td.FailOnStatusCode {
		t.Fatalf("teardown request = %+v", td)
	}
}

func TestParse_Validation_MissingName(t *testing.T) {
	p := parser.New()

	_, err := p.ParseBytes([]byte(missingNameYAML))
	if err == nil {
		t.Fatal("expected error for missing suite name, got nil")
	}
	if !errors.Is(err, parser.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestParse_KnownFieldsEnforced(t *testing.T) {
	p := parser.New()

	_, err := p.ParseBytes([]byte(unknownFieldYAML))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	const head = "name: S\nscenarios:\n  - name: A\n    steps:\n"
	tests := []struct {
		name  string
		steps string
		want  string
	}{
		{"no root", "      - chain: [{should: exist}]\n", "has no command"},
		{"two roots", "      - visit: http://x\n        log: hi\n", "more than one command"},
		{"request without url", "      - request: {method: GET}\n", "request.url"},
		{"bad route", "      - intercept: {route: \"GET [\"}\n", "intercept.route"},
		{"bad exception pattern", "      - ignoreExceptions: {patterns: [\"(\"]}\n", "ignoreExceptions.patterns"},
		{"chain on visit", "      - visit: http://x\n        chain: [{should: exist}]\n", "needs a subject"},
		{"type on response", "      - request: {method: GET, url: http://x}\n        chain: [{type: abc}]\n", "elements only"},
		{"contract on element", "      - get: input\n        chain: [{contract: true}]\n", "request responses only"},
		{"click after its", "      - get: input\n        chain: [{its: length}, {click: true}]\n", "elements only"},
		{"two actions", "      - get: input\n        chain: [{click: true, clear: true}]\n", "more than one action"},
		{"empty pick", "      - get: '#msdd'\n        chain: [{pick: {within: ul}}]\n", "pick needs"},
		{"hook when", "      - visit: http://x\n    hooks: [{when: during, cmd: x}]\n", "before or after"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.New().ParseBytes([]byte(head + tt.steps))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !errors.Is(err, parser.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParse_RouteWithVariableSkipsPatternCheck(t *testing.T) {
	const y = "name: S\nscenarios:\n  - name: A\n    steps:\n      - intercept: {route: \"GET ${API}/pet/*\"}\n"
	if _, err := parser.New().ParseBytes([]byte(y)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseFile(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "suite.yaml")
	if err := os.WriteFile(fp, []byte(validYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	suite, err := parser.New().ParseFile(fp)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if suite.Name != "Pet store" {
		t.Fatalf("name = %q", suite.Name)
	}

	_, err = parser.New().ParseFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected read error")
	}
}

func TestParseFile_BundledSuites(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "..", "testdata", "suites", "*.yaml"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(paths) == 0 {
		t.Fatal("no bundled suites")
	}
	for _, p := range paths {
		t.Run(filepath.Base(p), func(t *testing.T) {
			suite, err := parser.New().ParseFile(p)
			if err != nil {
				t.Fatalf("ParseFile: %v", err)
			}
			if len(suite.Scenarios) == 0 {
				t.Fatal("no scenarios")
			}
		})
	}
}
