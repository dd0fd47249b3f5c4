package vars_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"sea-e2e/internal/vars"
)

func TestLoadJSONFiles(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "env.json")
	if err := os.WriteFile(fp, []byte(`{"BASE_URL":"http://x","NUM":42,"BOOL":true}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := vars.LoadJSONFiles([]string{fp})
	if err != nil {
		t.Fatalf("LoadJSONFiles: %v", err)
	}
	want := map[string]string{"BASE_URL": "http://x", "NUM": "42", "BOOL": "true"}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Fatalf("vars mismatch (-want +got):\n%s", diff)
	}
}

func TestExpand(t *testing.T) {
	m := map[string]string{"HOST": "petstore.swagger.io", "EMPTY": ""}
	cases := []struct{ in, want string }{
		{"https://${HOST}/v2/pet", "https://petstore.swagger.io/v2/pet"},
		{"${MISSING|8080}", "8080"},
		{"${EMPTY|fallback}", "fallback"},
		{"${MISSING}", "${MISSING}"},
		{"plain", "plain"},
	}
	for _, tc := range cases {
		if got := vars.Expand(tc.in, m); got != tc.want {
			t.Errorf("Expand(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExpandAllWalksBodies(t *testing.T) {
	m := map[string]string{"id": "77"}
	in := map[string]any{"id": "${id}", "tags": []any{map[string]any{"name": "t-${id}"}}, "n": 1}
	want := map[string]any{"id": "77", "tags": []any{map[string]any{"name": "t-77"}}, "n": 1}
	if diff := cmp.Diff(want, vars.ExpandAll(in, m)); diff != "" {
		t.Fatalf("ExpandAll mismatch (-want +got):\n%s", diff)
	}
}

func TestScenarioBuiltinsAreStable(t *testing.T) {
	base := map[string]string{"A": "1"}
	m := vars.Scenario(base)
	if m["uuid"] == "" || m["now"] == "" || len(m["random"]) != 6 {
		t.Fatalf("missing built-ins: %v", m)
	}
	if _, ok := base["uuid"]; ok {
		t.Fatalf("Scenario must not mutate its base")
	}
	if vars.Expand("${random}", m) != vars.Expand("${random}", m) {
		t.Fatalf("${random} must be fixed for the scenario")
	}
	if other := vars.Scenario(base); other["uuid"] == m["uuid"] {
		t.Fatalf("each scenario gets a fresh uuid")
	}
}

func TestUnresolved(t *testing.T) {
	got := vars.Unresolved("${A}/${B|x}/${C}")
	if diff := cmp.Diff([]string{"${A}", "${C}"}, got); diff != "" {
		t.Fatalf("Unresolved mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandJSONKeepsWholeReferenceTypes(t *testing.T) {
	m := map[string]string{"ID": "42", "PRICE": "9.5", "OK": "true", "NAME": "Rex"}
	in := map[string]any{
		"id":    "${ID}",
		"price": "${PRICE}",
		"ok":    "${OK}",
		"name":  "${NAME}",
		"label": "pet-${ID}",
		"miss":  "${NOPE}",
		"list":  []any{"${ID}"},
	}
	want := map[string]any{
		"id":    int64(42),
		"price": 9.5,
		"ok":    true,
		"name":  "Rex",
		"label": "pet-42",
		"miss":  "${NOPE}",
		"list":  []any{int64(42)},
	}
	if diff := cmp.Diff(want, vars.ExpandJSON(in, m)); diff != "" {
		t.Fatalf("ExpandJSON mismatch (-want +got):\n%s", diff)
	}
}
