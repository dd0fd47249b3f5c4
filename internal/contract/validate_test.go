package contract_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"sea-e2e/internal/command"
	"sea-e2e/internal/contract"
	"sea-e2e/internal/fixture"
)

const openapiYAML = `
openapi: 3.0.3
info: { title: Test API, version: "1.0.0" }
paths:
  /users:
    post:
      responses:
        "201":
          description: created
          content:
            application/json:
              schema:
                type: object
                properties:
                  id: { type: string }
                  email: { type: string }
                required: [id, email]
  /health:
    get:
      responses:
        "200": { description: ok }
`

func jsonResponse(method, url string, status int, body string) *command.Response {
	return &command.Response{
		Method:  method,
		URL:     url,
		Status:  status,
		Headers: http.Header{"Content-Type": []string{"application/json"}},
		RawBody: []byte(body),
		Body:    command.DecodeBody([]byte(body)),
	}
}

func TestContract_ValidatesResponse_OK(t *testing.T) {
	v, err := contract.LoadFromBytes([]byte(openapiYAML))
	if err != nil {
		t.Fatalf("load openapi: %v", err)
	}
	op, err := v.Validate(context.Background(),
		jsonResponse("POST", "http://localhost/users", 201, `{"id":"u-1","email":"qa@example.com"}`))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if op.String() != "POST /users" {
		t.Fatalf("op = %s", op)
	}
	want := map[string]map[string]bool{"POST": {"/users": true}}
	if diff := cmp.Diff(want, v.Covered()); diff != "" {
		t.Fatalf("coverage mismatch (-want +got):\n%s", diff)
	}
}

func TestContract_SchemaViolation(t *testing.T) {
	v, err := contract.LoadFromBytes([]byte(openapiYAML))
	if err != nil {
		t.Fatalf("load openapi: %v", err)
	}
	op, err := v.Validate(context.Background(),
		jsonResponse("POST", "http://localhost/users", 201, `{"id":"u-1"}`))
	if err == nil {
		t.Fatalf("expected a schema violation for a missing email")
	}
	if op.Path != "/users" {
		t.Fatalf("the operation is reported even when validation fails, got %+v", op)
	}
	if !v.Covered()["POST"]["/users"] {
		t.Fatalf("a failing response still counts as coverage")
	}
}

func TestContract_UndocumentedStatusAndRoute(t *testing.T) {
	v, err := contract.LoadFromBytes([]byte(openapiYAML))
	if err != nil {
		t.Fatalf("load openapi: %v", err)
	}
	if _, err := v.Validate(context.Background(), jsonResponse("POST", "http://localhost/users", 500, `{}`)); err == nil {
		t.Fatalf("expected an error for an undocumented status")
	}
	if _, err := v.Validate(context.Background(), jsonResponse("GET", "http://localhost/nope", 200, `{}`)); err == nil {
		t.Fatalf("expected route not found")
	}
}

func TestContract_PetStoreDocument(t *testing.T) {
	v, err := contract.LoadFromBytes(fixture.PetStoreOpenAPI())
	if err != nil {
		t.Fatalf("load pet store openapi: %v", err)
	}
	body := `[{"id":1,"name":"Rex","photoUrls":[],"status":"available"}]`
	if _, err := v.Validate(context.Background(),
		jsonResponse("GET", "https://petstore.swagger.io/v2/pet/findByStatus?status=available", 200, body)); err != nil {
		t.Fatalf("validate findByStatus: %v", err)
	}
}

func TestOperationsAndCoverage(t *testing.T) {
	v, err := contract.LoadFromBytes([]byte(openapiYAML))
	if err != nil {
		t.Fatalf("load openapi: %v", err)
	}
	ops := contract.Operations(v.Doc())
	want := []contract.OpSig{{Method: "GET", Path: "/health"}, {Method: "POST", Path: "/users"}}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Fatalf("operations mismatch (-want +got):\n%s", diff)
	}
	hit, missed := contract.Coverage(v.Doc(), map[string]map[string]bool{"GET": {"/health": true}})
	if len(hit) != 1 || len(missed) != 1 || missed[0].Path != "/users" {
		t.Fatalf("coverage split: hit=%v missed=%v", hit, missed)
	}
}

func TestContract_AddServerMatchesOtherDeployments(t *testing.T) {
	v, err := contract.LoadFromBytes(fixture.PetStoreOpenAPI())
	if err != nil {
		t.Fatalf("load pet store openapi: %v", err)
	}
	body := `{"id":1,"name":"Rex","photoUrls":[],"status":"available"}`
	resp := jsonResponse("GET", "http://127.0.0.1:9999/v2/pet/1", 200, body)
	if _, err := v.Validate(context.Background(), resp); err == nil {
		t.Fatal("expected route not found before AddServer")
	}

	if err := v.AddServer("http://127.0.0.1:9999/v2"); err != nil {
		t.Fatalf("AddServer: %v", err)
	}
	op, err := v.Validate(context.Background(), resp)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if diff := cmp.Diff(contract.OpSig{Method: "GET", Path: "/pet/{petId}"}, op); diff != "" {
		t.Fatalf("op mismatch (-want +got):\n%s", diff)
	}
}
