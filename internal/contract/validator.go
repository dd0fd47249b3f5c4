// Package contract checks responses against an OpenAPI document and keeps
// track of which operations the suites exercised.
package contract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	"sea-e2e/internal/command"
)

type Validator struct {
	doc    *openapi3.T
	router routers.Router

	mu      sync.Mutex
	covered map[string]map[string]bool // method -> path template
}

func LoadFromFile(path string) (*Validator, error) {
	loader := &openapi3.Loader{IsExternalRefsAllowed: true}
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	return build(doc)
}

func LoadFromBytes(b []byte) (*Validator, error) {
	loader := &openapi3.Loader{IsExternalRefsAllowed: true}
	doc, err := loader.LoadFromData(b)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	return build(doc)
}

func build(doc *openapi3.T) (*Validator, error) {
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate spec: %w", err)
	}
	r, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	return &Validator{doc: doc, router: r, covered: map[string]map[string]bool{}}, nil
}

func (v *Validator) Doc() *openapi3.T { return v.doc }

// AddServer lets responses from baseURL match the document's routes, e.g. a
// local or staging deployment the document does not list. Call it before the
// first Validate.
func (v *Validator) AddServer(baseURL string) error {
	for _, s := range v.doc.Servers {
		if s.URL == baseURL {
			return nil
		}
	}
	v.doc.Servers = append(v.doc.Servers, &openapi3.Server{URL: baseURL})
	r, err := legacy.NewRouter(v.doc)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}
	v.router = r
	return nil
}

// Validate checks a completed response and marks its operation covered. The
// operation is returned even when validation fails.
func (v *Validator) Validate(ctx context.Context, r *command.Response) (OpSig, error) {
	path, method, err := v.ValidateResponse(ctx, r.Method, r.URL, r.Status, r.Headers, r.RawBody)
	if path == "" {
		return OpSig{}, err
	}
	op := OpSig{Method: method, Path: path}
	v.mark(op)
	return op, err
}

// ValidateResponse validates (method, url, status, headers, body) against the
// document and returns the matched path template and method.
func (v *Validator) ValidateResponse(
	ctx context.Context,
	method string,
	rawURL string,
	status int,
	header map[string][]string,
	body []byte,
) (routePath string, routeMethod string, err error) {

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse url: %w", err)
	}
	hdr := http.Header(header)
	req := &http.Request{
		Method: method,
		URL:    u,
		Header: http.Header{},
	}

	route, pathParams, err := v.router.FindRoute(req)
	if err != nil {
		return "", "", fmt.Errorf("route not found for %s %s: %w", method, u.Path, err)
	}

	rvi := &openapi3filter.RequestValidationInput{
		Request:    req,
		PathParams: pathParams,
		Route:      route,
		Options:    &openapi3filter.Options{},
	}

	rsp := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: rvi,
		Status:                 status,
		Header:                 hdr,
		Body:                   io.NopCloser(bytes.NewReader(body)),
		Options:                &openapi3filter.Options{IncludeResponseStatus: true},
	}

	if err := openapi3filter.ValidateResponse(ctx, rsp); err != nil {
		return route.Path, route.Method, err
	}
	return route.Path, route.Method, nil
}

func (v *Validator) mark(op OpSig) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.covered[op.Method] == nil {
		v.covered[op.Method] = map[string]bool{}
	}
	v.covered[op.Method][op.Path] = true
}

// Covered returns a copy of method -> path template -> true.
func (v *Validator) Covered() map[string]map[string]bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]map[string]bool, len(v.covered))
	for m, paths := range v.covered {
		out[m] = make(map[string]bool, len(paths))
		for p := range paths {
			out[m][p] = true
		}
	}
	return out
}
