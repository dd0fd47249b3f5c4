package contract

import (
	"fmt"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
)

type OpSig struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

func (o OpSig) String() string { return fmt.Sprintf("%s %s", o.Method, o.Path) }

// Operations lists every operation of doc, sorted by path then method.
func Operations(doc *openapi3.T) []OpSig {
	var out []OpSig
	if doc == nil || doc.Paths == nil {
		return out
	}
	for p, pi := range doc.Paths.Map() {
		if pi == nil {
			continue
		}
		for method := range pi.Operations() {
			out = append(out, OpSig{Method: method, Path: p})
		}
	}
	sortOps(out)
	return out
}

// Coverage splits the operations of doc into covered and uncovered.
func Coverage(doc *openapi3.T, covered map[string]map[string]bool) (hit, missed []OpSig) {
	for _, op := range Operations(doc) {
		if covered[op.Method][op.Path] {
			hit = append(hit, op)
		} else {
			missed = append(missed, op)
		}
	}
	return hit, missed
}

func sortOps(ops []OpSig) {
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Path == ops[j].Path {
			return ops[i].Method < ops[j].Method
		}
		return ops[i].Path < ops[j].Path
	})
}
