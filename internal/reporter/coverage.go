package reporter

import (
	"encoding/json"
	"io"

	"github.com/getkin/kin-openapi/openapi3"

	"sea-e2e/internal/contract"
)

type CoverageReport struct {
	Total        int      `json:"total"`
	Covered      int      `json:"covered"`
	Percent      float64  `json:"percent"`
	CoveredSet   []string `json:"covered_set"`
	UncoveredSet []string `json:"uncovered_set"`
}

// covered is: method -> pathTemplate -> true
func WriteCoverage(w io.Writer, doc *openapi3.T, covered map[string]map[string]bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ComputeCoverage(doc, covered))
}

func ComputeCoverage(doc *openapi3.T, covered map[string]map[string]bool) CoverageReport {
	hit, missed := contract.Coverage(doc, covered)
	return CoverageReport{
		Total:        len(hit) + len(missed),
		Covered:      len(hit),
		Percent:      pct(len(hit), len(hit)+len(missed)),
		CoveredSet:   sigs(hit),
		UncoveredSet: sigs(missed),
	}
}

func sigs(ops []contract.OpSig) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.String())
	}
	return out
}

func pct(n, d int) float64 {
	if d == 0 {
		return 100.0
	}
	return float64(n) * 100.0 / float64(d)
}
