package reporter_test

import (
	"bytes"
	"encoding/xml"
	"strings"
	"testing"

	"sea-e2e/internal/reporter"
)

func TestWriteJUnit_IncludesTimings(t *testing.T) {
	var buf bytes.Buffer
	if err := reporter.WriteJUnit(&buf, "timed", sampleResult()); err != nil {
		t.Fatalf("WriteJUnit: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `time="1.234"`) { // suite time in seconds
		t.Fatalf("expected suite time=\"1.234\", got: %s", out)
	}
	if !strings.Contains(out, `time="0.046"`) || !strings.Contains(out, `time="0.078"`) {
		t.Fatalf("expected scenario times, got: %s", out)
	}
	// ensure XML is valid
	var v any
	if err := xml.Unmarshal(buf.Bytes(), &v); err != nil {
		t.Fatalf("invalid xml: %v", err)
	}
}
