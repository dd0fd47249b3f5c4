package reporter

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"sea-e2e/internal/engine"
	"sea-e2e/internal/executor"
)

// -------- JSON --------

func WriteJSON(w io.Writer, res *executor.SuiteResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// -------- JUnit XML --------

// Minimal JUnit schema: testsuite -> testcase (+failure, system-out)
type junitTestsuite struct {
	XMLName  xml.Name        `xml:"testsuite"`
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Skipped  int             `xml:"skipped,attr"`
	Time     string          `xml:"time,attr"`
	Testcase []junitTestcase `xml:"testcase"`
}

type junitTestcase struct {
	Classname string        `xml:"classname,attr"`
	Name      string        `xml:"name,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Skipped   *struct{}     `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Text    string `xml:",chardata"`
}

// WriteJUnit writes one testcase per scenario; the command log goes to
// system-out.
func WriteJUnit(w io.Writer, suiteName string, res *executor.SuiteResult) error {
	var failures int
	var cases []junitTestcase

	for _, sc := range res.Scenarios {
		tc := junitTestcase{
			Classname: suiteName,
			Name:      sc.Name,
			Time:      seconds(sc.Duration),
			SystemOut: CommandLog(sc.Commands),
		}
		if !sc.Passed {
			failures++
			tc.Failure = &junitFailure{Message: "test failed", Type: "Error"}
			if f := sc.Failure; f != nil {
				tc.Failure.Message = firstLine(f.Message)
				tc.Failure.Type = string(f.Kind)
				tc.Failure.Text = failureText(f)
			}
		}
		cases = append(cases, tc)
	}
	for _, name := range res.Skipped {
		cases = append(cases, junitTestcase{Classname: suiteName, Name: name, Time: seconds(0), Skipped: &struct{}{}})
	}

	ts := junitTestsuite{
		Name:     suiteName,
		Tests:    len(cases),
		Failures: failures,
		Skipped:  len(res.Skipped),
		Time:     seconds(res.Duration),
		Testcase: cases,
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return enc.Encode(ts)
}

// CommandLog renders the command log, one line per command.
func CommandLog(cmds []engine.CommandResult) string {
	var b strings.Builder
	for _, c := range cmds {
		fmt.Fprintf(&b, "%-7s %s", c.State, c.Name)
		if c.Duration > 0 {
			fmt.Fprintf(&b, " (%s", c.Duration.Round(time.Millisecond))
			if c.Retries > 0 {
				fmt.Fprintf(&b, ", %d retries", c.Retries)
			}
			b.WriteString(")")
		}
		if c.Subject != "" {
			b.WriteString(" -> " + c.Subject)
		}
		b.WriteByte('\n')
		if c.Error != "" {
			b.WriteString("        " + firstLine(c.Error) + "\n")
		}
	}
	return b.String()
}

func failureText(f *engine.Failure) string {
	var b strings.Builder
	b.WriteString(f.Message)
	if f.Subject != "" && !strings.Contains(f.Message, f.Subject) {
		b.WriteString("\nsubject: " + f.Subject)
	}
	return b.String()
}

func seconds(d time.Duration) string { return fmt.Sprintf("%.3f", d.Seconds()) }

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
