package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// TestLogger receives the lifecycle of every test the runner executes.
type TestLogger interface {
	TestStarted(name string)
	TestError(name string, err error)
	TestFinished(name string, failed bool, elapsed time.Duration, debugOutput CapturedOutput)
	TestSkipped(name string, reason string)
}

type nullTestLogger struct{}

func (nullTestLogger) TestStarted(string)                                       {}
func (nullTestLogger) TestError(string, error)                                  {}
func (nullTestLogger) TestFinished(string, bool, time.Duration, CapturedOutput) {}
func (nullTestLogger) TestSkipped(string, string)                               {}

func NullTestLogger() TestLogger { return nullTestLogger{} }

// ConsoleTestLogger prints one line per test, colourised when the output is a
// terminal, and dumps the captured debug log of failed tests.
type ConsoleTestLogger struct {
	Out                  io.Writer
	DebugOutputOnFailure bool
	DebugOutputOnSuccess bool

	mu sync.Mutex
}

var (
	passColor = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	skipColor = color.New(color.FgYellow)
	dimColor  = color.New(color.Faint)
)

func (c *ConsoleTestLogger) TestStarted(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.Out, "[%s]\n", name)
}

func (c *ConsoleTestLogger) TestError(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range strings.Split(err.Error(), "\n") {
		failColor.Fprint(c.Out, "  ")
		fmt.Fprintf(c.Out, "%s\n", line)
	}
}

func (c *ConsoleTestLogger) TestFinished(name string, failed bool, elapsed time.Duration, debugOutput CapturedOutput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if failed {
		failColor.Fprintf(c.Out, "  FAILED: %s", name)
	} else {
		passColor.Fprintf(c.Out, "  PASSED: %s", name)
	}
	dimColor.Fprintf(c.Out, " (%s)\n", elapsed.Round(time.Millisecond))
	if len(debugOutput) > 0 &&
		((failed && c.DebugOutputOnFailure) || (!failed && c.DebugOutputOnSuccess)) {
		debugOutput.Dump(c.Out, "    DEBUG ")
	}
}

func (c *ConsoleTestLogger) TestSkipped(name string, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reason == "" {
		skipColor.Fprintf(c.Out, "  SKIPPED: %s\n", name)
	} else {
		skipColor.Fprintf(c.Out, "  SKIPPED: %s (%s)\n", name, reason)
	}
}
