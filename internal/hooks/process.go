// Package hooks runs external processes: the exec command, whose subject is
// the exit code and output, and step hooks that exchange variables with the
// runner as JSON over stdin and stdout.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/alessio/shellescape"
)

const DefaultTimeout = 10 * time.Second

// Spec describes one process invocation.
type Spec struct {
	Cmd     string
	Args    []string
	Env     map[string]string
	Dir     string
	Timeout time.Duration
	Stdin   []byte
}

// String renders the invocation as a copy-pasteable shell command.
func (s Spec) String() string {
	return shellescape.QuoteCommand(append([]string{s.Cmd}, s.Args...))
}

// Result is the subject of an exec command.
type Result struct {
	Code     int           `json:"code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
}

func (r Result) FailureString() string {
	return fmt.Sprintf("code=%d stdout=%q stderr=%q", r.Code, clip(r.Stdout), clip(r.Stderr))
}

// ErrTimeout is returned when the process outlives its budget.
var ErrTimeout = errors.New("process timed out")

// Exec runs the process to completion. A non-zero exit is not an error; the
// caller decides from Result.Code.
func Exec(ctx context.Context, s Spec) (Result, error) {
	if strings.TrimSpace(s.Cmd) == "" {
		return Result{}, errors.New("exec: empty command")
	}
	tmo := s.Timeout
	if tmo <= 0 {
		tmo = DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, tmo)
	defer cancel()

	cmd := exec.CommandContext(cctx, s.Cmd, s.Args...)
	cmd.Dir = s.Dir
	cmd.Env = os.Environ()
	for k, v := range s.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if s.Stdin != nil {
		cmd.Stdin = bytes.NewReader(s.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}
	if cctx.Err() == context.DeadlineExceeded {
		return res, fmt.Errorf("%s: %w after %s", s, ErrTimeout, tmo)
	}
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.Code = exitErr.ExitCode()
	case err != nil:
		return res, fmt.Errorf("%s: %w", s, err)
	}
	return res, nil
}

// ---- Step hooks ----

// Hook is a process run before or after a step.
type Hook struct {
	Cmd     string
	Args    []string
	Env     map[string]string
	Timeout time.Duration
}

type Input struct {
	Vars    map[string]string `json:"vars,omitempty"`
	Subject any               `json:"subject,omitempty"` // present for "after"
}

type Output struct {
	Vars   map[string]string `json:"vars,omitempty"`   // merged into the scenario vars
	Errors []string          `json:"errors,omitempty"` // fail the step
}

// RunHook sends in as JSON on stdin and decodes the JSON written to stdout.
func RunHook(ctx context.Context, h Hook, in Input) (*Output, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode stdin: %w", err)
	}
	spec := Spec{Cmd: h.Cmd, Args: h.Args, Env: h.Env, Timeout: h.Timeout, Stdin: payload}
	res, err := Exec(ctx, spec)
	if err != nil {
		return nil, err
	}
	if res.Code != 0 {
		return nil, fmt.Errorf("hook exit %d: %s", res.Code, strings.TrimSpace(res.Stderr))
	}
	var out Output
	if strings.TrimSpace(res.Stdout) == "" {
		return &out, nil
	}
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return nil, fmt.Errorf("decode stdout: %w", err)
	}
	return &out, nil
}

func clip(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
