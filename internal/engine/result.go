package engine

import (
	"errors"
	"time"

	"sea-e2e/internal/failure"
	"sea-e2e/internal/intercept"
	"sea-e2e/internal/logging"
	"sea-e2e/internal/page"
)

type CommandState string

const (
	StatePassed  CommandState = "passed"
	StateFailed  CommandState = "failed"
	StateSkipped CommandState = "skipped"
)

// CommandResult is the command-log line of one command.
type CommandResult struct {
	Token    int           `json:"token"`
	Name     string        `json:"name"`
	Kind     string        `json:"kind"`
	State    CommandState  `json:"state"`
	Duration time.Duration `json:"duration"`
	Retries  int           `json:"retries,omitempty"`
	Subject  string        `json:"subject,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Failure is the diagnostic of a failed test: what was expected, by which
// command, and the subject last observed.
type Failure struct {
	Kind        failure.Kind `json:"kind"`
	Command     string       `json:"command,omitempty"`
	Description string       `json:"description,omitempty"`
	Subject     string       `json:"subject,omitempty"`
	Message     string       `json:"message"`

	err error
}

func (f *Failure) Error() string { return f.Message }
func (f *Failure) Unwrap() error { return f.err }

func newFailure(err error, cmd string) *Failure {
	fe := failure.As(err, failure.KindInvalidCommand).WithCommand(cmd)
	f := &Failure{
		Kind:        fe.Kind,
		Command:     fe.Command,
		Description: fe.Description,
		Message:     fe.Error(),
		err:         fe,
	}
	if fe.Subject != nil {
		f.Subject = failure.FormatSubject(fe.Subject)
	}
	return f
}

// Result is the outcome of one test.
type Result struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	Passed           bool                   `json:"passed"`
	Duration         time.Duration          `json:"duration"`
	Commands         []CommandResult        `json:"commands"`
	Failure          *Failure               `json:"failure,omitempty"`
	Interceptions    []intercept.Record     `json:"interceptions,omitempty"`
	SuppressedErrors []page.Error           `json:"suppressedErrors,omitempty"`
	Log              logging.CapturedOutput `json:"-"`
}

// Err returns the failure as an error, or nil for a passed test.
func (r Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

// Is reports whether the test failed with the given failure kind.
func (r Result) Is(kind failure.Kind) bool {
	return r.Failure != nil && r.Failure.Kind == kind
}

// ErrAuthoring marks failures raised while the test body was still enqueueing.
var ErrAuthoring = errors.New("test body rejected")
