// Package failure defines the error taxonomy shared by every part of the engine.
//
// Each failure carries the kind, the command that raised it, the description of the
// assertion or precondition involved and the last subject observed, so a reporter never
// has to print a bare timeout.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindElementNotFound        Kind = "ElementNotFound"
	KindAssertionTimeout       Kind = "AssertionTimeout"
	KindAssertionFailed        Kind = "AssertionFailed"
	KindOptionNotFound         Kind = "OptionNotFound"
	KindNetworkMismatch        Kind = "NetworkMismatch"
	KindUnhandledPageException Kind = "UnhandledPageException"
	KindRequestFailed          Kind = "RequestFailed"
	KindInvalidCommand         Kind = "InvalidCommand"
	KindExecFailed             Kind = "ExecFailed"
	KindTimeout                Kind = "Timeout"
)

// Sentinels usable with errors.Is.
var (
	ErrElementNotFound        = errors.New("element not found")
	ErrAssertionTimeout       = errors.New("assertion timed out")
	ErrAssertionFailed        = errors.New("assertion failed")
	ErrOptionNotFound         = errors.New("option not found")
	ErrNetworkMismatch        = errors.New("network mismatch")
	ErrUnhandledPageException = errors.New("unhandled page exception")
	ErrRequestFailed          = errors.New("request failed")
	ErrInvalidCommand         = errors.New("invalid command")
	ErrExecFailed             = errors.New("exec failed")
	ErrTimeout                = errors.New("command timed out")
)

var sentinels = map[Kind]error{
	KindElementNotFound:        ErrElementNotFound,
	KindAssertionTimeout:       ErrAssertionTimeout,
	KindAssertionFailed:        ErrAssertionFailed,
	KindOptionNotFound:         ErrOptionNotFound,
	KindNetworkMismatch:        ErrNetworkMismatch,
	KindUnhandledPageException: ErrUnhandledPageException,
	KindRequestFailed:          ErrRequestFailed,
	KindInvalidCommand:         ErrInvalidCommand,
	KindExecFailed:             ErrExecFailed,
	KindTimeout:                ErrTimeout,
}

// Error is the failure raised by a command.
type Error struct {
	Kind        Kind
	Command     string
	Description string
	Subject     any
	Err         error
}

func New(kind Kind, description string, cause error) *Error {
	return &Error{Kind: kind, Description: description, Err: cause}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Description: fmt.Sprintf(format, args...)}
}

func (e *Error) WithSubject(subject any) *Error {
	e.Subject = subject
	return e
}

func (e *Error) WithCommand(cmd string) *Error {
	if e.Command == "" {
		e.Command = cmd
	}
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Command != "" {
		b.WriteString(" in ")
		b.WriteString(e.Command)
	}
	if e.Description != "" {
		b.WriteString(": ")
		b.WriteString(e.Description)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Subject != nil {
		b.WriteString(" (last subject: ")
		b.WriteString(FormatSubject(e.Subject))
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// As returns err as *Error, wrapping foreign errors with the fallback kind.
func As(err error, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return &Error{Kind: fallback, Err: err}
}

// Formatter lets subjects describe themselves in failure messages.
type Formatter interface {
	FailureString() string
}

const maxSubjectLen = 512

func FormatSubject(v any) string {
	var s string
	switch x := v.(type) {
	case Formatter:
		s = x.FailureString()
	case string:
		s = fmt.Sprintf("%q", x)
	case fmt.Stringer:
		s = x.String()
	default:
		s = fmt.Sprintf("%v", x)
	}
	if len(s) > maxSubjectLen {
		s = s[:maxSubjectLen] + "...[truncated]"
	}
	return s
}
