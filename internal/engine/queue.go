package engine

import (
	"context"

	"sea-e2e/internal/assert"
	"sea-e2e/internal/command"
)

// step executes one command against the subject of its parent.
type step func(ctx context.Context, r *run, in command.Subject) (command.Subject, error)

type entry struct {
	cmd  command.Command
	exec step
	// assertion is set for assertion commands so a query can look ahead at
	// what its chain expects.
	assertion *assert.Assertion
}

// Queue is the ordered command list of one test. Commands are appended while
// the test body runs and executed strictly in order afterwards; nothing is
// executed while enqueueing.
type Queue struct {
	entries []entry
}

// Enqueue appends cmd and returns its token.
func (q *Queue) Enqueue(cmd command.Command, exec step) command.Token {
	q.entries = append(q.entries, entry{cmd: cmd, exec: exec})
	return command.Token(len(q.entries) - 1)
}

func (q *Queue) enqueueAssertion(cmd command.Command, a assert.Assertion, exec step) command.Token {
	tok := q.Enqueue(cmd, exec)
	q.entries[tok].assertion = &a
	return tok
}

func (q *Queue) Len() int { return len(q.entries) }

// Command returns the command behind tok.
func (q *Queue) Command(tok command.Token) command.Command { return q.entries[tok].cmd }

// expectsAbsence reports whether the first assertion chained onto tok passes
// on a missing element, in which case the query must not wait for existence.
func (q *Queue) expectsAbsence(tok command.Token) bool {
	for _, e := range q.entries[tok+1:] {
		if e.cmd.Parent() != tok {
			continue
		}
		return e.assertion != nil && e.assertion.ExpectsAbsence()
	}
	return false
}
