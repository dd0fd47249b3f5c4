// Package logging builds the structured loggers handed to every component and
// the per-test console output of the runner.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// New returns a text or JSON logger writing to w.
func New(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ---- Capture ----

type CapturedMessage struct {
	Time    time.Time
	Level   slog.Level
	Message string
}

type CapturedOutput []CapturedMessage

const timestampFormat = "2006-01-02 15:04:05.000"

func (output CapturedOutput) Dump(dest io.Writer, prefix string) {
	for _, m := range output {
		fmt.Fprintf(dest, "%s[%s] %s %s\n", prefix, m.Time.Format(timestampFormat), m.Level, m.Message)
	}
}

// Capture is a slog handler that keeps every record of one test in memory so
// the console can dump it when the test fails.
type Capture struct {
	mu     *sync.Mutex
	out    *CapturedOutput
	attrs  []slog.Attr
	groups []string
}

func NewCapture() *Capture {
	return &Capture{mu: &sync.Mutex{}, out: &CapturedOutput{}}
}

func (c *Capture) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (c *Capture) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)
	write := func(a slog.Attr) bool {
		b.WriteByte(' ')
		if len(c.groups) > 0 {
			b.WriteString(strings.Join(c.groups, "."))
			b.WriteByte('.')
		}
		b.WriteString(a.Key)
		b.WriteByte('=')
		b.WriteString(a.Value.String())
		return true
	}
	for _, a := range c.attrs {
		write(a)
	}
	r.Attrs(write)

	c.mu.Lock()
	*c.out = append(*c.out, CapturedMessage{Time: r.Time, Level: r.Level, Message: b.String()})
	c.mu.Unlock()
	return nil
}

func (c *Capture) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *c
	cp.attrs = append(append([]slog.Attr(nil), c.attrs...), attrs...)
	return &cp
}

func (c *Capture) WithGroup(name string) slog.Handler {
	cp := *c
	cp.groups = append(append([]string(nil), c.groups...), name)
	return &cp
}

func (c *Capture) Output() CapturedOutput {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(CapturedOutput(nil), *c.out...)
}

// Fanout sends every record to all handlers.
type Fanout []slog.Handler

func (f Fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f Fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(Fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f Fanout) WithGroup(name string) slog.Handler {
	out := make(Fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
