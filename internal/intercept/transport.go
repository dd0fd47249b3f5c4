package intercept

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxRecordedBody bounds the bodies kept in interception records.
const maxRecordedBody = 64 << 10

// Transport consults the registry before any real I/O. Mocked routes are answered
// synchronously; everything else goes to Next and is recorded on the way back.
type Transport struct {
	Registry    *Registry
	Next        http.RoundTripper
	FixturesDir string
	Logger      *slog.Logger
}

func NewTransport(reg *Registry, next http.RoundTripper, fixturesDir string, logger *slog.Logger) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{Registry: reg, Next: next, FixturesDir: fixturesDir, Logger: logger}
}

// Client returns an http.Client whose requests go through the transport.
func (t *Transport) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	reqBody, err := drain(&req.Body)
	if err != nil {
		return nil, err
	}
	rec := Record{
		Method:         req.Method,
		URL:            req.URL.String(),
		RequestHeaders: req.Header.Clone(),
		RequestBody:    clip(reqBody),
		At:             start,
	}

	route := t.Registry.Lookup(req.Method, req.URL)
	if route != nil {
		rec.Matched = true
		rec.Alias = route.Alias
		rec.Route = route.Pattern.String()
	}

	if route != nil && route.Mocked() {
		return t.mock(req, route, rec)
	}

	next := t.Next
	if next == nil {
		next = http.DefaultTransport
	}
	resp, err := next.RoundTrip(req)
	rec.Duration = time.Since(start)
	if err != nil {
		rec.Error = err.Error()
		t.record(req, rec)
		return nil, err
	}
	respBody, err := drain(&resp.Body)
	if err != nil {
		rec.Error = err.Error()
		t.record(req, rec)
		return nil, err
	}
	rec.Status = resp.StatusCode
	rec.ResponseBody = clip(respBody)
	t.record(req, rec)
	return resp, nil
}

func (t *Transport) mock(req *http.Request, route *Route, rec Record) (*http.Response, error) {
	spec := *route.Response
	if spec.Delay > 0 {
		timer := time.NewTimer(spec.Delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			rec.Error = req.Context().Err().Error()
			rec.Mocked = true
			t.record(req, rec)
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}
	resp, body, err := spec.Render(req, t.FixturesDir)
	rec.Mocked = true
	rec.Duration = time.Since(rec.At)
	if err != nil {
		rec.Error = err.Error()
		t.record(req, rec)
		t.Logger.Debug("mocked route failed", slog.String("route", rec.Route), slog.Any("error", err))
		return nil, err
	}
	rec.Status = resp.StatusCode
	rec.ResponseBody = clip(body)
	t.record(req, rec)
	return resp, nil
}

type recorderKey struct{}

// WithRecorder returns a context whose requests report their interception
// record to fn once the exchange settles.
func WithRecorder(ctx context.Context, fn func(Record)) context.Context {
	return context.WithValue(ctx, recorderKey{}, fn)
}

func (t *Transport) record(req *http.Request, rec Record) {
	rec = t.Registry.Record(rec)
	if fn, ok := req.Context().Value(recorderKey{}).(func(Record)); ok && fn != nil {
		fn(rec)
	}
}

// drain reads a body fully and replaces it with an in-memory copy.
func drain(body *io.ReadCloser) ([]byte, error) {
	if *body == nil || *body == http.NoBody {
		return nil, nil
	}
	b, err := io.ReadAll(*body)
	_ = (*body).Close()
	if err != nil {
		return nil, err
	}
	*body = io.NopCloser(bytes.NewReader(b))
	return b, nil
}

func clip(b []byte) string {
	if len(b) > maxRecordedBody {
		return string(b[:maxRecordedBody])
	}
	return string(b)
}
