// Package cdp drives a real Chrome through the DevTools protocol.
//
// Every request the browser makes is paused in the Fetch domain and served by
// the engine's HTTP client, so mocked routes answer the page exactly as they
// answer request commands.
package cdp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"sea-e2e/internal/page"
)

type Options struct {
	ExecPath string
	Headless bool
	Width    int
	Height   int
	Client   *http.Client
	Logger   *slog.Logger
}

// Page is a browser tab.
type Page struct {
	ctx     context.Context
	cancel  context.CancelFunc
	client  *http.Client
	logger  *slog.Logger
	errs    chan page.Error
	closeMu sync.Once
}

// Open starts a browser and a tab. The browser lives until Close.
func Open(ctx context.Context, o Options) (*Page, error) {
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Width == 0 || o.Height == 0 {
		o.Width, o.Height = 1000, 660
	}
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", o.Headless),
		chromedp.WindowSize(o.Width, o.Height),
	)
	if o.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(o.ExecPath))
	}
	// The browser must outlive the command that opened it.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	p := &Page{
		ctx:    tabCtx,
		client: o.Client,
		logger: o.Logger,
		errs:   make(chan page.Error, 64),
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
	}
	chromedp.ListenTarget(tabCtx, p.onEvent)

	err := chromedp.Run(tabCtx,
		runtime.Enable(),
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{{URLPattern: "*", RequestStage: fetch.RequestStageRequest}}),
	)
	if err != nil {
		p.cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return p, nil
}

func (p *Page) onEvent(ev any) {
	switch e := ev.(type) {
	case *runtime.EventExceptionThrown:
		p.raise(exceptionError(e.ExceptionDetails))
	case *fetch.EventRequestPaused:
		go p.serve(e)
	}
}

func exceptionError(d *runtime.ExceptionDetails) page.Error {
	if d == nil {
		return page.Error{Message: "unknown exception"}
	}
	msg := d.Text
	if d.Exception != nil && d.Exception.Description != "" {
		msg = d.Exception.Description
		if i := strings.IndexByte(msg, '\n'); i > 0 {
			msg = msg[:i]
		}
	}
	msg = strings.TrimPrefix(msg, "Uncaught ")
	return page.Error{Message: msg, Source: d.URL, Line: int(d.LineNumber)}
}

func (p *Page) raise(e page.Error) {
	select {
	case p.errs <- e:
	default:
		p.logger.Warn("page error dropped", slog.String("message", e.Message))
	}
}

// serve answers a paused browser request through the engine's client.
func (p *Page) serve(e *fetch.EventRequestPaused) {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Target == nil {
		return
	}
	ctx := cdp.WithExecutor(p.ctx, c.Target)

	req, err := buildRequest(ctx, e.Request)
	if err == nil {
		var resp *http.Response
		resp, err = p.client.Do(req)
		if err == nil {
			err = p.fulfill(ctx, e.RequestID, resp)
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Debug("browser request failed", slog.String("url", e.Request.URL), slog.Any("error", err))
		if ferr := fetch.FailRequest(e.RequestID, network.ErrorReasonFailed).Do(ctx); ferr != nil && ctx.Err() == nil {
			p.logger.Warn("fail request", slog.Any("error", ferr))
		}
	}
}

func buildRequest(ctx context.Context, r *network.Request) (*http.Request, error) {
	var body io.Reader
	if r.HasPostData {
		var buf bytes.Buffer
		for _, entry := range r.PostDataEntries {
			b, err := base64.StdEncoding.DecodeString(entry.Bytes)
			if err != nil {
				return nil, fmt.Errorf("decode post data: %w", err)
			}
			buf.Write(b)
		}
		body = &buf
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL+r.URLFragment, body)
	if err != nil {
		return nil, err
	}
	for k, v := range r.Headers {
		req.Header.Set(k, fmt.Sprint(v))
	}
	return req, nil
}

func (p *Page) fulfill(ctx context.Context, id fetch.RequestID, resp *http.Response) error {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	headers := make([]*fetch.HeaderEntry, 0, len(resp.Header))
	for k, vs := range resp.Header {
		if strings.EqualFold(k, "Content-Encoding") || strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range vs {
			headers = append(headers, &fetch.HeaderEntry{Name: k, Value: v})
		}
	}
	return fetch.FulfillRequest(id, int64(resp.StatusCode)).
		WithResponseHeaders(headers).
		WithBody(base64.StdEncoding.EncodeToString(b)).
		Do(ctx)
}

// run executes actions in the tab, bounded by the caller's context.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(p.ctx, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Page) eval(ctx context.Context, expr string, out any) error {
	return p.run(ctx, chromedp.Evaluate(expr, out))
}

func call(fn string, args ...any) (string, error) {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", err
		}
		parts = append(parts, string(b))
	}
	return fmt.Sprintf("%s.%s(%s)", helperJS, fn, strings.Join(parts, ", ")), nil
}

func (p *Page) Visit(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *Page) Location(ctx context.Context) (string, error) {
	var loc string
	err := p.run(ctx, chromedp.Location(&loc))
	return loc, err
}

func (p *Page) Query(ctx context.Context, q page.Query) ([]page.Element, error) {
	expr, err := call("query", q)
	if err != nil {
		return nil, err
	}
	var els []page.Element
	if err := p.eval(ctx, expr, &els); err != nil {
		return nil, fmt.Errorf("query %s: %w", q, err)
	}
	return els, nil
}

func (p *Page) Dispatch(ctx context.Context, ref page.NodeRef, ev page.Event) error {
	expr, err := call("dispatch", ref, ev)
	if err != nil {
		return err
	}
	if err := p.eval(ctx, expr, nil); err != nil {
		return fmt.Errorf("%s on %s: %w", ev.Type, ref, err)
	}
	return nil
}

func (p *Page) ClickAt(ctx context.Context, x, y int) error {
	fx, fy := float64(x), float64(y)
	return p.run(ctx,
		input.DispatchMouseEvent(input.MousePressed, fx, fy).WithButton(input.Left).WithClickCount(1),
		input.DispatchMouseEvent(input.MouseReleased, fx, fy).WithButton(input.Left).WithClickCount(1),
	)
}

func (p *Page) Errors() <-chan page.Error { return p.errs }

func (p *Page) Close() error {
	var err error
	p.closeMu.Do(func() {
		err = chromedp.Cancel(p.ctx)
		p.cancel()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	})
	return err
}
