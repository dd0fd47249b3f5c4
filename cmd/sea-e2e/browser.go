package main

import (
	"context"
	"log/slog"
	"net/http"

	"sea-e2e/internal/config"
	"sea-e2e/internal/engine"
	"sea-e2e/internal/fixture"
	"sea-e2e/internal/page"
	"sea-e2e/internal/page/cdp"
)

// pageFactory picks the page backend named by cfg.Browser.
func pageFactory(cfg config.Config) engine.PageFactory {
	if cfg.Browser != config.BrowserChrome {
		return engine.MemoryPages(fixture.Behaviors())
	}
	return func(ctx context.Context, client *http.Client, logger *slog.Logger) (page.Page, error) {
		p, err := cdp.Open(ctx, cdp.Options{
			ExecPath: cfg.ChromePath,
			Headless: cfg.IsHeadless(),
			Width:    cfg.Viewport.Width,
			Height:   cfg.Viewport.Height,
			Client:   client,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}
