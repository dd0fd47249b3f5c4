// Command apimock serves the pet store, the registration page and their
// OpenAPI document for local runs of the example suites.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sea-e2e/internal/fixture"
	"sea-e2e/internal/logging"
)

func main() {
	addr := flag.String("addr", ":8081", "Listen address")
	level := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	lvl, err := logging.ParseLevel(*level)
	if err != nil {
		slog.Error("bad log level", slog.Any("error", err))
		os.Exit(2)
	}
	logger := logging.New(os.Stderr, lvl, "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           fixture.NewHandler(logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("apimock listening", slog.String("addr", *addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("serve", slog.Any("error", err))
		os.Exit(1)
	}
}
