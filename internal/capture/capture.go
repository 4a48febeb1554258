// Package capture runs a DBWIN reader and delivers its lines to the
// configured sinks until the context is cancelled.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"dbwinlog/internal/config"
	"dbwinlog/internal/dbwin"
	"dbwinlog/internal/metric"
	"dbwinlog/internal/sink"
)

// Run captures debug output until ctx is cancelled or the reader fails.
// Console output goes to console unless cfg.Output.Quiet is set.
func Run(ctx context.Context, cfg config.Config, console io.Writer) error {
	m := metric.NewMetrics()
	reg, err := metric.NewRegistry(m)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	opts := cfg.Capture.ReaderOptions()
	opts.Metrics = m
	opts.Logger = slog.Default()

	r, err := dbwin.Open(opts)
	if err != nil {
		if errors.Is(err, dbwin.ErrChannelAlreadyActive) {
			return fmt.Errorf("another debug output reader is running: %w", err)
		}
		return fmt.Errorf("failed to open %s channel: %w", opts.Scope, err)
	}

	sinks, closeSinks, err := openSinks(cfg, console, r.Description())
	if err != nil {
		return errors.Join(err, r.Close())
	}

	stopMetrics := serveMetrics(cfg.Metrics.Addr, metric.Handler(reg))

	go func() {
		select {
		case <-ctx.Done():
		case <-r.Done():
		}
		if err := r.Close(); err != nil {
			slog.Error("Failed to close reader", "error", err)
		}
	}()

	// Pump returns once the reader has stopped and its last lines are delivered.
	pumpErr := r.Pump(context.Background(), sinks, cfg.Capture.PumpInterval)
	return errors.Join(pumpErr, r.Close(), stopMetrics(), closeSinks())
}

func openSinks(cfg config.Config, console io.Writer, channel string) (sink.Multi, func() error, error) {
	var sinks sink.Multi
	var closers []io.Closer
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c.Close())
		}
		return errors.Join(errs...)
	}

	if !cfg.Output.Quiet && console != nil {
		c := sink.NewConsole(console)
		c.SetSentinel(cfg.Capture.FlushSentinel)
		sinks = append(sinks, c)
	}
	if cfg.Output.LogFile != "" {
		f, err := sink.OpenFile(cfg.Output.LogFile)
		if err != nil {
			return nil, nil, errors.Join(err, closeAll())
		}
		sinks = append(sinks, f)
		closers = append(closers, f)
		slog.Info("Writing line log", "path", cfg.Output.LogFile)
	}
	if cfg.Output.DB != "" {
		db, err := sink.OpenSQLite(cfg.Output.DB, channel)
		if err != nil {
			return nil, nil, errors.Join(err, closeAll())
		}
		sinks = append(sinks, db)
		closers = append(closers, db)
		slog.Info("Storing lines in database", "path", cfg.Output.DB, "session", db.SessionID())
	}
	return sinks, closeAll, nil
}

// serveMetrics starts the /metrics endpoint if addr is set and returns a
// function that stops it.
func serveMetrics(addr string, handler http.Handler) func() error {
	if addr == "" {
		return func() error { return nil }
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
