package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryConfig enables crash reporting when DSN is set.
type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment,omitempty"`
}

// initSentry configures the global Sentry hub. Without a DSN reporting is a no-op.
func initSentry(cfg SentryConfig, logger *slog.Logger) (flush func(), err error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     "leashbridge@" + version,
	}); err != nil {
		return func() {}, fmt.Errorf("init sentry: %w", err)
	}

	logger.Info("sentry reporting enabled", "environment", cfg.Environment)
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// reportLoopFailure sends a terminated loop's error to Sentry, tagged with the loop name.
func reportLoopFailure(loop string, err error) {
	if err == nil {
		return
	}
	hub := sentry.CurrentHub().Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("loop", loop)
	})
	hub.CaptureException(err)
	hub.Flush(2 * time.Second)
}
