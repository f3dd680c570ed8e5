// Package sentry provides error tracking integration.
package sentry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Options configures Sentry initialization.
type Options struct {
	DSN         string
	Environment string
	Release     string
}

// Init initializes Sentry. Returns nil without side effects when the DSN
// is empty (graceful degradation).
func Init(opts Options) error {
	if opts.DSN == "" {
		return nil
	}

	release := opts.Release
	if release == "" {
		release = "notifyd@dev"
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         opts.DSN,
		Environment: opts.Environment,
		Release:     release,
	}); err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	return nil
}

// Flush flushes any buffered events before shutdown.
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}

// CaptureError captures an error with optional tags and extras.
// No-op when err is nil or Sentry was never initialized.
func CaptureError(err error, tags map[string]string, extras map[string]interface{}) {
	if err == nil {
		return
	}

	hub := sentry.CurrentHub().Clone()
	scope := hub.Scope()

	for k, v := range tags {
		scope.SetTag(k, v)
	}
	for k, v := range extras {
		scope.SetExtra(k, v)
	}

	hub.CaptureException(err)
}
