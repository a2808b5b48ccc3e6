package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/lmazure/GitLabDocumentReview/internal/logging"
)

// Classification sorts a remote failure into the tier that decides
// whether an attempt is repeated.
type Classification int

const (
	// ClassTransient covers network failures and 5xx responses; retried.
	ClassTransient Classification = iota
	// ClassRateLimited covers 429 responses; retried.
	ClassRateLimited
	// ClassFatal covers authentication and permission failures (401/403);
	// never retried, aborts the whole run.
	ClassFatal
	// ClassPermanent covers the remaining client errors (e.g. 400, 404);
	// never retried, but scoped to the single operation.
	ClassPermanent
)

func (c Classification) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRateLimited:
		return "rate_limited"
	case ClassFatal:
		return "fatal"
	default:
		return "permanent"
	}
}

// RemoteError is a failed remote call. StatusCode is zero when the
// request never produced an HTTP response (network-level failure).
type RemoteError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// TerminalError wraps the last error of an operation whose retry budget
// is exhausted. It is surfaced to the caller, never silently dropped.
type TerminalError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// Classify determines the retry tier of an error. Every failure that
// went over the wire is wrapped as RemoteError at the client boundary;
// anything else is a local error that retrying cannot cure.
func Classify(err error) Classification {
	var remote *RemoteError
	if !errors.As(err, &remote) {
		return ClassPermanent
	}

	switch {
	case remote.StatusCode == http.StatusUnauthorized || remote.StatusCode == http.StatusForbidden:
		return ClassFatal
	case remote.StatusCode == http.StatusTooManyRequests:
		return ClassRateLimited
	case remote.StatusCode >= 500 || remote.StatusCode == 0:
		return ClassTransient
	default:
		return ClassPermanent
	}
}

// IsFatal reports whether err carries an authentication or permission
// failure that must abort the run.
func IsFatal(err error) bool {
	return err != nil && Classify(err) == ClassFatal
}

// Config configures retry behavior with exponential backoff.
type Config struct {
	MaxAttempts int           `koanf:"max_attempts"` // total attempts including the first (default: 3)
	BaseDelay   time.Duration `koanf:"base_delay"`   // delay before the second attempt (default: 1s)
	MaxDelay    time.Duration `koanf:"max_delay"`    // cap on any single delay (default: 30s)
}

// DefaultConfig returns a retry configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// SleepFunc suspends the calling goroutine for d, honoring ctx. It is
// injectable so tests can observe the backoff schedule deterministically.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Executor wraps remote calls with bounded exponential backoff and
// error classification. Wrapped operations must be safe to invoke more
// than once with identical arguments.
type Executor struct {
	cfg    Config
	sleep  SleepFunc
	logger *logging.RunLogger
}

// New creates an Executor. A zero MaxAttempts falls back to the default
// policy so a partially specified config never disables retries.
func New(cfg Config, logger *logging.RunLogger) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}
	return &Executor{cfg: cfg, sleep: defaultSleep, logger: logger}
}

// WithSleep replaces the sleep function. Used by tests to inject a
// recording clock.
func (e *Executor) WithSleep(sleep SleepFunc) *Executor {
	e.sleep = sleep
	return e
}

// Do executes op, retrying rate-limited and transient failures up to
// the configured attempt budget. Fatal and permanent classifications
// return immediately without sleeping. After exhausting attempts the
// last error is wrapped as a TerminalError.
func (e *Executor) Do(ctx context.Context, name string, op func() error) error {
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		err := op()
		if err == nil {
			if attempt > 1 {
				e.logger.Info("%s succeeded after %d attempts", name, attempt)
			}
			return nil
		}
		lastErr = err

		class := Classify(err)
		if class == ClassFatal || class == ClassPermanent {
			e.logger.Error("%s failed (%s): %v", name, class, err)
			return err
		}

		if attempt == e.cfg.MaxAttempts {
			break
		}

		delay := e.delay(attempt)
		e.logger.Warn("%s failed (%s), attempt %d/%d, retrying in %v: %v",
			name, class, attempt, e.cfg.MaxAttempts, delay, err)

		if err := e.sleep(ctx, delay); err != nil {
			return &TerminalError{Op: name, Attempts: attempt, Err: err}
		}
	}

	terminal := &TerminalError{Op: name, Attempts: e.cfg.MaxAttempts, Err: lastErr}
	e.logger.Error("%s exhausted retries: %v", name, terminal.Err)
	return terminal
}

// delay returns min(BaseDelay * 2^(attempt-1), MaxDelay) for a 1-based
// attempt number.
func (e *Executor) delay(attempt int) time.Duration {
	d := float64(e.cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if d > float64(e.cfg.MaxDelay) {
		d = float64(e.cfg.MaxDelay)
	}
	return time.Duration(d)
}
