// Package retry retries storage and startup operations with exponential
// backoff and jitter.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"
)

// Policy bounds a retry loop. Delay doubles after each failed attempt with
// +-25% jitter.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	// Name labels log lines; Logger nil disables them.
	Name   string
	Logger *slog.Logger
}

// Startup is used while connecting to dependencies at boot.
var Startup = Policy{Attempts: 8, BaseDelay: 250 * time.Millisecond}

// Checkpoint is used for the final counter checkpoint at shutdown.
var Checkpoint = Policy{Attempts: 3, BaseDelay: 100 * time.Millisecond}

// cryptoInt64n returns a random int64 in [0, n) using crypto/rand.
func cryptoInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1
	return int64(v % uint64(n)) //nolint:gosec // n>0
}

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Named returns a copy of p that logs retries under name.
func (p Policy) Named(name string, logger *slog.Logger) Policy {
	p.Name = name
	p.Logger = logger
	return p
}

// Do calls fn until it succeeds, returns a *PermanentError, the attempts are
// used up, or ctx is cancelled.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	delay := p.BaseDelay

	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}

		// Don't sleep after the last attempt.
		if attempt == attempts-1 {
			break
		}

		jitter := delay / 4
		sleep := delay - jitter + time.Duration(cryptoInt64n(int64(2*jitter+1)))
		if p.Logger != nil {
			p.Logger.Warn("retrying", "op", p.Name, "attempt", attempt+1, "delay", sleep, "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay *= 2
	}

	return err
}
