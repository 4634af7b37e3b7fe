// Package retry provides exponential backoff with jitter for transient
// network failures against the external backends.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"net/url"
	"syscall"
	"time"
)

// Policy controls retry behavior. The zero value is unusable; use Default()
// or build one from config.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// sleep is swappable for tests.
	sleep func(time.Duration)
}

// Default returns the standard policy: 3 retries, 500ms base, 10s cap.
func Default() Policy {
	return New(3, 500*time.Millisecond, 10*time.Second)
}

// New builds a Policy with the given parameters.
func New(maxRetries int, baseDelay, maxDelay time.Duration) Policy {
	return Policy{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		MaxDelay:   maxDelay,
		sleep:      time.Sleep,
	}
}

// Do runs fn, retrying on transient network errors with exponential backoff
// plus up to 10% jitter. Application-level errors (HTTP status errors,
// decode failures) are returned immediately. After exhausting retries the
// last error is returned.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		// When the caller's own context has expired, the deadline error from
		// fn is theirs; retrying would only blow past it further.
		if ctx.Err() != nil || !Retryable(err) {
			return err
		}
		lastErr = err

		if attempt < p.MaxRetries {
			delay := p.BaseDelay << uint(attempt)
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
			delay += time.Duration(rand.Int63n(int64(delay)/10 + 1))

			slog.Warn("retrying after transient error",
				"op", op, "attempt", attempt+1, "max", p.MaxRetries, "delay", delay, "error", err)
			sleep(delay)
		} else {
			slog.Error("retries exhausted", "op", op, "attempts", p.MaxRetries, "error", err)
		}
	}
	return lastErr
}

// Retryable reports whether err is a transient transport failure: a timeout,
// a connection refusal/reset, or a url.Error wrapping one. HTTP status
// errors are application errors and are never retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		// An explicit cancellation is the caller giving up.
		return false
	}

	// http.Client timeouts wrap context.DeadlineExceeded, so there is no
	// deadline check here: a hung backend must stay retryable. Do guards the
	// caller's own expired context separately.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		// http.Client wraps dial failures in *url.Error; unwrap covered the
		// syscall cases above, so what remains is DNS and dial-level trouble.
		var opErr *net.OpError
		if errors.As(urlErr.Err, &opErr) {
			return true
		}
		var dnsErr *net.DNSError
		if errors.As(urlErr.Err, &dnsErr) {
			return true
		}
	}
	return false
}
