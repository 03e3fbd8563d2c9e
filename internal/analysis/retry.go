package analysis

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"visitnote/internal/domain"
)

const (
	defaultAttempts  = 3
	defaultBaseDelay = time.Second
	defaultMaxJitter = 500 * time.Millisecond
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// JitterFunc returns extra delay added to each backoff step.
type JitterFunc func() time.Duration

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func uniformJitter(limit time.Duration) JitterFunc {
	return func() time.Duration {
		if limit <= 0 {
			return 0
		}
		return rand.N(limit)
	}
}

// newBackoff doubles base for every retry and stops after attempts-1 retries.
func newBackoff(base time.Duration, attempts int, jitter JitterFunc) retry.Backoff {
	next := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(base))
	return retry.BackoffFunc(func() (time.Duration, bool) {
		delay, stop := next.Next()
		if stop {
			return 0, true
		}
		return delay + jitter(), false
	})
}

// IsRetryable reports whether err is a transient overload or rate-limit failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrRetryableService) {
		return true
	}
	var status *domain.StatusError
	if errors.As(err, &status) && (status.Code == 429 || status.Code == 503) {
		return true
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "503") || strings.Contains(text, "429") || strings.Contains(text, "overloaded")
}

func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrCredential),
		errors.Is(err, domain.ErrTransport),
		errors.Is(err, domain.ErrInput),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
}
