package backoff

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrAttemptsExhausted is returned by Retry once every attempt has failed.
var ErrAttemptsExhausted = errors.New("maximum attempts exhausted")

// maxShift bounds the exponent so long retry series cannot overflow the delay.
const maxShift = 30

// exponentialBackoffWithJitter implements the Strategy interface
type exponentialBackoffWithJitter struct {
	baseDelay      time.Duration // Base delay between retries (e.g., 100ms)
	maxDelay       time.Duration // Upper bound for a single delay
	currentAttempt uint          // Track the current attempt number
	maxAttempt     uint          // Number of waits before the strategy gives up
	randSource     *rand.Rand    // Random source for jittering
	sleep          func(time.Duration)
}

// NewExponentialBackoffWithJitter creates a new instance of exponentialBackoffWithJitter
func NewExponentialBackoffWithJitter(baseDelay, maxDelay time.Duration, maxAttempts uint) Strategy {
	// Seed the random number generator for jitter
	source := rand.NewSource(time.Now().UnixNano())
	return &exponentialBackoffWithJitter{
		baseDelay:      baseDelay,
		maxDelay:       maxDelay,
		currentAttempt: 0,
		maxAttempt:     maxAttempts,
		randSource:     rand.New(source),
		sleep:          time.Sleep,
	}
}

// Wait calculates the next backoff time with exponential backoff and jitter
func (e *exponentialBackoffWithJitter) Wait() error {
	if e.currentAttempt >= e.maxAttempt {
		return errors.New("maximum retries exceeded")
	}
	// Calculate the exponential backoff delay
	shift := min(e.currentAttempt, maxShift)
	delay := e.baseDelay * time.Duration(1<<shift) // 2^attempt * baseDelay

	// Apply jitter by adding a random factor to the delay (between 0 and 1x the delay)
	if delay > 0 {
		jitter := time.Duration(e.randSource.Int63n(int64(delay)))
		delay = delay + jitter - (delay / 2) // Apply jitter in both directions
	}

	// Ensure that delay does not exceed the maximum delay
	if delay > e.maxDelay {
		delay = e.maxDelay
	}

	logrus.Debugf("Waiting for %v (attempt %d/%d)", delay, e.currentAttempt, e.maxAttempt)
	e.sleep(delay)

	// Increment the attempt number for the next retry
	e.currentAttempt++
	return nil
}

type noDelay struct{}

func (noDelay) Wait() error { return nil }

// NoDelay returns a Strategy that never waits and never gives up on its own.
func NoDelay() Strategy {
	return noDelay{}
}

// Strategy is used to space out repeated attempts of the same operation.
type Strategy interface {
	Wait() error
}

// DownloadBackoff is the Strategy used between the maxAttempts attempts of a single file transfer.
func DownloadBackoff(maxAttempts uint) Strategy {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 5 * time.Second
	waits := uint(1)
	if maxAttempts > 1 {
		waits = maxAttempts - 1
	}
	return NewExponentialBackoffWithJitter(baseDelay, maxDelay, waits)
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string {
	return p.err.Error()
}

func (p *permanentError) Unwrap() error {
	return p.err
}

// Permanent marks err as final, Retry returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls f until it succeeds or maxAttempts calls have failed.
// The attempt number passed to f starts at 1. The strategy is consulted between attempts only.
// On exhaustion the returned error matches ErrAttemptsExhausted and wraps the last error of f.
// An error wrapped with Permanent, or a context cancellation, is returned as is right away.
func Retry(maxAttempts uint, s Strategy, f func(attempt uint) error) error {
	if maxAttempts == 0 {
		return fmt.Errorf("%w: no attempts allowed", ErrAttemptsExhausted)
	}
	var lastErr error
	for attempt := uint(1); attempt <= maxAttempts; attempt++ {
		lastErr = f(attempt)
		if lastErr == nil {
			return nil
		}
		var permanent *permanentError
		if errors.As(lastErr, &permanent) {
			return permanent.err
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}
		if err := s.Wait(); err != nil {
			return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempt, errors.Join(lastErr, err))
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, maxAttempts, lastErr)
}
