// Package retry wraps fallible network reads in a bounded-attempt
// exponential backoff. Exhaustion is reported as a soft failure so the
// caller can decide whether to abort the cycle or the process.
package retry

import (
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
)

// ErrExhausted is returned after every attempt has failed or produced
// an empty result. It never escapes as a panic.
var ErrExhausted = errors.New("retry: attempts exhausted")

// sleep is swapped out in tests.
var sleep = time.Sleep

// Do invokes op up to attempts times, sleeping base*2^attempt between
// tries. An error or a zero-valued result both count as a failed
// attempt; the first non-zero result is returned as-is.
func Do[T comparable](attempts int, base time.Duration, op func() (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}

	b := &backoff.Backoff{
		Min:    base,
		Max:    base * time.Duration(1<<uint(attempts)),
		Factor: 2,
		Jitter: false,
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := op()
		if err == nil && result != zero {
			return result, nil
		}
		lastErr = err
		if attempt < attempts-1 {
			sleep(b.Duration())
		}
	}

	if lastErr != nil {
		return zero, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
	}
	return zero, ErrExhausted
}

// Run is the value-less variant of Do for writes that only report an
// error, such as pushes to the aggregator.
func Run(attempts int, base time.Duration, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	b := &backoff.Backoff{
		Min:    base,
		Max:    base * time.Duration(1<<uint(attempts)),
		Factor: 2,
		Jitter: false,
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := op(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < attempts-1 {
			sleep(b.Duration())
		}
	}

	return fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}
