package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoReturnsFirstNonZeroResult(t *testing.T) {
	restoreSleep(t)

	calls := 0
	result, err := Do(3, time.Millisecond, func() (float64, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42.5, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42.5, result)
	assert.Equal(t, 2, calls)
}

func TestDoTreatsZeroResultAsFailure(t *testing.T) {
	restoreSleep(t)

	calls := 0
	result, err := Do(3, time.Millisecond, func() (float64, error) {
		calls++
		return 0, nil // venue returned an empty ticker without an error
	})

	require.ErrorIs(t, err, ErrExhausted)
	assert.Zero(t, result)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustionWrapsLastError(t *testing.T) {
	restoreSleep(t)

	_, err := Do(2, time.Millisecond, func() (int, error) {
		return 0, errors.New("connection refused")
	})

	require.ErrorIs(t, err, ErrExhausted)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestDoBackoffDoubles(t *testing.T) {
	var delays []time.Duration
	sleep = func(d time.Duration) { delays = append(delays, d) }
	t.Cleanup(func() { sleep = time.Sleep })

	_, _ = Do(3, 2*time.Second, func() (int, error) {
		return 0, errors.New("down")
	})

	require.Len(t, delays, 2)
	assert.Equal(t, 2*time.Second, delays[0])
	assert.Equal(t, 4*time.Second, delays[1])
}

func TestRunStopsOnSuccess(t *testing.T) {
	restoreSleep(t)

	calls := 0
	err := Run(3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("timeout")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRunExhaustion(t *testing.T) {
	restoreSleep(t)

	err := Run(2, time.Millisecond, func() error {
		return errors.New("unreachable")
	})

	require.ErrorIs(t, err, ErrExhausted)
}

// restoreSleep makes retries instantaneous for the duration of a test.
func restoreSleep(t *testing.T) {
	t.Helper()
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = time.Sleep })
}
