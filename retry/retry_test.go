package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesRetryableUntilExhausted(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return Retryable(errors.New("flaky"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, IsRetryable(err))
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), func(context.Context) error {
		calls++
		return errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RecoversAfterTransientFailures(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("flaky"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_CancelledDuringSleep(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, p, func(context.Context) error {
			return Retryable(errors.New("flaky"))
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Do did not abort on cancellation")
	}
}

func TestDelay_BoundsWithJitter(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	for attempt := 1; attempt <= 5; attempt++ {
		base := p.BaseDelay << (attempt - 1)
		if base > p.MaxDelay {
			base = p.MaxDelay
		}
		for i := 0; i < 50; i++ {
			d := p.Delay(attempt)
			assert.GreaterOrEqual(t, d, base, "attempt %d", attempt)
			assert.Less(t, d, base+base/10+time.Millisecond, "attempt %d", attempt)
		}
	}
}

func TestFromStatus(t *testing.T) {
	assert.NoError(t, FromStatus(200, ""))
	assert.NoError(t, FromStatus(302, ""))

	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		err := FromStatus(code, "")
		require.Error(t, err)
		assert.True(t, IsRetryable(err), "status %d should be retryable", code)
	}

	for _, code := range []int{400, 401, 403, 404, 422} {
		err := FromStatus(code, "nope")
		require.Error(t, err)
		assert.False(t, IsRetryable(err), "status %d should not be retryable", code)

		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, code, se.Code)
	}
}

func TestPolicy_Validate(t *testing.T) {
	assert.Error(t, Policy{MaxAttempts: 0, BaseDelay: 1, MaxDelay: 2}.Validate())
	assert.Error(t, Policy{MaxAttempts: 1, BaseDelay: 2, MaxDelay: 1}.Validate())
	assert.NoError(t, DefaultPolicy().Validate())
}
