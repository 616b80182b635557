package retry

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/claude-pilot/internal/cooldown"
	"github.com/aristath/claude-pilot/internal/corerr"
	"github.com/aristath/claude-pilot/pkg/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestExecuteSucceedsWithoutRetry(t *testing.T) {
	o := New(nil, nil, zerolog.Nop())
	calls := 0
	res := o.Execute(context.Background(), DefaultPolicy(), noSleep, func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, calls)
	assert.Nil(t, res.History)
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	o := New(nil, nil, zerolog.Nop())
	calls := 0
	res := o.Execute(context.Background(), DefaultPolicy(), noSleep, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return corerr.New(corerr.Network, "boom")
		}
		return nil
	})
	require.NoError(t, res.Err)
	assert.Equal(t, 3, calls)
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	o := New(nil, nil, zerolog.Nop())
	calls := 0
	res := o.Execute(context.Background(), Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Strategy: Fixed}, noSleep, func(ctx context.Context) error {
		calls++
		return corerr.New(corerr.System, "nope")
	})
	assert.Error(t, res.Err)
	assert.Equal(t, 2, calls)
	assert.Len(t, res.History, 2)
}

func TestAuthCapsAtTwoAttemptsRegardlessOfMaxAttempts(t *testing.T) {
	o := New(nil, nil, zerolog.Nop())
	calls := 0
	res := o.Execute(context.Background(), Policy{MaxAttempts: 10, BaseDelay: time.Millisecond, Strategy: Fixed}, noSleep, func(ctx context.Context) error {
		calls++
		return corerr.New(corerr.Auth, "denied")
	})
	assert.Error(t, res.Err)
	assert.Equal(t, 2, calls)
}

func TestExponentialDelayCapsAtMaxDelay(t *testing.T) {
	o := New(nil, nil, zerolog.Nop())
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 3 * time.Second, Strategy: Exponential}
	d := o.exponential(p, 10)
	assert.Equal(t, 3*time.Second, d)
}

func TestJitterStaysWithinBoundsAndFloor(t *testing.T) {
	o := New(nil, nil, zerolog.Nop())
	for i := 0; i < 50; i++ {
		d := applyJitter(50*time.Millisecond, o.rand)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
	}
	for i := 0; i < 50; i++ {
		d := applyJitter(time.Second, o.rand)
		assert.GreaterOrEqual(t, d, 900*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
}

func TestCooldownAwareRoutesThroughSmartWait(t *testing.T) {
	det := cooldown.New("claude", clock.Real{}, zerolog.Nop())
	o := New(det, nil, zerolog.Nop())

	calls := 0
	waited := false
	sleeper := func(ctx context.Context, d time.Duration) error {
		waited = true
		return nil
	}

	res := o.Execute(context.Background(), DefaultPolicy(), sleeper, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			info := det.Detect("Error: cooldown: 2s")
			return &corerr.CooldownError{Info: info}
		}
		return nil
	})
	require.NoError(t, res.Err)
	assert.True(t, waited)
}
