package cooldown

import (
	"testing"
	"time"

	"github.com/aristath/claude-pilot/internal/model"
	"github.com/aristath/claude-pilot/pkg/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario 1: "Detect exact seconds cooldown" (§8).
func TestDetectExactSecondsCooldown(t *testing.T) {
	d := New("claude", clock.Real{}, zerolog.Nop())
	info := d.Detect("Error: cooldown: 123s")
	require.NotNil(t, info)
	assert.True(t, info.IsCooling)
	assert.Equal(t, int64(123), info.SecondsRemaining)
	assert.Equal(t, model.PatternRateLimitExceeded, info.Pattern)
}

// Scenario 2: "Detect usage-limit with local reset" (§8).
func TestDetectUsageLimitWithLocalReset(t *testing.T) {
	now := time.Date(2026, 1, 1, 14, 0, 0, 0, time.Local)
	d := New("claude", clock.Fixed{At: now}, zerolog.Nop())

	info := d.Detect("Claude usage limit reached. Your limit will reset at 4:30 PM (EST)")
	require.NotNil(t, info)
	assert.Equal(t, model.PatternUsageLimitReached, info.Pattern)
	assert.True(t, info.IsCooling)
	assert.GreaterOrEqual(t, info.SecondsRemaining, int64(120*60))
	assert.LessOrEqual(t, info.SecondsRemaining, int64(150*60))
}

func TestDetectUsageLimitStaleBeyondSixHours(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)
	d := New("claude", clock.Fixed{At: now}, zerolog.Nop())

	// reset at 8am is 8 hours away from midnight — beyond the 6h window.
	info := d.Detect("usage limit reached, reset at 8:00 AM")
	require.NotNil(t, info)
	assert.False(t, info.IsCooling)
}

func TestRateLimitWithMinutes(t *testing.T) {
	d := New("claude", clock.Real{}, zerolog.Nop())
	info := d.Detect("rate limit exceeded, retry after 5 minutes")
	require.NotNil(t, info)
	assert.Equal(t, int64(300), info.SecondsRemaining)
}

func TestAPIQuotaExhaustedDefaultsToOneHour(t *testing.T) {
	d := New("claude", clock.Real{}, zerolog.Nop())
	info := d.Detect("Error: API quota exceeded for this billing period")
	require.NotNil(t, info)
	assert.Equal(t, model.PatternAPIQuotaExhausted, info.Pattern)
	assert.Equal(t, int64(3600), info.SecondsRemaining)
}

func TestDetectReturnsNilForPlainText(t *testing.T) {
	d := New("claude", clock.Real{}, zerolog.Nop())
	assert.Nil(t, d.Detect("everything is fine"))
}

// Boundary: reset-time 25:00 or 12:70 → no match (§8).
func TestParseResetTimeRejectsOutOfRangeValues(t *testing.T) {
	d := New("claude", clock.Real{}, zerolog.Nop())
	_, ok := d.parseResetTime("25:00")
	assert.False(t, ok)
	_, ok = d.parseResetTime("12:70")
	assert.False(t, ok)
}

// Boundary: reset-time equal to now rolls to the next day (strict ≤).
func TestParseResetTimeEqualToNowRollsToNextDay(t *testing.T) {
	now := time.Date(2026, 1, 1, 16, 30, 0, 0, time.Local)
	d := New("claude", clock.Fixed{At: now}, zerolog.Nop())

	parsed, ok := d.parseResetTime("4:30 PM")
	require.True(t, ok)
	assert.Equal(t, now.Add(24*time.Hour), parsed)
}

func TestDetectIsDeterministicForFixedClock(t *testing.T) {
	now := time.Date(2026, 3, 4, 9, 0, 0, 0, time.Local)
	d := New("claude", clock.Fixed{At: now}, zerolog.Nop())

	a := d.Detect("usage limit reached, reset at 10:00 AM")
	b := d.Detect("usage limit reached, reset at 10:00 AM")
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, a.SecondsRemaining, b.SecondsRemaining)
}
