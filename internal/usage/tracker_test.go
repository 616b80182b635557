package usage

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/claude-pilot/pkg/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackHeuristicMidBlock(t *testing.T) {
	now := time.Date(2026, 1, 1, 7, 0, 0, 0, time.UTC) // 7:00, anchor 00:00, block [5,10)
	tr := New("claude", time.Minute, time.UTC, clock.Fixed{At: now}, zerolog.Nop())

	info := tr.GetUsageInfo(context.Background())
	assert.Equal(t, "fallback-unknown", info.Source)
	assert.True(t, info.IsAvailable)
	assert.InDelta(t, 180, info.CurrentBlock.RemainingMinutes, 0.01)
}

func TestFallbackHeuristicShortLastBlock(t *testing.T) {
	now := time.Date(2026, 1, 1, 22, 0, 0, 0, time.UTC) // block [20,24) is the short 4h tail
	tr := New("claude", time.Minute, time.UTC, clock.Fixed{At: now}, zerolog.Nop())

	info := tr.GetUsageInfo(context.Background())
	require.NotNil(t, info.CurrentBlock.ResetTime)
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), *info.CurrentBlock.ResetTime)
	assert.InDelta(t, 120, info.CurrentBlock.RemainingMinutes, 0.01)
}

func TestCacheServesWithinTTL(t *testing.T) {
	mc := clock.NewManual(time.Date(2026, 1, 1, 7, 0, 0, 0, time.UTC))
	tr := New("claude", time.Minute, time.UTC, mc, zerolog.Nop())

	a := tr.GetUsageInfo(context.Background())
	mc.Advance(30 * time.Second)
	b := tr.GetUsageInfo(context.Background())

	assert.Equal(t, a.LastUpdated, b.LastUpdated)
}
