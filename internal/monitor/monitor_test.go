package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/claude-pilot/internal/usage"
	"github.com/aristath/claude-pilot/pkg/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerCheckEmitsStatusUpdatedOnFirstRun(t *testing.T) {
	// No ccusage/bunx/npx sidecar is on PATH in this test environment, so the
	// tracker falls back to Source="fallback-unknown", which DeriveMode
	// short-circuits to ModeUnknown regardless of remaining minutes (§4.4 row
	// 1) — the same as the monitor's initial currentMode, so no mode change
	// event fires on the first check, only the unconditional status update.
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	c := clock.Fixed{At: now}
	tr := usage.New("claude", time.Minute, time.UTC, c, zerolog.Nop())
	m := New(tr, c, zerolog.Nop())

	events := m.Subscribe()
	require.NoError(t, m.TriggerCheck(context.Background()))

	select {
	case ev := <-events:
		assert.Equal(t, EventStatusUpdated, ev.Type)
	default:
		t.Fatal("expected a status_updated event")
	}
}

func TestStatusReportsCheckCount(t *testing.T) {
	// Same fallback-unknown environment as above: DeriveMode stays pinned to
	// ModeUnknown across both checks, so mode_changes stays 0 — check_count
	// is the only counter this test can exercise without a sidecar on PATH.
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	c := clock.Fixed{At: now}
	tr := usage.New("claude", time.Minute, time.UTC, c, zerolog.Nop())
	m := New(tr, c, zerolog.Nop())

	require.NoError(t, m.TriggerCheck(context.Background()))
	require.NoError(t, m.TriggerCheck(context.Background()))

	st := m.Status()
	assert.Equal(t, uint64(2), st.CheckCount)
	assert.LessOrEqual(t, st.ModeChanges, st.CheckCount)
	assert.NotNil(t, st.LastUsageInfo)
}

func TestSlowSubscriberDoesNotBlockBroadcast(t *testing.T) {
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	c := clock.Fixed{At: now}
	tr := usage.New("claude", time.Minute, time.UTC, c, zerolog.Nop())
	m := New(tr, c, zerolog.Nop())

	m.Subscribe() // never drained
	for i := 0; i < subscriberBuffer+5; i++ {
		require.NoError(t, m.TriggerCheck(context.Background()))
	}
}
