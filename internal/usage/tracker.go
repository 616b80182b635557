// Package usage polls an external usage sidecar (§4.3) or falls back to a
// time-window heuristic when no sidecar is available. Grounded on the
// teacher's exec.Command/CombinedOutput idiom in internal/deployment and
// the original's "ccusage blocks" subcommand references.
package usage

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/aristath/claude-pilot/internal/model"
	"github.com/aristath/claude-pilot/pkg/clock"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// minSidecarInterval floors the spacing between sidecar shell-outs: two
// callers racing past the cache-TTL check at once (GetUsageInfo locks only
// around the cache read/write, not the refresh itself) would otherwise both
// spawn a sidecar process concurrently.
const minSidecarInterval = 2 * time.Second

// sidecarCandidates are tried in order (§6 "External process contracts").
var sidecarCandidates = [][]string{
	{"ccusage", "blocks"},
	{"bunx", "ccusage", "blocks"},
	{"npx", "ccusage@latest", "blocks"},
}

var (
	hoursMinutesRe = regexp.MustCompile(`(?i)time\s+remaining:\s*(\d+)h\s*(\d+)m`)
	minutesOnlyRe  = regexp.MustCompile(`(?i)(\d+)m\s+remaining`)
)

// blockSpan is the fixed billing block length (§GLOSSARY "Billing block").
const blockSpan = 5 * time.Hour

// Tracker is the Usage Tracker component (§4.3).
type Tracker struct {
	clock        clock.Clock
	log          zerolog.Logger
	cacheTTL     time.Duration
	timezone     *time.Location
	cliPath      string
	limiter      *rate.Limiter

	mu       sync.Mutex
	cached   *model.UsageInfo
}

// New builds a Tracker. cacheTTL should be the monitor's tick interval
// (§4.3: "returns cached snapshot if younger than the monitor's tick
// interval; else refreshes").
func New(cliPath string, cacheTTL time.Duration, tz *time.Location, c clock.Clock, log zerolog.Logger) *Tracker {
	if tz == nil {
		tz = time.Local
	}
	return &Tracker{
		clock:    c,
		log:      log.With().Str("component", "usage").Logger(),
		cacheTTL: cacheTTL,
		timezone: tz,
		cliPath:  cliPath,
		limiter:  rate.NewLimiter(rate.Every(minSidecarInterval), 1),
	}
}

// GetUsageInfo returns the cached snapshot if still fresh, else refreshes
// by polling the sidecar (falling back to the heuristic on failure).
func (t *Tracker) GetUsageInfo(ctx context.Context) model.UsageInfo {
	t.mu.Lock()
	if t.cached != nil && t.clock.Now().Sub(t.cached.LastUpdated) < t.cacheTTL {
		cached := *t.cached
		t.mu.Unlock()
		return cached
	}
	t.mu.Unlock()

	info := t.refresh(ctx)

	t.mu.Lock()
	t.cached = &info
	t.mu.Unlock()

	return info
}

func (t *Tracker) refresh(ctx context.Context) model.UsageInfo {
	if info, ok := t.pollSidecar(ctx); ok {
		return info
	}
	return t.fallback()
}

// pollSidecar tries each known sidecar invocation until one succeeds and
// its stdout parses against a known pattern.
func (t *Tracker) pollSidecar(ctx context.Context) (model.UsageInfo, bool) {
	if !t.limiter.Allow() {
		return model.UsageInfo{}, false
	}
	for _, argv := range sidecarCandidates {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		out, err := cmd.Output()
		if err != nil {
			continue
		}
		if info, ok := parseSidecarOutput(string(out), t.clock.Now()); ok {
			info.Source = "ccusage"
			return info, true
		}
	}
	return model.UsageInfo{}, false
}

func parseSidecarOutput(text string, now time.Time) (model.UsageInfo, bool) {
	if m := hoursMinutesRe.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		remaining := float64(h*60 + min)
		return model.UsageInfo{
			CurrentBlock: model.UsageBlock{
				RemainingMinutes: remaining,
				TotalMinutes:     blockSpan.Minutes(),
				UsagePercentage:  100 * (1 - remaining/blockSpan.Minutes()),
			},
			IsAvailable: remaining > 0,
			LastUpdated: now,
		}, true
	}
	if m := minutesOnlyRe.FindStringSubmatch(text); m != nil {
		min, _ := strconv.Atoi(m[1])
		remaining := float64(min)
		return model.UsageInfo{
			CurrentBlock: model.UsageBlock{
				RemainingMinutes: remaining,
				TotalMinutes:     blockSpan.Minutes(),
				UsagePercentage:  100 * (1 - remaining/blockSpan.Minutes()),
			},
			IsAvailable: remaining > 0,
			LastUpdated: now,
		}, true
	}
	return model.UsageInfo{}, false
}

// fallback models usage as 5-hour blocks from a fixed daily anchor of
// 00:00 in the tracker's configured timezone ([SUPPLEMENT] §4.3).
func (t *Tracker) fallback() model.UsageInfo {
	now := t.clock.Now().In(t.timezone)
	anchor := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, t.timezone)
	nextAnchor := anchor.AddDate(0, 0, 1)

	elapsed := now.Sub(anchor)
	blockIndex := int64(elapsed / blockSpan)
	blockStart := anchor.Add(time.Duration(blockIndex) * blockSpan)
	blockEnd := blockStart.Add(blockSpan)
	if blockEnd.After(nextAnchor) {
		// the day's last block is short: it ends at the daily anchor
		// instead of a full 5h later (24h is not a multiple of 5h).
		blockEnd = nextAnchor
	}

	remaining := blockEnd.Sub(now).Minutes()
	if remaining < 0 {
		remaining = 0
	}

	return model.UsageInfo{
		CurrentBlock: model.UsageBlock{
			RemainingMinutes: remaining,
			TotalMinutes:     blockSpan.Minutes(),
			ResetTime:        &blockEnd,
			UsagePercentage:  100 * (1 - remaining/blockSpan.Minutes()),
		},
		NextBlockStarts: &blockEnd,
		IsAvailable:     remaining > 0,
		Source:          "fallback-unknown",
		LastUpdated:     t.clock.Now(),
	}
}

// IsAvailable reports the last-known availability without forcing a
// refresh beyond the normal cache policy.
func (t *Tracker) IsAvailable(ctx context.Context) bool {
	return t.GetUsageInfo(ctx).IsAvailable
}

// Source reports which source produced the cached snapshot.
func (t *Tracker) Source(ctx context.Context) string {
	return t.GetUsageInfo(ctx).Source
}
