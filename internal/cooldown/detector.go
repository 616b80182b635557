// Package cooldown converts free-form CLI output/error text into a
// structured model.CooldownInfo (§4.2). Stateless and safe for shared read
// access; ported regex-for-regex from the original's core/cooldown.rs.
package cooldown

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/claude-pilot/internal/model"
	"github.com/aristath/claude-pilot/pkg/clock"
	"github.com/rs/zerolog"
)

var (
	usageLimitRegex = regexp.MustCompile(`(?i)(claude\s+)?usage\s+limit\s+reached.*?reset\s+at\s+(\d{1,2}[:\d]*(?:\s*[APMapm]{2})?(?:\s*\([^)]+\))?)`)
	timeParsingRe   = regexp.MustCompile(`(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)
	rateLimitRegex  = regexp.MustCompile(`(?i)rate\s+limit.*?(\d+)\s+(seconds?|minutes?|hours?)`)

	// secondsRegexes are tried in order; the first match wins (§4.2 priority 2).
	secondsRegexes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)cooldown[:\s]+(\d+)s`),
		regexp.MustCompile(`(?i)wait\s+(\d+)\s+seconds?`),
		regexp.MustCompile(`(?i)retry\s+in\s+(\d+)\s+seconds?`),
		regexp.MustCompile(`(?i)(\d+)\s+seconds?\s+remaining`),
		regexp.MustCompile(`(?i)try\s+again\s+in\s+(\d+)\s+seconds?`),
		regexp.MustCompile(`(?i)cooldown.*?(\d+)`),
	}

	quotaPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)api\s+quota\s+exceeded`),
		regexp.MustCompile(`(?i)monthly\s+limit\s+reached`),
		regexp.MustCompile(`(?i)billing\s+quota\s+exceeded`),
		regexp.MustCompile(`(?i)insufficient\s+credits`),
	}
)

// staleCooldownWindow is the "not currently cooling" threshold (§4.2
// priority 1: "If resulting duration > 6 hours, treat as not currently
// cooling").
const staleCooldownWindow = 6 * time.Hour

// apiQuotaDefaultWindow is the default wait when a quota-exhausted pattern
// is matched (§4.2 priority 4).
const apiQuotaDefaultWindow = time.Hour

// Detector classifies CLI output into CooldownInfo. It shares a single
// injectable clock with the Adaptive Monitor (§9 "Time sources").
type Detector struct {
	clock   clock.Clock
	cliPath string
	log     zerolog.Logger
}

// New builds a Detector. cliPath is the external AI CLI binary used by
// CheckViaDiagnostic.
func New(cliPath string, c clock.Clock, log zerolog.Logger) *Detector {
	return &Detector{clock: c, cliPath: cliPath, log: log.With().Str("component", "cooldown").Logger()}
}

// Detect is the pure entry point: it tries each pattern in priority order
// and returns the first match, or nil if the text carries no cooldown
// signal.
func (d *Detector) Detect(text string) *model.CooldownInfo {
	if info := d.detectUsageLimit(text); info != nil {
		return info
	}
	if info := d.detectSecondsCooldown(text); info != nil {
		return info
	}
	if info := d.detectRateLimit(text); info != nil {
		return info
	}
	if info := d.detectAPIQuota(text); info != nil {
		return info
	}
	return nil
}

func (d *Detector) detectUsageLimit(text string) *model.CooldownInfo {
	matches := usageLimitRegex.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}
	// take the last match — the most recent error message
	m := matches[len(matches)-1]
	fullMatch := text[m[0]:m[1]]
	resetTimeStr := text[m[4]:m[5]]

	resetTime, ok := d.parseResetTime(resetTimeStr)
	if !ok {
		return nil
	}

	now := d.clock.Now()
	duration := resetTime.Sub(now)

	if duration > staleCooldownWindow || duration <= 0 {
		return &model.CooldownInfo{
			IsCooling:       false,
			ResetTime:       &resetTime,
			OriginalMessage: fullMatch,
			Pattern:         model.PatternUsageLimitReached,
		}
	}

	secondsRemaining := int64(duration.Seconds())
	if secondsRemaining < 0 {
		secondsRemaining = 0
	}
	next := resetTime
	return &model.CooldownInfo{
		IsCooling:         true,
		SecondsRemaining:  secondsRemaining,
		NextAvailableTime: &next,
		ResetTime:         &resetTime,
		OriginalMessage:   fullMatch,
		Pattern:           model.PatternUsageLimitReached,
	}
}

// parseResetTime parses a clock-time fragment like "4:30 PM" or "14:30",
// interpreting it in the local time zone and rolling to the next day if the
// parsed instant is already ≤ now (§4.2 priority 1, strict ≤ per §8).
func (d *Detector) parseResetTime(raw string) (time.Time, bool) {
	clean := strings.ToLower(strings.Map(func(r rune) rune {
		switch r {
		case '(', ')':
			return -1
		}
		if isSpace(r) {
			return ' '
		}
		return r
	}, raw))
	clean = strings.TrimSpace(clean)

	caps := timeParsingRe.FindStringSubmatch(clean)
	if caps == nil {
		return time.Time{}, false
	}

	hours, err := strconv.Atoi(caps[1])
	if err != nil {
		return time.Time{}, false
	}
	minutes := 0
	if caps[2] != "" {
		minutes, _ = strconv.Atoi(caps[2])
	}
	ampm := caps[3]

	if hours > 23 || minutes > 59 {
		return time.Time{}, false
	}

	finalHours := hours
	switch ampm {
	case "pm":
		if hours != 12 {
			finalHours += 12
		}
	case "am":
		if hours == 12 {
			finalHours = 0
		}
	}
	if finalHours >= 24 {
		return time.Time{}, false
	}

	now := d.clock.Now()
	local := now.In(time.Local)
	target := time.Date(local.Year(), local.Month(), local.Day(), finalHours, minutes, 0, 0, time.Local)

	if !target.After(now) { // strict ≤: equal-or-past rolls to the next day
		target = target.Add(24 * time.Hour)
	}

	return target, true
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func (d *Detector) detectSecondsCooldown(text string) *model.CooldownInfo {
	for _, re := range secondsRegexes {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		seconds, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		return &model.CooldownInfo{
			IsCooling:        seconds > 0,
			SecondsRemaining: seconds,
			OriginalMessage:  m[0],
			Pattern:          model.PatternRateLimitExceeded,
			RateLimitSeconds: seconds,
		}
	}
	return nil
}

func (d *Detector) detectRateLimit(text string) *model.CooldownInfo {
	m := rateLimitRegex.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	number, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil
	}
	unit := strings.ToLower(m[2])

	var seconds int64
	switch {
	case strings.HasPrefix(unit, "second"):
		seconds = number
	case strings.HasPrefix(unit, "minute"):
		seconds = number * 60
	case strings.HasPrefix(unit, "hour"):
		seconds = number * 3600
	default:
		return nil
	}

	return &model.CooldownInfo{
		IsCooling:        seconds > 0,
		SecondsRemaining: seconds,
		OriginalMessage:  m[0],
		Pattern:          model.PatternRateLimitExceeded,
		RateLimitSeconds: seconds,
	}
}

func (d *Detector) detectAPIQuota(text string) *model.CooldownInfo {
	for _, re := range quotaPatterns {
		loc := re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		resetTime := d.clock.Now().Add(apiQuotaDefaultWindow)
		return &model.CooldownInfo{
			IsCooling:         true,
			SecondsRemaining:  int64(apiQuotaDefaultWindow.Seconds()),
			NextAvailableTime: &resetTime,
			ResetTime:         &resetTime,
			OriginalMessage:   text[loc[0]:loc[1]],
			Pattern:           model.PatternAPIQuotaExhausted,
		}
	}
	return nil
}

// diagnosticOutput is the expected shape of `{cli} doctor --json`.
type diagnosticOutput struct {
	CooldownSeconds *int64 `json:"cooldown_seconds"`
}

// CheckViaDiagnostic spawns the CLI's diagnostic subcommand and reports the
// authoritative cooldown_seconds if present, else is_cooling=false (§4.2).
func (d *Detector) CheckViaDiagnostic(ctx context.Context) (*model.CooldownInfo, error) {
	cmd := exec.CommandContext(ctx, d.cliPath, "doctor", "--json")
	out, err := cmd.Output()
	if err != nil {
		d.log.Debug().Err(err).Msg("diagnostic subcommand failed")
		return &model.CooldownInfo{IsCooling: false, OriginalMessage: "diagnostic command failed"}, nil
	}

	var diag diagnosticOutput
	if err := json.Unmarshal(out, &diag); err != nil || diag.CooldownSeconds == nil {
		return &model.CooldownInfo{IsCooling: false, OriginalMessage: string(out)}, nil
	}

	secs := *diag.CooldownSeconds
	var next *time.Time
	if secs > 0 {
		t := d.clock.Now().Add(time.Duration(secs) * time.Second)
		next = &t
	}

	return &model.CooldownInfo{
		IsCooling:         secs > 0,
		SecondsRemaining:  secs,
		NextAvailableTime: next,
		OriginalMessage:   string(out),
		Pattern:            model.PatternSpecificError,
		ErrorCode:          "doctor_check",
	}, nil
}

// Format renders a human-readable summary of a CooldownInfo (§4.2).
func Format(info *model.CooldownInfo) string {
	if info == nil || !info.IsCooling {
		return "no active cooldown"
	}
	return fmt.Sprintf("cooling down: %d seconds remaining (%s)", info.SecondsRemaining, info.Pattern)
}
