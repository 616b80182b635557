package model

import "time"

// PatternKind tags which §4.2 input pattern produced a CooldownInfo.
type PatternKind string

const (
	PatternUsageLimitReached PatternKind = "usage_limit_reached"
	PatternRateLimitExceeded PatternKind = "rate_limit_exceeded"
	PatternAPIQuotaExhausted PatternKind = "api_quota_exhausted"
	PatternSpecificError     PatternKind = "specific_error"
)

// CooldownInfo is the Cooldown Detector's runtime descriptor (§3).
type CooldownInfo struct {
	IsCooling         bool
	SecondsRemaining  int64
	NextAvailableTime *time.Time
	ResetTime         *time.Time
	OriginalMessage   string
	Pattern           PatternKind

	// Pattern-specific payload, only one populated per Pattern value.
	RateLimitSeconds int64   // PatternRateLimitExceeded
	ErrorCode        string  // PatternSpecificError
	ErrorMessage     string  // PatternSpecificError
}

// Cooling and RemainingSeconds satisfy corerr.CooldownPayload so
// *corerr.CooldownError can carry a *CooldownInfo without an import cycle.
func (c *CooldownInfo) Cooling() bool            { return c.IsCooling }
func (c *CooldownInfo) RemainingSeconds() int64  { return c.SecondsRemaining }
