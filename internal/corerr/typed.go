package corerr

import "fmt"

// CooldownPayload is the minimal shape corerr needs from a cooldown
// descriptor; *model.CooldownInfo satisfies this without corerr
// importing that package back.
type CooldownPayload interface {
	Cooling() bool
	RemainingSeconds() int64
}

// CooldownError carries the detector's structured info alongside the
// classification, so a caller can errors.As into it and read
// SecondsRemaining without re-parsing anything.
type CooldownError struct {
	Info CooldownPayload
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown: %d seconds remaining", e.Info.RemainingSeconds())
}

func (e *CooldownError) Kind() Kind { return Cooldown }

// SecurityCheckPayload mirrors the shape of the Executor's
// SecurityCheckResult without an import cycle.
type SecurityCheckPayload interface {
	Passed() bool
	RiskLevel() string
}

// SecurityBlockedError carries the failed security check.
type SecurityBlockedError struct {
	Result SecurityCheckPayload
}

func (e *SecurityBlockedError) Error() string {
	return fmt.Sprintf("security check blocked invocation (risk=%s)", e.Result.RiskLevel())
}

func (e *SecurityBlockedError) Kind() Kind { return SecurityBlocked }
