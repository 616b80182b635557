// Package retry implements the Retry Orchestrator (§4.5): wraps a fallible
// operation with attempt/backoff/jitter/cooldown-awareness policy. Grounded
// on the teacher-adjacent RetryExecutor in netresearch-ofelia's core/retry.go
// (attempt loop, exponential-with-cap delay, structured logging per
// attempt), generalized to the five strategies and cooldown integration
// required here.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/aristath/claude-pilot/internal/cooldown"
	"github.com/aristath/claude-pilot/internal/corerr"
	"github.com/aristath/claude-pilot/internal/model"
	"github.com/aristath/claude-pilot/internal/usage"
	"github.com/creasty/defaults"
	"github.com/rs/zerolog"
)

// Strategy selects the delay formula between attempts (§4.5).
type Strategy string

const (
	Exponential     Strategy = "exponential"
	Linear          Strategy = "linear"
	Fixed           Strategy = "fixed"
	AdaptiveCooldown Strategy = "adaptive_cooldown"
	Smart           Strategy = "smart"
)

// Policy configures a retried operation. Struct-tag defaults mirror the
// Smart-strategy defaults described in §4.5, filled by DefaultPolicy via
// creasty/defaults rather than listed twice.
type Policy struct {
	MaxAttempts   int           `default:"3"`
	BaseDelay     time.Duration `default:"1s"`
	MaxDelay      time.Duration `default:"5m"`
	Multiplier    float64       `default:"2"`
	Jitter        bool          `default:"true"`
	CooldownAware bool          `default:"true"`
	Strategy      Strategy      `default:"smart"`
}

// DefaultPolicy returns a Policy with every field at its §4.5 default.
func DefaultPolicy() Policy {
	p := Policy{}
	_ = defaults.Set(&p)
	return p
}

// Attempt records one invocation in the in-memory history (§4.5).
type Attempt struct {
	Number          int
	Timestamp       time.Time
	ErrorKind       corerr.Kind
	Delay           time.Duration
	DetectedCooldown bool
}

// Orchestrator wraps operations with Policy. It holds no cross-call state
// beyond its collaborators; attempt history is per-call (§3 "Executor owns
// transient resources for the lifetime of one invocation").
type Orchestrator struct {
	cooldownDetector *cooldown.Detector
	usageTracker     *usage.Tracker
	log              zerolog.Logger
	rand             *rand.Rand
}

// New builds an Orchestrator. Either collaborator may be nil if the caller
// never uses AdaptiveCooldown/Smart strategies or cooldown_aware policies.
func New(detector *cooldown.Detector, tracker *usage.Tracker, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cooldownDetector: detector,
		usageTracker:     tracker,
		log:              log.With().Str("component", "retry").Logger(),
		rand:             rand.New(rand.NewSource(1)),
	}
}

// Classify maps an error to one of §4.5's classification kinds. Errors not
// produced via corerr are classified Unknown.
func Classify(err error) corerr.Kind {
	switch k := corerr.KindOf(err); k {
	case corerr.Cooldown, corerr.RateLimit, corerr.Network, corerr.Auth, corerr.Timeout, corerr.System:
		return k
	default:
		return corerr.Unknown
	}
}

// Op is the operation under retry. It returns only an error; Execute
// derives the error kind from it via Classify.
type Op func(ctx context.Context) error

// Result is returned by Execute.
type Result struct {
	History []Attempt
	Err     error
}

// Execute runs op under p, retrying per the strategy until success or
// exhaustion. On success, history is discarded (§4.5 "on success, history
// is cleared") — callers needing the trail use the returned Result only on
// failure paths; on success Result.History is nil.
func (o *Orchestrator) Execute(ctx context.Context, p Policy, sleep cooldown.Sleeper, op Op) Result {
	if sleep == nil {
		sleep = cooldown.RealSleep
	}

	var history []Attempt
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for n := 1; n <= maxAttempts; n++ {
		err := op(ctx)
		if err == nil {
			return Result{}
		}
		lastErr = err

		kind := Classify(err)
		effectiveMax := maxAttempts
		if kind == corerr.Auth && effectiveMax > 2 {
			effectiveMax = 2
		}

		if n >= effectiveMax {
			history = append(history, Attempt{Number: n, Timestamp: time.Now(), ErrorKind: kind})
			break
		}

		delay, cd := o.computeDelay(ctx, p, kind, n, err)
		history = append(history, Attempt{Number: n, Timestamp: time.Now(), ErrorKind: kind, Delay: delay, DetectedCooldown: cd != nil})

		o.log.Warn().Int("attempt", n).Str("kind", string(kind)).Dur("delay", delay).Err(err).Msg("operation failed, retrying")

		if p.CooldownAware && kind == corerr.Cooldown && cd != nil && o.cooldownDetector != nil {
			if werr := o.cooldownDetector.SmartWait(ctx, cd, sleep); werr != nil {
				return Result{History: history, Err: werr}
			}
			continue
		}

		if werr := sleep(ctx, delay); werr != nil {
			return Result{History: history, Err: werr}
		}
	}

	return Result{History: history, Err: lastErr}
}

// computeDelay returns the delay for attempt n and, when the error carries
// cooldown info, that info (so the caller can route through smart_wait
// instead of a plain sleep).
func (o *Orchestrator) computeDelay(ctx context.Context, p Policy, kind corerr.Kind, n int, err error) (time.Duration, *model.CooldownInfo) {
	var cd *model.CooldownInfo
	if kind == corerr.Cooldown {
		var ce *corerr.CooldownError
		if errors.As(err, &ce) {
			if info, ok := ce.Info.(*model.CooldownInfo); ok {
				cd = info
			}
		}
	}

	delay := o.strategyDelay(ctx, p, kind, n, cd)

	if p.Jitter {
		delay = applyJitter(delay, o.rand)
	}
	return delay, cd
}

func (o *Orchestrator) strategyDelay(ctx context.Context, p Policy, kind corerr.Kind, n int, cd *model.CooldownInfo) time.Duration {
	strategy := p.Strategy
	if strategy == "" {
		strategy = Smart
	}

	switch strategy {
	case Exponential:
		return o.exponential(p, n)
	case Linear:
		return o.linear(p, n)
	case Fixed:
		return p.BaseDelay
	case AdaptiveCooldown:
		return o.adaptiveCooldown(ctx, p, n)
	default: // Smart
		return o.smart(ctx, p, kind, n, cd)
	}
}

func (o *Orchestrator) exponential(p Policy, n int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := float64(p.BaseDelay) * pow(mult, n-1)
	return capDuration(time.Duration(d), p.MaxDelay)
}

func (o *Orchestrator) linear(p Policy, n int) time.Duration {
	return capDuration(p.BaseDelay*time.Duration(n), p.MaxDelay)
}

// adaptiveCooldown consults the Usage Tracker and scales the wait to the
// remaining time in the current billing block (§4.5).
func (o *Orchestrator) adaptiveCooldown(ctx context.Context, p Policy, n int) time.Duration {
	if o.usageTracker == nil {
		return o.exponential(p, n)
	}
	info := o.usageTracker.GetUsageInfo(ctx)
	remaining := info.CurrentBlock.RemainingMinutes
	switch {
	case remaining > 30:
		return 10 * time.Minute
	case remaining >= 5:
		return 2 * time.Minute
	case remaining > 0:
		return 30 * time.Second
	default:
		return o.exponential(p, n)
	}
}

// smart dispatches per-kind as described in §4.5's Smart strategy table.
func (o *Orchestrator) smart(ctx context.Context, p Policy, kind corerr.Kind, n int, cd *model.CooldownInfo) time.Duration {
	switch kind {
	case corerr.Cooldown:
		return o.adaptiveCooldown(ctx, p, n)
	case corerr.RateLimit:
		return capDuration(30*time.Second*time.Duration(pow(2, n-1)), 5*time.Minute)
	case corerr.Network:
		return capDuration(5*time.Second*time.Duration(n), 60*time.Second)
	case corerr.Timeout:
		return capDuration(10*time.Second*time.Duration(n), 120*time.Second)
	case corerr.Auth:
		return 5 * time.Second
	case corerr.System:
		return o.exponential(p, n)
	default: // Unknown
		d := o.exponential(p, n)
		if d < 30*time.Second {
			d = 30 * time.Second
		}
		return d
	}
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func capDuration(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}

// applyJitter scales d by a uniform factor in [0.9, 1.1] with a 100ms floor
// (§4.5).
func applyJitter(d time.Duration, r *rand.Rand) time.Duration {
	factor := 0.9 + r.Float64()*0.2
	jittered := time.Duration(float64(d) * factor)
	if jittered < 100*time.Millisecond {
		jittered = 100 * time.Millisecond
	}
	return jittered
}

