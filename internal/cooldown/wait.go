package cooldown

import (
	"context"
	"time"

	"github.com/aristath/claude-pilot/internal/model"
)

const (
	shortWaitThreshold  = 300 * time.Second // ≤5 min: sleep exact duration
	mediumWaitThreshold = 1800 * time.Second // ≤30 min: sleep in 60s segments
	longPollInterval    = 10 * time.Minute
	longReprobeInterval = 5 * time.Minute
)

// Sleeper abstracts time.Sleep so tests can run SmartWait without actually
// blocking for real seconds.
type Sleeper func(ctx context.Context, d time.Duration) error

// RealSleep sleeps for d or until ctx is cancelled.
func RealSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SmartWait implements the three-tier wait policy of §4.2: short waits
// sleep exactly; medium waits sleep in 60s segments (logging remaining
// time each segment); long waits sleep 10 minutes then re-probe the
// diagnostic every 5 minutes, shortening the wait if the source reports a
// smaller remaining duration.
func (d *Detector) SmartWait(ctx context.Context, info *model.CooldownInfo, sleep Sleeper) error {
	remaining := time.Duration(info.SecondsRemaining) * time.Second

	if remaining <= shortWaitThreshold {
		return sleep(ctx, remaining)
	}

	if remaining <= mediumWaitThreshold {
		for remaining > 0 {
			segment := 60 * time.Second
			if remaining < segment {
				segment = remaining
			}
			d.log.Info().Dur("remaining", remaining).Msg("cooldown wait: remaining")
			if err := sleep(ctx, segment); err != nil {
				return err
			}
			remaining -= segment
		}
		return nil
	}

	// the first long sleep is 10 minutes; later ones re-probe every 5.
	first := true
	for remaining > 0 {
		segment := longReprobeInterval
		if first {
			segment = longPollInterval
			first = false
		}
		if remaining < segment {
			segment = remaining
		}
		if err := sleep(ctx, segment); err != nil {
			return err
		}
		remaining -= segment

		if remaining <= 0 {
			return nil
		}

		reprobe, err := d.CheckViaDiagnostic(ctx)
		if err == nil && reprobe.IsCooling {
			reported := time.Duration(reprobe.SecondsRemaining) * time.Second
			if reported < remaining {
				remaining = reported
			}
		} else if err == nil && !reprobe.IsCooling {
			return nil
		}
	}
	return nil
}
