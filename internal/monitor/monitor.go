// Package monitor implements the Adaptive Monitor (§4.4): a background loop
// that polls the Usage Tracker and adapts its own poll interval to the
// derived MonitoringMode, broadcasting mode/availability transitions to any
// subscriber. Ported from the original's adaptive_monitor.rs tokio loop,
// using the teacher's events.Bus pub/sub idiom adapted to bounded per-
// subscriber channels (§5 "bounded broadcast channel, buffer 100").
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/claude-pilot/internal/model"
	"github.com/aristath/claude-pilot/internal/usage"
	"github.com/aristath/claude-pilot/pkg/clock"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// EventType classifies a MonitoringEvent.
type EventType string

const (
	EventModeChanged         EventType = "mode_changed"
	EventStatusUpdated       EventType = "status_updated"
	EventAvailabilityChanged EventType = "availability_changed"
	EventError               EventType = "error"
)

// Event is broadcast to subscribers on every check and on every transition.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Mode      model.MonitoringMode
	Usage     *model.UsageInfo
	Message   string
}

// subscriberBuffer is the per-subscriber channel depth (§5).
const subscriberBuffer = 100

// sampleWindow bounds how many recent remaining-minutes samples feed the
// rolling mean/stddev reported in Status (§SUPPLEMENT "trend reporting").
const sampleWindow = 20

// Status is a snapshot of the monitor's running state.
type Status struct {
	CurrentMode   model.MonitoringMode
	NextCheckAt   time.Time
	LastUsageInfo *model.UsageInfo
	CheckCount    uint64
	ModeChanges   uint64
	UptimeSeconds int64
	MeanRemaining float64
	StdDevRemain  float64
}

// Monitor is the Adaptive Monitor component (§4.4).
type Monitor struct {
	tracker *usage.Tracker
	clock   clock.Clock
	log     zerolog.Logger

	mu            sync.Mutex
	currentMode   model.MonitoringMode
	lastCheck     *time.Time
	lastUsageInfo *model.UsageInfo
	checkCount    uint64
	modeChanges   uint64
	startTime     time.Time
	running       bool
	samples       []float64

	subMu sync.Mutex
	subs  []chan Event

	cancel context.CancelFunc
}

// New builds a Monitor. It shares the same clock.Clock instance as the
// Cooldown Detector (§9 "Monitor and Cooldown Detector must use the same
// clock").
func New(tracker *usage.Tracker, c clock.Clock, log zerolog.Logger) *Monitor {
	return &Monitor{
		tracker:     tracker,
		clock:       c,
		log:         log.With().Str("component", "monitor").Logger(),
		currentMode: model.ModeUnknown,
		startTime:   c.Now(),
	}
}

// Subscribe returns a buffered channel of future events. The channel is
// never closed by Monitor; callers should stop reading once done with it.
func (m *Monitor) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

func (m *Monitor) broadcast(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			// slow subscriber: drop rather than block the monitor loop.
			m.log.Warn().Msg("monitor subscriber buffer full, dropping event")
		}
	}
}

// Start runs the adaptive poll loop until ctx is cancelled or Stop is
// called. A call made while the loop is already running returns at once.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	m.log.Info().Msg("adaptive monitor starting")

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("adaptive monitor stopped")
			return
		default:
		}

		if err := m.performCheck(ctx); err != nil {
			m.log.Error().Err(err).Msg("monitor check failed")
			m.broadcast(Event{Timestamp: m.clock.Now(), Type: EventError, Mode: m.Mode(), Message: err.Error()})
		}

		m.mu.Lock()
		interval := m.currentMode.DefaultInterval()
		m.mu.Unlock()

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Stop halts the running loop, if any.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.running = false
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// TriggerCheck performs a single check immediately, outside the loop's own
// cadence (§4.4 "manual trigger").
func (m *Monitor) TriggerCheck(ctx context.Context) error {
	return m.performCheck(ctx)
}

func (m *Monitor) performCheck(ctx context.Context) error {
	now := m.clock.Now()
	m.mu.Lock()
	m.lastCheck = &now
	m.mu.Unlock()

	info := m.tracker.GetUsageInfo(ctx)
	newMode := model.DeriveMode(info)

	m.mu.Lock()
	m.checkCount++
	oldMode := m.currentMode
	var lastInfo *model.UsageInfo
	if m.lastUsageInfo != nil {
		copied := *m.lastUsageInfo
		lastInfo = &copied
	}

	modeChanged := newMode != oldMode
	if modeChanged {
		m.currentMode = newMode
		m.modeChanges++
	}

	m.samples = append(m.samples, info.CurrentBlock.RemainingMinutes)
	if len(m.samples) > sampleWindow {
		m.samples = m.samples[len(m.samples)-sampleWindow:]
	}

	infoCopy := info
	m.lastUsageInfo = &infoCopy
	m.mu.Unlock()

	if modeChanged {
		m.log.Info().Str("from", string(oldMode)).Str("to", string(newMode)).Msg("monitoring mode changed")
		m.broadcast(Event{
			Timestamp: now,
			Type:      EventModeChanged,
			Mode:      newMode,
			Usage:     &infoCopy,
			Message:   "monitoring mode changed from " + string(oldMode) + " to " + string(newMode),
		})
	}

	if lastInfo != nil && lastInfo.IsAvailable != info.IsAvailable {
		m.broadcast(Event{
			Timestamp: now,
			Type:      EventAvailabilityChanged,
			Mode:      newMode,
			Usage:     &infoCopy,
			Message:   "availability changed",
		})
	}

	m.broadcast(Event{Timestamp: now, Type: EventStatusUpdated, Mode: newMode, Usage: &infoCopy, Message: "status updated"})
	return nil
}

// Mode returns the current monitoring mode.
func (m *Monitor) Mode() model.MonitoringMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentMode
}

// Status reports a snapshot for external consumption (e.g. the status API).
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.clock.Now()
	if m.lastCheck != nil {
		next = m.lastCheck.Add(m.currentMode.DefaultInterval())
	}

	var mean, stddev float64
	if len(m.samples) > 0 {
		mean = stat.Mean(m.samples, nil)
		if len(m.samples) > 1 {
			stddev = stat.StdDev(m.samples, nil)
		}
	}

	var lastInfo *model.UsageInfo
	if m.lastUsageInfo != nil {
		copied := *m.lastUsageInfo
		lastInfo = &copied
	}

	return Status{
		CurrentMode:   m.currentMode,
		NextCheckAt:   next,
		LastUsageInfo: lastInfo,
		CheckCount:    m.checkCount,
		ModeChanges:   m.modeChanges,
		UptimeSeconds: int64(m.clock.Now().Sub(m.startTime).Seconds()),
		MeanRemaining: mean,
		StdDevRemain:  stddev,
	}
}
