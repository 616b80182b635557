// Package scheduler implements the Unified Scheduler (§4.8): owns the set
// of scheduled jobs (cron/interval/one-shot/triggered), drives timer-based
// dispatch into the CLI Executor, and maintains the hierarchical
// parent/child job DAG. Grounded on netresearch-ofelia's core/scheduler.go
// (job-id registry, per-job concurrency guard via a semaphore, graceful
// stop draining a WaitGroup) adapted from go-cron's engine to
// robfig/cron/v3's Schedule.Next()-driven timer map, since jobs here are
// dynamic Store rows rather than a static config file.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/claude-pilot/internal/executor"
	"github.com/aristath/claude-pilot/internal/model"
	"github.com/aristath/claude-pilot/internal/monitor"
	"github.com/aristath/claude-pilot/internal/store"
	"github.com/aristath/claude-pilot/internal/usage"
	"github.com/aristath/claude-pilot/pkg/clock"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// cronParser accepts the 6-field grammar required by §3 invariant (d):
// second minute hour day month weekday.
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Config bounds the Scheduler's resource usage.
type Config struct {
	GlobalConcurrency int
}

// Scheduler is the Unified Scheduler component (§4.8).
type Scheduler struct {
	store    *store.Store
	executor *executor.Executor
	monitor  *monitor.Monitor
	tracker  *usage.Tracker
	clock    clock.Clock
	log      zerolog.Logger

	mu         sync.Mutex
	timers     map[string]*time.Timer
	jobRunning map[string]bool
	hierarchy  *TaskHierarchy
	running    bool
	cancelCtx  context.CancelFunc

	sem chan struct{}
	wg  sync.WaitGroup
}

// New builds a Scheduler. cfg.GlobalConcurrency ≤ 0 means unlimited
// concurrent dispatches across jobs (§5 "concurrent up to an optional
// global cap").
func New(st *store.Store, exec *executor.Executor, mon *monitor.Monitor, tracker *usage.Tracker, c clock.Clock, cfg Config, log zerolog.Logger) *Scheduler {
	var sem chan struct{}
	if cfg.GlobalConcurrency > 0 {
		sem = make(chan struct{}, cfg.GlobalConcurrency)
	}
	return &Scheduler{
		store:      st,
		executor:   exec,
		monitor:    mon,
		tracker:    tracker,
		clock:      c,
		log:        log.With().Str("component", "scheduler").Logger(),
		timers:     make(map[string]*time.Timer),
		jobRunning: make(map[string]bool),
		hierarchy:  newHierarchy(),
		sem:        sem,
	}
}

// Start validates the runtime is available, starts sub-services (Monitor),
// and installs timers for every persisted pending/active job. Idempotent
// (§4.8 "all idempotent w.r.t. duplicate calls").
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancelCtx = cancel
	s.running = true
	s.mu.Unlock()

	if _, err := s.store.HealthCheck(); err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}

	if s.monitor != nil {
		go s.monitor.Start(ctx)
	}

	jobs, err := s.store.ListJobs("")
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	// Hierarchy edges touch shared maps under s.mu and must land before any
	// timer fires, so they're applied up front, single-threaded.
	for _, j := range jobs {
		if j.ParentID != nil {
			s.mu.Lock()
			_ = s.hierarchy.AddEdge(*j.ParentID, j.ID)
			s.mu.Unlock()
		}
	}

	// Timer installation per job is independent (each computes its own next
	// fire time and arms its own time.Timer), so a large backlog of
	// persisted jobs installs concurrently rather than one at a time.
	var g errgroup.Group
	for _, j := range jobs {
		if j.Status != model.JobPending && j.Status != model.JobActive {
			continue
		}
		j := j
		g.Go(func() error {
			if err := s.installTimer(j); err != nil {
				s.log.Warn().Str("job_id", j.ID).Err(err).Msg("failed to install timer on startup")
			}
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info().Int("jobs", len(jobs)).Msg("scheduler started")
	return nil
}

// Stop cancels outstanding timers and stops sub-services in reverse order
// (§4.8).
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	cancel := s.cancelCtx
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.monitor != nil {
		s.monitor.Stop()
	}
	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

// AddJob validates schedule config, registers a timer, and returns the job
// id (§4.8).
func (s *Scheduler) AddJob(j *model.Job) (string, error) {
	if err := j.ValidateSchedule(s.clock.Now()); err != nil {
		return "", err
	}
	if j.ScheduleType == model.ScheduleCron {
		if _, err := cronParser.Parse(j.ScheduleConfig); err != nil {
			return "", fmt.Errorf("invalid cron expression: %w", err)
		}
	}

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	if running && j.ScheduleType != model.ScheduleTriggered {
		if err := s.installTimer(j); err != nil {
			return "", err
		}
	}
	return j.ID, nil
}

// AddChildJob registers j then records parent->child lineage, rejecting
// edges that would form a cycle (§4.8).
func (s *Scheduler) AddChildJob(parentID string, j *model.Job) (string, error) {
	id, err := s.AddJob(j)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	err = s.hierarchy.AddEdge(parentID, j.ID)
	s.mu.Unlock()

	if err != nil {
		s.removeTimer(id)
		return "", err
	}
	if err := s.store.SetParent(j.ID, parentID); err != nil {
		s.mu.Lock()
		s.hierarchy.Remove(j.ID)
		s.mu.Unlock()
		s.removeTimer(id)
		return "", err
	}
	return id, nil
}

// RemoveJob cancels the timer, removes hierarchy edges, and removes the job
// row. Returns true iff the id existed (§4.8).
func (s *Scheduler) RemoveJob(id string) (bool, error) {
	s.removeTimer(id)

	s.mu.Lock()
	s.hierarchy.Remove(id)
	s.mu.Unlock()

	return s.store.RemoveJob(id)
}

// PauseJob sets status to Paused and cancels its timer (§4.8).
func (s *Scheduler) PauseJob(id string) error {
	s.removeTimer(id)
	return s.store.UpdateJobStatus(id, model.JobPaused, nil)
}

// ResumeJob sets status to Active and reinstalls the timer (§4.8).
func (s *Scheduler) ResumeJob(id string) error {
	j, err := s.store.GetJob(id)
	if err != nil {
		return err
	}
	if err := s.store.UpdateJobStatus(id, model.JobActive, j.NextRunAt); err != nil {
		return err
	}
	j.Status = model.JobActive
	return s.installTimer(j)
}

// TriggerJob manually fires a run now, bypassing the timer; it does not
// alter the job's next scheduled fire (§4.8).
func (s *Scheduler) TriggerJob(id string) error {
	j, err := s.store.GetJob(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.jobRunning[id] {
		s.mu.Unlock()
		return fmt.Errorf("job %q is already running", id)
	}
	s.jobRunning[id] = true
	s.mu.Unlock()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.jobRunning, id)
			s.mu.Unlock()
		}()
		s.dispatch(context.Background(), j)
	}()
	return nil
}

// ScheduleJob and UnscheduleJob are compatibility aliases (§4.8).
func (s *Scheduler) ScheduleJob(j *model.Job) (string, error) { return s.AddJob(j) }
func (s *Scheduler) UnscheduleJob(id string) (bool, error)    { return s.RemoveJob(id) }

// installTimer computes the job's next fire instant and arms a timer that
// calls fire on expiry.
func (s *Scheduler) installTimer(j *model.Job) error {
	next, err := s.nextFireTime(j)
	if err != nil {
		return err
	}
	if next == nil {
		return nil // triggered-only, or a completed one-shot
	}

	delay := next.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}

	s.removeTimer(j.ID)

	jobID := j.ID
	timer := time.AfterFunc(delay, func() { s.fire(jobID) })

	s.mu.Lock()
	s.timers[j.ID] = timer
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) removeTimer(id string) {
	s.mu.Lock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
}

// nextFireTime computes the next instant a job should fire, or nil if it
// has no further fires (completed one-shot, or triggered-only).
func (s *Scheduler) nextFireTime(j *model.Job) (*time.Time, error) {
	now := s.clock.Now()
	switch j.ScheduleType {
	case model.ScheduleCron:
		sched, err := cronParser.Parse(j.ScheduleConfig)
		if err != nil {
			return nil, err
		}
		next := sched.Next(now)
		return &next, nil
	case model.ScheduleInterval:
		ms, err := parseIntervalMs(j.ScheduleConfig)
		if err != nil {
			return nil, err
		}
		next := now.Add(time.Duration(ms) * time.Millisecond)
		return &next, nil
	case model.ScheduleOnce:
		t, err := time.Parse(time.RFC3339, j.ScheduleConfig)
		if err != nil {
			return nil, err
		}
		if j.Status == model.JobCompleted {
			return nil, nil
		}
		return &t, nil
	default: // triggered
		return nil, nil
	}
}

func parseIntervalMs(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// fire is the timer callback: it serializes with any in-flight run of the
// same job (§5 "for a single job, runs are serialized"), drops the fire
// with a warning if the previous run is still executing, and otherwise
// dispatches the job and, after the run finishes, re-arms the timer for
// cron/interval jobs that are not in a terminal or held state. One-shot
// jobs are not re-armed.
func (s *Scheduler) fire(jobID string) {
	s.mu.Lock()
	if s.jobRunning[jobID] {
		s.mu.Unlock()
		s.log.Warn().Str("job_id", jobID).Msg("fire dropped: previous run still executing")
		return
	}
	s.jobRunning[jobID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.jobRunning, jobID)
		s.mu.Unlock()
	}()

	j, err := s.store.GetJob(jobID)
	if err != nil {
		s.log.Error().Str("job_id", jobID).Err(err).Msg("fire: job lookup failed")
		return
	}

	s.wg.Add(1)
	func() {
		defer s.wg.Done()
		s.dispatch(context.Background(), j)
	}()

	j, err = s.store.GetJob(jobID)
	if err != nil {
		return
	}
	if j.ScheduleType == model.ScheduleCron || j.ScheduleType == model.ScheduleInterval {
		switch j.Status {
		case model.JobCompleted, model.JobCancelled, model.JobFailed, model.JobPaused, model.JobSuspended:
			// terminal or held: max_retries exhaustion (JobFailed), an
			// explicit pause/suspend, or a finished one-shot must not be
			// re-armed, or the job would keep firing forever (§3 invariant
			// (a)).
		default:
			if err := s.installTimer(j); err != nil {
				s.log.Warn().Str("job_id", jobID).Err(err).Msg("failed to reinstall timer")
			}
		}
	}
}

// HealthCheck combines timer-engine liveness, Store health, and whether the
// Monitor has produced a snapshot (§4.8). The snapshot's age is not
// checked: any snapshot taken since the Monitor started counts.
func (s *Scheduler) HealthCheck(ctx context.Context) bool {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return false
	}

	if _, err := s.store.HealthCheck(); err != nil {
		return false
	}

	if s.monitor != nil {
		st := s.monitor.Status()
		if st.LastUsageInfo == nil {
			return false
		}
	}
	return true
}
