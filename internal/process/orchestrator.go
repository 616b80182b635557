// Package process implements the Process Orchestrator (§4.6): runs a main
// operation only after its ordered prerequisites complete, tracking every
// step as a model.ProcessHandle. Grounded on the teacher's
// internal/deployment service style (sequential exec.Command steps, first
// failure wins) generalized to arbitrary prerequisite kinds and an explicit
// state machine.
package process

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/aristath/claude-pilot/internal/model"
	"github.com/aristath/claude-pilot/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// pollInterval is the wait-for-prerequisite polling granularity (§4.6).
const pollInterval = 500 * time.Millisecond

// healthCheckPollInterval is the poll granularity for a HealthCheck
// prerequisite, distinct from the finer pollInterval used to wait for a
// prerequisite handle to reach a terminal state.
const healthCheckPollInterval = time.Second

// Prerequisite describes one ordered setup step.
type Prerequisite struct {
	Kind PrerequisiteKind
	// SetupScript / CleanupScript
	Path string
	Args []string
	// CleanupScript only
	CleanupType model.CleanupType
	// DatabaseMigration: opaque type tag, interpreted by Run.
	MigrationTag string
	// HealthCheck: predicate polled at 1s intervals until it returns true
	// or metadata.Timeout elapses. Defaults to the Store's own health when
	// nil, so a bare HealthCheck prerequisite still means something without
	// a caller-supplied predicate.
	Predicate func(ctx context.Context) (bool, error)
}

type PrerequisiteKind = model.PrerequisiteKind

const (
	PrereqSetupScript       = model.PrereqSetupScript
	PrereqDatabaseMigration = model.PrereqDatabaseMigration
	PrereqCleanupScript     = model.PrereqCleanupScript
	PrereqHealthCheck       = model.PrereqHealthCheck
)

// MainOp is the operation run once all prerequisites complete.
type MainOp func(ctx context.Context) error

// Stats reports handle counts by state (§4.6 "stats()").
type Stats map[model.ProcessStatus]int

// Orchestrator owns the in-memory set of active ProcessHandles.
type Orchestrator struct {
	store *store.Store
	log   zerolog.Logger

	mu      sync.Mutex
	handles map[string]*model.ProcessHandle
	cancels map[string]context.CancelFunc
}

// New builds an Orchestrator. store backs DatabaseMigration prerequisites,
// the default HealthCheck predicate, and the Database/Complete cleanup
// types; it may be nil.
func New(st *store.Store, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:   st,
		log:     log.With().Str("component", "process").Logger(),
		handles: make(map[string]*model.ProcessHandle),
		cancels: make(map[string]context.CancelFunc),
	}
}

// ExecuteWithPrerequisites runs prereqs in order, then main, tracking the
// whole composition under one parent handle id (§4.6).
func (o *Orchestrator) ExecuteWithPrerequisites(ctx context.Context, typ model.ProcessType, prereqs []Prerequisite, meta model.ProcessMetadata, main MainOp) *model.ProcessHandle {
	parent := o.register(typ, meta)

	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancels[parent.ID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, parent.ID)
		o.mu.Unlock()
		cancel()
	}()

	if len(prereqs) > 0 {
		o.transition(parent, model.ProcessWaitingForPrerequisites, nil)
		for _, p := range prereqs {
			child := o.register(prereqKindToProcessType(p.Kind), model.ProcessMetadata{
				ParentID: &parent.ID,
				Timeout:  meta.Timeout,
			})
			o.runPrerequisite(ctx, child, p)

			if !o.waitForCompletion(ctx, child) {
				errMsg := fmt.Sprintf("prerequisite %s failed", child.ID)
				o.mu.Lock()
				if child.Error != nil {
					errMsg += ": " + *child.Error
				}
				o.mu.Unlock()
				o.transition(parent, model.ProcessFailed, &errMsg)
				return parent
			}
		}
	}

	o.transition(parent, model.ProcessRunning, nil)
	now := time.Now()
	o.mu.Lock()
	parent.StartedAt = &now
	o.mu.Unlock()

	err := o.runWithTimeout(ctx, parent, func(ctx context.Context) error { return main(ctx) })
	if err != nil {
		if ctx.Err() == context.Canceled {
			o.transition(parent, model.ProcessCancelled, nil)
		} else if parent.TimedOut(time.Now()) {
			o.transition(parent, model.ProcessTimeout, nil)
		} else {
			msg := err.Error()
			o.transition(parent, model.ProcessFailed, &msg)
		}
		return parent
	}

	o.transition(parent, model.ProcessCompleted, nil)
	return parent
}

func prereqKindToProcessType(k model.PrerequisiteKind) model.ProcessType {
	switch k {
	case model.PrereqSetupScript:
		return model.ProcessSetupScript
	case model.PrereqCleanupScript:
		return model.ProcessCleanupScript
	case model.PrereqDatabaseMigration:
		return model.ProcessDatabaseMigration
	case model.PrereqHealthCheck:
		return model.ProcessHealthCheck
	default:
		return model.ProcessBackgroundTask
	}
}

func (o *Orchestrator) register(typ model.ProcessType, meta model.ProcessMetadata) *model.ProcessHandle {
	h := &model.ProcessHandle{
		ID:        uuid.NewString(),
		Type:      typ,
		Status:    model.ProcessCreated,
		Metadata:  meta,
		CreatedAt: time.Now(),
	}
	o.mu.Lock()
	o.handles[h.ID] = h
	o.mu.Unlock()
	return h
}

func (o *Orchestrator) transition(h *model.ProcessHandle, status model.ProcessStatus, errMsg *string) {
	o.mu.Lock()
	h.Status = status
	if errMsg != nil {
		h.Error = errMsg
	}
	if status == model.ProcessCompleted || status == model.ProcessFailed || status == model.ProcessCancelled || status == model.ProcessTimeout {
		now := time.Now()
		h.EndedAt = &now
	}
	o.mu.Unlock()
}

// runPrerequisite executes one prerequisite step and drives its handle to
// a terminal state synchronously.
func (o *Orchestrator) runPrerequisite(ctx context.Context, h *model.ProcessHandle, p Prerequisite) {
	o.transition(h, model.ProcessRunning, nil)
	now := time.Now()
	o.mu.Lock()
	h.StartedAt = &now
	o.mu.Unlock()

	err := o.runWithTimeout(ctx, h, func(ctx context.Context) error {
		return o.dispatchPrerequisite(ctx, p)
	})

	if err != nil {
		msg := err.Error()
		if ctx.Err() == context.Canceled {
			o.transition(h, model.ProcessCancelled, nil)
		} else if h.TimedOut(time.Now()) {
			o.transition(h, model.ProcessTimeout, &msg)
		} else {
			o.transition(h, model.ProcessFailed, &msg)
		}
		return
	}
	o.transition(h, model.ProcessCompleted, nil)
}

func (o *Orchestrator) dispatchPrerequisite(ctx context.Context, p Prerequisite) error {
	switch p.Kind {
	case model.PrereqSetupScript:
		return exec.CommandContext(ctx, p.Path, p.Args...).Run()
	case model.PrereqCleanupScript:
		return o.runCleanup(ctx, p)
	case model.PrereqDatabaseMigration:
		if o.store == nil {
			return fmt.Errorf("migration %q requested but no store configured", p.MigrationTag)
		}
		needs, err := o.store.NeedsMigration()
		if err != nil {
			return err
		}
		if needs {
			return o.store.Migrate()
		}
		return nil
	case model.PrereqHealthCheck:
		return o.pollHealthCheck(ctx, p)
	default:
		return fmt.Errorf("unknown prerequisite kind %q", p.Kind)
	}
}

// pollHealthCheck polls p.Predicate (or the Store's health as a default)
// every second until it reports true or ctx is done — ctx already carries
// the prerequisite's timeout deadline via runWithTimeout.
func (o *Orchestrator) pollHealthCheck(ctx context.Context, p Prerequisite) error {
	check := p.Predicate
	if check == nil {
		if o.store == nil {
			return nil
		}
		check = func(context.Context) (bool, error) {
			h, err := o.store.HealthCheck()
			if err != nil {
				return false, err
			}
			return h.OK, nil
		}
	}

	ticker := time.NewTicker(healthCheckPollInterval)
	defer ticker.Stop()
	for {
		ok, err := check(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("health check prerequisite timed out")
		case <-ticker.C:
		}
	}
}

// runCleanup implements the cleanup-type semantics (§4.6). Temporary/Cache/
// Logs are process-local no-ops beyond the script invocation itself in this
// port (there is no persistent temp-dir/cache registry to invalidate
// outside the Store); Database delegates to the Store's own cleanup.
func (o *Orchestrator) runCleanup(ctx context.Context, p Prerequisite) error {
	if p.Path != "" {
		if err := exec.CommandContext(ctx, p.Path, p.Args...).Run(); err != nil {
			return err
		}
	}
	switch p.CleanupType {
	case model.CleanupDatabase, model.CleanupComplete:
		if o.store != nil {
			_, err := o.store.Cleanup(30 * 24 * time.Hour)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// runWithTimeout races op against the handle's configured timeout.
func (o *Orchestrator) runWithTimeout(ctx context.Context, h *model.ProcessHandle, op func(context.Context) error) error {
	if h.Metadata.Timeout <= 0 {
		return op(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, h.Metadata.Timeout)
	defer cancel()
	return op(ctx)
}

// waitForCompletion polls h at pollInterval until it reaches a terminal
// state, returning true only if it completed successfully (§4.6 "on any
// dependency entering Failed|Cancelled|Timeout, propagate").
func (o *Orchestrator) waitForCompletion(ctx context.Context, h *model.ProcessHandle) bool {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		o.mu.Lock()
		status := h.Status
		o.mu.Unlock()

		if status == model.ProcessCompleted {
			return true
		}
		if status == model.ProcessFailed || status == model.ProcessCancelled || status == model.ProcessTimeout {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// Cancel cancels a running or waiting handle (§4.6).
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	h, ok := o.handles[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("process %q not found", id)
	}
	if !h.CanCancel() {
		status := h.Status
		o.mu.Unlock()
		return fmt.Errorf("cannot cancel in state %s", status)
	}
	cancel := o.cancels[id]
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// ListActive returns handles currently Running or WaitingForPrerequisites.
func (o *Orchestrator) ListActive() []*model.ProcessHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	var active []*model.ProcessHandle
	for _, h := range o.handles {
		if h.Status == model.ProcessRunning || h.Status == model.ProcessWaitingForPrerequisites {
			active = append(active, h)
		}
	}
	return active
}

// CleanupCompleted removes terminal handles from memory (§4.6).
func (o *Orchestrator) CleanupCompleted() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	removed := 0
	for id, h := range o.handles {
		if h.Terminal() {
			delete(o.handles, id)
			removed++
		}
	}
	return removed
}

// Stats returns handle counts by state (§4.6).
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	stats := make(Stats)
	for _, h := range o.handles {
		stats[h.Status]++
	}
	return stats
}
