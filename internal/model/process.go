package model

import "time"

// ProcessType is the kind of operation a ProcessHandle represents (§3).
type ProcessType string

const (
	ProcessClaudeExecution  ProcessType = "claude_execution"
	ProcessSetupScript      ProcessType = "setup_script"
	ProcessCleanupScript    ProcessType = "cleanup_script"
	ProcessDatabaseMigration ProcessType = "database_migration"
	ProcessHealthCheck      ProcessType = "health_check"
	ProcessBackgroundTask   ProcessType = "background_task"
)

// ProcessStatus is the ProcessHandle state machine (§4.6):
//
//	Created -> WaitingForPrerequisites -> Running -> {Completed|Failed|Cancelled|Timeout}
type ProcessStatus string

const (
	ProcessCreated                ProcessStatus = "created"
	ProcessWaitingForPrerequisites ProcessStatus = "waiting_for_prerequisites"
	ProcessRunning                ProcessStatus = "running"
	ProcessCompleted              ProcessStatus = "completed"
	ProcessFailed                 ProcessStatus = "failed"
	ProcessCancelled              ProcessStatus = "cancelled"
	ProcessTimeout                ProcessStatus = "timeout"
)

// ProcessMetadata carries a handle's configuration and lineage.
type ProcessMetadata struct {
	OwningJobID  *string
	ParentID     *string
	Dependencies []string
	Environment  map[string]string
	Cwd          string
	Timeout      time.Duration
	RetryPolicy  *string // opaque reference to a retry policy name; orchestrator-specific
}

// ProcessHandle is the runtime record for one prerequisite or main
// operation tracked by the Process Orchestrator (§3, §4.6).
type ProcessHandle struct {
	ID        string
	Type      ProcessType
	Status    ProcessStatus
	Error     *string
	Metadata  ProcessMetadata
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
}

// CanCancel reports whether the handle is cancellable from its current
// state (§4.6: "-> Cancelled only from Created|WaitingForPrerequisites|Running").
func (h *ProcessHandle) CanCancel() bool {
	switch h.Status {
	case ProcessCreated, ProcessWaitingForPrerequisites, ProcessRunning:
		return true
	default:
		return false
	}
}

// TimedOut reports whether wall-clock since StartedAt exceeds the
// configured timeout.
func (h *ProcessHandle) TimedOut(now time.Time) bool {
	if h.StartedAt == nil || h.Metadata.Timeout <= 0 {
		return false
	}
	return now.Sub(*h.StartedAt) > h.Metadata.Timeout
}

// Terminal reports whether the handle has reached a final state.
func (h *ProcessHandle) Terminal() bool {
	switch h.Status {
	case ProcessCompleted, ProcessFailed, ProcessCancelled, ProcessTimeout:
		return true
	default:
		return false
	}
}

// PrerequisiteKind is the declared type of a prerequisite step (§4.6).
type PrerequisiteKind string

const (
	PrereqSetupScript       PrerequisiteKind = "setup_script"
	PrereqDatabaseMigration PrerequisiteKind = "database_migration"
	PrereqCleanupScript     PrerequisiteKind = "cleanup_script"
	PrereqHealthCheck       PrerequisiteKind = "health_check" // [SUPPLEMENT] §4.6 elaboration
)

// CleanupType tags which cleanup semantics a Cleanup-Script prerequisite
// performs (§4.6).
type CleanupType string

const (
	CleanupTemporary CleanupType = "temporary"
	CleanupCache     CleanupType = "cache"
	CleanupLogs      CleanupType = "logs"
	CleanupDatabase  CleanupType = "database"
	CleanupComplete  CleanupType = "complete"
)
