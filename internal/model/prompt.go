// Package model defines the core entities of §3: Prompt, Job,
// ExecutionResult, the runtime snapshots (UsageInfo, MonitoringMode,
// CooldownInfo, ProcessHandle), and their invariants as documented methods.
package model

import "time"

// Prompt is a reusable template. Content and Title must be non-empty; Tags
// is exposed as a list at the API boundary though the Store persists it
// comma-joined in a single column (§6 schema, [SUPPLEMENT] in SPEC_FULL).
type Prompt struct {
	ID        int64
	Title     string
	Content   string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// Validate enforces the non-empty title/content invariant from §4.1.
func (p *Prompt) Validate() error {
	if p.Title == "" {
		return errValidation("prompt title must not be empty")
	}
	if p.Content == "" {
		return errValidation("prompt content must not be empty")
	}
	return nil
}
