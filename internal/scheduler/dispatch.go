package scheduler

import (
	"context"
	"time"

	"github.com/aristath/claude-pilot/internal/executor"
	"github.com/aristath/claude-pilot/internal/model"
)

// dispatch implements §4.8's six-step dispatch flow for a single job fire.
// It acquires the optional global concurrency slot first, so the per-job
// serialization in fire() and the cross-job cap here compose: one job can
// never run twice concurrently, and no more than GlobalConcurrency jobs run
// at once across the whole scheduler.
func (s *Scheduler) dispatch(ctx context.Context, j *model.Job) {
	if s.sem != nil {
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			return
		}
	}

	// 1. Set state Running; update last_run_at.
	if err := s.store.UpdateJobStatus(j.ID, model.JobRunning, j.NextRunAt); err != nil {
		s.log.Error().Str("job_id", j.ID).Err(err).Msg("dispatch: failed to mark running")
		return
	}

	// 2. Retrieve the job's prompt content; abort with a recorded failure
	// if missing.
	prompt, err := s.store.GetPrompt(j.PromptID)
	if err != nil || prompt == nil {
		s.recordFailure(j, "prompt not found", 0)
		s.finishJob(j, false)
		return
	}

	// 3/4. Build the execution and invoke the Executor.
	opts := executor.DefaultExecOptions()
	opts.AllowedOperations = []string{"read", "write"}
	opts.MaxRetries = j.MaxRetries

	start := s.clock.Now()
	res, execErr := s.executor.Invoke(ctx, prompt.Content, opts)
	durationMs := s.clock.Now().Sub(start).Milliseconds()

	// 5. Record the outcome, update stats.
	failed := execErr != nil
	if failed {
		errMsg := execErr.Error()
		s.recordExecution(j, model.ResultFailed, "", &errMsg, nil, durationMs)
	} else {
		s.recordExecution(j, model.ResultSuccess, res.Output, nil, res.Usage, durationMs)
	}

	if err := s.store.RecordJobOutcome(j.ID, durationMs, failed); err != nil {
		s.log.Error().Str("job_id", j.ID).Err(err).Msg("dispatch: failed to record job outcome")
	}
	if failed {
		if err := s.store.IncrementRetryCount(j.ID); err != nil {
			s.log.Warn().Str("job_id", j.ID).Err(err).Msg("dispatch: retry count not incremented")
		}
	}

	// 6. Transition back to Active (recurring) or Completed (one-shot).
	s.finishJob(j, !failed)
}

func (s *Scheduler) recordFailure(j *model.Job, msg string, durationMs int64) {
	s.recordExecution(j, model.ResultFailed, "", &msg, nil, durationMs)
}

func (s *Scheduler) recordExecution(j *model.Job, status model.ResultStatus, content string, errMsg *string, usage *model.TokenUsage, durationMs int64) {
	result := &model.ExecutionResult{
		JobID:       j.ID,
		Status:      status,
		Content:     content,
		ErrorMessage: errMsg,
		Usage:       usage,
		ExecutionMs: durationMs,
		CreatedAt:   s.clock.Now(),
	}
	if _, err := s.store.RecordExecution(j.ID, result); err != nil {
		s.log.Error().Str("job_id", j.ID).Err(err).Msg("dispatch: failed to record execution")
	}
}

func (s *Scheduler) finishJob(j *model.Job, success bool) {
	var status model.JobStatus
	var next *time.Time

	switch {
	case j.ScheduleType == model.ScheduleOnce:
		status = model.JobCompleted
	case !success && j.RetryCount+1 > j.MaxRetries:
		status = model.JobFailed
	default:
		status = model.JobActive
		if n, err := s.nextFireTime(j); err == nil {
			next = n
		}
	}

	if err := s.store.UpdateJobStatus(j.ID, status, next); err != nil {
		s.log.Error().Str("job_id", j.ID).Err(err).Msg("dispatch: failed to finish job")
	}
}
