package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/claude-pilot/internal/executor"
	"github.com/aristath/claude-pilot/internal/model"
	"github.com/aristath/claude-pilot/internal/store"
	"github.com/aristath/claude-pilot/pkg/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	st.SetClock(clock.Real{})
	exec := executor.New("/bin/echo", true, nil, nil, zerolog.Nop())
	sched := New(st, exec, nil, nil, clock.Real{}, Config{}, zerolog.Nop())
	return sched, st
}

func TestAddJobRejectsInvalidCron(t *testing.T) {
	sched, st := newTestScheduler(t)
	pid, err := st.CreatePrompt("t", "c", nil)
	require.NoError(t, err)

	id, err := st.CreateJob(pid, "job1", model.ScheduleCron, "not a cron", model.PriorityNormal, 3)
	require.NoError(t, err)
	j, err := st.GetJob(id)
	require.NoError(t, err)

	_, err = sched.AddJob(j)
	require.Error(t, err)
}

func TestTaskHierarchyRejectsCycle(t *testing.T) {
	h := newHierarchy()
	require.NoError(t, h.AddEdge("a", "b"))
	require.NoError(t, h.AddEdge("b", "c"))
	err := h.AddEdge("c", "a")
	require.Error(t, err)
}

func TestTaskHierarchyRejectsSelfParent(t *testing.T) {
	h := newHierarchy()
	err := h.AddEdge("a", "a")
	require.Error(t, err)
}

func TestNextFireTimeForOnceJobUsesInstant(t *testing.T) {
	sched, _ := newTestScheduler(t)
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	j := &model.Job{ID: "x", ScheduleType: model.ScheduleOnce, ScheduleConfig: future}
	next, err := sched.nextFireTime(j)
	require.NoError(t, err)
	require.NotNil(t, next)
}

func TestNextFireTimeForIntervalAdvancesByDuration(t *testing.T) {
	sched, _ := newTestScheduler(t)
	j := &model.Job{ID: "y", ScheduleType: model.ScheduleInterval, ScheduleConfig: "5000"}
	now := time.Now()
	next, err := sched.nextFireTime(j)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.WithinDuration(t, now.Add(5*time.Second), *next, 2*time.Second)
}

// TestDispatchRecordsFailureWhenPromptMissing exercises dispatch's abort
// branch directly: PromptID is pointed at an id that was never created,
// since deleting a prompt that's still referenced by a job cascades to the
// job itself (jobs.prompt_id is ON DELETE CASCADE) rather than leaving a
// dangling reference behind.
func TestDispatchRecordsFailureWhenPromptMissing(t *testing.T) {
	sched, st := newTestScheduler(t)
	pid, err := st.CreatePrompt("t", "c", nil)
	require.NoError(t, err)
	id, err := st.CreateJob(pid, "job1", model.ScheduleOnce, time.Now().Add(time.Hour).UTC().Format(time.RFC3339), model.PriorityNormal, 3)
	require.NoError(t, err)

	j, err := st.GetJob(id)
	require.NoError(t, err)
	j.PromptID = pid + 999999

	sched.dispatch(context.Background(), j)

	results, err := st.ListExecutions(id, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, model.ResultFailed, results[0].Status)
}
