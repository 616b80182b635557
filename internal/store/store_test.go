package store

import (
	"testing"
	"time"

	"github.com/aristath/claude-pilot/internal/corerr"
	"github.com/aristath/claude-pilot/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreatePromptValidation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreatePrompt("", "content", nil)
	require.Error(t, err)
	assert.Equal(t, corerr.Validation, corerr.KindOf(err))

	_, err = s.CreatePrompt("title", "", nil)
	require.Error(t, err)
	assert.Equal(t, corerr.Validation, corerr.KindOf(err))
}

func TestCreateAndGetPrompt(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreatePrompt("Title", "Content", []string{"a", "b"})
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	p, err := s.GetPrompt(id)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Title", p.Title)
	assert.Equal(t, []string{"a", "b"}, p.Tags)
}

func TestCreateJobRequiresExistingPrompt(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateJob(999, "job", model.ScheduleCron, "0 0 * * * *", model.PriorityNormal, 3)
	require.Error(t, err)
	assert.Equal(t, corerr.NotFound, corerr.KindOf(err))
}

func TestFindPendingOrdersByPriorityThenCreatedAt(t *testing.T) {
	s := newTestStore(t)

	promptID, err := s.CreatePrompt("t", "c", nil)
	require.NoError(t, err)

	lowID, err := s.CreateJob(promptID, "low", model.ScheduleOnce, time.Now().Add(time.Hour).Format(time.RFC3339), model.PriorityLow, 3)
	require.NoError(t, err)
	highID, err := s.CreateJob(promptID, "high", model.ScheduleOnce, time.Now().Add(time.Hour).Format(time.RFC3339), model.PriorityHigh, 3)
	require.NoError(t, err)

	pending, err := s.FindPending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, highID, pending[0].ID)
	assert.Equal(t, lowID, pending[1].ID)
}

func TestRecordExecutionUpdatesJobLastRunAt(t *testing.T) {
	s := newTestStore(t)

	promptID, err := s.CreatePrompt("t", "c", nil)
	require.NoError(t, err)
	jobID, err := s.CreateJob(promptID, "j", model.ScheduleTriggered, "", model.PriorityNormal, 3)
	require.NoError(t, err)

	_, err = s.RecordExecution(jobID, &model.ExecutionResult{
		Status:      model.ResultSuccess,
		Content:     "done",
		ExecutionMs: 42,
	})
	require.NoError(t, err)

	j, err := s.GetJob(jobID)
	require.NoError(t, err)
	require.NotNil(t, j.LastRunAt)
}

func TestRetryCountCannotExceedMaxRetries(t *testing.T) {
	s := newTestStore(t)

	promptID, err := s.CreatePrompt("t", "c", nil)
	require.NoError(t, err)
	jobID, err := s.CreateJob(promptID, "j", model.ScheduleTriggered, "", model.PriorityNormal, 1)
	require.NoError(t, err)

	require.NoError(t, s.IncrementRetryCount(jobID))
	err = s.IncrementRetryCount(jobID)
	require.Error(t, err)
	assert.Equal(t, corerr.Validation, corerr.KindOf(err))
}

func TestHealthCheck(t *testing.T) {
	s := newTestStore(t)
	h, err := s.HealthCheck()
	require.NoError(t, err)
	assert.True(t, h.OK)
}

func TestCleanupPreservesRecentTail(t *testing.T) {
	s := newTestStore(t)
	promptID, err := s.CreatePrompt("t", "c", nil)
	require.NoError(t, err)
	jobID, err := s.CreateJob(promptID, "j", model.ScheduleTriggered, "", model.PriorityNormal, 3)
	require.NoError(t, err)

	_, err = s.RecordExecution(jobID, &model.ExecutionResult{Status: model.ResultSuccess, Content: "x"})
	require.NoError(t, err)

	result, err := s.Cleanup(0)
	require.NoError(t, err)
	// the single recent row is within the retained tail, so nothing removed
	assert.Equal(t, int64(0), result.Removed)
}
