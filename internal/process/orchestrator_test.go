package process

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/claude-pilot/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteWithNoPrerequisitesRunsMainDirectly(t *testing.T) {
	o := New(nil, zerolog.Nop())
	ran := false
	h := o.ExecuteWithPrerequisites(context.Background(), model.ProcessBackgroundTask, nil, model.ProcessMetadata{}, func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.True(t, ran)
	assert.Equal(t, model.ProcessCompleted, h.Status)
	require.NotNil(t, h.StartedAt)
	require.NotNil(t, h.EndedAt)
}

func TestExecuteWithFailingPrerequisiteNeverRunsMain(t *testing.T) {
	o := New(nil, zerolog.Nop())
	mainRan := false

	h := o.ExecuteWithPrerequisites(context.Background(), model.ProcessBackgroundTask,
		[]Prerequisite{{Kind: PrereqSetupScript, Path: "/path/does/not/exist-claude-pilot"}},
		model.ProcessMetadata{},
		func(ctx context.Context) error {
			mainRan = true
			return nil
		})

	assert.False(t, mainRan)
	assert.Equal(t, model.ProcessFailed, h.Status)
	require.NotNil(t, h.Error)
}

func TestMainOpErrorMarksFailed(t *testing.T) {
	o := New(nil, zerolog.Nop())
	h := o.ExecuteWithPrerequisites(context.Background(), model.ProcessBackgroundTask, nil, model.ProcessMetadata{}, func(ctx context.Context) error {
		return errors.New("boom")
	})
	assert.Equal(t, model.ProcessFailed, h.Status)
}

func TestCancelRefusesTerminalHandle(t *testing.T) {
	o := New(nil, zerolog.Nop())
	h := o.register(model.ProcessBackgroundTask, model.ProcessMetadata{})
	o.transition(h, model.ProcessCompleted, nil)

	err := o.Cancel(h.ID)
	assert.Error(t, err)
}

func TestTimeoutTransitionsHandleToTimeout(t *testing.T) {
	o := New(nil, zerolog.Nop())
	h := o.ExecuteWithPrerequisites(context.Background(), model.ProcessBackgroundTask, nil,
		model.ProcessMetadata{Timeout: 10 * time.Millisecond},
		func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
	assert.Equal(t, model.ProcessTimeout, h.Status)
}

func TestStatsCountsByState(t *testing.T) {
	o := New(nil, zerolog.Nop())
	o.ExecuteWithPrerequisites(context.Background(), model.ProcessBackgroundTask, nil, model.ProcessMetadata{}, func(ctx context.Context) error { return nil })
	o.ExecuteWithPrerequisites(context.Background(), model.ProcessBackgroundTask, nil, model.ProcessMetadata{}, func(ctx context.Context) error { return errors.New("x") })

	stats := o.Stats()
	assert.Equal(t, 1, stats[model.ProcessCompleted])
	assert.Equal(t, 1, stats[model.ProcessFailed])
}

func TestHealthCheckPrerequisitePollsUntilPredicateTrue(t *testing.T) {
	o := New(nil, zerolog.Nop())
	var calls int
	mainRan := false

	h := o.ExecuteWithPrerequisites(context.Background(), model.ProcessBackgroundTask,
		[]Prerequisite{{Kind: PrereqHealthCheck, Predicate: func(ctx context.Context) (bool, error) {
			calls++
			return calls >= 2, nil
		}}},
		model.ProcessMetadata{Timeout: 5 * time.Second},
		func(ctx context.Context) error {
			mainRan = true
			return nil
		})

	assert.True(t, mainRan)
	assert.Equal(t, model.ProcessCompleted, h.Status)
	assert.GreaterOrEqual(t, calls, 2)
}

func TestHealthCheckPrerequisiteTimesOutWhenPredicateNeverTrue(t *testing.T) {
	o := New(nil, zerolog.Nop())
	mainRan := false

	h := o.ExecuteWithPrerequisites(context.Background(), model.ProcessBackgroundTask,
		[]Prerequisite{{Kind: PrereqHealthCheck, Predicate: func(ctx context.Context) (bool, error) {
			return false, nil
		}}},
		model.ProcessMetadata{Timeout: 50 * time.Millisecond},
		func(ctx context.Context) error {
			mainRan = true
			return nil
		})

	assert.False(t, mainRan)
	assert.Equal(t, model.ProcessFailed, h.Status)
}

func TestCleanupCompletedRemovesTerminalHandles(t *testing.T) {
	o := New(nil, zerolog.Nop())
	o.ExecuteWithPrerequisites(context.Background(), model.ProcessBackgroundTask, nil, model.ProcessMetadata{}, func(ctx context.Context) error { return nil })
	removed := o.CleanupCompleted()
	assert.Equal(t, 1, removed)
	assert.Empty(t, o.ListActive())
}
