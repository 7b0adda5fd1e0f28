package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/pkg/utils/id"
)

func newTestOrchestrator() (*Orchestrator, *MemoryBroker) {
	broker := NewMemoryBroker(64)
	return NewOrchestrator(NewMemoryBackend(time.Hour), broker), broker
}

func TestOrchestrator_Submit(t *testing.T) {
	ctx := context.Background()
	o, broker := newTestOrchestrator()

	seen := map[string]bool{}
	for range 20 {
		taskID, err := o.Submit(ctx, JobSpec{Kind: KindSingleQuery, Question: "What?"})
		require.NoError(t, err)
		assert.NoError(t, id.ValidateTaskID(taskID))
		assert.False(t, seen[taskID], "task ids must be unique")
		seen[taskID] = true

		st, err := o.Status(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, StatePending, st.State)
		assert.Equal(t, KindSingleQuery, st.Kind)
	}
	assert.Equal(t, 20, broker.Len())
}

func TestOrchestrator_SubmitInvalid(t *testing.T) {
	o, broker := newTestOrchestrator()
	_, err := o.Submit(context.Background(), JobSpec{Kind: KindBatchQuery})
	assert.ErrorIs(t, err, ErrInvalidJob)
	assert.Equal(t, 0, broker.Len())
}

func TestOrchestrator_SubmitBrokerClosed(t *testing.T) {
	o, broker := newTestOrchestrator()
	require.NoError(t, broker.Close())

	_, err := o.Submit(context.Background(), JobSpec{Kind: KindClearIndex})
	assert.ErrorIs(t, err, ErrBrokerClosed)
}

func TestOrchestrator_StatusUnknown(t *testing.T) {
	o, _ := newTestOrchestrator()
	st, err := o.Status(context.Background(), id.NewTaskID())
	require.NoError(t, err)
	assert.Equal(t, StatePending, st.State)
	assert.Equal(t, 0, st.Progress)
}

func TestOrchestrator_Cancel(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator()

	t.Run("未开始的任务直接失败", func(t *testing.T) {
		taskID, err := o.Submit(ctx, JobSpec{Kind: KindIndexBuild})
		require.NoError(t, err)

		st, err := o.Cancel(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, StateFailure, st.State)
		assert.Equal(t, ErrCancelled.Error(), st.Error)
	})

	t.Run("运行中的任务记录取消请求", func(t *testing.T) {
		taskID, err := o.Submit(ctx, JobSpec{Kind: KindIndexBuild})
		require.NoError(t, err)
		require.NoError(t, NewReporter(o.Backend(), taskID).Report(ctx, 30, "loading"))

		st, err := o.Cancel(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, StateProgress, st.State)
		assert.True(t, st.CancelRequested)
	})

	t.Run("终态任务不受影响", func(t *testing.T) {
		taskID, err := o.Submit(ctx, JobSpec{Kind: KindSingleQuery, Question: "q"})
		require.NoError(t, err)
		_, err = o.Backend().Update(ctx, taskID, func(st *TaskStatus) error {
			st.State = StateSuccess
			st.Progress = 100
			st.Result = &Result{Kind: KindSingleQuery}
			return nil
		})
		require.NoError(t, err)

		st, err := o.Cancel(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, StateSuccess, st.State)
		assert.NotNil(t, st.Result)
		assert.False(t, st.CancelRequested)

		again, err := o.Status(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, StateSuccess, again.State)
		assert.Equal(t, 100, again.Progress)
	})

	t.Run("未知任务", func(t *testing.T) {
		_, err := o.Cancel(ctx, id.NewTaskID())
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})
}
