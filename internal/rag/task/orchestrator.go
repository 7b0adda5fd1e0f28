package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/pkg/utils/id"
)

// Orchestrator 提交、查询和取消任务。
type Orchestrator struct {
	backend StateBackend
	broker  Broker
	now     func() time.Time
}

// NewOrchestrator 创建任务编排器。
func NewOrchestrator(backend StateBackend, broker Broker) *Orchestrator {
	return &Orchestrator{backend: backend, broker: broker, now: time.Now}
}

// Backend 返回状态存储。
func (o *Orchestrator) Backend() StateBackend { return o.backend }

// Broker 返回消息队列。
func (o *Orchestrator) Broker() Broker { return o.broker }

// Submit 写入 PENDING 记录并投递消息，不等待执行。
func (o *Orchestrator) Submit(ctx context.Context, spec JobSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	now := o.now()
	taskID := id.NewTaskID()
	st := &TaskStatus{
		ID:        taskID,
		Kind:      spec.Kind,
		State:     StatePending,
		Message:   "Task queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.backend.Create(ctx, st); err != nil {
		return "", fmt.Errorf("create task record: %w", err)
	}

	msg := JobMessage{TaskID: taskID, Spec: spec, EnqueuedAt: now}
	if err := o.broker.Publish(ctx, msg); err != nil {
		_, _ = o.backend.Update(context.WithoutCancel(ctx), taskID, func(st *TaskStatus) error {
			st.State = StateFailure
			st.Error = "failed to enqueue task: " + err.Error()
			return nil
		})
		return "", fmt.Errorf("enqueue task: %w", err)
	}

	logger.Infow("Task submitted", "task_id", taskID, "kind", spec.Kind, "broker", o.broker.Name())
	return taskID, nil
}

// Status 返回任务状态，未知 id 返回 PENDING。
func (o *Orchestrator) Status(ctx context.Context, taskID string) (*TaskStatus, error) {
	st, err := o.backend.Get(ctx, taskID)
	if errors.Is(err, ErrTaskNotFound) {
		return pendingStatus(taskID), nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Cancel 取消任务。
//
// 终态任务不做任何修改并视为成功；尚未开始的任务直接置为 FAILURE；
// 运行中的任务记录取消请求，由 worker 在下一个检查点终止。
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) (*TaskStatus, error) {
	st, err := o.backend.Update(ctx, taskID, func(st *TaskStatus) error {
		if st.State.Terminal() {
			return ErrTerminal
		}
		if st.State == StatePending {
			st.State = StateFailure
			st.Error = ErrCancelled.Error()
			st.Message = "Task cancelled before start"
			return nil
		}
		st.CancelRequested = true
		st.Message = "Cancellation requested"
		return nil
	})
	if errors.Is(err, ErrTerminal) {
		return st, nil
	}
	if err != nil {
		return nil, err
	}
	logger.Infow("Task cancel requested", "task_id", taskID, "state", st.State)
	return st, nil
}
