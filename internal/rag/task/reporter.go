package task

import (
	"context"
	"errors"

	"github.com/kart-io/sentinel-rag/internal/rag/biz"
)

// Reporter 将任务逻辑的进度写入状态存储，同时作为取消检查点。
type Reporter struct {
	backend StateBackend
	id      string
}

var _ biz.ProgressReporter = (*Reporter)(nil)

// NewReporter 创建任务 id 的进度上报器。
func NewReporter(backend StateBackend, id string) *Reporter {
	return &Reporter{backend: backend, id: id}
}

// Report 更新进度和状态文本。进度只增不减；收到取消请求时返回 ErrCancelled，
// 任务已结束时返回 ErrTerminal。
func (r *Reporter) Report(ctx context.Context, percent int, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := r.backend.Update(ctx, r.id, func(st *TaskStatus) error {
		if st.State.Terminal() {
			return ErrTerminal
		}
		if st.CancelRequested {
			return ErrCancelled
		}
		st.State = StateProgress
		st.Progress = max(st.Progress, clampPercent(percent))
		st.Message = message
		return nil
	})
	return err
}

// Checkpoint 只检查取消请求，不修改记录。
func (r *Reporter) Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, err := r.backend.Get(ctx, r.id)
	if errors.Is(err, ErrTaskNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if st.State.Terminal() {
		return ErrTerminal
	}
	if st.CancelRequested {
		return ErrCancelled
	}
	return nil
}

func clampPercent(p int) int {
	return min(max(p, 0), 100)
}
