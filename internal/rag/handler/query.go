package handler

import (
	stderrors "errors"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/sentinel-rag/internal/pkg/httputils"
	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/internal/rag/task"
	ctxlog "github.com/kart-io/sentinel-rag/pkg/infra/logger"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/validator"
)

// Query answers a single question, synchronously by default.
func (h *RAGHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputils.WriteResponse(c, errors.ErrRAGInvalidRequest.WithMessage(validator.Message(err)), nil)
		return
	}

	if req.AsyncProcessing {
		h.submit(c, task.JobSpec{Kind: task.KindSingleQuery, Question: req.Question}, "Query processing started")
		return
	}

	ctx, cancel := h.withQueryTimeout(c.Request.Context())
	defer cancel()

	res, err := h.engine.Query(ctx, req.Question, biz.NopReporter)
	if err != nil {
		ctxlog.GetLogger(c.Request.Context()).Errorw("Query failed", "error", err.Error())
		httputils.WriteResponse(c, queryError(err), nil)
		return
	}
	httputils.WriteResponse(c, nil, res)
}

// BatchQuery queues a batch of questions. Batches always run as a task.
func (h *RAGHandler) BatchQuery(c *gin.Context) {
	var req BatchQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputils.WriteResponse(c, errors.ErrRAGInvalidRequest.WithMessage(validator.Message(err)), nil)
		return
	}
	if len(req.Questions) > h.maxBatch {
		httputils.WriteResponse(c, errors.ErrRAGTooManyItems.WithMessagef(
			"at most %d questions are allowed, got %d", h.maxBatch, len(req.Questions)), nil)
		return
	}

	h.submit(c, task.JobSpec{Kind: task.KindBatchQuery, Questions: req.Questions}, "Batch query processing started")
}

// QueryTaskStatus returns the status of a query task.
func (h *RAGHandler) QueryTaskStatus(c *gin.Context) {
	h.taskStatus(c)
}

// CancelTask cancels a queued or running task.
func (h *RAGHandler) CancelTask(c *gin.Context) {
	taskID, ok := taskIDParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	prev, err := h.orchestrator.Status(ctx, taskID)
	if err != nil {
		ctxlog.GetLogger(ctx).Errorw("Failed to read task status", "task_id", taskID, "error", err.Error())
		httputils.WriteResponse(c, errors.ErrRAGTaskStatus.WithCause(err), nil)
		return
	}
	if prev.State.Terminal() {
		httputils.WriteResponse(c, nil, &CancelResponse{TaskID: taskID, Status: prev.State, Message: "Task already finished"})
		return
	}

	st, err := h.orchestrator.Cancel(ctx, taskID)
	if err != nil {
		if stderrors.Is(err, task.ErrTaskNotFound) {
			// 未知 id 与排队中的任务无法区分，按尽力取消处理
			httputils.WriteResponse(c, nil, &CancelResponse{TaskID: taskID, Status: task.StatePending, Message: "Task cancellation requested"})
			return
		}
		ctxlog.GetLogger(ctx).Errorw("Failed to cancel task", "task_id", taskID, "error", err.Error())
		httputils.WriteResponse(c, errors.ErrRAGTaskStatus.WithCause(err), nil)
		return
	}

	msg := "Task cancellation requested"
	switch {
	case st.State == task.StateFailure && st.Error == task.ErrCancelled.Error():
		msg = "Task cancelled"
	case st.State.Terminal():
		msg = "Task already finished"
	}
	httputils.WriteResponse(c, nil, &CancelResponse{TaskID: taskID, Status: st.State, Message: msg})
}
