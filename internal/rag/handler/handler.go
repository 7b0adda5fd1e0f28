// Package handler provides HTTP handlers for the RAG service.
package handler

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/sentinel-rag/internal/pkg/httputils"
	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/internal/rag/task"
	ctxlog "github.com/kart-io/sentinel-rag/pkg/infra/logger"
	"github.com/kart-io/sentinel-rag/pkg/infra/pool"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/id"
	"github.com/kart-io/sentinel-rag/pkg/utils/response"
)

const defaultMaxBatchQuestions = 10

// HealthCheck probes one dependency for /system/health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// ServiceInfo is the static part of /system/info.
type ServiceInfo struct {
	Name          string            `json:"name"`
	Version       string            `json:"version"`
	Models        map[string]string `json:"models"`
	Configuration map[string]any    `json:"configuration"`
}

// Config wires the handler to the engine and the task subsystem.
type Config struct {
	Engine       *biz.Engine
	Orchestrator *task.Orchestrator
	// WorkerStats is nil when this process does not run a worker.
	WorkerStats       func() pool.Stats
	QueryTimeout      time.Duration
	MaxBatchQuestions int
	Checks            []HealthCheck
	Info              ServiceInfo
}

// RAGHandler handles RAG HTTP requests.
type RAGHandler struct {
	engine       *biz.Engine
	orchestrator *task.Orchestrator
	workerStats  func() pool.Stats
	queryTimeout time.Duration
	maxBatch     int
	checks       []HealthCheck
	info         ServiceInfo
	now          func() time.Time
}

// NewRAGHandler creates a new RAGHandler.
func NewRAGHandler(cfg Config) (*RAGHandler, error) {
	if cfg.Engine == nil || cfg.Orchestrator == nil {
		return nil, fmt.Errorf("rag handler requires an engine and an orchestrator")
	}
	if cfg.MaxBatchQuestions <= 0 {
		cfg.MaxBatchQuestions = defaultMaxBatchQuestions
	}
	return &RAGHandler{
		engine:       cfg.Engine,
		orchestrator: cfg.Orchestrator,
		workerStats:  cfg.WorkerStats,
		queryTimeout: cfg.QueryTimeout,
		maxBatch:     cfg.MaxBatchQuestions,
		checks:       cfg.Checks,
		info:         cfg.Info,
		now:          time.Now,
	}, nil
}

// bindOptional binds a JSON body that may be absent.
func bindOptional(c *gin.Context, obj any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(obj); err != nil && !stderrors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// submit queues a job and answers 202 with the task id.
func (h *RAGHandler) submit(c *gin.Context, spec task.JobSpec, message string) {
	taskID, err := h.orchestrator.Submit(c.Request.Context(), spec)
	if err != nil {
		ctxlog.GetLogger(c.Request.Context()).Errorw("Failed to submit task", "kind", spec.Kind, "error", err.Error())
		if stderrors.Is(err, task.ErrInvalidJob) {
			httputils.WriteResponse(c, errors.ErrRAGInvalidJob.WithMessage(err.Error()), nil)
			return
		}
		httputils.WriteResponse(c, errors.ErrRAGTaskSubmit.WithCause(err), nil)
		return
	}
	httputils.WriteResponse(c, nil, response.Accepted(message, &AsyncTaskResponse{
		TaskID:  taskID,
		Status:  string(task.StatePending),
		Message: message,
	}))
}

// taskStatus answers GET /documents/task/:id and GET /query/:id.
func (h *RAGHandler) taskStatus(c *gin.Context) {
	taskID, ok := taskIDParam(c)
	if !ok {
		return
	}
	st, err := h.orchestrator.Status(c.Request.Context(), taskID)
	if err != nil {
		ctxlog.GetLogger(c.Request.Context()).Errorw("Failed to read task status", "task_id", taskID, "error", err.Error())
		httputils.WriteResponse(c, errors.ErrRAGTaskStatus.WithCause(err), nil)
		return
	}
	httputils.WriteResponse(c, nil, newTaskStatusResponse(st))
}

func taskIDParam(c *gin.Context) (string, bool) {
	taskID := c.Param("id")
	if err := id.ValidateTaskID(taskID); err != nil {
		httputils.WriteResponse(c, errors.ErrInvalidParam.WithMessagef("invalid task id %q", taskID), nil)
		return "", false
	}
	return taskID, true
}

// withQueryTimeout bounds synchronous work by the configured timeout.
func (h *RAGHandler) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.queryTimeout)
}

func queryError(err error) error {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.ErrRAGQueryTimeout.WithCause(err)
	case stderrors.Is(err, biz.ErrEmptyQuestion):
		return errors.ErrRAGInvalidRequest.WithMessage(err.Error())
	case stderrors.Is(err, biz.ErrInvalidDimension):
		return errors.ErrRAGInvalidDimension.WithCause(err)
	default:
		return errors.ErrRAGQueryFailed.WithCause(err)
	}
}

func indexError(err error) error {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.ErrTimeout.WithCause(err)
	case stderrors.Is(err, biz.ErrInvalidDimension):
		return errors.ErrRAGInvalidDimension.WithCause(err)
	default:
		return errors.ErrRAGIndexFailed.WithCause(err)
	}
}
