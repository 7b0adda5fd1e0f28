package handler

import (
	"time"

	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/internal/rag/task"
	"github.com/kart-io/sentinel-rag/pkg/infra/pool"
)

// ProcessDocumentsRequest is the request body for building the index.
// An empty body means clear_existing=true and async_processing=true.
type ProcessDocumentsRequest struct {
	ClearExisting   *bool `json:"clear_existing"`
	AsyncProcessing *bool `json:"async_processing"`
}

// ClearIndexRequest is the optional request body for clearing the index.
type ClearIndexRequest struct {
	AsyncProcessing *bool `json:"async_processing"`
}

// QueryRequest is the request body for a single question.
type QueryRequest struct {
	Question        string `json:"question" binding:"required,notblank,max=1000"`
	AsyncProcessing bool   `json:"async_processing"`
}

// BatchQueryRequest is the request body for a batch of questions.
// The upper bound on the number of questions is configurable and checked
// by the handler.
type BatchQueryRequest struct {
	Questions []string `json:"questions" binding:"required,min=1,dive,required,notblank,max=1000"`
}

// AsyncTaskResponse is returned when work was queued.
type AsyncTaskResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TaskStatusResponse is the public view of a task record.
type TaskStatusResponse struct {
	TaskID          string       `json:"task_id"`
	Kind            task.Kind    `json:"kind,omitempty"`
	Status          task.State   `json:"status"`
	Progress        int          `json:"progress"`
	Message         string       `json:"message,omitempty"`
	Result          *task.Result `json:"result,omitempty"`
	Error           string       `json:"error,omitempty"`
	CancelRequested bool         `json:"cancel_requested,omitempty"`
	CreatedAt       *time.Time   `json:"created_at,omitempty"`
	UpdatedAt       *time.Time   `json:"updated_at,omitempty"`
}

func newTaskStatusResponse(st *task.TaskStatus) *TaskStatusResponse {
	resp := &TaskStatusResponse{
		TaskID:          st.ID,
		Kind:            st.Kind,
		Status:          st.State,
		Progress:        st.Progress,
		Message:         st.Message,
		Result:          st.Result,
		Error:           st.Error,
		CancelRequested: st.CancelRequested,
	}
	if !st.CreatedAt.IsZero() {
		created, updated := st.CreatedAt, st.UpdatedAt
		resp.CreatedAt = &created
		resp.UpdatedAt = &updated
	}
	return resp
}

// DocumentStatusResponse combines the document directory and the index.
type DocumentStatusResponse struct {
	Documents *biz.DocumentStats `json:"documents"`
	Index     biz.IndexStats     `json:"index"`
}

// TaskStats describes the task subsystem in /system/stats.
type TaskStats struct {
	Broker  string      `json:"broker"`
	Backend string      `json:"backend"`
	Worker  *pool.Stats `json:"worker,omitempty"`
}

// SystemStatsResponse is returned by /system/stats.
type SystemStatsResponse struct {
	*biz.SystemStats
	Tasks TaskStats `json:"tasks"`
}

// ComponentHealth is the health of one dependency.
type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse is returned by /system/health.
type HealthResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version"`
	Components map[string]ComponentHealth `json:"components"`
}

// CacheClearResponse is returned by /system/cache/clear.
type CacheClearResponse struct {
	Message      string `json:"message"`
	ItemsRemoved int    `json:"items_removed"`
	BytesFreed   int64  `json:"bytes_freed"`
	CurrentItems int    `json:"current_items"`
}

// CancelResponse is returned by DELETE /query/:id.
type CancelResponse struct {
	TaskID  string     `json:"task_id"`
	Status  task.State `json:"status"`
	Message string     `json:"message"`
}
