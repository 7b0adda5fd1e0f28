package task

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kart-io/sentinel-rag/internal/rag/biz"
)

var (
	// ErrTaskNotFound 任务记录不存在或已过期。
	ErrTaskNotFound = errors.New("task not found")
	// ErrCancelled 任务收到取消请求。
	ErrCancelled = errors.New("task cancelled")
	// ErrTerminal 任务已处于终态，不再接受状态变更。
	ErrTerminal = errors.New("task already finished")
	// ErrInvalidJob 任务参数不合法。
	ErrInvalidJob = errors.New("invalid job")
)

// Kind 任务类型。
type Kind string

const (
	KindIndexBuild  Kind = "index_build"
	KindSingleQuery Kind = "single_query"
	KindBatchQuery  Kind = "batch_query"
	KindClearIndex  Kind = "clear_index"
)

// State 任务状态。
type State string

const (
	StatePending  State = "PENDING"
	StateProgress State = "PROGRESS"
	StateSuccess  State = "SUCCESS"
	StateFailure  State = "FAILURE"
)

// Terminal 是否为终态。
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailure
}

// JobSpec 任务参数。
type JobSpec struct {
	Kind          Kind     `json:"kind"`
	ClearExisting bool     `json:"clear_existing,omitempty"`
	Question      string   `json:"question,omitempty"`
	Questions     []string `json:"questions,omitempty"`
}

// Validate 校验任务参数。
func (s JobSpec) Validate() error {
	switch s.Kind {
	case KindIndexBuild, KindClearIndex:
		return nil
	case KindSingleQuery:
		if strings.TrimSpace(s.Question) == "" {
			return fmt.Errorf("%w: question is required", ErrInvalidJob)
		}
		return nil
	case KindBatchQuery:
		if len(s.Questions) == 0 {
			return fmt.Errorf("%w: questions are required", ErrInvalidJob)
		}
		for i, q := range s.Questions {
			if strings.TrimSpace(q) == "" {
				return fmt.Errorf("%w: question %d is empty", ErrInvalidJob, i+1)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, s.Kind)
	}
}

// JobMessage 投递到 Broker 的消息。
type JobMessage struct {
	TaskID     string    `json:"task_id"`
	Spec       JobSpec   `json:"spec"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Result 任务结果，按 Kind 只填充对应字段。
type Result struct {
	Kind  Kind             `json:"kind"`
	Index *biz.IndexResult `json:"index,omitempty"`
	Query *biz.QueryResult `json:"query,omitempty"`
	Batch *biz.BatchResult `json:"batch,omitempty"`
	Clear *biz.ClearResult `json:"clear,omitempty"`
}

// TaskStatus 任务状态记录。
type TaskStatus struct {
	ID              string    `json:"task_id"`
	Kind            Kind      `json:"kind,omitempty"`
	State           State     `json:"state"`
	Progress        int       `json:"progress"`
	Message         string    `json:"message,omitempty"`
	Result          *Result   `json:"result,omitempty"`
	Error           string    `json:"error,omitempty"`
	CancelRequested bool      `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Clone 返回记录副本。Result 指向的结果写入后不再修改，可以共享。
func (s *TaskStatus) Clone() *TaskStatus {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// pendingStatus 未知任务按 PENDING 返回。
func pendingStatus(id string) *TaskStatus {
	return &TaskStatus{ID: id, State: StatePending}
}
