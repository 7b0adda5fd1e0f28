package task

import (
	"context"
	"sync"
	"time"
)

// UpdateFunc 修改状态记录。返回错误时本次更新不写入，错误原样返回给调用方。
type UpdateFunc func(st *TaskStatus) error

// StateBackend 任务状态存储。
//
// Update 是唯一的修改入口：读取、校验、整条写回在一次原子操作中完成，
// 轮询方不会看到状态、进度和结果不一致的记录。
type StateBackend interface {
	Name() string
	Create(ctx context.Context, st *TaskStatus) error
	Get(ctx context.Context, id string) (*TaskStatus, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (*TaskStatus, error)
	Close() error
}

// MemoryBackend 进程内状态存储。
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string]*TaskStatus
	expiry  time.Duration
	now     func() time.Time
}

var _ StateBackend = (*MemoryBackend)(nil)

// NewMemoryBackend 创建内存状态存储，expiry 为终态记录的保留时间，0 表示永久保留。
func NewMemoryBackend(expiry time.Duration) *MemoryBackend {
	return &MemoryBackend{
		records: map[string]*TaskStatus{},
		expiry:  expiry,
		now:     time.Now,
	}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Create(_ context.Context, st *TaskStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[st.ID] = st.Clone()
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, id string) (*TaskStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.lookupLocked(id)
	if !ok {
		return nil, ErrTaskNotFound
	}
	return st.Clone(), nil
}

func (b *MemoryBackend) Update(_ context.Context, id string, fn UpdateFunc) (*TaskStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.lookupLocked(id)
	if !ok {
		return nil, ErrTaskNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return cur.Clone(), err
	}
	next.UpdatedAt = b.now()
	b.records[id] = next
	return next.Clone(), nil
}

func (b *MemoryBackend) Close() error { return nil }

func (b *MemoryBackend) lookupLocked(id string) (*TaskStatus, bool) {
	st, ok := b.records[id]
	if !ok {
		return nil, false
	}
	if b.expiry > 0 && st.State.Terminal() && b.now().Sub(st.UpdatedAt) > b.expiry {
		delete(b.records, id)
		return nil, false
	}
	return st, true
}
