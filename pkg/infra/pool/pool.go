package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"github.com/panjf2000/ants/v2"
)

// Config 池配置
type Config struct {
	// Capacity 最大并发 goroutine 数，必须大于 0
	Capacity int
	// ExpiryDuration 空闲 goroutine 回收时间
	ExpiryDuration time.Duration
	// Nonblocking 池满时 Submit 直接返回 ErrPoolOverload
	Nonblocking bool
	// MaxBlockingTasks 阻塞模式下最大排队数，0 表示不限
	MaxBlockingTasks int
	// PanicHandler 任务 panic 时的回调，为空时仅记录日志
	PanicHandler func(interface{})
}

// WorkerConfig 返回任务执行池的配置，容量即 worker 并发度。
func WorkerConfig(concurrency int) *Config {
	return &Config{
		Capacity:       concurrency,
		ExpiryDuration: 60 * time.Second,
	}
}

// Stats 池统计快照
type Stats struct {
	Capacity       int   `json:"capacity"`
	Running        int   `json:"running"`
	Waiting        int   `json:"waiting"`
	SubmittedTasks int64 `json:"submitted_tasks"`
	CompletedTasks int64 `json:"completed_tasks"`
	RejectedTasks  int64 `json:"rejected_tasks"`
	PanicRecovered int64 `json:"panic_recovered"`
}

// Pool 基于 ants 的命名 goroutine 池
type Pool struct {
	name string
	pool *ants.Pool

	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64

	mu     sync.Mutex
	closed atomic.Bool
}

// NewPool 创建 goroutine 池
func NewPool(name string, config *Config) (*Pool, error) {
	if config == nil || config.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive", ErrInvalidPoolConfig)
	}

	p := &Pool{name: name}

	handler := config.PanicHandler
	opts := []ants.Option{
		ants.WithExpiryDuration(config.ExpiryDuration),
		ants.WithNonblocking(config.Nonblocking),
		ants.WithMaxBlockingTasks(config.MaxBlockingTasks),
		ants.WithPanicHandler(func(r interface{}) {
			p.panics.Add(1)
			if handler != nil {
				handler(r)
				return
			}
			logger.Errorw("Worker panic recovered", "pool", name, "panic", r)
		}),
	}

	ap, err := ants.NewPool(config.Capacity, opts...)
	if err != nil {
		return nil, fmt.Errorf("create ants pool %s: %w", name, err)
	}
	p.pool = ap

	logger.Infow("Worker pool created", "name", name, "capacity", config.Capacity)
	return p, nil
}

// Name 返回池名称
func (p *Pool) Name() string { return p.name }

// Cap 返回池容量
func (p *Pool) Cap() int { return p.pool.Cap() }

// Running 返回正在执行的任务数
func (p *Pool) Running() int { return p.pool.Running() }

// Free 返回空闲容量
func (p *Pool) Free() int { return p.pool.Free() }

// Submit 提交任务，阻塞模式下池满会等待空位
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	err := p.pool.Submit(func() {
		defer p.completed.Add(1)
		task()
	})
	if err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			p.rejected.Add(1)
			return ErrPoolOverload
		}
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrPoolClosed
		}
		return err
	}
	p.submitted.Add(1)
	return nil
}

// SubmitWithContext 提交任务，任务开始前 ctx 已取消则跳过执行
func (p *Pool) SubmitWithContext(ctx context.Context, task func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.Submit(func() {
		if ctx.Err() != nil {
			return
		}
		task()
	})
}

// Release 立即关闭池
func (p *Pool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Swap(true) {
		return
	}
	p.pool.Release()
	logger.Infow("Worker pool released", "name", p.name)
}

// ReleaseTimeout 关闭池并等待运行中的任务结束，直到超时
func (p *Pool) ReleaseTimeout(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Swap(true) {
		return nil
	}
	return p.pool.ReleaseTimeout(timeout)
}

// Stats 返回统计快照
func (p *Pool) Stats() Stats {
	return Stats{
		Capacity:       p.pool.Cap(),
		Running:        p.pool.Running(),
		Waiting:        p.pool.Waiting(),
		SubmittedTasks: p.submitted.Load(),
		CompletedTasks: p.completed.Load(),
		RejectedTasks:  p.rejected.Load(),
		PanicRecovered: p.panics.Load(),
	}
}
