package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/core"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	ctxlog "github.com/kart-io/sentinel-rag/pkg/infra/logger"
	"github.com/kart-io/sentinel-rag/pkg/infra/pool"
	"github.com/kart-io/sentinel-rag/pkg/infra/tracing"
)

// WorkerConfig worker 配置。
type WorkerConfig struct {
	// Concurrency 并发执行的任务数。
	Concurrency int
	// Timeout 单个任务的执行时间上限。
	Timeout time.Duration
	// TimeoutGrace 超时后继续占用槽位、等待任务体退出的时间。
	TimeoutGrace time.Duration
	// PollInterval 阻塞出队的最长等待时间。
	PollInterval time.Duration
	// ShutdownTimeout 退出时等待运行中任务的时间。
	ShutdownTimeout time.Duration
}

// Worker 从 Broker 取出任务并在协程池中执行。
type Worker struct {
	cfg     WorkerConfig
	engine  Engine
	backend StateBackend
	broker  Broker
	pool    *pool.Pool
	metrics *metrics.Metrics
}

// NewWorker 创建 worker。
func NewWorker(cfg WorkerConfig, engine Engine, backend StateBackend, broker Broker, m *metrics.Metrics) (*Worker, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.TimeoutGrace <= 0 {
		cfg.TimeoutGrace = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	p, err := pool.NewPool("rag-worker", pool.WorkerConfig(cfg.Concurrency))
	if err != nil {
		return nil, err
	}
	return &Worker{
		cfg:     cfg,
		engine:  engine,
		backend: backend,
		broker:  broker,
		pool:    p,
		metrics: m,
	}, nil
}

// Stats 返回协程池统计。
func (w *Worker) Stats() pool.Stats { return w.pool.Stats() }

// Run 循环消费任务直到 ctx 取消，退出前等待运行中的任务。
func (w *Worker) Run(ctx context.Context) error {
	if n, err := w.broker.Recover(ctx); err != nil {
		logger.Warnw("Failed to recover unacknowledged jobs", "broker", w.broker.Name(), "error", err.Error())
	} else if n > 0 {
		logger.Infow("Recovered unacknowledged jobs", "broker", w.broker.Name(), "count", n)
	}

	logger.Infow("Task worker started", "broker", w.broker.Name(), "backend", w.backend.Name(), "concurrency", w.cfg.Concurrency)
	defer func() {
		if err := w.pool.ReleaseTimeout(w.cfg.ShutdownTimeout); err != nil {
			logger.Warnw("Task worker did not drain in time", "error", err.Error())
		}
		logger.Info("Task worker stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		d, err := w.broker.Consume(ctx, w.cfg.PollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrBrokerClosed) {
				return nil
			}
			logger.Warnw("Failed to consume job", "broker", w.broker.Name(), "error", err.Error())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.cfg.PollInterval):
			}
			continue
		}
		if d == nil {
			continue
		}

		// 池满时阻塞，每个空闲槽位最多预取一条消息
		if err := w.pool.Submit(func() { w.handle(ctx, d) }); err != nil {
			logger.Errorw("Failed to schedule job", "task_id", d.Message.TaskID, "error", err.Error())
			return err
		}
	}
}

// handle 执行一次投递并确认。
func (w *Worker) handle(ctx context.Context, d *Delivery) {
	msg := d.Message
	if acked := w.process(ctx, msg); acked {
		if err := w.broker.Ack(context.WithoutCancel(ctx), d); err != nil {
			logger.Warnw("Failed to ack job", "task_id", msg.TaskID, "error", err.Error())
		}
	}
}

// process 执行任务，返回消息是否应被确认。
func (w *Worker) process(ctx context.Context, msg JobMessage) bool {
	st, err := w.backend.Get(ctx, msg.TaskID)
	if errors.Is(err, ErrTaskNotFound) {
		logger.Warnw("Dropping job without task record", "task_id", msg.TaskID, "kind", msg.Spec.Kind)
		return true
	}
	if err != nil {
		logger.Errorw("Failed to load task record", "task_id", msg.TaskID, "error", err.Error())
		return ctx.Err() == nil
	}
	if st.State.Terminal() {
		logger.Infow("Skipping finished task", "task_id", msg.TaskID, "state", st.State)
		return true
	}

	kind := string(msg.Spec.Kind)
	ctx, span := tracing.StartSpan(ctx, "task.run",
		attribute.String("task.id", msg.TaskID),
		attribute.String("task.kind", kind),
	)
	defer span.End()

	ctx = ctxlog.ExtractOpenTelemetryFields(ctxlog.WithFields(ctxlog.WithTaskID(ctx, msg.TaskID), "kind", kind))
	log := ctxlog.GetLogger(ctx)

	w.metrics.TaskStarted()
	rep := NewReporter(w.backend, msg.TaskID)
	log.Info("Task started")

	res, running, err := w.runWithTimeout(ctx, msg, rep)
	if running != nil {
		defer w.awaitTimedOut(log, running)
	}

	// 进程退出导致的中断：持久队列会重新投递，不写终态也不确认
	if err != nil && ctx.Err() != nil && w.broker.Durable() {
		w.metrics.TaskFinished(kind, "interrupted")
		log.Warn("Task interrupted by shutdown, will be redelivered")
		return false
	}

	fctx := context.WithoutCancel(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		w.fail(fctx, msg.TaskID, err)
		w.metrics.TaskFinished(kind, string(StateFailure))
		return true
	}

	_, uerr := w.backend.Update(fctx, msg.TaskID, func(st *TaskStatus) error {
		if st.State.Terminal() {
			return ErrTerminal
		}
		st.State = StateSuccess
		st.Progress = 100
		st.Message = "Task completed successfully"
		st.Result = res
		st.Error = ""
		return nil
	})
	if uerr != nil {
		log.Warnw("Failed to record task success", "error", uerr.Error())
	}
	w.metrics.TaskFinished(kind, string(StateSuccess))
	log.Info("Task succeeded")
	return true
}

type outcome struct {
	res *Result
	err error
}

// runWithTimeout 在超时上限内执行任务体。超时后立即返回错误以便写入终态，
// 任务体仍在运行时返回非 nil 的 running，调用方应等待它退出再释放槽位。
func (w *Worker) runWithTimeout(ctx context.Context, msg JobMessage, rep *Reporter) (*Result, <-chan outcome, error) {
	tctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("Task panicked", "task_id", msg.TaskID, "panic", r, "stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("task panicked: %v", r)}
			}
		}()

		if err := rep.Report(tctx, 0, "Task started"); err != nil {
			done <- outcome{err: err}
			return
		}
		res, err := Execute(tctx, w.engine, msg.Spec, rep)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, nil, w.timeoutError()
		}
		return out.res, nil, out.err
	case <-tctx.Done():
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, done, w.timeoutError()
		}
		return nil, done, tctx.Err()
	}
}

// awaitTimedOut 在宽限期内等待已超时的任务体退出，期间继续占用协程池槽位。
// 宽限期后仍未退出的任务体不再等待，它会在下一个检查点因状态已是终态而停止。
func (w *Worker) awaitTimedOut(log core.Logger, running <-chan outcome) {
	timer := time.NewTimer(w.cfg.TimeoutGrace)
	defer timer.Stop()
	select {
	case <-running:
	case <-timer.C:
		log.Warnw("Task body still running after timeout grace, releasing worker slot", "grace", w.cfg.TimeoutGrace.String())
	}
}

func (w *Worker) timeoutError() error {
	return fmt.Errorf("task timed out after %s", w.cfg.Timeout)
}

// fail 写入 FAILURE，保留最后的进度。ctx 需携带任务的日志字段。
func (w *Worker) fail(ctx context.Context, taskID string, cause error) {
	msg := cause.Error()
	if errors.Is(cause, ErrCancelled) {
		msg = ErrCancelled.Error()
	}
	_, err := w.backend.Update(ctx, taskID, func(st *TaskStatus) error {
		if st.State.Terminal() {
			return ErrTerminal
		}
		st.State = StateFailure
		st.Error = msg
		st.Message = "Task failed"
		return nil
	})
	log := ctxlog.GetLogger(ctx)
	if err != nil && !errors.Is(err, ErrTerminal) {
		log.Errorw("Failed to record task failure", "error", err.Error())
	}
	log.Warnw("Task failed", "error", msg)
}
