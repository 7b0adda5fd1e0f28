package task

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	sqlcomp "github.com/kart-io/sentinel-rag/pkg/component/sql"
	sqlopts "github.com/kart-io/sentinel-rag/pkg/options/sql"
)

func newMiniRedis(t *testing.T) goredis.UniversalClient {
	t.Helper()
	_, rdb := newMiniRedisServer(t)
	return rdb
}

func newMiniRedisServer(t *testing.T) (*miniredis.Miniredis, goredis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func newSQLBackend(t *testing.T, expiry time.Duration) *SQLBackend {
	t.Helper()
	opts := sqlopts.NewOptions()
	opts.DSN = filepath.Join(t.TempDir(), "tasks.db")
	opts.MaxOpenConns = 1
	opts.LogLevel = "silent"

	client, err := sqlcomp.New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	b, err := NewSQLBackend(context.Background(), client.DB(), expiry)
	require.NoError(t, err)
	return b
}

// backends 返回所有状态存储实现，用于同一组用例。
func backends(t *testing.T) map[string]StateBackend {
	return map[string]StateBackend{
		"memory": NewMemoryBackend(time.Hour),
		"redis":  NewRedisBackend(newMiniRedis(t), "test:task:", time.Hour),
		"sql":    newSQLBackend(t, time.Hour),
	}
}

func newStatus(id string) *TaskStatus {
	now := time.Now()
	return &TaskStatus{ID: id, Kind: KindSingleQuery, State: StatePending, CreatedAt: now, UpdatedAt: now}
}

// fakeEngine 可按用例替换各个方法。
type fakeEngine struct {
	mu    sync.Mutex
	calls int

	index func(ctx context.Context, clear bool, p biz.ProgressReporter) (*biz.IndexResult, error)
	query func(ctx context.Context, q string, p biz.ProgressReporter) (*biz.QueryResult, error)
}

var _ Engine = (*fakeEngine)(nil)

func (f *fakeEngine) count() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeEngine) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeEngine) ProcessDocuments(ctx context.Context, clear bool, p biz.ProgressReporter) (*biz.IndexResult, error) {
	f.count()
	if f.index != nil {
		return f.index(ctx, clear, p)
	}
	return &biz.IndexResult{DocumentsProcessed: 1, IndexCleared: clear}, nil
}

func (f *fakeEngine) ClearIndex(ctx context.Context, p biz.ProgressReporter) (*biz.ClearResult, error) {
	f.count()
	if err := p.Report(ctx, 50, "Clearing search index..."); err != nil {
		return nil, err
	}
	return &biz.ClearResult{VectorsRemoved: 3}, nil
}

func (f *fakeEngine) Query(ctx context.Context, q string, p biz.ProgressReporter) (*biz.QueryResult, error) {
	f.count()
	if f.query != nil {
		return f.query(ctx, q, p)
	}
	return &biz.QueryResult{Question: q, Answer: "answer to " + q, Source: biz.SourceGenerated}, nil
}

func (f *fakeEngine) BatchQuery(ctx context.Context, qs []string, p biz.ProgressReporter) (*biz.BatchResult, error) {
	f.count()
	res := &biz.BatchResult{TotalQuestions: len(qs)}
	for i, q := range qs {
		if err := p.Report(ctx, i*90/len(qs), "batch"); err != nil {
			return nil, err
		}
		res.Results = append(res.Results, &biz.QueryResult{Question: q, Answer: q})
	}
	return res, nil
}

type harness struct {
	orch    *Orchestrator
	backend StateBackend
	broker  Broker
	worker  *Worker
}

func startWorker(t *testing.T, engine Engine, cfg WorkerConfig) *harness {
	t.Helper()
	backend := NewMemoryBackend(time.Hour)
	broker := NewMemoryBroker(16)
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 20 * time.Millisecond
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = time.Second
	}

	w, err := NewWorker(cfg, engine, backend, broker, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &harness{orch: NewOrchestrator(backend, broker), backend: backend, broker: broker, worker: w}
}

func (h *harness) waitFor(t *testing.T, id string, cond func(*TaskStatus) bool) *TaskStatus {
	t.Helper()
	var last *TaskStatus
	require.Eventually(t, func() bool {
		st, err := h.orch.Status(context.Background(), id)
		if err != nil {
			return false
		}
		last = st
		return cond(st)
	}, 5*time.Second, 10*time.Millisecond)
	return last
}

func terminal(st *TaskStatus) bool { return st.State.Terminal() }
