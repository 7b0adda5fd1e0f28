package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/internal/rag/handler"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/router"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/internal/rag/task"
	"github.com/kart-io/sentinel-rag/pkg/infra/pool"
	"github.com/kart-io/sentinel-rag/pkg/llm/local"
	utilerrors "github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/id"
)

const testDim = 64

func init() {
	gin.SetMode(gin.TestMode)
}

// apiResponse 标准 API 响应结构
type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router       *gin.Engine
	engine       *biz.Engine
	orchestrator *task.Orchestrator
}

func newTestServer(t *testing.T, mutate func(*handler.Config)) *testServer {
	t.Helper()

	backend, err := store.NewMemoryBackend(store.MetricL2)
	require.NoError(t, err)
	idx, err := biz.NewVectorIndex(backend, local.New(testDim), biz.IndexConfig{
		Dimension: testDim,
		Metric:    store.MetricL2,
		ChunkSize: 500,
		TopK:      1,
	}, nil)
	require.NoError(t, err)

	cache := biz.NewResultCache(biz.CacheConfig{
		Enabled:      true,
		TTL:          time.Hour,
		MaxSizeBytes: 1 << 20,
	}, store.NewMemoryCacheStore())

	source := biz.DocumentSourceFunc(func(context.Context) ([]biz.Document, error) {
		return []biz.Document{{ID: "cats", Filename: "cats.txt", Content: "Cats are mammals."}}, nil
	})
	engine, err := biz.NewEngine(biz.EngineConfig{
		Source:    source,
		Index:     idx,
		Cache:     cache,
		Generator: local.New(testDim),
	})
	require.NoError(t, err)

	orch := task.NewOrchestrator(task.NewMemoryBackend(time.Hour), task.NewMemoryBroker(16))

	cfg := handler.Config{
		Engine:            engine,
		Orchestrator:      orch,
		QueryTimeout:      5 * time.Second,
		MaxBatchQuestions: 10,
		Info: handler.ServiceInfo{
			Name:    "sentinel-rag",
			Version: "v0.0.0-test",
			Models:  map[string]string{"embedding": "local", "chat": "local"},
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h, err := handler.NewRAGHandler(cfg)
	require.NoError(t, err)

	r := gin.New()
	router.Register(r, h, metrics.New().Handler())
	return &testServer{router: r, engine: engine, orchestrator: orch}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, apiResponse) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp apiResponse
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w.Code, resp
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func (s *testServer) indexSync(t *testing.T) {
	t.Helper()
	code, resp := s.do(t, http.MethodPost, "/api/v1/documents/process", map[string]any{"async_processing": false})
	require.Equal(t, http.StatusOK, code, resp.Message)
}

func TestProcessDocuments_Sync(t *testing.T) {
	s := newTestServer(t, nil)

	code, resp := s.do(t, http.MethodPost, "/api/v1/documents/process", map[string]any{
		"async_processing": false,
		"clear_existing":   false,
	})
	require.Equal(t, http.StatusOK, code)
	res := decode[biz.IndexResult](t, resp.Data)
	assert.Equal(t, 1, res.DocumentsProcessed)
	assert.Equal(t, 1, res.ChunksIndexed)
	assert.False(t, res.IndexCleared)
}

func TestProcessDocuments_AsyncByDefault(t *testing.T) {
	s := newTestServer(t, nil)

	code, resp := s.do(t, http.MethodPost, "/api/v1/documents/process", nil)
	require.Equal(t, http.StatusAccepted, code)
	accepted := decode[handler.AsyncTaskResponse](t, resp.Data)
	require.NoError(t, id.ValidateTaskID(accepted.TaskID))
	assert.Equal(t, "PENDING", accepted.Status)

	st, err := s.orchestrator.Backend().Get(context.Background(), accepted.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.KindIndexBuild, st.Kind)

	d, err := s.orchestrator.Broker().Consume(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.True(t, d.Message.Spec.ClearExisting)
}

func TestProcessDocuments_BadBody(t *testing.T) {
	s := newTestServer(t, nil)

	code, resp := s.do(t, http.MethodPost, "/api/v1/documents/process", `{"async_processing": "yes"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, utilerrors.ErrBind.Code, resp.Code)
}

func TestDocumentStatus(t *testing.T) {
	s := newTestServer(t, nil)
	s.indexSync(t)

	for _, path := range []string{"/api/v1/documents/status", "/api/v1/documents/stats"} {
		code, resp := s.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, code)
		status := decode[handler.DocumentStatusResponse](t, resp.Data)
		assert.Equal(t, 1, status.Documents.TotalDocuments)
		assert.Equal(t, len([]rune("Cats are mammals.")), status.Documents.TotalCharacters)
		assert.Equal(t, 1, status.Index.TotalVectors)
		assert.True(t, status.Index.Consistent)
	}
}

func TestClearIndex(t *testing.T) {
	s := newTestServer(t, nil)
	s.indexSync(t)

	code, resp := s.do(t, http.MethodPost, "/api/v1/documents/clear-index", map[string]any{"async_processing": false})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, decode[biz.ClearResult](t, resp.Data).VectorsRemoved)

	code, resp = s.do(t, http.MethodPost, "/api/v1/documents/clear-index", nil)
	require.Equal(t, http.StatusAccepted, code)
	accepted := decode[handler.AsyncTaskResponse](t, resp.Data)

	code, resp = s.do(t, http.MethodGet, "/api/v1/documents/task/"+accepted.TaskID, nil)
	require.Equal(t, http.StatusOK, code)
	st := decode[handler.TaskStatusResponse](t, resp.Data)
	assert.Equal(t, task.KindClearIndex, st.Kind)
	assert.Equal(t, task.StatePending, st.Status)
}

func TestQuery_Sync(t *testing.T) {
	s := newTestServer(t, nil)
	s.indexSync(t)

	code, resp := s.do(t, http.MethodPost, "/api/v1/query", map[string]any{"question": "What are cats?"})
	require.Equal(t, http.StatusOK, code)
	res := decode[biz.QueryResult](t, resp.Data)
	assert.Equal(t, "Cats are mammals.", res.Answer)
	assert.Equal(t, biz.SourceGenerated, res.Source)
	assert.Equal(t, 1, res.RetrievedChunks)

	code, resp = s.do(t, http.MethodPost, "/api/v1/query", map[string]any{"question": "  WHAT ARE CATS?  "})
	require.Equal(t, http.StatusOK, code)
	res = decode[biz.QueryResult](t, resp.Data)
	assert.Equal(t, biz.SourceCache, res.Source)
	assert.Equal(t, "Cats are mammals.", res.Answer)
}

func TestQuery_Validation(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name string
		body any
		want *utilerrors.Errno
	}{
		{name: "缺少问题", body: map[string]any{}, want: utilerrors.ErrRAGInvalidRequest},
		{name: "问题过长", body: map[string]any{"question": strings.Repeat("a", 1001)}, want: utilerrors.ErrRAGInvalidRequest},
		{name: "只有空白", body: map[string]any{"question": "   "}, want: utilerrors.ErrRAGInvalidRequest},
		{name: "非法 JSON", body: `{"question":`, want: utilerrors.ErrRAGInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := s.do(t, http.MethodPost, "/api/v1/query", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, tt.want.Code, resp.Code)
		})
	}
}

func TestQuery_ValidationMessage(t *testing.T) {
	s := newTestServer(t, nil)

	_, resp := s.do(t, http.MethodPost, "/api/v1/query", map[string]any{"question": "   "})
	assert.Equal(t, "validation failed: question must not be blank", resp.Message)
}

func TestQuery_MaxLengthCountsCharacters(t *testing.T) {
	s := newTestServer(t, nil)
	s.indexSync(t)

	code, _ := s.do(t, http.MethodPost, "/api/v1/query", map[string]any{"question": strings.Repeat("猫", 1000)})
	assert.Equal(t, http.StatusOK, code)
}

func TestQuery_Async(t *testing.T) {
	s := newTestServer(t, nil)

	code, resp := s.do(t, http.MethodPost, "/api/v1/query", map[string]any{
		"question":         "What are cats?",
		"async_processing": true,
	})
	require.Equal(t, http.StatusAccepted, code)
	accepted := decode[handler.AsyncTaskResponse](t, resp.Data)

	code, resp = s.do(t, http.MethodGet, "/api/v1/query/"+accepted.TaskID, nil)
	require.Equal(t, http.StatusOK, code)
	st := decode[handler.TaskStatusResponse](t, resp.Data)
	assert.Equal(t, accepted.TaskID, st.TaskID)
	assert.Equal(t, task.KindSingleQuery, st.Kind)
	assert.Equal(t, task.StatePending, st.Status)
	assert.NotNil(t, st.CreatedAt)
}

func TestBatchQuery(t *testing.T) {
	s := newTestServer(t, nil)

	tooMany := make([]string, 11)
	for i := range tooMany {
		tooMany[i] = "question"
	}

	tests := []struct {
		name      string
		questions []string
		wantCode  int
		wantErr   *utilerrors.Errno
	}{
		{name: "空列表", questions: []string{}, wantCode: http.StatusBadRequest, wantErr: utilerrors.ErrRAGInvalidRequest},
		{name: "空问题", questions: []string{"ok", ""}, wantCode: http.StatusBadRequest, wantErr: utilerrors.ErrRAGInvalidRequest},
		{name: "超出上限", questions: tooMany, wantCode: http.StatusBadRequest, wantErr: utilerrors.ErrRAGTooManyItems},
		{name: "空白问题", questions: []string{"ok", "   "}, wantCode: http.StatusBadRequest, wantErr: utilerrors.ErrRAGInvalidRequest},
		{name: "正常", questions: []string{"What are cats?", "What is Go?"}, wantCode: http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := s.do(t, http.MethodPost, "/api/v1/query/batch", map[string]any{"questions": tt.questions})
			assert.Equal(t, tt.wantCode, code)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr.Code, resp.Code)
				return
			}
			accepted := decode[handler.AsyncTaskResponse](t, resp.Data)
			st, err := s.orchestrator.Status(context.Background(), accepted.TaskID)
			require.NoError(t, err)
			assert.Equal(t, task.KindBatchQuery, st.Kind)
		})
	}
}

func TestBatchQuery_ConfiguredLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *handler.Config) { cfg.MaxBatchQuestions = 2 })

	code, resp := s.do(t, http.MethodPost, "/api/v1/query/batch", map[string]any{"questions": []string{"a", "b", "c"}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, utilerrors.ErrRAGTooManyItems.Code, resp.Code)
}

func TestTaskStatus(t *testing.T) {
	s := newTestServer(t, nil)

	code, resp := s.do(t, http.MethodGet, "/api/v1/query/"+strings.Repeat("x", 129), nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, utilerrors.ErrInvalidParam.Code, resp.Code)

	for _, unknown := range []string{id.NewTaskID(), "not-a-ulid", "celery-3f2a"} {
		code, resp = s.do(t, http.MethodGet, "/api/v1/query/"+unknown, nil)
		require.Equal(t, http.StatusOK, code)
		st := decode[handler.TaskStatusResponse](t, resp.Data)
		assert.Equal(t, unknown, st.TaskID)
		assert.Equal(t, task.StatePending, st.Status)
		assert.Nil(t, st.CreatedAt)
	}
}

func TestCancelTask(t *testing.T) {
	s := newTestServer(t, nil)

	code, resp := s.do(t, http.MethodPost, "/api/v1/query", map[string]any{"question": "q", "async_processing": true})
	require.Equal(t, http.StatusAccepted, code)
	taskID := decode[handler.AsyncTaskResponse](t, resp.Data).TaskID

	code, resp = s.do(t, http.MethodDelete, "/api/v1/query/"+taskID, nil)
	require.Equal(t, http.StatusOK, code)
	cancelled := decode[handler.CancelResponse](t, resp.Data)
	assert.Equal(t, task.StateFailure, cancelled.Status)
	assert.Equal(t, "Task cancelled", cancelled.Message)

	code, resp = s.do(t, http.MethodDelete, "/api/v1/query/"+taskID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Task already finished", decode[handler.CancelResponse](t, resp.Data).Message)

	code, resp = s.do(t, http.MethodGet, "/api/v1/query/"+taskID, nil)
	require.Equal(t, http.StatusOK, code)
	st := decode[handler.TaskStatusResponse](t, resp.Data)
	assert.Equal(t, task.ErrCancelled.Error(), st.Error)

}

func TestCancelTask_UnknownIDIsBestEffort(t *testing.T) {
	s := newTestServer(t, nil)

	for _, unknown := range []string{id.NewTaskID(), "not-a-ulid"} {
		code, resp := s.do(t, http.MethodDelete, "/api/v1/query/"+unknown, nil)
		require.Equal(t, http.StatusOK, code)
		cancelled := decode[handler.CancelResponse](t, resp.Data)
		assert.Equal(t, unknown, cancelled.TaskID)
		assert.Equal(t, task.StatePending, cancelled.Status)
		assert.Equal(t, "Task cancellation requested", cancelled.Message)
	}
}

func TestCancelTask_Running(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	taskID, err := s.orchestrator.Submit(ctx, task.JobSpec{Kind: task.KindIndexBuild})
	require.NoError(t, err)
	_, err = s.orchestrator.Backend().Update(ctx, taskID, func(st *task.TaskStatus) error {
		st.State = task.StateProgress
		return nil
	})
	require.NoError(t, err)

	code, resp := s.do(t, http.MethodDelete, "/api/v1/query/"+taskID, nil)
	require.Equal(t, http.StatusOK, code)
	cancelled := decode[handler.CancelResponse](t, resp.Data)
	assert.Equal(t, task.StateProgress, cancelled.Status)
	assert.Equal(t, "Task cancellation requested", cancelled.Message)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)

	code, resp := s.do(t, http.MethodGet, "/api/v1/system/health", nil)
	require.Equal(t, http.StatusOK, code)
	health := decode[handler.HealthResponse](t, resp.Data)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "v0.0.0-test", health.Version)
	assert.Equal(t, "healthy", health.Components["index"].Status)
	assert.Equal(t, "healthy", health.Components["cache"].Status)
}

func TestHealth_Degraded(t *testing.T) {
	s := newTestServer(t, func(cfg *handler.Config) {
		cfg.Checks = []handler.HealthCheck{
			{Name: "redis", Check: func(context.Context) error { return nil }},
			{Name: "chat", Check: func(context.Context) error { return errors.New("connection refused") }},
		}
	})

	code, resp := s.do(t, http.MethodGet, "/api/v1/system/health", nil)
	require.Equal(t, http.StatusOK, code)
	health := decode[handler.HealthResponse](t, resp.Data)
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "healthy", health.Components["redis"].Status)
	assert.Equal(t, "error", health.Components["chat"].Status)
	assert.Equal(t, "connection refused", health.Components["chat"].Error)
}

func TestStats(t *testing.T) {
	s := newTestServer(t, func(cfg *handler.Config) {
		cfg.WorkerStats = func() pool.Stats { return pool.Stats{Capacity: 4} }
	})
	s.indexSync(t)

	code, resp := s.do(t, http.MethodGet, "/api/v1/system/stats", nil)
	require.Equal(t, http.StatusOK, code)

	var stats struct {
		Index        biz.IndexStats    `json:"index"`
		Cache        biz.CacheStats    `json:"cache"`
		Tasks        handler.TaskStats `json:"tasks"`
		SystemStatus string            `json:"system_status"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, 1, stats.Index.TotalVectors)
	assert.True(t, stats.Cache.Enabled)
	assert.Equal(t, "memory", stats.Tasks.Broker)
	assert.Equal(t, "memory", stats.Tasks.Backend)
	require.NotNil(t, stats.Tasks.Worker)
	assert.Equal(t, 4, stats.Tasks.Worker.Capacity)
	assert.Equal(t, "healthy", stats.SystemStatus)
}

func TestInfo(t *testing.T) {
	s := newTestServer(t, nil)

	code, resp := s.do(t, http.MethodGet, "/api/v1/system/info", nil)
	require.Equal(t, http.StatusOK, code)

	var info struct {
		API    map[string]string `json:"api"`
		Models map[string]string `json:"models"`
		System map[string]any    `json:"system"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &info))
	assert.Equal(t, "sentinel-rag", info.API["name"])
	assert.Equal(t, "local", info.Models["chat"])
	assert.NotEmpty(t, info.System["go_version"])
}

func TestClearCache(t *testing.T) {
	s := newTestServer(t, nil)
	s.indexSync(t)

	code, _ := s.do(t, http.MethodPost, "/api/v1/query", map[string]any{"question": "What are cats?"})
	require.Equal(t, http.StatusOK, code)

	code, resp := s.do(t, http.MethodPost, "/api/v1/system/cache/clear", nil)
	require.Equal(t, http.StatusOK, code)
	cleared := decode[handler.CacheClearResponse](t, resp.Data)
	assert.Equal(t, 1, cleared.ItemsRemoved)
	assert.Positive(t, cleared.BytesFreed)
	assert.Equal(t, 0, cleared.CurrentItems)
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, nil)

	code, resp := s.do(t, http.MethodGet, "/api/v1/unknown", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, utilerrors.ErrNotFound.Code, resp.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewRAGHandler_RequiresDependencies(t *testing.T) {
	_, err := handler.NewRAGHandler(handler.Config{})
	assert.Error(t, err)
}
