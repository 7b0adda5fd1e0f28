// Package ragsvc provides the RAG Service server implementation.
package ragsvc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	"golang.org/x/sync/errgroup"

	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/internal/rag/handler"
	"github.com/kart-io/sentinel-rag/internal/rag/loader"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/router"
	"github.com/kart-io/sentinel-rag/internal/rag/task"
	"github.com/kart-io/sentinel-rag/pkg/infra/app"
	"github.com/kart-io/sentinel-rag/pkg/infra/middleware"
	"github.com/kart-io/sentinel-rag/pkg/infra/pool"
	"github.com/kart-io/sentinel-rag/pkg/infra/tracing"
	// 导入 LLM 供应商以自动注册
	_ "github.com/kart-io/sentinel-rag/pkg/llm/local"
	_ "github.com/kart-io/sentinel-rag/pkg/llm/ollama"
	cacheopts "github.com/kart-io/sentinel-rag/pkg/options/cache"
	httpopts "github.com/kart-io/sentinel-rag/pkg/options/http"
	llmopts "github.com/kart-io/sentinel-rag/pkg/options/llm"
	logopts "github.com/kart-io/sentinel-rag/pkg/options/logger"
	milvusopts "github.com/kart-io/sentinel-rag/pkg/options/milvus"
	ragopts "github.com/kart-io/sentinel-rag/pkg/options/rag"
	redisopts "github.com/kart-io/sentinel-rag/pkg/options/redis"
	sqlopts "github.com/kart-io/sentinel-rag/pkg/options/sql"
	taskopts "github.com/kart-io/sentinel-rag/pkg/options/task"
	tracingopts "github.com/kart-io/sentinel-rag/pkg/options/tracing"
)

// Name is the name of the application.
const Name = "sentinel-rag"

// Process modes.
const (
	ModeAll    = "all"
	ModeAPI    = "api"
	ModeWorker = "worker"
)

// Config contains application-related configurations.
type Config struct {
	Mode             string
	HTTPOptions      *httpopts.Options
	LogOptions       *logopts.Options
	TracingOptions   *tracingopts.Options
	RedisOptions     *redisopts.Options
	MilvusOptions    *milvusopts.Options
	SQLOptions       *sqlopts.Options
	EmbeddingOptions *llmopts.ProviderOptions
	ChatOptions      *llmopts.ProviderOptions
	RAGOptions       *ragopts.Options
	CacheOptions     *cacheopts.Options
	TaskOptions      *taskopts.Options
}

// Server represents the RAG server.
type Server struct {
	mode            string
	engine          *biz.Engine
	orchestrator    *task.Orchestrator
	worker          *task.Worker
	watcher         *loader.Watcher
	httpServer      *http.Server
	shutdownTimeout time.Duration
	closers         []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// NewServer initializes and returns a new Server instance.
// Resources opened before a failure are released before returning.
func (cfg *Config) NewServer(ctx context.Context) (_ *Server, err error) {
	printBanner(cfg)

	// 1. 初始化日志
	if err := cfg.LogOptions.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetGlobal(logger.Global().With("service.name", Name, "service.version", app.VersionInfo().GitVersion))
	logger.Infow("Starting RAG service...", "mode", cfg.Mode)

	s := &Server{mode: cfg.Mode, shutdownTimeout: cfg.HTTPOptions.ShutdownTimeout}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	// 2. 初始化链路追踪
	tp, err := tracing.NewProvider(ctx, cfg.TracingOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.addCloser("tracing", tp.Shutdown)

	m := metrics.New()

	// 3. 初始化基础设施
	deps, err := cfg.buildDependencies(ctx, s)
	if err != nil {
		return nil, err
	}

	// 4. 初始化 Biz 层
	if s.engine, err = cfg.buildEngine(ctx, deps, m); err != nil {
		return nil, err
	}
	s.addCloser("index", s.engine.Close)

	// 5. 初始化任务编排
	backend, broker, err := cfg.buildTaskStores(ctx, deps)
	if err != nil {
		return nil, err
	}
	s.addCloser("task backend", func(context.Context) error { return backend.Close() })
	s.addCloser("task broker", func(context.Context) error { return broker.Close() })
	s.orchestrator = task.NewOrchestrator(backend, broker)

	if cfg.Mode != ModeAPI {
		s.worker, err = task.NewWorker(task.WorkerConfig{
			Concurrency:     cfg.TaskOptions.Concurrency,
			Timeout:         cfg.TaskOptions.Timeout,
			TimeoutGrace:    cfg.TaskOptions.TimeoutGrace,
			PollInterval:    cfg.TaskOptions.PollInterval,
			ShutdownTimeout: cfg.HTTPOptions.ShutdownTimeout,
		}, s.engine, backend, broker, m)
		if err != nil {
			return nil, fmt.Errorf("failed to create task worker: %w", err)
		}
	}

	if cfg.RAGOptions.Watch && cfg.Mode != ModeWorker {
		s.watcher = loader.NewWatcher(deps.loader, cfg.RAGOptions.WatchDebounce, func(ctx context.Context) error {
			taskID, err := s.orchestrator.Submit(ctx, task.JobSpec{Kind: task.KindIndexBuild, ClearExisting: true})
			if err != nil {
				return err
			}
			logger.Infow("Index rebuild submitted after document change", "task_id", taskID)
			return nil
		})
	}

	// 6. 初始化 HTTP 服务
	if cfg.Mode != ModeWorker {
		h, err := handler.NewRAGHandler(handler.Config{
			Engine:            s.engine,
			Orchestrator:      s.orchestrator,
			WorkerStats:       s.workerStats(),
			QueryTimeout:      cfg.RAGOptions.QueryTimeout,
			MaxBatchQuestions: cfg.RAGOptions.MaxBatchQuestions,
			Checks:            deps.checks,
			Info:              cfg.serviceInfo(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create handler: %w", err)
		}

		gin.SetMode(cfg.HTTPOptions.Mode)
		engine := gin.New()
		engine.Use(middleware.RequestID(), middleware.Logger("/metrics"), middleware.Recovery())
		router.Register(engine, h, m.Handler())

		s.httpServer = &http.Server{
			Addr:         cfg.HTTPOptions.Addr,
			Handler:      engine,
			ReadTimeout:  cfg.HTTPOptions.ReadTimeout,
			WriteTimeout: cfg.HTTPOptions.WriteTimeout,
			IdleTimeout:  cfg.HTTPOptions.IdleTimeout,
		}
	}

	logger.Info("RAG service is ready")
	return s, nil
}

func (s *Server) workerStats() func() pool.Stats {
	if s.worker == nil {
		return nil
	}
	return s.worker.Stats
}

func (s *Server) addCloser(name string, fn func(ctx context.Context) error) {
	s.closers = append(s.closers, closer{name: name, fn: fn})
}

// Run starts the enabled parts and blocks until ctx is cancelled or one of
// them fails.
func (s *Server) Run(ctx context.Context) error {
	defer s.close()

	g, gctx := errgroup.WithContext(ctx)

	if s.worker != nil {
		g.Go(func() error { return s.worker.Run(gctx) })
	}
	if s.watcher != nil {
		g.Go(func() error { return s.watcher.Run(gctx) })
	}
	if s.httpServer != nil {
		g.Go(func() error {
			logger.Infow("HTTP server listening", "addr", s.httpServer.Addr)
			if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), s.shutdownTimeout)
			defer cancel()
			logger.Info("Shutting down HTTP server...")
			return s.httpServer.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	logger.Infow("RAG service stopped", "mode", s.mode)
	return err
}

// close releases resources in reverse order of creation.
func (s *Server) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(s.closers) - 1; i >= 0; i-- {
		c := s.closers[i]
		if err := c.fn(ctx); err != nil {
			logger.Warnw("Failed to close resource", "resource", c.name, "error", err.Error())
		}
	}
	s.closers = nil
}

func (cfg *Config) serviceInfo() handler.ServiceInfo {
	return handler.ServiceInfo{
		Name:    Name,
		Version: app.VersionInfo().GitVersion,
		Models: map[string]string{
			"embedding_provider": cfg.EmbeddingOptions.Provider,
			"embedding_model":    cfg.EmbeddingOptions.Model,
			"chat_provider":      cfg.ChatOptions.Provider,
			"chat_model":         cfg.ChatOptions.Model,
		},
		Configuration: map[string]any{
			"mode":                cfg.Mode,
			"chunk_size":          cfg.RAGOptions.ChunkSize,
			"chunk_overlap":       cfg.RAGOptions.ChunkOverlap,
			"top_k":               cfg.RAGOptions.TopK,
			"embedding_dim":       cfg.RAGOptions.EmbeddingDim,
			"metric":              cfg.RAGOptions.Metric,
			"index_backend":       cfg.RAGOptions.IndexBackend,
			"documents_dir":       cfg.RAGOptions.DocumentsDir,
			"max_batch_questions": cfg.RAGOptions.MaxBatchQuestions,
			"cache_enabled":       cfg.CacheOptions.Enabled,
			"cache_backend":       cfg.CacheOptions.Backend,
			"cache_ttl_hours":     cfg.CacheOptions.TTL.Hours(),
			"task_broker":         cfg.TaskOptions.Broker,
			"task_backend":        cfg.TaskOptions.Backend,
			"task_concurrency":    cfg.TaskOptions.Concurrency,
			"task_timeout":        cfg.TaskOptions.Timeout.String(),
		},
	}
}

func printBanner(cfg *Config) {
	fmt.Printf("Starting %s (mode: %s)...\n", Name, cfg.Mode)
	fmt.Printf("  Embedding: %s (%s)\n", cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.Model)
	fmt.Printf("  Chat: %s (%s)\n", cfg.ChatOptions.Provider, cfg.ChatOptions.Model)
	fmt.Printf("  Index: %s, Cache: %s, Tasks: %s/%s\n",
		cfg.RAGOptions.IndexBackend, cfg.CacheOptions.Backend, cfg.TaskOptions.Broker, cfg.TaskOptions.Backend)
}
