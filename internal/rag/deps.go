package ragsvc

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/internal/rag/handler"
	"github.com/kart-io/sentinel-rag/internal/rag/loader"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/internal/rag/task"
	"github.com/kart-io/sentinel-rag/pkg/component/milvus"
	"github.com/kart-io/sentinel-rag/pkg/component/redis"
	sqlcomp "github.com/kart-io/sentinel-rag/pkg/component/sql"
	"github.com/kart-io/sentinel-rag/pkg/llm"
)

// memoryQueueSize is the buffer of the in-process broker.
const memoryQueueSize = 1024

// dependencies holds the infrastructure clients shared by the engine and
// the task subsystem.
type dependencies struct {
	redis  *goredis.Client
	milvus *milvus.Client
	sql    *sqlcomp.Client
	loader *loader.DirectoryLoader
	checks []handler.HealthCheck
}

func (cfg *Config) needsRedis() bool {
	return (cfg.CacheOptions.Enabled && cfg.CacheOptions.Backend == "redis") ||
		cfg.TaskOptions.Broker == "redis" ||
		cfg.TaskOptions.Backend == "redis"
}

// buildDependencies connects to the external systems the configuration asks for.
func (cfg *Config) buildDependencies(ctx context.Context, s *Server) (*dependencies, error) {
	deps := &dependencies{
		loader: loader.NewDirectoryLoader(cfg.RAGOptions.DocumentsDir, cfg.RAGOptions.Extensions),
	}

	if cfg.needsRedis() {
		client, err := redis.NewWithContext(ctx, cfg.RedisOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		s.addCloser("redis", func(context.Context) error { return client.Close() })
		deps.redis = client.Client()
		deps.checks = append(deps.checks, handler.HealthCheck{Name: "redis", Check: client.Ping})
		logger.Infow("Redis client initialized", "addr", cfg.RedisOptions.Addr())
	}

	if cfg.RAGOptions.IndexBackend == "milvus" {
		client, err := milvus.New(ctx, cfg.MilvusOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize milvus: %w", err)
		}
		s.addCloser("milvus", client.Close)
		deps.milvus = client
		logger.Infow("Milvus client initialized", "address", cfg.MilvusOptions.Address)
	}

	if cfg.TaskOptions.Backend == "sql" {
		client, err := sqlcomp.New(ctx, cfg.SQLOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sql database: %w", err)
		}
		s.addCloser("sql", func(context.Context) error { return client.Close() })
		deps.sql = client
		deps.checks = append(deps.checks, handler.HealthCheck{Name: "sql", Check: client.Ping})
		logger.Infow("SQL database initialized", "driver", client.Name())
	}

	return deps, nil
}

// buildEngine creates the providers, the index and the cache, and wires
// them into an Engine.
func (cfg *Config) buildEngine(ctx context.Context, deps *dependencies, m *metrics.Metrics) (*biz.Engine, error) {
	rawEmbedder, err := llm.NewEmbeddingProvider(cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	embedder := llm.NewCachedEmbeddingProvider(rawEmbedder, deps.redis, &llm.EmbeddingCacheConfig{
		Size:      llm.DefaultEmbeddingCacheSize,
		TTL:       cfg.CacheOptions.TTL,
		KeyPrefix: cfg.CacheOptions.KeyPrefix + "emb:",
	})
	logger.Infow("Embedding provider initialized",
		"provider", cfg.EmbeddingOptions.Provider,
		"model", cfg.EmbeddingOptions.Model,
	)

	generator, err := llm.NewChatProvider(cfg.ChatOptions.Provider, cfg.ChatOptions.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat provider: %w", err)
	}
	logger.Infow("Chat provider initialized",
		"provider", cfg.ChatOptions.Provider,
		"model", cfg.ChatOptions.Model,
	)

	deps.checks = append(deps.checks, handler.HealthCheck{Name: "embedding", Check: embedder.Ping})
	if p, ok := generator.(llm.Pinger); ok {
		deps.checks = append(deps.checks, handler.HealthCheck{Name: "chat", Check: p.Ping})
	}

	var backend store.VectorBackend
	switch cfg.RAGOptions.IndexBackend {
	case "milvus":
		backend, err = store.NewMilvusBackend(ctx, deps.milvus, cfg.RAGOptions.Collection, cfg.RAGOptions.EmbeddingDim, cfg.RAGOptions.Metric)
	default:
		backend, err = store.NewMemoryBackend(cfg.RAGOptions.Metric)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector backend: %w", err)
	}

	index, err := biz.NewVectorIndex(backend, embedder, biz.IndexConfig{
		Dimension:    cfg.RAGOptions.EmbeddingDim,
		Metric:       cfg.RAGOptions.Metric,
		ChunkSize:    cfg.RAGOptions.ChunkSize,
		ChunkOverlap: cfg.RAGOptions.ChunkOverlap,
		TopK:         cfg.RAGOptions.TopK,
	}, m)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	logger.Infow("Vector index initialized", "backend", backend.Name(), "dimension", cfg.RAGOptions.EmbeddingDim)

	var cacheStore store.CacheStore = store.NewMemoryCacheStore()
	if cfg.CacheOptions.Enabled && cfg.CacheOptions.Backend == "redis" {
		cacheStore = store.NewRedisCacheStore(deps.redis, cfg.CacheOptions.KeyPrefix+"entries")
	}
	cache := biz.NewResultCache(biz.CacheConfig{
		Enabled:      cfg.CacheOptions.Enabled,
		TTL:          cfg.CacheOptions.TTL,
		MaxSizeBytes: cfg.CacheOptions.MaxSizeBytes,
		MaxItems:     cfg.CacheOptions.MaxItems,
		MaxItemBytes: cfg.CacheOptions.MaxItemBytes,
		KeyPrefix:    cfg.CacheOptions.KeyPrefix,
	}, cacheStore, biz.WithCacheMetrics(m))
	if err := cache.Restore(ctx); err != nil {
		logger.Warnw("Failed to restore answer cache, starting empty", "backend", cacheStore.Name(), "error", err.Error())
	}

	return biz.NewEngine(biz.EngineConfig{
		Source:       deps.loader,
		Index:        index,
		Cache:        cache,
		Generator:    generator,
		SystemPrompt: cfg.RAGOptions.SystemPrompt,
		Metrics:      m,
	})
}

// buildTaskStores creates the task state backend and the broker.
func (cfg *Config) buildTaskStores(ctx context.Context, deps *dependencies) (task.StateBackend, task.Broker, error) {
	opts := cfg.TaskOptions

	var backend task.StateBackend
	switch opts.Backend {
	case "redis":
		backend = task.NewRedisBackend(deps.redis, opts.KeyPrefix, opts.ResultExpiry)
	case "sql":
		b, err := task.NewSQLBackend(ctx, deps.sql.DB(), opts.ResultExpiry)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize sql task backend: %w", err)
		}
		backend = b
	default:
		backend = task.NewMemoryBackend(opts.ResultExpiry)
	}

	var broker task.Broker
	switch opts.Broker {
	case "redis":
		broker = task.NewRedisBroker(deps.redis, opts.KeyPrefix, opts.Queue, opts.WorkerID)
	default:
		broker = task.NewMemoryBroker(memoryQueueSize)
	}

	logger.Infow("Task orchestration initialized", "broker", broker.Name(), "backend", backend.Name())
	return backend, broker, nil
}
