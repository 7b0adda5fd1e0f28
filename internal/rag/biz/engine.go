package biz

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/pkg/llm"
)

// Engine 组合索引、缓存和查询流水线。
//
// Engine 在服务启动时构建一次，通过引用注入到 HTTP 处理器和任务执行器，
// 没有包级全局状态。
type Engine struct {
	source   DocumentSource
	index    *VectorIndex
	cache    *ResultCache
	pipeline *QueryPipeline
}

// EngineConfig 构建 Engine 所需的依赖。
type EngineConfig struct {
	Source       DocumentSource
	Index        *VectorIndex
	Cache        *ResultCache
	Generator    llm.ChatProvider
	SystemPrompt string
	Metrics      *metrics.Metrics
}

// NewEngine 创建 Engine。
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Source == nil || cfg.Index == nil || cfg.Cache == nil || cfg.Generator == nil {
		return nil, fmt.Errorf("engine requires a document source, an index, a cache and a generator")
	}
	return &Engine{
		source:   cfg.Source,
		index:    cfg.Index,
		cache:    cfg.Cache,
		pipeline: NewQueryPipeline(cfg.Cache, cfg.Index, cfg.Generator, cfg.SystemPrompt, cfg.Metrics),
	}, nil
}

// Index 返回向量索引。
func (e *Engine) Index() *VectorIndex { return e.index }

// Cache 返回答案缓存。
func (e *Engine) Cache() *ResultCache { return e.cache }

// ProcessDocuments 加载文档并写入索引。
//
// 进度：10 初始化，30 加载，30→80 按文档推进，90 收尾。clearExisting 为 true 时
// 先清空索引。清空与写入在同一次写锁内完成，并发检索不会看到半成品索引。
// 中途失败或取消时已写入的条目保留，索引保持不一致标记，直到下一次完整重建成功。
func (e *Engine) ProcessDocuments(ctx context.Context, clearExisting bool, p ProgressReporter) (*IndexResult, error) {
	p = reporterOrNop(p)

	if err := p.Report(ctx, 10, "Initializing RAG engine..."); err != nil {
		return nil, err
	}
	if err := p.Report(ctx, 30, "Loading documents..."); err != nil {
		return nil, err
	}
	docs, err := e.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	if len(docs) == 0 {
		logger.Warn("No documents found to process")
		return &IndexResult{Message: "No documents found in the documents directory"}, nil
	}

	logger.Infow("Indexing documents", "documents", len(docs), "clear_existing", clearExisting)
	processed, chunks, err := e.index.Rebuild(ctx, docs, clearExisting, p, func(i int) error {
		pct := 30 + i*50/len(docs)
		return p.Report(ctx, pct, fmt.Sprintf("Processing document %d of %d...", i+1, len(docs)))
	})
	if err != nil {
		return nil, err
	}
	res := &IndexResult{
		DocumentsProcessed: processed,
		ChunksIndexed:      chunks,
		IndexCleared:       clearExisting,
	}

	if err := p.Report(ctx, 90, "Building search index..."); err != nil {
		return nil, err
	}

	res.Message = fmt.Sprintf("Successfully processed %d documents", res.DocumentsProcessed)
	logger.Infow("Document processing complete", "documents", res.DocumentsProcessed, "chunks", res.ChunksIndexed)
	return res, nil
}

// ClearIndex 清空向量索引。
func (e *Engine) ClearIndex(ctx context.Context, p ProgressReporter) (*ClearResult, error) {
	p = reporterOrNop(p)
	if err := p.Report(ctx, 50, "Clearing search index..."); err != nil {
		return nil, err
	}
	n, err := e.index.ClearIndex(ctx)
	if err != nil {
		return nil, err
	}
	logger.Infow("Search index cleared", "vectors_removed", n)
	return &ClearResult{VectorsRemoved: n, Message: "Search index cleared successfully"}, nil
}

// Query 回答单个问题。进度：10 初始化，30 检索，60 生成，90 收尾。
func (e *Engine) Query(ctx context.Context, question string, p ProgressReporter) (*QueryResult, error) {
	p = reporterOrNop(p)
	if err := p.Report(ctx, 10, "Initializing RAG engine..."); err != nil {
		return nil, err
	}
	res, err := e.pipeline.Query(ctx, question, p)
	if err != nil {
		return nil, err
	}
	if err := p.Report(ctx, 90, "Finalizing response..."); err != nil {
		return nil, err
	}
	return res, nil
}

// BatchQuery 依次回答多个问题。处理第 i 个问题前上报 i/total*90，
// 全部完成后上报 95；任一问题失败则整个批次失败。
func (e *Engine) BatchQuery(ctx context.Context, questions []string, p ProgressReporter) (*BatchResult, error) {
	p = reporterOrNop(p)
	total := len(questions)
	res := &BatchResult{TotalQuestions: total, Results: make([]*QueryResult, 0, total)}

	for i, q := range questions {
		if err := p.Report(ctx, i*90/total, fmt.Sprintf("Processing question %d of %d...", i+1, total)); err != nil {
			return nil, err
		}
		// 批次内部的单个查询不再上报阶段进度，避免进度回退
		r, err := e.pipeline.Query(ctx, q, NopReporter)
		if err != nil {
			return nil, fmt.Errorf("question %d: %w", i+1, err)
		}
		res.Results = append(res.Results, r)
	}

	if err := p.Report(ctx, 95, "Finalizing batch results..."); err != nil {
		return nil, err
	}
	return res, nil
}

// DocumentStats 统计文档目录，分块数按当前分块参数估算。
func (e *Engine) DocumentStats(ctx context.Context) (*DocumentStats, error) {
	docs, err := e.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	c := e.index.Chunker()
	stats := &DocumentStats{
		TotalDocuments: len(docs),
		ChunkSize:      c.Size,
		ChunkOverlap:   c.Overlap,
	}
	for _, d := range docs {
		stats.TotalCharacters += len([]rune(d.Content))
		stats.EstimatedChunks += len(c.Split(d.Content))
	}
	return stats, nil
}

// SystemStats 汇总文档、索引和缓存统计。
func (e *Engine) SystemStats(ctx context.Context) (*SystemStats, error) {
	docs, err := e.DocumentStats(ctx)
	if err != nil {
		return nil, err
	}
	idx, err := e.index.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &SystemStats{
		Documents:    docs,
		Index:        idx,
		Cache:        e.cache.Stats(ctx),
		SystemStatus: "healthy",
	}, nil
}

// ClearCache 清空答案缓存。
func (e *Engine) ClearCache(ctx context.Context) int {
	return e.cache.Clear(ctx)
}

// Close 释放索引后端。
func (e *Engine) Close(ctx context.Context) error {
	return e.index.Close(ctx)
}
