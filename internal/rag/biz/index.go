package biz

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/infra/tracing"
	"github.com/kart-io/sentinel-rag/pkg/llm"
)

// IndexConfig 向量索引配置。
type IndexConfig struct {
	Dimension    int
	Metric       string
	ChunkSize    int
	ChunkOverlap int
	TopK         int
}

// SearchHit 检索结果。
type SearchHit = store.Hit

// VectorIndex 保存分块向量并按距离检索。
//
// 写操作持有写锁，检索持有读锁。Rebuild 在整个清空与重新写入期间持有写锁，
// 因此检索看到的要么是重建前的索引，要么是重建完成（或失败中止）后的索引。
type VectorIndex struct {
	mu       sync.RWMutex
	backend  store.VectorBackend
	embedder llm.EmbeddingProvider
	chunker  *Chunker
	cfg      IndexConfig
	metrics  *metrics.Metrics

	consistent atomic.Bool
	// lastCount 最近一次在锁内观察到的条目数，重建期间供 Stats 使用。
	lastCount atomic.Int64
}

// NewVectorIndex 创建向量索引。
func NewVectorIndex(backend store.VectorBackend, embedder llm.EmbeddingProvider, cfg IndexConfig, m *metrics.Metrics) (*VectorIndex, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("index dimension must be positive, got %d", cfg.Dimension)
	}
	if cfg.Metric == "" {
		cfg.Metric = store.MetricL2
	}
	if !store.ValidMetric(cfg.Metric) {
		return nil, fmt.Errorf("%w: %q", store.ErrUnknownMetric, cfg.Metric)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}

	idx := &VectorIndex{
		backend:  backend,
		embedder: embedder,
		chunker:  NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:      cfg,
		metrics:  m,
	}
	idx.consistent.Store(true)
	return idx, nil
}

// Chunker 返回索引使用的分块器。
func (x *VectorIndex) Chunker() *Chunker { return x.chunker }

// TopK 返回默认检索数量。
func (x *VectorIndex) TopK() int { return x.cfg.TopK }

// AddDocuments 依次索引文档。不是事务性的：失败前已写入的文档保留在索引中。
func (x *VectorIndex) AddDocuments(ctx context.Context, docs []Document) (int, error) {
	total := 0
	for _, doc := range docs {
		n, err := x.AddDocument(ctx, doc)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// AddDocument 切分、批量嵌入并追加一个文档，返回写入的分块数。
// 任一向量维度不符时返回 ErrInvalidDimension，该文档不写入任何条目。
func (x *VectorIndex) AddDocument(ctx context.Context, doc Document) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "VectorIndex.AddDocuments",
		attribute.String("document.id", doc.ID),
		attribute.String("document.filename", doc.Filename),
	)
	defer span.End()

	entries, err := x.prepare(ctx, doc)
	if err != nil || len(entries) == 0 {
		return 0, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	return x.appendLocked(ctx, doc, entries)
}

// Rebuild 在一次写锁内完成可选的清空和逐个文档写入。
//
// before 在处理第 i 个文档前调用，返回错误时停止；p.Checkpoint 在每个文档嵌入
// 完成、写入之前调用。中途失败时已写入的文档保留，索引保持不一致标记。
func (x *VectorIndex) Rebuild(ctx context.Context, docs []Document, clearExisting bool, p ProgressReporter, before func(i int) error) (documents, chunks int, err error) {
	p = reporterOrNop(p)
	ctx, span := tracing.StartSpan(ctx, "VectorIndex.Rebuild",
		attribute.Int("documents", len(docs)),
		attribute.Bool("clear_existing", clearExisting),
	)
	defer span.End()

	x.mu.Lock()
	defer x.mu.Unlock()

	x.consistent.Store(false)
	if clearExisting {
		if err := x.backend.Clear(ctx); err != nil {
			tracing.RecordError(ctx, err)
			return 0, 0, fmt.Errorf("clear index: %w", err)
		}
		x.lastCount.Store(0)
	} else if n, err := x.backend.Count(ctx); err == nil {
		x.lastCount.Store(int64(n))
	}

	for i, doc := range docs {
		if before != nil {
			if err := before(i); err != nil {
				return documents, chunks, err
			}
		}
		entries, err := x.prepare(ctx, doc)
		if err != nil {
			return documents, chunks, err
		}
		if err := p.Checkpoint(ctx); err != nil {
			return documents, chunks, err
		}
		n, err := x.appendLocked(ctx, doc, entries)
		if err != nil {
			return documents, chunks, err
		}
		documents++
		chunks += n
	}

	x.consistent.Store(true)
	span.SetAttributes(attribute.Int("chunks", chunks))
	return documents, chunks, nil
}

// prepare 切分并嵌入文档，校验维度后返回待写入的条目。
func (x *VectorIndex) prepare(ctx context.Context, doc Document) ([]store.Entry, error) {
	chunks := x.chunker.ChunkDocument(doc)
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	vectors, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("embed document %s: %w", doc.Filename, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embed document %s: got %d vectors for %d chunks", doc.Filename, len(vectors), len(chunks))
	}

	entries := make([]store.Entry, len(chunks))
	for i, ch := range chunks {
		if len(vectors[i]) != x.cfg.Dimension {
			err := fmt.Errorf("%w: chunk %d of %s has %d, want %d",
				ErrInvalidDimension, ch.Index, doc.Filename, len(vectors[i]), x.cfg.Dimension)
			tracing.RecordError(ctx, err)
			return nil, err
		}
		entries[i] = store.Entry{
			Vector: vectors[i],
			Metadata: store.Metadata{
				Content:    ch.Text,
				DocumentID: doc.ID,
				Filename:   doc.Filename,
				ChunkIndex: ch.Index,
			},
		}
	}
	return entries, nil
}

// appendLocked 写入条目，调用方持有写锁。
func (x *VectorIndex) appendLocked(ctx context.Context, doc Document, entries []store.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	if err := x.backend.Append(ctx, entries); err != nil {
		tracing.RecordError(ctx, err)
		return 0, fmt.Errorf("append document %s: %w", doc.Filename, err)
	}
	x.lastCount.Add(int64(len(entries)))

	x.metrics.RecordIndexed(1, len(entries))
	logger.Debugw("Document indexed", "document_id", doc.ID, "filename", doc.Filename, "chunks", len(entries))
	return len(entries), nil
}

// Search 返回与 query 距离最小的 k 个分块，按距离升序。
// k <= 0 时使用配置的默认值；空索引返回空切片。
func (x *VectorIndex) Search(ctx context.Context, query string, k int) ([]SearchHit, error) {
	if k <= 0 {
		k = x.cfg.TopK
	}

	start := time.Now()
	defer func() { x.metrics.RecordRetrieval(time.Since(start)) }()

	x.mu.RLock()
	defer x.mu.RUnlock()

	n, err := x.backend.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count index entries: %w", err)
	}
	x.lastCount.Store(int64(n))
	if n == 0 {
		return []SearchHit{}, nil
	}

	vec, err := x.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vec) != x.cfg.Dimension {
		return nil, fmt.Errorf("%w: query has %d, want %d", ErrInvalidDimension, len(vec), x.cfg.Dimension)
	}
	return x.backend.Search(ctx, vec, k)
}

// ClearIndex 删除全部条目，可重复调用。清空后的索引视为一致。
func (x *VectorIndex) ClearIndex(ctx context.Context) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	n, err := x.backend.Count(ctx)
	if err != nil {
		return 0, err
	}
	if err := x.backend.Clear(ctx); err != nil {
		return 0, fmt.Errorf("clear index: %w", err)
	}
	x.consistent.Store(true)
	x.lastCount.Store(0)
	return n, nil
}

// Stats 返回索引统计。重建持有写锁期间不等待，返回最近一次观察到的条目数。
func (x *VectorIndex) Stats(ctx context.Context) (IndexStats, error) {
	n := int(x.lastCount.Load())
	if x.mu.TryRLock() {
		count, err := x.backend.Count(ctx)
		x.mu.RUnlock()
		if err != nil {
			return IndexStats{}, err
		}
		n = count
		x.lastCount.Store(int64(n))
	}
	return IndexStats{
		TotalVectors: n,
		Dimension:    x.cfg.Dimension,
		TopK:         x.cfg.TopK,
		Metric:       x.cfg.Metric,
		Backend:      x.backend.Name(),
		Consistent:   x.consistent.Load(),
	}, nil
}

// Close 关闭后端。
func (x *VectorIndex) Close(ctx context.Context) error {
	return x.backend.Close(ctx)
}
