package biz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/pkg/infra/tracing"
	"github.com/kart-io/sentinel-rag/pkg/llm"
)

// BuildPrompt 组装生成提示词，没有上下文时只包含问题。
func BuildPrompt(question string, contexts []string) string {
	if len(contexts) == 0 {
		return fmt.Sprintf("Question: %s\nAnswer:", question)
	}
	return fmt.Sprintf("Context: %s\n\nQuestion: %s\nAnswer:", strings.Join(contexts, "\n"), question)
}

// QueryPipeline 缓存 → 检索 → 生成 → 写缓存。
type QueryPipeline struct {
	cache        *ResultCache
	index        *VectorIndex
	generator    llm.ChatProvider
	systemPrompt string
	metrics      *metrics.Metrics
}

// NewQueryPipeline 创建查询流水线。
func NewQueryPipeline(cache *ResultCache, index *VectorIndex, generator llm.ChatProvider, systemPrompt string, m *metrics.Metrics) *QueryPipeline {
	return &QueryPipeline{
		cache:        cache,
		index:        index,
		generator:    generator,
		systemPrompt: systemPrompt,
		metrics:      m,
	}
}

// Query 回答一个问题。p 在检索和生成之前收到进度，返回错误时查询中止；
// 生成完成后再做一次取消检查，被取消的查询不写入缓存。
func (q *QueryPipeline) Query(ctx context.Context, question string, p ProgressReporter) (result *QueryResult, err error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	p = reporterOrNop(p)

	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "QueryPipeline.Query", attribute.Int("question.length", len(question)))
	defer func() {
		source := ""
		if result != nil {
			source = result.Source
			span.SetAttributes(attribute.String("source", source))
		}
		if err != nil {
			tracing.RecordError(ctx, err)
		}
		q.metrics.RecordQuery(source, time.Since(start), err)
		span.End()
	}()

	if answer, ok := q.cache.Get(ctx, question); ok {
		logger.Debugw("Answer served from cache", "question", question)
		return &QueryResult{
			Question:       question,
			Answer:         answer,
			Source:         SourceCache,
			ProcessingTime: time.Since(start),
		}, nil
	}

	if err := p.Report(ctx, 30, "Searching for relevant documents..."); err != nil {
		return nil, err
	}
	hits, err := q.index.Search(ctx, question, q.index.TopK())
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}

	contexts := make([]string, len(hits))
	sources := make([]SourceRef, len(hits))
	for i, h := range hits {
		contexts[i] = h.Content
		sources[i] = hitToSource(h)
	}
	prompt := BuildPrompt(question, contexts)

	if err := p.Report(ctx, 60, "Generating response..."); err != nil {
		return nil, err
	}
	genStart := time.Now()
	answer, err := q.generator.Generate(ctx, prompt, q.systemPrompt)
	q.metrics.RecordGeneration(time.Since(genStart))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	if err := p.Checkpoint(ctx); err != nil {
		return nil, err
	}

	q.cache.Put(ctx, question, answer)

	result = &QueryResult{
		Question:        question,
		Answer:          answer,
		Source:          SourceGenerated,
		ProcessingTime:  time.Since(start),
		RetrievedChunks: len(hits),
		ContextUsed:     len(contexts) > 0,
		Sources:         sources,
	}
	logger.Infow("Query answered",
		"retrieved_chunks", result.RetrievedChunks,
		"context_used", result.ContextUsed,
		"duration", result.ProcessingTime.String(),
	)
	return result, nil
}
