package biz

import (
	"context"
	"errors"
	"time"

	"github.com/kart-io/sentinel-rag/internal/rag/store"
)

var (
	// ErrInvalidDimension 嵌入向量维度与索引维度不一致。
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrEmptyQuestion 问题为空。
	ErrEmptyQuestion = errors.New("question is empty")
)

// Document 由加载器提供的原始文档，加载后不可变。
type Document struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Path     string `json:"path,omitempty"`
	Content  string `json:"-"`
}

// DocumentSource 提供待索引的有序文档列表。
type DocumentSource interface {
	Load(ctx context.Context) ([]Document, error)
}

// DocumentSourceFunc 函数形式的 DocumentSource。
type DocumentSourceFunc func(ctx context.Context) ([]Document, error)

// Load 调用 f。
func (f DocumentSourceFunc) Load(ctx context.Context) ([]Document, error) { return f(ctx) }

// ProgressReporter 长任务的进度上报端口。
//
// 业务逻辑在每个阶段开始前调用 Report；返回非 nil 错误表示任务应当停止
// （例如已被取消），调用方必须原样返回该错误。Checkpoint 只做取消检查，
// 用在写入索引或缓存之前这类不更新进度的位置。
type ProgressReporter interface {
	Report(ctx context.Context, percent int, message string) error
	Checkpoint(ctx context.Context) error
}

type nopReporter struct{}

func (nopReporter) Report(ctx context.Context, _ int, _ string) error { return ctx.Err() }

func (nopReporter) Checkpoint(ctx context.Context) error { return ctx.Err() }

// NopReporter 只检查 ctx 的进度上报器，用于同步调用。
var NopReporter ProgressReporter = nopReporter{}

func reporterOrNop(p ProgressReporter) ProgressReporter {
	if p == nil {
		return NopReporter
	}
	return p
}

// Answer sources.
const (
	SourceCache     = "cache"
	SourceGenerated = "generated"
)

// SourceRef 生成答案时使用的分块。
type SourceRef struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	Distance   float64 `json:"distance"`
}

// QueryResult 单个问题的查询结果。
type QueryResult struct {
	Question        string        `json:"question"`
	Answer          string        `json:"answer"`
	Source          string        `json:"source"`
	ProcessingTime  time.Duration `json:"processing_time"`
	RetrievedChunks int           `json:"retrieved_chunks"`
	ContextUsed     bool          `json:"context_used"`
	Sources         []SourceRef   `json:"sources,omitempty"`
}

// BatchResult 批量查询结果，Results 与输入问题顺序一致。
type BatchResult struct {
	TotalQuestions int            `json:"total_questions"`
	Results        []*QueryResult `json:"results"`
}

// IndexResult 文档索引结果。
type IndexResult struct {
	DocumentsProcessed int    `json:"documents_processed"`
	ChunksIndexed      int    `json:"chunks_indexed"`
	IndexCleared       bool   `json:"index_cleared"`
	Message            string `json:"message"`
}

// ClearResult 清空索引结果。
type ClearResult struct {
	VectorsRemoved int    `json:"vectors_removed"`
	Message        string `json:"message"`
}

// IndexStats 索引统计。
type IndexStats struct {
	TotalVectors int    `json:"total_vectors"`
	Dimension    int    `json:"dimension"`
	TopK         int    `json:"top_k"`
	Metric       string `json:"metric"`
	Backend      string `json:"backend"`
	Consistent   bool   `json:"consistent"`
}

// CacheStats 缓存统计。
type CacheStats struct {
	Enabled        bool    `json:"enabled"`
	TotalItems     int     `json:"total_items"`
	TotalSizeBytes int64   `json:"total_size_bytes"`
	MaxSizeBytes   int64   `json:"max_size_bytes"`
	MaxItems       int     `json:"max_items"`
	TTLHours       float64 `json:"ttl_hours"`
	Backend        string  `json:"backend"`
}

// DocumentStats 文档目录统计。
type DocumentStats struct {
	TotalDocuments  int `json:"total_documents"`
	TotalCharacters int `json:"total_characters"`
	EstimatedChunks int `json:"estimated_chunks"`
	ChunkSize       int `json:"chunk_size"`
	ChunkOverlap    int `json:"chunk_overlap"`
}

// SystemStats 系统整体统计。
type SystemStats struct {
	Documents    *DocumentStats `json:"documents"`
	Index        IndexStats     `json:"index"`
	Cache        CacheStats     `json:"cache"`
	SystemStatus string         `json:"system_status"`
}

// hitToSource converts a search hit into a source reference.
func hitToSource(h store.Hit) SourceRef {
	return SourceRef{
		DocumentID: h.DocumentID,
		Filename:   h.Filename,
		ChunkIndex: h.ChunkIndex,
		Distance:   h.Distance,
	}
}
