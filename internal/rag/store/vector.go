package store

import (
	"context"
	"errors"
)

// Metric names.
const (
	MetricL2     = "l2"
	MetricCosine = "cosine"
)

// ErrUnknownMetric 不支持的距离度量。
var ErrUnknownMetric = errors.New("unknown distance metric")

// Metadata 向量条目的元数据。
type Metadata struct {
	Content    string `json:"content"`
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunk_index"`
}

// Entry 一个向量及其元数据，二者一一对应。
type Entry struct {
	Vector   []float32
	Metadata Metadata
}

// Hit 检索命中，Distance 越小越相似。
type Hit struct {
	Metadata
	Distance float64 `json:"distance"`
}

// VectorBackend 定义向量存储后端。
//
// Append 按顺序追加条目；Search 返回按距离升序排列的前 k 个结果，
// 距离相同时按插入顺序排列；空索引返回空切片。
type VectorBackend interface {
	Name() string
	Append(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Close(ctx context.Context) error
}

// ValidMetric reports whether metric is supported.
func ValidMetric(metric string) bool {
	return metric == MetricL2 || metric == MetricCosine
}
