package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
)

// MemoryBackend 精确检索的内存向量后端。
type MemoryBackend struct {
	mu       sync.RWMutex
	metric   string
	distance func(a, b []float32) float64
	entries  []Entry
}

var _ VectorBackend = (*MemoryBackend)(nil)

// NewMemoryBackend 创建内存向量后端。
func NewMemoryBackend(metric string) (*MemoryBackend, error) {
	b := &MemoryBackend{metric: metric}
	switch metric {
	case MetricL2, "":
		b.metric = MetricL2
		b.distance = textutil.SquaredL2Distance
	case MetricCosine:
		b.distance = textutil.CosineDistance
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
	return b, nil
}

// Name 返回后端名称。
func (b *MemoryBackend) Name() string { return "memory" }

// Append 追加条目，向量会被复制。
func (b *MemoryBackend) Append(_ context.Context, entries []Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range entries {
		v := make([]float32, len(e.Vector))
		copy(v, e.Vector)
		b.entries = append(b.entries, Entry{Vector: v, Metadata: e.Metadata})
	}
	return nil
}

// Search 穷举计算距离并取前 k 个。
func (b *MemoryBackend) Search(_ context.Context, vector []float32, k int) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.entries) == 0 || k <= 0 {
		return []Hit{}, nil
	}

	hits := make([]Hit, len(b.entries))
	for i, e := range b.entries {
		hits[i] = Hit{Metadata: e.Metadata, Distance: b.distance(vector, e.Vector)}
	}
	// 稳定排序保证距离相同时保持插入顺序
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })

	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Count 返回条目数。
func (b *MemoryBackend) Count(_ context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries), nil
}

// Clear 清空全部条目。
func (b *MemoryBackend) Clear(_ context.Context) error {
	b.mu.Lock()
	b.entries = nil
	b.mu.Unlock()
	return nil
}

// Close 无操作。
func (b *MemoryBackend) Close(_ context.Context) error { return nil }
