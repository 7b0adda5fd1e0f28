package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/kart-io/sentinel-rag/pkg/component/milvus"
)

// MilvusBackend 基于 Milvus 集合的向量后端。
//
// 集合使用 FLAT 索引做精确检索；seq 字段记录插入顺序，用于距离相同时的排序。
type MilvusBackend struct {
	client     *milvus.Client
	collection string
	dim        int
	metric     string

	mu  sync.Mutex
	seq int64
}

var _ VectorBackend = (*MilvusBackend)(nil)

// NewMilvusBackend 创建 Milvus 后端并确保集合存在。
func NewMilvusBackend(ctx context.Context, client *milvus.Client, collection string, dim int, metric string) (*MilvusBackend, error) {
	if !ValidMetric(metric) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
	b := &MilvusBackend{client: client, collection: collection, dim: dim, metric: metric}
	if err := client.EnsureCollection(ctx, collection, dim, milvus.MetricType(metric)); err != nil {
		return nil, err
	}
	n, err := client.RowCount(ctx, collection)
	if err != nil {
		return nil, err
	}
	b.seq = n
	return b, nil
}

// Name 返回后端名称。
func (b *MilvusBackend) Name() string { return "milvus" }

// Append 写入条目并刷新。
func (b *MilvusBackend) Append(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rows := make([]milvus.Row, len(entries))
	for i, e := range entries {
		rows[i] = milvus.Row{
			Embedding:  e.Vector,
			Seq:        b.seq + int64(i),
			Content:    e.Metadata.Content,
			DocumentID: e.Metadata.DocumentID,
			Filename:   e.Metadata.Filename,
			ChunkIndex: int64(e.Metadata.ChunkIndex),
		}
	}
	if err := b.client.Insert(ctx, b.collection, rows); err != nil {
		return err
	}
	b.seq += int64(len(entries))
	return nil
}

// Search 检索并把分数换算为距离。
func (b *MilvusBackend) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}
	n, err := b.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []Hit{}, nil
	}

	raw, err := b.client.Search(ctx, b.collection, vector, k)
	if err != nil {
		return nil, err
	}

	type ranked struct {
		hit Hit
		seq int64
	}
	ranks := make([]ranked, len(raw))
	for i, r := range raw {
		dist := float64(r.Score)
		if milvus.MetricType(b.metric) == entity.COSINE {
			// COSINE 返回相似度
			dist = 1 - dist
		}
		ranks[i] = ranked{
			hit: Hit{
				Metadata: Metadata{
					Content:    r.Row.Content,
					DocumentID: r.Row.DocumentID,
					Filename:   r.Row.Filename,
					ChunkIndex: int(r.Row.ChunkIndex),
				},
				Distance: dist,
			},
			seq: r.Row.Seq,
		}
	}
	sort.SliceStable(ranks, func(i, j int) bool {
		if ranks[i].hit.Distance != ranks[j].hit.Distance {
			return ranks[i].hit.Distance < ranks[j].hit.Distance
		}
		return ranks[i].seq < ranks[j].seq
	})

	hits := make([]Hit, len(ranks))
	for i, r := range ranks {
		hits[i] = r.hit
	}
	return hits, nil
}

// Count 返回集合行数。
func (b *MilvusBackend) Count(ctx context.Context) (int, error) {
	n, err := b.client.RowCount(ctx, b.collection)
	return int(n), err
}

// Clear 删除并重建集合。
func (b *MilvusBackend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.client.DropCollection(ctx, b.collection); err != nil {
		return err
	}
	if err := b.client.EnsureCollection(ctx, b.collection, b.dim, milvus.MetricType(b.metric)); err != nil {
		return err
	}
	b.seq = 0
	return nil
}

// Close 关闭 Milvus 连接。
func (b *MilvusBackend) Close(ctx context.Context) error {
	return b.client.Close(ctx)
}
