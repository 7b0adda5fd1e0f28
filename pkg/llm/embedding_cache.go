package llm

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

// DefaultEmbeddingCacheSize 进程内缓存的默认条目数。
const DefaultEmbeddingCacheSize = 1000

// EmbeddingCacheConfig Embedding 缓存配置。
type EmbeddingCacheConfig struct {
	// Size 进程内 LRU 容量。
	Size int
	// TTL Redis 二级缓存过期时间。
	TTL time.Duration
	// KeyPrefix Redis 缓存键前缀。
	KeyPrefix string
}

// DefaultEmbeddingCacheConfig 返回默认的 Embedding 缓存配置。
func DefaultEmbeddingCacheConfig() *EmbeddingCacheConfig {
	return &EmbeddingCacheConfig{
		Size:      DefaultEmbeddingCacheSize,
		TTL:       24 * time.Hour,
		KeyPrefix: "rag:emb:",
	}
}

// CachedEmbeddingProvider 为 Embedding 供应商增加两级缓存：
// 进程内 LRU，以及可选的 Redis 共享缓存。
type CachedEmbeddingProvider struct {
	provider EmbeddingProvider
	lru      *lru.Cache[string, []float32]
	redis    *goredis.Client
	config   *EmbeddingCacheConfig
}

var _ EmbeddingProvider = (*CachedEmbeddingProvider)(nil)

// NewCachedEmbeddingProvider 创建带缓存的 Embedding Provider。redis 可以为 nil。
func NewCachedEmbeddingProvider(provider EmbeddingProvider, redis *goredis.Client, config *EmbeddingCacheConfig) *CachedEmbeddingProvider {
	if config == nil {
		config = DefaultEmbeddingCacheConfig()
	}
	if config.Size <= 0 {
		config.Size = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](config.Size)
	return &CachedEmbeddingProvider{
		provider: provider,
		lru:      cache,
		redis:    redis,
		config:   config,
	}
}

func (c *CachedEmbeddingProvider) cacheKey(text string) string {
	return c.config.KeyPrefix + textutil.HashString(c.provider.Name()+"\x00"+text)
}

// EmbedSingle 生成单个文本的 Embedding（带缓存）。
func (c *CachedEmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Embed 为多个文本生成 Embedding，只对未命中的文本调用底层供应商。
func (c *CachedEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		key := c.cacheKey(text)
		if vec, ok := c.lru.Get(key); ok {
			results[i] = vec
			continue
		}
		if vec, ok := c.getRemote(ctx, key); ok {
			c.lru.Add(key, vec)
			results[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	vecs, err := c.provider.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedding provider %s returned %d vectors for %d texts", c.provider.Name(), len(vecs), len(missTexts))
	}

	for j, idx := range missIdx {
		results[idx] = vecs[j]
		key := c.cacheKey(texts[idx])
		c.lru.Add(key, vecs[j])
		c.setRemote(ctx, key, vecs[j])
	}
	return results, nil
}

func (c *CachedEmbeddingProvider) getRemote(ctx context.Context, key string) ([]float32, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != goredis.Nil {
			logger.Warnw("embedding cache read failed", "key", key, "error", err.Error())
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, false
	}
	return vec, true
}

func (c *CachedEmbeddingProvider) setRemote(ctx context.Context, key string, vec []float32) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		logger.Warnw("embedding cache write failed", "key", key, "error", err.Error())
	}
}

// Len 返回进程内缓存的条目数。
func (c *CachedEmbeddingProvider) Len() int {
	return c.lru.Len()
}

// Name 返回底层供应商名称。
func (c *CachedEmbeddingProvider) Name() string {
	return c.provider.Name()
}

// Ping 透传底层供应商的可用性检查。
func (c *CachedEmbeddingProvider) Ping(ctx context.Context) error {
	if p, ok := c.provider.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
