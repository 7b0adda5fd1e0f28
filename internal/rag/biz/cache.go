package biz

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

// CacheConfig 答案缓存配置。
type CacheConfig struct {
	// Enabled 为 false 时 Get 总是未命中，Put 不做任何事。
	Enabled bool
	// TTL 条目有效期，按写入时间计算。
	TTL time.Duration
	// MaxSizeBytes 全部条目序列化大小之和的上限。
	MaxSizeBytes int64
	// MaxItems 条目数上限，0 表示不限。
	MaxItems int
	// MaxItemBytes 单条目大小上限，0 表示不限。
	MaxItemBytes int64
	// KeyPrefix 缓存键前缀。
	KeyPrefix string
}

type cacheEntry struct {
	question  string
	answer    string
	createdAt time.Time
	size      int64
	// seq 写入序号，createdAt 相同时按它决定淘汰顺序。
	seq uint64
}

// ResultCache 问题到答案的缓存，带 TTL 和容量淘汰。
//
// 过期条目在 Get/Stats 时惰性清除，没有后台清理。多个进程共享 Redis 存储时
// 可以看到彼此写入的答案。存储后端的错误只记录日志，不会让查询失败。
type ResultCache struct {
	// writeMu 串行化本地修改及其对应的存储写入，存储中的写入顺序与内存一致。
	// 需要同时持有时先取 writeMu 再取 mu。
	writeMu sync.Mutex

	mu        sync.Mutex
	cfg       CacheConfig
	entries   map[string]*cacheEntry
	totalSize int64
	seq       uint64
	// generation 每次 Clear 加一，回读期间发生过 Clear 时丢弃读到的记录。
	generation uint64

	store   store.CacheStore
	metrics *metrics.Metrics
	now     func() time.Time
}

// CacheOption 缓存可选项。
type CacheOption func(*ResultCache)

// WithClock 替换时钟，用于测试。
func WithClock(now func() time.Time) CacheOption {
	return func(c *ResultCache) { c.now = now }
}

// WithCacheMetrics 设置指标收集器。
func WithCacheMetrics(m *metrics.Metrics) CacheOption {
	return func(c *ResultCache) { c.metrics = m }
}

// NewResultCache 创建缓存。st 为 nil 时使用内存存储。
func NewResultCache(cfg CacheConfig, st store.CacheStore, opts ...CacheOption) *ResultCache {
	if st == nil {
		st = store.NewMemoryCacheStore()
	}
	c := &ResultCache{
		cfg:     cfg,
		entries: map[string]*cacheEntry{},
		store:   st,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key 返回问题的缓存键，问题先去除首尾空白并转小写。
func (c *ResultCache) Key(question string) string {
	return c.cfg.KeyPrefix + textutil.HashString(textutil.NormalizeQuestion(question))
}

// Restore 从存储后端恢复条目，跳过已过期的记录。
func (c *ResultCache) Restore(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	recs, err := c.store.Load(ctx)
	if err != nil {
		return err
	}

	// 按写入时间回放，淘汰顺序与原始写入一致
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	now := c.now()
	var stale []string
	for _, r := range recs {
		if c.expired(r.CreatedAt, now) {
			stale = append(stale, r.Key)
			continue
		}
		stale = append(stale, c.insertRecordLocked(r)...)
	}
	restored := len(c.entries)
	c.mu.Unlock()

	c.deleteFromStore(ctx, stale)
	logger.Infow("Answer cache restored", "backend", c.store.Name(), "entries", restored, "dropped", len(stale))
	return nil
}

// Get 返回未过期的答案。过期条目立即清除。
//
// 共享存储（Redis）是权威数据：每次查找先读存储，其他进程的写入、淘汰和
// Clear 立即可见，读取失败时退回本地条目。非共享存储只在本地未命中时回读。
func (c *ResultCache) Get(ctx context.Context, question string) (string, bool) {
	if !c.cfg.Enabled {
		return "", false
	}
	key := c.Key(question)

	if c.store.Shared() {
		answer, ok, err := c.readThrough(ctx, key)
		if err == nil {
			return answer, ok
		}
		logger.Warnw("Failed to read cache entry from store", "key", key, "backend", c.store.Name(), "error", err.Error())
	}

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !c.expired(e.createdAt, c.now()) {
		answer := e.answer
		c.mu.Unlock()
		return answer, true
	}
	c.mu.Unlock()

	if ok {
		c.purge(ctx, key)
		return "", false
	}
	if c.store.Shared() {
		return "", false
	}
	answer, ok, err := c.readThrough(ctx, key)
	if err != nil {
		logger.Warnw("Failed to read cache entry from store", "key", key, "backend", c.store.Name(), "error", err.Error())
	}
	return answer, ok
}

// purge 删除已过期的 key，本地和存储中都删除。
func (c *ResultCache) purge(ctx context.Context, key string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !c.expired(e.createdAt, c.now()) {
		// 期间已被重新写入
		c.mu.Unlock()
		return
	}
	c.removeLocked(key)
	c.mu.Unlock()
	c.deleteFromStore(ctx, []string{key})
}

// readThrough 从存储读取 key 并与本地条目对齐：存储中不存在或已过期时
// 删除本地条目，存在时以存储记录为准写入本地。
func (c *ResultCache) readThrough(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	generation := c.generation
	c.mu.Unlock()

	rec, found, err := c.store.Get(ctx, key)
	if err != nil {
		return "", false, err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		return "", false, nil
	}
	if !found {
		c.removeLocked(key)
		c.mu.Unlock()
		return "", false, nil
	}
	if c.expired(rec.CreatedAt, c.now()) {
		c.removeLocked(key)
		c.mu.Unlock()
		c.deleteFromStore(ctx, []string{key})
		return "", false, nil
	}
	if e, ok := c.entries[key]; ok && e.createdAt.Equal(rec.CreatedAt) && e.answer == rec.Answer {
		c.mu.Unlock()
		return rec.Answer, true, nil
	}
	rec.Key = key
	evicted := c.insertRecordLocked(rec)
	c.mu.Unlock()

	c.metrics.RecordEvictions(len(evicted))
	c.deleteFromStore(ctx, evicted)
	return rec.Answer, true, nil
}

// Put 写入答案，必要时按写入时间从旧到新淘汰条目。
//
// 超过 MaxItemBytes 的条目不写入，也不淘汰任何条目。未设置 MaxItemBytes 时，
// 超过 MaxSizeBytes 的条目会淘汰其余全部条目并作为唯一条目保留。
func (c *ResultCache) Put(ctx context.Context, question, answer string) {
	if !c.cfg.Enabled {
		return
	}
	key := c.Key(question)
	size := recordSize(question, answer)

	if c.cfg.MaxItemBytes > 0 && size > c.cfg.MaxItemBytes {
		logger.Debugw("Answer too large for cache", "key", key, "size", size, "max_item_bytes", c.cfg.MaxItemBytes)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	c.removeLocked(key)
	evicted := c.makeRoomLocked(size)
	c.seq++
	e := &cacheEntry{question: question, answer: answer, createdAt: c.now(), size: size, seq: c.seq}
	c.entries[key] = e
	c.totalSize += size
	c.mu.Unlock()

	c.metrics.RecordEvictions(len(evicted))
	c.deleteFromStore(ctx, evicted)
	if err := c.store.Save(ctx, store.CacheRecord{
		Key:       key,
		Question:  question,
		Answer:    answer,
		CreatedAt: e.createdAt,
		Size:      int(size),
	}); err != nil {
		logger.Warnw("Failed to persist cache entry", "key", key, "backend", c.store.Name(), "error", err.Error())
	}
}

// Stats 返回缓存统计，统计前先清除过期条目。
func (c *ResultCache) Stats(ctx context.Context) CacheStats {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	now := c.now()
	var expired []string
	for k, e := range c.entries {
		if c.expired(e.createdAt, now) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		c.removeLocked(k)
	}
	stats := CacheStats{
		Enabled:        c.cfg.Enabled,
		TotalItems:     len(c.entries),
		TotalSizeBytes: c.totalSize,
		MaxSizeBytes:   c.cfg.MaxSizeBytes,
		MaxItems:       c.cfg.MaxItems,
		TTLHours:       c.cfg.TTL.Hours(),
		Backend:        c.store.Name(),
	}
	c.mu.Unlock()

	c.deleteFromStore(ctx, expired)
	return stats
}

// Clear 删除全部条目，返回删除数量。
func (c *ResultCache) Clear(ctx context.Context) int {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	n := len(c.entries)
	c.entries = map[string]*cacheEntry{}
	c.totalSize = 0
	c.generation++
	c.mu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		logger.Warnw("Failed to clear cache store", "backend", c.store.Name(), "error", err.Error())
	}
	return n
}

func (c *ResultCache) expired(createdAt, now time.Time) bool {
	return c.cfg.TTL > 0 && now.Sub(createdAt) > c.cfg.TTL
}

// insertRecordLocked 把存储记录放入本地缓存，返回为此淘汰的键。
func (c *ResultCache) insertRecordLocked(r store.CacheRecord) []string {
	size := int64(r.Size)
	if size <= 0 {
		size = recordSize(r.Question, r.Answer)
	}
	c.removeLocked(r.Key)
	evicted := c.makeRoomLocked(size)
	c.seq++
	c.entries[r.Key] = &cacheEntry{question: r.Question, answer: r.Answer, createdAt: r.CreatedAt, size: size, seq: c.seq}
	c.totalSize += size
	return evicted
}

func (c *ResultCache) removeLocked(key string) {
	if e, ok := c.entries[key]; ok {
		c.totalSize -= e.size
		delete(c.entries, key)
	}
}

// makeRoomLocked 淘汰最旧的条目直到可以放入 size 字节的新条目，返回被淘汰的键。
func (c *ResultCache) makeRoomLocked(size int64) []string {
	fits := func() bool {
		if c.cfg.MaxSizeBytes > 0 && c.totalSize+size > c.cfg.MaxSizeBytes {
			return false
		}
		if c.cfg.MaxItems > 0 && len(c.entries)+1 > c.cfg.MaxItems {
			return false
		}
		return true
	}
	if fits() {
		return nil
	}

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.entries[keys[i]], c.entries[keys[j]]
		if !a.createdAt.Equal(b.createdAt) {
			return a.createdAt.Before(b.createdAt)
		}
		return a.seq < b.seq
	})

	var evicted []string
	for _, k := range keys {
		if fits() {
			break
		}
		c.removeLocked(k)
		evicted = append(evicted, k)
	}
	return evicted
}

func (c *ResultCache) deleteFromStore(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		logger.Warnw("Failed to delete cache entries from store", "backend", c.store.Name(), "keys", len(keys), "error", err.Error())
	}
}

type cachePayload struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// recordSize 返回 {question, answer} JSON 编码后的字节数。
func recordSize(question, answer string) int64 {
	n, err := json.EncodedSize(cachePayload{Question: question, Answer: answer})
	if err != nil {
		return int64(len(question) + len(answer))
	}
	return int64(n)
}
