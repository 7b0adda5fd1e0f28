package store

import (
	"context"
	"errors"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

// CacheRecord 答案缓存的持久化记录。
type CacheRecord struct {
	Key       string    `json:"key"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
	Size      int       `json:"size"`
}

// CacheStore 持久化答案缓存记录，进程重启后通过 Load 恢复。
// Shared 为 true 的存储由多个进程共用，Get 读到的记录优先于进程内副本。
type CacheStore interface {
	Name() string
	Shared() bool
	Load(ctx context.Context) ([]CacheRecord, error)
	Get(ctx context.Context, key string) (CacheRecord, bool, error)
	Save(ctx context.Context, rec CacheRecord) error
	Delete(ctx context.Context, keys ...string) error
	Clear(ctx context.Context) error
}

// MemoryCacheStore 进程内缓存存储，不具备持久性。
type MemoryCacheStore struct {
	mu      sync.Mutex
	records map[string]CacheRecord
}

var _ CacheStore = (*MemoryCacheStore)(nil)

// NewMemoryCacheStore 创建内存缓存存储。
func NewMemoryCacheStore() *MemoryCacheStore {
	return &MemoryCacheStore{records: map[string]CacheRecord{}}
}

func (s *MemoryCacheStore) Name() string { return "memory" }

func (s *MemoryCacheStore) Shared() bool { return false }

func (s *MemoryCacheStore) Load(_ context.Context) ([]CacheRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CacheRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func (s *MemoryCacheStore) Get(_ context.Context, key string) (CacheRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	return r, ok, nil
}

func (s *MemoryCacheStore) Save(_ context.Context, rec CacheRecord) error {
	s.mu.Lock()
	s.records[rec.Key] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryCacheStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	for _, k := range keys {
		delete(s.records, k)
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryCacheStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.records = map[string]CacheRecord{}
	s.mu.Unlock()
	return nil
}

// RedisCacheStore 把缓存记录以 JSON 形式保存在一个 Redis hash 中。
type RedisCacheStore struct {
	rdb     goredis.UniversalClient
	hashKey string
}

var _ CacheStore = (*RedisCacheStore)(nil)

// NewRedisCacheStore 创建 Redis 缓存存储，hashKey 为保存全部记录的 hash 键。
func NewRedisCacheStore(rdb goredis.UniversalClient, hashKey string) *RedisCacheStore {
	return &RedisCacheStore{rdb: rdb, hashKey: hashKey}
}

func (s *RedisCacheStore) Name() string { return "redis" }

func (s *RedisCacheStore) Shared() bool { return true }

// Load 读取全部记录，无法解析的记录被跳过并删除。
func (s *RedisCacheStore) Load(ctx context.Context) ([]CacheRecord, error) {
	raw, err := s.rdb.HGetAll(ctx, s.hashKey).Result()
	if err != nil {
		return nil, err
	}

	out := make([]CacheRecord, 0, len(raw))
	var corrupt []string
	for field, v := range raw {
		var rec CacheRecord
		if err := json.UnmarshalString(v, &rec); err != nil {
			corrupt = append(corrupt, field)
			continue
		}
		rec.Key = field
		out = append(out, rec)
	}
	if len(corrupt) > 0 {
		_ = s.rdb.HDel(ctx, s.hashKey, corrupt...).Err()
	}
	return out, nil
}

// Get 读取单条记录，无法解析的记录被删除并视为不存在。
func (s *RedisCacheStore) Get(ctx context.Context, key string) (CacheRecord, bool, error) {
	v, err := s.rdb.HGet(ctx, s.hashKey, key).Result()
	if errors.Is(err, goredis.Nil) {
		return CacheRecord{}, false, nil
	}
	if err != nil {
		return CacheRecord{}, false, err
	}
	var rec CacheRecord
	if err := json.UnmarshalString(v, &rec); err != nil {
		_ = s.rdb.HDel(ctx, s.hashKey, key).Err()
		return CacheRecord{}, false, nil
	}
	rec.Key = key
	return rec, true, nil
}

func (s *RedisCacheStore) Save(ctx context.Context, rec CacheRecord) error {
	v, err := json.MarshalString(rec)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, s.hashKey, rec.Key, v).Err()
}

func (s *RedisCacheStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.HDel(ctx, s.hashKey, keys...).Err()
}

func (s *RedisCacheStore) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, s.hashKey).Err()
}
