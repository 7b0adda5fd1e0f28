package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

// maxWatchRetries 乐观锁冲突时的最大重试次数。
const maxWatchRetries = 16

// RedisBackend 以 JSON 保存状态记录，键带 TTL。
//
// Update 使用 WATCH/MULTI，其他客户端在读写之间修改了记录时整体重试。
type RedisBackend struct {
	rdb    goredis.UniversalClient
	prefix string
	expiry time.Duration
}

var _ StateBackend = (*RedisBackend)(nil)

// NewRedisBackend 创建 Redis 状态存储。expiry 为 0 时记录不过期。
func NewRedisBackend(rdb goredis.UniversalClient, prefix string, expiry time.Duration) *RedisBackend {
	return &RedisBackend{rdb: rdb, prefix: prefix, expiry: expiry}
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) key(id string) string { return b.prefix + "status:" + id }

func (b *RedisBackend) Create(ctx context.Context, st *TaskStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", st.ID, err)
	}
	// 新建记录尚未结束，排队期间不能先于终态记录过期
	return b.rdb.Set(ctx, b.key(st.ID), data, redisKeepTTL(b.expiry)).Err()
}

func (b *RedisBackend) Get(ctx context.Context, id string) (*TaskStatus, error) {
	return b.read(ctx, b.rdb, id)
}

type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func (b *RedisBackend) read(ctx context.Context, c getter, id string) (*TaskStatus, error) {
	data, err := c.Get(ctx, b.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	var st TaskStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &st, nil
}

func (b *RedisBackend) Update(ctx context.Context, id string, fn UpdateFunc) (*TaskStatus, error) {
	key := b.key(id)
	var out *TaskStatus
	var fnErr error

	txf := func(tx *goredis.Tx) error {
		cur, err := b.read(ctx, tx, id)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			out, fnErr = cur, err
			return nil
		}
		next.UpdatedAt = time.Now()
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode task %s: %w", id, err)
		}
		ttl := b.expiry
		if !next.State.Terminal() {
			ttl = redisKeepTTL(b.expiry)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		out, fnErr = next, nil
		return nil
	}

	for range maxWatchRetries {
		err := b.rdb.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, fnErr
	}
	return nil, fmt.Errorf("update task %s: too many concurrent modifications", id)
}

func (b *RedisBackend) Close() error { return nil }

// redisKeepTTL 运行中的任务不应在执行期间过期，给非终态记录留出足够余量。
func redisKeepTTL(expiry time.Duration) time.Duration {
	if expiry <= 0 {
		return 0
	}
	return expiry + 24*time.Hour
}
