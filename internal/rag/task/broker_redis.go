package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

// RedisBroker 基于 Redis 列表的队列。
//
// 生产者 LPUSH 到队列，消费者用 BLMOVE 原子地把消息移入自己的处理中列表，
// 处理完成后 LREM 确认。worker 崩溃后，重启时 Recover 把处理中列表放回队列，
// 因此投递语义为至少一次。
type RedisBroker struct {
	rdb        goredis.UniversalClient
	queue      string
	processing string
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker 创建 Redis 队列。workerID 决定处理中列表的名称，重启后应保持不变。
func NewRedisBroker(rdb goredis.UniversalClient, prefix, queue, workerID string) *RedisBroker {
	return &RedisBroker{
		rdb:        rdb,
		queue:      prefix + "queue:" + queue,
		processing: prefix + "processing:" + queue + ":" + workerID,
	}
}

func (b *RedisBroker) Name() string  { return "redis" }
func (b *RedisBroker) Durable() bool { return true }

func (b *RedisBroker) Publish(ctx context.Context, msg JobMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", msg.TaskID, err)
	}
	return b.rdb.LPush(ctx, b.queue, data).Err()
}

func (b *RedisBroker) Consume(ctx context.Context, wait time.Duration) (*Delivery, error) {
	raw, err := b.rdb.BLMove(ctx, b.queue, b.processing, "RIGHT", "LEFT", wait).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	var msg JobMessage
	if err := json.UnmarshalString(raw, &msg); err != nil {
		logger.Warnw("Dropping malformed job message", "queue", b.queue, "error", err.Error())
		_ = b.rdb.LRem(ctx, b.processing, 1, raw).Err()
		return nil, nil
	}
	return &Delivery{Message: msg, raw: raw}, nil
}

func (b *RedisBroker) Ack(ctx context.Context, d *Delivery) error {
	if d == nil || d.raw == "" {
		return nil
	}
	return b.rdb.LRem(ctx, b.processing, 1, d.raw).Err()
}

func (b *RedisBroker) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := b.rdb.LMove(ctx, b.processing, b.queue, "LEFT", "RIGHT").Err()
		if errors.Is(err, goredis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// Len 返回排队中的消息数。
func (b *RedisBroker) Len(ctx context.Context) (int64, error) {
	return b.rdb.LLen(ctx, b.queue).Result()
}

func (b *RedisBroker) Close() error { return nil }
