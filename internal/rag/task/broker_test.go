package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBroker(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(2)
	assert.False(t, b.Durable())

	d, err := b.Consume(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, d)

	require.NoError(t, b.Publish(ctx, JobMessage{TaskID: "a"}))
	require.NoError(t, b.Publish(ctx, JobMessage{TaskID: "b"}))
	assert.Equal(t, 2, b.Len())

	d, err = b.Consume(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a", d.Message.TaskID)
	assert.NoError(t, b.Ack(ctx, d))

	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(ctx, JobMessage{TaskID: "c"}), ErrBrokerClosed)
}

func TestMemoryBroker_PublishHonoursContext(t *testing.T) {
	b := NewMemoryBroker(1)
	require.NoError(t, b.Publish(context.Background(), JobMessage{TaskID: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Publish(ctx, JobMessage{TaskID: "b"}), context.DeadlineExceeded)
}

func TestRedisBroker(t *testing.T) {
	ctx := context.Background()
	rdb := newMiniRedis(t)
	b := NewRedisBroker(rdb, "test:", "jobs", "w1")
	assert.True(t, b.Durable())

	spec := JobSpec{Kind: KindBatchQuery, Questions: []string{"a", "b"}}
	require.NoError(t, b.Publish(ctx, JobMessage{TaskID: "first", Spec: spec}))
	require.NoError(t, b.Publish(ctx, JobMessage{TaskID: "second"}))

	d, err := b.Consume(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "first", d.Message.TaskID)
	assert.Equal(t, spec, d.Message.Spec)

	n, err := rdb.LLen(ctx, "test:processing:jobs:w1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, b.Ack(ctx, d))
	n, err = rdb.LLen(ctx, "test:processing:jobs:w1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// 未确认的消息在重启后恢复
	d, err = b.Consume(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "second", d.Message.TaskID)

	restarted := NewRedisBroker(rdb, "test:", "jobs", "w1")
	recovered, err := restarted.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	queued, err := restarted.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), queued)

	d, err = restarted.Consume(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "second", d.Message.TaskID)
}

func TestRedisBroker_DropsMalformed(t *testing.T) {
	ctx := context.Background()
	rdb := newMiniRedis(t)
	b := NewRedisBroker(rdb, "test:", "jobs", "w1")

	require.NoError(t, rdb.LPush(ctx, "test:queue:jobs", "not json").Err())
	d, err := b.Consume(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, d)

	n, err := rdb.LLen(ctx, "test:processing:jobs:w1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
