package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCacheStore(t *testing.T, s CacheStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Save(ctx, CacheRecord{Key: "k1", Question: "q1", Answer: "a1", CreatedAt: now, Size: 10}))
	require.NoError(t, s.Save(ctx, CacheRecord{Key: "k2", Question: "q2", Answer: "a2", CreatedAt: now, Size: 20}))
	require.NoError(t, s.Save(ctx, CacheRecord{Key: "k1", Question: "q1", Answer: "a1-new", CreatedAt: now, Size: 14}))

	recs, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	byKey := map[string]CacheRecord{}
	for _, r := range recs {
		byKey[r.Key] = r
	}
	assert.Equal(t, "a1-new", byKey["k1"].Answer)
	assert.True(t, byKey["k2"].CreatedAt.Equal(now))

	rec, ok, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "k1", rec.Key)
	assert.Equal(t, "a1-new", rec.Answer)
	assert.Equal(t, 14, rec.Size)

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete(ctx, "k1"))
	require.NoError(t, s.Delete(ctx))
	recs, _ = s.Load(ctx)
	assert.Len(t, recs, 1)

	require.NoError(t, s.Clear(ctx))
	recs, _ = s.Load(ctx)
	assert.Empty(t, recs)
}

func TestMemoryCacheStore(t *testing.T) {
	s := NewMemoryCacheStore()
	assert.Equal(t, "memory", s.Name())
	assert.False(t, s.Shared())
	testCacheStore(t, s)
}

func TestRedisCacheStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := NewRedisCacheStore(rdb, "rag:cache:entries")
	assert.Equal(t, "redis", s.Name())
	assert.True(t, s.Shared())
	testCacheStore(t, s)
}

func TestRedisCacheStore_SkipsCorruptRecords(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	s := NewRedisCacheStore(rdb, "rag:cache:entries")
	require.NoError(t, s.Save(ctx, CacheRecord{Key: "good", Answer: "a"}))
	mr.HSet("rag:cache:entries", "bad", "{not json")

	recs, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "good", recs[0].Key)
	assert.Empty(t, mr.HGet("rag:cache:entries", "bad"))

	mr.HSet("rag:cache:entries", "bad", "{not json")
	_, ok, err := s.Get(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, mr.HGet("rag:cache:entries", "bad"))
}
