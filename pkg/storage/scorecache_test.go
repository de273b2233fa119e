package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/cardiorisk/pkg/common/models"
)

func setupTestScoreCache(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *ScoreCache) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewScoreCache(client, ttl)
}

func TestScoreCachePutGet(t *testing.T) {
	mr, cache := setupTestScoreCache(t, time.Hour)
	ctx := context.Background()

	records := scoredRecords("E1", "E2", "E1")
	records[2].HDLCategory = models.HDLPoor
	require.NoError(t, cache.Put(ctx, "run-1", records))

	got, err := cache.Get(ctx, "E1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, records[0], got[0])
	assert.Equal(t, records[2], got[1])

	got, err = cache.Get(ctx, "E2")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	assert.Equal(t, time.Hour, mr.TTL(encounterKey("E1")))
	raw, err := mr.Get(encounterKey("E2"))
	require.NoError(t, err)
	assert.Contains(t, raw, `"run_id":"run-1"`)
}

func TestScoreCacheMissAndExpiry(t *testing.T) {
	mr, cache := setupTestScoreCache(t, time.Minute)
	ctx := context.Background()

	_, err := cache.Get(ctx, "E1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, cache.Put(ctx, "run-1", scoredRecords("E1")))
	mr.FastForward(2 * time.Minute)
	_, err = cache.Get(ctx, "E1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestScoreCacheLaterRunOverwrites(t *testing.T) {
	_, cache := setupTestScoreCache(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "run-1", scoredRecords("E1", "E1")))
	later := scoredRecords("E1")
	later[0].Scores.Total = 21
	later[0].Scores.Label = models.RiskHigh
	require.NoError(t, cache.Put(ctx, "run-2", later))

	got, err := cache.Get(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, later, got)
}

func TestScoreCacheCorruptEntry(t *testing.T) {
	mr, cache := setupTestScoreCache(t, time.Hour)
	require.NoError(t, mr.Set(encounterKey("E1"), "not json"))

	_, err := cache.Get(context.Background(), "E1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestScoreCacheServerDown(t *testing.T) {
	mr, cache := setupTestScoreCache(t, time.Hour)
	mr.Close()

	assert.Error(t, cache.Put(context.Background(), "run-1", scoredRecords("E1")))
}
