package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/cardiorisk/pkg/common/logger"
	"github.com/synaptica-ai/cardiorisk/pkg/common/models"
)

var ErrCacheMiss = errors.New("encounter not cached")

// ScoreCache keeps the latest scored rows per encounter for low-latency lookups.
type ScoreCache struct {
	client *redis.Client
	ttl    time.Duration
}

type cachedScores struct {
	RunID   string                `json:"run_id"`
	Records []models.MergedRecord `json:"records"`
}

func NewScoreCache(client *redis.Client, ttl time.Duration) *ScoreCache {
	return &ScoreCache{client: client, ttl: ttl}
}

func encounterKey(encounterID string) string {
	return fmt.Sprintf("risk:encounter:%s", encounterID)
}

// Put overwrites the cached rows of every encounter present in records.
func (c *ScoreCache) Put(ctx context.Context, runID string, records []models.MergedRecord) error {
	grouped := make(map[string][]models.MergedRecord)
	order := make([]string, 0)
	for _, r := range records {
		if _, ok := grouped[r.EncounterID]; !ok {
			order = append(order, r.EncounterID)
		}
		grouped[r.EncounterID] = append(grouped[r.EncounterID], r)
	}

	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range order {
			data, err := json.Marshal(cachedScores{RunID: runID, Records: grouped[id]})
			if err != nil {
				return err
			}
			pipe.Set(ctx, encounterKey(id), data, c.ttl)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Log.WithFields(map[string]interface{}{
		"run_id":     runID,
		"encounters": len(order),
	}).Debug("Cached encounter scores")
	return nil
}

func (c *ScoreCache) Get(ctx context.Context, encounterID string) ([]models.MergedRecord, error) {
	data, err := c.client.Get(ctx, encounterKey(encounterID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	var cached cachedScores
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return cached.Records, nil
}
