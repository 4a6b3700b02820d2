package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/fluxquant/fundarb/internal/models"
)

const opportunitiesKey = "opportunities:latest"

// opportunityEnvelope wraps a published set with its publication time so
// readers can judge staleness independently of the Redis TTL.
type opportunityEnvelope struct {
	Opportunities []models.Opportunity `json:"opportunities"`
	CachedAt      time.Time            `json:"cached_at"`
}

// RedisOpportunityCache publishes each scan cycle's ranked opportunities so
// read paths and external consumers never block the engine.
type RedisOpportunityCache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewRedisOpportunityCache creates the cache. The TTL should exceed the scan
// interval so a single slow cycle does not blank the read path; twice the
// interval is the usual choice.
func NewRedisOpportunityCache(redisClient *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisOpportunityCache {
	return &RedisOpportunityCache{
		redis:  redisClient,
		ttl:    ttl,
		logger: logger,
	}
}

// Publish replaces the cached set with this cycle's ranked opportunities.
func (c *RedisOpportunityCache) Publish(ctx context.Context, opportunities []models.Opportunity) error {
	envelope := opportunityEnvelope{
		Opportunities: opportunities,
		CachedAt:      time.Now().UTC(),
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to serialize opportunities: %w", err)
	}
	if err := c.redis.Set(ctx, opportunitiesKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache opportunities: %w", err)
	}
	return nil
}

// Latest returns the most recently published set, truncated to limit. A
// missing or expired key is an empty result, not an error.
func (c *RedisOpportunityCache) Latest(ctx context.Context, limit int) ([]models.Opportunity, time.Time, error) {
	data, err := c.redis.Get(ctx, opportunitiesKey).Bytes()
	if err == redis.Nil {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read cached opportunities: %w", err)
	}

	var envelope opportunityEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to deserialize cached opportunities: %w", err)
	}

	opportunities := envelope.Opportunities
	if limit > 0 && len(opportunities) > limit {
		opportunities = opportunities[:limit]
	}
	return opportunities, envelope.CachedAt, nil
}
