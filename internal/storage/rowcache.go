package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dougwithseismic/dotoro-ads-sub003/internal/engine"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/variables"
)

const rowCachePrefix = "campaigngen:rows:"

// RowCache is a read-through Redis cache in front of a RowSource. Redis
// failures fall back to the source; a nil client disables caching.
type RowCache struct {
	next   RowSource
	client *redis.Client
	ttl    time.Duration
}

func NewRowCache(next RowSource, client *redis.Client, ttl time.Duration) *RowCache {
	return &RowCache{next: next, client: client, ttl: ttl}
}

func (c *RowCache) DataSource(ctx context.Context, id string) (*engine.DataSource, error) {
	return c.next.DataSource(ctx, id)
}

func (c *RowCache) DataRows(ctx context.Context, id string) ([]variables.Row, error) {
	if c.client == nil {
		return c.next.DataRows(ctx, id)
	}
	key := rowCacheKey(id)

	cached, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		rows, decodeErr := decodeRows(cached)
		if decodeErr == nil {
			return rows, nil
		}
		log.Warn().Err(decodeErr).Str("key", key).Msg("discarding unreadable cached rows")
	case !errors.Is(err, redis.Nil):
		log.Warn().Err(err).Str("key", key).Msg("row cache read failed")
	}

	rows, err := c.next.DataRows(ctx, id)
	if err != nil {
		return nil, err
	}
	if payload, err := encodeRows(rows); err == nil {
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("row cache write failed")
		}
	}
	return rows, nil
}

// Invalidate drops the cached rows of a data source.
func (c *RowCache) Invalidate(ctx context.Context, id string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, rowCacheKey(id)).Err()
}

func rowCacheKey(id string) string { return rowCachePrefix + id }

func encodeRows(rows []variables.Row) ([]byte, error) {
	if rows == nil {
		rows = []variables.Row{}
	}
	return json.Marshal(rows)
}

func decodeRows(b []byte) ([]variables.Row, error) {
	var rows []variables.Row
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
