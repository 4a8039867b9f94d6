package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores detail responses in Redis keyed by the requested id set.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewCache constructs a cache. A nil client or non-positive ttl yields a
// cache that never hits.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl, prefix: "orderdesk:details:"}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// Get loads cached records for ids. It reports whether the key existed.
func (c *Cache) Get(ctx context.Context, ids []int64) ([]DetailRecord, bool, error) {
	if !c.enabled() {
		return nil, false, nil
	}
	data, err := c.client.Get(ctx, c.key(ids)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var records []DetailRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, false, err
	}
	return records, true, nil
}

// Set stores records for ids with the configured TTL.
func (c *Cache) Set(ctx context.Context, ids []int64, records []DetailRecord) error {
	if !c.enabled() {
		return nil
	}
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(ids), data, c.ttl).Err()
}

func (c *Cache) key(ids []int64) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return c.prefix + strings.Join(parts, ",")
}
