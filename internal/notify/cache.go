package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedCounts is the per-recipient summary served to the polling endpoint.
type CachedCounts struct {
	Unread int       `json:"unread"`
	Latest time.Time `json:"latest"`
}

// Cache keeps poll counts in Redis so short-interval polling does not hammer
// Postgres. Entries are invalidated on every write touching the recipient.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewCache(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewCacheWithClient(client), nil
}

func NewCacheWithClient(client *redis.Client) *Cache {
	return &Cache{
		client: client,
		prefix: "notifcounts:",
		ttl:    30 * time.Second,
	}
}

func (c *Cache) key(recipientID string) string {
	return c.prefix + recipientID
}

func (c *Cache) Get(ctx context.Context, recipientID string) (CachedCounts, bool, error) {
	payload, err := c.client.Get(ctx, c.key(recipientID)).Result()
	if errors.Is(err, redis.Nil) {
		return CachedCounts{}, false, nil
	}
	if err != nil {
		return CachedCounts{}, false, fmt.Errorf("read poll counts: %w", err)
	}

	var counts CachedCounts
	if err := json.Unmarshal([]byte(payload), &counts); err != nil {
		return CachedCounts{}, false, fmt.Errorf("decode poll counts: %w", err)
	}
	return counts, true, nil
}

func (c *Cache) Set(ctx context.Context, recipientID string, counts CachedCounts) error {
	payload, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("encode poll counts: %w", err)
	}
	if err := c.client.Set(ctx, c.key(recipientID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("write poll counts: %w", err)
	}
	return nil
}

func (c *Cache) Invalidate(ctx context.Context, recipientID string) error {
	if err := c.client.Del(ctx, c.key(recipientID)).Err(); err != nil {
		return fmt.Errorf("invalidate poll counts: %w", err)
	}
	return nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}
