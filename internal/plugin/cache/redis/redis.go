package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chirino/conversation-hub/internal/config"
	registrycache "github.com/chirino/conversation-hub/internal/registry/cache"
	"github.com/chirino/conversation-hub/internal/registry/store"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultTTL    = 10 * time.Minute
	keyPrefix     = "conversation-hub:"
	generationKey = keyPrefix + "generation"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.DetailCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: --redis-url is required")
	}
	return LoadFromURL(ctx, cfg.RedisURL, cfg.CacheTTL)
}

// LoadFromURL connects to a Redis-compatible server and verifies it with PING.
func LoadFromURL(ctx context.Context, redisURL string, ttl time.Duration) (*Cache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{client: client, ttl: ttl}, nil
}

// Cache shares details and the generation counter between all instances
// pointed at the same server.
type Cache struct {
	client *goredis.Client
	ttl    time.Duration
}

func detailKey(generation int64, externalID string) string {
	return fmt.Sprintf("%sdetail:%d:%s", keyPrefix, generation, externalID)
}

func (c *Cache) Available() bool { return true }

func (c *Cache) Generation(ctx context.Context) (int64, error) {
	n, err := c.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return n, err
}

func (c *Cache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, generationKey).Err()
}

func (c *Cache) Get(ctx context.Context, generation int64, externalID string) (*store.ConversationDetail, error) {
	data, err := c.client.Get(ctx, detailKey(generation, externalID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var detail store.ConversationDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (c *Cache) Set(ctx context.Context, generation int64, externalID string, detail *store.ConversationDetail) error {
	data, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, detailKey(generation, externalID), data, c.ttl).Err()
}

func (c *Cache) Close() error { return c.client.Close() }

var _ registrycache.DetailCache = (*Cache)(nil)
