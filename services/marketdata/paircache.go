package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultPairCacheTTL is how long a pair listing stays fresh
const DefaultPairCacheTTL = 15 * time.Minute

// PairCache stores pair listings per exchange id
type PairCache interface {
	Get(ctx context.Context, exchange string) ([]string, bool)
	Set(ctx context.Context, exchange string, pairs []string)
}

type pairEntry struct {
	pairs     []string
	expiresAt time.Time
}

// MemoryPairCache is an in-process PairCache
type MemoryPairCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]pairEntry
	now     func() time.Time
}

// NewMemoryPairCache creates an in-process cache
func NewMemoryPairCache(ttl time.Duration) *MemoryPairCache {
	return &MemoryPairCache{
		ttl:     ttl,
		entries: make(map[string]pairEntry),
		now:     time.Now,
	}
}

// Get returns a copy of a fresh entry
func (c *MemoryPairCache) Get(_ context.Context, exchange string) ([]string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[exchange]
	c.mu.RUnlock()

	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	return append([]string(nil), entry.pairs...), true
}

// Set stores a copy of pairs
func (c *MemoryPairCache) Set(_ context.Context, exchange string, pairs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[exchange] = pairEntry{
		pairs:     append([]string(nil), pairs...),
		expiresAt: c.now().Add(c.ttl),
	}
}

// RedisPairCache shares pair listings between instances through Redis
type RedisPairCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger logrus.FieldLogger
}

// NewRedisPairCache connects to Redis using a redis:// URL
func NewRedisPairCache(ctx context.Context, redisURL string, ttl time.Duration, logger logrus.FieldLogger) (*RedisPairCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisPairCache{client: client, ttl: ttl, prefix: "tradingroad:pairs:", logger: logger}, nil
}

// Get reads a listing; misses and errors both report false
func (c *RedisPairCache) Get(ctx context.Context, exchange string) ([]string, bool) {
	data, err := c.client.Get(ctx, c.prefix+exchange).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("exchange", exchange).Warn("redis pair cache read failed")
		}
		return nil, false
	}

	var pairs []string
	if err := json.Unmarshal(data, &pairs); err != nil {
		c.logger.WithError(err).WithField("exchange", exchange).Warn("corrupt pair cache entry")
		return nil, false
	}
	return pairs, true
}

// Set writes a listing with the cache TTL
func (c *RedisPairCache) Set(ctx context.Context, exchange string, pairs []string) {
	data, err := json.Marshal(pairs)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+exchange, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("exchange", exchange).Warn("redis pair cache write failed")
	}
}

// Close releases the Redis connection pool
func (c *RedisPairCache) Close() error {
	return c.client.Close()
}
