package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/healthvoice/retrieval/internal/storage"
)

// QueryCache memoizes search responses in Redis, keyed per owner so
// invalidation after a write touches only that owner's entries. Cache
// trouble is logged and ignored; it never surfaces to callers.
type QueryCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	logger *log.Logger
}

func NewQueryCache(rdb *redis.Client, collection string, ttl time.Duration, logger *log.Logger) *QueryCache {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if collection == "" {
		collection = "retrieval"
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[CACHE] ", log.LstdFlags)
	}
	return &QueryCache{rdb: rdb, ttl: ttl, prefix: collection, logger: logger}
}

func (c *QueryCache) key(ownerID, query string, opts storage.SearchOptions) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%f", query, opts.MaxResults, opts.MinScore)))
	return fmt.Sprintf("%s:%s:search:%s", c.prefix, ownerID, hex.EncodeToString(sum[:16]))
}

func (c *QueryCache) Get(ctx context.Context, ownerID, query string, opts storage.SearchOptions) ([]storage.SearchHit, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, c.key(ownerID, query, opts)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Printf("get failed: %v", err)
		return nil, false
	}
	var hits []storage.SearchHit
	if err := json.Unmarshal(raw, &hits); err != nil {
		c.logger.Printf("decode failed: %v", err)
		return nil, false
	}
	return hits, true
}

func (c *QueryCache) Set(ctx context.Context, ownerID, query string, opts storage.SearchOptions, hits []storage.SearchHit) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(hits)
	if err != nil {
		c.logger.Printf("encode failed: %v", err)
		return
	}
	if err := c.rdb.Set(ctx, c.key(ownerID, query, opts), raw, c.ttl).Err(); err != nil {
		c.logger.Printf("set failed: %v", err)
	}
}

// InvalidateOwner drops every cached search for the owner after a write.
func (c *QueryCache) InvalidateOwner(ctx context.Context, ownerID string) {
	if c == nil {
		return
	}
	pattern := fmt.Sprintf("%s:%s:search:*", c.prefix, ownerID)
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Printf("invalidate scan failed: %v", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Printf("invalidate del failed: %v", err)
	}
}
