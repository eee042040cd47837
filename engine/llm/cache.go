package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by a ReplyCache when no entry exists.
var ErrCacheMiss = errors.New("llm: cache miss")

// ReplyCache stores completions keyed by request fingerprint.
type ReplyCache interface {
	Get(ctx context.Context, key string) (*Completion, error)
	Set(ctx context.Context, key string, c *Completion, ttl time.Duration) error
}

// CachedCompleter serves repeated identical requests from a ReplyCache.
// Cache failures are logged and never fail the request.
type CachedCompleter struct {
	next   Completer
	cache  ReplyCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedCompleter wraps next. A ttl <= 0 disables caching.
func NewCachedCompleter(next Completer, cache ReplyCache, ttl time.Duration, logger *slog.Logger) *CachedCompleter {
	return &CachedCompleter{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (c *CachedCompleter) Complete(ctx context.Context, req Request) (*Completion, error) {
	if c.cache == nil || c.ttl <= 0 {
		return c.next.Complete(ctx, req)
	}
	key := CacheKey(req)
	if hit, err := c.cache.Get(ctx, key); err == nil {
		c.logger.Debug("completion cache hit", "key", key)
		return hit, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("completion cache read failed", "err", err)
	}

	out, err := c.next.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, out, c.ttl); err != nil {
		c.logger.Warn("completion cache write failed", "err", err)
	}
	return out, nil
}

// CacheKey fingerprints the fields that influence the reply.
func CacheKey(req Request) string {
	h := sha256.New()
	temp := "-"
	if req.Temperature != nil {
		temp = fmt.Sprintf("%g", *req.Temperature)
	}
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%d", req.Model, req.System, strings.TrimSpace(req.Prompt), temp, req.MaxTokens)
	return "paynews:llm:" + hex.EncodeToString(h.Sum(nil))
}

// RedisReplyCache is a ReplyCache backed by Redis.
type RedisReplyCache struct {
	client *redis.Client
}

// NewRedisReplyCache connects to url (redis://host:port/db) and pings it.
func NewRedisReplyCache(ctx context.Context, url string) (*RedisReplyCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("llm: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("llm: connect redis: %w", err)
	}
	return &RedisReplyCache{client: client}, nil
}

// NewRedisReplyCacheWithClient uses an existing client.
func NewRedisReplyCacheWithClient(client *redis.Client) *RedisReplyCache {
	return &RedisReplyCache{client: client}
}

func (r *RedisReplyCache) Get(ctx context.Context, key string) (*Completion, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("llm: redis get: %w", err)
	}
	var c Completion
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("llm: decode cached completion: %w", err)
	}
	return &c, nil
}

func (r *RedisReplyCache) Set(ctx context.Context, key string, c *Completion, ttl time.Duration) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("llm: encode completion: %w", err)
	}
	if err := r.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("llm: redis set: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (r *RedisReplyCache) Close() error { return r.client.Close() }
