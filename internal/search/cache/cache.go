// Package cache implements the Redis-backed search result cache placed in
// front of the query path. Concurrent identical queries are collapsed with
// singleflight, and a circuit breaker keeps a flapping Redis out of the hot
// path.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/voldyman/typesense/internal/collection"
	"github.com/voldyman/typesense/pkg/config"
	pkgredis "github.com/voldyman/typesense/pkg/redis"
	"github.com/voldyman/typesense/pkg/resilience"
)

const keyPrefix = "search:"

// QueryCache caches assembled search results keyed by a canonical hash of
// the search parameters.
type QueryCache struct {
	client  *pkgredis.Client
	cfg     config.RedisConfig
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a QueryCache over an established Redis client.
func New(client *pkgredis.Client, cfg config.RedisConfig) *QueryCache {
	return &QueryCache{
		client:  client,
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker("search-cache", resilience.CircuitBreakerConfig{}),
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Get returns a cached result for the given collection and params.
func (c *QueryCache) Get(ctx context.Context, coll string, params collection.SearchParams) (*collection.SearchResult, bool) {
	key := c.buildKey(coll, params)
	var data string
	err := c.breaker.Execute(func() error {
		var getErr error
		data, getErr = c.client.Get(ctx, key)
		if pkgredis.IsNilError(getErr) {
			data = ""
			return nil
		}
		return getErr
	})
	if err != nil || data == "" {
		c.misses.Add(1)
		return nil, false
	}
	var result collection.SearchResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return &result, true
}

// Set stores a result with the configured TTL.
func (c *QueryCache) Set(ctx context.Context, coll string, params collection.SearchParams, result *collection.SearchResult) {
	key := c.buildKey(coll, params)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.breaker.Execute(func() error {
		return c.client.Set(ctx, key, data, c.cfg.CacheTTL)
	}); err != nil {
		c.logger.Debug("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns a cached result or computes and caches it, collapsing
// concurrent identical queries into one computation. The second return value
// reports whether the result was served from cache.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	coll string,
	params collection.SearchParams,
	computeFn func() (*collection.SearchResult, error),
) (*collection.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, coll, params); ok {
		return result, true, nil
	}
	key := c.buildKey(coll, params)
	v, err, _ := c.group.Do(key, func() (any, error) {
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, coll, params, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*collection.SearchResult), false, nil
}

// Invalidate drops every cached result for a collection; called after a
// committed write.
func (c *QueryCache) Invalidate(ctx context.Context, coll string) {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+coll+":*")
	if err != nil {
		c.logger.Error("cache invalidation failed", "collection", coll, "error", err)
		return
	}
	c.logger.Debug("cache invalidated", "collection", coll, "keys", deleted)
}

// Stats returns the hit and miss counters.
func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// buildKey canonicalises the parameters into a stable cache key.
func (c *QueryCache) buildKey(coll string, p collection.SearchParams) string {
	parts := []string{
		p.Q,
		strings.Join(p.QueryBy, ","),
		p.FilterBy,
		strings.Join(p.FacetBy, ","),
		strings.Join(p.SortBy, ","),
		strconv.Itoa(p.NumTypos),
		strconv.Itoa(p.Page),
		strconv.Itoa(p.PerPage),
		strconv.FormatBool(p.Prefix),
		p.FacetQuery,
		strings.Join(p.GroupBy, ","),
		strconv.Itoa(p.GroupLimit),
		p.PinnedHits,
		p.HiddenHits,
	}
	include := append([]string(nil), p.IncludeFields...)
	exclude := append([]string(nil), p.ExcludeFields...)
	sort.Strings(include)
	sort.Strings(exclude)
	parts = append(parts, strings.Join(include, ","), strings.Join(exclude, ","))

	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return fmt.Sprintf("%s%s:%x", keyPrefix, coll, sum[:16])
}
