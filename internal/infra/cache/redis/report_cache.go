// Package redis caches report reads in front of a reports.Repository.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	domain "github.com/bryanwahyu/skinscan/internal/domain/reports"
)

// KV is the subset of *redis.Client the cache uses.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Connect opens a client and pings it.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// ReportCache is a read-through decorator. Cache failures never fail a
// call; they are logged and the inner repository answers.
//
// A Load racing an Update may still cache the row it read before the write.
// That copy carries the old version, so the next Update through it fails
// with ErrConflict, which evicts the entry and makes the retry read the store.
type ReportCache struct {
	inner  domain.Repository
	kv     KV
	ttl    time.Duration
	prefix string
	log    *zap.Logger
}

func NewReportCache(inner domain.Repository, kv KV, ttl time.Duration, log *zap.Logger) *ReportCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ReportCache{
		inner:  inner,
		kv:     kv,
		ttl:    ttl,
		prefix: "skinscan:report:",
		log:    log.With(zap.String("component", "report_cache")),
	}
}

func (c *ReportCache) key(id domain.ID) string { return c.prefix + string(id) }

func (c *ReportCache) Save(ctx context.Context, r *domain.Report) (domain.ID, error) {
	return c.inner.Save(ctx, r)
}

func (c *ReportCache) Load(ctx context.Context, id domain.ID) (*domain.Report, error) {
	raw, err := c.kv.Get(ctx, c.key(id)).Bytes()
	switch {
	case err == nil:
		var r domain.Report
		if jerr := json.Unmarshal(raw, &r); jerr == nil {
			return &r, nil
		}
		c.log.Warn("drop undecodable cache entry", zap.String("id", string(id)))
		c.evict(ctx, id)
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn("cache get failed", zap.String("id", string(id)), zap.Error(err))
	}

	r, err := c.inner.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, r)
	return r, nil
}

// Update evicts after every attempt, including a failed one.
func (c *ReportCache) Update(ctx context.Context, r *domain.Report) error {
	id := r.Clone().ID
	err := c.inner.Update(ctx, r)
	c.evict(ctx, id)
	return err
}

func (c *ReportCache) Latest(ctx context.Context, userID string, limit int) ([]*domain.Report, error) {
	return c.inner.Latest(ctx, userID, limit)
}

func (c *ReportCache) Delete(ctx context.Context, id domain.ID) error {
	if err := c.inner.Delete(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, id)
	return nil
}

func (c *ReportCache) store(ctx context.Context, r *domain.Report) {
	b, err := json.Marshal(r)
	if err != nil {
		return
	}
	// an entry written meanwhile by a later Load is at least as fresh
	if err := c.kv.SetNX(ctx, c.key(r.ID), b, c.ttl).Err(); err != nil {
		c.log.Warn("cache set failed", zap.String("id", string(r.ID)), zap.Error(err))
	}
}

func (c *ReportCache) evict(ctx context.Context, id domain.ID) {
	if err := c.kv.Del(ctx, c.key(id)).Err(); err != nil {
		c.log.Warn("cache evict failed", zap.String("id", string(id)), zap.Error(err))
	}
}
