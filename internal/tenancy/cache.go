package tenancy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// CachedRepository fronts a Repository with a redis cache for tenant configs.
// Clinic and doctor reads pass straight through.
type CachedRepository struct {
	Repository
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedRepository wraps repo. A nil redis client disables caching.
func NewCachedRepository(repo Repository, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedRepository {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRepository{Repository: repo, redis: client, ttl: ttl, logger: logger}
}

func tenantCacheKey(tenantID string) string {
	return fmt.Sprintf("tenancy:tenant:%s", tenantID)
}

func routingKey(routingID string) string {
	return fmt.Sprintf("tenancy:routing:%s", routingID)
}

// GetTenant returns the cached tenant or loads and caches it.
func (c *CachedRepository) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	if t := c.readCached(ctx, tenantCacheKey(tenantID)); t != nil {
		return t, nil
	}
	t, err := c.Repository.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	c.writeCached(ctx, tenantCacheKey(tenantID), t)
	return t, nil
}

// GetTenantByRoutingID caches the routing id -> tenant mapping.
func (c *CachedRepository) GetTenantByRoutingID(ctx context.Context, routingID string) (*Tenant, error) {
	if c.redis != nil {
		id, err := c.redis.Get(ctx, routingKey(routingID)).Result()
		if err == nil && id != "" {
			return c.GetTenant(ctx, id)
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			c.logger.Warn("tenant routing cache read failed", "routing_id", routingID, "error", err)
		}
	}
	t, err := c.Repository.GetTenantByRoutingID(ctx, routingID)
	if err != nil {
		return nil, err
	}
	if c.redis != nil {
		if err := c.redis.Set(ctx, routingKey(routingID), t.ID, c.ttl).Err(); err != nil {
			c.logger.Warn("tenant routing cache write failed", "routing_id", routingID, "error", err)
		}
	}
	c.writeCached(ctx, tenantCacheKey(t.ID), t)
	return t, nil
}

// Invalidate drops the cached tenant.
func (c *CachedRepository) Invalidate(ctx context.Context, tenantID string) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, tenantCacheKey(tenantID)).Err()
}

func (c *CachedRepository) readCached(ctx context.Context, key string) *Tenant {
	if c.redis == nil {
		return nil
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("tenant cache read failed", "key", key, "error", err)
		}
		return nil
	}
	var t Tenant
	if err := json.Unmarshal(data, &t); err != nil {
		c.logger.Warn("tenant cache entry corrupt", "key", key, "error", err)
		return nil
	}
	return &t
}

func (c *CachedRepository) writeCached(ctx context.Context, key string, t *Tenant) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("tenant cache write failed", "key", key, "error", err)
	}
}
