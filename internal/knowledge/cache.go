package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// CachedEmbedder memoizes query embeddings in redis keyed by model and text.
type CachedEmbedder struct {
	next   Embedder
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedEmbedder wraps next. A nil redis client disables caching.
func NewCachedEmbedder(next Embedder, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedEmbedder {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedEmbedder{next: next, redis: client, ttl: ttl, logger: logger}
}

func (c *CachedEmbedder) Model() string { return c.next.Model() }

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.redis == nil {
		return c.next.Embed(ctx, text)
	}
	key := embeddingKey(c.next.Model(), text)
	if data, err := c.redis.Get(ctx, key).Bytes(); err == nil {
		var vec []float32
		if err := json.Unmarshal(data, &vec); err == nil && len(vec) > 0 {
			return vec, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("embedding cache read failed", "error", err)
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(vec); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("embedding cache write failed", "error", err)
		}
	}
	return vec, nil
}

func embeddingKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return "knowledge:embedding:" + hex.EncodeToString(sum[:])
}
