package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"boltcard-service/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// TopUpCache implements ports.TopUpCache using Redis. It mirrors pending
// top-ups in front of the durable store; a miss is never an error and the
// mirror is never consulted for idempotency decisions.
type TopUpCache struct {
	client *goredis.Client
	prefix string
}

// NewTopUpCache creates a new Redis-backed pending top-up mirror.
func NewTopUpCache(client *goredis.Client) *TopUpCache {
	return &TopUpCache{
		client: client,
		prefix: "topup:",
	}
}

// Get retrieves a pending top-up by payment hash.
// Returns nil, nil if the hash is not cached.
func (c *TopUpCache) Get(ctx context.Context, paymentHash string) (*domain.PendingTopUp, error) {
	val, err := c.client.Get(ctx, c.prefix+paymentHash).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis topup get: %w", err)
	}

	p := &domain.PendingTopUp{}
	if err := json.Unmarshal(val, p); err != nil {
		return nil, fmt.Errorf("redis topup decode: %w", err)
	}
	return p, nil
}

// Put stores a pending top-up with TTL.
func (c *TopUpCache) Put(ctx context.Context, p *domain.PendingTopUp, ttl time.Duration) error {
	val, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis topup encode: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+p.PaymentHash, val, ttl).Err(); err != nil {
		return fmt.Errorf("redis topup set: %w", err)
	}
	return nil
}

// Invalidate drops a cached entry.
func (c *TopUpCache) Invalidate(ctx context.Context, paymentHash string) error {
	if err := c.client.Del(ctx, c.prefix+paymentHash).Err(); err != nil {
		return fmt.Errorf("redis topup del: %w", err)
	}
	return nil
}
