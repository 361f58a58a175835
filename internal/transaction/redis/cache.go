package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	txdata "github.com/frahmantamala/stkpush-checkout/internal/core/datamodel/transaction"
	transactionpkg "github.com/frahmantamala/stkpush-checkout/internal/transaction"
)

var _ transactionpkg.StatusCache = (*StatusCache)(nil)

const keyPrefix = "stkpush:txn:"

// Store is the subset of the go-redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
}

// StatusCache keeps terminal transactions as JSON. Pending rows are never
// stored since they can still change.
type StatusCache struct {
	store Store
	ttl   time.Duration
}

func NewStatusCache(store Store, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StatusCache{store: store, ttl: ttl}
}

func (c *StatusCache) Get(ctx context.Context, requestID string) (*txdata.Transaction, error) {
	raw, err := c.store.Get(ctx, keyPrefix+requestID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", requestID, err)
	}

	var t txdata.Transaction
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode cached transaction %s: %w", requestID, err)
	}
	return &t, nil
}

func (c *StatusCache) Set(ctx context.Context, t *txdata.Transaction) error {
	if t.Status == txdata.StatusPending {
		return nil
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode transaction %s: %w", t.TransactionRequestID, err)
	}

	if err := c.store.Set(ctx, keyPrefix+t.TransactionRequestID, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", t.TransactionRequestID, err)
	}
	return nil
}

// NewClient opens a go-redis client and checks it with PING.
func NewClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}
