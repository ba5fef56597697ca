package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/cuongbtq/roomflow/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Ledger remembers webhook deliveries that were fully processed so exact
// redeliveries can be acknowledged without touching the job store.
type Ledger interface {
	Seen(ctx context.Context, key string) (bool, error)
	Record(ctx context.Context, key string) error
}

// DeliveryKey identifies a delivery by job kind and the digest of its raw body
func DeliveryKey(kind domain.Kind, rawBody []byte) string {
	sum := sha256.Sum256(rawBody)
	return string(kind) + ":" + hex.EncodeToString(sum[:])
}

// MemoryLedger is an in-process Ledger with per-entry expiry
type MemoryLedger struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryLedger creates a MemoryLedger
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (l *MemoryLedger) Seen(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	expiresAt, ok := l.entries[key]
	if !ok {
		return false, nil
	}
	if !l.now().Before(expiresAt) {
		delete(l.entries, key)
		return false, nil
	}
	return true, nil
}

func (l *MemoryLedger) Record(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, expiresAt := range l.entries {
		if !now.Before(expiresAt) {
			delete(l.entries, k)
		}
	}
	l.entries[key] = now.Add(l.ttl)
	return nil
}

// RedisLedger stores delivery keys in Redis with a TTL
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLedger creates a RedisLedger
func NewRedisLedger(client *redis.Client, prefix string, ttl time.Duration) *RedisLedger {
	return &RedisLedger{client: client, prefix: prefix, ttl: ttl}
}

func (l *RedisLedger) key(key string) string {
	return l.prefix + ":" + key
}

func (l *RedisLedger) Seen(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check delivery ledger: %w", err)
	}
	return n > 0, nil
}

func (l *RedisLedger) Record(ctx context.Context, key string) error {
	if err := l.client.SetNX(ctx, l.key(key), 1, l.ttl).Err(); err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 10,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connect error: %w", err)
	}

	return client, nil
}
