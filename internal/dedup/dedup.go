// Package dedup records which change events have already been applied, so a
// redelivered event can be acknowledged without re-running its fan-out.
package dedup

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Ledger remembers applied event IDs.
type Ledger interface {
	// Seen reports whether id was marked and has not expired.
	Seen(ctx context.Context, id string) (bool, error)

	// Mark records id as applied.
	Mark(ctx context.Context, id string) error
}

// DefaultTTL matches the 24 hour retention of a DynamoDB stream: a record can
// not be redelivered after it leaves the stream.
const DefaultTTL = 24 * time.Hour

// RedisLedger is a Ledger backed by Redis keys with an expiry.
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLedger creates a ledger storing keys as prefix+id. A non-positive ttl
// uses DefaultTTL.
func NewRedisLedger(client *redis.Client, prefix string, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLedger{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (l *RedisLedger) key(id string) string {
	return l.prefix + id
}

// Seen reports whether id has been marked.
func (l *RedisLedger) Seen(ctx context.Context, id string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records id as applied for the ledger's TTL.
func (l *RedisLedger) Mark(ctx context.Context, id string) error {
	return l.client.Set(ctx, l.key(id), time.Now().UTC().Format(time.RFC3339), l.ttl).Err()
}

// Nop is a Ledger that remembers nothing.
type Nop struct{}

func (Nop) Seen(context.Context, string) (bool, error) { return false, nil }
func (Nop) Mark(context.Context, string) error         { return nil }
