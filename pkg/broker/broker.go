package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Broker is the stream surface consumed by the processor autoscaler and the
// cache-key API.
type Broker interface {
	// EnsureGroup creates the consumer group on the stream, creating the
	// stream too when absent. Safe to call repeatedly.
	EnsureGroup(ctx context.Context, stream, group string) error

	// Backlog returns the count of entries delivered to the group but not
	// yet acknowledged. A missing stream or group reads as zero.
	Backlog(ctx context.Context, stream, group string) (int64, error)

	// Namespace-scoped cache keys.
	GetCacheKey(ctx context.Context, namespace, key string) (string, error)
	ListCacheKeys(ctx context.Context, namespace string) ([]string, error)
	DeleteCacheKey(ctx context.Context, namespace, key string) error

	// Ping verifies connectivity, used by the health endpoint.
	Ping(ctx context.Context) error

	Close() error
}

// ErrKeyNotFound is returned for a cache key that does not exist.
var ErrKeyNotFound = fmt.Errorf("broker: key not found")

// RedisBroker implements Broker on Redis streams.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker connects to addr with an optional password.
func NewRedisBroker(addr, password string) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("broker: connect %s: %w", addr, err)
	}
	return &RedisBroker{client: client}, nil
}

// NewRedisBrokerFromClient wraps an existing client, used by tests with
// miniredis.
func NewRedisBrokerFromClient(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (b *RedisBroker) Backlog(ctx context.Context, stream, group string) (int64, error) {
	pending, err := b.client.XPending(ctx, stream, group).Result()
	if err != nil {
		// NOGROUP covers both a missing stream and a missing group.
		if strings.Contains(err.Error(), "NOGROUP") || err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("broker: xpending %s/%s: %w", stream, group, err)
	}
	return pending.Count, nil
}

func cachePrefix(namespace string) string {
	return "cache:" + namespace + ":"
}

func (b *RedisBroker) GetCacheKey(ctx context.Context, namespace, key string) (string, error) {
	val, err := b.client.Get(ctx, cachePrefix(namespace)+key).Result()
	if err == redis.Nil {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (b *RedisBroker) ListCacheKeys(ctx context.Context, namespace string) ([]string, error) {
	prefix := cachePrefix(namespace)
	var keys []string
	iter := b.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (b *RedisBroker) DeleteCacheKey(ctx context.Context, namespace, key string) error {
	n, err := b.client.Del(ctx, cachePrefix(namespace)+key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
