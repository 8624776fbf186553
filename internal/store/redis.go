package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

const (
	writerLockTTL     = 10 * time.Second
	writerLockRetries = 50
	writerLockBackoff = 100 * time.Millisecond
)

// RedisBlobs stores database images as plain Redis string values. Every save
// holds the "<key>:writer" lock so two processes never interleave writes to
// the same image.
type RedisBlobs struct {
	client *redis.Client
	locker *redislock.Client
}

// NewRedisBlobs connects to addr and verifies the connection with PING.
func NewRedisBlobs(ctx context.Context, addr string) (*RedisBlobs, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisBlobs{client: client, locker: redislock.New(client)}, nil
}

func (b *RedisBlobs) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (b *RedisBlobs) Save(ctx context.Context, key string, data []byte) error {
	lockCtx, cancel := context.WithTimeout(ctx, writerLockTTL)
	defer cancel()

	lock, err := b.locker.Obtain(lockCtx, key+":writer", writerLockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(writerLockBackoff), writerLockRetries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return fmt.Errorf("database image %q is being written by another process", key)
	}
	if err != nil {
		return err
	}
	defer func() {
		_ = lock.Release(context.Background())
	}()

	return b.client.Set(ctx, key, data, 0).Err()
}

func (b *RedisBlobs) Close() error {
	return b.client.Close()
}
