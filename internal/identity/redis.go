package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/Ant-Pavel/systech-aidd/internal/errors"
)

// RedisBackend shares assignments between processes. Ids come from a DECR
// counter; the token hash is written with HSETNX so a race between two
// processes settles on a single id. The loser's counter value is skipped.
type RedisBackend struct {
	client     redis.UniversalClient
	counterKey string
	hashKey    string
}

// NewRedisBackend stores keys under prefix (e.g. "aidd").
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	return &RedisBackend{
		client:     client,
		counterKey: prefix + ":sessions:counter",
		hashKey:    prefix + ":sessions",
	}
}

func (b *RedisBackend) Assign(ctx context.Context, token string) (int64, error) {
	id, err := b.client.HGet(ctx, b.hashKey, token).Int64()
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, redis.Nil) {
		return 0, apperrors.NewConnectivityError("failed to read session mapping", err)
	}

	// The counter starts at zero, so the first DECR yields -1.
	candidate, err := b.client.Decr(ctx, b.counterKey).Result()
	if err != nil {
		return 0, apperrors.NewConnectivityError("failed to allocate session id", err)
	}

	stored, err := b.client.HSetNX(ctx, b.hashKey, token, candidate).Result()
	if err != nil {
		return 0, apperrors.NewConnectivityError("failed to store session mapping", err)
	}
	if stored {
		return candidate, nil
	}

	id, err = b.client.HGet(ctx, b.hashKey, token).Int64()
	if err != nil {
		return 0, apperrors.NewConnectivityError(fmt.Sprintf("failed to read session mapping after race (candidate %d)", candidate), err)
	}
	return id, nil
}
