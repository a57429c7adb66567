package client

import (
	"context"
	"fmt"
	"io"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/storage/bbolt"
	"github.com/goliatone/go-auth-client/storage/redis"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenDurableStore opens the durable tier selected by cfg. The returned
// closer releases the backend.
func OpenDurableStore(ctx context.Context, cfg authclient.StorageConfig) (authclient.KVStore, io.Closer, error) {
	switch cfg.Durable {
	case authclient.DurableBBolt:
		s, err := bbolt.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case authclient.DurableRedis:
		s, err := redis.Open(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case authclient.DurableMemory, "":
		return authclient.NewMemoryStore(), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown durable storage %q", authclient.ErrInvalidConfig, cfg.Durable)
	}
}
