// Package redis provides a durable tier shared between processes.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	authclient "github.com/goliatone/go-auth-client"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "devdash:"

// Store implements authclient.KVStore on a Redis client.
type Store struct {
	client *redis.Client
	prefix string
}

var (
	_ authclient.KVStore           = (*Store)(nil)
	_ authclient.ConditionalWriter = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New wraps an existing client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Open parses url, connects and pings the server.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	options.DialTimeout = 5 * time.Second
	options.ReadTimeout = 3 * time.Second
	options.WriteTimeout = 3 * time.Second

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, authclient.NetworkError(fmt.Errorf("failed to connect to redis: %w", err), "storage")
	}

	return New(client, opts...), nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes keys in one DEL command.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.prefix + k
	}
	if err := s.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// WriteIf sets values in a MULTI block guarded by WATCH on key. A missing key,
// a different value, or a concurrent change to key between the read and EXEC
// all report false without writing.
func (s *Store) WriteIf(ctx context.Context, key, expected string, values map[string]string) (bool, error) {
	watched := s.prefix + key
	wrote := false
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, watched).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if current != expected {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for k, v := range values {
				pipe.Set(ctx, s.prefix+k, v, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}
		wrote = true
		return nil
	}

	err := s.client.Watch(ctx, txf, watched)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis conditional write failed: %w", err)
	}
	return wrote, nil
}
