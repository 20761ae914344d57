package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lhdbsbz/citychat/internal/config"
)

const maxTxRetries = 16

// ErrContention is returned when an Update keeps losing optimistic races.
var ErrContention = errors.New("rate limit store contention")

// RedisStore shares windows across relay instances. Keys expire on their own;
// Sweep only catches windows written without a TTL.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedis connects using the rateLimit.redis config section and pings once.
func DialRedis(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStore(client, cfg.Prefix), nil
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

// Close releases the underlying client.
func (s *RedisStore) Close() error { return s.client.Close() }

func decodeWindow(data []byte) (Window, error) {
	var w Window
	if err := json.Unmarshal(data, &w); err != nil {
		return Window{}, fmt.Errorf("decode window: %w", err)
	}
	return w, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Window, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Window{}, false, nil
	}
	if err != nil {
		return Window{}, false, fmt.Errorf("get window: %w", err)
	}
	w, err := decodeWindow(data)
	return w, err == nil, err
}

func (s *RedisStore) Set(ctx context.Context, key string, w Window, ttl time.Duration) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode window: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("set window: %w", err)
	}
	return nil
}

// Update runs fn inside WATCH/MULTI and retries when another writer got there first.
func (s *RedisStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) (bool, error) {
	k := s.key(key)
	var wrote bool
	txf := func(tx *redis.Tx) error {
		wrote = false
		var cur Window
		exists := false
		data, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if cur, err = decodeWindow(data); err != nil {
				return err
			}
			exists = true
		}

		next, write := fn(cur, exists)
		if !write {
			return nil
		}
		enc, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode window: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, enc, ttl)
			return nil
		})
		if err == nil {
			wrote = true
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, k)
		if err == nil {
			return wrote, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return false, fmt.Errorf("update window: %w", err)
	}
	return false, ErrContention
}

func (s *RedisStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		data, err := s.client.Get(ctx, k).Bytes()
		if err != nil {
			continue
		}
		w, err := decodeWindow(data)
		if err != nil || w.Start.Before(cutoff) {
			if err := s.client.Del(ctx, k).Err(); err == nil {
				n++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("scan windows: %w", err)
	}
	return n, nil
}
