// Package rediskv implements kv.Store on a Redis server.
package rediskv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/walletsync/internal/kv"
	"github.com/redis/go-redis/v9"
)

// Options configures the Redis connection.
type Options struct {
	Addr      string
	Password  string
	DB        int
	Namespace string // prepended to every key, e.g. "walletsync:"
}

// NewClient creates a Redis client and verifies the connection.
func NewClient(opts Options) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return rdb, nil
}

// Store is a kv.Store that keeps every key as a Redis string.
type Store struct {
	client    *redis.Client
	namespace string
	owned     bool
}

// Open connects to Redis and returns a Store that owns the connection.
func Open(opts Options) (*Store, error) {
	client, err := NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &Store{client: client, namespace: opts.Namespace, owned: true}, nil
}

// New wraps an existing client. Close does not close the client.
func New(client *redis.Client, namespace string) *Store {
	return &Store{client: client, namespace: namespace}
}

// Get implements kv.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("rediskv: get %q: %w", key, err)
	}
	return v, nil
}

// Put implements kv.Store.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.namespace+key, value, 0).Err(); err != nil {
		return fmt.Errorf("rediskv: put %q: %w", key, err)
	}
	return nil
}

// Delete implements kv.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.namespace+key).Err(); err != nil {
		return fmt.Errorf("rediskv: delete %q: %w", key, err)
	}
	return nil
}

// Keys implements kv.Store.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	match := escapeGlob(s.namespace+prefix) + "*"
	for {
		batch, next, err := s.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("rediskv: scan %q: %w", prefix, err)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, s.namespace))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Strings(keys)
	return dedupSorted(keys), nil
}

// Close implements kv.Store.
func (s *Store) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

// escapeGlob escapes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}

// SCAN may return a key more than once.
func dedupSorted(keys []string) []string {
	if len(keys) < 2 {
		return keys
	}
	out := keys[:1]
	for _, k := range keys[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}

// Ensure Store implements kv.Store.
var _ kv.Store = (*Store)(nil)
