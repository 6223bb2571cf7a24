package signature

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupStore answers whether a signature hash has been seen before. It must
// report true exactly once per hash and false afterwards.
type DedupStore interface {
	IsNewError(ctx context.Context, hash string) (bool, error)
}

type MemoryDedupStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDedupStore() *MemoryDedupStore {
	return &MemoryDedupStore{seen: map[string]struct{}{}}
}

func (s *MemoryDedupStore) IsNewError(ctx context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[hash]; ok {
		return false, nil
	}
	s.seen[hash] = struct{}{}
	return true, nil
}

// NoopDedupStore is selected when no dedup backend is configured. Every hash
// is reported as new so that repeats are notified rather than dropped.
type NoopDedupStore struct{}

func (NoopDedupStore) IsNewError(ctx context.Context, hash string) (bool, error) {
	return true, nil
}

type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisDedupStore records first-seen hashes with SETNX.
type RedisDedupStore struct {
	client setNXer
	prefix string
	ttl    time.Duration
}

func NewRedisDedupStore(client setNXer, prefix string, ttl time.Duration) *RedisDedupStore {
	if prefix == "" {
		prefix = "alertengine:sig:"
	}
	return &RedisDedupStore{client: client, prefix: prefix, ttl: ttl}
}

// ConnectRedis parses a redis URL and pings the server. A nil client and an
// error are returned when the server is unreachable.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = 3 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (s *RedisDedupStore) IsNewError(ctx context.Context, hash string) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+hash, time.Now().UTC().Unix(), s.ttl).Result()
}
