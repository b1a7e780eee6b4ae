package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Config holds Redis connection settings. Prefix namespaces every key and
// channel so several deployments can share one server.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

const (
	dialTimeout = 5 * time.Second
	subBuffer   = 256
)

func dial(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// RedisCache implements the Cache interface backed by Redis.
type RedisCache struct {
	client *goredis.Client
	ns     namespace
}

// NewCache creates a Redis-backed cache.
func NewCache(cfg Config) (*RedisCache, error) {
	client, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: client, ns: namespace(cfg.Prefix)}, nil
}

// Close releases the connection pool.
func (r *RedisCache) Close() error { return r.client.Close() }

// namespace prefixes keys and channel names.
type namespace string

func (n namespace) key(k string) string { return string(n) + k }

func (n namespace) keys(ks []string) []string {
	if n == "" {
		return ks
	}
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = n.key(k)
	}
	return out
}

func (n namespace) strip(k string) string { return strings.TrimPrefix(k, string(n)) }

// notFound maps a redis nil reply onto ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, goredis.Nil) {
		return ErrNotFound
	}
	return err
}

// ---- KV ----

func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.ns.key(key)).Result()
	return v, notFound(err)
}

func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, r.ns.key(key), value, ttl).Err()
}

func (r *RedisCache) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, r.ns.keys(keys)...).Err()
}

func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.ns.key(key)).Result()
	return n > 0, err
}

func (r *RedisCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.ns.key(key), value, ttl).Result()
}

// Expire with a non-positive ttl deletes the key, matching the local cache.
func (r *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return r.client.Del(ctx, r.ns.key(key)).Err()
	}
	return r.client.Expire(ctx, r.ns.key(key), ttl).Err()
}

// ---- ZSet ----

func (r *RedisCache) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return r.client.ZAdd(ctx, r.ns.key(key), goredis.Z{Score: score, Member: member}).Err()
}

func (r *RedisCache) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.ZRevRange(ctx, r.ns.key(key), start, stop).Result()
}

func (r *RedisCache) ZRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, 0, len(members))
	for _, m := range members {
		args = append(args, m)
	}
	return r.client.ZRem(ctx, r.ns.key(key), args...).Err()
}

func (r *RedisCache) ZRevRank(ctx context.Context, key, member string) (int64, error) {
	v, err := r.client.ZRevRank(ctx, r.ns.key(key), member).Result()
	return v, notFound(err)
}

func (r *RedisCache) ZCard(ctx context.Context, key string) (int64, error) {
	return r.client.ZCard(ctx, r.ns.key(key)).Result()
}

func (r *RedisCache) ZScore(ctx context.Context, key, member string) (float64, error) {
	v, err := r.client.ZScore(ctx, r.ns.key(key), member).Result()
	return v, notFound(err)
}

// ---- PubSub ----

// RedisMessage is the message type returned by RedisPubSub.Subscribe.
type RedisMessage struct {
	Channel string
	Payload string
}

// PubSubStats mirrors the local backend's counters. Channels and
// Subscriptions count this process only.
type PubSubStats struct {
	Channels      int
	Subscriptions int
	Delivered     uint64
	Dropped       uint64
}

// RedisPubSub wraps the Redis PubSub client.
type RedisPubSub struct {
	client    *goredis.Client
	ns        namespace
	mu        sync.Mutex
	channels  map[string]int
	subs      int
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewPubSub creates a Redis-backed PubSub.
func NewPubSub(cfg Config) (*RedisPubSub, error) {
	client, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	return &RedisPubSub{client: client, ns: namespace(cfg.Prefix), channels: make(map[string]int)}, nil
}

func (r *RedisPubSub) Publish(ctx context.Context, channel, message string) error {
	return r.client.Publish(ctx, r.ns.key(channel), message).Err()
}

// Subscribe waits for the server to confirm the subscription so that a
// publish issued right after it returns is not missed. Messages that do
// not fit the local buffer are dropped and counted.
func (r *RedisPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *RedisMessage, func(), error) {
	ps := r.client.Subscribe(ctx, r.ns.keys(channels)...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("redis: subscribe: %w", err)
	}
	r.track(channels, 1)

	ch := make(chan *RedisMessage, subBuffer)
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			select {
			case ch <- &RedisMessage{Channel: r.ns.strip(msg.Channel), Payload: msg.Payload}:
				r.delivered.Add(1)
			default:
				r.dropped.Add(1)
			}
		}
	}()

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
			r.track(channels, -1)
		})
	}
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-done:
			}
		}()
	}
	return ch, cancel, nil
}

func (r *RedisPubSub) track(channels []string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs += delta
	for _, c := range channels {
		r.channels[c] += delta
		if r.channels[c] <= 0 {
			delete(r.channels, c)
		}
	}
}

// Stats reports this process's subscriptions and delivery counters.
func (r *RedisPubSub) Stats() PubSubStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return PubSubStats{
		Channels:      len(r.channels),
		Subscriptions: r.subs,
		Delivered:     r.delivered.Load(),
		Dropped:       r.dropped.Load(),
	}
}

// Close releases the connection pool.
func (r *RedisPubSub) Close() error { return r.client.Close() }
