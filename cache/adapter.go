package cache

import (
	"context"
	"errors"
	"time"

	"github.com/sidequest/server/cache/local"
	cacheredis "github.com/sidequest/server/cache/redis"
)

// ErrNotFound is reported for missing keys and members. Use IsNotFound to
// test errors from either backend.
var ErrNotFound = errors.New("cache: key not found")

// IsNotFound reports whether err means the key or member does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, local.ErrNotFound) ||
		errors.Is(err, cacheredis.ErrNotFound)
}

// Cache defines the KV and sorted-set operations used for sessions and the
// leaderboard.
type Cache interface {
	// KV
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// ZSet
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, members ...string) error
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRevRank(ctx context.Context, key, member string) (int64, error)
	ZScore(ctx context.Context, key, member string) (float64, error)
	ZCard(ctx context.Context, key string) (int64, error)
}

// Message is a received pub/sub message.
type Message struct {
	Channel string
	Payload string
}

// PubSub defines channel publish/subscribe operations.
type PubSub interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error)
}

// PubSubStats counts live subscriptions in this process and messages
// handed to, or dropped for, slow subscribers.
type PubSubStats struct {
	Channels      int    `json:"channels"`
	Subscriptions int    `json:"subscriptions"`
	Delivered     uint64 `json:"delivered"`
	Dropped       uint64 `json:"dropped"`
}

type statsReporter interface {
	Stats() PubSubStats
}

// StatsOf returns the counters of ps when its backend keeps them.
func StatsOf(ps PubSub) (PubSubStats, bool) {
	if r, ok := ps.(statsReporter); ok {
		return r.Stats(), true
	}
	return PubSubStats{}, false
}

// Close releases the backend behind a Cache or PubSub, if it holds one.
func Close(v interface{}) error {
	switch c := v.(type) {
	case interface{ Close() error }:
		return c.Close()
	case interface{ Close() }:
		c.Close()
	}
	return nil
}

// CacheConfig holds configuration for both Redis and LocalCache.
type CacheConfig struct {
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisPrefix     string
	LocalGCInterval time.Duration
	LocalPubSubBuf  int
}

// NewCache returns a Cache backed by Redis if RedisAddr is set,
// otherwise an in-process LocalCache.
func NewCache(cfg CacheConfig) (Cache, error) {
	if cfg.RedisAddr != "" {
		return cacheredis.NewCache(redisConfig(cfg))
	}
	return local.NewCache(local.Config{GCInterval: cfg.LocalGCInterval})
}

// NewPubSub returns a PubSub backed by Redis if RedisAddr is set,
// otherwise an in-process LocalPubSub.
func NewPubSub(cfg CacheConfig) (PubSub, error) {
	if cfg.RedisAddr != "" {
		rps, err := cacheredis.NewPubSub(redisConfig(cfg))
		if err != nil {
			return nil, err
		}
		return &bridge[*cacheredis.RedisMessage]{
			backend: rps,
			convert: func(m *cacheredis.RedisMessage) *Message { return &Message{Channel: m.Channel, Payload: m.Payload} },
			stats: func() PubSubStats {
				st := rps.Stats()
				return PubSubStats{Channels: st.Channels, Subscriptions: st.Subscriptions, Delivered: st.Delivered, Dropped: st.Dropped}
			},
			close: rps.Close,
		}, nil
	}

	lps := local.NewPubSub(cfg.LocalPubSubBuf)
	return &bridge[*local.LocalMessage]{
		backend: lps,
		convert: func(m *local.LocalMessage) *Message { return &Message{Channel: m.Channel, Payload: m.Payload} },
		stats: func() PubSubStats {
			st := lps.Stats()
			return PubSubStats{Channels: st.Channels, Subscriptions: st.Subscriptions, Delivered: st.Delivered, Dropped: st.Dropped}
		},
	}, nil
}

func redisConfig(cfg CacheConfig) cacheredis.Config {
	return cacheredis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB, Prefix: cfg.RedisPrefix}
}

type backend[M any] interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channels ...string) (<-chan M, func(), error)
}

// bridge exposes a backend's own message type as *Message.
type bridge[M any] struct {
	backend backend[M]
	convert func(M) *Message
	stats   func() PubSubStats
	close   func() error
}

func (b *bridge[M]) Publish(ctx context.Context, channel, message string) error {
	return b.backend.Publish(ctx, channel, message)
}

// Subscribe relays backend messages in order. The relay ends when the
// backend closes its channel, which both backends do on cancel.
func (b *bridge[M]) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	in, cancel, err := b.backend.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan *Message, cap(in))
	go func() {
		defer close(out)
		for m := range in {
			out <- b.convert(m)
		}
	}()
	return out, cancel, nil
}

func (b *bridge[M]) Stats() PubSubStats { return b.stats() }

func (b *bridge[M]) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}
