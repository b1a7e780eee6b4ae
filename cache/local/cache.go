package local

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Config holds LocalCache settings.
type Config struct {
	GCInterval time.Duration
}

type value struct {
	data     string
	expireAt time.Time // zero means no expiry
}

func (v value) live(now time.Time) bool {
	return v.expireAt.IsZero() || now.Before(v.expireAt)
}

func deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

// LocalCache keeps sessions, ban markers and leaderboard sets in process
// memory for single-node deployments and tests.
type LocalCache struct {
	mu         sync.RWMutex
	kv         map[string]value
	zsets      map[string]*zset
	gcInterval time.Duration
	stopGC     chan struct{}
	stopOnce   sync.Once
}

// NewCache creates a LocalCache and starts the expiry sweeper.
func NewCache(cfg Config) (*LocalCache, error) {
	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	c := &LocalCache{
		kv:         make(map[string]value),
		zsets:      make(map[string]*zset),
		gcInterval: interval,
		stopGC:     make(chan struct{}),
	}
	go c.runGC()
	return c, nil
}

// Close stops the expiry sweeper. It is safe to call twice.
func (c *LocalCache) Close() {
	c.stopOnce.Do(func() { close(c.stopGC) })
}

func (c *LocalCache) runGC() {
	ticker := time.NewTicker(c.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			c.sweep(now)
		case <-c.stopGC:
			return
		}
	}
}

func (c *LocalCache) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, v := range c.kv {
		if !v.live(now) {
			delete(c.kv, k)
			n++
		}
	}
	return n
}

// lookup must be called with c.mu held.
func (c *LocalCache) lookup(key string, now time.Time) (value, bool) {
	v, ok := c.kv[key]
	if !ok || !v.live(now) {
		return value{}, false
	}
	return v, true
}

// ---- KV ----

func (c *LocalCache) Get(_ context.Context, key string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.lookup(key, time.Now())
	if !ok {
		return "", ErrNotFound
	}
	return v.data, nil
}

// Set stores value under key. A non-positive ttl keeps it until deleted.
func (c *LocalCache) Set(_ context.Context, key, val string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kv[key] = value{data: val, expireAt: deadline(ttl)}
	return nil
}

// Del removes string keys and sorted sets alike.
func (c *LocalCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.kv, k)
		delete(c.zsets, k)
	}
	return nil
}

func (c *LocalCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.lookup(key, time.Now()); ok {
		return true, nil
	}
	z, ok := c.zsets[key]
	return ok && len(z.order) > 0, nil
}

func (c *LocalCache) SetNX(_ context.Context, key, val string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lookup(key, time.Now()); ok {
		return false, nil
	}
	c.kv[key] = value{data: val, expireAt: deadline(ttl)}
	return true, nil
}

// Expire resets the lifetime of an existing key. A non-positive ttl
// deletes it, as Redis does.
func (c *LocalCache) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lookup(key, time.Now())
	if !ok {
		return ErrNotFound
	}
	if ttl <= 0 {
		delete(c.kv, key)
		return nil
	}
	v.expireAt = deadline(ttl)
	c.kv[key] = v
	return nil
}

// ---- ZSet ----

type zEntry struct {
	member string
	score  float64
}

// before reports whether a ranks ahead of b: higher score first, equal
// scores by member descending, matching ZREVRANGE.
func (a zEntry) before(b zEntry) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.member > b.member
}

// zset keeps members in rank order next to a score index, so rank and
// range queries are binary searches.
type zset struct {
	scores map[string]float64
	order  []zEntry
}

func newZSet() *zset { return &zset{scores: make(map[string]float64)} }

func (z *zset) position(e zEntry) int {
	return sort.Search(len(z.order), func(i int) bool { return !z.order[i].before(e) })
}

func (z *zset) remove(member string) bool {
	score, ok := z.scores[member]
	if !ok {
		return false
	}
	i := z.position(zEntry{member: member, score: score})
	z.order = append(z.order[:i], z.order[i+1:]...)
	delete(z.scores, member)
	return true
}

func (z *zset) add(member string, score float64) {
	z.remove(member)
	e := zEntry{member: member, score: score}
	i := z.position(e)
	z.order = append(z.order, zEntry{})
	copy(z.order[i+1:], z.order[i:])
	z.order[i] = e
	z.scores[member] = score
}

// span converts Redis-style inclusive, possibly negative, bounds to a
// slice range. ok is false when the range is empty.
func span(start, stop int64, n int) (lo, hi int, ok bool) {
	size := int64(n)
	if start < 0 {
		start += size
	}
	if stop < 0 {
		stop += size
	}
	if start < 0 {
		start = 0
	}
	if stop >= size {
		stop = size - 1
	}
	if size == 0 || start > stop {
		return 0, 0, false
	}
	return int(start), int(stop) + 1, true
}

func (c *LocalCache) ZAdd(_ context.Context, key string, score float64, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	z, ok := c.zsets[key]
	if !ok {
		z = newZSet()
		c.zsets[key] = z
	}
	z.add(member, score)
	return nil
}

func (c *LocalCache) ZRem(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	z, ok := c.zsets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		z.remove(m)
	}
	if len(z.order) == 0 {
		delete(c.zsets, key)
	}
	return nil
}

// ZRevRange returns members from rank start to stop inclusive, highest
// score first. Negative bounds count from the end.
func (c *LocalCache) ZRevRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	z, ok := c.zsets[key]
	if !ok {
		return nil, nil
	}
	lo, hi, ok := span(start, stop, len(z.order))
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, hi-lo)
	for _, e := range z.order[lo:hi] {
		out = append(out, e.member)
	}
	return out, nil
}

// ZRevRank returns the 0-based position of member, highest score first.
func (c *LocalCache) ZRevRank(_ context.Context, key, member string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	z, ok := c.zsets[key]
	if !ok {
		return 0, ErrNotFound
	}
	score, ok := z.scores[member]
	if !ok {
		return 0, ErrNotFound
	}
	return int64(z.position(zEntry{member: member, score: score})), nil
}

func (c *LocalCache) ZScore(_ context.Context, key, member string) (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if z, ok := c.zsets[key]; ok {
		if score, ok := z.scores[member]; ok {
			return score, nil
		}
	}
	return 0, ErrNotFound
}

func (c *LocalCache) ZCard(_ context.Context, key string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if z, ok := c.zsets[key]; ok {
		return int64(len(z.order)), nil
	}
	return 0, nil
}
