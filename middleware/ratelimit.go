package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterSweepEvery = time.Minute
)

// KeyFunc picks the bucket a request is charged against. An empty key
// skips limiting for that request.
type KeyFunc func(c *gin.Context) string

// ByClientIP charges every request to its client address.
func ByClientIP(c *gin.Context) string { return c.ClientIP() }

// ByUser charges authenticated requests to the user id and falls back
// to the client address when Auth has not run.
func ByUser(c *gin.Context) string {
	if id := GetUserID(c); id != 0 {
		return "u:" + strconv.FormatInt(id, 10)
	}
	return "ip:" + c.ClientIP()
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterSet struct {
	mu        sync.Mutex
	r         rate.Limit
	b         int
	buckets   map[string]*bucket
	lastSweep time.Time
}

func newLimiterSet(r rate.Limit, b int) *limiterSet {
	return &limiterSet{r: r, b: b, buckets: make(map[string]*bucket), lastSweep: time.Now()}
}

// reserve returns zero when the request may proceed, otherwise how long
// the caller should wait before retrying.
func (s *limiterSet) reserve(key string, now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= limiterSweepEvery {
		for k, bk := range s.buckets {
			if now.Sub(bk.lastSeen) > limiterIdleTTL {
				delete(s.buckets, k)
			}
		}
		s.lastSweep = now
	}

	bk, ok := s.buckets[key]
	if !ok {
		bk = &bucket{limiter: rate.NewLimiter(s.r, s.b)}
		s.buckets[key] = bk
	}
	bk.lastSeen = now

	res := bk.limiter.ReserveN(now, 1)
	if !res.OK() {
		return time.Hour
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return d
	}
	return 0
}

func (s *limiterSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// RateLimit provides per-IP token-bucket rate limiting.
// r = requests per second, b = burst size. A non-positive r disables it.
func RateLimit(r rate.Limit, b int) gin.HandlerFunc {
	return RateLimitBy(r, b, ByClientIP)
}

// RateLimitBy is RateLimit with a caller-chosen bucket key. Rejected
// requests get 429 and a Retry-After header in whole seconds.
func RateLimitBy(r rate.Limit, b int, key KeyFunc) gin.HandlerFunc {
	if r <= 0 || b <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	set := newLimiterSet(r, b)

	return func(c *gin.Context) {
		k := key(c)
		if k == "" {
			c.Next()
			return
		}
		if wait := set.reserve(k, time.Now()); wait > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"code":  "rate_limited",
			})
			return
		}
		c.Next()
	}
}
