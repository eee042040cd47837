package resilience

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("rate limited")

// LimiterOpts configures a per-key token bucket.
type LimiterOpts struct {
	// Rate is the number of tokens added per second.
	Rate float64
	// Burst is the bucket capacity.
	Burst int
	// IdleTTL evicts buckets that have not been used for this long.
	IdleTTL time.Duration
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// KeyedLimiter keeps one token bucket per key, such as a client address.
type KeyedLimiter struct {
	mu      sync.Mutex
	opts    LimiterOpts
	buckets map[string]*bucket
	lastGC  time.Time
	now     func() time.Time
}

// NewKeyedLimiter creates a limiter. Non-positive rates disable limiting.
func NewKeyedLimiter(opts LimiterOpts) *KeyedLimiter {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Minute
	}
	return &KeyedLimiter{
		opts:    opts,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether key may proceed now, consuming a token if so.
func (l *KeyedLimiter) Allow(key string) bool {
	if l.opts.Rate <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastGC) > l.opts.IdleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > l.opts.IdleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastGC = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(l.opts.Rate), l.opts.Burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
