// Package ratelimit throttles analysis requests per client with a token bucket.
// Every analysis fans out to several paid upstream APIs, so the limit is
// applied to the analyze routes rather than the whole API.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Config configures rate limiting
type Config struct {
	// RequestsPerMinute is the sustained rate per client.
	RequestsPerMinute int
	// BurstSize is the bucket capacity.
	BurstSize int
	// CleanupInterval is how often idle clients are forgotten.
	CleanupInterval time.Duration
}

// DefaultConfig returns the defaults used when RATE_LIMIT_RPM is unset.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 120,
		BurstSize:         20,
		CleanupInterval:   time.Minute,
	}
}

// Limiter tracks one bucket per client key.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// New creates a limiter and starts its cleanup goroutine.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = def.BurstSize
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := l.now().Add(-2 * time.Minute)
			for key, b := range l.buckets {
				if b.seen.Before(cutoff) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Allow takes a token for key. When the bucket is empty it returns false
// and the wait until the next token.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rate := float64(l.cfg.RequestsPerMinute) / 60.0
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: float64(l.cfg.BurstSize - 1), seen: now}
		return true, 0
	}

	b.tokens = math.Min(float64(l.cfg.BurstSize), b.tokens+now.Sub(b.seen).Seconds()*rate)
	b.seen = now
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / rate * float64(time.Second))
	return false, wait
}

// Middleware limits by client IP and answers 429 with Retry-After.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := l.Allow(c.ClientIP())
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": secs,
			})
			return
		}
		c.Next()
	}
}
