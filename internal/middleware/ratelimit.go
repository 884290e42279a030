package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter gates requests per key. Implementations must count
// concurrent increments for the same key consistently.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter is an in-process sliding-window limiter. It enforces a
// per-instance quota only; deployments with more than one process should
// use the Redis-backed limiter so all instances share one counter.
type MemoryLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	window   time.Duration
	maxReqs  int
}

// NewMemoryLimiter creates a new in-memory limiter.
func NewMemoryLimiter(window time.Duration, maxReqs int) *MemoryLimiter {
	rl := &MemoryLimiter{
		requests: make(map[string][]time.Time),
		window:   window,
		maxReqs:  maxReqs,
	}
	go rl.cleanup()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (rl *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	reqs := rl.requests[key]
	filtered := make([]time.Time, 0, len(reqs))
	for _, t := range reqs {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}

	if len(filtered) >= rl.maxReqs {
		rl.requests[key] = filtered
		return false, nil
	}

	rl.requests[key] = append(filtered, now)
	return true, nil
}

// cleanup periodically drops idle keys to prevent unbounded growth.
func (rl *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		cutoff := time.Now().Add(-rl.window * 2)
		for key, reqs := range rl.requests {
			keep := reqs[:0]
			for _, t := range reqs {
				if t.After(cutoff) {
					keep = append(keep, t)
				}
			}
			if len(keep) == 0 {
				delete(rl.requests, key)
			} else {
				rl.requests[key] = keep
			}
		}
		rl.mu.Unlock()
	}
}

// RedisLimiter is a fixed-window limiter on shared Redis counters, so
// every instance of the service enforces the same quota. INCR plus a
// first-increment EXPIRE keeps the counter self-cleaning.
type RedisLimiter struct {
	client  *redis.Client
	prefix  string
	window  time.Duration
	maxReqs int
}

// NewRedisLimiter creates a Redis-backed limiter. The prefix keeps
// counters of differently configured limiters apart.
func NewRedisLimiter(client *redis.Client, prefix string, window time.Duration, maxReqs int) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, window: window, maxReqs: maxReqs}
}

// Allow increments the key's window counter and compares it to the
// ceiling. Failing open on a Redis fault would defeat the limiter, so
// the error propagates and the caller answers 500.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := time.Now().Unix() / int64(rl.window.Seconds())
	counterKey := fmt.Sprintf("%s:%s:%d", rl.prefix, key, bucket)

	count, err := rl.client.Incr(ctx, counterKey).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := rl.client.Expire(ctx, counterKey, rl.window).Err(); err != nil {
			return false, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	return count <= int64(rl.maxReqs), nil
}

// RateLimit wraps a handler with a limiter; keyFunc derives the counter
// key from the request (client IP plus device identifier where known).
func RateLimit(limiter Limiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := limiter.Allow(r.Context(), keyFunc(r))
			if err != nil {
				respondError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if !ok {
				respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the client IP for rate-limit keys, preferring the
// first X-Forwarded-For hop. The RemoteAddr fallback drops the ephemeral
// port so the key tracks the client, not the TCP connection.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
