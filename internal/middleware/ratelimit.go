package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"featuregate/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// tokenBucketScript implements the Token Bucket algorithm.
// Input: ARGV[1]=rate, ARGV[2]=capacity, ARGV[3]=now, ARGV[4]=requested
// Output: { allowed, remaining, reset_after }
var tokenBucketScript = redis.NewScript(`
local tokens_key = KEYS[1]
local ts_key = KEYS[2]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local fill_time = capacity / rate
local ttl = math.ceil(fill_time * 2)

-- Load state
local last_tokens = tonumber(redis.call("get", tokens_key))
if last_tokens == nil then last_tokens = capacity end

local last_ts = tonumber(redis.call("get", ts_key))
if last_ts == nil then last_ts = now end

-- Refill
local delta = math.max(0, now - last_ts)
local filled_tokens = math.min(capacity, last_tokens + (delta * rate))
local allowed = 0
local remaining = filled_tokens
local reset_after = 0

if filled_tokens >= requested then
    allowed = 1
    filled_tokens = filled_tokens - requested
    remaining = filled_tokens
else
    allowed = 0
    remaining = filled_tokens
    reset_after = (requested - filled_tokens) / rate
end

if allowed == 1 then
    redis.call("set", tokens_key, filled_tokens, "EX", ttl)
    redis.call("set", ts_key, now, "EX", ttl)
end

return { allowed, remaining, reset_after }
`)

// localLimiter is the in-memory fallback used while Redis is unreachable.
type localLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// RateLimiter is a per-IP token bucket kept in Redis, failing open to
// in-process limiters. Its rate can be changed while serving.
type RateLimiter struct {
	rdb       *redis.Client
	keyPrefix string
	rps       atomic.Int64
	local     sync.Map
	cleanup   sync.Once
}

func NewRateLimiter(rdb *redis.Client, keyPrefix string, requestsPerSecond int) *RateLimiter {
	l := &RateLimiter{rdb: rdb, keyPrefix: keyPrefix}
	l.SetRate(requestsPerSecond)
	return l
}

// SetRate changes the allowed requests per second. Non-positive values fall back to 5.
func (l *RateLimiter) SetRate(requestsPerSecond int) {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	if l.rps.Swap(int64(requestsPerSecond)) != int64(requestsPerSecond) {
		l.local.Clear()
	}
}

func (l *RateLimiter) Rate() int {
	return int(l.rps.Load())
}

func (l *RateLimiter) startCleanup() {
	l.cleanup.Do(func() {
		go func() {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				cutoff := time.Now().Add(-10 * time.Minute).UnixNano()
				l.local.Range(func(key, value any) bool {
					if value.(*localLimiter).lastSeen.Load() < cutoff {
						l.local.Delete(key)
					}
					return true
				})
			}
		}()
	})
}

func (l *RateLimiter) localFor(ip string, rps int) *rate.Limiter {
	l.startCleanup()

	now := time.Now().UnixNano()
	if val, ok := l.local.Load(ip); ok {
		ll := val.(*localLimiter)
		ll.lastSeen.Store(now)
		return ll.limiter
	}
	ll := &localLimiter{limiter: rate.NewLimiter(rate.Limit(rps), rps)}
	ll.lastSeen.Store(now)
	actual, _ := l.local.LoadOrStore(ip, ll)
	return actual.(*localLimiter).limiter
}

// Middleware enforces the limit per client IP.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestsPerSecond := l.Rate()
		burst := requestsPerSecond

		clientIP := c.ClientIP()
		keyPrefix := l.keyPrefix + clientIP
		tokensKey := keyPrefix + ":tokens"
		tsKey := keyPrefix + ":ts"

		now := float64(time.Now().UnixMicro()) / 1e6

		keys := []string{tokensKey, tsKey}
		args := []any{
			float64(requestsPerSecond), // rate
			float64(burst),             // capacity
			now,                        // current timestamp
			1,                          // requested tokens
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 100*time.Millisecond)
		defer cancel()

		result, err := tokenBucketScript.Run(ctx, l.rdb, keys, args...).Result()

		if err != nil {
			logger.Warn("Redis rate limit failed, switching to local fallback",
				zap.Error(err),
				zap.String("ip", clientIP))

			limiter := l.localFor(clientIP, requestsPerSecond)
			c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", requestsPerSecond))

			if !limiter.Allow() {
				c.Header("X-RateLimit-Remaining", "0")
				c.Header("X-RateLimit-Reset", "1")
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Requests"})
				return
			}

			c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", int(limiter.Tokens())))
			c.Next()
			return
		}

		resSlice, ok := result.([]any)
		if !ok || len(resSlice) != 3 {
			logger.Error("Invalid Redis rate limit response", zap.Any("response", result))
			c.Next() // fail open on protocol error
			return
		}

		allowed := helperInt(resSlice[0]) == 1
		remaining := helperFloat(resSlice[1])
		resetAfter := helperFloat(resSlice[2])

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", requestsPerSecond))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", int(remaining)))

		resetTime := time.Now().Add(time.Duration(resetAfter * float64(time.Second)))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime.Unix()))

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Requests"})
			return
		}

		c.Next()
	}
}

func helperInt(v any) int64 {
	if val, ok := v.(int64); ok {
		return val
	}
	if val, ok := v.(float64); ok {
		return int64(val)
	}
	return 0
}

func helperFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	default:
		return 0
	}
}
