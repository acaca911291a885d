package workerd

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opencode-ai/lgworker/internal/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RateLimitConfig defines a token bucket.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustainable rate (tokens added per second).
	RequestsPerSecond float64

	// BurstSize is the maximum number of requests allowed in a burst.
	BurstSize int
}

// DefaultRateLimits limits RPC entry points. Dispatch is limited per stream
// opened, not per message; messages are limited per operation kind.
var DefaultRateLimits = map[string]RateLimitConfig{
	DispatchMethod: {RequestsPerSecond: 10, BurstSize: 20},
	StatusMethod:   {RequestsPerSecond: 1000, BurstSize: 1000},
}

// tokenBucket implements the token bucket algorithm.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastUpdate time.Time
	ratePerSec float64
	maxTokens  float64
	requests   int64
	denied     int64
}

func newTokenBucket(cfg RateLimitConfig) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(cfg.BurstSize),
		lastUpdate: time.Now(),
		ratePerSec: cfg.RequestsPerSecond,
		maxTokens:  float64(cfg.BurstSize),
	}
}

// refill adds tokens for the time elapsed since the last update.
// Callers hold tb.mu.
func (tb *tokenBucket) refill(now time.Time) {
	tb.tokens += now.Sub(tb.lastUpdate).Seconds() * tb.ratePerSec
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	tb.lastUpdate = now
}

// allow consumes a token if one is available.
func (tb *tokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.requests++
	tb.refill(time.Now())

	if tb.tokens >= 1.0 {
		tb.tokens--
		return true
	}

	tb.denied++
	return false
}

func (tb *tokenBucket) stats() (available float64, requests, denied int64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(time.Now())
	return tb.tokens, tb.requests, tb.denied
}

// RateLimiter holds one bucket per key. Keys are full gRPC method names or
// operation kinds.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	configs map[string]RateLimitConfig
	enabled bool
}

// RateLimiterOption configures the RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithLimits sets limits for specific keys.
func WithLimits(limits map[string]RateLimitConfig) RateLimiterOption {
	return func(rl *RateLimiter) {
		for key, cfg := range limits {
			rl.configs[key] = cfg
		}
	}
}

// WithOperationLimit applies cfg to every supported operation kind.
func WithOperationLimit(cfg RateLimitConfig) RateLimiterOption {
	return func(rl *RateLimiter) {
		for _, kind := range models.OperationKinds {
			rl.configs[string(kind)] = cfg
		}
	}
}

// WithEnabled enables or disables rate limiting.
func WithEnabled(enabled bool) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.enabled = enabled
	}
}

// NewRateLimiter creates a rate limiter seeded with DefaultRateLimits.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		configs: make(map[string]RateLimitConfig),
		enabled: true,
	}
	for key, cfg := range DefaultRateLimits {
		rl.configs[key] = cfg
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Allow reports whether a request for key may proceed. Keys without a
// configured limit are always allowed.
func (rl *RateLimiter) Allow(key string) bool {
	if rl == nil || !rl.IsEnabled() {
		return true
	}

	bucket := rl.getBucket(key)
	if bucket == nil {
		return true
	}
	return bucket.allow()
}

// AllowOperation is Allow keyed by operation kind.
func (rl *RateLimiter) AllowOperation(kind models.OperationKind) bool {
	return rl.Allow(string(kind))
}

func (rl *RateLimiter) getBucket(key string) *tokenBucket {
	rl.mu.RLock()
	bucket, exists := rl.buckets[key]
	rl.mu.RUnlock()
	if exists {
		return bucket
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if bucket, exists = rl.buckets[key]; exists {
		return bucket
	}
	cfg, ok := rl.configs[key]
	if !ok {
		return nil
	}
	bucket = newTokenBucket(cfg)
	rl.buckets[key] = bucket
	return bucket
}

// KeyStats reports usage of one bucket.
type KeyStats struct {
	Key              string
	Available        float64
	RequestsPerSec   float64
	BurstSize        int
	TotalRequests    int64
	DeniedRequests   int64
	DeniedPercentage float64
}

// Stats returns statistics for every configured key, sorted by key.
func (rl *RateLimiter) Stats() []KeyStats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	stats := make([]KeyStats, 0, len(rl.configs))
	for key, cfg := range rl.configs {
		ks := KeyStats{
			Key:            key,
			Available:      float64(cfg.BurstSize),
			RequestsPerSec: cfg.RequestsPerSecond,
			BurstSize:      cfg.BurstSize,
		}
		if bucket, ok := rl.buckets[key]; ok {
			ks.Available, ks.TotalRequests, ks.DeniedRequests = bucket.stats()
			if ks.TotalRequests > 0 {
				ks.DeniedPercentage = float64(ks.DeniedRequests) / float64(ks.TotalRequests) * 100
			}
		}
		stats = append(stats, ks)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Key < stats[j].Key })
	return stats
}

// SetEnabled enables or disables rate limiting at runtime.
func (rl *RateLimiter) SetEnabled(enabled bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.enabled = enabled
}

// IsEnabled returns whether rate limiting is currently enabled.
func (rl *RateLimiter) IsEnabled() bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.enabled
}

// UnaryServerInterceptor applies method limits to unary calls.
func (rl *RateLimiter) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !rl.Allow(info.FullMethod) {
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded for method %s", info.FullMethod)
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor applies method limits to stream creation.
func (rl *RateLimiter) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !rl.Allow(info.FullMethod) {
			return status.Errorf(codes.ResourceExhausted, "rate limit exceeded for stream %s", info.FullMethod)
		}
		return handler(srv, ss)
	}
}
