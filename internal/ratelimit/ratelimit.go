// Package ratelimit provides Redis-based rate limiting for the public
// submission endpoint.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited is returned when a rate limit is exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrFloodDetected is returned when the board-wide submission rate
	// spikes well past ordinary traffic, suggesting an attempt to
	// flood the journal with throwaway leaves.
	ErrFloodDetected = errors.New("board-wide submission flood detected")
)

// Limiter provides rate limiting functionality using Redis.
type Limiter struct {
	redis *redis.Client
}

// NewLimiter creates a new rate limiter.
func NewLimiter(redis *redis.Client) *Limiter {
	return &Limiter{redis: redis}
}

// SubmissionLimits defines the rate limits for leaf submissions.
type SubmissionLimits struct {
	// Per-submitter: how many leaves a single caller (API key or
	// session) can submit.
	SubmitterLimit  int
	SubmitterWindow time.Duration

	// Board-wide: total leaves accepted across all submitters. A spike
	// here indicates the journal itself is being flooded.
	BoardLimit  int
	BoardWindow time.Duration

	// Per-IP: fallback limit for unauthenticated or distributed
	// traffic.
	IPLimit  int
	IPWindow time.Duration
}

// DefaultSubmissionLimits returns the recommended rate limits.
func DefaultSubmissionLimits() SubmissionLimits {
	return SubmissionLimits{
		SubmitterLimit:  30,
		SubmitterWindow: time.Minute,
		BoardLimit:      2000,
		BoardWindow:     time.Minute,
		IPLimit:         60,
		IPWindow:        time.Minute,
	}
}

// CheckSubmission checks all rate limits for a leaf submission request.
// Returns nil if allowed, ErrRateLimited or ErrFloodDetected otherwise.
func (l *Limiter) CheckSubmission(ctx context.Context, submitterID, ip string) error {
	if l == nil || l.redis == nil {
		// If Redis is unavailable, allow the request (fail-open for
		// availability).
		return nil
	}

	limits := DefaultSubmissionLimits()

	submitterKey := fmt.Sprintf("ratelimit:submit:submitter:%s", submitterID)
	if err := l.checkLimit(ctx, submitterKey, limits.SubmitterLimit, limits.SubmitterWindow); err != nil {
		log.Printf("[RateLimit] submitter %s exceeded submission limit", submitterID)
		return ErrRateLimited
	}

	boardKey := "ratelimit:submit:board"
	if err := l.checkLimit(ctx, boardKey, limits.BoardLimit, limits.BoardWindow); err != nil {
		log.Printf("[RateLimit] ALERT: board-wide submission rate exceeded %d/%s", limits.BoardLimit, limits.BoardWindow)
		return ErrFloodDetected
	}

	if ip != "" {
		ipKey := fmt.Sprintf("ratelimit:submit:ip:%s", ip)
		if err := l.checkLimit(ctx, ipKey, limits.IPLimit, limits.IPWindow); err != nil {
			return ErrRateLimited
		}
	}

	return nil
}

// checkLimit performs the actual rate limit check using Redis INCR.
func (l *Limiter) checkLimit(ctx context.Context, key string, limit int, window time.Duration) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		// Fail-open on Redis errors to maintain availability.
		return nil
	}

	if count == 1 {
		l.redis.Expire(ctx, key, window)
	}

	if int(count) > limit {
		return ErrRateLimited
	}

	return nil
}

// GetRemainingRequests returns how many requests are remaining for a
// given key.
func (l *Limiter) GetRemainingRequests(ctx context.Context, keyPrefix, identifier string, limit int) (int, error) {
	if l.redis == nil {
		return limit, nil
	}

	key := fmt.Sprintf("%s:%s", keyPrefix, identifier)
	count, err := l.redis.Get(ctx, key).Int()
	if err == redis.Nil {
		return limit, nil
	}
	if err != nil {
		return limit, err
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
