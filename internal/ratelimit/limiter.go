// Package ratelimit paces broker calls with a token bucket so a large batch
// does not flood the credential endpoint.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/stashbox/stashbox/internal/constants"
	"github.com/stashbox/stashbox/internal/logging"
)

// RateLimiter implements a token bucket rate limiter.
// It allows bursts up to maxTokens, then refills at refillRate tokens/second.
type RateLimiter struct {
	tokens       float64
	maxTokens    float64
	refillRate   float64
	lastRefill   time.Time
	lastWarnTime time.Time
	logger       *logging.Logger
	mu           sync.Mutex
}

// NewRateLimiter creates a limiter that refills tokensPerSecond and holds
// at most burstSize tokens. The bucket starts full.
func NewRateLimiter(tokensPerSecond float64, burstSize float64) *RateLimiter {
	return &RateLimiter{
		tokens:     burstSize,
		maxTokens:  burstSize,
		refillRate: tokensPerSecond,
		lastRefill: time.Now(),
		logger:     logging.NewNopLogger(),
	}
}

// NewBrokerRateLimiter creates the limiter shared by every broker call of
// one client.
func NewBrokerRateLimiter(logger *logging.Logger) *RateLimiter {
	rl := NewRateLimiter(constants.BrokerRatePerSecond, constants.BrokerBurst)
	if logger != nil {
		rl.logger = logger
	}
	return rl
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	startTime := time.Now()

	if rl.tryAcquire() {
		return nil
	}

	waitTime := rl.timeUntilNextToken()
	if waitTime > 2*time.Second {
		rl.mu.Lock()
		if time.Since(rl.lastWarnTime) > 10*time.Second {
			rl.logger.Warn().Dur("wait", waitTime).Msg("Rate limited, waiting for broker capacity")
			rl.lastWarnTime = time.Now()
		}
		rl.mu.Unlock()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if rl.tryAcquire() {
			if actualWait := time.Since(startTime); actualWait > 5*time.Second {
				rl.logger.Debug().Dur("waited", actualWait).Msg("Rate limit wait completed")
			}
			return nil
		}

		timer := time.NewTimer(rl.timeUntilNextToken())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire takes one token without blocking.
func (rl *RateLimiter) tryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked(time.Now())
	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}

func (rl *RateLimiter) refillLocked(now time.Time) {
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}

// timeUntilNextToken calculates how long to wait until at least one token is available.
func (rl *RateLimiter) timeUntilNextToken() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	tokensNeeded := 1.0 - rl.tokens
	if tokensNeeded <= 0 || rl.refillRate <= 0 {
		return time.Millisecond
	}
	return time.Duration(tokensNeeded / rl.refillRate * float64(time.Second))
}

// GetCurrentTokens returns the current number of tokens (for testing/debugging).
func (rl *RateLimiter) GetCurrentTokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	tokens := rl.tokens + time.Since(rl.lastRefill).Seconds()*rl.refillRate
	if tokens > rl.maxTokens {
		tokens = rl.maxTokens
	}
	return tokens
}
