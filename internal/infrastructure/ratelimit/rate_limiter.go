package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	ActionSendMessage   = "send_message"
	ActionDeleteMessage = "delete_message"
	ActionRequest       = "request"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per sender and action.
type RateLimiter struct {
	buckets    map[string]*bucket
	mutex      sync.Mutex
	sendPerMin int
	now        func() time.Time
}

// NewRateLimiter allows sendPerMin messages per minute per sender, with a burst
// of the same size.
func NewRateLimiter(sendPerMin int) *RateLimiter {
	if sendPerMin <= 0 {
		sendPerMin = 30
	}
	return &RateLimiter{
		buckets:    make(map[string]*bucket),
		sendPerMin: sendPerMin,
		now:        time.Now,
	}
}

func (rl *RateLimiter) limiterFor(action string) *rate.Limiter {
	switch action {
	case ActionSendMessage:
		return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.sendPerMin)), rl.sendPerMin)
	case ActionDeleteMessage:
		return rate.NewLimiter(rate.Every(3*time.Second), 20)
	case ActionRequest:
		return rate.NewLimiter(rate.Every(100*time.Millisecond), 60)
	default:
		return rate.NewLimiter(rate.Every(3*time.Second), 20)
	}
}

// Allow consumes a token for key/action. When refused it returns how long the
// caller should wait before the next token.
func (rl *RateLimiter) Allow(key, action string) (bool, time.Duration) {
	id := key + ":" + action
	now := rl.now()

	rl.mutex.Lock()
	b, exists := rl.buckets[id]
	if !exists {
		b = &bucket{limiter: rl.limiterFor(action)}
		rl.buckets[id] = b
	}
	b.lastSeen = now
	rl.mutex.Unlock()

	reservation := b.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, 0
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Cleanup drops buckets idle for longer than an hour.
func (rl *RateLimiter) Cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > time.Hour {
			delete(rl.buckets, key)
		}
	}
}

func (rl *RateLimiter) size() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	return len(rl.buckets)
}

// StartCleanupRoutine runs Cleanup every 30 minutes until ctx is done.
func (rl *RateLimiter) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}
