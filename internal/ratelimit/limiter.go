// Package ratelimit keeps a generation submission budget per workspace.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages submission budgets for multiple workspaces
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	perHour  int
}

// NewLimiter creates a new rate limiter
// submitsPerHour: sustained submissions allowed per hour per workspace
// burst: submissions allowed back to back
func NewLimiter(submitsPerHour int, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(submitsPerHour) / 3600.0),
		burst:    burst,
		perHour:  submitsPerHour,
	}
}

// PerHour returns the configured sustained rate
func (l *Limiter) PerHour() int {
	return l.perHour
}

// GetLimiter returns the rate limiter for a specific workspace
func (l *Limiter) GetLimiter(workspaceID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[workspaceID]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[workspaceID] = limiter
	}

	return limiter
}

// Allow spends one submission if the budget has one
func (l *Limiter) Allow(workspaceID string) bool {
	return l.GetLimiter(workspaceID).Allow()
}

// Wait blocks until the workspace may submit again
func (l *Limiter) Wait(ctx context.Context, workspaceID string) error {
	if err := l.GetLimiter(workspaceID).Wait(ctx); err != nil {
		return fmt.Errorf("submission budget for workspace %s: %w", workspaceID, err)
	}
	return nil
}

// Exhausted reports whether the workspace has no submission left right now,
// without spending one
func (l *Limiter) Exhausted(workspaceID string) bool {
	return l.Tokens(workspaceID) < 1
}

// Tokens returns the current number of available tokens for a workspace
func (l *Limiter) Tokens(workspaceID string) float64 {
	return l.GetLimiter(workspaceID).Tokens()
}
