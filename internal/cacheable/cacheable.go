// Package cacheable provides a generic, single-flight, time-boxed
// memoization primitive for fallible resolvers.
package cacheable

import (
	"context"
	"sync"
	"time"

	"github.com/mbd888/tradematch/internal/metrics"
)

// FallbackPolicy controls what Get returns when a resolution fails.
type FallbackPolicy int

const (
	// FailedNow returns the failure with the type's zero value; success
	// is reported as false.
	FailedNow FallbackPolicy = iota
	// SuccessPreviously returns the last successfully-resolved value (if
	// any) with success=true, even though it may now be stale.
	SuccessPreviously
	// DefaultForType returns the type's zero value with success=true,
	// papering over the failure for callers that can tolerate it.
	DefaultForType
)

// Forever marks a Cacheable as never expiring; no purge timer is scheduled.
const Forever time.Duration = 0

// Resolver fetches a fresh value. A non-nil error means resolution failed.
type Resolver[T any] func(ctx context.Context) (T, error)

// Cacheable lazily resolves and memoizes a value of type T for up to
// lifetime. At most one resolution is in flight at a time; concurrent
// callers either observe the fresh value or block on the single
// resolution and share its result.
type Cacheable[T any] struct {
	name     string
	resolve  Resolver[T]
	lifetime time.Duration

	mu          sync.Mutex
	hasValue    bool
	value       T
	resolvedAt  time.Time
	purgeTimer  *time.Timer
}

// New constructs a Cacheable. name is used only for metrics labels.
func New[T any](name string, lifetime time.Duration, resolve Resolver[T]) *Cacheable[T] {
	return &Cacheable[T]{name: name, resolve: resolve, lifetime: lifetime}
}

// Get returns the cached value if still fresh, otherwise resolves a new
// one under an exclusive guard. On resolution failure, the returned
// value and success flag follow fallback.
func (c *Cacheable[T]) Get(ctx context.Context, fallback FallbackPolicy) (bool, T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasValue && c.fresh() {
		metrics.CacheableResolutionsTotal.WithLabelValues(c.name, "hit").Inc()
		return true, c.value
	}

	// c.mu is held across the check above and this resolution, so a
	// caller that waited on the lock sees the value another caller just
	// resolved instead of resolving again.
	fresh, err := c.resolve(ctx)
	if err != nil {
		return c.onFailure(fallback)
	}

	c.value = fresh
	c.hasValue = true
	c.resolvedAt = time.Now()
	c.schedulePurge()
	metrics.CacheableResolutionsTotal.WithLabelValues(c.name, "resolved").Inc()
	return true, c.value
}

// onFailure must be called with c.mu held.
func (c *Cacheable[T]) onFailure(fallback FallbackPolicy) (bool, T) {
	switch fallback {
	case SuccessPreviously:
		if c.hasValue {
			metrics.CacheableResolutionsTotal.WithLabelValues(c.name, "stale_fallback").Inc()
			return true, c.value
		}
		var zero T
		metrics.CacheableResolutionsTotal.WithLabelValues(c.name, "failed").Inc()
		return false, zero
	case DefaultForType:
		var zero T
		metrics.CacheableResolutionsTotal.WithLabelValues(c.name, "default_fallback").Inc()
		return true, zero
	default: // FailedNow
		var zero T
		metrics.CacheableResolutionsTotal.WithLabelValues(c.name, "failed").Inc()
		return false, zero
	}
}

// fresh reports whether the cached value is still within its lifetime.
// Caller must hold c.mu.
func (c *Cacheable[T]) fresh() bool {
	if c.lifetime == Forever {
		return true
	}
	return time.Since(c.resolvedAt) < c.lifetime
}

// schedulePurge cancels any pending purge timer and, unless the
// Cacheable caches forever, schedules a new one lifetime+5m out.
// Caller must hold c.mu.
func (c *Cacheable[T]) schedulePurge() {
	if c.purgeTimer != nil {
		c.purgeTimer.Stop()
		c.purgeTimer = nil
	}
	if c.lifetime == Forever {
		return
	}
	c.purgeTimer = time.AfterFunc(c.lifetime+5*time.Minute, c.softReset)
}

// softReset clears the value only if it is no longer fresh; a
// concurrent refresh that already replaced the value makes this a no-op.
func (c *Cacheable[T]) softReset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasValue && c.fresh() {
		return
	}
	var zero T
	c.value = zero
	c.hasValue = false
}

// Reset clears the cached value and cancels any pending purge timer.
func (c *Cacheable[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.purgeTimer != nil {
		c.purgeTimer.Stop()
		c.purgeTimer = nil
	}
	var zero T
	c.value = zero
	c.hasValue = false
}
