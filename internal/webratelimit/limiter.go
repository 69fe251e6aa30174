// Package webratelimit enforces a per-host pair of guards — a connection
// cap and a single-permit rate gate — around outgoing requests to a
// hostile external service.
package webratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mbd888/tradematch/internal/metrics"
)

// DefaultMaxConnections bounds concurrent requests to a single host when
// no per-host override is configured.
const DefaultMaxConnections = 5

// Limiter holds one guard pair per host, falling back to a default pair
// for hosts it has never seen.
type Limiter struct {
	mu      sync.Mutex
	guards  map[string]*hostGuard
	delay   time.Duration // WebLimiterDelay; zero bypasses both guards
	maxConn int
}

type hostGuard struct {
	conns chan struct{}
	rate  *rate.Limiter
}

// New creates a Limiter. delay is the background release delay for the
// rate guard (WebLimiterDelay); zero disables rate limiting and
// connection capping entirely, per spec.
func New(delay time.Duration, maxConnections int) *Limiter {
	if maxConnections <= 0 {
		maxConnections = DefaultMaxConnections
	}
	return &Limiter{
		guards:  make(map[string]*hostGuard),
		delay:   delay,
		maxConn: maxConnections,
	}
}

func (l *Limiter) guardFor(host string) *hostGuard {
	l.mu.Lock()
	defer l.mu.Unlock()

	if g, ok := l.guards[host]; ok {
		return g
	}
	g := &hostGuard{
		conns: make(chan struct{}, l.maxConn),
		rate:  rate.NewLimiter(rate.Every(l.delay), 1),
	}
	l.guards[host] = g
	return g
}

// Acquire blocks until a request to host is allowed to proceed: it first
// takes a slot in the host's connection cap, then waits for the host's
// single-permit rate gate. It returns a release function the caller must
// invoke when the request completes (this only releases the connection
// slot — the rate gate is self-releasing after the configured delay).
//
// If delay is zero, both guards are bypassed and Acquire returns
// immediately with a no-op release.
func (l *Limiter) Acquire(ctx context.Context, host string) (func(), error) {
	if l.delay == 0 {
		return func() {}, nil
	}

	g := l.guardFor(host)

	metrics.RateLimiterQueueDepth.WithLabelValues(host).Inc()
	select {
	case g.conns <- struct{}{}:
	case <-ctx.Done():
		metrics.RateLimiterQueueDepth.WithLabelValues(host).Dec()
		return nil, ctx.Err()
	}
	metrics.RateLimiterQueueDepth.WithLabelValues(host).Dec()

	if err := g.rate.Wait(ctx); err != nil {
		<-g.conns
		return nil, err
	}

	release := func() { <-g.conns }
	return release, nil
}
