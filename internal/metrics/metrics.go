// Package metrics provides Prometheus instrumentation for the farming client.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// WebRequestsTotal counts outgoing Web Client requests by host, method,
	// and outcome ("ok", "failed").
	WebRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradematch",
		Name:      "web_requests_total",
		Help:      "Total outgoing Web Client requests by host, method, and outcome.",
	}, []string{"host", "method", "outcome"})

	// WebRequestDuration observes outgoing request latency by host.
	WebRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tradematch",
		Name:      "web_request_duration_seconds",
		Help:      "Outgoing Web Client request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"host"})

	// SessionRefreshTotal counts session refresh attempts by outcome.
	SessionRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradematch",
		Name:      "session_refresh_total",
		Help:      "Total session refresh attempts by outcome.",
	}, []string{"outcome"})

	// RateLimiterQueueDepth tracks requests currently waiting on a host's
	// connection guard.
	RateLimiterQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tradematch",
		Name:      "rate_limiter_queue_depth",
		Help:      "Requests currently waiting for a host's connection guard.",
	}, []string{"host"})

	// AnnouncementsTotal counts /Api/Announce attempts by result.
	AnnouncementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradematch",
		Name:      "announcements_total",
		Help:      "Total announcement attempts by result.",
	}, []string{"result"})

	// HeartBeatsTotal counts /Api/HeartBeat attempts by result.
	HeartBeatsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradematch",
		Name:      "heartbeats_total",
		Help:      "Total heartbeat attempts by result.",
	}, []string{"result"})

	// MatchRoundsTotal counts matching rounds by outcome ("progress", "no_progress", "error").
	MatchRoundsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradematch",
		Name:      "match_rounds_total",
		Help:      "Total active-matcher rounds run, by outcome.",
	}, []string{"outcome"})

	// TradesDispatchedTotal counts trade offers dispatched by result.
	TradesDispatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradematch",
		Name:      "trades_dispatched_total",
		Help:      "Total trade offers dispatched, by result.",
	}, []string{"result"})

	// CacheableResolutionsTotal counts Cacheable resolver invocations by outcome.
	CacheableResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradematch",
		Name:      "cacheable_resolutions_total",
		Help:      "Total Cacheable resolver invocations, by outcome.",
	}, []string{"name", "outcome"})
)

func init() {
	prometheus.MustRegister(
		WebRequestsTotal,
		WebRequestDuration,
		SessionRefreshTotal,
		RateLimiterQueueDepth,
		AnnouncementsTotal,
		HeartBeatsTotal,
		MatchRoundsTotal,
		TradesDispatchedTotal,
		CacheableResolutionsTotal,
	)
}
