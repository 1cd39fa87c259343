package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gateway",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5},
	}, []string{"method", "path"})

	CacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by result (hit, miss, expired, corrupt).",
	}, []string{"result"})

	CacheWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "cache_writes_total",
		Help:      "Cache write attempts by result.",
	}, []string{"result"})

	WriteRateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "cache_write_rate_limited_total",
		Help:      "Cache writes rejected by the per-client quota.",
	})

	SubtitleProxyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "subtitle_proxy_requests_total",
		Help:      "Subtitle proxy requests by result.",
	}, []string{"result"})

	UpstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "upstream_requests_total",
		Help:      "Upstream API requests by result status.",
	}, []string{"status"})

	UpstreamRequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "catalog",
		Name:      "upstream_request_duration_seconds",
		Help:      "Upstream API request duration in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	})

	RequestsSharedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "requests_shared_total",
		Help:      "Requests that joined an identical in-flight request.",
	})

	GatewayLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "gateway_lookups_total",
		Help:      "Client-side gateway cache lookups by result (hit, miss, error).",
	}, []string{"result"})

	WriteBacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "write_backs_total",
		Help:      "Asynchronous cache write-backs by result.",
	}, []string{"result"})

	PlaybackTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playback",
		Name:      "state_transitions_total",
		Help:      "Playback engine state transitions.",
	}, []string{"from", "to"})
)

// Register registers the gateway collectors.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		CacheLookupsTotal,
		CacheWritesTotal,
		WriteRateLimitedTotal,
		SubtitleProxyTotal,
	)
}

// RegisterClient registers the request client and playback collectors.
func RegisterClient(reg prometheus.Registerer) {
	reg.MustRegister(
		UpstreamRequestsTotal,
		UpstreamRequestDuration,
		RequestsSharedTotal,
		GatewayLookupsTotal,
		WriteBacksTotal,
		PlaybackTransitionsTotal,
	)
}
