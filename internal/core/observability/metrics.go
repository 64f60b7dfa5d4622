package observability

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "outcome"},
	)

	upstreamRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_retries_total",
			Help: "Retried upstream calls.",
		},
		[]string{"upstream"},
	)

	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animation_frames_total",
			Help: "Rendered animation frames by outcome.",
		},
		[]string{"outcome"},
	)

	animationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animations_total",
			Help: "Animation requests by outcome.",
		},
		[]string{"outcome"},
	)

	animationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "animation_duration_seconds",
			Help:    "Wall time to render all frames of an animation.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	tileCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_cache_results_total",
			Help: "Tile cache lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis operations by op and result.",
		},
		[]string{"op", "result"},
	)

	redisOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	invalidationEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Processed catalog invalidation events by op and result.",
		},
		[]string{"op", "result"},
	)

	invalidationDeletedKeys = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "invalidation_deleted_keys_total",
			Help: "Cached frames removed by invalidation.",
		},
	)

	invalidationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "invalidation_process_seconds",
			Help:    "Time to handle one invalidation event.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamLatencySeconds,
		upstreamRetries,
		framesTotal,
		animationsTotal,
		animationDurationSeconds,
		tileCacheResults,
		cacheOpTotal,
		redisOpDuration,
		invalidationEvents,
		invalidationDeletedKeys,
		invalidationSeconds,
		kafkaConsumerErrors,
	}
}

// Init registers the service collectors on reg. With enabled=false nothing is
// registered and observations go to unregistered collectors.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, err error, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, outcome(err)).Observe(durationSeconds)
}

func IncUpstreamRetry(upstream string) {
	upstreamRetries.WithLabelValues(upstream).Inc()
}

func ObserveFrame(err error) {
	framesTotal.WithLabelValues(outcome(err)).Inc()
}

func ObserveAnimation(err error, d time.Duration) {
	animationsTotal.WithLabelValues(outcome(err)).Inc()
	if err == nil {
		animationDurationSeconds.Observe(d.Seconds())
	}
}

func ObserveTileCache(tier string, hit bool) {
	o := "miss"
	if hit {
		o = "hit"
	}
	tileCacheResults.WithLabelValues(tier, o).Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	cacheOpTotal.WithLabelValues(op, outcome(err)).Inc()
	redisOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

func ObserveInvalidation(op string, deleted int, d time.Duration, err error) {
	invalidationEvents.WithLabelValues(op, outcome(err)).Inc()
	if deleted > 0 {
		invalidationDeletedKeys.Add(float64(deleted))
	}
	invalidationSeconds.Observe(d.Seconds())
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
