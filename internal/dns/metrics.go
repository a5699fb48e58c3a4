package dns

import "github.com/prometheus/client_golang/prometheus"

var (
	resolverRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruleguard_resolver_requests_total",
			Help: "DoH resolver requests by query type and result",
		},
		[]string{"resolver", "qtype", "result"},
	)
	resolverLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ruleguard_resolver_request_duration_seconds",
			Help:    "DoH resolver round-trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resolver"},
	)
	circuitOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruleguard_resolver_circuit_opened_total",
			Help: "Times of resolver circuit breaker opened",
		},
		[]string{"resolver"},
	)
	livenessVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruleguard_liveness_verdicts_total",
			Help: "Domain liveness verdicts by outcome and deciding step",
		},
		[]string{"verdict", "source"},
	)
)

func init() {
	prometheus.MustRegister(resolverRequests, resolverLatency, circuitOpened, livenessVerdicts)
}
