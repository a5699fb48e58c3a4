package storage

import "github.com/prometheus/client_golang/prometheus"

var cacheRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ruleguard_cache_requests_total",
		Help: "Response cache lookups by result",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(cacheRequests)
}
