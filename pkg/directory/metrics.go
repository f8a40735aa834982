// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package directory

import "github.com/prometheus/client_golang/prometheus"

var lookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "directory",
		Name:      "lookups_total",
		Help:      "Total number of device lookups.",
	},
	[]string{"backend", "result"},
)

var lookupLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "gatekeeper",
		Subsystem: "directory",
		Name:      "lookup_latency_seconds",
		Help:      "Histogram of device lookup latency (seconds).",
		Buckets:   []float64{0.001, 0.0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	},
	[]string{"backend"},
)

var cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "gatekeeper",
	Subsystem: "directory",
	Name:      "cache_hits_total",
	Help:      "Total number of device lookups served from cache.",
})

func init() {
	prometheus.MustRegister(lookups, lookupLatency, cacheHits)
}
