// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package health

import "github.com/prometheus/client_golang/prometheus"

var checkRuns = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "gatekeeper",
	Subsystem: "health",
	Name:      "runs_total",
	Help:      "Total number of health check runs.",
})

var checkFailures = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "gatekeeper",
	Subsystem: "health",
	Name:      "failures_total",
	Help:      "Total number of health check runs with at least one failing check.",
})

func init() {
	prometheus.MustRegister(checkRuns, checkFailures)
}
