// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package lifetime

import "github.com/prometheus/client_golang/prometheus"

var armedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "gatekeeper",
	Subsystem: "lifetime",
	Name:      "armed_connections",
	Help:      "Number of connections with armed lifetime timers.",
})

var expirations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "lifetime",
		Name:      "expirations_total",
		Help:      "Total number of connections closed by a lifetime timer.",
	},
	[]string{"reason"},
)

func init() {
	prometheus.MustRegister(armedGauge, expirations)
}
