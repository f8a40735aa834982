// Copyright © 2017 The Things Industries, distributed under the MIT license (see LICENSE file)

package gateway

import "github.com/prometheus/client_golang/prometheus"

var connects = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "gateway",
		Name:      "connects_total",
		Help:      "Total number of connect attempts.",
	},
	[]string{"result"},
)

var connected = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "gatekeeper",
	Subsystem: "gateway",
	Name:      "connections",
	Help:      "Number of connected clients.",
})

var acl = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "gateway",
		Name:      "acl_checks_total",
		Help:      "Total number of publish and subscribe checks.",
	},
	[]string{"operation", "result"},
)

var published = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "gatekeeper",
	Subsystem: "gateway",
	Name:      "published_total",
	Help:      "Total number of messages published by clients.",
})

var actuations = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "gatekeeper",
	Subsystem: "gateway",
	Name:      "actuations_total",
	Help:      "Total number of configuration messages sent to devices.",
})

func init() {
	prometheus.MustRegister(connects, connected, acl, published, actuations)
}
