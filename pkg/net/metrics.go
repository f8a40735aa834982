// Copyright © 2018 The Things Industries, distributed under the MIT license (see LICENSE file)

package net

import "github.com/prometheus/client_golang/prometheus"

var acceptedConnections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "listener",
		Name:      "connections_accepted_total",
		Help:      "Total number of accepted connections.",
	},
	[]string{"transport"},
)

var rejectedConnections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "listener",
		Name:      "connections_rejected_total",
		Help:      "Total number of connections closed because of the per-IP limit.",
	},
	[]string{"transport"},
)

var openConnections = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "gatekeeper",
		Subsystem: "listener",
		Name:      "connections",
		Help:      "Number of open connections.",
	},
	[]string{"transport"},
)

func init() {
	prometheus.MustRegister(acceptedConnections, rejectedConnections, openConnections)
}
