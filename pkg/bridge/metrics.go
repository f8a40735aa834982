// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package bridge

import "github.com/prometheus/client_golang/prometheus"

var messages = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "bridge",
		Name:      "device_data_total",
		Help:      "Total number of device data messages.",
	},
	[]string{"result"},
)

var sinkErrors = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "bridge",
		Name:      "sink_errors_total",
		Help:      "Total number of failed sink writes.",
	},
	[]string{"sink"},
)

var events = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "bridge",
		Name:      "device_events_total",
		Help:      "Total number of device events.",
	},
	[]string{"event"},
)

func init() {
	prometheus.MustRegister(messages, sinkErrors, events)
}
