// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package connection

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var caches sync.Map

var connectionsGauge = prometheus.NewGaugeFunc(
	prometheus.GaugeOpts{
		Namespace: "gatekeeper",
		Name:      "cached_connections",
		Help:      "Number of connections in the connection cache.",
	},
	func() (total float64) {
		caches.Range(func(key, _ interface{}) bool {
			total += float64(key.(*Cache).Count())
			return true
		})
		return
	},
)

func init() {
	prometheus.MustRegister(connectionsGauge)
}
