// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package certificate

import "github.com/prometheus/client_golang/prometheus"

var revokedCertificates = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "gatekeeper",
	Subsystem: "crl",
	Name:      "revoked_certificates",
	Help:      "Number of revoked certificates in the current revocation list.",
})

var revocationUpdated = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "gatekeeper",
	Subsystem: "crl",
	Name:      "updated_timestamp_seconds",
	Help:      "Time of the last revocation list update.",
})

var revocationRefreshes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "crl",
		Name:      "refreshes_total",
		Help:      "Total number of revocation list refreshes.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(revokedCertificates, revocationUpdated, revocationRefreshes)
}
