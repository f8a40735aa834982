// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package deviceauth

import (
	"errors"

	"github.com/TheThingsIndustries/gatekeeper/pkg/auth"
	"github.com/prometheus/client_golang/prometheus"
)

var admissions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "auth",
		Name:      "admissions_total",
		Help:      "Total number of connection admission decisions.",
	},
	[]string{"result"},
)

var authorizations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "auth",
		Name:      "authorizations_total",
		Help:      "Total number of topic authorization decisions.",
	},
	[]string{"operation", "result"},
)

var closures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "auth",
		Name:      "forced_closures_total",
		Help:      "Total number of connections closed by the gateway.",
	},
	[]string{"reason"},
)

func init() {
	prometheus.MustRegister(admissions, authorizations, closures)
}

var reasons = []struct {
	err   error
	label string
}{
	{ErrUnidentified, "unidentified"},
	{ErrCertificate, "certificate"},
	{ErrUnknownDevice, "unknown_device"},
	{ErrUnknownConnection, "unknown_connection"},
	{ErrIdentity, "identity"},
	{ErrOwnership, "ownership"},
	{ErrTopic, "topic"},
}

func result(err error) string {
	if err == nil {
		return "allow"
	}
	for _, reason := range reasons {
		if errors.Is(err, reason.err) {
			return reason.label
		}
	}
	return "deny"
}

func observeAdmission(err error) {
	admissions.WithLabelValues(result(err)).Inc()
}

func observeAuthorization(op auth.Operation, err error) {
	authorizations.WithLabelValues(op.String(), result(err)).Inc()
}
