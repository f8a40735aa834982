// Copyright © 2017 The Things Industries, distributed under the MIT license (see LICENSE file)

package inspect

import (
	"encoding/json"
	"net/http"

	"github.com/TheThingsIndustries/gatekeeper/pkg/gateway"
)

// StatsSource provides broker statistics.
type StatsSource interface {
	Snapshot() gateway.Snapshot
}

// Stats inspector
func Stats(s StatsSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out, err := json.Marshal(s.Snapshot())
		if err != nil {
			w.WriteHeader(500)
			w.Write([]byte(err.Error()))
		} else {
			w.Header().Set("content-type", "application/json")
			w.Write(out)
		}
	})
}
