// Copyright © 2018 The Things Industries, distributed under the MIT license (see LICENSE file)

package gateway

import (
	"math"
	"sync"
	"time"
)

var loadWindows = [3]time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}

// Snapshot of the broker statistics.
type Snapshot struct {
	ConnectedClients     int64   `json:"connectedClients"`
	ConnectionsLoad1min  float64 `json:"connectionsLoad1min"`
	ConnectionsLoad5min  float64 `json:"connectionsLoad5min"`
	ConnectionsLoad15min float64 `json:"connectionsLoad15min"`
	MessagesLoad1min     float64 `json:"messagesLoad1min"`
	MessagesLoad5min     float64 `json:"messagesLoad5min"`
	MessagesLoad15min    float64 `json:"messagesLoad15min"`
}

// Stats keeps exponentially weighted averages of the connected clients and the messages received per minute.
type Stats struct {
	mu          sync.RWMutex
	last        time.Time
	connected   int64
	received    int64
	connections [3]float64
	messages    [3]float64
}

// NewStats returns empty statistics.
func NewStats() *Stats {
	return &Stats{}
}

// Update the statistics with the number of connected clients and the total number of received messages at now.
func (s *Stats) Update(now time.Time, connected, received int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last.IsZero() {
		s.last, s.connected, s.received = now, connected, received
		for i := range loadWindows {
			s.connections[i] = float64(connected)
		}
		return
	}
	elapsed := now.Sub(s.last)
	if elapsed <= 0 {
		return
	}
	perMinute := 0.0
	if delta := received - s.received; delta > 0 {
		perMinute = float64(delta) / elapsed.Minutes()
	}
	for i, window := range loadWindows {
		alpha := 1 - math.Exp(-elapsed.Seconds()/window.Seconds())
		s.connections[i] += alpha * (float64(connected) - s.connections[i])
		s.messages[i] += alpha * (perMinute - s.messages[i])
	}
	s.last, s.connected, s.received = now, connected, received
}

// Snapshot returns the current statistics.
func (s *Stats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ConnectedClients:     s.connected,
		ConnectionsLoad1min:  round(s.connections[0]),
		ConnectionsLoad5min:  round(s.connections[1]),
		ConnectionsLoad15min: round(s.connections[2]),
		MessagesLoad1min:     round(s.messages[0]),
		MessagesLoad5min:     round(s.messages[1]),
		MessagesLoad15min:    round(s.messages[2]),
	}
}

func round(f float64) float64 {
	return math.Round(f*100) / 100
}
