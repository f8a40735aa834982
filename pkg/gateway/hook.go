// Copyright © 2018 The Things Industries, distributed under the MIT license (see LICENSE file)

package gateway

import (
	"bytes"
	"errors"
	"io"
	"time"

	"github.com/TheThingsIndustries/gatekeeper/pkg/auth"
	"github.com/TheThingsIndustries/gatekeeper/pkg/identity"
	"github.com/TheThingsIndustries/gatekeeper/pkg/log"
	"github.com/TheThingsIndustries/gatekeeper/pkg/ratelimit"
	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/mochi-mqtt/server/v2/system"
)

var provides = []byte{
	mqtt.OnConnectAuthenticate,
	mqtt.OnACLCheck,
	mqtt.OnSessionEstablished,
	mqtt.OnDisconnect,
	mqtt.OnPublished,
	mqtt.OnSysInfoTick,
}

type hook struct {
	mqtt.HookBase
	gateway *Gateway
}

func (h *hook) ID() string { return "gatekeeper" }

func (h *hook) Provides(b byte) bool {
	return bytes.IndexByte(provides, b) >= 0
}

func (h *hook) logger(cl *mqtt.Client) log.Interface {
	return log.FromContext(h.gateway.ctx).WithFields(log.F{
		"connection_id": cl.ID,
		"remote_addr":   cl.Net.Remote,
	})
}

func (h *hook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	info := h.gateway.info(cl)
	if info.Interface == nil {
		connects.WithLabelValues("accepted").Inc()
		return true
	}
	if err := info.Interface.Connect(h.gateway.ctx, info); err != nil {
		h.logger(cl).WithError(err).Debug("Refuse connection")
		connects.WithLabelValues("refused").Inc()
		return false
	}
	connects.WithLabelValues("accepted").Inc()
	return true
}

func (h *hook) OnSessionEstablished(cl *mqtt.Client, pk packets.Packet) {
	h.logger(cl).WithField("listener", cl.Net.Listener).Debug("Open connection")
}

func (h *hook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	if cl.Net.Inline {
		return true
	}
	info := h.gateway.info(cl)
	op, allowed := auth.Subscribe, false
	if write {
		op, allowed = auth.Publish, info.CanPublish(h.gateway.ctx, topic)
	} else {
		allowed = info.CanSubscribe(h.gateway.ctx, topic)
	}
	if !allowed {
		acl.WithLabelValues(op.String(), "denied").Inc()
		return false
	}
	if write {
		for _, limiter := range h.gateway.limiters {
			if !limiter.Allow(h.gateway.ctx, cl.ID) {
				h.logger(cl).WithField("topic", topic).Debug("Throttle publish")
				acl.WithLabelValues(op.String(), "throttled").Inc()
				return false
			}
		}
	}
	acl.WithLabelValues(op.String(), "allowed").Inc()
	return true
}

func (h *hook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	logger := h.logger(cl)
	if err != nil && !errors.Is(err, io.EOF) {
		logger = logger.WithError(err)
	}
	logger.Debug("Close connection")

	info := h.gateway.info(cl)
	if info.Interface != nil {
		info.Interface.Disconnect(h.gateway.ctx, info)
	}
	// A session taken over by a newer connection keeps its publish limits.
	if current, ok := h.gateway.server.Clients.Get(cl.ID); ok && current != cl {
		return
	}
	for _, limiter := range h.gateway.limiters {
		if forgetter, ok := limiter.(ratelimit.Forgetter); ok {
			forgetter.Forget(cl.ID)
		}
	}
}

func (h *hook) OnPublished(cl *mqtt.Client, pk packets.Packet) {
	if cl == nil || cl.Net.Inline {
		return
	}
	published.Inc()
	if h.gateway.deviceData == nil {
		return
	}
	id, ok := identity.Parse(cl.ID, pk.TopicName)
	if !ok || pk.TopicName != id.AttrsTopic() {
		return
	}
	payload := append([]byte(nil), pk.Payload...)
	h.gateway.deviceData.Enqueue(id, payload)
}

func (h *hook) OnSysInfoTick(info *system.Info) {
	connected.Set(float64(info.ClientsConnected))
	h.gateway.stats.Update(time.Now(), info.ClientsConnected, info.MessagesReceived)
}
