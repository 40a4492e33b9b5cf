package broker

import (
	"github.com/pyr33x/goqtt/internal/config"
	"github.com/pyr33x/goqtt/internal/packet"
)

// Router fans a published message out to every matching subscriber,
// downgrading QoS to the lesser of the publish and the subscription grant.
// The publishing client, identified by senderID, is always skipped even if
// it is itself subscribed to a matching filter: this broker never echoes a
// publish back to its own sender.
type Router struct {
	cfg   *config.BrokerConfig
	topic *TopicTree
	qos   *QoSManager
}

func NewRouter(cfg *config.BrokerConfig, topic *TopicTree, qos *QoSManager) *Router {
	return &Router{cfg: cfg, topic: topic, qos: qos}
}

func effectiveQoS(published, granted packet.QoSLevel) packet.QoSLevel {
	if published < granted {
		return published
	}
	return granted
}

// Deliver fans payload out to every subscriber of topic, gated per-client by
// max_inflight for QoS>0 deliveries and queued instead when the target
// session is a disconnected persistent session. senderID is the publishing
// client's id (empty for broker-originated publishes) and is never itself a
// delivery target.
func (r *Router) Deliver(b *Broker, topic string, payload []byte, publishQoS packet.QoSLevel, retain bool, senderID string) {
	matches := r.topic.Match(topic)
	for clientID, granted := range matches {
		if senderID != "" && clientID == senderID {
			continue
		}
		session, ok := b.GetSession(clientID)
		if !ok {
			continue
		}
		qos := effectiveQoS(publishQoS, granted)
		r.deliverToSession(session, topic, payload, qos, retain)
	}
}

func (r *Router) deliverToSession(s *Session, topic string, payload []byte, qos packet.QoSLevel, retain bool) {
	s.mu.Lock()
	connected := s.Connected
	s.mu.Unlock()

	if !connected {
		if s.CleanSession || qos == packet.QoSAtMostOnce {
			return
		}
		r.enqueue(s, topic, payload, qos, retain)
		return
	}

	if qos != packet.QoSAtMostOnce && s.InflightCount() >= r.cfg.MaxInflight {
		if s.CleanSession {
			return
		}
		r.enqueue(s, topic, payload, qos, retain)
		return
	}

	r.send(s, topic, payload, qos, retain)
}

func (r *Router) send(s *Session, topic string, payload []byte, qos packet.QoSLevel, retain bool) {
	var packetID *uint16
	if qos != packet.QoSAtMostOnce {
		id := s.NextPacketID()
		packetID = &id
	}

	frame := (&packet.PublishPacket{
		QoS:      qos,
		Retain:   retain,
		Topic:    topic,
		PacketID: packetID,
		Payload:  payload,
	}).Encode()

	if err := s.Send(frame); err != nil {
		return
	}

	switch qos {
	case packet.QoSAtLeastOnce:
		r.qos.TrackOutboundQoS1(s, *packetID, topic, payload, retain)
	case packet.QoSExactlyOnce:
		r.qos.TrackOutboundQoS2(s, *packetID, topic, payload, retain)
	}
}

// enqueue appends a message for later delivery to a disconnected persistent
// session, evicting the oldest queued entry (FIFO) once max_queued_messages
// is reached.
func (r *Router) enqueue(s *Session, topic string, payload []byte, qos packet.QoSLevel, retain bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.cfg.MaxQueuedMessages > 0 && len(s.QueuedMessages) >= r.cfg.MaxQueuedMessages {
		s.QueuedMessages = s.QueuedMessages[1:]
	}
	s.QueuedMessages = append(s.QueuedMessages, &QueuedMessage{
		Topic: topic, Payload: payload, QoS: qos, Retain: retain,
	})
}

// DeliverQueued flushes a reconnected session's queued messages in FIFO
// order, respecting max_inflight the same way live delivery does (messages
// that can't fit are left queued for the next reconnect or sweep).
func (r *Router) DeliverQueued(s *Session) {
	s.mu.Lock()
	queued := s.QueuedMessages
	s.QueuedMessages = nil
	s.mu.Unlock()

	var remaining []*QueuedMessage
	for _, m := range queued {
		if m.QoS != packet.QoSAtMostOnce && s.InflightCount() >= r.cfg.MaxInflight {
			remaining = append(remaining, m)
			continue
		}
		r.send(s, m.Topic, m.Payload, m.QoS, m.Retain)
	}

	if len(remaining) > 0 {
		s.mu.Lock()
		s.QueuedMessages = append(remaining, s.QueuedMessages...)
		s.mu.Unlock()
	}
}

// DeliverRetained sends every retained message matching filter to a newly
// subscribed client, at the lesser of the retained message's own QoS and
// the just-granted subscription QoS.
func (r *Router) DeliverRetained(s *Session, store *RetainedStore, filter string, granted packet.QoSLevel) {
	for _, rec := range store.GetMatching(filter) {
		qos := effectiveQoS(rec.QoS, granted)
		r.send(s, rec.Topic, rec.Payload, qos, true)
	}
}
