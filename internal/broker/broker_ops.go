package broker

import (
	"strings"
	"time"

	"github.com/pyr33x/goqtt/internal/logger"
	"github.com/pyr33x/goqtt/internal/packet"
)

// topicLevelCount mirrors the original's cheap "count('/') + 1" check.
func topicLevelCount(topic string) int {
	return strings.Count(topic, "/") + 1
}

// HandlePublish validates, authorizes, intercepts, and routes an inbound
// PUBLISH. It returns the acknowledgement frame the caller must send, or nil
// when nothing is to be sent: for QoS 0, which has no acknowledgement, and
// for a message dropped for exceeding the topic-level, topic-length or
// payload-size limits.
func (b *Broker) HandlePublish(s *Session, pp *packet.PublishPacket) []byte {
	if topicLevelCount(pp.Topic) > b.cfg.MaxTopicLevels {
		b.log.Warn("too many topic levels", logger.ClientID(s.ClientID))
		return nil
	}
	if len(pp.Topic) > b.cfg.MaxTopicLength {
		b.log.Warn("topic too long", logger.ClientID(s.ClientID))
		return nil
	}
	if len(pp.Payload) > b.cfg.MaxPayloadSize {
		b.log.Warn("payload too large", logger.ClientID(s.ClientID))
		return nil
	}

	if pp.QoS == packet.QoSExactlyOnce && !b.cfg.QoS2Enabled {
		return packet.NewPubRec(*pp.PacketID)
	}

	if !b.auth.AuthorizePublish(s.ClientID, pp.Topic) {
		b.log.Warn("publish denied", logger.ClientID(s.ClientID))
		switch pp.QoS {
		case packet.QoSAtLeastOnce:
			return packet.NewPubAck(*pp.PacketID)
		case packet.QoSExactlyOnce:
			return packet.NewPubRec(*pp.PacketID)
		}
		return nil
	}

	ctx := &MessageContext{
		Topic:    pp.Topic,
		Payload:  pp.Payload,
		QoS:      byte(pp.QoS),
		Retain:   pp.Retain,
		SenderID: s.ClientID,
	}
	b.interceptors.Run(ctx)
	if ctx.Dropped {
		switch pp.QoS {
		case packet.QoSAtLeastOnce:
			return packet.NewPubAck(*pp.PacketID)
		case packet.QoSExactlyOnce:
			return packet.NewPubRec(*pp.PacketID)
		}
		return nil
	}

	b.Stats.RecordPublishReceived()
	b.hooks.firePublish(b.log.Logger, s.ClientID, ctx.Topic, ctx.Payload, packet.QoSLevel(ctx.QoS))

	switch pp.QoS {
	case packet.QoSAtMostOnce:
		b.routePublish(ctx.Topic, ctx.Payload, packet.QoSLevel(ctx.QoS), ctx.Retain, s.ClientID)
		return nil
	case packet.QoSAtLeastOnce:
		b.routePublish(ctx.Topic, ctx.Payload, packet.QoSLevel(ctx.QoS), ctx.Retain, s.ClientID)
		return packet.NewPubAck(*pp.PacketID)
	case packet.QoSExactlyOnce:
		frame, _ := b.QoS.HandleIncomingQoS2Publish(s, *pp.PacketID, ctx.Topic, ctx.Payload, ctx.Retain)
		return frame
	}
	return nil
}

// HandlePubRel completes an inbound QoS 2 handshake: fans the stored
// message out exactly once, then returns the PUBCOMP frame.
func (b *Broker) HandlePubRel(s *Session, packetID uint16) []byte {
	state, frame, ok := b.QoS.HandleIncomingPubRel(s, packetID)
	if ok {
		b.routePublish(state.Topic, state.Payload, packet.QoSExactlyOnce, state.Retain, s.ClientID)
	}
	return frame
}

// routePublish stores the message if retained, then fans it out. senderID
// is the publishing client's id, never itself a delivery target; pass ""
// for broker-originated publishes that no client should be exempted from.
func (b *Broker) routePublish(topic string, payload []byte, qos packet.QoSLevel, retain bool, senderID string) {
	if retain && b.cfg.RetainEnabled {
		b.Retained.Set(topic, payload, qos)
	}
	b.Router.Deliver(b, topic, payload, qos, retain, senderID)
	b.Stats.RecordPublishSent()
}

// Publish lets the embedding program inject a message as if published by
// the broker itself: sender_id is empty, so every matching subscriber
// receives it, including one that happens to share no client identity with
// the broker.
func (b *Broker) Publish(topic string, payload []byte, qos packet.QoSLevel, retain bool) {
	b.routePublish(topic, payload, qos, retain, "")
}

// HandleSubscribe processes every filter in a SUBSCRIBE packet against
// per-client subscription limits, auth, and hooks, subscribing in the topic
// tree and delivering matching retained messages for each accepted filter.
func (b *Broker) HandleSubscribe(s *Session, filters []packet.SubscribeFilter) []byte {
	codes := make([]byte, 0, len(filters))

	for _, tf := range filters {
		code := b.subscribeOne(s, tf.Topic, tf.QoS)
		codes = append(codes, code)
	}

	return codes
}

func (b *Broker) subscribeOne(s *Session, filter string, requestedQoS packet.QoSLevel) byte {
	s.mu.Lock()
	tooMany := len(s.Subscriptions) >= b.cfg.MaxSubscriptionsPerClient
	s.mu.Unlock()
	if tooMany {
		return 0x80
	}

	if topicLevelCount(filter) > b.cfg.MaxTopicLevels {
		return 0x80
	}
	if len(filter) > b.cfg.MaxTopicLength {
		return 0x80
	}

	granted := requestedQoS
	if !b.cfg.QoS2Enabled && granted > packet.QoSAtLeastOnce {
		granted = packet.QoSAtLeastOnce
	}

	authQoS := b.auth.AuthorizeSubscribe(s.ClientID, filter)
	if authQoS < 0 {
		return 0x80
	}
	if packet.QoSLevel(authQoS) < granted {
		granted = packet.QoSLevel(authQoS)
	}

	if override, ok := b.hooks.fireSubscribe(b.log.Logger, s.ClientID, filter, granted); ok {
		if override == 0x80 {
			return 0x80
		}
		granted = packet.QoSLevel(override)
	}

	b.Topics.Subscribe(s.ClientID, filter, granted)

	s.mu.Lock()
	s.Subscriptions[filter] = granted
	s.mu.Unlock()

	b.Router.DeliverRetained(s, b.Retained, filter, granted)

	return byte(granted)
}

// HandleUnsubscribe removes every listed filter from both the topic tree
// and the session's own bookkeeping.
func (b *Broker) HandleUnsubscribe(s *Session, filters []string) {
	for _, filter := range filters {
		b.Topics.Unsubscribe(s.ClientID, filter)

		s.mu.Lock()
		delete(s.Subscriptions, filter)
		s.mu.Unlock()

		b.hooks.fireUnsubscribe(b.log.Logger, s.ClientID, filter)
	}
}

// HandleDisconnect tears a session down: optionally publishes its will,
// clears it from the auth provider and (for clean sessions) the session
// table and topic tree entirely.
func (b *Broker) HandleDisconnect(s *Session, graceful bool) {
	s.mu.Lock()
	hasWill := s.HasWill
	willTopic, willPayload, willQoS, willRetain := s.WillTopic, s.WillMessage, s.WillQoS, s.WillRetain
	s.HasWill = false
	s.Connected = false
	s.DisconnectedAt = time.Now()
	conn := s.Conn
	s.mu.Unlock()

	if !graceful && hasWill {
		if !b.hooks.fireWillPublish(b.log.Logger, s.ClientID, willTopic, willPayload) {
			b.log.Info("will publish suppressed by hook", logger.ClientID(s.ClientID))
		} else {
			b.routePublish(willTopic, willPayload, willQoS, willRetain, s.ClientID)
		}
	}

	if conn != nil {
		conn.Close()
	}

	b.auth.CleanupClient(s.ClientID)

	if s.CleanSession {
		b.Topics.UnsubscribeAll(s.ClientID)
		b.deleteSession(s.ClientID)
	}

	b.hooks.fireDisconnect(b.log.Logger, s.ClientID, graceful)
}
