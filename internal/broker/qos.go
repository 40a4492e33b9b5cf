package broker

import (
	"time"

	"github.com/pyr33x/goqtt/internal/packet"
)

// QoSManager drives the QoS 1 and QoS 2 acknowledgement state machines. It
// holds no state of its own: every pending/inflight table lives on the
// Session it is operating against, keeping packet-id spaces isolated per
// client the way the per-session maps were designed to.
type QoSManager struct {
	retryInterval time.Duration
	maxRetries    int
}

func NewQoSManager(retryInterval time.Duration, maxRetries int) *QoSManager {
	return &QoSManager{retryInterval: retryInterval, maxRetries: maxRetries}
}

// TrackOutboundQoS1 registers a just-sent QoS 1 publish awaiting PUBACK.
func (q *QoSManager) TrackOutboundQoS1(s *Session, packetID uint16, topic string, payload []byte, retain bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingQoS1[packetID] = &PendingMessage{
		PacketID: packetID,
		Topic:    topic,
		Payload:  payload,
		QoS:      packet.QoSAtLeastOnce,
		Retain:   retain,
		SentAt:   time.Now(),
	}
}

// TrackOutboundQoS2 registers a just-sent QoS 2 publish awaiting PUBREC.
func (q *QoSManager) TrackOutboundQoS2(s *Session, packetID uint16, topic string, payload []byte, retain bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingQoS2Out[packetID] = &PendingMessage{
		PacketID: packetID,
		Topic:    topic,
		Payload:  payload,
		QoS:      packet.QoSExactlyOnce,
		Retain:   retain,
		SentAt:   time.Now(),
	}
}

// HandlePubAck clears a completed QoS 1 delivery. Returns false if the
// packet id wasn't pending (duplicate or spurious ack).
func (q *QoSManager) HandlePubAck(s *Session, packetID uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.PendingQoS1[packetID]; !ok {
		return false
	}
	delete(s.PendingQoS1, packetID)
	return true
}

// HandlePubRec advances a QoS 2 outbound delivery from PUBREC to the PUBREL
// stage, returning the PUBREL frame to send. The pending entry is kept
// under the same packet id, marked Acked, until PUBCOMP arrives.
func (q *QoSManager) HandlePubRec(s *Session, packetID uint16) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.PendingQoS2Out[packetID]
	if !ok {
		return nil, false
	}
	msg.SentAt = time.Now()
	msg.RetryCount = 0
	msg.Acked = true
	return packet.NewPubRel(packetID), true
}

// HandlePubComp completes a QoS 2 outbound delivery.
func (q *QoSManager) HandlePubComp(s *Session, packetID uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.PendingQoS2Out[packetID]; !ok {
		return false
	}
	delete(s.PendingQoS2Out, packetID)
	return true
}

// HandleIncomingQoS2Publish records an inbound QoS 2 publish (dedup state)
// and returns the PUBREC frame. If the packet id is already tracked this is
// a retransmit (DUP); the original payload is kept and PUBREC is simply
// re-sent rather than re-delivering to subscribers twice.
func (q *QoSManager) HandleIncomingQoS2Publish(s *Session, packetID uint16, topic string, payload []byte, retain bool) (frame []byte, isDuplicate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.PendingQoS2In[packetID]; ok {
		return packet.NewPubRec(packetID), true
	}
	s.PendingQoS2In[packetID] = &qos2InState{
		Topic:      topic,
		Payload:    payload,
		Retain:     retain,
		ReceivedAt: time.Now(),
	}
	return packet.NewPubRec(packetID), false
}

// HandleIncomingPubRel completes the inbound QoS 2 handshake, returning the
// stored message for fan-out plus the PUBCOMP frame. Returns ok=false if the
// packet id has no PUBREC-acknowledged state (spurious PUBREL).
func (q *QoSManager) HandleIncomingPubRel(s *Session, packetID uint16) (msg *qos2InState, frame []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, found := s.PendingQoS2In[packetID]
	if !found {
		return nil, packet.NewPubComp(packetID), false
	}
	delete(s.PendingQoS2In, packetID)
	return state, packet.NewPubComp(packetID), true
}

// expiredPending describes one inflight message due for retransmission or
// drop, collected by Sweep so the caller can act without holding the
// session lock across a network write.
type expiredPending struct {
	session  *Session
	packetID uint16
	qos      packet.QoSLevel
	dropped  bool
	frame    []byte
}

// Sweep scans a session's inflight tables for entries older than the retry
// interval: retransmits with DUP set (bumping RetryCount) or drops the
// entry once max_retries is exceeded, mirroring the original's
// retry-or-give-up loop.
func (q *QoSManager) Sweep(s *Session) []expiredPending {
	now := time.Now()
	var due []expiredPending

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, msg := range s.PendingQoS1 {
		if now.Sub(msg.SentAt) < q.retryInterval {
			continue
		}
		if msg.RetryCount >= q.maxRetries {
			delete(s.PendingQoS1, id)
			due = append(due, expiredPending{session: s, packetID: id, qos: packet.QoSAtLeastOnce, dropped: true})
			continue
		}
		msg.RetryCount++
		msg.SentAt = now
		frame := (&packet.PublishPacket{
			DUP:      true,
			QoS:      packet.QoSAtLeastOnce,
			Retain:   msg.Retain,
			Topic:    msg.Topic,
			PacketID: &msg.PacketID,
			Payload:  msg.Payload,
		}).Encode()
		due = append(due, expiredPending{session: s, packetID: id, qos: packet.QoSAtLeastOnce, frame: frame})
	}

	for id, msg := range s.PendingQoS2Out {
		if now.Sub(msg.SentAt) < q.retryInterval {
			continue
		}
		if msg.RetryCount >= q.maxRetries {
			delete(s.PendingQoS2Out, id)
			due = append(due, expiredPending{session: s, packetID: id, qos: packet.QoSExactlyOnce, dropped: true})
			continue
		}
		msg.RetryCount++
		msg.SentAt = now
		var frame []byte
		if msg.Acked {
			frame = packet.NewPubRel(id)
		} else {
			frame = (&packet.PublishPacket{
				DUP:      true,
				QoS:      packet.QoSExactlyOnce,
				Retain:   msg.Retain,
				Topic:    msg.Topic,
				PacketID: &msg.PacketID,
				Payload:  msg.Payload,
			}).Encode()
		}
		due = append(due, expiredPending{session: s, packetID: id, qos: packet.QoSExactlyOnce, frame: frame})
	}

	return due
}
