package broker

import (
	"maps"
	"net"
	"sync"
	"time"

	"github.com/pyr33x/goqtt/internal/packet"
)

// PendingMessage is an in-flight QoS 1 or QoS 2 (outbound) publish waiting
// for its final acknowledgement.
type PendingMessage struct {
	PacketID   uint16
	Topic      string
	Payload    []byte
	QoS        packet.QoSLevel
	Retain     bool
	SentAt     time.Time
	RetryCount int
	Acked      bool // true once PUBREC arrived; retransmits resend PUBREL, not PUBLISH
}

// qos2InState tracks the server-side state machine for a QoS 2 publish the
// broker is receiving from a client.
type qos2InState struct {
	Topic     string
	Payload   []byte
	Retain    bool
	ReceivedAt time.Time
}

// QueuedMessage is a message held for a disconnected persistent session
// until it reconnects.
type QueuedMessage struct {
	Topic   string
	Payload []byte
	QoS     packet.QoSLevel
	Retain  bool
}

// Session is a client's durable MQTT state: identity, will, and every
// pending/queued message table the QoS and offline-queueing machinery need.
// Packet-ID isolation is enforced by keeping three separate tables rather
// than one shared map (PUBACK only ever touches PendingQoS1, PUBREC/PUBCOMP
// only PendingQoS2Out, PUBREL only PendingQoS2In).
type Session struct {
	ClientID     string
	CleanSession bool
	Username     string

	Subscriptions map[string]packet.QoSLevel

	WillTopic   string
	WillMessage []byte
	WillQoS     packet.QoSLevel
	WillRetain  bool
	HasWill     bool

	KeepAlive uint16

	mu                sync.Mutex
	Conn              net.Conn
	Connected         bool
	ConnectedAt       int64
	LastActivity      time.Time
	DisconnectedAt    time.Time // zero until the first disconnect; stamped on each disconnect (not cleared on resume) for SessionExpiry sweeps

	PendingQoS1    map[uint16]*PendingMessage
	PendingQoS2Out map[uint16]*PendingMessage
	PendingQoS2In  map[uint16]*qos2InState

	QueuedMessages []*QueuedMessage

	nextPacketID uint32
}

// NewSession builds a fresh session in its connected state.
func NewSession(clientID string, cleanSession bool, keepAlive uint16, conn net.Conn) *Session {
	return &Session{
		ClientID:       clientID,
		CleanSession:   cleanSession,
		KeepAlive:      keepAlive,
		Conn:           conn,
		Connected:      true,
		ConnectedAt:    time.Now().Unix(),
		LastActivity:   time.Now(),
		Subscriptions:  make(map[string]packet.QoSLevel),
		PendingQoS1:    make(map[uint16]*PendingMessage),
		PendingQoS2Out: make(map[uint16]*PendingMessage),
		PendingQoS2In:  make(map[uint16]*qos2InState),
	}
}

// NextPacketID returns the next non-zero packet identifier for this
// session's server-initiated publishes. Guarded by s.mu: Deliver can be
// invoked concurrently from any publishing connection's goroutine against
// the same subscriber session.
func (s *Session) NextPacketID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uint16(0)
	for id == 0 {
		s.nextPacketID++
		id = uint16(s.nextPacketID)
	}
	return id
}

// Send serializes a raw frame to the underlying connection, serialized by
// a per-session lock so concurrent router/sweep/handler writers don't
// interleave frames on the wire.
func (s *Session) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Conn == nil {
		return nil
	}
	_, err := s.Conn.Write(data)
	return err
}

func (s *Session) touch() {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) keepAliveExpired(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.LastActivity) > timeout
}

// InflightCount returns the number of unacknowledged QoS 1/2 outbound
// messages, used by the router to gate delivery against max_inflight.
// Guarded by s.mu: QoSManager mutates these same maps from sweep and
// handler goroutines under the same lock.
func (s *Session) InflightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.PendingQoS1) + len(s.PendingQoS2Out)
}

// sessionMap is the value stored in Broker.sessions: a snapshot that is
// replaced wholesale on every mutation (copy-on-write under rwmu), so
// readers via GetSession never need to take a lock.
type sessionMap map[string]*Session

// storeSession installs or replaces a session in the table.
func (b *Broker) storeSession(session *Session) {
	b.rwmu.Lock()
	defer b.rwmu.Unlock()

	current := b.sessions.Load().(sessionMap)
	updated := make(sessionMap, len(current)+1)
	maps.Copy(updated, current)
	updated[session.ClientID] = session
	b.sessions.Store(updated)
}

// GetSession looks up a session by client id without locking.
func (b *Broker) GetSession(clientID string) (*Session, bool) {
	current := b.sessions.Load().(sessionMap)
	s, ok := current[clientID]
	return s, ok
}

// deleteSession removes a session from the table entirely (used for
// clean-session disconnects, where the session must not be resumable).
func (b *Broker) deleteSession(clientID string) {
	b.rwmu.Lock()
	defer b.rwmu.Unlock()

	current := b.sessions.Load().(sessionMap)
	if _, ok := current[clientID]; !ok {
		return
	}
	updated := make(sessionMap, len(current))
	maps.Copy(updated, current)
	delete(updated, clientID)
	b.sessions.Store(updated)
}

// allSessions returns a stable snapshot for sweep iteration.
func (b *Broker) allSessions() sessionMap {
	return b.sessions.Load().(sessionMap)
}

// ConnectedCount returns the number of sessions currently holding an open
// connection (used for $SYS/broker/clients/connected).
func (b *Broker) ConnectedCount() int {
	n := 0
	for _, s := range b.allSessions() {
		s.mu.Lock()
		if s.Connected {
			n++
		}
		s.mu.Unlock()
	}
	return n
}
