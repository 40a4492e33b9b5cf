package broker

import (
	"net"
	"testing"
	"time"

	"github.com/pyr33x/goqtt/internal/config"
	"github.com/pyr33x/goqtt/internal/packet"
)

func testRouterConfig() *config.BrokerConfig {
	cfg := config.Default()
	cfg.MaxInflight = 2
	cfg.MaxQueuedMessages = 2
	return &cfg
}

// pipedSession returns a session wired to one end of a net.Pipe, with the
// other end drained into a channel of raw frames.
func pipedSession(clientID string, cleanSession bool) (*Session, chan []byte) {
	client, server := net.Pipe()
	s := NewSession(clientID, cleanSession, 60, server)
	frames := make(chan []byte, 16)
	go func() {
		buf := make([]byte, 2048)
		for {
			n, err := client.Read(buf)
			if err != nil {
				close(frames)
				return
			}
			cp := make([]byte, n)
			copy(cp, buf[:n])
			frames <- cp
		}
	}()
	return s, frames
}

func TestEffectiveQoS(t *testing.T) {
	if got := effectiveQoS(packet.QoSExactlyOnce, packet.QoSAtLeastOnce); got != packet.QoSAtLeastOnce {
		t.Fatalf("expected min(2,1)=1, got %v", got)
	}
	if got := effectiveQoS(packet.QoSAtMostOnce, packet.QoSExactlyOnce); got != packet.QoSAtMostOnce {
		t.Fatalf("expected min(0,2)=0, got %v", got)
	}
}

func TestRouterDeliverToOnlineSession(t *testing.T) {
	cfg := testRouterConfig()
	topics := NewTopicTree()
	qos := NewQoSManager(time.Minute, 3)
	r := NewRouter(cfg, topics, qos)

	s, frames := pipedSession("c1", false)
	topics.Subscribe("c1", "a/b", packet.QoSAtLeastOnce)

	b := &Broker{Router: r}
	b.sessions.Store(sessionMap{"c1": s})

	r.Deliver(b, "a/b", []byte("hi"), packet.QoSAtLeastOnce, false, "")

	select {
	case f := <-frames:
		if packet.PacketType(f[0]&0xF0) != packet.PUBLISH {
			t.Fatalf("expected a PUBLISH frame, got %x", f)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivered frame")
	}
	if len(s.PendingQoS1) != 1 {
		t.Fatalf("expected QoS1 delivery tracked as pending, got %d", len(s.PendingQoS1))
	}
}

func TestRouterDeliverSkipsSender(t *testing.T) {
	cfg := testRouterConfig()
	topics := NewTopicTree()
	qos := NewQoSManager(time.Minute, 3)
	r := NewRouter(cfg, topics, qos)

	s, frames := pipedSession("c1", false)
	topics.Subscribe("c1", "a/b", packet.QoSAtLeastOnce)

	b := &Broker{Router: r}
	b.sessions.Store(sessionMap{"c1": s})

	r.Deliver(b, "a/b", []byte("hi"), packet.QoSAtLeastOnce, false, "c1")

	select {
	case f := <-frames:
		t.Fatalf("expected the publishing client to never receive its own publish, got %x", f)
	default:
	}
	if len(s.PendingQoS1) != 0 {
		t.Fatalf("expected no delivery tracked for the skipped sender, got %d", len(s.PendingQoS1))
	}
}

func TestRouterDeliverStillReachesOtherSubscribersWhenSenderSkipped(t *testing.T) {
	cfg := testRouterConfig()
	topics := NewTopicTree()
	qos := NewQoSManager(time.Minute, 3)
	r := NewRouter(cfg, topics, qos)

	sender, senderFrames := pipedSession("sender", false)
	other, otherFrames := pipedSession("other", false)
	topics.Subscribe("sender", "a/b", packet.QoSAtMostOnce)
	topics.Subscribe("other", "a/b", packet.QoSAtMostOnce)

	b := &Broker{Router: r}
	b.sessions.Store(sessionMap{"sender": sender, "other": other})

	r.Deliver(b, "a/b", []byte("hi"), packet.QoSAtMostOnce, false, "sender")

	select {
	case <-otherFrames:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the non-sending subscriber to receive the publish")
	}
	select {
	case f := <-senderFrames:
		t.Fatalf("expected the sender to be skipped, got %x", f)
	default:
	}
}

func TestRouterDropsQoS0ForOfflineSession(t *testing.T) {
	cfg := testRouterConfig()
	topics := NewTopicTree()
	qos := NewQoSManager(time.Minute, 3)
	r := NewRouter(cfg, topics, qos)

	s := NewSession("c1", false, 60, nil)
	s.Connected = false

	r.deliverToSession(s, "a/b", []byte("hi"), packet.QoSAtMostOnce, false)

	if len(s.QueuedMessages) != 0 {
		t.Fatalf("expected QoS0 dropped for offline session, found %d queued", len(s.QueuedMessages))
	}
}

func TestRouterDropsForOfflineCleanSession(t *testing.T) {
	cfg := testRouterConfig()
	topics := NewTopicTree()
	qos := NewQoSManager(time.Minute, 3)
	r := NewRouter(cfg, topics, qos)

	s := NewSession("c1", true, 60, nil)
	s.Connected = false

	r.deliverToSession(s, "a/b", []byte("hi"), packet.QoSAtLeastOnce, false)

	if len(s.QueuedMessages) != 0 {
		t.Fatalf("expected clean-session offline delivery dropped, found %d queued", len(s.QueuedMessages))
	}
}

func TestRouterQueuesForOfflinePersistentSession(t *testing.T) {
	cfg := testRouterConfig()
	topics := NewTopicTree()
	qos := NewQoSManager(time.Minute, 3)
	r := NewRouter(cfg, topics, qos)

	s := NewSession("c1", false, 60, nil)
	s.Connected = false

	r.deliverToSession(s, "a/b", []byte("hi"), packet.QoSAtLeastOnce, false)

	if len(s.QueuedMessages) != 1 {
		t.Fatalf("expected persistent offline delivery queued, got %d", len(s.QueuedMessages))
	}
}

func TestRouterOnlineOverInflightCleanSessionDrops(t *testing.T) {
	cfg := testRouterConfig() // MaxInflight = 2
	topics := NewTopicTree()
	qos := NewQoSManager(time.Minute, 3)
	r := NewRouter(cfg, topics, qos)

	s, _ := pipedSession("c1", true)
	s.PendingQoS1[1] = &PendingMessage{PacketID: 1}
	s.PendingQoS1[2] = &PendingMessage{PacketID: 2}

	r.deliverToSession(s, "a/b", []byte("hi"), packet.QoSAtLeastOnce, false)

	if len(s.PendingQoS1) != 2 {
		t.Fatalf("expected no new pending entry for clean session over inflight limit, got %d", len(s.PendingQoS1))
	}
	if len(s.QueuedMessages) != 0 {
		t.Fatalf("clean sessions must never be queued, got %d", len(s.QueuedMessages))
	}
}

func TestRouterOnlineOverInflightPersistentSessionQueues(t *testing.T) {
	cfg := testRouterConfig() // MaxInflight = 2
	topics := NewTopicTree()
	qos := NewQoSManager(time.Minute, 3)
	r := NewRouter(cfg, topics, qos)

	s, _ := pipedSession("c1", false)
	s.PendingQoS1[1] = &PendingMessage{PacketID: 1}
	s.PendingQoS1[2] = &PendingMessage{PacketID: 2}

	r.deliverToSession(s, "a/b", []byte("hi"), packet.QoSAtLeastOnce, false)

	if len(s.QueuedMessages) != 1 {
		t.Fatalf("expected over-inflight persistent session delivery queued, got %d", len(s.QueuedMessages))
	}
}

func TestRouterEnqueueFIFOEviction(t *testing.T) {
	cfg := testRouterConfig() // MaxQueuedMessages = 2
	topics := NewTopicTree()
	qos := NewQoSManager(time.Minute, 3)
	r := NewRouter(cfg, topics, qos)

	s := NewSession("c1", false, 60, nil)
	r.enqueue(s, "t1", []byte("1"), packet.QoSAtLeastOnce, false)
	r.enqueue(s, "t2", []byte("2"), packet.QoSAtLeastOnce, false)
	r.enqueue(s, "t3", []byte("3"), packet.QoSAtLeastOnce, false)

	if len(s.QueuedMessages) != 2 {
		t.Fatalf("expected queue capped at 2, got %d", len(s.QueuedMessages))
	}
	if s.QueuedMessages[0].Topic != "t2" || s.QueuedMessages[1].Topic != "t3" {
		t.Fatalf("expected oldest entry evicted FIFO, got %+v", s.QueuedMessages)
	}
}

func TestRouterDeliverQueuedFlushesInOrder(t *testing.T) {
	cfg := testRouterConfig()
	topics := NewTopicTree()
	qos := NewQoSManager(time.Minute, 3)
	r := NewRouter(cfg, topics, qos)

	s, frames := pipedSession("c1", false)
	s.QueuedMessages = []*QueuedMessage{
		{Topic: "t1", Payload: []byte("1"), QoS: packet.QoSAtLeastOnce},
		{Topic: "t2", Payload: []byte("2"), QoS: packet.QoSAtMostOnce},
	}

	r.DeliverQueued(s)

	if len(s.QueuedMessages) != 0 {
		t.Fatalf("expected queue drained, got %d remaining", len(s.QueuedMessages))
	}
	for i := 0; i < 2; i++ {
		select {
		case <-frames:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for flushed frame %d", i)
		}
	}
}

func TestRouterDeliverQueuedLeavesOverInflightEntriesQueued(t *testing.T) {
	cfg := testRouterConfig() // MaxInflight = 2
	topics := NewTopicTree()
	qos := NewQoSManager(time.Minute, 3)
	r := NewRouter(cfg, topics, qos)

	s, _ := pipedSession("c1", false)
	s.PendingQoS1[1] = &PendingMessage{PacketID: 1}
	s.PendingQoS1[2] = &PendingMessage{PacketID: 2}
	s.QueuedMessages = []*QueuedMessage{
		{Topic: "t1", Payload: []byte("1"), QoS: packet.QoSAtLeastOnce},
	}

	r.DeliverQueued(s)

	if len(s.QueuedMessages) != 1 {
		t.Fatalf("expected the over-inflight message to remain queued, got %d", len(s.QueuedMessages))
	}
}

func TestRouterDeliverRetainedUsesEffectiveQoS(t *testing.T) {
	cfg := testRouterConfig()
	topics := NewTopicTree()
	qos := NewQoSManager(time.Minute, 3)
	r := NewRouter(cfg, topics, qos)
	store := NewRetainedStore(10)
	store.Set("a/b", []byte("retained"), packet.QoSExactlyOnce)

	s, frames := pipedSession("c1", false)

	r.DeliverRetained(s, store, "a/+", packet.QoSAtLeastOnce)

	select {
	case f := <-frames:
		pp := &packet.PublishPacket{}
		if err := pp.Parse(f); err != nil {
			t.Fatalf("failed to parse delivered retained publish: %v", err)
		}
		if pp.QoS != packet.QoSAtLeastOnce {
			t.Fatalf("expected effective QoS1 (min of retained QoS2, granted QoS1), got %v", pp.QoS)
		}
		if !pp.Retain {
			t.Fatalf("expected retain flag set on delivered retained message")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for retained delivery")
	}
}
