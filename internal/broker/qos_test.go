package broker

import (
	"testing"
	"time"

	"github.com/pyr33x/goqtt/internal/packet"
)

func TestQoSManagerOutboundQoS1Lifecycle(t *testing.T) {
	q := NewQoSManager(time.Minute, 3)
	s := NewSession("c1", false, 60, nil)

	q.TrackOutboundQoS1(s, 1, "a/b", []byte("hi"), false)
	if len(s.PendingQoS1) != 1 {
		t.Fatalf("expected 1 pending QoS1 message, got %d", len(s.PendingQoS1))
	}

	if ok := q.HandlePubAck(s, 2); ok {
		t.Fatalf("expected HandlePubAck to reject an unknown packet id")
	}
	if ok := q.HandlePubAck(s, 1); !ok {
		t.Fatalf("expected HandlePubAck to accept the tracked packet id")
	}
	if len(s.PendingQoS1) != 0 {
		t.Fatalf("expected pending QoS1 table drained, got %d entries", len(s.PendingQoS1))
	}
}

func TestQoSManagerOutboundQoS2Lifecycle(t *testing.T) {
	q := NewQoSManager(time.Minute, 3)
	s := NewSession("c1", false, 60, nil)

	q.TrackOutboundQoS2(s, 5, "a/b", []byte("hi"), false)

	frame, ok := q.HandlePubRec(s, 5)
	if !ok || frame == nil {
		t.Fatalf("expected HandlePubRec to return a PUBREL frame")
	}
	if !s.PendingQoS2Out[5].Acked {
		t.Fatalf("expected pending entry marked Acked after PUBREC")
	}

	if ok := q.HandlePubComp(s, 5); !ok {
		t.Fatalf("expected HandlePubComp to complete the handshake")
	}
	if len(s.PendingQoS2Out) != 0 {
		t.Fatalf("expected pending QoS2 table drained, got %d entries", len(s.PendingQoS2Out))
	}
}

func TestQoSManagerIncomingQoS2Dedup(t *testing.T) {
	q := NewQoSManager(time.Minute, 3)
	s := NewSession("c1", false, 60, nil)

	_, dup := q.HandleIncomingQoS2Publish(s, 9, "a/b", []byte("hi"), false)
	if dup {
		t.Fatalf("first delivery should not be a duplicate")
	}
	_, dup = q.HandleIncomingQoS2Publish(s, 9, "a/b", []byte("hi"), false)
	if !dup {
		t.Fatalf("retransmit with the same packet id should be reported as a duplicate")
	}

	state, _, ok := q.HandleIncomingPubRel(s, 9)
	if !ok || state.Topic != "a/b" {
		t.Fatalf("expected HandleIncomingPubRel to return the stored state")
	}
	if _, _, ok := q.HandleIncomingPubRel(s, 9); ok {
		t.Fatalf("a second PUBREL for the same id should find no state")
	}
}

func TestQoSManagerSweepRetransmitsAndDrops(t *testing.T) {
	q := NewQoSManager(time.Millisecond, 1)
	s := NewSession("c1", false, 60, nil)

	q.TrackOutboundQoS1(s, 1, "a/b", []byte("hi"), false)
	time.Sleep(5 * time.Millisecond)

	due := q.Sweep(s)
	if len(due) != 1 || due[0].dropped {
		t.Fatalf("expected one retransmit, got %+v", due)
	}
	if s.PendingQoS1[1].RetryCount != 1 {
		t.Fatalf("expected retry count incremented, got %d", s.PendingQoS1[1].RetryCount)
	}

	time.Sleep(5 * time.Millisecond)
	due = q.Sweep(s)
	if len(due) != 1 || !due[0].dropped {
		t.Fatalf("expected message dropped after exceeding max retries, got %+v", due)
	}
	if len(s.PendingQoS1) != 0 {
		t.Fatalf("expected dropped entry removed from pending table")
	}
}

func TestQoSManagerSweepResendsPubrelOnceAcked(t *testing.T) {
	q := NewQoSManager(time.Millisecond, 3)
	s := NewSession("c1", false, 60, nil)

	q.TrackOutboundQoS2(s, 3, "a/b", []byte("hi"), false)
	if _, ok := q.HandlePubRec(s, 3); !ok {
		t.Fatalf("expected PUBREC to be accepted")
	}

	time.Sleep(5 * time.Millisecond)
	due := q.Sweep(s)
	if len(due) != 1 {
		t.Fatalf("expected one due entry, got %+v", due)
	}
	if due[0].qos != packet.QoSExactlyOnce {
		t.Fatalf("expected QoS2 entry, got %+v", due[0])
	}
	// Acked entries resend PUBREL (4 bytes), not a re-encoded PUBLISH.
	if len(due[0].frame) != 4 || packet.PacketType(due[0].frame[0]&0xF0) != packet.PUBREL {
		t.Fatalf("expected a PUBREL retransmit frame, got %x", due[0].frame)
	}
}
