package broker

import (
	"net"
	"testing"
	"time"
)

func TestSessionNextPacketIDNeverZero(t *testing.T) {
	s := NewSession("c1", false, 60, nil)
	s.nextPacketID = 0xFFFFFFFE // force a wraparound through zero

	first := s.NextPacketID()
	second := s.NextPacketID()

	if first == 0 || second == 0 {
		t.Fatalf("packet ids must never be zero, got %d then %d", first, second)
	}
	if first == second {
		t.Fatalf("expected distinct packet ids, got %d twice", first)
	}
}

func TestSessionSendWritesToConn(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	s := NewSession("c1", false, 60, server)

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := client.Read(buf)
		done <- buf[:n]
	}()

	if err := s.Send([]byte{0xD0, 0x00}); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	select {
	case got := <-done:
		if len(got) != 2 || got[0] != 0xD0 {
			t.Fatalf("unexpected bytes received: %x", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for written frame")
	}
}

func TestSessionSendNilConnIsNoop(t *testing.T) {
	s := NewSession("c1", false, 60, nil)
	if err := s.Send([]byte{0xD0, 0x00}); err != nil {
		t.Fatalf("expected nil-conn send to be a no-op, got %v", err)
	}
}

func TestSessionTouchAndKeepAliveExpired(t *testing.T) {
	s := NewSession("c1", false, 60, nil)
	s.LastActivity = time.Now().Add(-time.Hour)

	if !s.keepAliveExpired(time.Minute) {
		t.Fatalf("expected keep-alive expired after an hour of inactivity")
	}

	s.touch()
	if s.keepAliveExpired(time.Minute) {
		t.Fatalf("expected touch to reset the keep-alive clock")
	}
}

func TestSessionInflightCount(t *testing.T) {
	s := NewSession("c1", false, 60, nil)
	s.PendingQoS1[1] = &PendingMessage{PacketID: 1}
	s.PendingQoS2Out[2] = &PendingMessage{PacketID: 2}

	if got := s.InflightCount(); got != 2 {
		t.Fatalf("expected inflight count 2, got %d", got)
	}
}

func TestBrokerSessionTableLifecycle(t *testing.T) {
	b := &Broker{}
	b.sessions.Store(make(sessionMap))

	s1 := NewSession("c1", false, 60, nil)
	b.storeSession(s1)

	got, ok := b.GetSession("c1")
	if !ok || got != s1 {
		t.Fatalf("expected to retrieve stored session c1")
	}

	if _, ok := b.GetSession("missing"); ok {
		t.Fatalf("expected lookup of unknown client to fail")
	}

	s2 := NewSession("c2", false, 60, nil)
	b.storeSession(s2)
	if len(b.allSessions()) != 2 {
		t.Fatalf("expected 2 sessions in snapshot, got %d", len(b.allSessions()))
	}

	b.deleteSession("c1")
	if _, ok := b.GetSession("c1"); ok {
		t.Fatalf("expected c1 removed after delete")
	}
	if len(b.allSessions()) != 1 {
		t.Fatalf("expected 1 session remaining, got %d", len(b.allSessions()))
	}

	// deleting an already-absent session is a harmless no-op
	b.deleteSession("c1")
	if len(b.allSessions()) != 1 {
		t.Fatalf("expected delete of missing session to be a no-op")
	}
}

func TestBrokerConnectedCount(t *testing.T) {
	b := &Broker{}
	b.sessions.Store(make(sessionMap))

	connected := NewSession("c1", false, 60, nil)
	offline := NewSession("c2", false, 60, nil)
	offline.Connected = false

	b.storeSession(connected)
	b.storeSession(offline)

	if got := b.ConnectedCount(); got != 1 {
		t.Fatalf("expected 1 connected session, got %d", got)
	}
}
