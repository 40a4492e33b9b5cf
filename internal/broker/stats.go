package broker

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// BrokerStats accumulates broker-wide counters and renders them as $SYS
// topic values. Counters are plain atomics rather than a mutex-guarded
// struct since every field is an independent monotonic counter.
type BrokerStats struct {
	Version string
	start   time.Time

	messagesReceived   uint64
	messagesSent       uint64
	publishesReceived  uint64
	publishesSent      uint64
	bytesReceived      uint64
	bytesSent          uint64
	connectionsTotal   uint64

	connWindowStart atomic.Int64 // unix nanos
	connWindowCount atomic.Int64
	connRate        atomic.Int64
}

func NewBrokerStats(version string) *BrokerStats {
	s := &BrokerStats{Version: version, start: time.Now()}
	s.connWindowStart.Store(s.start.UnixNano())
	return s
}

func (s *BrokerStats) RecordConnection() {
	atomic.AddUint64(&s.connectionsTotal, 1)
	s.connWindowCount.Add(1)
}

func (s *BrokerStats) RecordMessageReceived(bytes int) {
	atomic.AddUint64(&s.messagesReceived, 1)
	atomic.AddUint64(&s.bytesReceived, uint64(bytes))
}

func (s *BrokerStats) RecordMessageSent(bytes int) {
	atomic.AddUint64(&s.messagesSent, 1)
	atomic.AddUint64(&s.bytesSent, uint64(bytes))
}

func (s *BrokerStats) RecordPublishReceived() { atomic.AddUint64(&s.publishesReceived, 1) }
func (s *BrokerStats) RecordPublishSent()     { atomic.AddUint64(&s.publishesSent, 1) }

// updateConnectionRate rolls the one-minute connection-rate window forward,
// called from GetSysTopics the way the original calls it eagerly on every
// $SYS render rather than from a dedicated ticker.
func (s *BrokerStats) updateConnectionRate() {
	now := time.Now()
	windowStart := time.Unix(0, s.connWindowStart.Load())
	if now.Sub(windowStart) >= time.Minute {
		s.connRate.Store(s.connWindowCount.Swap(0))
		s.connWindowStart.Store(now.UnixNano())
	}
}

func (s *BrokerStats) Uptime() time.Duration {
	return time.Since(s.start)
}

// GetSysTopics renders the current $SYS topic set. totalSessions is the
// count of both connected and offline persistent sessions; connectedCount
// and subscriptionCount/retainedCount come from the live TopicTree and
// RetainedStore at call time.
func (s *BrokerStats) GetSysTopics(connectedCount, subscriptionCount, retainedCount, totalSessions int) map[string]string {
	s.updateConnectionRate()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	topics := map[string]string{
		"$SYS/broker/version":                    fmt.Sprintf("goqtt %s", s.Version),
		"$SYS/broker/uptime":                      fmt.Sprintf("%d", int64(s.Uptime().Seconds())),
		"$SYS/broker/clients/connected":           fmt.Sprintf("%d", connectedCount),
		"$SYS/broker/clients/total":               fmt.Sprintf("%d", totalSessions),
		"$SYS/broker/messages/received":           fmt.Sprintf("%d", atomic.LoadUint64(&s.messagesReceived)),
		"$SYS/broker/messages/sent":                fmt.Sprintf("%d", atomic.LoadUint64(&s.messagesSent)),
		"$SYS/broker/messages/publish/received":   fmt.Sprintf("%d", atomic.LoadUint64(&s.publishesReceived)),
		"$SYS/broker/messages/publish/sent":       fmt.Sprintf("%d", atomic.LoadUint64(&s.publishesSent)),
		"$SYS/broker/bytes/received":              fmt.Sprintf("%d", atomic.LoadUint64(&s.bytesReceived)),
		"$SYS/broker/bytes/sent":                  fmt.Sprintf("%d", atomic.LoadUint64(&s.bytesSent)),
		"$SYS/broker/subscriptions/count":         fmt.Sprintf("%d", subscriptionCount),
		"$SYS/broker/messages/retained/count":     fmt.Sprintf("%d", retainedCount),
		"$SYS/broker/load/connections":            fmt.Sprintf("%d", s.connRate.Load()),
		"$SYS/broker/heap/free":                   fmt.Sprintf("%d", mem.HeapIdle),
		"$SYS/broker/heap/used":                   fmt.Sprintf("%d", mem.HeapInuse),
	}
	return topics
}

// MemoryGuard watches Go's heap usage and signals when the broker should
// shed load. Watermarks are in bytes of heap in use (the inverse of the
// original's "free bytes" framing, since runtime.MemStats reports usage
// directly rather than a free-list size).
type MemoryGuard struct {
	lowWatermark      uint64
	criticalWatermark uint64
}

type MemoryLevel int

const (
	MemOK MemoryLevel = iota
	MemLow
	MemCritical
)

func NewMemoryGuard(lowWatermark, criticalWatermark uint64) *MemoryGuard {
	return &MemoryGuard{lowWatermark: lowWatermark, criticalWatermark: criticalWatermark}
}

// Check forces a GC pass and classifies current heap usage.
func (g *MemoryGuard) Check() MemoryLevel {
	runtime.GC()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	if mem.HeapInuse >= g.criticalWatermark {
		return MemCritical
	}
	if mem.HeapInuse >= g.lowWatermark {
		return MemLow
	}
	return MemOK
}

// Trim constants for shedding per-session queue memory under pressure.
const (
	trimPendingQoS1Keep    = 5
	trimPendingQoS2OutKeep = 5
	trimQueuedMessagesKeep = 10
)

// TrimQueues drops the oldest entries from every session's inflight and
// offline queues down to the fixed keep-counts above, applied whenever
// Check reports LOW or worse.
func (g *MemoryGuard) TrimQueues(sessions sessionMap) {
	for _, s := range sessions {
		s.mu.Lock()
		trimOldestUint16(s.PendingQoS1, trimPendingQoS1Keep)
		trimOldestUint16(s.PendingQoS2Out, trimPendingQoS2OutKeep)
		if len(s.QueuedMessages) > trimQueuedMessagesKeep {
			excess := len(s.QueuedMessages) - trimQueuedMessagesKeep
			s.QueuedMessages = s.QueuedMessages[excess:]
		}
		s.mu.Unlock()
	}
}

func trimOldestUint16(m map[uint16]*PendingMessage, keep int) {
	for len(m) > keep {
		var oldestID uint16
		var oldestAt time.Time
		first := true
		for id, msg := range m {
			if first || msg.SentAt.Before(oldestAt) {
				oldestID, oldestAt, first = id, msg.SentAt, false
			}
		}
		delete(m, oldestID)
	}
}
