package broker

import (
	"context"
	"sync"
	"time"

	"github.com/pyr33x/goqtt/internal/logger"
)

// StartSweeps launches every background goroutine the broker needs while
// running: QoS retransmit/drop, keep-alive enforcement, persistent-session
// expiry plus topic-tree pruning, periodic $SYS publication, and a memory
// guard nudge. It returns a stop function the caller should defer; stop
// blocks until every sweep goroutine has exited.
func StartSweeps(ctx context.Context, b *Broker) (stop func()) {
	var wg sync.WaitGroup
	sweepCtx, cancel := context.WithCancel(ctx)

	wg.Add(1)
	go b.runQoSSweep(sweepCtx, &wg)

	wg.Add(1)
	go b.runKeepAliveSweep(sweepCtx, &wg)

	wg.Add(1)
	go b.runSessionExpirySweep(sweepCtx, &wg)

	if b.cfg.SysTopicsEnabled {
		wg.Add(1)
		go b.runSysTopicsSweep(sweepCtx, &wg)
	}

	wg.Add(1)
	go b.runMemorySweep(sweepCtx, &wg)

	return func() {
		cancel()
		wg.Wait()
	}
}

// runQoSSweep retransmits or drops overdue QoS 1/2 deliveries every
// qos_retry_interval.
func (b *Broker) runQoSSweep(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	interval := time.Duration(b.cfg.QoSRetryInterval) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range b.allSessions() {
				s.mu.Lock()
				connected := s.Connected
				s.mu.Unlock()
				if !connected {
					continue
				}
				for _, due := range b.QoS.Sweep(s) {
					if due.dropped {
						b.log.Warn("dropping undelivered message after max retries",
							logger.ClientID(s.ClientID), logger.Int("packet_id", int(due.packetID)))
						continue
					}
					if err := s.Send(due.frame); err != nil {
						b.log.Debug("retransmit send failed", logger.ClientID(s.ClientID), logger.ErrorAttr(err))
					}
				}
			}
		}
	}
}

// runKeepAliveSweep force-disconnects clients that have gone silent past
// their negotiated keep-alive window.
func (b *Broker) runKeepAliveSweep(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range b.allSessions() {
				s.mu.Lock()
				connected := s.Connected
				keepAlive := s.KeepAlive
				s.mu.Unlock()
				if !connected {
					continue
				}
				if s.keepAliveExpired(b.cfg.KeepAliveTimeout(keepAlive)) {
					b.log.Info("keep-alive expired, disconnecting", logger.ClientID(s.ClientID))
					b.HandleDisconnect(s, false)
				}
			}
		}
	}
}

// runSessionExpirySweep reaps persistent (non-clean-session) sessions whose
// client has been offline longer than SessionExpiry, and prunes the topic
// tree of the subscriptions that leaves behind. Clean sessions are never
// reaped here: they are torn down immediately on disconnect instead.
func (b *Broker) runSessionExpirySweep(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	if b.cfg.SessionExpiry <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	expiry := time.Duration(b.cfg.SessionExpiry) * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range b.allSessions() {
				s.mu.Lock()
				connected := s.Connected
				disconnectedAt := s.DisconnectedAt
				cleanSession := s.CleanSession
				s.mu.Unlock()

				if connected || cleanSession || disconnectedAt.IsZero() {
					continue
				}
				if time.Since(disconnectedAt) < expiry {
					continue
				}

				b.log.Info("expiring persistent session", logger.ClientID(s.ClientID))
				b.Topics.UnsubscribeAll(s.ClientID)
				b.deleteSession(s.ClientID)
			}
			b.Topics.Prune()
		}
	}
}

// runSysTopicsSweep publishes the $SYS/broker/* snapshot every stats_interval.
func (b *Broker) runSysTopicsSweep(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	interval := time.Duration(b.cfg.StatsInterval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			topics := b.Stats.GetSysTopics(
				b.ConnectedCount(),
				b.Topics.GetSubscriptionCount(),
				b.Retained.Count(),
				len(b.allSessions()),
			)
			for topic, value := range topics {
				b.Publish(topic, []byte(value), 0, true)
			}
		}
	}
}

// runMemorySweep checks heap pressure every gc_collect_interval, trimming
// every session's queues once usage crosses the low watermark.
func (b *Broker) runMemorySweep(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	interval := time.Duration(b.cfg.GCCollectInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if level := b.Mem.Check(); level != MemOK {
				b.log.Warn("memory pressure, trimming session queues", logger.Int("level", int(level)))
				b.Mem.TrimQueues(b.allSessions())
			}
		}
	}
}
