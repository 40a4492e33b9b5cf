// Package broker implements the MQTT 3.1.1 broker core: topic matching,
// retained messages, QoS 1/2 state machines, routing, sessions, and the
// background sweeps that keep them all healthy.
package broker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pyr33x/goqtt/internal/auth"
	"github.com/pyr33x/goqtt/internal/config"
	"github.com/pyr33x/goqtt/internal/logger"
)

// Broker is the central object embedding programs construct: one per
// listening server, owning every piece of shared state a connection
// handler or background sweep touches.
type Broker struct {
	cfg    *config.BrokerConfig
	log    *logger.Logger
	auth   auth.Provider
	hooks  *Hooks
	interceptors *InterceptorChain

	Topics   *TopicTree
	Retained *RetainedStore
	QoS      *QoSManager
	Router   *Router
	Stats    *BrokerStats
	Mem      *MemoryGuard

	sessions atomic.Value // sessionMap
	rwmu     sync.RWMutex
}

// New wires every broker component from cfg, ready to accept connections
// via ServeConn. A nil authProvider defaults to AllowAllProvider, and a nil
// hooks pointer simply means no lifecycle hooks fire.
func New(cfg *config.BrokerConfig, authProvider auth.Provider, log *logger.Logger, hooks *Hooks) *Broker {
	if authProvider == nil {
		authProvider = auth.AllowAllProvider{}
	}
	if log == nil {
		log = logger.NewMQTTLogger("broker")
	}

	topics := NewTopicTree()
	qosMgr := NewQoSManager(time.Duration(cfg.QoSRetryInterval)*time.Second, cfg.QoSMaxRetries)

	b := &Broker{
		cfg:          cfg,
		log:          log,
		auth:         authProvider,
		hooks:        hooks,
		interceptors: NewInterceptorChain(log.Logger),
		Topics:       topics,
		Retained:     NewRetainedStore(cfg.MaxRetainedMessages),
		QoS:          qosMgr,
		Stats:        NewBrokerStats(cfg.Version),
		Mem:          NewMemoryGuard(cfg.MemLowWatermarkBytes, cfg.MemCriticalWatermarkBytes),
	}
	b.Router = NewRouter(cfg, topics, qosMgr)
	b.sessions.Store(make(sessionMap))
	return b
}

// Use registers an interceptor on the broker's publish pipeline.
func (b *Broker) Use(i Interceptor) {
	b.interceptors.Use(i)
}
