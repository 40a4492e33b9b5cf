// Package transport is the TCP accept loop: it owns the listener and hands
// every accepted connection straight to the broker core.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/pyr33x/goqtt/internal/broker"
	"github.com/pyr33x/goqtt/internal/logger"
)

// Server accepts TCP connections and dispatches each one to a Broker.
type Server struct {
	addr           string
	listener       net.Listener
	broker         *broker.Broker
	log            *logger.Logger
	isShuttingdown atomic.Bool
}

// New creates a Server bound to addr (host:port) that serves connections
// through b.
func New(addr string, b *broker.Broker, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewMQTTLogger("transport")
	}
	return &Server{addr: addr, broker: b, log: log}
}

// Start opens the listener and begins accepting in the background.
func (srv *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", srv.addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", srv.addr, err)
	}
	srv.listener = listener
	go srv.accept(ctx)
	return nil
}

// Stop closes the listener, unblocking accept.
func (srv *Server) Stop() error {
	srv.isShuttingdown.Store(true)
	if srv.listener != nil {
		return srv.listener.Close()
	}
	return nil
}

func (srv *Server) accept(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			srv.log.Info("accept loop stopping, context cancelled")
			return
		default:
		}

		conn, err := srv.listener.Accept()
		if err != nil {
			if srv.isShuttingdown.Load() {
				return
			}
			srv.log.Warn("accept error", logger.ErrorAttr(err))
			continue
		}
		go srv.broker.ServeConn(ctx, conn)
	}
}
