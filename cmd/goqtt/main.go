package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pyr33x/goqtt/internal/auth"
	"github.com/pyr33x/goqtt/internal/broker"
	"github.com/pyr33x/goqtt/internal/config"
	"github.com/pyr33x/goqtt/internal/logger"
	"github.com/pyr33x/goqtt/internal/transport"
)

func main() {
	cfgPath := "config.yml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Printf("no config at %s (%v), starting from defaults", cfgPath, err)
		cfg = config.Default()
		if verr := cfg.Validate(); verr != nil {
			log.Fatalf("invalid default config: %v", verr)
		}
	}

	logCfg := logger.ProductionConfig()
	if cfg.LogLevel == "DEBUG" {
		logCfg = logger.DevelopmentConfig()
	}
	logger.InitGlobalLogger(logCfg)
	lg := logger.NewMQTTLogger("main")

	authProvider, err := buildAuthProvider(cfg)
	if err != nil {
		lg.Fatal("failed to build auth provider", logger.ErrorAttr(err))
	}

	hooks := &broker.Hooks{
		OnConnect: func(clientID, username, willTopic string) bool {
			return true
		},
	}

	b := broker.New(&cfg, authProvider, lg, hooks)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port)
	srv := transport.New(addr, b, logger.NewMQTTLogger("transport"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		lg.Fatal("server failed to start", logger.ErrorAttr(err))
	}
	lg.Info("broker listening", logger.String("addr", addr))

	stopBackground := broker.StartSweeps(ctx, b)
	defer stopBackground()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	lg.Info("shutdown signal received")
	cancel()
	if err := srv.Stop(); err != nil {
		lg.Warn("error stopping listener", logger.ErrorAttr(err))
	}
	time.Sleep(500 * time.Millisecond)
	lg.Info("shutdown complete")
}

// buildAuthProvider selects an auth.Provider from config. An empty AuthDSN
// means anonymous/allow-all auth (gated by cfg.AllowAnonymous at connect
// time); any other value is used as-is as the SQLite DSN (for example a
// file path) to open a SQLiteProvider.
func buildAuthProvider(cfg config.BrokerConfig) (auth.Provider, error) {
	if cfg.AuthDSN == "" {
		return auth.AllowAllProvider{}, nil
	}
	return auth.OpenSQLiteProvider(cfg.AuthDSN)
}
