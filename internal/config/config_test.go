package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestLoadOverridesOnlyPresentKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte("port: 9001\nmax_clients: 5\n"), 0o644); err != nil {
		t.Fatalf("failed to write fixture config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.Port != 9001 {
		t.Fatalf("expected port overridden to 9001, got %d", cfg.Port)
	}
	if cfg.MaxClients != 5 {
		t.Fatalf("expected max_clients overridden to 5, got %d", cfg.MaxClients)
	}
	// Everything else should still carry the default.
	if cfg.BindAddr != "0.0.0.0" {
		t.Fatalf("expected untouched bind_addr to keep its default, got %s", cfg.BindAddr)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatalf("expected an error loading a nonexistent file")
	}
}

func TestLoadInvalidYAMLErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yml")
	if err := os.WriteFile(path, []byte("port: [this is not valid"), 0o644); err != nil {
		t.Fatalf("failed to write fixture config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for malformed yaml")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte("port: 70000\n"), 0o644); err != nil {
		t.Fatalf("failed to write fixture config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation to reject an out-of-range port")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*BrokerConfig)
	}{
		{"port too low", func(c *BrokerConfig) { c.Port = 0 }},
		{"port too high", func(c *BrokerConfig) { c.Port = 70000 }},
		{"max clients zero", func(c *BrokerConfig) { c.MaxClients = 0 }},
		{"max payload size zero", func(c *BrokerConfig) { c.MaxPayloadSize = 0 }},
		{"backlog zero", func(c *BrokerConfig) { c.Backlog = 0 }},
		{"max subscriptions zero", func(c *BrokerConfig) { c.MaxSubscriptionsPerClient = 0 }},
		{"max topic length zero", func(c *BrokerConfig) { c.MaxTopicLength = 0 }},
		{"max topic levels zero", func(c *BrokerConfig) { c.MaxTopicLevels = 0 }},
		{"packet size below payload size", func(c *BrokerConfig) { c.MaxPacketSize = c.MaxPayloadSize - 1 }},
		{"negative queued messages", func(c *BrokerConfig) { c.MaxQueuedMessages = -1 }},
		{"max inflight zero", func(c *BrokerConfig) { c.MaxInflight = 0 }},
		{"negative retained messages", func(c *BrokerConfig) { c.MaxRetainedMessages = -1 }},
		{"connect timeout zero", func(c *BrokerConfig) { c.ConnectTimeout = 0 }},
		{"keep alive factor zero", func(c *BrokerConfig) { c.KeepAliveFactor = 0 }},
		{"no keepalive timeout zero", func(c *BrokerConfig) { c.NoKeepaliveTimeout = 0 }},
		{"qos retry interval zero", func(c *BrokerConfig) { c.QoSRetryInterval = 0 }},
		{"negative qos max retries", func(c *BrokerConfig) { c.QoSMaxRetries = -1 }},
		{"negative session expiry", func(c *BrokerConfig) { c.SessionExpiry = -1 }},
		{"stats interval zero", func(c *BrokerConfig) { c.StatsInterval = 0 }},
		{"recv buffer too small", func(c *BrokerConfig) { c.RecvBufferSize = 1 }},
		{"gc interval zero", func(c *BrokerConfig) { c.GCCollectInterval = 0 }},
		{"bad log level", func(c *BrokerConfig) { c.LogLevel = "VERBOSE" }},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Default()
			c.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", c.name)
			}
		})
	}
}

func TestKeepAliveTimeout(t *testing.T) {
	cfg := Default()
	cfg.KeepAliveFactor = 1.5
	cfg.NoKeepaliveTimeout = 3600

	if got := cfg.KeepAliveTimeout(0); got.Seconds() != 3600 {
		t.Fatalf("expected disabled keep-alive to use NoKeepaliveTimeout, got %v", got)
	}
	if got := cfg.KeepAliveTimeout(60); got.Seconds() != 90 {
		t.Fatalf("expected 60s keep-alive scaled by 1.5 to 90s, got %v", got)
	}
}
