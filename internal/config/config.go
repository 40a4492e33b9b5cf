// Package config defines the flat, yaml-driven option set that parameterizes
// a broker instance, mirroring the teacher's inline cmd/goqtt/main.go config
// but expanded to the full option list the broker needs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pyr33x/goqtt/pkg/er"
)

// BrokerConfig holds every tunable of the broker core. Field names mirror
// the option names clients configure with; yaml tags use snake_case.
type BrokerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Network
	BindAddr string `yaml:"bind_addr"`
	Port     int    `yaml:"port"`
	Backlog  int    `yaml:"backlog"`

	// Client limits
	MaxClients                int `yaml:"max_clients"`
	MaxSubscriptionsPerClient int `yaml:"max_subscriptions_per_client"`
	MaxTopicLength            int `yaml:"max_topic_length"`
	MaxTopicLevels            int `yaml:"max_topic_levels"`

	// Message size limits
	MaxPayloadSize     int `yaml:"max_payload_size"`
	MaxPacketSize      int `yaml:"max_packet_size"`
	MaxQueuedMessages  int `yaml:"max_queued_messages"`

	// QoS settings
	MaxInflight          int `yaml:"max_inflight"`
	MaxRetainedMessages  int `yaml:"max_retained_messages"`

	// Timeout / keep-alive
	ConnectTimeout     int     `yaml:"connect_timeout"`
	KeepAliveFactor    float64 `yaml:"keep_alive_factor"`
	NoKeepaliveTimeout int     `yaml:"no_keepalive_timeout"`

	// QoS retry
	QoSRetryInterval int `yaml:"qos_retry_interval"`
	QoSMaxRetries    int `yaml:"qos_max_retries"`

	// Session management
	SessionExpiry int `yaml:"session_expiry"`

	// Feature flags
	AllowAnonymous          bool `yaml:"allow_anonymous"`
	AllowZeroLengthClientID bool `yaml:"allow_zero_length_clientid"`
	RetainEnabled           bool `yaml:"retain_enabled"`
	QoS2Enabled             bool `yaml:"qos2_enabled"`

	// System topics and stats
	SysTopicsEnabled bool `yaml:"sys_topics_enabled"`
	StatsInterval    int  `yaml:"stats_interval"`

	// Memory and performance
	RecvBufferSize           int    `yaml:"recv_buffer_size"`
	GCCollectInterval        int    `yaml:"gc_collect_interval"`
	MemLowWatermarkBytes     uint64 `yaml:"mem_low_watermark_bytes"`
	MemCriticalWatermarkBytes uint64 `yaml:"mem_critical_watermark_bytes"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Auth persistence (additive: credentials only, not message state)
	AuthDSN string `yaml:"auth_dsn"`
}

// Default returns the broker's zero-config defaults, matching the values
// the original implementation ships with.
func Default() BrokerConfig {
	return BrokerConfig{
		Name:    "goqtt",
		Version: "dev",

		BindAddr: "0.0.0.0",
		Port:     1883,
		Backlog:  4,

		MaxClients:                10,
		MaxSubscriptionsPerClient: 20,
		MaxTopicLength:            256,
		MaxTopicLevels:            8,

		MaxPayloadSize:    4096,
		MaxPacketSize:     8192,
		MaxQueuedMessages: 50,

		MaxInflight:         10,
		MaxRetainedMessages: 100,

		ConnectTimeout:     10,
		KeepAliveFactor:    1.5,
		NoKeepaliveTimeout: 3600,

		QoSRetryInterval: 10,
		QoSMaxRetries:    3,

		SessionExpiry: 3600,

		AllowAnonymous:          true,
		AllowZeroLengthClientID: true,
		RetainEnabled:           true,
		QoS2Enabled:             true,

		SysTopicsEnabled: true,
		StatsInterval:    60,

		RecvBufferSize:    1024,
		GCCollectInterval: 30,

		MemLowWatermarkBytes:      64 * 1024 * 1024,
		MemCriticalWatermarkBytes: 128 * 1024 * 1024,

		LogLevel: "INFO",
	}
}

// Load reads a YAML config file over the defaults, overriding only the keys
// present in the file, then validates the result.
func Load(path string) (BrokerConfig, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, &er.Err{Context: "Config, Load", Message: err}
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, &er.Err{Context: "Config, Unmarshal", Message: err}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the broker cannot safely run with.
func (c *BrokerConfig) Validate() error {
	check := func(ok bool, format string, args ...any) error {
		if !ok {
			return &er.Err{Context: "Config, Validate", Message: fmt.Errorf(format, args...)}
		}
		return nil
	}

	if err := check(c.Port >= 1 && c.Port <= 65535, "port must be in range 1-65535, got %d", c.Port); err != nil {
		return err
	}
	if err := check(c.MaxClients >= 1, "max_clients must be >= 1, got %d", c.MaxClients); err != nil {
		return err
	}
	if err := check(c.MaxPayloadSize >= 1, "max_payload_size must be >= 1, got %d", c.MaxPayloadSize); err != nil {
		return err
	}
	if err := check(c.Backlog >= 1, "backlog must be >= 1, got %d", c.Backlog); err != nil {
		return err
	}
	if err := check(c.MaxSubscriptionsPerClient >= 1, "max_subscriptions_per_client must be >= 1, got %d", c.MaxSubscriptionsPerClient); err != nil {
		return err
	}
	if err := check(c.MaxTopicLength >= 1 && c.MaxTopicLength <= 65535, "max_topic_length must be in range 1-65535, got %d", c.MaxTopicLength); err != nil {
		return err
	}
	if err := check(c.MaxTopicLevels >= 1, "max_topic_levels must be >= 1, got %d", c.MaxTopicLevels); err != nil {
		return err
	}
	if err := check(c.MaxPacketSize >= c.MaxPayloadSize, "max_packet_size must be >= max_payload_size"); err != nil {
		return err
	}
	if err := check(c.MaxQueuedMessages >= 0, "max_queued_messages must be >= 0, got %d", c.MaxQueuedMessages); err != nil {
		return err
	}
	if err := check(c.MaxInflight >= 1, "max_inflight must be >= 1, got %d", c.MaxInflight); err != nil {
		return err
	}
	if err := check(c.MaxRetainedMessages >= 0, "max_retained_messages must be >= 0, got %d", c.MaxRetainedMessages); err != nil {
		return err
	}
	if err := check(c.ConnectTimeout >= 1, "connect_timeout must be >= 1, got %d", c.ConnectTimeout); err != nil {
		return err
	}
	if err := check(c.KeepAliveFactor > 0, "keep_alive_factor must be > 0, got %v", c.KeepAliveFactor); err != nil {
		return err
	}
	if err := check(c.NoKeepaliveTimeout >= 1, "no_keepalive_timeout must be >= 1, got %d", c.NoKeepaliveTimeout); err != nil {
		return err
	}
	if err := check(c.QoSRetryInterval >= 1, "qos_retry_interval must be >= 1, got %d", c.QoSRetryInterval); err != nil {
		return err
	}
	if err := check(c.QoSMaxRetries >= 0, "qos_max_retries must be >= 0, got %d", c.QoSMaxRetries); err != nil {
		return err
	}
	if err := check(c.SessionExpiry >= 0, "session_expiry must be >= 0, got %d", c.SessionExpiry); err != nil {
		return err
	}
	if err := check(c.StatsInterval >= 1, "stats_interval must be >= 1, got %d", c.StatsInterval); err != nil {
		return err
	}
	if err := check(c.RecvBufferSize >= 64, "recv_buffer_size must be >= 64, got %d", c.RecvBufferSize); err != nil {
		return err
	}
	if err := check(c.GCCollectInterval >= 1, "gc_collect_interval must be >= 1, got %d", c.GCCollectInterval); err != nil {
		return err
	}

	switch c.LogLevel {
	case "DEBUG", "INFO", "WARNING", "ERROR":
	default:
		return check(false, "log_level must be one of DEBUG/INFO/WARNING/ERROR, got %s", c.LogLevel)
	}

	return nil
}

// KeepAliveTimeout returns the effective keep-alive deadline for a client's
// negotiated keep-alive interval, or NoKeepaliveTimeout when the client
// disabled keep-alive (requested 0).
func (c *BrokerConfig) KeepAliveTimeout(keepAliveSeconds uint16) time.Duration {
	if keepAliveSeconds == 0 {
		return time.Duration(c.NoKeepaliveTimeout) * time.Second
	}
	return time.Duration(float64(keepAliveSeconds)*c.KeepAliveFactor) * time.Second
}
