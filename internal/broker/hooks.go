package broker

import (
	"log/slog"

	"github.com/pyr33x/goqtt/internal/packet"
)

// Hooks lets an embedding program observe broker lifecycle events. Every
// field is optional; nil hooks are simply skipped. Hooks run synchronously
// on the calling connection's goroutine and are never allowed to crash it:
// a panicking hook is recovered and logged.
type Hooks struct {
	// OnConnect fires before CONNACK is sent (MQTT-3.3.5). Returning false
	// rejects the connection with CONNACK return code 0x05.
	OnConnect    func(clientID, username, willTopic string) bool
	OnDisconnect func(clientID string, graceful bool)
	OnPublish    func(clientID, topic string, payload []byte, qos packet.QoSLevel)
	// OnSubscribe fires after the grant has been computed from the
	// requested QoS, capability, and auth intersection. Returning ok=true
	// replaces the SUBACK grant with override (0x80 is a valid override,
	// denying the subscription outright); ok=false leaves grant untouched.
	OnSubscribe   func(clientID, filter string, grant packet.QoSLevel) (override byte, ok bool)
	OnUnsubscribe func(clientID, filter string)
	// OnWillPublish fires just before a will message is routed on an
	// ungraceful disconnect. Returning false suppresses the will entirely.
	OnWillPublish func(clientID, topic string, payload []byte) bool
}

// fireConnect returns true when the connection should proceed: either no
// hook is registered, or the hook explicitly allowed it.
func (h *Hooks) fireConnect(log *slog.Logger, clientID, username, willTopic string) (allow bool) {
	if h == nil || h.OnConnect == nil {
		return true
	}
	allow = true
	defer recoverHook(log, "OnConnect")
	allow = h.OnConnect(clientID, username, willTopic)
	return allow
}

func (h *Hooks) fireDisconnect(log *slog.Logger, clientID string, graceful bool) {
	if h == nil || h.OnDisconnect == nil {
		return
	}
	defer recoverHook(log, "OnDisconnect")
	h.OnDisconnect(clientID, graceful)
}

func (h *Hooks) firePublish(log *slog.Logger, clientID, topic string, payload []byte, qos packet.QoSLevel) {
	if h == nil || h.OnPublish == nil {
		return
	}
	defer recoverHook(log, "OnPublish")
	h.OnPublish(clientID, topic, payload, qos)
}

// fireSubscribe returns ok=true when the hook wants to override the computed
// grant, in which case override replaces it (including as 0x80 to deny).
func (h *Hooks) fireSubscribe(log *slog.Logger, clientID, filter string, qos packet.QoSLevel) (override byte, ok bool) {
	if h == nil || h.OnSubscribe == nil {
		return 0, false
	}
	defer recoverHook(log, "OnSubscribe")
	override, ok = h.OnSubscribe(clientID, filter, qos)
	return override, ok
}

func (h *Hooks) fireUnsubscribe(log *slog.Logger, clientID, filter string) {
	if h == nil || h.OnUnsubscribe == nil {
		return
	}
	defer recoverHook(log, "OnUnsubscribe")
	h.OnUnsubscribe(clientID, filter)
}

// fireWillPublish returns false to suppress the will; nil hooks, an unset
// OnWillPublish, or a panicking one all fail open (true, publish as normal).
func (h *Hooks) fireWillPublish(log *slog.Logger, clientID, topic string, payload []byte) (publish bool) {
	if h == nil || h.OnWillPublish == nil {
		return true
	}
	publish = true
	defer recoverHook(log, "OnWillPublish")
	publish = h.OnWillPublish(clientID, topic, payload)
	return publish
}

func recoverHook(log *slog.Logger, name string) {
	if r := recover(); r != nil {
		if log != nil {
			log.Error("hook panicked", "hook", name, "recovered", r)
		}
	}
}
