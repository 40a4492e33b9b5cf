// Package auth defines the broker's pluggable authentication and
// authorization surface, along with a handful of ready-to-use providers.
package auth

import "github.com/pyr33x/goqtt/internal/packet"

// Provider is the broker's pluggable auth surface. AuthorizeSubscribe
// returns the granted QoS (0-2), or -1 to deny the subscription outright.
type Provider interface {
	Authenticate(clientID, username, password string) bool
	AuthorizePublish(clientID, topic string) bool
	AuthorizeSubscribe(clientID, topicFilter string) int
	CleanupClient(clientID string)
}

// AllowAllProvider grants every request. It is the broker's zero-config
// default and matches allow_anonymous semantics when no provider is wired.
type AllowAllProvider struct{}

func (AllowAllProvider) Authenticate(clientID, username, password string) bool { return true }
func (AllowAllProvider) AuthorizePublish(clientID, topic string) bool          { return true }
func (AllowAllProvider) AuthorizeSubscribe(clientID, topicFilter string) int {
	return int(packet.QoSExactlyOnce)
}
func (AllowAllProvider) CleanupClient(clientID string) {}
