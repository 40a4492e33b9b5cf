package auth

import "github.com/pyr33x/goqtt/internal/packet"

// CallbackProvider delegates each auth decision to an optional closure,
// falling back to allow-everything for any callback left nil. It lets an
// embedding program wire custom auth logic without implementing the full
// Provider interface.
type CallbackProvider struct {
	OnAuthenticate       func(clientID, username, password string) bool
	OnAuthorizePublish   func(clientID, topic string) bool
	OnAuthorizeSubscribe func(clientID, topicFilter string) int
}

func (p *CallbackProvider) Authenticate(clientID, username, password string) bool {
	if p.OnAuthenticate != nil {
		return p.OnAuthenticate(clientID, username, password)
	}
	return true
}

func (p *CallbackProvider) AuthorizePublish(clientID, topic string) bool {
	if p.OnAuthorizePublish != nil {
		return p.OnAuthorizePublish(clientID, topic)
	}
	return true
}

func (p *CallbackProvider) AuthorizeSubscribe(clientID, topicFilter string) int {
	if p.OnAuthorizeSubscribe != nil {
		return p.OnAuthorizeSubscribe(clientID, topicFilter)
	}
	return int(packet.QoSExactlyOnce)
}

func (p *CallbackProvider) CleanupClient(clientID string) {}
