package auth

import "github.com/pyr33x/goqtt/internal/packet"

// DictProvider authenticates from a fixed in-memory username->password map.
// It authorizes everything once authenticated, leaving topic-level ACLs to
// ACLRoleBasedProvider.
type DictProvider struct {
	users map[string]string
}

func NewDictProvider(users map[string]string) *DictProvider {
	return &DictProvider{users: users}
}

func (p *DictProvider) Authenticate(clientID, username, password string) bool {
	if username == "" {
		return false
	}
	want, ok := p.users[username]
	return ok && want == password
}

func (p *DictProvider) AuthorizePublish(clientID, topic string) bool { return true }

func (p *DictProvider) AuthorizeSubscribe(clientID, topicFilter string) int {
	return int(packet.QoSExactlyOnce)
}

func (p *DictProvider) CleanupClient(clientID string) {}
