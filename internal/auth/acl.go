package auth

import (
	"strings"
	"sync"
)

type aclUser struct {
	password string
	role     string
}

type aclRule struct {
	role      string
	pattern   string
	publish   bool
	subscribe bool
}

// ACLRoleBasedProvider authenticates against a user table and authorizes
// publish/subscribe against a list of role+topic-pattern rules: a request is
// allowed if any rule for the client's role matches the topic and permits
// that action; a matching rule that withholds the action does not deny it.
type ACLRoleBasedProvider struct {
	mu          sync.RWMutex
	users       map[string]aclUser
	rules       []aclRule
	clientRoles map[string]string
}

func NewACLRoleBasedProvider() *ACLRoleBasedProvider {
	return &ACLRoleBasedProvider{
		users:       make(map[string]aclUser),
		clientRoles: make(map[string]string),
	}
}

func (p *ACLRoleBasedProvider) AddUser(username, password, role string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if role == "" {
		role = "default"
	}
	p.users[username] = aclUser{password: password, role: role}
}

// AddACL registers a rule granting (or withholding) publish/subscribe
// access for role on topics matching pattern (MQTT wildcards supported).
func (p *ACLRoleBasedProvider) AddACL(role, pattern string, publish, subscribe bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = append(p.rules, aclRule{role: role, pattern: pattern, publish: publish, subscribe: subscribe})
}

func (p *ACLRoleBasedProvider) Authenticate(clientID, username, password string) bool {
	if username == "" {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	user, ok := p.users[username]
	if !ok || user.password != password {
		return false
	}
	p.clientRoles[clientID] = user.role
	return true
}

func (p *ACLRoleBasedProvider) roleFor(clientID string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if role, ok := p.clientRoles[clientID]; ok {
		return role
	}
	return "default"
}

func (p *ACLRoleBasedProvider) AuthorizePublish(clientID, topic string) bool {
	role := p.roleFor(clientID)

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, rule := range p.rules {
		if rule.role == role && matchACLPattern(rule.pattern, topic) && rule.publish {
			return true
		}
	}
	return false
}

func (p *ACLRoleBasedProvider) AuthorizeSubscribe(clientID, topicFilter string) int {
	role := p.roleFor(clientID)

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, rule := range p.rules {
		if rule.role == role && matchACLPattern(rule.pattern, topicFilter) && rule.subscribe {
			return 2
		}
	}
	return -1
}

func (p *ACLRoleBasedProvider) CleanupClient(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clientRoles, clientID)
}

// matchACLPattern matches pattern against topic with '+' single-level and
// '#' multi-level MQTT wildcards.
func matchACLPattern(pattern, topic string) bool {
	pLevels := strings.Split(pattern, "/")
	tLevels := strings.Split(topic, "/")

	pi, ti := 0, 0
	for pi < len(pLevels) && ti < len(tLevels) {
		if pLevels[pi] == "#" {
			return true
		}
		if pLevels[pi] == "+" || pLevels[pi] == tLevels[ti] {
			pi++
			ti++
		} else {
			return false
		}
	}
	return pi == len(pLevels) && ti == len(tLevels)
}
