package auth

import "testing"

func TestAllowAllProvider(t *testing.T) {
	var p AllowAllProvider

	if !p.Authenticate("c1", "", "") {
		t.Fatalf("expected AllowAllProvider to authenticate anyone")
	}
	if !p.AuthorizePublish("c1", "a/b") {
		t.Fatalf("expected AllowAllProvider to authorize publish")
	}
	if p.AuthorizeSubscribe("c1", "a/#") != 2 {
		t.Fatalf("expected AllowAllProvider to grant max QoS")
	}
	p.CleanupClient("c1") // must not panic
}

func TestDictProvider(t *testing.T) {
	p := NewDictProvider(map[string]string{"alice": "secret"})

	if !p.Authenticate("c1", "alice", "secret") {
		t.Fatalf("expected matching username/password to authenticate")
	}
	if p.Authenticate("c1", "alice", "wrong") {
		t.Fatalf("expected wrong password to fail")
	}
	if p.Authenticate("c1", "", "secret") {
		t.Fatalf("expected empty username to fail regardless of password table")
	}
	if p.Authenticate("c1", "bob", "secret") {
		t.Fatalf("expected unknown username to fail")
	}
	if !p.AuthorizePublish("c1", "any/topic") {
		t.Fatalf("expected DictProvider to authorize publish without ACLs")
	}
	if p.AuthorizeSubscribe("c1", "any/topic") != 2 {
		t.Fatalf("expected DictProvider to grant max QoS for subscribe")
	}
}

func TestCallbackProviderDefaultsWhenNil(t *testing.T) {
	p := &CallbackProvider{}

	if !p.Authenticate("c1", "u", "p") {
		t.Fatalf("expected nil OnAuthenticate to default to allow")
	}
	if !p.AuthorizePublish("c1", "a/b") {
		t.Fatalf("expected nil OnAuthorizePublish to default to allow")
	}
	if p.AuthorizeSubscribe("c1", "a/b") != 2 {
		t.Fatalf("expected nil OnAuthorizeSubscribe to default to max QoS")
	}
}

func TestCallbackProviderDelegatesToClosures(t *testing.T) {
	p := &CallbackProvider{
		OnAuthenticate:       func(clientID, username, password string) bool { return username == "alice" },
		OnAuthorizePublish:   func(clientID, topic string) bool { return topic == "allowed" },
		OnAuthorizeSubscribe: func(clientID, filter string) int { return 1 },
	}

	if p.Authenticate("c1", "bob", "x") {
		t.Fatalf("expected closure to reject bob")
	}
	if !p.Authenticate("c1", "alice", "x") {
		t.Fatalf("expected closure to accept alice")
	}
	if p.AuthorizePublish("c1", "other") {
		t.Fatalf("expected closure to deny 'other'")
	}
	if got := p.AuthorizeSubscribe("c1", "a/b"); got != 1 {
		t.Fatalf("expected closure-granted QoS1, got %d", got)
	}
}
