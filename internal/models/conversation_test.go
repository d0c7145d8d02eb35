package models

import "testing"

func TestConversationHelpers(t *testing.T) {
	private := &Conversation{
		Type:         ConversationPrivate,
		Participants: []string{"alice", "bob"},
	}
	if !private.IsPrivate() {
		t.Fatal("expected private")
	}
	if got := private.OtherParticipant("alice"); got != "bob" {
		t.Fatalf("expected bob, got %q", got)
	}
	if got := private.OtherParticipant("bob"); got != "alice" {
		t.Fatalf("expected alice, got %q", got)
	}
	if !private.HasParticipant("alice") || private.HasParticipant("carol") {
		t.Fatal("membership check failed")
	}

	group := &Conversation{
		Type:         ConversationGroup,
		Participants: []string{"alice", "bob", "carol"},
	}
	if group.IsPrivate() {
		t.Fatal("group should not be private")
	}
}
