package agent_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/mentrabridge/internal/agent"
	"github.com/MrWong99/mentrabridge/internal/config"
)

func TestRouter_Resolve(t *testing.T) {
	t.Parallel()

	r := agent.NewRouter("assistant", []config.BindingConfig{
		{Peer: "Alice", Agent: "Work"},
	})

	tests := []struct {
		name      string
		peer      string
		wantAgent string
		wantKey   string
		wantBy    agent.MatchedBy
	}{
		{"binding", "alice", "work", "agent:work:mentra:dm:alice", agent.MatchedBinding},
		{"binding case-insensitive", " ALICE ", "work", "agent:work:mentra:dm:alice", agent.MatchedBinding},
		{"default", "u1", "assistant", "agent:assistant:mentra:dm:u1", agent.MatchedDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := r.Resolve("mentra", tt.peer)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got.AgentID != tt.wantAgent || got.SessionKey != tt.wantKey || got.MatchedBy != tt.wantBy {
				t.Errorf("Resolve(%q) = %+v, want {%s %s %s}", tt.peer, got, tt.wantAgent, tt.wantKey, tt.wantBy)
			}
		})
	}
}

func TestRouter_Deterministic(t *testing.T) {
	t.Parallel()

	r := agent.NewRouter("", nil)
	a, _ := r.Resolve("mentra", "u1")
	b, _ := r.Resolve("mentra", "u1")
	if a != b {
		t.Errorf("Resolve not deterministic: %+v vs %+v", a, b)
	}
	if a.AgentID != agent.DefaultAgentID {
		t.Errorf("AgentID = %q, want %q", a.AgentID, agent.DefaultAgentID)
	}
}

func TestRouter_Update(t *testing.T) {
	t.Parallel()

	r := agent.NewRouter("main", nil)
	r.Update("main", []config.BindingConfig{{Peer: "u1", Agent: "kitchen"}})
	got, err := r.Resolve("mentra", "u1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.AgentID != "kitchen" {
		t.Errorf("AgentID after Update = %q, want %q", got.AgentID, "kitchen")
	}
}

func TestRouter_EmptyPeer(t *testing.T) {
	t.Parallel()

	_, err := agent.NewRouter("main", nil).Resolve("mentra", "  ")
	if !errors.Is(err, agent.ErrEmptyPeer) {
		t.Errorf("Resolve(empty) err = %v, want ErrEmptyPeer", err)
	}
}
