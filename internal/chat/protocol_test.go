package chat

import (
	"context"
	"testing"

	"github.com/ashureev/cypherguy/internal/domain"
	"github.com/ashureev/cypherguy/internal/store"
)

func TestProtocol_Session(t *testing.T) {
	repo := store.NewMemory()
	p := NewProtocol(NewClassifier(nil), repo)
	ctx := context.Background()

	reply, err := p.Handle(ctx, "alice", Message{ID: "m1", Kind: KindStartSession})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if reply.Text != WelcomeReply || reply.AckID != "m1" {
		t.Errorf("Expected acknowledged welcome, got %+v", reply)
	}

	reply, err = p.Handle(ctx, "alice", Message{ID: "m2", Kind: KindText, Text: "I need $5000 credit"})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if reply.State != domain.ChatStateCollectingAmount || reply.AckID != "m2" {
		t.Errorf("Expected collecting_amount, got %+v", reply)
	}
	stored, _ := repo.GetChatContext(ctx, "alice")
	if stored == nil || stored.Amount == nil || *stored.Amount != 5000 {
		t.Fatalf("Expected stored amount 5000, got %+v", stored)
	}

	reply, err = p.Handle(ctx, "alice", Message{Kind: KindText, Text: "SOL"})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if reply.State != domain.ChatStateProcessing || reply.Collateral != "SOL" {
		t.Errorf("Expected processing reply, got %+v", reply)
	}
	if reply.AckID == "" {
		t.Error("Expected generated ack id")
	}
	stored, _ = repo.GetChatContext(ctx, "alice")
	if stored == nil || stored.State != domain.ChatStateIdle || stored.Intent != "" {
		t.Errorf("Expected stored context reset to idle, got %+v", stored)
	}

	reply, err = p.Handle(ctx, "alice", Message{Kind: KindEndSession})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if !reply.EndSession || reply.Text != GoodbyeReply {
		t.Errorf("Expected goodbye, got %+v", reply)
	}
	if stored, _ := repo.GetChatContext(ctx, "alice"); stored != nil {
		t.Errorf("Expected context deleted, got %+v", stored)
	}
}

func TestProtocol_SendersAreIsolated(t *testing.T) {
	repo := store.NewMemory()
	p := NewProtocol(NewClassifier(nil), repo)
	ctx := context.Background()

	if _, err := p.Handle(ctx, "alice", Message{Kind: KindText, Text: "loan 800"}); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	reply, err := p.Handle(ctx, "bob", Message{Kind: KindText, Text: "SOL"})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if reply.State != domain.ChatStateIdle {
		t.Errorf("Expected bob unaffected by alice's flow, got %+v", reply)
	}
}
