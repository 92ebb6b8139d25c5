package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/cypherguy/internal/domain"
	"github.com/google/uuid"
)

// Kind is the type of a chat message.
type Kind string

const (
	KindStartSession Kind = "start_session"
	KindText         Kind = "text"
	KindEndSession   Kind = "end_session"
)

// Message is one inbound chat message.
type Message struct {
	ID   string `json:"msg_id,omitempty"`
	Kind Kind   `json:"kind"`
	Text string `json:"text,omitempty"`
}

// Reply answers a Message. Every reply acknowledges the inbound message id.
type Reply struct {
	ID         string           `json:"msg_id"`
	AckID      string           `json:"acknowledged_msg_id"`
	Timestamp  time.Time        `json:"timestamp"`
	Text       string           `json:"text,omitempty"`
	EndSession bool             `json:"end_session,omitempty"`
	State      domain.ChatState `json:"state,omitempty"`
	Intent     domain.Category  `json:"intent,omitempty"`
	Amount     *int             `json:"amount,omitempty"`
	Collateral string           `json:"collateral,omitempty"`
}

// ContextStore persists per-sender chat contexts.
type ContextStore interface {
	GetChatContext(ctx context.Context, sender string) (*domain.ChatContext, error)
	PutChatContext(ctx context.Context, chatCtx *domain.ChatContext) error
	DeleteChatContext(ctx context.Context, sender string) error
}

// Protocol runs chat sessions on top of a Classifier and a ContextStore.
type Protocol struct {
	classifier *Classifier
	store      ContextStore

	// Transcript receives every inbound message and reply.
	Transcript TranscriptLogger
}

// NewProtocol creates a chat protocol with transcripts disabled.
func NewProtocol(classifier *Classifier, store ContextStore) *Protocol {
	return &Protocol{classifier: classifier, store: store, Transcript: noopTranscript{}}
}

// Handle processes msg from sender.
func (p *Protocol) Handle(ctx context.Context, sender string, msg Message) (Reply, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	p.record(TranscriptEvent{Sender: sender, Direction: DirectionInbound, Kind: msg.Kind, MsgID: msg.ID, Text: msg.Text})

	reply, err := p.handle(ctx, sender, msg)
	if err != nil {
		return Reply{}, err
	}
	p.record(TranscriptEvent{
		Timestamp: reply.Timestamp,
		Sender:    sender,
		Direction: DirectionOutbound,
		MsgID:     reply.ID,
		State:     string(reply.State),
		Intent:    string(reply.Intent),
		Text:      reply.Text,
	})
	return reply, nil
}

func (p *Protocol) record(event TranscriptEvent) {
	if p.Transcript != nil {
		p.Transcript.Log(event)
	}
}

func (p *Protocol) handle(ctx context.Context, sender string, msg Message) (Reply, error) {
	reply := Reply{ID: uuid.NewString(), AckID: msg.ID, Timestamp: time.Now().UTC()}

	switch msg.Kind {
	case KindStartSession:
		slog.Info("chat session started", "sender", sender)
		reply.Text = WelcomeReply
		reply.State = domain.ChatStateIdle
		return reply, nil

	case KindEndSession:
		slog.Info("chat session ended", "sender", sender)
		if err := p.store.DeleteChatContext(ctx, sender); err != nil {
			return Reply{}, fmt.Errorf("delete chat context: %w", err)
		}
		reply.Text = GoodbyeReply
		reply.EndSession = true
		return reply, nil

	case KindText, "":
		return p.text(ctx, sender, msg, reply)
	}

	slog.Warn("unexpected chat content", "sender", sender, "kind", msg.Kind)
	return reply, nil
}

func (p *Protocol) text(ctx context.Context, sender string, msg Message, reply Reply) (Reply, error) {
	cur, err := p.store.GetChatContext(ctx, sender)
	if err != nil {
		return Reply{}, fmt.Errorf("load chat context: %w", err)
	}
	chatCtx := domain.NewChatContext(sender)
	if cur != nil {
		chatCtx = *cur
	}

	next, text := p.classifier.ClassifyTurn(ctx, sender, msg.Text, chatCtx)
	reply.Text = text
	reply.State = next.State
	reply.Intent = next.Intent
	reply.Amount = next.Amount
	reply.Collateral = next.Collateral

	if next.State == domain.ChatStateProcessing {
		slog.Info("credit slots complete", "sender", sender, "amount", *next.Amount, "collateral", next.Collateral)
		updated := next.UpdatedAt
		next = next.Reset()
		next.UpdatedAt = updated
	}
	if err := p.store.PutChatContext(ctx, &next); err != nil {
		return Reply{}, fmt.Errorf("save chat context: %w", err)
	}
	return reply, nil
}
