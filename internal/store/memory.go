package store

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/ashureev/cypherguy/internal/domain"
)

// MemoryStore implements Repository in process memory.
// Nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	requests map[domain.Category][]domain.RequestRecord
	chats    map[string]domain.ChatContext
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]domain.Session),
		requests: make(map[domain.Category][]domain.RequestRecord),
		chats:    make(map[string]domain.ChatContext),
	}
}

// PutSession stores a session.
func (m *MemoryStore) PutSession(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.Token] = *session
	return nil
}

// GetSession returns a copy of the stored session.
func (m *MemoryStore) GetSession(_ context.Context, token string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[token]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// DeleteExpiredSessions removes sessions older than ttl.
func (m *MemoryStore) DeleteExpiredSessions(_ context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for token, s := range m.sessions {
		if s.CreatedAt.Before(threshold) {
			delete(m.sessions, token)
			n++
		}
	}
	return n, nil
}

// AppendRequest stores a record with the next id for category.
func (m *MemoryStore) AppendRequest(_ context.Context, category domain.Category, userID string, fields map[string]any) (*domain.RequestRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := domain.RequestRecord{
		ID:        FormatRequestID(category, int64(len(m.requests[category])+1)),
		Category:  category,
		UserID:    userID,
		Fields:    maps.Clone(fields),
		Status:    domain.RequestStatusPending,
		CreatedAt: time.Now(),
	}
	m.requests[category] = append(m.requests[category], rec)
	out := rec
	return &out, nil
}

// ListRequests returns copies of the stored records for category.
func (m *MemoryStore) ListRequests(_ context.Context, category domain.Category) ([]*domain.RequestRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.RequestRecord, 0, len(m.requests[category]))
	for _, rec := range m.requests[category] {
		rec.Fields = maps.Clone(rec.Fields)
		out = append(out, &rec)
	}
	return out, nil
}

// CountRequests returns per-category record counts.
func (m *MemoryStore) CountRequests(_ context.Context) (map[domain.Category]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[domain.Category]int64, len(domain.Categories))
	for _, c := range domain.Categories {
		counts[c] = int64(len(m.requests[c]))
	}
	return counts, nil
}

// GetChatContext returns a copy of the stored context.
func (m *MemoryStore) GetChatContext(_ context.Context, sender string) (*domain.ChatContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chats[sender]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// PutChatContext replaces the context for its sender.
func (m *MemoryStore) PutChatContext(_ context.Context, chatCtx *domain.ChatContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *chatCtx
	c.UpdatedAt = time.Now()
	m.chats[c.Sender] = c
	return nil
}

// DeleteChatContext removes the context for sender.
func (m *MemoryStore) DeleteChatContext(_ context.Context, sender string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, sender)
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
