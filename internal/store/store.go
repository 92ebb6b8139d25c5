// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/cypherguy/internal/domain"
)

// Repository defines the interface for persisting sessions, request records
// and chat contexts. Implementations must be safe for concurrent use.
type Repository interface {
	// PutSession stores a freshly issued session.
	PutSession(ctx context.Context, session *domain.Session) error

	// GetSession returns the session for token, or nil if it is unknown.
	GetSession(ctx context.Context, token string) (*domain.Session, error)

	// DeleteExpiredSessions removes sessions created before now-ttl.
	DeleteExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// AppendRequest assigns the next sequential id for category and stores the record.
	AppendRequest(ctx context.Context, category domain.Category, userID string, fields map[string]any) (*domain.RequestRecord, error)

	// ListRequests returns the records of category in insertion order.
	ListRequests(ctx context.Context, category domain.Category) ([]*domain.RequestRecord, error)

	// CountRequests returns the number of stored records per category.
	CountRequests(ctx context.Context) (map[domain.Category]int64, error)

	// GetChatContext returns the conversation state for sender, or nil.
	GetChatContext(ctx context.Context, sender string) (*domain.ChatContext, error)

	// PutChatContext creates or replaces the conversation state for its sender.
	PutChatContext(ctx context.Context, chatCtx *domain.ChatContext) error

	// DeleteChatContext removes the conversation state for sender.
	DeleteChatContext(ctx context.Context, sender string) error

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// FormatRequestID renders the sequential request identifier.
func FormatRequestID(category domain.Category, seq int64) string {
	return fmt.Sprintf("%s_%d", category, seq)
}
