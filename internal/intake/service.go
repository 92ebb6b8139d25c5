// Package intake is the pipeline entry point: it authenticates callers,
// applies coarse bounds, records requests and forwards them to policy.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/cypherguy/internal/domain"
	"github.com/ashureev/cypherguy/internal/pipeline"
	"github.com/ashureev/cypherguy/internal/store"
)

// ErrInvalidSession is returned when the presented token is unknown.
var ErrInvalidSession = errors.New("invalid session token")

// Intake bounds, checked before any downstream call.
const (
	MinCreditAmount     = 100
	MaxCreditAmount     = 100000
	MinPropertyValue    = 50000
	MinPortfolioValue   = 1000
	creditBoundsMsg     = "Amount must be between $100 and $100,000"
	propertyBoundsMsg   = "Property value must be at least $50,000"
	portfolioBoundsMsg  = "Portfolio must be at least $1,000"
	policyFailurePrefix = "Policy check failed: "
)

// SessionLookup resolves session tokens.
type SessionLookup interface {
	Lookup(ctx context.Context, token string) (*domain.Session, error)
}

// Service processes category requests.
type Service struct {
	sessions SessionLookup
	repo     store.Repository
	next     pipeline.Stage
}

// NewService creates an intake service forwarding to next (the policy stage).
func NewService(sessions SessionLookup, repo store.Repository, next pipeline.Stage) *Service {
	if next == nil {
		next = pipeline.Unavailable
	}
	return &Service{sessions: sessions, repo: repo, next: next}
}

// Authorize resolves token to its session. It returns ErrInvalidSession for
// an unknown token.
func (s *Service) Authorize(ctx context.Context, token string) (*domain.Session, error) {
	session, err := s.sessions.Lookup(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if session == nil {
		return nil, ErrInvalidSession
	}
	return session, nil
}

// Process authenticates req, applies intake bounds, records it and forwards
// it to policy. It returns ErrInvalidSession for an unknown token; every
// other failure is a structured response.
func (s *Service) Process(ctx context.Context, category domain.Category, req domain.Request) (domain.Response, error) {
	session, err := s.Authorize(ctx, req.SessionToken)
	if err != nil {
		return domain.Response{}, err
	}
	return s.Submit(ctx, session, category, req)
}

// Submit runs req for an already authorized session. The session owns the
// request: any user id in req is replaced by the session's.
func (s *Service) Submit(ctx context.Context, session *domain.Session, category domain.Category, req domain.Request) (domain.Response, error) {
	req.UserID = session.UserID
	if req.WalletAddress == "" {
		req.WalletAddress = session.WalletAddress
	}

	if !category.Valid() {
		return domain.Reject(category, "Unknown request type: "+string(category)), nil
	}
	if msg, ok := checkBounds(category, req); !ok {
		slog.Warn("intake bounds rejected", "category", category, "user_id", req.UserID, "reason", msg)
		return domain.Reject(category, msg), nil
	}

	record, err := s.repo.AppendRequest(ctx, category, req.UserID, req.Fields(category))
	if err != nil {
		return domain.Response{}, fmt.Errorf("store request: %w", err)
	}
	slog.Info("request stored", "request_id", record.ID, "user_id", req.UserID)

	// Credentials stop here.
	req.SessionToken = ""

	resp, err := s.next.Handle(ctx, category, req)
	if err != nil {
		slog.Error("policy call failed", "request_id", record.ID, "error", err)
		resp = domain.Reject(category, policyFailurePrefix+err.Error())
	}
	resp.RequestID = record.ID
	return resp, nil
}

func checkBounds(category domain.Category, req domain.Request) (string, bool) {
	switch category {
	case domain.CategoryCredit:
		if req.Amount < MinCreditAmount || req.Amount > MaxCreditAmount {
			return creditBoundsMsg, false
		}
	case domain.CategoryRWA:
		if req.PropertyValue < MinPropertyValue {
			return propertyBoundsMsg, false
		}
	case domain.CategoryAutomation:
		if req.PortfolioValue < MinPortfolioValue {
			return portfolioBoundsMsg, false
		}
	}
	return "", true
}
