// Package auth issues and verifies wallet-bound session tokens.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/cypherguy/internal/domain"
	"github.com/ashureev/cypherguy/internal/store"
)

// MinWalletLength is the shortest wallet address accepted.
const MinWalletLength = 32

// Authenticator issues session tokens and checks them on later requests.
type Authenticator struct {
	repo store.Repository
	now  func() time.Time
}

// New creates an Authenticator backed by repo.
func New(repo store.Repository) *Authenticator {
	return &Authenticator{repo: repo, now: time.Now}
}

// Authenticate issues a session when the wallet looks plausible and a
// signature is present. The signature is not verified cryptographically.
func (a *Authenticator) Authenticate(ctx context.Context, userID, wallet, signature string) (domain.SessionResult, error) {
	if len(wallet) < MinWalletLength || signature == "" {
		return domain.SessionResult{Success: false, UserID: userID, Message: "Invalid signature"}, nil
	}

	now := a.now()
	session := &domain.Session{
		Token:         newToken(userID, wallet, now),
		UserID:        userID,
		WalletAddress: wallet,
		CreatedAt:     now,
	}
	if err := a.repo.PutSession(ctx, session); err != nil {
		return domain.SessionResult{}, fmt.Errorf("store session: %w", err)
	}

	slog.Info("session issued", "user_id", userID)
	return domain.SessionResult{
		Success:      true,
		UserID:       userID,
		SessionToken: session.Token,
		Message:      "Authentication successful",
	}, nil
}

// Lookup returns the session for token, or nil when it is unknown.
func (a *Authenticator) Lookup(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, nil
	}
	s, err := a.repo.GetSession(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	return s, nil
}

func newToken(userID, wallet string, now time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", userID, wallet, now.UnixNano())))
	return hex.EncodeToString(sum[:])
}
