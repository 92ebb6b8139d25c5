// Package identity resolves the caller's session for HTTP requests.
package identity

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/ashureev/cypherguy/internal/domain"
)

// SessionHeaderName carries the session token when the body does not.
const SessionHeaderName = "X-Session-Token"

type contextKey int

const (
	sessionKey contextKey = iota
	tokenKey
)

// SessionLookup resolves a token to a session, or nil when unknown.
type SessionLookup interface {
	Lookup(ctx context.Context, token string) (*domain.Session, error)
}

// SessionFromContext returns the verified session, or nil.
func SessionFromContext(ctx context.Context) *domain.Session {
	if v, ok := ctx.Value(sessionKey).(*domain.Session); ok {
		return v
	}
	return nil
}

// TokenFromContext returns the raw token presented by the caller.
func TokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey).(string); ok {
		return v
	}
	return ""
}

// WithSession returns ctx carrying session.
func WithSession(ctx context.Context, session *domain.Session) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

// TokenFromRequest reads the session token from the header, a bearer
// Authorization header, or the session_token query parameter.
func TokenFromRequest(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get(SessionHeaderName)); t != "" {
		return t
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return r.URL.Query().Get("session_token")
}

// Middleware resolves a presented token and stores the session in the
// request context. It never rejects; handlers decide what a missing session means.
func Middleware(lookup SessionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), tokenKey, token)
			session, err := lookup.Lookup(ctx, token)
			if err != nil {
				slog.Warn("session lookup failed", "error", err, "ip", IPFromRequest(r))
			}
			if session != nil {
				ctx = WithSession(ctx, session)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
