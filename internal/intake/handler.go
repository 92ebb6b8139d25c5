package intake

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/cypherguy/internal/api"
	"github.com/ashureev/cypherguy/internal/chat"
	"github.com/ashureev/cypherguy/internal/domain"
	"github.com/ashureev/cypherguy/internal/identity"
	"github.com/ashureev/cypherguy/internal/store"
	"github.com/go-chi/chi/v5"
)

// Authenticator issues sessions.
type Authenticator interface {
	Authenticate(ctx context.Context, userID, wallet, signature string) (domain.SessionResult, error)
}

// AuthRequest is the body of POST /auth.
type AuthRequest struct {
	UserID        string `json:"user_id"`
	WalletAddress string `json:"wallet_address"`
	Signature     string `json:"signature"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Sender string `json:"sender"`
	chat.Message
}

// Handler serves the intake HTTP surface.
type Handler struct {
	svc     *Service
	auth    Authenticator
	chat    *chat.Protocol
	repo    store.Repository
	limiter *RateLimiter
}

// NewHandler creates the intake handler. limiter may be nil.
func NewHandler(svc *Service, auth Authenticator, protocol *chat.Protocol, repo store.Repository, limiter *RateLimiter) *Handler {
	return &Handler{svc: svc, auth: auth, chat: protocol, repo: repo, limiter: limiter}
}

// RegisterRoutes registers the intake routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth", h.Authenticate)
	for _, c := range domain.Categories {
		r.Post("/process_"+string(c), h.process(c))
	}
	r.Post("/chat", h.Chat)
	r.Get("/requests/{category}", h.ListRequests)
	r.Get("/stats", h.Stats)
}

// Authenticate issues a session token.
func (h *Handler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if err := api.Decode(w, r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.auth.Authenticate(r.Context(), req.UserID, req.WalletAddress, req.Signature)
	if err != nil {
		slog.Error("authentication failed", "user_id", req.UserID, "error", err)
		api.Error(w, http.StatusInternalServerError, "authentication failed")
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnauthorized
	}
	api.JSON(w, status, res)
}

func (h *Handler) process(category domain.Category) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.Request
		if err := api.Decode(w, r, &req); err != nil {
			api.JSON(w, http.StatusBadRequest, domain.Reject(category, err.Error()))
			return
		}
		if req.SessionToken == "" {
			req.SessionToken = identity.TokenFromContext(r.Context())
		}

		session, err := h.svc.Authorize(r.Context(), req.SessionToken)
		if err != nil && !errors.Is(err, ErrInvalidSession) {
			slog.Error("session lookup failed", "category", category, "error", err)
			api.JSON(w, http.StatusInternalServerError, domain.Reject(category, err.Error()))
			return
		}
		if !h.limiter.Allow(rateKey(session, identity.IPFromRequest(r))) {
			api.JSON(w, http.StatusTooManyRequests, domain.Reject(category, "rate limit exceeded"))
			return
		}
		if session == nil {
			slog.Warn("invalid session token", "category", category, "ip", identity.IPFromRequest(r))
			api.JSON(w, http.StatusUnauthorized, domain.Reject(category, "Invalid session token"))
			return
		}

		resp, err := h.svc.Submit(r.Context(), session, category, req)
		if err != nil {
			slog.Error("intake processing failed", "category", category, "error", err)
			api.JSON(w, http.StatusInternalServerError, domain.Reject(category, err.Error()))
			return
		}
		api.JSON(w, http.StatusOK, resp)
	}
}

// Chat runs one chat protocol message.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := api.Decode(w, r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	sender := req.Sender
	if s := identity.SessionFromContext(r.Context()); s != nil {
		sender = s.UserID
	} else if sender == "" {
		sender = identity.IPFromRequest(r)
	}

	reply, err := h.chat.Handle(r.Context(), sender, req.Message)
	if err != nil {
		slog.Error("chat failed", "sender", sender, "error", err)
		api.Error(w, http.StatusInternalServerError, "chat failed")
		return
	}
	api.JSON(w, http.StatusOK, reply)
}

// ListRequests returns the stored records of one category.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	category, err := domain.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		api.Error(w, http.StatusNotFound, err.Error())
		return
	}
	records, err := h.repo.ListRequests(r.Context(), category)
	if err != nil {
		slog.Error("list requests failed", "category", category, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to list requests")
		return
	}
	if records == nil {
		records = []*domain.RequestRecord{}
	}
	api.JSON(w, http.StatusOK, map[string]any{
		"category": category,
		"count":    len(records),
		"requests": records,
	})
}

// Stats reports per-category request counts.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.repo.CountRequests(r.Context())
	if err != nil {
		slog.Error("count requests failed", "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to count requests")
		return
	}
	var total int64
	byCategory := make(map[string]int64, len(domain.Categories))
	for _, c := range domain.Categories {
		byCategory[string(c)] = counts[c]
		total += counts[c]
	}
	api.JSON(w, http.StatusOK, map[string]any{
		"requests_count": total,
		"by_category":    byCategory,
	})
}

// rateKey charges the verified session user, or the client address when the
// caller has no valid session. Body fields never pick the key.
func rateKey(session *domain.Session, addr string) string {
	if session != nil {
		return "user:" + session.UserID
	}
	return "ip:" + addr
}
