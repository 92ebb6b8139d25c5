package policy

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ashureev/cypherguy/internal/api"
	"github.com/ashureev/cypherguy/internal/domain"
	"github.com/ashureev/cypherguy/internal/pipeline"
	"github.com/go-chi/chi/v5"
)

// Handler is the policy stage: it evaluates a request and forwards
// approved ones to compute.
type Handler struct {
	evaluator *Evaluator
	next      pipeline.Stage
}

// NewHandler creates a policy stage forwarding to next.
func NewHandler(evaluator *Evaluator, next pipeline.Stage) *Handler {
	if next == nil {
		next = pipeline.Unavailable
	}
	return &Handler{evaluator: evaluator, next: next}
}

// Handle implements pipeline.Stage.
func (h *Handler) Handle(ctx context.Context, category domain.Category, req domain.Request) (domain.Response, error) {
	result := h.evaluator.Evaluate(category, req.Fields(category))
	if !result.Approved {
		slog.Warn("policy rejected", "category", category, "user_id", req.UserID, "reason", result.Reason)
		resp := domain.Reject(category, result.Reason)
		resp.RulesApplied = result.RulesApplied
		return resp, nil
	}

	slog.Info("policy approved", "category", category, "user_id", req.UserID, "method", result.Method)
	resp, err := h.next.Handle(ctx, category, req)
	if err != nil {
		slog.Error("compute call failed", "category", category, "error", err)
		return domain.Reject(category, "Compute failed: "+err.Error()), nil
	}
	if len(resp.RulesApplied) == 0 {
		resp.RulesApplied = result.RulesApplied
	}
	return resp, nil
}

// EvaluateRequest is the body of POST /evaluate.
type EvaluateRequest struct {
	RequestType string         `json:"request_type"`
	UserID      string         `json:"user_id"`
	Data        map[string]any `json:"data"`
}

// RegisterRoutes registers the policy routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	for _, c := range domain.Categories {
		r.Post(pipeline.PolicyPath(c), h.check(c))
	}
	r.Post("/evaluate", h.Evaluate)
}

func (h *Handler) check(category domain.Category) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.Request
		if err := api.Decode(w, r, &req); err != nil {
			api.JSON(w, http.StatusBadRequest, domain.Reject(category, err.Error()))
			return
		}
		resp, err := h.Handle(r.Context(), category, req)
		if err != nil {
			api.JSON(w, http.StatusInternalServerError, domain.Reject(category, err.Error()))
			return
		}
		api.JSON(w, http.StatusOK, resp)
	}
}

// Evaluate returns the raw PolicyResult without forwarding.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := api.Decode(w, r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Data == nil {
		req.Data = map[string]any{}
	}
	api.JSON(w, http.StatusOK, h.evaluator.Evaluate(domain.Category(req.RequestType), req.Data))
}
