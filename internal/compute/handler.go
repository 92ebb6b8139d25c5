package compute

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ashureev/cypherguy/internal/api"
	"github.com/ashureev/cypherguy/internal/domain"
	"github.com/ashureev/cypherguy/internal/pipeline"
	"github.com/go-chi/chi/v5"
)

// Handler is the compute stage: it computes, attaches the outputs to the
// request and forwards it to the executor.
type Handler struct {
	engine *Engine
	next   pipeline.Stage
}

// NewHandler creates a compute stage forwarding to next.
func NewHandler(engine *Engine, next pipeline.Stage) *Handler {
	if next == nil {
		next = pipeline.Unavailable
	}
	return &Handler{engine: engine, next: next}
}

// Handle implements pipeline.Stage.
func (h *Handler) Handle(ctx context.Context, category domain.Category, req domain.Request) (domain.Response, error) {
	result := h.engine.Compute(ctx, category, req)
	if !result.Success {
		msg, _ := result.Data["error"].(string)
		return domain.Reject(category, "Computation failed: "+msg), nil
	}
	slog.Info("computation complete",
		"category", category,
		"user_id", req.UserID,
		"computation_hash", result.ComputationHash,
		"correlation_id", result.CorrelationID,
	)

	Attach(&req, result)
	resp, err := h.next.Handle(ctx, category, req)
	if err != nil {
		slog.Error("executor call failed", "category", category, "error", err)
		return domain.Reject(category, "Execution failed: "+err.Error()), nil
	}
	Merge(&resp, result)
	return resp, nil
}

// Attach copies the computed outputs onto req for the executor.
func Attach(req *domain.Request, result domain.ComputeResult) {
	d := result.Data
	if v, ok := d["credit_score"].(float64); ok {
		req.CreditScore = v
	}
	if v, ok := d["interest_rate"].(float64); ok {
		req.InterestRate = v
	}
	if v, ok := d["token_supply"].(int64); ok {
		req.TokenSupply = v
	}
	if v, ok := d["compliance_score"].(int); ok {
		req.ComplianceScore = v
	}
	if v, ok := d["match_price"].(float64); ok {
		req.MatchPrice = v
	}
	if v, ok := d["counterparty_id"].(string); ok {
		req.Counterparty = v
	}
	if v, ok := d["optimal_allocation"].(map[string]float64); ok {
		req.OptimalAllocation = v
	}
	if v, ok := d["expected_apy"].(float64); ok {
		req.ExpectedAPY = v
	}
	req.ComputationHash = result.ComputationHash
	req.CorrelationID = result.CorrelationID
}

// Merge adds the computation metadata the executor does not echo back.
func Merge(resp *domain.Response, result domain.ComputeResult) {
	d := result.Data
	if v, ok := d["risk_level"].(string); ok {
		resp.RiskLevel = v
	}
	if v, ok := d["max_loan_amount"].(float64); ok {
		resp.MaxLoanAmount = v
	}
	if resp.ComputationHash == "" {
		resp.ComputationHash = result.ComputationHash
	}
	if resp.CorrelationID == "" {
		resp.CorrelationID = result.CorrelationID
	}
	resp.Simulated = true
}

// RegisterRoutes registers POST /compute_<category>.
func (h *Handler) RegisterRoutes(r chi.Router) {
	for _, c := range domain.Categories {
		r.Post(pipeline.ComputePath(c), h.compute(c))
	}
}

func (h *Handler) compute(category domain.Category) http.HandlerFunc {
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
