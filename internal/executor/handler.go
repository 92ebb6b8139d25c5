package executor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ashureev/cypherguy/internal/api"
	"github.com/ashureev/cypherguy/internal/domain"
	"github.com/ashureev/cypherguy/internal/pipeline"
	"github.com/go-chi/chi/v5"
)

// Handler is the last pipeline stage.
type Handler struct {
	executor *Executor
	lamports uint64
}

// NewHandler creates the executor stage. Each transaction self-transfers lamports.
func NewHandler(executor *Executor, lamports uint64) *Handler {
	return &Handler{executor: executor, lamports: lamports}
}

// Handle implements pipeline.Stage.
func (h *Handler) Handle(ctx context.Context, category domain.Category, req domain.Request) (domain.Response, error) {
	if !category.Valid() {
		return domain.Reject(category, "Unknown request type: "+string(category)), nil
	}

	result := h.executor.Execute(ctx, Memo(category, req), h.lamports)
	if result.Success {
		slog.Info("transaction executed", "category", category, "user_id", req.UserID, "mode", result.Mode, "tx", result.TxIdentifier)
	} else {
		slog.Error("transaction degraded", "category", category, "user_id", req.UserID, "mode", result.Mode, "error", result.Error)
	}

	resp := domain.Response{
		Success:         result.Success,
		TxHash:          result.TxIdentifier,
		TxMode:          string(result.Mode),
		ExplorerURL:     result.ExplorerLink,
		Error:           result.Error,
		ComputationHash: req.ComputationHash,
		CorrelationID:   req.CorrelationID,
	}
	resp.SetOutcome(category, true)

	switch category {
	case domain.CategoryCredit:
		resp.Rate = req.InterestRate
		resp.CreditScore = req.CreditScore
		resp.Message = fmt.Sprintf("Credit approved at %s%% APR", num(req.InterestRate))
	case domain.CategoryRWA:
		resp.TokenSupply = req.TokenSupply
		resp.ComplianceScore = req.ComplianceScore
		resp.Message = fmt.Sprintf("RWA token created: %d tokens", req.TokenSupply)
	case domain.CategoryTrade:
		resp.MatchPrice = req.MatchPrice
		resp.CounterpartyID = req.Counterparty
		resp.Message = fmt.Sprintf("Trade matched at $%s", num(req.MatchPrice))
	case domain.CategoryAutomation:
		resp.Allocation = req.OptimalAllocation
		resp.ExpectedAPY = req.ExpectedAPY
		resp.Message = fmt.Sprintf("Automation setup complete: %s%% expected APY", num(req.ExpectedAPY))
	}
	return resp, nil
}

// RegisterRoutes registers POST /execute_<category>.
func (h *Handler) RegisterRoutes(r chi.Router) {
	for _, c := range domain.Categories {
		r.Post(pipeline.ExecutorPath(c), h.execute(c))
	}
}

func (h *Handler) execute(category domain.Category) http.HandlerFunc {
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
