package domain

import "time"

// Session proves a prior successful authentication.
type Session struct {
	Token         string    `json:"session_token"`
	UserID        string    `json:"user_id"`
	WalletAddress string    `json:"wallet_address"`
	CreatedAt     time.Time `json:"created_at"`
}

// SessionResult is returned by an authentication attempt.
type SessionResult struct {
	Success      bool   `json:"success"`
	UserID       string `json:"user_id"`
	SessionToken string `json:"session_token"`
	Message      string `json:"message"`
}

// RequestStatusPending is the only status a request record ever has.
const RequestStatusPending = "pending"

// RequestRecord is a stored intake request.
type RequestRecord struct {
	ID        string         `json:"id"`
	Category  Category       `json:"category"`
	UserID    string         `json:"user_id"`
	Fields    map[string]any `json:"fields"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"timestamp"`
}

// PolicyResult is the outcome of evaluating one rule table.
type PolicyResult struct {
	Approved     bool     `json:"approved"`
	Reason       string   `json:"reason"`
	RulesApplied []string `json:"rules_applied"`
	Method       string   `json:"method,omitempty"`
}

// ComputeResult is the output of a (simulated) private computation.
type ComputeResult struct {
	Success         bool           `json:"success"`
	Data            map[string]any `json:"data"`
	ComputationHash string         `json:"computation_hash"`
	CorrelationID   string         `json:"correlation_id"`
}

// ExecutionMode tells whether a transaction reached the ledger.
type ExecutionMode string

const (
	ExecutionModeReal         ExecutionMode = "real"
	ExecutionModeMock         ExecutionMode = "mock"
	ExecutionModeMockFallback ExecutionMode = "mock_fallback"
)

// ExecutionResult is the outcome of a ledger submission.
type ExecutionResult struct {
	Success      bool          `json:"success"`
	TxIdentifier string        `json:"tx_identifier"`
	Mode         ExecutionMode `json:"mode"`
	ExplorerLink string        `json:"explorer_link,omitempty"`
	Error        string        `json:"error,omitempty"`
}
