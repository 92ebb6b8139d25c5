package domain

// Request is the flat JSON body passed between pipeline stages.
// Fields that do not apply to a category are left zero and omitted on the wire.
type Request struct {
	UserID        string `json:"user_id"`
	SessionToken  string `json:"session_token,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`

	// credit
	Amount          float64 `json:"amount,omitempty"`
	Token           string  `json:"token,omitempty"`
	Collateral      string  `json:"collateral,omitempty"`
	CollateralValue float64 `json:"collateral_value,omitempty"`

	// rwa
	PropertyValue float64 `json:"property_value,omitempty"`
	Location      string  `json:"location,omitempty"`
	PropertyType  string  `json:"property_type,omitempty"`

	// trade
	SellAmount float64 `json:"sell_amount,omitempty"`
	SellToken  string  `json:"sell_token,omitempty"`
	BuyToken   string  `json:"buy_token,omitempty"`

	// automation
	PortfolioValue float64 `json:"portfolio_value,omitempty"`
	Strategy       string  `json:"strategy,omitempty"`

	// Compute outputs forwarded to the executor.
	CreditScore       float64            `json:"credit_score,omitempty"`
	InterestRate      float64            `json:"interest_rate,omitempty"`
	TokenSupply       int64              `json:"token_supply,omitempty"`
	ComplianceScore   int                `json:"compliance_score,omitempty"`
	MatchPrice        float64            `json:"match_price,omitempty"`
	Counterparty      string             `json:"counterparty,omitempty"`
	OptimalAllocation map[string]float64 `json:"optimal_allocation,omitempty"`
	ExpectedAPY       float64            `json:"expected_apy,omitempty"`
	ComputationHash   string             `json:"computation_hash,omitempty"`
	CorrelationID     string             `json:"correlation_id,omitempty"`
}

// Fields returns the category-specific input fields of r.
// Compute outputs and credentials are never included.
func (r Request) Fields(c Category) map[string]any {
	switch c {
	case CategoryCredit:
		return map[string]any{
			"amount":           r.Amount,
			"token":            r.Token,
			"collateral":       r.Collateral,
			"collateral_value": r.CollateralValue,
		}
	case CategoryRWA:
		return map[string]any{
			"property_value": r.PropertyValue,
			"location":       r.Location,
			"property_type":  r.PropertyType,
		}
	case CategoryTrade:
		return map[string]any{
			"sell_amount": r.SellAmount,
			"sell_token":  r.SellToken,
			"buy_token":   r.BuyToken,
		}
	case CategoryAutomation:
		return map[string]any{
			"portfolio_value": r.PortfolioValue,
			"strategy":        r.Strategy,
		}
	}
	return map[string]any{}
}

// Response is the flat JSON body every stage returns.
// Credit, RWA and automation report Approved; trade reports Matched.
type Response struct {
	Success      bool     `json:"success"`
	Approved     *bool    `json:"approved,omitempty"`
	Matched      *bool    `json:"matched,omitempty"`
	Message      string   `json:"message"`
	RulesApplied []string `json:"rules_applied,omitempty"`
	RequestID    string   `json:"request_id,omitempty"`

	CreditScore     float64            `json:"credit_score,omitempty"`
	Rate            float64            `json:"rate,omitempty"`
	RiskLevel       string             `json:"risk_level,omitempty"`
	MaxLoanAmount   float64            `json:"max_loan_amount,omitempty"`
	TokenSupply     int64              `json:"token_supply,omitempty"`
	ComplianceScore int                `json:"compliance_score,omitempty"`
	MatchPrice      float64            `json:"match_price,omitempty"`
	CounterpartyID  string             `json:"counterparty_id,omitempty"`
	Allocation      map[string]float64 `json:"allocation,omitempty"`
	ExpectedAPY     float64            `json:"expected_apy,omitempty"`
	ComputationHash string             `json:"computation_hash,omitempty"`
	CorrelationID   string             `json:"correlation_id,omitempty"`
	Simulated       bool               `json:"simulated,omitempty"`

	TxHash      string `json:"tx_hash,omitempty"`
	TxMode      string `json:"tx_mode,omitempty"`
	ExplorerURL string `json:"explorer_url,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SetOutcome records ok in the outcome field used by category c.
func (r *Response) SetOutcome(c Category, ok bool) {
	v := ok
	if c.MatchesOutcome() {
		r.Matched = &v
		return
	}
	r.Approved = &v
}

// Outcome returns the approved/matched flag, whichever is set.
func (r Response) Outcome() bool {
	if r.Matched != nil {
		return *r.Matched
	}
	if r.Approved != nil {
		return *r.Approved
	}
	return false
}

// Reject builds a structured rejection for category c.
func Reject(c Category, message string) Response {
	resp := Response{Success: false, Message: message}
	resp.SetOutcome(c, false)
	return resp
}
