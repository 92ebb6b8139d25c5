package domain

import "time"

// ChatState is a step of the credit slot-filling conversation.
type ChatState string

const (
	ChatStateIdle                 ChatState = "idle"
	ChatStateCollectingAmount     ChatState = "collecting_amount"
	ChatStateCollectingCollateral ChatState = "collecting_collateral"
	ChatStateProcessing           ChatState = "processing"
)

// ChatContext holds per-sender conversation state.
type ChatContext struct {
	Sender     string    `json:"sender"`
	State      ChatState `json:"state"`
	Intent     Category  `json:"intent,omitempty"`
	Amount     *int      `json:"amount,omitempty"`
	Collateral string    `json:"collateral,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewChatContext returns an idle context for sender.
func NewChatContext(sender string) ChatContext {
	return ChatContext{Sender: sender, State: ChatStateIdle}
}

// Reset clears intent and slots, keeping the sender.
func (c ChatContext) Reset() ChatContext {
	return NewChatContext(c.Sender)
}

// HasAmount reports whether the amount slot is filled.
func (c ChatContext) HasAmount() bool {
	return c.Amount != nil
}
