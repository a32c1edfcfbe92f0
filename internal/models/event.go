package models

import "time"

// CreditEvent is one entry of an account's credit history.
type CreditEvent struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Type      string    `json:"type"`   // e.g., "refill", "redeem", "spend", "refund"
	Amount    int       `json:"amount"` // signed change applied to the balance
	Balance   int       `json:"balance"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
