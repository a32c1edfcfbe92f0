package models

import "time"

// Account is a user identity together with its spendable credit balance.
type Account struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"` // Never expose this to the client
	Balance        int       `json:"balance"`
	RedeemedKey    *string   `json:"redeemedKey,omitempty"` // nil until a special key is redeemed
	LastRefillDate string    `json:"lastRefillDate"`        // YYYY-MM-DD of the last daily grant
	CreatedAt      time.Time `json:"createdAt"`
}

// HasRedeemed reports whether a special key has already been used.
func (a Account) HasRedeemed() bool {
	return a.RedeemedKey != nil && *a.RedeemedKey != ""
}
