package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/isdelr/tts-broker-be/internal/services"
	"github.com/rs/zerolog/log"
)

// CreditHandler handles special key redemption.
type CreditHandler struct {
	ledger       services.LedgerServiceProvider
	instantBonus int
}

// NewCreditHandler creates a new CreditHandler.
func NewCreditHandler(ledger services.LedgerServiceProvider, instantBonus int) *CreditHandler {
	return &CreditHandler{ledger: ledger, instantBonus: instantBonus}
}

// RedeemPayload defines the structure for key redemption requests.
type RedeemPayload struct {
	Key string `json:"key"`
}

// RedeemResponse is returned after a successful redemption.
type RedeemResponse struct {
	Message string `json:"message"`
	Balance int    `json:"balance"`
	Daily   int    `json:"daily"`
}

// Redeem applies a special key to the authenticated account.
func (h *CreditHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	var payload RedeemPayload
	if !decodeJSON(w, r, &payload) {
		return
	}

	balance, err := h.ledger.RedeemKey(r.Context(), id, payload.Key)
	if err != nil {
		log.Info().Err(err).Str("account_id", id).Msg("Key redemption rejected")
		writeServiceError(w, r, err)
		return
	}

	key := strings.TrimSpace(payload.Key)
	daily := h.ledger.DailyBonus(&key)
	writeJSON(w, http.StatusOK, RedeemResponse{
		Message: fmt.Sprintf("Key redeemed! You received %d credits now and will get %d credits daily.", h.instantBonus, daily),
		Balance: balance,
		Daily:   daily,
	})
}
