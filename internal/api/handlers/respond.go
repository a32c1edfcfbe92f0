package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/isdelr/tts-broker-be/internal/auth"
	"github.com/isdelr/tts-broker-be/internal/services"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error       string `json:"error"`
	Code        string `json:"code"`
	RedeemedKey string `json:"redeemedKey,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// writeServiceError maps the service error taxonomy onto HTTP responses.
// Server-side failures are logged here and answered with a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var redeemed *services.AlreadyRedeemedError
	switch {
	case errors.As(err, &redeemed):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:       fmt.Sprintf("You have already redeemed the key %q", redeemed.Key),
			Code:        "already_redeemed",
			RedeemedKey: redeemed.Key,
		})
	case errors.Is(err, services.ErrAlreadyRedeemed):
		writeError(w, http.StatusBadRequest, "already_redeemed", "You have already redeemed a key")
	case errors.Is(err, services.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, services.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, "invalid_key", "Invalid special key")
	case errors.Is(err, services.ErrInsufficientCredit):
		writeError(w, http.StatusForbidden, "insufficient_credit", "Not enough credits. Redeem a key or come back tomorrow.")
	case errors.Is(err, services.ErrArtifactForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "You do not have access to this file")
	case errors.Is(err, services.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account_not_found", "Account not found")
	case errors.Is(err, services.ErrArtifactNotFound):
		writeError(w, http.StatusNotFound, "not_found", "File not found or expired")
	case errors.Is(err, services.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "username_taken", "Username already exists")
	case errors.Is(err, services.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password")
	case errors.Is(err, services.ErrSynthesisFailed):
		writeError(w, http.StatusBadGateway, "synthesis_failed", "Speech generation failed, please try again")
	case errors.Is(err, services.ErrStorage):
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Storage failure")
		writeError(w, http.StatusInsufficientStorage, "storage_error", "Server storage is unavailable")
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Unhandled service error")
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// accountID returns the authenticated account id, answering 401 when it is missing.
func accountID(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		log.Error().Str("path", r.URL.Path).Msg("Could not retrieve account claims from context")
		writeError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
		return "", false
	}
	return claims.AccountID, true
}

// decodeJSON decodes a request body, answering 400 on malformed input.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return false
	}
	return true
}
