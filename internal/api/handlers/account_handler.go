package handlers

import (
	"net/http"
	"time"

	"github.com/isdelr/tts-broker-be/internal/auth"
	"github.com/isdelr/tts-broker-be/internal/models"
	"github.com/isdelr/tts-broker-be/internal/services"
	"github.com/rs/zerolog/log"
)

// AccountHandler handles registration, login and the account overview.
type AccountHandler struct {
	accounts     services.AccountServiceProvider
	ledger       services.LedgerServiceProvider
	synthesis    services.SynthesisServiceProvider
	tokens       *auth.Manager
	secureCookie bool
	now          func() time.Time
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(
	accounts services.AccountServiceProvider,
	ledger services.LedgerServiceProvider,
	synthesis services.SynthesisServiceProvider,
	tokens *auth.Manager,
	secureCookie bool,
) *AccountHandler {
	return &AccountHandler{
		accounts:     accounts,
		ledger:       ledger,
		synthesis:    synthesis,
		tokens:       tokens,
		secureCookie: secureCookie,
		now:          time.Now,
	}
}

// RegisterPayload defines the structure for registration requests.
type RegisterPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginPayload defines the structure for login requests.
type LoginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned by Login.
type LoginResponse struct {
	Token   string         `json:"token"`
	Account models.Account `json:"account"`
}

// MeResponse is the account overview shown on the home page.
type MeResponse struct {
	Account models.Account `json:"account"`
	Daily   int            `json:"daily"`
	Voices  []models.Voice `json:"voices"`
}

// Register handles new account registration.
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload RegisterPayload
	if !decodeJSON(w, r, &payload) {
		return
	}

	account, err := h.accounts.Create(r.Context(), payload.Username, payload.Email, payload.Password)
	if err != nil {
		log.Warn().Err(err).Str("username", payload.Username).Msg("Failed to register account")
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, account)
}

// Login authenticates an account, applies the daily refill and issues a token.
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload LoginPayload
	if !decodeJSON(w, r, &payload) {
		return
	}

	account, err := h.accounts.Authenticate(r.Context(), payload.Username, payload.Password)
	if err != nil {
		log.Warn().Err(err).Str("username", payload.Username).Msg("Failed authentication attempt")
		writeServiceError(w, r, err)
		return
	}

	balance, err := h.ledger.EnsureDailyRefill(r.Context(), account.ID, h.now())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	account.Balance = balance

	token, err := h.tokens.GenerateJWT(account)
	if err != nil {
		log.Error().Err(err).Str("account_id", account.ID).Msg("Failed to generate JWT")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to generate token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Expires:  h.now().Add(h.tokens.TTL()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
		Path:     "/",
	})

	writeJSON(w, http.StatusOK, LoginResponse{Token: token, Account: account})
}

// Logout clears the session cookie.
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
		Path:     "/",
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// GetMe returns the authenticated account after applying today's refill.
func (h *AccountHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	if _, err := h.ledger.EnsureDailyRefill(r.Context(), id, h.now()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	account, err := h.accounts.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MeResponse{
		Account: account,
		Daily:   h.ledger.DailyBonus(account.RedeemedKey),
		Voices:  h.synthesis.Voices(),
	})
}

// GetVoices lists the voice catalog.
func (h *AccountHandler) GetVoices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.synthesis.Voices())
}
