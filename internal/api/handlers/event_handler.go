package handlers

import (
	"net/http"
	"strconv"

	"github.com/isdelr/tts-broker-be/internal/services"
	"github.com/rs/zerolog/log"
)

const defaultHistoryLimit = 20

// EventHandler serves an account's credit history.
type EventHandler struct {
	service services.EventServiceProvider
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(service services.EventServiceProvider) *EventHandler {
	return &EventHandler{service: service}
}

// GetRecent handles the request to get the authenticated account's recent credit events.
func (h *EventHandler) GetRecent(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultHistoryLimit
	}

	events, err := h.service.GetRecentEvents(r.Context(), id, limit)
	if err != nil {
		log.Error().Err(err).Str("account_id", id).Msg("Failed to retrieve credit history")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve credit history")
		return
	}
	writeJSON(w, http.StatusOK, events)
}
