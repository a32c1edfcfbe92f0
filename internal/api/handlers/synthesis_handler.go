package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/isdelr/tts-broker-be/internal/services"
	"github.com/rs/zerolog/log"
)

// DownloadPath is the route prefix artifacts are served under.
const DownloadPath = "/api/v1/download/"

// SynthesisHandler handles speech generation and artifact download.
type SynthesisHandler struct {
	synthesis services.SynthesisServiceProvider
	ledger    services.LedgerServiceProvider
	artifacts services.ArtifactServiceProvider
	now       func() time.Time
}

// NewSynthesisHandler creates a new SynthesisHandler.
func NewSynthesisHandler(
	synthesis services.SynthesisServiceProvider,
	ledger services.LedgerServiceProvider,
	artifacts services.ArtifactServiceProvider,
) *SynthesisHandler {
	return &SynthesisHandler{synthesis: synthesis, ledger: ledger, artifacts: artifacts, now: time.Now}
}

// GeneratePayload defines the structure for generation requests.
type GeneratePayload struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// GenerateResponse is returned after a paid synthesis job.
type GenerateResponse struct {
	DownloadURL string `json:"download_url"`
	Filename    string `json:"filename"`
	Balance     int    `json:"balance"`
}

// Generate runs a paid synthesis job for the authenticated account.
func (h *SynthesisHandler) Generate(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	var payload GeneratePayload
	if !decodeJSON(w, r, &payload) {
		return
	}

	// A session that stays open past midnight still gets the new day's credits.
	if _, err := h.ledger.EnsureDailyRefill(r.Context(), id, h.now()); err != nil {
		writeServiceError(w, r, err)
		return
	}

	artifact, balance, err := h.synthesis.Generate(r.Context(), id, payload.Text, payload.Voice)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, GenerateResponse{
		DownloadURL: DownloadPath + artifact.Filename,
		Filename:    artifact.Filename,
		Balance:     balance,
	})
}

// Download streams an artifact to the account that generated it.
func (h *SynthesisHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	filename := chi.URLParam(r, "filename")

	f, artifact, err := h.artifacts.Open(r.Context(), id, filename)
	if err != nil {
		if !errors.Is(err, services.ErrArtifactNotFound) {
			log.Warn().Err(err).Str("account_id", id).Str("file", filename).Msg("Download refused")
		}
		writeServiceError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", `attachment; filename="`+artifact.Filename+`"`)
	http.ServeContent(w, r, artifact.Filename, artifact.CreatedAt, f)
}
