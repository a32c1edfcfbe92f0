package api_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/isdelr/tts-broker-be/internal/api"
	"github.com/isdelr/tts-broker-be/internal/api/handlers"
	"github.com/isdelr/tts-broker-be/internal/auth"
	"github.com/isdelr/tts-broker-be/internal/database"
	"github.com/isdelr/tts-broker-be/internal/engine"
	"github.com/isdelr/tts-broker-be/internal/models"
	"github.com/isdelr/tts-broker-be/internal/services"
	"github.com/isdelr/tts-broker-be/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	server *httptest.Server
	db     *sql.DB
}

// fakeEngineServer renders any text except "fail" into fake MP3 bytes.
func fakeEngineServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		var req engine.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "fail" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(engine.ErrorResponse{Detail: "model exploded", ErrorCode: "INTERNAL"})
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3:" + req.Voice + ":" + req.Text))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { db.Close() })

	hub := websocket.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	tokens, err := auth.NewManager("router-test-secret", time.Hour)
	require.NoError(t, err)

	engineClient := engine.NewClient(fakeEngineServer(t).URL, 5*time.Second)
	accounts := services.NewAccountService(db, 5)
	ledger := services.NewLedgerService(db, services.LedgerPolicy{
		DailyDefault: 5,
		InstantBonus: 10,
		SpecialKeys:  map[string]int{"SPONSOR100": 30, "YTBOOST20": 20},
	}, hub)
	artifacts := services.NewArtifactService(filepath.Join(t.TempDir(), "audio"), time.Hour, 0)
	synthesis := services.NewSynthesisService(engineClient, ledger, artifacts, []models.Voice{
		{Label: "Jenny (US)", Code: "en-US-JennyNeural"},
		{Label: "Libby (UK)", Code: "en-GB-LibbyNeural"},
	}, services.SynthesisOptions{MaxConcurrent: 2, Timeout: 5 * time.Second}, hub)

	router := api.NewRouter(api.Options{
		AllowedOrigins: []string{"http://localhost:3000"},
		InstantBonus:   10,
	}, hub, tokens, api.Services{
		Accounts:  accounts,
		Ledger:    ledger,
		Synthesis: synthesis,
		Artifacts: artifacts,
		Events:    services.NewEventService(db),
		Engine:    engineClient,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testApp{server: server, db: db}
}

func (a *testApp) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (a *testApp) signup(t *testing.T, username string) string {
	t.Helper()

	resp := a.do(t, http.MethodPost, "/api/v1/auth/register", "", handlers.RegisterPayload{
		Username: username, Email: username + "@example.com", Password: "pw-" + username,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/v1/auth/login", "", handlers.LoginPayload{
		Username: username, Password: "pw-" + username,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	login := decode[handlers.LoginResponse](t, resp)
	require.NotEmpty(t, login.Token)
	assert.Equal(t, 5, login.Account.Balance)

	var hasCookie bool
	for _, c := range resp.Cookies() {
		if c.Name == auth.CookieName && c.Value == login.Token {
			hasCookie = true
		}
	}
	assert.True(t, hasCookie, "login sets the token cookie")
	return login.Token
}

func TestGenerateAndDownloadFlow(t *testing.T) {
	app := newTestApp(t)
	token := app.signup(t, "alice")

	resp := app.do(t, http.MethodGet, "/api/v1/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode[handlers.MeResponse](t, resp)
	assert.Equal(t, "alice", me.Account.Username)
	assert.Equal(t, 5, me.Account.Balance)
	assert.Equal(t, 5, me.Daily)
	assert.Len(t, me.Voices, 2)

	resp = app.do(t, http.MethodPost, "/api/v1/generate", token, handlers.GeneratePayload{Text: "hello world", Voice: "Jenny (US)"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	gen := decode[handlers.GenerateResponse](t, resp)
	assert.Equal(t, 4, gen.Balance)
	assert.Equal(t, handlers.DownloadPath+gen.Filename, gen.DownloadURL)

	resp = app.do(t, http.MethodGet, gen.DownloadURL, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), gen.Filename)
	audio, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "mp3:en-US-JennyNeural:hello world", string(audio))

	// Another account cannot fetch alice's artifact.
	bob := app.signup(t, "bob")
	resp = app.do(t, http.MethodGet, gen.DownloadURL, bob, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = app.do(t, http.MethodGet, handlers.DownloadPath+"output_"+me.Account.ID+"_20260301090000_deadbeef.mp3", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = app.do(t, http.MethodGet, "/api/v1/history?limit=5", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[[]models.CreditEvent](t, resp)
	require.Len(t, history, 1)
	assert.Equal(t, "spend", history[0].Type)
	assert.Equal(t, -1, history[0].Amount)
	assert.Equal(t, 4, history[0].Balance)
}

func TestGenerateFailuresKeepCredit(t *testing.T) {
	app := newTestApp(t)
	token := app.signup(t, "carol")

	resp := app.do(t, http.MethodPost, "/api/v1/generate", token, handlers.GeneratePayload{Text: "fail", Voice: "Jenny (US)"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decode[handlers.ErrorResponse](t, resp)
	assert.Equal(t, "synthesis_failed", body.Code)
	assert.NotContains(t, body.Error, "model exploded")

	resp = app.do(t, http.MethodPost, "/api/v1/generate", token, handlers.GeneratePayload{Text: "  ", Voice: "Jenny (US)"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = app.do(t, http.MethodPost, "/api/v1/generate", token, handlers.GeneratePayload{Text: "hi", Voice: "Nobody"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = app.do(t, http.MethodGet, "/api/v1/me", token, nil)
	assert.Equal(t, 5, decode[handlers.MeResponse](t, resp).Account.Balance)

	_, err := app.db.Exec("UPDATE accounts SET balance = 0 WHERE username = ?", "carol")
	require.NoError(t, err)
	resp = app.do(t, http.MethodPost, "/api/v1/generate", token, handlers.GeneratePayload{Text: "hi", Voice: "Jenny (US)"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "insufficient_credit", decode[handlers.ErrorResponse](t, resp).Code)
}

func TestRedeemKeyFlow(t *testing.T) {
	app := newTestApp(t)
	token := app.signup(t, "dave")

	resp := app.do(t, http.MethodPost, "/api/v1/keys/redeem", token, handlers.RedeemPayload{Key: "NOPE"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_key", decode[handlers.ErrorResponse](t, resp).Code)

	resp = app.do(t, http.MethodPost, "/api/v1/keys/redeem", token, handlers.RedeemPayload{Key: "SPONSOR100"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	redeemed := decode[handlers.RedeemResponse](t, resp)
	assert.Equal(t, 15, redeemed.Balance)
	assert.Equal(t, 30, redeemed.Daily)

	resp = app.do(t, http.MethodPost, "/api/v1/keys/redeem", token, handlers.RedeemPayload{Key: "YTBOOST20"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[handlers.ErrorResponse](t, resp)
	assert.Equal(t, "already_redeemed", body.Code)
	assert.Equal(t, "SPONSOR100", body.RedeemedKey)

	resp = app.do(t, http.MethodGet, "/api/v1/me", token, nil)
	me := decode[handlers.MeResponse](t, resp)
	assert.Equal(t, 15, me.Account.Balance)
	assert.Equal(t, 30, me.Daily)
}

func TestAuthErrors(t *testing.T) {
	app := newTestApp(t)
	app.signup(t, "erin")

	resp := app.do(t, http.MethodGet, "/api/v1/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", decode[handlers.ErrorResponse](t, resp).Code)

	resp = app.do(t, http.MethodPost, "/api/v1/auth/register", "", handlers.RegisterPayload{
		Username: "erin", Email: "erin2@example.com", Password: "x",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = app.do(t, http.MethodPost, "/api/v1/auth/register", "", handlers.RegisterPayload{
		Username: "bad name", Email: "x@example.com", Password: "x",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = app.do(t, http.MethodPost, "/api/v1/auth/login", "", handlers.LoginPayload{Username: "erin", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = app.do(t, http.MethodPost, "/api/v1/auth/logout", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, c := range resp.Cookies() {
		if c.Name == auth.CookieName {
			assert.Empty(t, c.Value)
		}
	}
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)

	resp := app.do(t, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["engine"])
}
