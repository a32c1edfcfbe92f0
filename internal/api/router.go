package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/isdelr/tts-broker-be/internal/api/handlers"
	"github.com/isdelr/tts-broker-be/internal/auth"
	"github.com/isdelr/tts-broker-be/internal/services"
	"github.com/isdelr/tts-broker-be/internal/websocket"
)

// Options holds the HTTP-facing settings of the router.
type Options struct {
	AllowedOrigins []string
	SecureCookie   bool
	InstantBonus   int
}

// Services bundles the collaborators the handlers need.
type Services struct {
	Accounts  services.AccountServiceProvider
	Ledger    services.LedgerServiceProvider
	Synthesis services.SynthesisServiceProvider
	Artifacts services.ArtifactServiceProvider
	Events    services.EventServiceProvider
	Engine    handlers.HealthChecker
}

// NewRouter creates and configures a new Chi router.
func NewRouter(opts Options, hub *websocket.Hub, tokens *auth.Manager, svc Services) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize handlers
	accountHandler := handlers.NewAccountHandler(svc.Accounts, svc.Ledger, svc.Synthesis, tokens, opts.SecureCookie)
	creditHandler := handlers.NewCreditHandler(svc.Ledger, opts.InstantBonus)
	synthesisHandler := handlers.NewSynthesisHandler(svc.Synthesis, svc.Ledger, svc.Artifacts)
	wsHandler := handlers.NewWebSocketHandler(hub, svc.Ledger, opts.AllowedOrigins)
	eventHandler := handlers.NewEventHandler(svc.Events)
	healthHandler := handlers.NewHealthHandler(svc.Engine)

	// API versioning
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Get)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", accountHandler.Register)
			r.Post("/login", accountHandler.Login)
			r.Post("/logout", accountHandler.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(tokens.Middleware())

			r.Get("/ws", wsHandler.Serve)
			r.Get("/me", accountHandler.GetMe)
			r.Get("/voices", accountHandler.GetVoices)
			r.Post("/generate", synthesisHandler.Generate)
			r.Get("/download/{filename}", synthesisHandler.Download)
			r.Post("/keys/redeem", creditHandler.Redeem)
			r.Get("/history", eventHandler.GetRecent)
		})
	})

	return r
}
