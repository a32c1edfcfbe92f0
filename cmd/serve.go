package cmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/isdelr/tts-broker-be/internal/api"
	"github.com/isdelr/tts-broker-be/internal/auth"
	"github.com/isdelr/tts-broker-be/internal/config"
	"github.com/isdelr/tts-broker-be/internal/database"
	"github.com/isdelr/tts-broker-be/internal/engine"
	"github.com/isdelr/tts-broker-be/internal/monitoring"
	"github.com/isdelr/tts-broker-be/internal/services"
	"github.com/isdelr/tts-broker-be/internal/websocket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, notification hub and artifact sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	// Set up database
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	// Set up WebSocket Hub
	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()

	tokens, err := auth.NewManager(jwtSecret(cfg), cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	engineClient := engine.NewClient(cfg.Engine.BaseURL, cfg.Engine.Timeout)
	healthCtx, cancelHealth := context.WithTimeout(ctx, 5*time.Second)
	if err := engineClient.HealthCheck(healthCtx); err != nil {
		log.Warn().Err(err).Str("url", cfg.Engine.BaseURL).Msg("Speech engine is not reachable yet")
	}
	cancelHealth()

	// Set up services
	accountService := services.NewAccountService(db, cfg.Credits.Initial)
	ledgerService := services.NewLedgerService(db, services.LedgerPolicy{
		DailyDefault: cfg.Credits.DailyDefault,
		InstantBonus: cfg.Credits.InstantBonus,
		SpecialKeys:  cfg.SpecialKeyBonuses(),
	}, hub)
	artifactService := services.NewArtifactService(cfg.Artifacts.Dir, cfg.Artifacts.Retention, cfg.Artifacts.MinFreeBytes)
	synthesisService := services.NewSynthesisService(engineClient, ledgerService, artifactService, cfg.CatalogVoices(), services.SynthesisOptions{
		MaxConcurrent: int64(cfg.Jobs.MaxConcurrent),
		Timeout:       cfg.Engine.Timeout,
	}, hub)

	// Set up and run the background sweeper
	sweeper, err := monitoring.NewSweeper(artifactService, cfg.Artifacts.SweepSchedule)
	if err != nil {
		return err
	}
	go sweeper.Run()
	defer sweeper.Stop()

	// Set up router
	router := api.NewRouter(api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SecureCookie:   cfg.Auth.SecureCookie,
		InstantBonus:   cfg.Credits.InstantBonus,
	}, hub, tokens, api.Services{
		Accounts:  accountService,
		Ledger:    ledgerService,
		Synthesis: synthesisService,
		Artifacts: artifactService,
		Events:    services.NewEventService(db),
		Engine:    engineClient,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Server starting")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful shutdown
	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("Server exiting")
	return nil
}

// jwtSecret returns the configured secret, or a random one that invalidates sessions on restart.
func jwtSecret(cfg *config.Config) string {
	if cfg.Auth.JWTSecret != "" {
		return cfg.Auth.JWTSecret
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		log.Fatal().Err(err).Msg("Failed to generate a JWT secret")
	}
	log.Warn().Msg("auth.jwt_secret is not set; using a random secret, sessions will not survive a restart")
	return hex.EncodeToString(buf)
}
