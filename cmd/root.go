package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/isdelr/tts-broker-be/internal/config"
	"github.com/isdelr/tts-broker-be/internal/logger"
	"github.com/spf13/cobra"
)

// Execute runs the command tree. SIGINT and SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "ttsbroker",
		Short:         "Credit-gated text-to-speech broker",
		Long:          "ttsbroker serves a credit-gated text-to-speech API: accounts earn daily credits, redeem promo keys and spend one credit per generated audio file.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file (TTSB_* environment variables override it)")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newSweepCmd(&configPath),
		newVersionCmd(),
	)
	return rootCmd
}

// loadConfig reads the configuration and initializes the global logger from it.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Log.Level, cfg.Log.Pretty)
	return cfg, nil
}
