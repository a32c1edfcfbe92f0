package cmd

import (
	"fmt"
	"time"

	"github.com/isdelr/tts-broker-be/internal/services"
	"github.com/spf13/cobra"
)

func newSweepCmd(configPath *string) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired audio artifacts once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if maxAge <= 0 {
				maxAge = cfg.Artifacts.Retention
			}

			artifacts := services.NewArtifactService(cfg.Artifacts.Dir, cfg.Artifacts.Retention, cfg.Artifacts.MinFreeBytes)
			removed, err := artifacts.Sweep(cmd.Context(), cfg.Artifacts.Dir, maxAge)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d artifact(s) older than %s from %s\n", removed, maxAge, cfg.Artifacts.Dir)
			return err
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "delete artifacts older than this (defaults to artifacts.retention)")
	return cmd
}
