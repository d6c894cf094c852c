package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"serialreel/internal/logging"
	"serialreel/internal/sweeper"
)

func newSweepCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention sweep over the video directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := cmdCtx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			logger, err := logging.New(logging.Options{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
			})
			if err != nil {
				return err
			}

			maxAge := time.Duration(cfg.Scheduler.RetentionDays) * 24 * time.Hour
			result, err := sweeper.New(cfg, store, logger).Sweep(cmd.Context(), time.Now(), maxAge)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "examined %d file(s), deleted %d, kept %d\n",
				result.Examined, result.Deleted, result.Skipped)
			return nil
		},
	}
}
