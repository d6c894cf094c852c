package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"serialreel/internal/daemon"
	"serialreel/internal/logging"
)

func newRunCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the processing daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := logging.NewForDir(cfg.LogDir, cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			d, err := daemon.New(cfg, logger)
			if err != nil {
				return err
			}
			defer d.Close()
			err = d.Run(ctx)
			if ctx.Err() == context.Canceled {
				return nil
			}
			return err
		},
	}
}
