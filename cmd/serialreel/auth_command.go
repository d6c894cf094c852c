package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"serialreel/internal/creds"
	"serialreel/internal/services/youtube"
)

func newAuthCommand(cmdCtx *commandContext) *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage publishing credentials",
	}
	authCmd.AddCommand(newAuthSetTokenCommand(cmdCtx))
	authCmd.AddCommand(newAuthStatusCommand(cmdCtx))
	return authCmd
}

func (c *commandContext) openCreds() (*creds.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	margin := time.Duration(cfg.Pipeline.TokenSafetyMarginSeconds) * time.Second
	return creds.Open(cfg.CredentialsPath(), youtube.New(cfg, nil), margin, nil)
}

func newAuthSetTokenCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-refresh-token <token>",
		Short: "Install a new refresh token and resume publishing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cmdCtx.openCreds()
			if err != nil {
				return err
			}
			if err := store.SetRefreshToken(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "refresh token saved; the daemon will resume publishing on its next run")
			return nil
		},
	}
}

func newAuthStatusCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show credential state",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cmdCtx.openCreds()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case store.AuthorizationLost():
				fmt.Fprintln(out, "authorization lost: install a new refresh token")
			case !store.HasRefreshToken():
				fmt.Fprintln(out, "no refresh token configured")
			default:
				fmt.Fprintln(out, "refresh token configured")
			}
			return nil
		},
	}
}
