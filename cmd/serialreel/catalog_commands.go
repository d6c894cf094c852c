package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"serialreel/internal/catalog"
)

func newCatalogCommand(cmdCtx *commandContext) *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and repair the episode catalog",
	}
	catalogCmd.AddCommand(newCatalogListCommand(cmdCtx))
	catalogCmd.AddCommand(newCatalogShowCommand(cmdCtx))
	catalogCmd.AddCommand(newCatalogRetryCommand(cmdCtx))
	return catalogCmd
}

func newCatalogListCommand(cmdCtx *commandContext) *cobra.Command {
	var stageFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog records, optionally filtered by stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cmdCtx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var stages []catalog.Stage
			if stageFlag != "" {
				stage, ok := catalog.ParseStage(stageFlag)
				if !ok {
					return fmt.Errorf("unknown stage %q", stageFlag)
				}
				stages = append(stages, stage)
			}

			records, err := store.List(cmd.Context(), stages...)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "catalog is empty")
				return nil
			}

			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(records))
			for _, record := range records {
				marker := ""
				if record.IsDeadLetter(cfg.Pipeline.MaxAttempts) {
					marker = "dead-letter"
				}
				rows = append(rows, []string{
					record.EpisodeKey,
					string(record.Stage),
					strconv.Itoa(record.AttemptCount),
					record.LastUpdatedAt.Local().Format("2006-01-02 15:04"),
					marker,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"EPISODE", "STAGE", "ATTEMPTS", "UPDATED", ""},
				rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&stageFlag, "stage", "", "Only show records in this stage")
	return cmd
}

func newCatalogShowCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <episode-key>",
		Short: "Show one catalog record in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cmdCtx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			record, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Episode:      %s\n", record.EpisodeKey)
			fmt.Fprintf(out, "Serial:       %s\n", record.SerialID)
			fmt.Fprintf(out, "Title:        %s\n", record.Title)
			fmt.Fprintf(out, "Stage:        %s\n", record.Stage)
			fmt.Fprintf(out, "Attempts:     %d\n", record.AttemptCount)
			fmt.Fprintf(out, "Artifact:     %s\n", orDash(record.ArtifactPath))
			fmt.Fprintf(out, "Video ID:     %s\n", orDash(record.PlatformVideoID))
			fmt.Fprintf(out, "Source:       %s\n", orDash(record.SourceURL))
			fmt.Fprintf(out, "Discovered:   %s\n", record.DiscoveredAt.Local().Format(time.RFC1123))
			fmt.Fprintf(out, "Last updated: %s\n", record.LastUpdatedAt.Local().Format(time.RFC1123))
			if record.ErrorMessage != "" {
				fmt.Fprintf(out, "Last error:   %s\n", record.ErrorMessage)
			}
			return nil
		},
	}
}

func newCatalogRetryCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [episode-key...]",
		Short: "Reset the attempt budget for failed episodes so they run again",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cmdCtx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			touched, err := store.RetryDeadLettered(cmd.Context(), args...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d episode(s)\n", touched)
			return nil
		},
	}
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
