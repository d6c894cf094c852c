package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"serialreel/internal/catalog"
)

func newStatusCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show catalog health and per-stage counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cmdCtx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			health, err := store.Health(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"Episodes: %d total, %d waiting, %d processing, %d failed, %d published\n\n",
				health.Total, health.Waiting, health.Processing, health.Failed, health.Published)

			rows := make([][]string, 0, len(stats))
			for _, stage := range catalog.AllStages() {
				if count, ok := stats[stage]; ok {
					rows = append(rows, []string{string(stage), strconv.Itoa(count)})
				}
			}
			if len(rows) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"STAGE", "COUNT"}, rows))
			}
			return nil
		},
	}
}
