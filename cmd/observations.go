package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/cuioss/nifi-uiharness/internal/config"
	"github.com/cuioss/nifi-uiharness/internal/observability"
	"github.com/cuioss/nifi-uiharness/internal/store"
)

var observationsJSON bool

// observationsCmd replays the recorded page observations of a past run.
var observationsCmd = &cobra.Command{
	Use:   "observations <run-id>",
	Short: "List the recorded page observations of a harness run.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		ctx := cmd.Context()
		runID := args[0]

		if cfg.Postgres.URL == "" {
			return fmt.Errorf("postgres.url is not configured (hint: set UIHARNESS_POSTGRES_URL)")
		}

		dbPool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("failed to create database connection pool: %w", err)
		}
		defer dbPool.Close()

		dbStore, err := store.New(ctx, dbPool, observability.Logger())
		if err != nil {
			return err
		}

		contexts, err := dbStore.ObservationsByRun(ctx, runID)
		if err != nil {
			return err
		}

		if observationsJSON {
			encoded, err := json.MarshalIndent(contexts, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode observations: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return nil
		}

		for _, pc := range contexts {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s auth=%-5t ready=%-5t  %s\n",
				pc.ObservedAt.Format("15:04:05.000"), pc.PageType, pc.Authenticated, pc.Ready, pc.URL)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d observations for run %s\n", len(contexts), runID)
		return nil
	},
}

func init() {
	observationsCmd.Flags().BoolVar(&observationsJSON, "json", false, "emit observations as JSON")
}
