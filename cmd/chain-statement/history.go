package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/devblac/chain-statement/internal/export"
	"github.com/devblac/chain-statement/internal/storage"
)

var (
	flagDB         string
	flagHistoryCSV bool
)

func init() {
	historyCmd.Flags().StringVar(&flagDB, "db", "", "SQLite export to read (required)")
	historyCmd.Flags().BoolVar(&flagHistoryCSV, "csv", false, "Write the stored transfers as CSV to stdout")
	_ = historyCmd.MarkFlagRequired("db")
}

var historyCmd = &cobra.Command{
	Use:   "history <wallet>",
	Short: "Show the latest stored run for a wallet from a SQLite export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		wallet, err := parseWallet(args[0])
		if err != nil {
			return err
		}
		if _, err := os.Stat(flagDB); err != nil {
			return fmt.Errorf("history: %w", err)
		}

		store, err := storage.Open(flagDB)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		run, ok, err := store.LatestRun(ctx, wallet.Hex())
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(out, "no runs stored for %s\n", wallet.Hex())
			return nil
		}

		if flagHistoryCSV {
			records, err := store.Transfers(ctx, run.ID)
			if err != nil {
				return err
			}
			return export.WriteCSV(out, records)
		}

		outcomes, err := store.Outcomes(ctx, run.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "run %s at %s: %d transfers, %d failed categories (took %s)\n",
			run.ID, run.StartedAt.UTC().Format(time.RFC3339), run.Records, run.Failed,
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
		printOutcomes(out, outcomes)
		return nil
	},
}
