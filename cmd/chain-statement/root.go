package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/devblac/chain-statement/internal/logging"
)

var (
	cfgPath      string
	flagLogLevel string
	rootCmd      = &cobra.Command{
		Use:   "chain-statement",
		Short: "Wallet transfer history across native, ERC-20, ERC-721 and ERC-1155 assets",
	}
)

func init() {
	cobra.EnableCommandSorting = false

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error); defaults to $LOG_LEVEL or info")

	rootCmd.AddCommand(
		versionCmd,
		initCmd,
		validateCmd,
		fetchCmd,
		serveCmd,
		historyCmd,
	)
}

// Execute runs the root command tree.
func Execute(ctx context.Context) error {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}

// newLogger writes to stderr so command output on stdout stays clean.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level := flagLogLevel
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	return logging.NewWriter(cmd.ErrOrStderr(), level)
}
