package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/devblac/chain-statement/internal/config"
	"github.com/devblac/chain-statement/internal/transfer"
)

var flagOffline bool

func init() {
	validateCmd.Flags().BoolVar(&flagOffline, "offline", false, "Check the config file only, without contacting RPC or explorers")
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config and check RPC and explorer reachability",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d)\n", cfg.Version)
		if flagOffline {
			return nil
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, newLogger(cmd), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		failures := 0
		for _, s := range a.pool.Ping(ctx) {
			if !report(out, "rpc "+s.Endpoint, s.Err) {
				failures++
			}
		}
		for _, e := range []interface {
			Name() string
			Ping(context.Context) error
		}{a.blockscout, a.etherscan} {
			if !report(out, e.Name(), e.Ping(ctx)) {
				failures++
			}
		}
		if !a.moralisKey {
			fmt.Fprintln(out, "moralis: skipped (MORALIS_API_KEY not set)")
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d check(s) failed", failures)
		}
		return nil
	},
}

// report prints one check line. A missing credential is reported as skipped
// and does not count as a failure.
func report(w io.Writer, name string, err error) bool {
	switch {
	case err == nil:
		fmt.Fprintf(w, "%s: ok\n", name)
		return true
	case errors.Is(err, transfer.ErrMissingCredential):
		fmt.Fprintf(w, "%s: skipped (%v)\n", name, err)
		return true
	default:
		fmt.Fprintf(w, "%s: %v\n", name, err)
		return false
	}
}
