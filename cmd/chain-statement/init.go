package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/devblac/chain-statement/internal/config"
)

var flagForce bool

func init() {
	initCmd.Flags().BoolVar(&flagForce, "force", false, "Overwrite an existing config file")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfgPath); err == nil && !flagForce {
			return fmt.Errorf("init: %s already exists (use --force to overwrite)", cfgPath)
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("init: %w", err)
		}

		if dir := filepath.Dir(cfgPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("init: %w", err)
			}
		}
		if err := os.WriteFile(cfgPath, []byte(config.Sample), 0o644); err != nil {
			return fmt.Errorf("init: write config: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "wrote %s\n", cfgPath)
		fmt.Fprintln(out, "set ETHERSCAN_API_KEY and MORALIS_API_KEY in the environment or a .env file next to it")
		return nil
	},
}
