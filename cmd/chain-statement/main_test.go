package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devblac/chain-statement/internal/export"
	"github.com/devblac/chain-statement/internal/fetcher"
	"github.com/devblac/chain-statement/internal/storage"
	"github.com/devblac/chain-statement/internal/transfer"
)

const testWallet = "0x00000000000000000000000000000000000000aa"

func resetFlags() {
	cfgPath = "config.yaml"
	flagForce = false
	flagOffline = false
	flagDB = ""
	flagHistoryCSV = false
	flagCategories = nil
	flagWhere = nil
	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)
}

// run executes the command tree with fresh package-level flags.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "chain-statement dev"), out)
}

func TestInitWritesSampleAndRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	out, err := run(t, "init", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	_, err = run(t, "init", "-c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))
	_, err = run(t, "init", "-c", path, "--force")
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "rpc_urls:")
}

func TestValidateOffline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	_, err := run(t, "init", "-c", path)
	require.NoError(t, err)

	out, err := run(t, "validate", "--offline", "-c", path)
	require.NoError(t, err)
	assert.Equal(t, "config OK (version 1)\n", out)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 2\n"), 0o644))

	_, err := run(t, "validate", "--offline", "-c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestFetchRejectsBadArguments(t *testing.T) {
	_, err := run(t, "fetch", "not-an-address")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid wallet address")

	_, err = run(t, "fetch", testWallet, "--categories", "erc9999")
	require.ErrorIs(t, err, transfer.ErrUnsupportedCategory)

	_, err = run(t, "fetch", testWallet, "--where", "amount ~ 1")
	require.Error(t, err)
}

func TestExportFormat(t *testing.T) {
	f, err := exportFormat("", "")
	require.NoError(t, err)
	assert.Equal(t, export.FormatCSV, f)

	f, err = exportFormat("json", "csv")
	require.NoError(t, err)
	assert.Equal(t, export.FormatJSON, f)

	f, err = exportFormat("", "sqlite")
	require.NoError(t, err)
	assert.Equal(t, export.FormatSQLite, f)

	_, err = exportFormat("xml", "")
	require.Error(t, err)
}

func TestPrintStatuses(t *testing.T) {
	var buf bytes.Buffer
	printStatuses(&buf, []fetcher.Status{
		{Category: transfer.Native, Provider: "blockscout:txlist", Records: 3},
		{Category: transfer.NonFungibleMulti, Err: errors.New("moralis down")},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "CATEGORY"))
	assert.Equal(t, []string{"Native", "blockscout:txlist", "3", "ok"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"NonFungibleMulti", "-", "0", "moralis", "down"}, strings.Fields(lines[2]))
}

func TestReportTreatsMissingCredentialAsSkipped(t *testing.T) {
	var buf bytes.Buffer
	assert.True(t, report(&buf, "blockscout", nil))
	assert.True(t, report(&buf, "etherscan", fmt.Errorf("etherscan: %w", transfer.ErrMissingCredential)))
	assert.False(t, report(&buf, "rpc https://x", errors.New("dial tcp: refused")))

	out := buf.String()
	assert.Contains(t, out, "blockscout: ok")
	assert.Contains(t, out, "etherscan: skipped")
	assert.Contains(t, out, "rpc https://x: dial tcp: refused")
}

func TestHistory(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	store, err := storage.Open(db)
	require.NoError(t, err)
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_, err = store.SaveRun(context.Background(), storage.Run{
		ID:         "run-1",
		Wallet:     testWallet,
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		Failed:     1,
	}, []storage.CategoryOutcome{
		{Category: transfer.Native, Provider: "etherscan:txlist", Records: 1},
		{Category: transfer.NonFungibleMulti, Error: "moralis: missing credential"},
	}, []transfer.Record{{
		TransactionHash:      "0xabc",
		BlockNumber:          big.NewInt(42),
		Amount:               big.NewInt(7),
		Category:             transfer.Native,
		AssetContractAddress: transfer.NativeAsset,
	}})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out, err := run(t, "history", testWallet, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "run run-1 at 2024-05-01T12:00:00Z: 1 transfers, 1 failed categories (took 1.5s)")
	assert.Contains(t, out, "etherscan:txlist")
	assert.Contains(t, out, "moralis: missing credential")

	out, err = run(t, "history", testWallet, "--db", db, "--csv")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Transaction Hash,"), out)
	assert.Contains(t, out, "0xabc")

	out, err = run(t, "history", "0x00000000000000000000000000000000000000bb", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "no runs stored")
}
