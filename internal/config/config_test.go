package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadInterpolatesEnvAndAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
version: 1
chain:
  rpc_urls:
    - ${RPC_URL}
    - https://backup.example
`)
	t.Setenv("RPC_URL", "http://example-rpc")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"http://example-rpc", "https://backup.example"}, cfg.Chain.RPCURLs)
	assert.Equal(t, "ETH", cfg.Chain.NativeSymbol)
	assert.EqualValues(t, 18, cfg.Chain.NativeDecimals)
	assert.Equal(t, DefaultRequestTimeout, cfg.Chain.RequestTimeout)
	assert.Equal(t, DefaultTotalBlocks, cfg.Scan.TotalBlocks)
	assert.Equal(t, DefaultSubWindow, cfg.Scan.SubWindow)
	assert.Equal(t, DefaultBlockscoutURL, cfg.Providers.Blockscout.BaseURL)
	assert.Equal(t, "1", cfg.Providers.Etherscan.ChainID)
	assert.Equal(t, "eth", cfg.Providers.Moralis.Chain)
	assert.Equal(t, "csv", cfg.Export.Format)
}

func TestLoadFailsOnMissingEnv(t *testing.T) {
	path := writeConfig(t, `
version: 1
chain:
  rpc_urls: ["${CHAIN_STATEMENT_UNSET_RPC}"]
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHAIN_STATEMENT_UNSET_RPC")
}

func TestLoadReadsDotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\nchain:\n  rpc_urls: [\"${DOTENV_RPC}\"]\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DOTENV_RPC=https://dotenv.example\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("DOTENV_RPC") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://dotenv.example", cfg.Chain.RPCURLs[0])
}

func TestCredentialsOverlayFromEnvironment(t *testing.T) {
	t.Setenv("ETHERSCAN_API_KEY", "env-etherscan")
	t.Setenv("MORALIS_API_KEY", "env-moralis")

	cfg, err := Parse([]byte(`
version: 1
chain:
  rpc_urls: [https://rpc.example]
providers:
  etherscan:
    api_key: file-value
`))
	require.NoError(t, err)
	assert.Equal(t, "env-etherscan", cfg.Providers.Etherscan.APIKey)
	assert.Equal(t, "env-moralis", cfg.Providers.Moralis.APIKey)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing version", "chain:\n  rpc_urls: [https://rpc.example]\n"},
		{"no rpc urls", "version: 1\n"},
		{"bad rpc url", "version: 1\nchain:\n  rpc_urls: [not-a-url]\n"},
		{"duplicate rpc url", "version: 1\nchain:\n  rpc_urls: [https://a.example, https://a.example]\n"},
		{"window larger than range", "version: 1\nchain:\n  rpc_urls: [https://rpc.example]\nscan:\n  total_blocks: 10\n  sub_window: 100\n"},
		{"unknown export format", "version: 1\nchain:\n  rpc_urls: [https://rpc.example]\nexport:\n  format: xml\n"},
		{"negative rate", "version: 1\nchain:\n  rpc_urls: [https://rpc.example]\nproviders:\n  blockscout:\n    rate_limit: -1\n"},
		{"missing assets file", "version: 1\nchain:\n  rpc_urls: [https://rpc.example]\ntokens:\n  assets_file: /nonexistent/assets.json\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid), "expected ErrInvalid, got %v", err)
		})
	}
}

func TestDurationParsing(t *testing.T) {
	cfg, err := Parse([]byte("version: 1\nchain:\n  rpc_urls: [https://rpc.example]\n  request_timeout: 3s\n"))
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Chain.RequestTimeout)
}

func TestSampleIsValid(t *testing.T) {
	cfg, err := Parse([]byte(Sample))
	require.NoError(t, err)
	assert.Len(t, cfg.Chain.RPCURLs, 3)
	assert.Equal(t, 5.0, cfg.Providers.Etherscan.RateLimit)
}
