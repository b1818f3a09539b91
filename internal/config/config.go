package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a key is absent.
const (
	DefaultTotalBlocks    uint64 = 20000
	DefaultSubWindow      uint64 = 1000
	DefaultRequestTimeout        = 15 * time.Second

	DefaultBlockscoutURL = "https://eth.blockscout.com/api"
	DefaultEtherscanURL  = "https://api.etherscan.io/v2/api"
	DefaultMoralisURL    = "https://deep-index.moralis.io/api/v2.2"
)

// ErrInvalid is the first error in the chain returned by Validate.
var ErrInvalid = errors.New("invalid config")

// Config holds the YAML configuration.
type Config struct {
	Version   int             `yaml:"version" validate:"required,eq=1"`
	Chain     ChainConfig     `yaml:"chain"`
	Scan      ScanConfig      `yaml:"scan"`
	Providers ProvidersConfig `yaml:"providers"`
	Tokens    TokensConfig    `yaml:"tokens"`
	Export    ExportConfig    `yaml:"export"`
}

type ChainConfig struct {
	Name           string        `yaml:"name"`
	NativeSymbol   string        `yaml:"native_symbol" validate:"required"`
	NativeDecimals uint8         `yaml:"native_decimals"`
	RPCURLs        []string      `yaml:"rpc_urls" validate:"required,min=1,dive,url"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gte=0"`
	Retries        uint          `yaml:"retries"`
}

type ScanConfig struct {
	TotalBlocks       uint64 `yaml:"total_blocks" validate:"gt=0"`
	SubWindow         uint64 `yaml:"sub_window" validate:"gt=0"`
	ResolveTimestamps bool   `yaml:"resolve_timestamps"`
}

type ProvidersConfig struct {
	Blockscout ExplorerConfig `yaml:"blockscout"`
	Etherscan  ExplorerConfig `yaml:"etherscan"`
	Moralis    MoralisConfig  `yaml:"moralis"`
}

// ExplorerConfig describes an Etherscan-compatible account API.
type ExplorerConfig struct {
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	ChainID string `yaml:"chain_id"`
	APIKey  string `yaml:"api_key"`
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
}

type MoralisConfig struct {
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	Chain   string `yaml:"chain"`
	APIKey  string `yaml:"api_key"`
}

type TokensConfig struct {
	AssetsFile string `yaml:"assets_file"`
}

type ExportConfig struct {
	Dir        string `yaml:"dir"`
	Format     string `yaml:"format" validate:"omitempty,oneof=csv json sqlite db pdf"`
	WebhookURL string `yaml:"webhook_url" validate:"omitempty,url"`
	Template   string `yaml:"template"`
}

// Credentials are read from the environment and override file values when set.
type Credentials struct {
	EtherscanAPIKey string `envconfig:"ETHERSCAN_API_KEY"`
	MoralisAPIKey   string `envconfig:"MORALIS_API_KEY"`
}

var (
	envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)
	validate   = validator.New(validator.WithRequiredStructEnabled())
)

// Load reads, interpolates env vars, parses YAML, applies defaults and credentials, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(raw)
}

// Parse is Load without the file and .env handling.
func Parse(raw []byte) (*Config, error) {
	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()

	if err := cfg.overlayCredentials(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

func (c *Config) overlayCredentials() error {
	var creds Credentials
	if err := envconfig.Process("", &creds); err != nil {
		return fmt.Errorf("read credentials: %w", err)
	}
	if creds.EtherscanAPIKey != "" {
		c.Providers.Etherscan.APIKey = creds.EtherscanAPIKey
	}
	if creds.MoralisAPIKey != "" {
		c.Providers.Moralis.APIKey = creds.MoralisAPIKey
	}
	return nil
}

// ApplyDefaults fills unset keys.
func (c *Config) ApplyDefaults() {
	if c.Chain.Name == "" {
		c.Chain.Name = "ethereum"
	}
	if c.Chain.NativeSymbol == "" {
		c.Chain.NativeSymbol = "ETH"
		if c.Chain.NativeDecimals == 0 {
			c.Chain.NativeDecimals = 18
		}
	}
	if c.Chain.RequestTimeout == 0 {
		c.Chain.RequestTimeout = DefaultRequestTimeout
	}
	if c.Chain.Retries == 0 {
		c.Chain.Retries = 1
	}
	if c.Scan.TotalBlocks == 0 {
		c.Scan.TotalBlocks = DefaultTotalBlocks
	}
	if c.Scan.SubWindow == 0 {
		c.Scan.SubWindow = DefaultSubWindow
	}
	if c.Providers.Blockscout.BaseURL == "" {
		c.Providers.Blockscout.BaseURL = DefaultBlockscoutURL
	}
	if c.Providers.Etherscan.BaseURL == "" {
		c.Providers.Etherscan.BaseURL = DefaultEtherscanURL
	}
	if c.Providers.Etherscan.ChainID == "" {
		c.Providers.Etherscan.ChainID = "1"
	}
	if c.Providers.Moralis.BaseURL == "" {
		c.Providers.Moralis.BaseURL = DefaultMoralisURL
	}
	if c.Providers.Moralis.Chain == "" {
		c.Providers.Moralis.Chain = "eth"
	}
	if c.Export.Dir == "" {
		c.Export.Dir = "."
	}
	if c.Export.Format == "" {
		c.Export.Format = "csv"
	}
}

// Validate runs struct tag checks, then small direct schema checks.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatError(err)
	}
	if c.Scan.SubWindow > c.Scan.TotalBlocks {
		return fmt.Errorf("%w: scan.sub_window (%d) exceeds scan.total_blocks (%d)", ErrInvalid, c.Scan.SubWindow, c.Scan.TotalBlocks)
	}
	seen := map[string]struct{}{}
	for _, u := range c.Chain.RPCURLs {
		if _, ok := seen[u]; ok {
			return fmt.Errorf("%w: duplicate rpc url", ErrInvalid)
		}
		seen[u] = struct{}{}
	}
	if c.Tokens.AssetsFile != "" {
		if _, err := os.Stat(c.Tokens.AssetsFile); err != nil {
			return fmt.Errorf("%w: tokens.assets_file: %v", ErrInvalid, err)
		}
	}
	return nil
}

func formatError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	errs := []error{ErrInvalid}
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("%s: failed %q validation", fe.Namespace(), fe.Tag()))
	}
	return errors.Join(errs...)
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Sample is the starter config written by `chain-statement init`.
const Sample = `version: 1

chain:
  name: ethereum
  native_symbol: ETH
  native_decimals: 18
  rpc_urls:
    - https://eth.llamarpc.com
    - https://rpc.ankr.com/eth
    - https://ethereum-rpc.publicnode.com
  request_timeout: 15s
  retries: 1

scan:
  total_blocks: 20000
  sub_window: 1000
  resolve_timestamps: false

providers:
  blockscout:
    base_url: https://eth.blockscout.com/api
    rate_limit: 5
  etherscan:
    base_url: https://api.etherscan.io/v2/api
    chain_id: "1"
    # api_key is read from ETHERSCAN_API_KEY
    rate_limit: 5
  moralis:
    base_url: https://deep-index.moralis.io/api/v2.2
    chain: eth
    # api_key is read from MORALIS_API_KEY

tokens:
  assets_file: ""

export:
  dir: .
  format: csv
  webhook_url: ""
  template: "{{.Wallet}}: {{.Records}} transfers ({{.Failed}} categories failed)"
`
