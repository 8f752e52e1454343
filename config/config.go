package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stablecore/crypto"
	nativecommon "stablecore/native/common"
	"stablecore/native/stable"

	"github.com/BurntSushi/toml"
)

// AssetConfig declares one supported collateral asset and its price feed.
type AssetConfig struct {
	Symbol   string `toml:"Symbol"`
	Address  string `toml:"Address"`
	FeedPair string `toml:"FeedPair"`
}

// EngineConfig carries the protocol constants. Amounts are decimal strings so
// the TOML stays exact at 18-decimal scale.
type EngineConfig struct {
	LiquidationThreshold uint64 `toml:"LiquidationThreshold"`
	LiquidationPrecision uint64 `toml:"LiquidationPrecision"`
	LiquidationBonus     uint64 `toml:"LiquidationBonus"`
	MinHealthFactorWei   string `toml:"MinHealthFactorWei"`
}

// PauseConfig exposes per-operation halt switches.
type PauseConfig struct {
	Deposit   bool `toml:"Deposit"`
	Mint      bool `toml:"Mint"`
	Burn      bool `toml:"Burn"`
	Redeem    bool `toml:"Redeem"`
	Liquidate bool `toml:"Liquidate"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Enabled  bool   `toml:"Enabled"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
}

// LogConfig controls the optional rotated file sink.
type LogConfig struct {
	Path       string `toml:"Path"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

type Config struct {
	RPCAddress          string          `toml:"RPCAddress"`
	MetricsAddress      string          `toml:"MetricsAddress"`
	DataDir             string          `toml:"DataDir"`
	Environment         string          `toml:"Environment"`
	ModuleAddress       string          `toml:"ModuleAddress"`
	OracleMaxAgeSeconds int64           `toml:"OracleMaxAgeSeconds"`
	Assets              []AssetConfig   `toml:"assets"`
	Engine              EngineConfig    `toml:"engine"`
	Pauses              PauseConfig     `toml:"pauses"`
	Telemetry           TelemetryConfig `toml:"telemetry"`
	Log                 LogConfig       `toml:"log"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.MetricsAddress) == "" {
		cfg.MetricsAddress = ":9090"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./stable-data"
	}
	if cfg.OracleMaxAgeSeconds <= 0 {
		cfg.OracleMaxAgeSeconds = 300
	}
	if cfg.Engine.LiquidationPrecision == 0 {
		defaults := stable.DefaultParams()
		cfg.Engine.LiquidationThreshold = defaults.LiquidationThreshold
		cfg.Engine.LiquidationPrecision = defaults.LiquidationPrecision
		cfg.Engine.LiquidationBonus = defaults.LiquidationBonus
		cfg.Engine.MinHealthFactorWei = defaults.MinHealthFactor.String()
	}
}

// Validate checks the manifest for internal consistency before any component
// is constructed from it.
func (c *Config) Validate() error {
	if _, err := crypto.DecodeAddress(strings.TrimSpace(c.ModuleAddress)); err != nil {
		return fmt.Errorf("config: invalid ModuleAddress: %w", err)
	}
	if len(c.Assets) == 0 {
		return fmt.Errorf("config: at least one collateral asset is required")
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for i, asset := range c.Assets {
		if strings.TrimSpace(asset.Symbol) == "" {
			return fmt.Errorf("config: asset %d is missing a symbol", i)
		}
		addr := strings.TrimSpace(asset.Address)
		if _, err := crypto.DecodeAddress(addr); err != nil {
			return fmt.Errorf("config: asset %s has an invalid address: %w", asset.Symbol, err)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("config: asset address %s declared twice", addr)
		}
		seen[addr] = struct{}{}
		if strings.TrimSpace(asset.FeedPair) == "" {
			return fmt.Errorf("config: asset %s is missing a feed pair", asset.Symbol)
		}
	}
	if _, err := c.EngineParams(); err != nil {
		return err
	}
	return nil
}

// EngineParams converts the engine section into runtime parameters.
func (c *Config) EngineParams() (stable.Params, error) {
	params := stable.Params{
		LiquidationThreshold: c.Engine.LiquidationThreshold,
		LiquidationPrecision: c.Engine.LiquidationPrecision,
		LiquidationBonus:     c.Engine.LiquidationBonus,
	}
	raw := strings.TrimSpace(c.Engine.MinHealthFactorWei)
	if raw == "" {
		params.MinHealthFactor = stable.Precision()
	} else {
		value, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return stable.Params{}, fmt.Errorf("config: invalid MinHealthFactorWei %q", raw)
		}
		params.MinHealthFactor = value
	}
	if err := params.Validate(); err != nil {
		return stable.Params{}, fmt.Errorf("config: %w", err)
	}
	return params, nil
}

// Module returns the decoded module account address.
func (c *Config) Module() crypto.Address {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(c.ModuleAddress))
	if err != nil {
		panic(fmt.Sprintf("config: Validate must run before Module: %v", err))
	}
	return addr
}

// OracleMaxAge returns the freshness window for price quotes.
func (c *Config) OracleMaxAge() time.Duration {
	return time.Duration(c.OracleMaxAgeSeconds) * time.Second
}

// PauseView builds the engine pause switches from configuration.
func (c *Config) PauseView() nativecommon.PauseView {
	return nativecommon.PauseSet{
		"stable.deposit":   c.Pauses.Deposit,
		"stable.mint":      c.Pauses.Mint,
		"stable.burn":      c.Pauses.Burn,
		"stable.redeem":    c.Pauses.Redeem,
		"stable.liquidate": c.Pauses.Liquidate,
	}
}

// createDefault creates and saves a default configuration file. The module
// account is derived from a freshly generated key so each deployment gets a
// distinct escrow address that stays stable across restarts.
func createDefault(path string) (*Config, error) {
	moduleKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	assetKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	assetAddr := crypto.NewAddress(crypto.AssetPrefix, assetKey.PubKey().Address().Bytes())

	defaults := stable.DefaultParams()
	cfg := &Config{
		RPCAddress:          ":8080",
		MetricsAddress:      ":9090",
		DataDir:             "./stable-data",
		Environment:         "local",
		ModuleAddress:       moduleKey.PubKey().Address().String(),
		OracleMaxAgeSeconds: 300,
		Assets: []AssetConfig{{
			Symbol:   "WETH",
			Address:  assetAddr.String(),
			FeedPair: "ETH/USD",
		}},
		Engine: EngineConfig{
			LiquidationThreshold: defaults.LiquidationThreshold,
			LiquidationPrecision: defaults.LiquidationPrecision,
			LiquidationBonus:     defaults.LiquidationBonus,
			MinHealthFactorWei:   defaults.MinHealthFactor.String(),
		},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
