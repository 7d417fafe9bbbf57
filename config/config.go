package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/DomeLiquid/lending/core"
	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDSN      = "lending.db"
	DefaultLogLevel = "info"
)

// Config captures the settings of the lending engine and its CLI.
// Decimal values are written as strings so they survive both formats exactly.
type Config struct {
	Engine         EngineConfig          `toml:"engine" yaml:"engine"`
	Database       DatabaseConfig        `toml:"database" yaml:"database"`
	Log            LogConfig             `toml:"log" yaml:"log"`
	Assets         []AssetConfig         `toml:"assets" yaml:"assets"`
	Pools          []PoolConfig          `toml:"pools" yaml:"pools"`
	ExposureGroups []ExposureGroupConfig `toml:"exposure_groups" yaml:"exposure_groups"`
	Prices         map[string]string     `toml:"prices" yaml:"prices"`
}

type EngineConfig struct {
	MaxLtvBps              int64    `toml:"max_ltv_bps" yaml:"max_ltv_bps"`
	MaxLiquidationBonusBps int64    `toml:"max_liquidation_bonus_bps" yaml:"max_liquidation_bonus_bps"`
	Liquidators            []string `toml:"liquidators" yaml:"liquidators"`
	RecoveryAccounts       []string `toml:"recovery_accounts" yaml:"recovery_accounts"`
}

type DatabaseConfig struct {
	DSN string `toml:"dsn" yaml:"dsn"`
}

type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

type AssetConfig struct {
	Symbol        string `toml:"symbol" yaml:"symbol"`
	TokenRef      string `toml:"token_ref" yaml:"token_ref"`
	Decimals      int32  `toml:"decimals" yaml:"decimals"`
	Coverage      string `toml:"coverage" yaml:"coverage"`
	ExposureGroup string `toml:"exposure_group" yaml:"exposure_group"`
}

// PoolConfig describes the kinked rate curve of one asset's pool.
type PoolConfig struct {
	Asset              string `toml:"asset" yaml:"asset"`
	BaseRate           string `toml:"base_rate" yaml:"base_rate"`
	Slope1             string `toml:"slope1" yaml:"slope1"`
	Slope2             string `toml:"slope2" yaml:"slope2"`
	OptimalUtilization string `toml:"optimal_utilization" yaml:"optimal_utilization"`
	ReserveFactor      string `toml:"reserve_factor" yaml:"reserve_factor"`
}

type ExposureGroupConfig struct {
	Name        string `toml:"name" yaml:"name"`
	MaxExposure string `toml:"max_exposure" yaml:"max_exposure"`
}

// Load reads a .toml, .yaml or .yml file, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	cfg := &Config{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, errors.Wrap(err, "decode toml config")
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "decode yaml config")
		}
	default:
		return nil, errors.Errorf("unsupported config format %q", ext)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg.Engine.MaxLtvBps == 0 {
		cfg.Engine.MaxLtvBps = core.DEFAULT_MAX_LTV_BPS
	}
	if cfg.Engine.MaxLiquidationBonusBps == 0 {
		cfg.Engine.MaxLiquidationBonusBps = core.DEFAULT_MAX_LIQUIDATION_BONUS_BPS
	}
	cfg.Engine.Liquidators = trimAll(cfg.Engine.Liquidators)
	cfg.Engine.RecoveryAccounts = trimAll(cfg.Engine.RecoveryAccounts)

	cfg.Database.DSN = strings.TrimSpace(cfg.Database.DSN)
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = DefaultDSN
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}

	for i := range cfg.Assets {
		a := &cfg.Assets[i]
		a.Symbol = normalizeSymbol(a.Symbol)
		a.TokenRef = strings.TrimSpace(a.TokenRef)
		a.ExposureGroup = strings.TrimSpace(a.ExposureGroup)
		if strings.TrimSpace(a.Coverage) == "" {
			a.Coverage = "1"
		}
	}
	for i := range cfg.Pools {
		cfg.Pools[i].Asset = normalizeSymbol(cfg.Pools[i].Asset)
	}
	for i := range cfg.ExposureGroups {
		cfg.ExposureGroups[i].Name = strings.TrimSpace(cfg.ExposureGroups[i].Name)
	}
	if len(cfg.Prices) > 0 {
		prices := make(map[string]string, len(cfg.Prices))
		for symbol, value := range cfg.Prices {
			prices[normalizeSymbol(symbol)] = strings.TrimSpace(value)
		}
		cfg.Prices = prices
	}
}

func (cfg *Config) validate() error {
	if err := cfg.EngineConfig().Validate(); err != nil {
		return errors.Wrap(err, "engine")
	}
	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		return errors.Wrap(err, "log")
	}

	// building through the core constructors runs their validation
	clk := clock.NewMock()
	assets, err := cfg.BuildAssets(clk)
	if err != nil {
		return err
	}
	registry, err := core.NewAssetRegistry(assets...)
	if err != nil {
		return errors.Wrap(err, "assets")
	}
	if _, err := cfg.BuildPools(clk, registry); err != nil {
		return err
	}
	groups, err := cfg.BuildExposureGroups()
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(groups))
	for _, g := range groups {
		known[g.Name] = true
	}
	for _, a := range assets {
		if a.ExposureGroup != "" && !known[a.ExposureGroup] {
			return errors.Errorf("asset %s: unknown exposure group %q", a.Symbol, a.ExposureGroup)
		}
	}
	if _, err := cfg.PriceFeed(clk); err != nil {
		return err
	}
	return nil
}

func (cfg *Config) EngineConfig() core.Config {
	return core.Config{
		MaxLtvBps:              cfg.Engine.MaxLtvBps,
		MaxLiquidationBonusBps: cfg.Engine.MaxLiquidationBonusBps,
		Liquidators:            cfg.Engine.Liquidators,
		RecoveryAccounts:       cfg.Engine.RecoveryAccounts,
	}
}

func (cfg *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func (cfg *Config) BuildAssets(clk clock.Clock) ([]*core.Asset, error) {
	seen := make(map[string]bool, len(cfg.Assets))
	assets := make([]*core.Asset, 0, len(cfg.Assets))
	for _, a := range cfg.Assets {
		if seen[a.Symbol] {
			return nil, errors.Errorf("asset %s: duplicated", a.Symbol)
		}
		seen[a.Symbol] = true
		coverage, err := parseDecimal("coverage", a.Coverage)
		if err != nil {
			return nil, errors.Wrapf(err, "asset %s", a.Symbol)
		}
		asset := core.NewAsset(clk, a.Symbol, a.TokenRef, a.Decimals, coverage, a.ExposureGroup)
		if err := asset.Validate(); err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

// BuildPools creates one pool per configured asset. Every pool must refer to
// a registered asset.
func (cfg *Config) BuildPools(clk clock.Clock, assets *core.AssetRegistry) ([]*core.Pool, error) {
	seen := make(map[string]bool, len(cfg.Pools))
	pools := make([]*core.Pool, 0, len(cfg.Pools))
	for _, p := range cfg.Pools {
		if seen[p.Asset] {
			return nil, errors.Errorf("pool %s: duplicated", p.Asset)
		}
		seen[p.Asset] = true
		asset, err := assets.Get(p.Asset)
		if err != nil {
			return nil, errors.Wrapf(err, "pool %s", p.Asset)
		}
		irConfig, err := p.interestRateConfig()
		if err != nil {
			return nil, errors.Wrapf(err, "pool %s", p.Asset)
		}
		if err := irConfig.Validate(); err != nil {
			return nil, errors.Wrapf(err, "pool %s", p.Asset)
		}
		pools = append(pools, core.NewPool(clk, asset, irConfig))
	}
	return pools, nil
}

func (p PoolConfig) interestRateConfig() (core.InterestRateConfig, error) {
	var (
		irConfig core.InterestRateConfig
		err      error
	)
	if irConfig.BaseRate, err = parseDecimal("base_rate", p.BaseRate); err != nil {
		return irConfig, err
	}
	if irConfig.Slope1, err = parseDecimal("slope1", p.Slope1); err != nil {
		return irConfig, err
	}
	if irConfig.Slope2, err = parseDecimal("slope2", p.Slope2); err != nil {
		return irConfig, err
	}
	if irConfig.OptimalUtilizationRate, err = parseDecimal("optimal_utilization", p.OptimalUtilization); err != nil {
		return irConfig, err
	}
	if irConfig.ReserveFactor, err = parseDecimal("reserve_factor", p.ReserveFactor); err != nil {
		return irConfig, err
	}
	return irConfig, nil
}

func (cfg *Config) BuildExposureGroups() ([]*core.ExposureGroup, error) {
	seen := make(map[string]bool, len(cfg.ExposureGroups))
	groups := make([]*core.ExposureGroup, 0, len(cfg.ExposureGroups))
	for _, g := range cfg.ExposureGroups {
		if g.Name == "" {
			return nil, errors.New("exposure group name is empty")
		}
		if seen[g.Name] {
			return nil, errors.Errorf("exposure group %s: duplicated", g.Name)
		}
		seen[g.Name] = true
		maxExposure, err := parseDecimal("max_exposure", g.MaxExposure)
		if err != nil {
			return nil, errors.Wrapf(err, "exposure group %s", g.Name)
		}
		if maxExposure.IsNegative() {
			return nil, errors.Errorf("exposure group %s: negative max_exposure", g.Name)
		}
		groups = append(groups, &core.ExposureGroup{Name: g.Name, CurrentExposure: decimal.Zero, MaxExposure: maxExposure})
	}
	return groups, nil
}

// PriceFeed loads the configured price vector into a static feed.
func (cfg *Config) PriceFeed(clk clock.Clock) (*core.StaticPriceFeed, error) {
	symbols := make([]string, 0, len(cfg.Prices))
	for symbol := range cfg.Prices {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	feed := core.NewStaticPriceFeed(clk)
	for _, symbol := range symbols {
		price, err := parseDecimal("price", cfg.Prices[symbol])
		if err != nil {
			return nil, errors.Wrapf(err, "price %s", symbol)
		}
		if price.IsNegative() {
			return nil, errors.Errorf("price %s: negative", symbol)
		}
		feed.SetPrice(symbol, price)
	}
	return feed, nil
}

func parseDecimal(field, value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse %s", field)
	}
	return d, nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
