// Package config loads the market daemon's runtime settings.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"lomarket/market"
)

// Config captures the runtime settings for the market daemon.
type Config struct {
	// ListenAddress is where the HTTP message endpoint binds.
	ListenAddress string `yaml:"listen"`
	// RelayURL receives outbound messages as JSON POSTs.
	RelayURL string `yaml:"relay"`
	// DataDir holds the LevelDB state checkpoint. Empty runs in-memory.
	DataDir string `yaml:"data_dir"`

	// ProcessID is this market's own address; Controller is the owner
	// process acting as admission coordinator and liquidation relay.
	ProcessID  string `yaml:"process_id"`
	Controller string `yaml:"controller"`

	Market  MarketConfig   `yaml:"market"`
	Friends []FriendConfig `yaml:"friends"`
}

// MarketConfig mirrors market.Params in yaml-friendly types.
type MarketConfig struct {
	Name                   string `yaml:"name"`
	Ticker                 string `yaml:"ticker"`
	Logo                   string `yaml:"logo"`
	Denomination           uint64 `yaml:"denomination"`
	CollateralID           string `yaml:"collateral_id"`
	CollateralTicker       string `yaml:"collateral_ticker"`
	CollateralDenomination uint64 `yaml:"collateral_denomination"`
	CollateralFactor       string `yaml:"collateral_factor"`
	LiquidationThreshold   string `yaml:"liquidation_threshold"`
	ValueLimit             string `yaml:"value_limit"`
	Oracle                 string `yaml:"oracle"`
	OracleDelayToleranceMS int64  `yaml:"oracle_delay_tolerance_ms"`
	CooldownMS             int64  `yaml:"cooldown_ms"`
	ReserveFactor          uint64 `yaml:"reserve_factor"`
	BaseRate               string `yaml:"base_rate"`
	InitRate               string `yaml:"init_rate"`
}

// FriendConfig seeds the trusted peer-market registry.
type FriendConfig struct {
	ID           string `yaml:"id"`
	Token        string `yaml:"token"`
	Ticker       string `yaml:"ticker"`
	Denomination uint64 `yaml:"denomination"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{ListenAddress: ":8390"}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8390"
	}
	cfg.RelayURL = strings.TrimSpace(cfg.RelayURL)
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.ProcessID = strings.TrimSpace(cfg.ProcessID)
	cfg.Controller = strings.TrimSpace(cfg.Controller)
	if cfg.Market.ReserveFactor > 100 {
		cfg.Market.ReserveFactor = 100
	}
}

func (cfg *Config) validate() error {
	if cfg.ProcessID == "" {
		return fmt.Errorf("process_id required")
	}
	if cfg.Controller == "" {
		return fmt.Errorf("controller required")
	}
	if cfg.Market.CollateralID == "" {
		return fmt.Errorf("market: collateral_id required")
	}
	if cfg.Market.CollateralTicker == "" {
		return fmt.Errorf("market: collateral_ticker required")
	}
	if cfg.Market.Oracle == "" {
		return fmt.Errorf("market: oracle required")
	}
	if _, err := parseRatio(cfg.Market.CollateralFactor); err != nil {
		return fmt.Errorf("market: collateral_factor: %w", err)
	}
	if _, err := parseRatio(cfg.Market.LiquidationThreshold); err != nil {
		return fmt.Errorf("market: liquidation_threshold: %w", err)
	}
	for i, friend := range cfg.Friends {
		if strings.TrimSpace(friend.ID) == "" {
			return fmt.Errorf("friends[%d]: id required", i)
		}
	}
	return nil
}

func parseRatio(raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid ratio %q", raw)
	}
	if value.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("ratio must be positive")
	}
	return value, nil
}

func parseRate(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil || value.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("invalid rate %q", raw)
	}
	return value, nil
}

// Params converts the yaml market section into engine parameters.
func (cfg Config) Params() (market.Params, error) {
	collateralFactor, err := parseRatio(cfg.Market.CollateralFactor)
	if err != nil {
		return market.Params{}, err
	}
	liquidationThreshold, err := parseRatio(cfg.Market.LiquidationThreshold)
	if err != nil {
		return market.Params{}, err
	}
	baseRate, err := parseRate(cfg.Market.BaseRate)
	if err != nil {
		return market.Params{}, err
	}
	initRate, err := parseRate(cfg.Market.InitRate)
	if err != nil {
		return market.Params{}, err
	}
	valueLimit := big.NewInt(0)
	if raw := strings.TrimSpace(cfg.Market.ValueLimit); raw != "" {
		parsed, ok := new(big.Int).SetString(raw, 10)
		if !ok || parsed.Sign() < 0 {
			return market.Params{}, fmt.Errorf("invalid value_limit %q", raw)
		}
		valueLimit = parsed
	}
	return market.Params{
		Name:                   cfg.Market.Name,
		Ticker:                 cfg.Market.Ticker,
		Logo:                   cfg.Market.Logo,
		Denomination:           cfg.Market.Denomination,
		CollateralID:           cfg.Market.CollateralID,
		CollateralTicker:       cfg.Market.CollateralTicker,
		CollateralDenomination: cfg.Market.CollateralDenomination,
		CollateralFactor:       collateralFactor,
		LiquidationThreshold:   liquidationThreshold,
		ValueLimit:             valueLimit,
		Oracle:                 cfg.Market.Oracle,
		OracleDelayTolerance:   cfg.Market.OracleDelayToleranceMS,
		CooldownPeriod:         cfg.Market.CooldownMS,
		ReserveFactor:          cfg.Market.ReserveFactor,
		BaseRate:               baseRate,
		InitRate:               initRate,
	}, nil
}

// PeerMarkets converts the friends section.
func (cfg Config) PeerMarkets() []market.PeerMarket {
	out := make([]market.PeerMarket, 0, len(cfg.Friends))
	for _, friend := range cfg.Friends {
		peer := market.PeerMarket{
			ID:           strings.TrimSpace(friend.ID),
			Token:        strings.TrimSpace(friend.Token),
			Ticker:       strings.TrimSpace(friend.Ticker),
			Denomination: friend.Denomination,
		}
		if peer.Token == "" {
			peer.Token = peer.ID
		}
		out = append(out, peer)
	}
	return out
}
