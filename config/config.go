package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/michaelpento.lv/flashlender/flashloan"
)

// DefaultConfigFile is read when neither a flag nor FLASHLENDER_CONFIG names
// a scenario.
const DefaultConfigFile = "flashlender.yaml"

// Config is a simulation scenario: an aggregator, the tokens it lends, the
// venues behind it and the accounts that borrow.
type Config struct {
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Tokens     []TokenConfig    `yaml:"tokens"`
	Venues     []VenueConfig    `yaml:"venues"`
	Accounts   []AccountConfig  `yaml:"accounts"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	Logger *zap.Logger `yaml:"-"`
}

type AggregatorConfig struct {
	Address            string          `yaml:"address"`
	Owner              string          `yaml:"owner"`
	Factory            string          `yaml:"factory,omitempty"`
	FeeSink            string          `yaml:"fee_sink,omitempty"`
	MarginBps          uint64          `yaml:"margin_bps"`
	QuoteCacheSize     int             `yaml:"quote_cache_size"`
	GatedIntrospection bool            `yaml:"gated_introspection"`
	RateLimit          RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig throttles loan executions. A zero rate disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type TokenConfig struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals int32  `yaml:"decimals"`
}

// VenueConfig describes one adapter. Holder is the single contract that keeps
// the liquidity of dYdX, ForTube, Euler and Multiplier venues.
type VenueConfig struct {
	Type     string       `yaml:"type"`
	Address  string       `yaml:"address"`
	Holder   string       `yaml:"holder,omitempty"`
	FeeParam uint64       `yaml:"fee_param,omitempty"`
	Pools    []PoolConfig `yaml:"pools"`
}

// PoolConfig is one pool of a venue. Balances are in whole token units keyed
// by symbol. Line is the MakerDAO debt ceiling, FeeTier the Uniswap v3 tier.
type PoolConfig struct {
	Address  string            `yaml:"address"`
	Tokens   []string          `yaml:"tokens"`
	FeeTier  uint64            `yaml:"fee_tier,omitempty"`
	Line     string            `yaml:"line,omitempty"`
	Balances map[string]string `yaml:"balances,omitempty"`
}

type AccountConfig struct {
	Name     string            `yaml:"name"`
	Address  string            `yaml:"address"`
	Balances map[string]string `yaml:"balances,omitempty"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Token looks a token up by symbol.
func (c *Config) Token(symbol string) (TokenConfig, bool) {
	for _, t := range c.Tokens {
		if strings.EqualFold(t.Symbol, symbol) {
			return t, true
		}
	}
	return TokenConfig{}, false
}

// Account looks an account up by name.
func (c *Config) Account(name string) (AccountConfig, bool) {
	for _, a := range c.Accounts {
		if a.Name == name {
			return a, true
		}
	}
	return AccountConfig{}, false
}

// Addr returns the token address.
func (t TokenConfig) Addr() common.Address {
	return common.HexToAddress(t.Address)
}

// BaseUnits converts a whole-unit amount such as "1.5" into base units.
func (t TokenConfig) BaseUnits(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid %s amount %q: %w", t.Symbol, amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative %s amount %q", t.Symbol, amount)
	}
	shifted := d.Shift(t.Decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%s amount %q has more than %d decimals", t.Symbol, amount, t.Decimals)
	}
	return shifted.BigInt(), nil
}

// Units renders base units as a whole-unit decimal string.
func (t TokenConfig) Units(amount *big.Int) string {
	return decimal.NewFromBigInt(amount, -t.Decimals).String()
}

// Validate reports every problem in the scenario at once.
func (c *Config) Validate() error {
	var errors []string

	checkAddr := func(field, value string, required bool) {
		if value == "" {
			if required {
				errors = append(errors, fmt.Sprintf("%s must be specified", field))
			}
			return
		}
		if !common.IsHexAddress(value) || common.HexToAddress(value) == (common.Address{}) {
			errors = append(errors, fmt.Sprintf("%s %q is not a non-zero address", field, value))
		}
	}

	checkAddr("aggregator.address", c.Aggregator.Address, true)
	checkAddr("aggregator.owner", c.Aggregator.Owner, true)
	checkAddr("aggregator.factory", c.Aggregator.Factory, false)
	checkAddr("aggregator.fee_sink", c.Aggregator.FeeSink, false)
	if c.Aggregator.MarginBps > 10000 {
		errors = append(errors, "aggregator.margin_bps must not exceed 10000")
	}
	if c.Aggregator.QuoteCacheSize < 0 {
		errors = append(errors, "aggregator.quote_cache_size must not be negative")
	}
	if err := c.Aggregator.RateLimit.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("aggregator.rate_limit: %v", err))
	}

	seen := make(map[string]bool)
	for i, t := range c.Tokens {
		if t.Symbol == "" {
			errors = append(errors, fmt.Sprintf("tokens[%d].symbol must be specified", i))
		}
		if seen[strings.ToUpper(t.Symbol)] {
			errors = append(errors, fmt.Sprintf("token %s listed twice", t.Symbol))
		}
		seen[strings.ToUpper(t.Symbol)] = true
		checkAddr(fmt.Sprintf("tokens[%d].address", i), t.Address, true)
		if t.Decimals < 0 || t.Decimals > 36 {
			errors = append(errors, fmt.Sprintf("tokens[%d].decimals out of range", i))
		}
	}

	checkBalances := func(field string, balances map[string]string) {
		for symbol, amount := range balances {
			token, ok := c.Token(symbol)
			if !ok {
				errors = append(errors, fmt.Sprintf("%s references unknown token %s", field, symbol))
				continue
			}
			if _, err := token.BaseUnits(amount); err != nil {
				errors = append(errors, fmt.Sprintf("%s: %v", field, err))
			}
		}
	}

	for i, v := range c.Venues {
		field := fmt.Sprintf("venues[%d]", i)
		t, ok := flashloan.ParseProviderType(v.Type)
		if !ok {
			errors = append(errors, fmt.Sprintf("%s.type %q is not a known venue", field, v.Type))
		}
		checkAddr(field+".address", v.Address, true)
		switch t {
		case flashloan.ProviderDyDx, flashloan.ProviderFortube, flashloan.ProviderEuler, flashloan.ProviderMultiplier:
			if ok {
				checkAddr(field+".holder", v.Holder, true)
			}
		}
		for j, p := range v.Pools {
			pfield := fmt.Sprintf("%s.pools[%d]", field, j)
			if p.Address != "" || v.Holder == "" {
				checkAddr(pfield+".address", p.Address, true)
			}
			if len(p.Tokens) == 0 {
				errors = append(errors, fmt.Sprintf("%s lists no tokens", pfield))
			}
			for _, symbol := range p.Tokens {
				if _, ok := c.Token(symbol); !ok {
					errors = append(errors, fmt.Sprintf("%s references unknown token %s", pfield, symbol))
				}
			}
			checkBalances(pfield+".balances", p.Balances)
		}
	}

	for i, a := range c.Accounts {
		if a.Name == "" {
			errors = append(errors, fmt.Sprintf("accounts[%d].name must be specified", i))
		}
		checkAddr(fmt.Sprintf("accounts[%d].address", i), a.Address, true)
		checkBalances(fmt.Sprintf("accounts[%d].balances", i), a.Balances)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second must not be negative")
	}
	if r.RequestsPerSecond > 0 && r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	return nil
}

// Parse decodes and validates a YAML scenario.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig reads the scenario at cfgFile, or the reference scenario when
// cfgFile is empty and no default file exists.
func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		if _, err := os.Stat(DefaultConfigFile); err != nil {
			return DefaultConfig(), nil
		}
		cfgFile = DefaultConfigFile
	}

	data, err := os.ReadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

func SaveConfig(cfg *Config, cfgFile string) error {
	if cfgFile == "" {
		cfgFile = DefaultConfigFile
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(cfgFile, data, 0o644)
}

// DefaultConfig is the reference scenario: two Uniswap v2 pairs holding
// 200,000 and 300,000 WETH wei behind an aggregator charging 0.5%.
func DefaultConfig() *Config {
	return &Config{
		Aggregator: AggregatorConfig{
			Address:        "0x00000000000000000000000000000000000000e1",
			Owner:          "0x00000000000000000000000000000000000000e2",
			FeeSink:        "0x00000000000000000000000000000000000000e3",
			MarginBps:      flashloan.DefaultMarginBps,
			QuoteCacheSize: 128,
		},
		Tokens: []TokenConfig{
			{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 0},
			{Symbol: "DAI", Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 0},
		},
		Venues: []VenueConfig{
			{
				Type:    flashloan.ProviderUniswapV2.String(),
				Address: "0x00000000000000000000000000000000000000c1",
				Pools: []PoolConfig{
					{
						Address:  "0x00000000000000000000000000000000000000d1",
						Tokens:   []string{"WETH", "DAI"},
						Balances: map[string]string{"WETH": "200000"},
					},
					{
						Address:  "0x00000000000000000000000000000000000000d2",
						Tokens:   []string{"WETH", "DAI"},
						Balances: map[string]string{"WETH": "300000"},
					},
				},
			},
		},
		Accounts: []AccountConfig{
			{
				Name:     "borrower",
				Address:  "0x00000000000000000000000000000000000000b1",
				Balances: map[string]string{"WETH": "2000"},
			},
		},
		Metrics: MetricsConfig{Namespace: "flashlender"},
	}
}
