package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "default scenario",
			mutate: func(*Config) {},
		},
		{
			name:    "missing owner",
			mutate:  func(c *Config) { c.Aggregator.Owner = "" },
			wantErr: "aggregator.owner must be specified",
		},
		{
			name:    "zero fee sink",
			mutate:  func(c *Config) { c.Aggregator.FeeSink = "0x0000000000000000000000000000000000000000" },
			wantErr: "aggregator.fee_sink",
		},
		{
			name:    "margin too high",
			mutate:  func(c *Config) { c.Aggregator.MarginBps = 10001 },
			wantErr: "margin_bps",
		},
		{
			name:    "burst required",
			mutate:  func(c *Config) { c.Aggregator.RateLimit.RequestsPerSecond = 10 },
			wantErr: "burst size must be positive",
		},
		{
			name:    "unknown venue",
			mutate:  func(c *Config) { c.Venues[0].Type = "Balancer" },
			wantErr: `venues[0].type "Balancer" is not a known venue`,
		},
		{
			name: "holder required",
			mutate: func(c *Config) {
				c.Venues[0].Type = "dYdX"
				c.Venues[0].Pools = nil
			},
			wantErr: "venues[0].holder must be specified",
		},
		{
			name:    "unknown pool token",
			mutate:  func(c *Config) { c.Venues[0].Pools[0].Tokens = []string{"WETH", "USDC"} },
			wantErr: "references unknown token USDC",
		},
		{
			name:    "bad balance",
			mutate:  func(c *Config) { c.Accounts[0].Balances["WETH"] = "-1" },
			wantErr: "negative WETH amount",
		},
		{
			name:    "duplicate token",
			mutate:  func(c *Config) { c.Tokens = append(c.Tokens, TokenConfig{Symbol: "weth", Address: "0x00000000000000000000000000000000000000a9"}) },
			wantErr: "listed twice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Aggregator.Address = ""
	cfg.Aggregator.MarginBps = 20000
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aggregator.address must be specified")
	assert.Contains(t, err.Error(), "margin_bps")
}

func TestTokenUnits(t *testing.T) {
	usdc := TokenConfig{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6}

	units, err := usdc.BaseUnits("1.5")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_500_000), units)
	assert.Equal(t, "1.5", usdc.Units(units))

	_, err = usdc.BaseUnits("0.0000001")
	assert.ErrorContains(t, err, "more than 6 decimals")
	_, err = usdc.BaseUnits("lots")
	assert.Error(t, err)

	weth := TokenConfig{Symbol: "WETH", Decimals: 18}
	units, err = weth.BaseUnits("2")
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000000", units.String())
}

func TestLoadSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	cfg := DefaultConfig()
	cfg.Aggregator.MarginBps = 25
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), loaded.Aggregator.MarginBps)
	assert.Equal(t, cfg.Venues, loaded.Venues)
	acct, ok := loaded.Account("borrower")
	require.True(t, ok)
	assert.Equal(t, "2000", acct.Balances["WETH"])

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("aggregator:\n  addres: typo\n"), 0o644))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "failed to decode config")
}

func TestEnv(t *testing.T) {
	t.Setenv(EnvConfigFile, "from-env.yaml")
	assert.Equal(t, "flag.yaml", ConfigFile("flag.yaml"))
	assert.Equal(t, "from-env.yaml", ConfigFile(""))

	t.Setenv(EnvDebug, "true")
	assert.True(t, DebugEnabled())
	t.Setenv(EnvDebug, "nope")
	assert.False(t, DebugEnabled())

	assert.Equal(t, "fallback", GetEnvWithDefault("FLASHLENDER_UNSET_FOR_TEST", "fallback"))
}
