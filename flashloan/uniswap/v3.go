package uniswap

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/flashloan/venue"
	"github.com/michaelpento.lv/flashlender/ledger"
)

// Fee tiers in hundredths of a bip.
const (
	FeeLowest uint64 = 100
	FeeLow    uint64 = 500
	FeeMedium uint64 = 3000
	FeeHigh   uint64 = 10000
)

var validTiers = map[uint64]bool{FeeLowest: true, FeeLow: true, FeeMedium: true, FeeHigh: true}

// V3Provider lends pool balances minus one unit. Each pool charges its own
// fee tier, rounded up.
type V3Provider struct {
	*venue.Lender
}

// NewV3Provider creates a Uniswap v3 adapter.
func NewV3Provider(cfg venue.Config, l *ledger.Ledger, logger *zap.Logger) (*V3Provider, error) {
	cfg.Type = flashloan.ProviderUniswapV3
	cfg.Unsupported = venue.ReturnZero
	lender, err := venue.NewLender(cfg, l, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create uniswap v3 lender: %w", err)
	}
	return &V3Provider{Lender: lender}, nil
}

// AddFeePools lists pools: pools[i] trades token0s[i] against token1s[i] at
// fee tier fees[i]. Owner only.
func (p *V3Provider) AddFeePools(ctx context.Context, pools, token0s, token1s []common.Address, fees []uint64) (int, error) {
	if len(fees) != len(pools) || len(token0s) != len(pools) || len(token1s) != len(pools) {
		return 0, fmt.Errorf("%w: %d pools, %d token0s, %d token1s, %d fees",
			flashloan.ErrLengthMismatch, len(pools), len(token0s), len(token1s), len(fees))
	}
	listed := make([]venue.Pool, 0, len(pools))
	for i, tier := range fees {
		if !validTiers[tier] {
			return 0, fmt.Errorf("invalid fee tier %d for pool %s", tier, pools[i].Hex())
		}
		built, err := venue.NewPairs(p.Ledger(), venue.FeeModel{Formula: venue.TierRoundingUp, Param: tier}, 1,
			pools[i:i+1], token0s[i:i+1], token1s[i:i+1])
		if err != nil {
			return 0, err
		}
		listed = append(listed, built...)
	}
	return p.AddPools(ctx, listed...)
}
