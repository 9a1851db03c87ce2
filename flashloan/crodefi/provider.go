package crodefi

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/flashloan/venue"
	"github.com/michaelpento.lv/flashlender/ledger"
)

// Provider lends Crypto.com DeFi Swap pair reserves. The factory fee rate is
// in bps and the surcharge is floor(amount*fee/(10000-fee))+1.
type Provider struct {
	*venue.Lender
	model venue.FeeModel
}

// NewProvider creates a CroDefiSwap adapter. A zero feeBps uses the factory
// default of 30.
func NewProvider(cfg venue.Config, feeBps uint64, l *ledger.Ledger, logger *zap.Logger) (*Provider, error) {
	cfg.Type = flashloan.ProviderCroDefiSwap
	cfg.Unsupported = venue.ReturnZero
	model, err := venue.ModelFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	if feeBps != 0 {
		if feeBps >= 10000 {
			return nil, fmt.Errorf("fee rate %d bps out of range", feeBps)
		}
		model.Param = feeBps
	}
	lender, err := venue.NewLender(cfg, l, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create crodefi lender: %w", err)
	}
	return &Provider{Lender: lender, model: model}, nil
}

// FeeRate returns the fee rate new pairs are listed with, in bps.
func (p *Provider) FeeRate() uint64 {
	return p.model.Param
}

// AddPairs lists pairs: pairs[i] trades token0s[i] against token1s[i]. Owner
// only.
func (p *Provider) AddPairs(ctx context.Context, pairs, token0s, token1s []common.Address) (int, error) {
	pools, err := venue.NewPairs(p.Ledger(), p.model, 1, pairs, token0s, token1s)
	if err != nil {
		return 0, err
	}
	return p.AddPools(ctx, pools...)
}
