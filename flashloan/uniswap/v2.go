// Package uniswap adapts Uniswap v2 pairs and v3 pools to the flash-loan
// provider interface.
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

// V2Provider lends pair reserves through flash swaps. A pair can never be
// drained, so one unit of each reserve stays behind, and repayment carries
// the floor(amount*3/997)+1 surcharge that keeps the constant product whole.
type V2Provider struct {
	*venue.Lender
	model venue.FeeModel
}

// NewV2Provider creates a Uniswap v2 adapter.
func NewV2Provider(cfg venue.Config, l *ledger.Ledger, logger *zap.Logger) (*V2Provider, error) {
	cfg.Type = flashloan.ProviderUniswapV2
	cfg.Unsupported = venue.ReturnZero
	model, err := venue.ModelFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	lender, err := venue.NewLender(cfg, l, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create uniswap v2 lender: %w", err)
	}
	return &V2Provider{Lender: lender, model: model}, nil
}

// AddPairs lists pairs: pairs[i] trades token0s[i] against token1s[i]. Owner
// only.
func (p *V2Provider) AddPairs(ctx context.Context, pairs, token0s, token1s []common.Address) (int, error) {
	pools, err := venue.NewPairs(p.Ledger(), p.model, 1, pairs, token0s, token1s)
	if err != nil {
		return 0, err
	}
	return p.AddPools(ctx, pools...)
}
