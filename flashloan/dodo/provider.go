package dodo

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/flashloan/venue"
	"github.com/michaelpento.lv/flashlender/ledger"
)

// Provider lends DODO pool balances minus one unit, free of charge.
type Provider struct {
	*venue.Lender
	model venue.FeeModel
}

// NewProvider creates a DODO adapter.
func NewProvider(cfg venue.Config, l *ledger.Ledger, logger *zap.Logger) (*Provider, error) {
	cfg.Type = flashloan.ProviderDODO
	cfg.Unsupported = venue.ReturnZero
	model, err := venue.ModelFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	lender, err := venue.NewLender(cfg, l, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create dodo lender: %w", err)
	}
	return &Provider{Lender: lender, model: model}, nil
}

// AddDODOPools lists pools: pools[i] holds bases[i] and quotes[i]. Owner
// only.
func (p *Provider) AddDODOPools(ctx context.Context, pools, bases, quotes []common.Address) (int, error) {
	listed, err := venue.NewPairs(p.Ledger(), p.model, 1, pools, bases, quotes)
	if err != nil {
		return 0, err
	}
	return p.AddPools(ctx, listed...)
}
