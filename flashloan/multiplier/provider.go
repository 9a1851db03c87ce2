package multiplier

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/flashloan/venue"
	"github.com/michaelpento.lv/flashlender/ledger"
)

// Provider lends the balances of the Multiplier lending pool core, 9 bps by
// default.
type Provider struct {
	*venue.Lender
	core  common.Address
	model venue.FeeModel
}

// NewProvider creates a Multiplier adapter over core.
func NewProvider(cfg venue.Config, core common.Address, l *ledger.Ledger, logger *zap.Logger) (*Provider, error) {
	if !flashloan.ValidAddress(core) {
		return nil, fmt.Errorf("%w: lending pool core", flashloan.ErrInvalidAddress)
	}
	cfg.Type = flashloan.ProviderMultiplier
	cfg.Unsupported = venue.ReturnZero
	model, err := venue.ModelFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	lender, err := venue.NewLender(cfg, l, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create multiplier lender: %w", err)
	}
	return &Provider{Lender: lender, core: core, model: model}, nil
}

// Core returns the contract holding the reserves.
func (p *Provider) Core() common.Address {
	return p.core
}

// AddTokens lists tokens the core lends. Owner only.
func (p *Provider) AddTokens(ctx context.Context, tokens ...common.Address) (int, error) {
	return p.AddHolderTokens(ctx, p.core, p.model, 0, tokens...)
}

// SetFeeBps changes the flash loan fee. Owner only.
func (p *Provider) SetFeeBps(ctx context.Context, bps uint64) error {
	if bps > 10000 {
		return fmt.Errorf("fee %d bps out of range", bps)
	}
	return p.SetFeeParam(ctx, bps)
}
