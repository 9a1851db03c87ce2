package euler

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/flashloan/venue"
	"github.com/michaelpento.lv/flashlender/ledger"
)

// Provider lends the balances of the Euler module for free. Tokens without a
// market fail with ErrUnsupportedCurrency.
type Provider struct {
	*venue.Lender
	module common.Address
	model  venue.FeeModel
}

// NewProvider creates an Euler adapter over module.
func NewProvider(cfg venue.Config, module common.Address, l *ledger.Ledger, logger *zap.Logger) (*Provider, error) {
	if !flashloan.ValidAddress(module) {
		return nil, fmt.Errorf("%w: euler module", flashloan.ErrInvalidAddress)
	}
	cfg.Type = flashloan.ProviderEuler
	cfg.Unsupported = venue.Revert
	model, err := venue.ModelFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	lender, err := venue.NewLender(cfg, l, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create euler lender: %w", err)
	}
	return &Provider{Lender: lender, module: module, model: model}, nil
}

// Module returns the contract holding market balances.
func (p *Provider) Module() common.Address {
	return p.module
}

// AddTokens lists tokens the module lends. Owner only.
func (p *Provider) AddTokens(ctx context.Context, tokens ...common.Address) (int, error) {
	return p.AddHolderTokens(ctx, p.module, p.model, 0, tokens...)
}
