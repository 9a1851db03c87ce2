package dydx

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/flashloan/venue"
	"github.com/michaelpento.lv/flashlender/ledger"
)

// Provider lends the balances of the dYdX solo margin contract for a flat
// fee of 2 wei. Tokens without a market fail with ErrUnsupportedCurrency.
type Provider struct {
	*venue.Lender
	soloMargin common.Address
	model      venue.FeeModel
}

// NewProvider creates a dYdX adapter over soloMargin.
func NewProvider(cfg venue.Config, soloMargin common.Address, l *ledger.Ledger, logger *zap.Logger) (*Provider, error) {
	if !flashloan.ValidAddress(soloMargin) {
		return nil, fmt.Errorf("%w: solo margin", flashloan.ErrInvalidAddress)
	}
	cfg.Type = flashloan.ProviderDyDx
	cfg.Unsupported = venue.Revert

	model, err := venue.ModelFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	lender, err := venue.NewLender(cfg, l, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create dydx lender: %w", err)
	}
	return &Provider{Lender: lender, soloMargin: soloMargin, model: model}, nil
}

// SoloMargin returns the contract holding market liquidity.
func (p *Provider) SoloMargin() common.Address {
	return p.soloMargin
}

// AddMarkets lists the tokens the solo margin lends. Owner only.
func (p *Provider) AddMarkets(ctx context.Context, tokens ...common.Address) (int, error) {
	return p.AddHolderTokens(ctx, p.soloMargin, p.model, 0, tokens...)
}
