package fortube

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/flashloan/venue"
	"github.com/michaelpento.lv/flashlender/ledger"
)

// Provider lends the cash held by the ForTube bank controller for 9 bps.
type Provider struct {
	*venue.Lender
	bankController common.Address
	model          venue.FeeModel
}

// NewProvider creates a ForTube adapter over bankController.
func NewProvider(cfg venue.Config, bankController common.Address, l *ledger.Ledger, logger *zap.Logger) (*Provider, error) {
	if !flashloan.ValidAddress(bankController) {
		return nil, fmt.Errorf("%w: bank controller", flashloan.ErrInvalidAddress)
	}
	cfg.Type = flashloan.ProviderFortube
	cfg.Unsupported = venue.ReturnZero
	model, err := venue.ModelFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	lender, err := venue.NewLender(cfg, l, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create fortube lender: %w", err)
	}
	return &Provider{Lender: lender, bankController: bankController, model: model}, nil
}

// BankController returns the contract holding the cash.
func (p *Provider) BankController() common.Address {
	return p.bankController
}

// AddTokens lists tokens the bank lends. Owner only.
func (p *Provider) AddTokens(ctx context.Context, tokens ...common.Address) (int, error) {
	return p.AddHolderTokens(ctx, p.bankController, p.model, 0, tokens...)
}
