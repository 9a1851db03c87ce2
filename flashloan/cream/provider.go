package cream

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/flashloan/venue"
	"github.com/michaelpento.lv/flashlender/ledger"
)

// Provider lends the cash of Cream crTokens for 3 bps.
type Provider struct {
	*venue.Lender
	model venue.FeeModel
}

// NewProvider creates a Cream Finance adapter.
func NewProvider(cfg venue.Config, l *ledger.Ledger, logger *zap.Logger) (*Provider, error) {
	cfg.Type = flashloan.ProviderCreamFinance
	cfg.Unsupported = venue.ReturnZero
	model, err := venue.ModelFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	lender, err := venue.NewLender(cfg, l, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create cream lender: %w", err)
	}
	return &Provider{Lender: lender, model: model}, nil
}

// AddCTokens lists markets: crTokens[i] holds underlyings[i]. Owner only.
func (p *Provider) AddCTokens(ctx context.Context, crTokens, underlyings []common.Address) (int, error) {
	pools, err := venue.NewReserves(p.Ledger(), p.model, 0, crTokens, underlyings)
	if err != nil {
		return 0, err
	}
	return p.AddPools(ctx, pools...)
}
