package pancake

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/flashloan/venue"
	"github.com/michaelpento.lv/flashlender/ledger"
)

// Provider lends PancakeSwap pair reserves. The 0.25% swap fee makes the
// surcharge floor(amount*25/9975)+1.
type Provider struct {
	*venue.Lender
	model venue.FeeModel
}

// NewProvider creates a PancakeSwap adapter.
func NewProvider(cfg venue.Config, l *ledger.Ledger, logger *zap.Logger) (*Provider, error) {
	cfg.Type = flashloan.ProviderPancakeswap
	cfg.Unsupported = venue.ReturnZero
	model, err := venue.ModelFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	lender, err := venue.NewLender(cfg, l, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create pancakeswap lender: %w", err)
	}
	return &Provider{Lender: lender, model: model}, nil
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
