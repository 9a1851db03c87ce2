package saddle

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/flashloan/venue"
	"github.com/michaelpento.lv/flashlender/ledger"
)

// Provider lends the balances of Saddle swap pools for flashLoanFeeBPS
// (8 by default).
type Provider struct {
	*venue.Lender
	model venue.FeeModel
}

// NewProvider creates a Saddle adapter.
func NewProvider(cfg venue.Config, l *ledger.Ledger, logger *zap.Logger) (*Provider, error) {
	cfg.Type = flashloan.ProviderSaddle
	cfg.Unsupported = venue.ReturnZero
	model, err := venue.ModelFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	lender, err := venue.NewLender(cfg, l, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create saddle lender: %w", err)
	}
	return &Provider{Lender: lender, model: model}, nil
}

// AddSwapPools lists swap pools: pools[i] holds every token in tokens[i].
// Owner only.
func (p *Provider) AddSwapPools(ctx context.Context, pools []common.Address, tokens [][]common.Address) (int, error) {
	if len(pools) != len(tokens) {
		return 0, fmt.Errorf("%w: %d pools, %d token lists", flashloan.ErrLengthMismatch, len(pools), len(tokens))
	}
	listed := make([]venue.Pool, 0, len(pools))
	for i := range pools {
		if len(tokens[i]) == 0 {
			return 0, fmt.Errorf("swap pool %s lists no tokens", pools[i].Hex())
		}
		pool, err := venue.NewBalancePool(venue.PoolSpec{Address: pools[i], Tokens: tokens[i], Model: p.model}, p.Ledger())
		if err != nil {
			return 0, err
		}
		listed = append(listed, pool)
	}
	return p.AddPools(ctx, listed...)
}

// SetFlashLoanFeeBPS changes the fee of every listed pool. Owner only.
func (p *Provider) SetFlashLoanFeeBPS(ctx context.Context, bps uint64) error {
	if bps > 10000 {
		return fmt.Errorf("fee %d bps out of range", bps)
	}
	return p.SetFeeParam(ctx, bps)
}
