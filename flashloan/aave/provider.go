package aave

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/flashloan/venue"
	"github.com/michaelpento.lv/flashlender/ledger"
)

// Version selects the lending pool generation and with it the premium rule.
type Version int

const (
	V2 Version = 2
	V3 Version = 3
)

// AaveProvider lends the liquidity Aave reserves keep in their aTokens. V2
// charges a floored 9 bps premium, V3 a 5 bps premium rounded half up.
// Unknown assets report zero liquidity.
type AaveProvider struct {
	*venue.Lender
	version Version
	model   venue.FeeModel
}

// NewAaveProvider creates an Aave adapter of the given version.
func NewAaveProvider(version Version, cfg venue.Config, l *ledger.Ledger, logger *zap.Logger) (*AaveProvider, error) {
	switch version {
	case V2:
		cfg.Type = flashloan.ProviderAaveV2
	case V3:
		cfg.Type = flashloan.ProviderAaveV3
	default:
		return nil, fmt.Errorf("unsupported aave version %d", version)
	}
	cfg.Unsupported = venue.ReturnZero

	model, err := venue.ModelFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	lender, err := venue.NewLender(cfg, l, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create aave v%d lender: %w", version, err)
	}
	return &AaveProvider{Lender: lender, version: version, model: model}, nil
}

// Version returns the pool generation.
func (p *AaveProvider) Version() Version {
	return p.version
}

// AddReserves lists reserves: assets[i] is lent from the balance aTokens[i]
// holds. Owner only.
func (p *AaveProvider) AddReserves(ctx context.Context, assets, aTokens []common.Address) (int, error) {
	pools, err := venue.NewReserves(p.Ledger(), p.model, 0, aTokens, assets)
	if err != nil {
		return 0, err
	}
	return p.AddPools(ctx, pools...)
}

// SetPremium changes the flash loan premium of every reserve, in bps. Owner
// only.
func (p *AaveProvider) SetPremium(ctx context.Context, bps uint64) error {
	return p.SetFeeParam(ctx, bps)
}
