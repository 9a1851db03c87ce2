package simulator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/config"
	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/flashloan/aave"
	"github.com/michaelpento.lv/flashlender/flashloan/cream"
	"github.com/michaelpento.lv/flashlender/flashloan/crodefi"
	"github.com/michaelpento.lv/flashlender/flashloan/dodo"
	"github.com/michaelpento.lv/flashlender/flashloan/dydx"
	"github.com/michaelpento.lv/flashlender/flashloan/euler"
	"github.com/michaelpento.lv/flashlender/flashloan/fortube"
	"github.com/michaelpento.lv/flashlender/flashloan/maker"
	"github.com/michaelpento.lv/flashlender/flashloan/multiplier"
	"github.com/michaelpento.lv/flashlender/flashloan/pancake"
	"github.com/michaelpento.lv/flashlender/flashloan/saddle"
	"github.com/michaelpento.lv/flashlender/flashloan/sushiswap"
	"github.com/michaelpento.lv/flashlender/flashloan/uniswap"
	"github.com/michaelpento.lv/flashlender/flashloan/venue"
	"github.com/michaelpento.lv/flashlender/ledger"
)

// venueBuilder turns one venue entry into a funded, listed adapter.
type venueBuilder struct {
	cfg    *config.Config
	ledger *ledger.Ledger
	logger *zap.Logger
	reg    prometheus.Registerer
	admin  context.Context
}

// pairs splits two-token pools into the parallel slices pair venues take.
func (b *venueBuilder) pairs(v config.VenueConfig) (addrs, token0s, token1s []common.Address, err error) {
	for _, p := range v.Pools {
		if len(p.Tokens) != 2 {
			return nil, nil, nil, fmt.Errorf("%s pool %s must list exactly two tokens", v.Type, p.Address)
		}
		t0, t1 := b.token(p.Tokens[0]), b.token(p.Tokens[1])
		addrs = append(addrs, common.HexToAddress(p.Address))
		token0s = append(token0s, t0)
		token1s = append(token1s, t1)
	}
	return addrs, token0s, token1s, nil
}

// reserves splits single-token pools into holders and tokens.
func (b *venueBuilder) reserves(v config.VenueConfig) (holders, tokens []common.Address, err error) {
	for _, p := range v.Pools {
		if len(p.Tokens) != 1 {
			return nil, nil, fmt.Errorf("%s pool %s must list exactly one token", v.Type, p.Address)
		}
		holders = append(holders, common.HexToAddress(p.Address))
		tokens = append(tokens, b.token(p.Tokens[0]))
	}
	return holders, tokens, nil
}

// holderTokens collects every token listed under a single-holder venue.
func (b *venueBuilder) holderTokens(v config.VenueConfig) []common.Address {
	var tokens []common.Address
	seen := make(map[common.Address]bool)
	for _, p := range v.Pools {
		for _, symbol := range p.Tokens {
			t := b.token(symbol)
			if !seen[t] {
				seen[t] = true
				tokens = append(tokens, t)
			}
		}
	}
	return tokens
}

func (b *venueBuilder) token(symbol string) common.Address {
	t, _ := b.cfg.Token(symbol)
	return t.Addr()
}

func (b *venueBuilder) build(v config.VenueConfig) (flashloan.ManyPoolsProvider, *venue.Lender, error) {
	typ, ok := flashloan.ParseProviderType(v.Type)
	if !ok {
		return nil, nil, fmt.Errorf("unknown venue type %q", v.Type)
	}
	vc := venue.Config{
		Address:     common.HexToAddress(v.Address),
		Owner:       common.HexToAddress(b.cfg.Aggregator.Owner),
		Flashloaner: common.HexToAddress(b.cfg.Aggregator.Address),
		Registerer:  b.reg,
	}
	holder := common.HexToAddress(v.Holder)
	tuneFee := v.FeeParam != 0

	var (
		provider flashloan.ManyPoolsProvider
		lender   *venue.Lender
		err      error
	)
	switch typ {
	case flashloan.ProviderAaveV2, flashloan.ProviderAaveV3:
		version := aave.V2
		if typ == flashloan.ProviderAaveV3 {
			version = aave.V3
		}
		var p *aave.AaveProvider
		if p, err = aave.NewAaveProvider(version, vc, b.ledger, b.logger); err == nil {
			var aTokens, assets []common.Address
			if aTokens, assets, err = b.reserves(v); err == nil {
				_, err = p.AddReserves(b.admin, assets, aTokens)
			}
			provider, lender = p, p.Lender
		}
	case flashloan.ProviderDyDx:
		var p *dydx.Provider
		if p, err = dydx.NewProvider(vc, holder, b.ledger, b.logger); err == nil {
			_, err = p.AddMarkets(b.admin, b.holderTokens(v)...)
			provider, lender = p, p.Lender
		}
	case flashloan.ProviderUniswapV2:
		var p *uniswap.V2Provider
		if p, err = uniswap.NewV2Provider(vc, b.ledger, b.logger); err == nil {
			var pairs, t0, t1 []common.Address
			if pairs, t0, t1, err = b.pairs(v); err == nil {
				_, err = p.AddPairs(b.admin, pairs, t0, t1)
			}
			provider, lender = p, p.Lender
		}
	case flashloan.ProviderUniswapV3:
		tuneFee = false
		var p *uniswap.V3Provider
		if p, err = uniswap.NewV3Provider(vc, b.ledger, b.logger); err == nil {
			var pools, t0, t1 []common.Address
			if pools, t0, t1, err = b.pairs(v); err == nil {
				fees := make([]uint64, len(v.Pools))
				for i, pc := range v.Pools {
					fees[i] = pc.FeeTier
					if fees[i] == 0 {
						fees[i] = uniswap.FeeMedium
					}
				}
				_, err = p.AddFeePools(b.admin, pools, t0, t1, fees)
			}
			provider, lender = p, p.Lender
		}
	case flashloan.ProviderMakerDAO:
		tuneFee = false
		var p *maker.Provider
		if p, err = maker.NewProvider(vc, b.ledger, b.logger); err == nil {
			err = b.addFlashMints(p, v)
			provider, lender = p, p.Lender
		}
	case flashloan.ProviderSushiSwap:
		var p *sushiswap.Provider
		if p, err = sushiswap.NewProvider(vc, b.ledger, b.logger); err == nil {
			var pairs, t0, t1 []common.Address
			if pairs, t0, t1, err = b.pairs(v); err == nil {
				_, err = p.AddPairs(b.admin, pairs, t0, t1)
			}
			provider, lender = p, p.Lender
		}
	case flashloan.ProviderSaddle:
		var p *saddle.Provider
		if p, err = saddle.NewProvider(vc, b.ledger, b.logger); err == nil {
			pools := make([]common.Address, len(v.Pools))
			tokens := make([][]common.Address, len(v.Pools))
			for i, pc := range v.Pools {
				pools[i] = common.HexToAddress(pc.Address)
				for _, symbol := range pc.Tokens {
					tokens[i] = append(tokens[i], b.token(symbol))
				}
			}
			_, err = p.AddSwapPools(b.admin, pools, tokens)
			provider, lender = p, p.Lender
		}
	case flashloan.ProviderDODO:
		var p *dodo.Provider
		if p, err = dodo.NewProvider(vc, b.ledger, b.logger); err == nil {
			var pools, bases, quotes []common.Address
			if pools, bases, quotes, err = b.pairs(v); err == nil {
				_, err = p.AddDODOPools(b.admin, pools, bases, quotes)
			}
			provider, lender = p, p.Lender
		}
	case flashloan.ProviderCreamFinance:
		var p *cream.Provider
		if p, err = cream.NewProvider(vc, b.ledger, b.logger); err == nil {
			var crTokens, underlyings []common.Address
			if crTokens, underlyings, err = b.reserves(v); err == nil {
				_, err = p.AddCTokens(b.admin, crTokens, underlyings)
			}
			provider, lender = p, p.Lender
		}
	case flashloan.ProviderFortube:
		var p *fortube.Provider
		if p, err = fortube.NewProvider(vc, holder, b.ledger, b.logger); err == nil {
			_, err = p.AddTokens(b.admin, b.holderTokens(v)...)
			provider, lender = p, p.Lender
		}
	case flashloan.ProviderEuler:
		var p *euler.Provider
		if p, err = euler.NewProvider(vc, holder, b.ledger, b.logger); err == nil {
			_, err = p.AddTokens(b.admin, b.holderTokens(v)...)
			provider, lender = p, p.Lender
		}
	case flashloan.ProviderMultiplier:
		var p *multiplier.Provider
		if p, err = multiplier.NewProvider(vc, holder, b.ledger, b.logger); err == nil {
			_, err = p.AddTokens(b.admin, b.holderTokens(v)...)
			provider, lender = p, p.Lender
		}
	case flashloan.ProviderCroDefiSwap:
		tuneFee = false
		var p *crodefi.Provider
		if p, err = crodefi.NewProvider(vc, v.FeeParam, b.ledger, b.logger); err == nil {
			var pairs, t0, t1 []common.Address
			if pairs, t0, t1, err = b.pairs(v); err == nil {
				_, err = p.AddPairs(b.admin, pairs, t0, t1)
			}
			provider, lender = p, p.Lender
		}
	case flashloan.ProviderPancakeswap:
		var p *pancake.Provider
		if p, err = pancake.NewProvider(vc, b.ledger, b.logger); err == nil {
			var pairs, t0, t1 []common.Address
			if pairs, t0, t1, err = b.pairs(v); err == nil {
				_, err = p.AddPairs(b.admin, pairs, t0, t1)
			}
			provider, lender = p, p.Lender
		}
	default:
		return nil, nil, fmt.Errorf("venue type %s is not supported", typ)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build %s venue %s: %w", typ, v.Address, err)
	}

	if tuneFee {
		if err := lender.SetFeeParam(b.admin, v.FeeParam); err != nil {
			return nil, nil, err
		}
	}
	if err := b.fund(v, holder); err != nil {
		return nil, nil, err
	}
	return provider, lender, nil
}

func (b *venueBuilder) addFlashMints(p *maker.Provider, v config.VenueConfig) error {
	for _, pc := range v.Pools {
		if len(pc.Tokens) != 1 {
			return fmt.Errorf("flash mint %s must list exactly one token", pc.Address)
		}
		token, _ := b.cfg.Token(pc.Tokens[0])
		line := new(big.Int)
		if pc.Line != "" {
			var err error
			if line, err = token.BaseUnits(pc.Line); err != nil {
				return err
			}
		}
		if _, err := p.AddFlashMint(b.admin, common.HexToAddress(pc.Address), token.Addr(), line, v.FeeParam); err != nil {
			return err
		}
	}
	return nil
}

// fund mints each pool's configured balances to the pool, or to the venue
// holder for single-holder venues.
func (b *venueBuilder) fund(v config.VenueConfig, holder common.Address) error {
	for _, pc := range v.Pools {
		to := common.HexToAddress(pc.Address)
		if v.Holder != "" {
			to = holder
		}
		if err := mintBalances(b.cfg, b.ledger, to, pc.Balances); err != nil {
			return fmt.Errorf("failed to fund %s pool %s: %w", v.Type, to.Hex(), err)
		}
	}
	return nil
}

func mintBalances(cfg *config.Config, l *ledger.Ledger, to common.Address, balances map[string]string) error {
	for symbol, amount := range balances {
		token, ok := cfg.Token(symbol)
		if !ok {
			return fmt.Errorf("unknown token %s", symbol)
		}
		units, err := token.BaseUnits(amount)
		if err != nil {
			return err
		}
		if err := l.Mint(token.Addr(), to, units); err != nil {
			return err
		}
	}
	return nil
}
