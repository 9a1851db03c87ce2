// Package maker adapts the MakerDAO flash mint module. The loan is minted
// rather than lent from reserves, capped by a debt ceiling, and the module
// refuses nested mints.
package maker

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/flashloan/venue"
	"github.com/michaelpento.lv/flashlender/ledger"
)

// FlashMint is the mint module for one stablecoin. Line is the most a single
// loan can mint and Toll the wad-scaled fee rate.
type FlashMint struct {
	addr  common.Address
	token common.Address

	mu   sync.RWMutex
	line *big.Int
	toll uint64
}

// NewFlashMint creates a mint module lending up to line of token.
func NewFlashMint(addr, token common.Address, line *big.Int, toll uint64) (*FlashMint, error) {
	if !flashloan.ValidAddress(addr) || !flashloan.ValidAddress(token) {
		return nil, fmt.Errorf("%w: flash mint", flashloan.ErrInvalidAddress)
	}
	if line == nil || line.Sign() < 0 {
		return nil, fmt.Errorf("invalid line %v", line)
	}
	return &FlashMint{addr: addr, token: token, line: new(big.Int).Set(line), toll: toll}, nil
}

func (m *FlashMint) Address() common.Address            { return m.addr }
func (m *FlashMint) Supports(token common.Address) bool { return token == m.token }
func (m *FlashMint) Mints() bool                        { return true }

func (m *FlashMint) MaxFlashLoan(token common.Address) (*big.Int, error) {
	if !m.Supports(token) {
		return nil, fmt.Errorf("%w: %s", flashloan.ErrUnsupportedCurrency, token.Hex())
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.line), nil
}

func (m *FlashMint) FlashFee(token common.Address, amount *big.Int) (*big.Int, error) {
	if !m.Supports(token) {
		return nil, fmt.Errorf("%w: %s", flashloan.ErrUnsupportedCurrency, token.Hex())
	}
	m.mu.RLock()
	toll := m.toll
	m.mu.RUnlock()
	return venue.Toll(amount, toll)
}

// SetParam changes the toll.
func (m *FlashMint) SetParam(toll uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toll = toll
}

func (m *FlashMint) setLine(line *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.line = new(big.Int).Set(line)
}

// Provider lends minted stablecoins. Tokens without a mint module fail with
// ErrUnsupportedCurrency.
type Provider struct {
	*venue.Lender
}

// NewProvider creates a MakerDAO adapter.
func NewProvider(cfg venue.Config, l *ledger.Ledger, logger *zap.Logger) (*Provider, error) {
	cfg.Type = flashloan.ProviderMakerDAO
	cfg.Unsupported = venue.Revert
	cfg.Guarded = true
	lender, err := venue.NewLender(cfg, l, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create maker lender: %w", err)
	}
	return &Provider{Lender: lender}, nil
}

// AddFlashMint lists a mint module. Owner only.
func (p *Provider) AddFlashMint(ctx context.Context, addr, token common.Address, line *big.Int, toll uint64) (int, error) {
	mint, err := NewFlashMint(addr, token, line, toll)
	if err != nil {
		return 0, err
	}
	return p.AddPools(ctx, mint)
}

// SetLine changes the debt ceiling of the mint module at addr. Owner only.
func (p *Provider) SetLine(ctx context.Context, addr common.Address, line *big.Int) error {
	if err := flashloan.RequireCaller(ctx, p.Owner()); err != nil {
		return err
	}
	if line == nil || line.Sign() < 0 {
		return fmt.Errorf("invalid line %v", line)
	}
	pool, ok := p.Pool(addr)
	if !ok {
		return fmt.Errorf("%w: no flash mint at %s", flashloan.ErrInvalidAddress, addr.Hex())
	}
	mint, ok := pool.(*FlashMint)
	if !ok {
		return fmt.Errorf("pool %s is not a flash mint", addr.Hex())
	}
	mint.setLine(line)
	p.Ledger().Touch()
	return nil
}

// SetToll changes the fee rate of every mint module. Owner only.
func (p *Provider) SetToll(ctx context.Context, toll uint64) error {
	return p.SetFeeParam(ctx, toll)
}
