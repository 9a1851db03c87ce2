package venue

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/ledger"
	fmath "github.com/michaelpento.lv/flashlender/utils/math"
)

// Pool is one liquidity source inside a venue: an AMM pair, a lending
// reserve, a money market.
type Pool interface {
	Address() common.Address
	Supports(token common.Address) bool
	MaxFlashLoan(token common.Address) (*big.Int, error)
	FlashFee(token common.Address, amount *big.Int) (*big.Int, error)
}

// Minter is a pool that creates the loan instead of lending reserves. The
// lender mints the principal to the borrower and burns it on repayment.
type Minter interface {
	Pool
	Mints() bool
}

// PoolSpec describes a BalancePool.
type PoolSpec struct {
	Address common.Address
	Tokens  []common.Address
	// Buffer is the part of the balance that can never be lent, 1 for AMMs
	// that cannot be fully drained.
	Buffer int64
	Model  FeeModel
}

// BalancePool lends its own ledger balance of the tokens it lists.
type BalancePool struct {
	addr   common.Address
	ledger *ledger.Ledger
	buffer *big.Int

	mu     sync.RWMutex
	model  FeeModel
	tokens map[common.Address]bool
}

// NewBalancePool validates ps and binds it to l.
func NewBalancePool(ps PoolSpec, l *ledger.Ledger) (*BalancePool, error) {
	if !flashloan.ValidAddress(ps.Address) {
		return nil, fmt.Errorf("%w: pool", flashloan.ErrInvalidAddress)
	}
	if ps.Model.Formula == nil {
		return nil, fmt.Errorf("pool %s has no fee formula", ps.Address.Hex())
	}
	if ps.Buffer < 0 {
		return nil, fmt.Errorf("pool %s has negative buffer", ps.Address.Hex())
	}
	p := &BalancePool{
		addr:   ps.Address,
		tokens: make(map[common.Address]bool, len(ps.Tokens)),
		ledger: l,
		buffer: big.NewInt(ps.Buffer),
		model:  ps.Model,
	}
	if _, err := p.AddTokens(ps.Tokens...); err != nil {
		return nil, err
	}
	return p, nil
}

// AddTokens lists more tokens and returns how many were new.
func (p *BalancePool) AddTokens(tokens ...common.Address) (int, error) {
	for _, t := range tokens {
		if !flashloan.ValidAddress(t) {
			return 0, fmt.Errorf("%w: token of pool %s", flashloan.ErrInvalidAddress, p.addr.Hex())
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	added := 0
	for _, t := range tokens {
		if !p.tokens[t] {
			p.tokens[t] = true
			added++
		}
	}
	return added, nil
}

func (p *BalancePool) Address() common.Address {
	return p.addr
}

func (p *BalancePool) Supports(token common.Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tokens[token]
}

// Tokens lists the pool's tokens in no particular order.
func (p *BalancePool) Tokens() []common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]common.Address, 0, len(p.tokens))
	for t := range p.tokens {
		out = append(out, t)
	}
	return out
}

func (p *BalancePool) MaxFlashLoan(token common.Address) (*big.Int, error) {
	if !p.Supports(token) {
		return new(big.Int), nil
	}
	return fmath.SubFloor(p.ledger.BalanceOf(token, p.addr), p.buffer), nil
}

func (p *BalancePool) FlashFee(token common.Address, amount *big.Int) (*big.Int, error) {
	if !p.Supports(token) {
		return nil, fmt.Errorf("%w: %s in pool %s", flashloan.ErrUnsupportedCurrency, token.Hex(), p.addr.Hex())
	}
	p.mu.RLock()
	model := p.model
	p.mu.RUnlock()
	return model.Fee(amount)
}

// Param returns the fee parameter in force.
func (p *BalancePool) Param() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model.Param
}

// SetParam changes the fee parameter. Callers must Touch the ledger so cached
// quotes are dropped.
func (p *BalancePool) SetParam(param uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model.Param = param
}
