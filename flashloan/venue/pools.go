package venue

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/ledger"
)

// NewPairs builds two-token pools: pairs[i] holds token0s[i] and token1s[i].
func NewPairs(l *ledger.Ledger, model FeeModel, buffer int64, pairs, token0s, token1s []common.Address) ([]Pool, error) {
	if len(pairs) != len(token0s) || len(pairs) != len(token1s) {
		return nil, fmt.Errorf("%w: %d pairs, %d token0s, %d token1s",
			flashloan.ErrLengthMismatch, len(pairs), len(token0s), len(token1s))
	}
	pools := make([]Pool, 0, len(pairs))
	for i := range pairs {
		p, err := NewBalancePool(PoolSpec{
			Address: pairs[i],
			Tokens:  []common.Address{token0s[i], token1s[i]},
			Buffer:  buffer,
			Model:   model,
		}, l)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, nil
}

// NewReserves builds single-token pools: holders[i] holds tokens[i].
func NewReserves(l *ledger.Ledger, model FeeModel, buffer int64, holders, tokens []common.Address) ([]Pool, error) {
	if len(holders) != len(tokens) {
		return nil, fmt.Errorf("%w: %d holders, %d tokens", flashloan.ErrLengthMismatch, len(holders), len(tokens))
	}
	pools := make([]Pool, 0, len(holders))
	for i := range holders {
		p, err := NewBalancePool(PoolSpec{
			Address: holders[i],
			Tokens:  []common.Address{tokens[i]},
			Buffer:  buffer,
			Model:   model,
		}, l)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, nil
}

// Pool returns the pool at addr.
func (l *Lender) Pool(addr common.Address) (Pool, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[addr]
	if !ok {
		return nil, false
	}
	return l.pools[i], true
}

// AddHolderTokens lists tokens held by a single venue contract such as a
// solo margin or a bank controller, creating its pool on first use. Owner
// only. It returns the number of newly listed tokens.
func (l *Lender) AddHolderTokens(ctx context.Context, holder common.Address, model FeeModel, buffer int64, tokens ...common.Address) (int, error) {
	if err := flashloan.RequireCaller(ctx, l.owner); err != nil {
		return 0, err
	}
	existing, ok := l.Pool(holder)
	if !ok {
		p, err := NewBalancePool(PoolSpec{Address: holder, Buffer: buffer, Model: model}, l.ledger)
		if err != nil {
			return 0, err
		}
		if _, err := l.AddPools(ctx, p); err != nil {
			return 0, err
		}
		existing = p
	}
	bp, ok := existing.(*BalancePool)
	if !ok {
		return 0, fmt.Errorf("pool %s does not accept tokens", holder.Hex())
	}
	added, err := bp.AddTokens(tokens...)
	if err != nil {
		return 0, err
	}
	if added > 0 {
		l.ledger.Touch()
	}
	return added, nil
}

// SetFeeParam changes the fee parameter of every pool that has one. Owner
// only.
func (l *Lender) SetFeeParam(ctx context.Context, param uint64) error {
	if err := flashloan.RequireCaller(ctx, l.owner); err != nil {
		return err
	}
	for _, p := range l.Pools() {
		if ps, ok := p.(interface{ SetParam(uint64) }); ok {
			ps.SetParam(param)
		}
	}
	l.ledger.Touch()
	return nil
}
