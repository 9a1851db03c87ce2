package flashloan

import (
	"fmt"
	"math/big"
	"sort"

	fmath "github.com/michaelpento.lv/flashlender/utils/math"
)

// Cheaper reports whether a source with (rateA, maxA) ranks before one with
// (rateB, maxB): lower effective rate first, deeper liquidity on ties.
func Cheaper(rateA, maxA, rateB, maxB *big.Int) bool {
	if c := rateA.Cmp(rateB); c != 0 {
		return c < 0
	}
	return maxA.Cmp(maxB) > 0
}

// SortInfos ranks infos in place. Sources with identical keys keep their
// input order, so repeated rankings of unchanged state are identical.
func SortInfos(infos []FlashLoanInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		return Cheaper(infos[i].Rate, infos[i].MaxLoan, infos[j].Rate, infos[j].MaxLoan)
	})
}

// NewFlashLoanInfo builds a ranking row for a source with the given capacity
// and fee at that capacity.
func NewFlashLoanInfo(p Provider, maxLoan, feeAtMax *big.Int) (FlashLoanInfo, error) {
	rate, err := fmath.EffectiveRate(feeAtMax, maxLoan)
	if err != nil {
		return FlashLoanInfo{}, fmt.Errorf("effective rate: %w", err)
	}
	return FlashLoanInfo{
		Provider: p,
		MaxLoan:  maxLoan,
		FeeAtMax: feeAtMax,
		Rate:     rate,
	}, nil
}

// Draw is one leg of a composed loan.
type Draw[T any] struct {
	Source T
	Amount *big.Int
}

// Fill walks ranked sources and draws min(remaining, capacity) from each until
// amount is covered. limit bounds the number of legs; zero or less means no
// bound. It fails with ErrAmountExceedsMaxFlashLoan when all sources together
// cannot cover amount, and with ErrNoProviderFound when limit is hit first.
func Fill[T any](ranked []T, capacity func(T) *big.Int, amount *big.Int, limit int) ([]Draw[T], error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	total := new(big.Int)
	for _, src := range ranked {
		total.Add(total, capacity(src))
	}
	if total.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: requested %s, available %s", ErrAmountExceedsMaxFlashLoan, amount, total)
	}

	remaining := new(big.Int).Set(amount)
	var draws []Draw[T]
	for _, src := range ranked {
		if remaining.Sign() == 0 {
			break
		}
		c := capacity(src)
		if c.Sign() <= 0 {
			continue
		}
		if limit > 0 && len(draws) == limit {
			return nil, fmt.Errorf("%w: %d providers cannot cover %s", ErrNoProviderFound, limit, amount)
		}
		take := fmath.Min(remaining, c)
		draws = append(draws, Draw[T]{Source: src, Amount: take})
		remaining.Sub(remaining, take)
	}
	return draws, nil
}
