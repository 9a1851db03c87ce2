// Package borrower provides an ERC-3156 style flash borrower that repays every
// loan it receives. It is the reference counterparty for the aggregator.
package borrower

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/ledger"
)

// Aggregator is the part of the aggregation engine a borrower drives.
type Aggregator interface {
	Address() common.Address
	AggregatorFee(amount *big.Int) (*big.Int, error)
	FlashLoanWithCheapestProvider(ctx context.Context, receiver flashloan.Borrower, token common.Address, amount *big.Int, data []byte) error
	FlashLoanWithManyProviders(ctx context.Context, receiver flashloan.Borrower, token common.Address, amount *big.Int, data []byte, providerCount int) error
}

// Callback records one OnFlashLoan invocation.
type Callback struct {
	Lender    common.Address
	Initiator common.Address
	Token     common.Address
	Amount    *big.Int
	Fee       *big.Int
	Data      []byte
}

// FlashBorrower approves each lender for amount plus fee and records the
// callbacks it receives.
type FlashBorrower struct {
	addr   common.Address
	ledger *ledger.Ledger
	logger *zap.Logger

	mu         sync.Mutex
	initiators map[common.Address]bool
	shortfall  *big.Int
	reenter    func(ctx context.Context) error
	callbacks  []Callback
}

// New creates a borrower at addr.
func New(addr common.Address, l *ledger.Ledger, logger *zap.Logger) (*FlashBorrower, error) {
	if !flashloan.ValidAddress(addr) {
		return nil, fmt.Errorf("%w: borrower", flashloan.ErrInvalidAddress)
	}
	if l == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &FlashBorrower{
		addr:       addr,
		ledger:     l,
		logger:     logger,
		initiators: make(map[common.Address]bool),
	}, nil
}

func (b *FlashBorrower) Address() common.Address {
	return b.addr
}

// TrustInitiator accepts loans started by initiator. With no trusted
// initiator every loan is accepted.
func (b *FlashBorrower) TrustInitiator(initiator common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initiators[initiator] = true
}

// SetShortfall makes the borrower approve shortfall less than it owes.
func (b *FlashBorrower) SetShortfall(shortfall *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shortfall = shortfall
}

// SetReentry runs fn from inside every callback before repayment.
func (b *FlashBorrower) SetReentry(fn func(ctx context.Context) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reenter = fn
}

// Callbacks returns the callbacks received so far.
func (b *FlashBorrower) Callbacks() []Callback {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Callback(nil), b.callbacks...)
}

func (b *FlashBorrower) OnFlashLoan(ctx context.Context, initiator, token common.Address, amount, fee *big.Int, data []byte) (common.Hash, error) {
	lender := flashloan.CallerFrom(ctx)

	b.mu.Lock()
	if len(b.initiators) > 0 && !b.initiators[initiator] {
		b.mu.Unlock()
		return common.Hash{}, fmt.Errorf("%w: untrusted initiator %s", flashloan.ErrNotAuthorized, initiator.Hex())
	}
	b.callbacks = append(b.callbacks, Callback{
		Lender:    lender,
		Initiator: initiator,
		Token:     token,
		Amount:    new(big.Int).Set(amount),
		Fee:       new(big.Int).Set(fee),
		Data:      append([]byte(nil), data...),
	})
	shortfall, reenter := b.shortfall, b.reenter
	b.mu.Unlock()

	if reenter != nil {
		if err := reenter(ctx); err != nil {
			return common.Hash{}, err
		}
	}

	owed := new(big.Int).Add(amount, fee)
	if shortfall != nil {
		owed.Sub(owed, shortfall)
		if owed.Sign() < 0 {
			owed.SetInt64(0)
		}
	}
	if err := b.ledger.Approve(token, b.addr, lender, owed); err != nil {
		return common.Hash{}, err
	}
	b.logger.Debug("Flash loan received",
		zap.String("lender", lender.Hex()),
		zap.String("token", token.Hex()),
		zap.String("amount", amount.String()),
		zap.String("fee", fee.String()))
	return flashloan.CallbackSuccess, nil
}

// approveMargin lets the aggregator pull its margin on amount.
func (b *FlashBorrower) approveMargin(agg Aggregator, token common.Address, amount *big.Int) error {
	margin, err := agg.AggregatorFee(amount)
	if err != nil {
		return err
	}
	return b.ledger.Approve(token, b.addr, agg.Address(), margin)
}

// FlashBorrow borrows amount from the aggregator's cheapest provider.
func (b *FlashBorrower) FlashBorrow(ctx context.Context, agg Aggregator, token common.Address, amount *big.Int, data []byte) error {
	if err := b.approveMargin(agg, token, amount); err != nil {
		return err
	}
	return agg.FlashLoanWithCheapestProvider(flashloan.WithCaller(ctx, b.addr), b, token, amount, data)
}

// FlashBorrowWithManyProviders borrows amount spread over up to
// providerCount providers.
func (b *FlashBorrower) FlashBorrowWithManyProviders(ctx context.Context, agg Aggregator, token common.Address, amount *big.Int, data []byte, providerCount int) error {
	if err := b.approveMargin(agg, token, amount); err != nil {
		return err
	}
	return agg.FlashLoanWithManyProviders(flashloan.WithCaller(ctx, b.addr), b, token, amount, data, providerCount)
}
