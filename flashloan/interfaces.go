package flashloan

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Provider is one flash-loan venue behind the uniform lender interface.
type Provider interface {
	// MaxFlashLoan returns the liquidity a single loan can draw for token.
	MaxFlashLoan(ctx context.Context, token common.Address) (*big.Int, error)
	// FlashFee returns the exact fee charged for borrowing amount of token.
	FlashFee(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error)
	// FlashLoan lends amount to receiver, runs its callback and requires
	// amount plus fee back before returning.
	FlashLoan(ctx context.Context, receiver Borrower, token common.Address, amount *big.Int, data []byte) error
	Address() common.Address
	String() string
}

// ManyPoolsProvider is a venue that can spread one loan across its own pools.
type ManyPoolsProvider interface {
	Provider
	MaxFlashLoanWithManyPools(ctx context.Context, token common.Address) (*big.Int, error)
	FlashFeeWithManyPools(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error)
	FlashLoanWithManyPools(ctx context.Context, receiver Borrower, token common.Address, amount *big.Int, data []byte) error
}

// Borrower receives flash-loaned funds. The lender calling OnFlashLoan is
// available through CallerFrom(ctx).
type Borrower interface {
	Address() common.Address
	// OnFlashLoan must return CallbackSuccess after arranging repayment of
	// amount plus fee, typically by approving the lender.
	OnFlashLoan(ctx context.Context, initiator, token common.Address, amount, fee *big.Int, data []byte) (common.Hash, error)
}

// CallbackSuccess is the value a Borrower returns to accept a loan.
var CallbackSuccess = crypto.Keccak256Hash([]byte("ERC3156FlashBorrower.onFlashLoan"))
