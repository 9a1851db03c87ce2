package flashloan

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ProviderType tags the venue behind a provider.
type ProviderType int

const (
	ProviderAaveV2 ProviderType = iota
	ProviderAaveV3
	ProviderDyDx
	ProviderUniswapV2
	ProviderUniswapV3
	ProviderMakerDAO
	ProviderSushiSwap
	ProviderSaddle
	ProviderDODO
	ProviderCreamFinance
	ProviderFortube
	ProviderEuler
	ProviderMultiplier
	ProviderCroDefiSwap
	ProviderPancakeswap
)

var providerNames = map[ProviderType]string{
	ProviderAaveV2:       "AaveV2",
	ProviderAaveV3:       "AaveV3",
	ProviderDyDx:         "dYdX",
	ProviderUniswapV2:    "UniswapV2",
	ProviderUniswapV3:    "UniswapV3",
	ProviderMakerDAO:     "MakerDAO",
	ProviderSushiSwap:    "SushiSwap",
	ProviderSaddle:       "SaddleFinance",
	ProviderDODO:         "DODO",
	ProviderCreamFinance: "CreamFinance",
	ProviderFortube:      "Fortube",
	ProviderEuler:        "Euler",
	ProviderMultiplier:   "Multiplier",
	ProviderCroDefiSwap:  "CroDefiSwap",
	ProviderPancakeswap:  "Pancakeswap",
}

func (t ProviderType) String() string {
	if name, ok := providerNames[t]; ok {
		return name
	}
	return "Unknown"
}

// ParseProviderType maps a venue name (case sensitive, as printed by String)
// back to its tag.
func ParseProviderType(name string) (ProviderType, bool) {
	for t, n := range providerNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// FlashLoanInfo is one row of a ranked provider list.
type FlashLoanInfo struct {
	Provider Provider
	MaxLoan  *big.Int
	FeeAtMax *big.Int
	// Rate is FeeAtMax scaled to 1e18 over MaxLoan. Ranking only.
	Rate *big.Int
}

var (
	ErrNoProviderFound           = errors.New("no provider found")
	ErrAmountExceedsMaxFlashLoan = errors.New("amount exceeds max flash loan")
	ErrUnsupportedCurrency       = errors.New("unsupported currency")
	ErrTransferFailed            = errors.New("transfer failed")
	ErrRepaymentInsufficient     = errors.New("repayment insufficient")
	ErrCallbackFailed            = errors.New("callback failed")
	ErrNotAuthorized             = errors.New("not authorized")
	ErrReentrancy                = errors.New("reentrancy guard")
	ErrInvalidAddress            = errors.New("invalid address")
	ErrLengthMismatch            = errors.New("mismatched lengths")
	ErrInvalidAmount             = errors.New("invalid amount")
)

// ValidAddress reports whether addr is a usable, non-zero identity.
func ValidAddress(addr common.Address) bool {
	return addr != (common.Address{})
}
