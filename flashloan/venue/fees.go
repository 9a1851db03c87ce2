package venue

import (
	"fmt"
	"math/big"

	"github.com/michaelpento.lv/flashlender/flashloan"
	fmath "github.com/michaelpento.lv/flashlender/utils/math"
)

// FeeFormula computes a venue fee for amount given one venue parameter: a fee
// tier, a bps rate, a toll or a flat charge.
type FeeFormula func(amount *big.Int, param uint64) (*big.Int, error)

// FeeModel is a formula with the parameter the venue ships with.
type FeeModel struct {
	Formula FeeFormula
	Param   uint64
}

// Fee applies the model with its default parameter.
func (m FeeModel) Fee(amount *big.Int) (*big.Int, error) {
	return m.Formula(amount, m.Param)
}

var (
	uniV3Denominator = big.NewInt(1_000_000)
)

// Bps charges floor(amount*param/10000).
func Bps(amount *big.Int, param uint64) (*big.Int, error) {
	return fmath.BpsFee(amount, param)
}

// PercentMul charges Aave v3's half-up rounded percentage.
func PercentMul(amount *big.Int, param uint64) (*big.Int, error) {
	return fmath.PercentMul(amount, param)
}

// ConstantProduct returns a formula charging floor(amount*param/(scale-param))+1,
// the surcharge a constant-product pair with a param/scale swap fee needs.
func ConstantProduct(scale uint64) FeeFormula {
	return func(amount *big.Int, param uint64) (*big.Int, error) {
		if param >= scale {
			return nil, fmt.Errorf("fee %d out of range for scale %d", param, scale)
		}
		return fmath.ConstantProductFee(amount, param, scale-param)
	}
}

// TierRoundingUp charges ceil(amount*param/1e6) for a Uniswap v3 fee tier.
func TierRoundingUp(amount *big.Int, param uint64) (*big.Int, error) {
	return fmath.MulDivRoundingUp(amount, new(big.Int).SetUint64(param), uniV3Denominator)
}

// Toll charges floor(amount*param/1e18) for a wad-scaled toll.
func Toll(amount *big.Int, param uint64) (*big.Int, error) {
	return fmath.MulDiv(amount, new(big.Int).SetUint64(param), fmath.Precision)
}

// Flat charges param regardless of amount.
func Flat(_ *big.Int, param uint64) (*big.Int, error) {
	return new(big.Int).SetUint64(param), nil
}

// Free charges nothing.
func Free(_ *big.Int, _ uint64) (*big.Int, error) {
	return new(big.Int), nil
}

// Models holds every venue's fee formula and default parameter.
var Models = map[flashloan.ProviderType]FeeModel{
	flashloan.ProviderAaveV2:       {Bps, 9},
	flashloan.ProviderAaveV3:       {PercentMul, 5},
	flashloan.ProviderDyDx:         {Flat, 2},
	flashloan.ProviderUniswapV2:    {ConstantProduct(1000), 3},
	flashloan.ProviderUniswapV3:    {TierRoundingUp, 3000},
	flashloan.ProviderMakerDAO:     {Toll, 0},
	flashloan.ProviderSushiSwap:    {ConstantProduct(1000), 3},
	flashloan.ProviderSaddle:       {Bps, 8},
	flashloan.ProviderDODO:         {Free, 0},
	flashloan.ProviderCreamFinance: {Bps, 3},
	flashloan.ProviderFortube:      {Bps, 9},
	flashloan.ProviderEuler:        {Free, 0},
	flashloan.ProviderMultiplier:   {Bps, 9},
	flashloan.ProviderCroDefiSwap:  {ConstantProduct(fmath.BasisPoints), 30},
	flashloan.ProviderPancakeswap:  {ConstantProduct(fmath.BasisPoints), 25},
}

// ModelFor returns the fee model of venue t.
func ModelFor(t flashloan.ProviderType) (FeeModel, error) {
	m, ok := Models[t]
	if !ok {
		return FeeModel{}, fmt.Errorf("no fee model for venue %s", t)
	}
	return m, nil
}
