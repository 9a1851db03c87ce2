package saddle

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/flashloan/venue"
	"github.com/michaelpento.lv/flashlender/ledger"
)

func TestProvider(t *testing.T) {
	var (
		dai     = common.HexToAddress("0xa1")
		usdc    = common.HexToAddress("0xa2")
		usdt    = common.HexToAddress("0xa3")
		wbtc    = common.HexToAddress("0xa4")
		usdPool = common.HexToAddress("0xd1")
		owner   = common.HexToAddress("0xc2")
		engine  = common.HexToAddress("0xc3")
	)
	l := ledger.New()
	p, err := NewProvider(venue.Config{Address: common.HexToAddress("0xc1"), Owner: owner, Flashloaner: engine}, l, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, l.Mint(usdc, usdPool, big.NewInt(1_000_000)))

	admin := flashloan.WithCaller(context.Background(), owner)
	ctx := flashloan.WithCaller(context.Background(), engine)

	_, err = p.AddSwapPools(admin, []common.Address{usdPool}, nil)
	assert.ErrorIs(t, err, flashloan.ErrLengthMismatch)
	_, err = p.AddSwapPools(admin, []common.Address{usdPool}, [][]common.Address{{dai, usdc, usdt}})
	require.NoError(t, err)

	maxLoan, err := p.MaxFlashLoan(ctx, usdc)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), maxLoan.Int64())

	fee, err := p.FlashFee(ctx, usdc, big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, int64(800), fee.Int64())

	maxLoan, err = p.MaxFlashLoan(ctx, wbtc)
	require.NoError(t, err)
	assert.Zero(t, maxLoan.Sign())

	require.NoError(t, p.SetFlashLoanFeeBPS(admin, 4))
	fee, err = p.FlashFee(ctx, usdc, big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, int64(400), fee.Int64())
	assert.Error(t, p.SetFlashLoanFeeBPS(admin, 10_001))
}
