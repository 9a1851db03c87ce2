package sushiswap

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
		weth   = common.HexToAddress("0xa1")
		dai    = common.HexToAddress("0xa2")
		pair   = common.HexToAddress("0xd1")
		owner  = common.HexToAddress("0xc2")
		engine = common.HexToAddress("0xc3")
	)
	l := ledger.New()
	p, err := NewProvider(venue.Config{Address: common.HexToAddress("0xc1"), Owner: owner, Flashloaner: engine}, l, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "SushiSwap", p.String())
	require.NoError(t, l.Mint(weth, pair, big.NewInt(100_000)))

	admin := flashloan.WithCaller(context.Background(), owner)
	ctx := flashloan.WithCaller(context.Background(), engine)
	_, err = p.AddPairs(admin, []common.Address{pair}, []common.Address{weth}, []common.Address{dai})
	require.NoError(t, err)

	maxLoan, err := p.MaxFlashLoan(ctx, weth)
	require.NoError(t, err)
	assert.Equal(t, int64(99_999), maxLoan.Int64())

	fee, err := p.FlashFee(ctx, weth, big.NewInt(99_999))
	require.NoError(t, err)
	assert.Equal(t, int64(301), fee.Int64())
}
