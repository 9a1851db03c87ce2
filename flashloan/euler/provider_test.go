package euler

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
		module = common.HexToAddress("0x27182842E098f60e3D576794A5bFFb0777E025d3")
		owner  = common.HexToAddress("0xc2")
		engine = common.HexToAddress("0xc3")
	)
	l := ledger.New()
	p, err := NewProvider(venue.Config{Address: common.HexToAddress("0xc1"), Owner: owner, Flashloaner: engine}, module, l, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, l.Mint(weth, module, big.NewInt(750)))

	admin := flashloan.WithCaller(context.Background(), owner)
	ctx := flashloan.WithCaller(context.Background(), engine)
	_, err = p.AddTokens(admin, weth)
	require.NoError(t, err)

	maxLoan, err := p.MaxFlashLoan(ctx, weth)
	require.NoError(t, err)
	assert.Equal(t, int64(750), maxLoan.Int64())

	fee, err := p.FlashFee(ctx, weth, big.NewInt(750))
	require.NoError(t, err)
	assert.Zero(t, fee.Sign())

	_, err = p.MaxFlashLoan(ctx, dai)
	assert.ErrorIs(t, err, flashloan.ErrUnsupportedCurrency)
}
