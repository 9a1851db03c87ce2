package cream

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
		usdc   = common.HexToAddress("0xa1")
		crUSDC = common.HexToAddress("0xd1")
		owner  = common.HexToAddress("0xc2")
		engine = common.HexToAddress("0xc3")
	)
	l := ledger.New()
	p, err := NewProvider(venue.Config{Address: common.HexToAddress("0xc1"), Owner: owner, Flashloaner: engine}, l, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, l.Mint(usdc, crUSDC, big.NewInt(1_000_000)))

	admin := flashloan.WithCaller(context.Background(), owner)
	ctx := flashloan.WithCaller(context.Background(), engine)
	_, err = p.AddCTokens(admin, []common.Address{crUSDC}, []common.Address{usdc})
	require.NoError(t, err)

	maxLoan, err := p.MaxFlashLoan(ctx, usdc)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), maxLoan.Int64())

	fee, err := p.FlashFee(ctx, usdc, big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, int64(300), fee.Int64())
}
