package multiplier

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
		busd   = common.HexToAddress("0xa1")
		core   = common.HexToAddress("0xd1")
		owner  = common.HexToAddress("0xc2")
		engine = common.HexToAddress("0xc3")
	)
	l := ledger.New()
	p, err := NewProvider(venue.Config{Address: common.HexToAddress("0xc1"), Owner: owner, Flashloaner: engine}, core, l, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, l.Mint(busd, core, big.NewInt(2_000_000)))

	admin := flashloan.WithCaller(context.Background(), owner)
	ctx := flashloan.WithCaller(context.Background(), engine)
	_, err = p.AddTokens(admin, busd)
	require.NoError(t, err)

	fee, err := p.FlashFee(ctx, busd, big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, int64(900), fee.Int64())

	assert.ErrorIs(t, p.SetFeeBps(ctx, 5), flashloan.ErrNotAuthorized)
	require.NoError(t, p.SetFeeBps(admin, 5))
	fee, err = p.FlashFee(ctx, busd, big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, int64(500), fee.Int64())

	_, err = NewProvider(venue.Config{Address: common.HexToAddress("0xc1"), Owner: owner}, common.Address{}, l, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, flashloan.ErrInvalidAddress)
}
