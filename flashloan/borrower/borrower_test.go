package borrower

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/flashloan/dydx"
	"github.com/michaelpento.lv/flashlender/flashloan/uniswap"
	"github.com/michaelpento.lv/flashlender/flashloan/venue"
	"github.com/michaelpento.lv/flashlender/ledger"
)

var (
	weth       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	dai        = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	aggregator = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	owner      = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	feeSink    = common.HexToAddress("0x00000000000000000000000000000000000000e3")
	pair1      = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	pair2      = common.HexToAddress("0x00000000000000000000000000000000000000d2")
	soloMargin = common.HexToAddress("0x00000000000000000000000000000000000000d3")
)

type world struct {
	ledger   *ledger.Ledger
	manager  *flashloan.Manager
	uniswap  *uniswap.V2Provider
	borrower *FlashBorrower
	admin    context.Context
}

// newWorld deploys an aggregator over a Uniswap v2 venue whose pairs hold
// 200,000 and 300,000 weth.
func newWorld(t *testing.T) *world {
	t.Helper()
	logger := zaptest.NewLogger(t)
	l := ledger.New()
	m, err := flashloan.NewManager(aggregator, owner, l, logger, flashloan.WithFeeSink(feeSink))
	require.NoError(t, err)

	admin := flashloan.WithCaller(context.Background(), owner)
	uni, err := uniswap.NewV2Provider(venue.Config{
		Address:     common.HexToAddress("0xc1"),
		Owner:       owner,
		Flashloaner: aggregator,
	}, l, logger)
	require.NoError(t, err)
	require.NoError(t, l.Mint(weth, pair1, big.NewInt(200_000)))
	require.NoError(t, l.Mint(weth, pair2, big.NewInt(300_000)))
	_, err = uni.AddPairs(admin, []common.Address{pair1, pair2}, []common.Address{weth, weth}, []common.Address{dai, dai})
	require.NoError(t, err)
	_, err = m.AddProviders(admin, uni)
	require.NoError(t, err)

	b, err := New(common.HexToAddress("0xb1"), l, logger)
	require.NoError(t, err)
	b.TrustInitiator(aggregator)
	require.NoError(t, l.Mint(weth, b.Address(), big.NewInt(2_000)))

	return &world{ledger: l, manager: m, uniswap: uni, borrower: b, admin: admin}
}

func TestFlashBorrow(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	require.NoError(t, w.borrower.FlashBorrow(ctx, w.manager, weth, big.NewInt(199_999), []byte("arb")))

	callbacks := w.borrower.Callbacks()
	require.Len(t, callbacks, 1)
	assert.Equal(t, int64(602), callbacks[0].Fee.Int64())
	assert.Equal(t, aggregator, callbacks[0].Initiator)
	assert.Equal(t, w.uniswap.Address(), callbacks[0].Lender)
	assert.Equal(t, []byte("arb"), callbacks[0].Data)

	// 199,999 * 5 / 1000
	assert.Equal(t, int64(999), w.ledger.BalanceOf(weth, feeSink).Int64())
	assert.Equal(t, int64(2_000-602-999), w.ledger.BalanceOf(weth, w.borrower.Address()).Int64())
	assert.Equal(t, int64(300_602), w.ledger.BalanceOf(weth, pair2).Int64())
}

func TestFlashBorrowWithManyProviders(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	solo, err := dydx.NewProvider(venue.Config{
		Address:     common.HexToAddress("0xc2"),
		Owner:       owner,
		Flashloaner: aggregator,
	}, soloMargin, w.ledger, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, w.ledger.Mint(weth, soloMargin, big.NewInt(100_000)))
	_, err = solo.AddMarkets(w.admin, weth)
	require.NoError(t, err)
	_, err = w.manager.AddProviders(w.admin, solo)
	require.NoError(t, err)

	// dYdX ranks first at 2 wei flat, Uniswap's deepest pair covers the rest
	fee, err := w.manager.FlashFeeWithManyProviders(ctx, weth, big.NewInt(300_000), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2+602), fee.Int64())

	require.NoError(t, w.ledger.Mint(weth, w.borrower.Address(), big.NewInt(1_000)))
	require.NoError(t, w.borrower.FlashBorrowWithManyProviders(ctx, w.manager, weth, big.NewInt(300_000), nil, 2))

	callbacks := w.borrower.Callbacks()
	require.Len(t, callbacks, 2)
	assert.Equal(t, solo.Address(), callbacks[0].Lender)
	assert.Equal(t, int64(100_000), callbacks[0].Amount.Int64())
	assert.Equal(t, int64(200_000), callbacks[1].Amount.Int64())
	assert.Equal(t, int64(100_002), w.ledger.BalanceOf(weth, soloMargin).Int64())
	assert.Equal(t, int64(1_500), w.ledger.BalanceOf(weth, feeSink).Int64())

	err = w.borrower.FlashBorrowWithManyProviders(ctx, w.manager, weth, big.NewInt(300_000), nil, 1)
	assert.ErrorIs(t, err, flashloan.ErrNoProviderFound)
}

func TestBorrowerFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("Shortfall", func(t *testing.T) {
		w := newWorld(t)
		w.borrower.SetShortfall(big.NewInt(1))
		err := w.borrower.FlashBorrow(ctx, w.manager, weth, big.NewInt(199_999), nil)
		assert.ErrorIs(t, err, flashloan.ErrRepaymentInsufficient)
		assert.Equal(t, int64(2_000), w.ledger.BalanceOf(weth, w.borrower.Address()).Int64())
		assert.Equal(t, int64(300_000), w.ledger.BalanceOf(weth, pair2).Int64())
		assert.Zero(t, w.ledger.BalanceOf(weth, feeSink).Sign())
	})

	t.Run("Reentry", func(t *testing.T) {
		w := newWorld(t)
		w.borrower.SetReentry(func(ctx context.Context) error {
			return w.borrower.FlashBorrow(ctx, w.manager, weth, big.NewInt(10), nil)
		})
		err := w.borrower.FlashBorrow(ctx, w.manager, weth, big.NewInt(199_999), nil)
		assert.ErrorIs(t, err, flashloan.ErrReentrancy)
		assert.Equal(t, int64(2_000), w.ledger.BalanceOf(weth, w.borrower.Address()).Int64())
	})

	t.Run("UntrustedInitiator", func(t *testing.T) {
		w := newWorld(t)
		b, err := New(common.HexToAddress("0xb2"), w.ledger, zaptest.NewLogger(t))
		require.NoError(t, err)
		b.TrustInitiator(common.HexToAddress("0x0bad"))
		err = b.FlashBorrow(ctx, w.manager, weth, big.NewInt(1_000), nil)
		assert.ErrorIs(t, err, flashloan.ErrNotAuthorized)
	})
}
