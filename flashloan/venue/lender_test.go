package venue

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/ledger"
)

var (
	token      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	quoteToken = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	unknown    = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	adapter    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	owner      = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	engine     = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	pairA      = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	pairB      = common.HexToAddress("0x00000000000000000000000000000000000000d2")
)

type testBorrower struct {
	addr      common.Address
	ledger    *ledger.Ledger
	shortfall int64
	reenter   func(ctx context.Context) error
	fees      []*big.Int
}

func (b *testBorrower) Address() common.Address { return b.addr }

func (b *testBorrower) OnFlashLoan(ctx context.Context, initiator, token common.Address, amount, fee *big.Int, data []byte) (common.Hash, error) {
	b.fees = append(b.fees, fee)
	if b.reenter != nil {
		if err := b.reenter(ctx); err != nil {
			return common.Hash{}, err
		}
	}
	owed := new(big.Int).Add(amount, fee)
	owed.Sub(owed, big.NewInt(b.shortfall))
	if err := b.ledger.Approve(token, b.addr, flashloan.CallerFrom(ctx), owed); err != nil {
		return common.Hash{}, err
	}
	return flashloan.CallbackSuccess, nil
}

type venueFixture struct {
	ledger   *ledger.Ledger
	lender   *Lender
	borrower *testBorrower
	admin    context.Context
	caller   context.Context
}

// newVenueFixture builds a Uniswap v2 style venue with two pairs holding
// 200,000 and 300,000 of token.
func newVenueFixture(t *testing.T, policy UnsupportedPolicy) *venueFixture {
	t.Helper()
	l := ledger.New()
	lender, err := NewLender(Config{
		Type:        flashloan.ProviderUniswapV2,
		Address:     adapter,
		Owner:       owner,
		Flashloaner: engine,
		Unsupported: policy,
	}, l, zaptest.NewLogger(t))
	require.NoError(t, err)

	f := &venueFixture{
		ledger: l,
		lender: lender,
		admin:  flashloan.WithCaller(context.Background(), owner),
		caller: flashloan.WithCaller(context.Background(), engine),
	}
	model := Models[flashloan.ProviderUniswapV2]
	for addr, reserve := range map[common.Address]int64{pairA: 200_000, pairB: 300_000} {
		require.NoError(t, l.Mint(token, addr, big.NewInt(reserve)))
	}
	var pools []Pool
	for _, addr := range []common.Address{pairA, pairB} {
		p, err := NewBalancePool(PoolSpec{Address: addr, Tokens: []common.Address{token, quoteToken}, Buffer: 1, Model: model}, l)
		require.NoError(t, err)
		pools = append(pools, p)
	}
	added, err := lender.AddPools(f.admin, pools...)
	require.NoError(t, err)
	require.Equal(t, 2, added)

	f.borrower = &testBorrower{addr: common.HexToAddress("0xb1"), ledger: l}
	require.NoError(t, l.Mint(token, f.borrower.addr, big.NewInt(10_000)))
	return f
}

func TestFeeModels(t *testing.T) {
	tests := []struct {
		name  string
		venue flashloan.ProviderType
		param uint64
		amt   int64
		want  int64
	}{
		{"AaveV2", flashloan.ProviderAaveV2, 9, 1_000_000, 900},
		{"AaveV3HalfUp", flashloan.ProviderAaveV3, 5, 1_001_000, 501},
		{"AaveV3HalfDown", flashloan.ProviderAaveV3, 5, 999, 0},
		{"DyDx", flashloan.ProviderDyDx, 2, 1_000_000, 2},
		{"UniswapV2", flashloan.ProviderUniswapV2, 3, 199_999, 602},
		{"UniswapV3RoundsUp", flashloan.ProviderUniswapV3, 3000, 1_000_001, 3001},
		{"UniswapV3Exact", flashloan.ProviderUniswapV3, 500, 2_000_000, 1000},
		{"MakerToll", flashloan.ProviderMakerDAO, 1e15, 1_000_000, 1000},
		{"Saddle", flashloan.ProviderSaddle, 8, 1_000_000, 800},
		{"DODO", flashloan.ProviderDODO, 0, 1_000_000, 0},
		{"Cream", flashloan.ProviderCreamFinance, 3, 1_000_000, 300},
		{"Euler", flashloan.ProviderEuler, 0, 1_000_000, 0},
		{"CroDefiSwap", flashloan.ProviderCroDefiSwap, 30, 1_000_000, 3010},
		{"Pancakeswap", flashloan.ProviderPancakeswap, 25, 1_000_000, 2507},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, err := ModelFor(tt.venue)
			require.NoError(t, err)
			fee, err := model.Formula(big.NewInt(tt.amt), tt.param)
			require.NoError(t, err)
			assert.Equal(t, tt.want, fee.Int64())
		})
	}

	t.Run("ConstantProductRange", func(t *testing.T) {
		_, err := ConstantProduct(1000)(big.NewInt(1), 1000)
		assert.Error(t, err)
	})
}

func TestLenderAccess(t *testing.T) {
	f := newVenueFixture(t, ReturnZero)
	stranger := flashloan.WithCaller(context.Background(), common.HexToAddress("0x0bad"))

	_, err := f.lender.MaxFlashLoan(context.Background(), token)
	assert.ErrorIs(t, err, flashloan.ErrNotAuthorized)
	_, err = f.lender.FlashFee(stranger, token, big.NewInt(1))
	assert.ErrorIs(t, err, flashloan.ErrNotAuthorized)
	err = f.lender.FlashLoan(stranger, f.borrower, token, big.NewInt(1), nil)
	assert.ErrorIs(t, err, flashloan.ErrNotAuthorized)
	_, err = f.lender.MaxFlashLoanWithManyPools(f.admin, token)
	assert.ErrorIs(t, err, flashloan.ErrNotAuthorized)

	_, err = f.lender.AddPools(f.caller, &BalancePool{addr: common.HexToAddress("0xd3")})
	assert.ErrorIs(t, err, flashloan.ErrNotAuthorized)
	assert.ErrorIs(t, f.lender.SetFlashloaner(f.caller, common.HexToAddress("0x0bad")), flashloan.ErrNotAuthorized)
}

func TestLenderAdmin(t *testing.T) {
	f := newVenueFixture(t, ReturnZero)

	added, err := f.lender.AddPools(f.admin, f.lender.Pools()[0])
	require.NoError(t, err)
	assert.Zero(t, added)

	_, err = f.lender.AddPools(f.admin, &BalancePool{})
	assert.ErrorIs(t, err, flashloan.ErrInvalidAddress)

	before := f.ledger.Version()
	removed, err := f.lender.RemovePools(f.admin, pairA, unknown)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Greater(t, f.ledger.Version(), before)
	require.Len(t, f.lender.Pools(), 1)
	assert.Equal(t, pairB, f.lender.Pools()[0].Address())

	newEngine := common.HexToAddress("0xc4")
	before = f.ledger.Version()
	require.NoError(t, f.lender.SetFlashloaner(f.admin, newEngine))
	assert.Equal(t, newEngine, f.lender.Flashloaner())
	assert.Greater(t, f.ledger.Version(), before)
	assert.ErrorIs(t, f.lender.SetFlashloaner(f.admin, common.Address{}), flashloan.ErrInvalidAddress)
}

func TestLenderQueries(t *testing.T) {
	f := newVenueFixture(t, ReturnZero)

	t.Run("DeepestPool", func(t *testing.T) {
		maxLoan, err := f.lender.MaxFlashLoan(f.caller, token)
		require.NoError(t, err)
		assert.Equal(t, int64(299_999), maxLoan.Int64())
	})

	t.Run("AllPools", func(t *testing.T) {
		total, err := f.lender.MaxFlashLoanWithManyPools(f.caller, token)
		require.NoError(t, err)
		assert.Equal(t, int64(499_998), total.Int64())
	})

	t.Run("Fee", func(t *testing.T) {
		fee, err := f.lender.FlashFee(f.caller, token, big.NewInt(199_999))
		require.NoError(t, err)
		assert.Equal(t, int64(602), fee.Int64())

		_, err = f.lender.FlashFee(f.caller, token, big.NewInt(300_000))
		assert.ErrorIs(t, err, flashloan.ErrAmountExceedsMaxFlashLoan)
	})

	t.Run("ManyPoolsFee", func(t *testing.T) {
		// 299,999 from pairB (903) and 100,001 from pairA (301)
		fee, err := f.lender.FlashFeeWithManyPools(f.caller, token, big.NewInt(400_000))
		require.NoError(t, err)
		assert.Equal(t, int64(1204), fee.Int64())

		_, err = f.lender.FlashFeeWithManyPools(f.caller, token, big.NewInt(499_999))
		assert.ErrorIs(t, err, flashloan.ErrAmountExceedsMaxFlashLoan)
	})

	t.Run("UnsupportedReturnsZero", func(t *testing.T) {
		maxLoan, err := f.lender.MaxFlashLoan(f.caller, unknown)
		require.NoError(t, err)
		assert.Zero(t, maxLoan.Sign())
		total, err := f.lender.MaxFlashLoanWithManyPools(f.caller, unknown)
		require.NoError(t, err)
		assert.Zero(t, total.Sign())

		_, err = f.lender.FlashFee(f.caller, unknown, big.NewInt(1))
		assert.ErrorIs(t, err, flashloan.ErrUnsupportedCurrency)
	})

	t.Run("UnsupportedReverts", func(t *testing.T) {
		rf := newVenueFixture(t, Revert)
		_, err := rf.lender.MaxFlashLoan(rf.caller, unknown)
		assert.ErrorIs(t, err, flashloan.ErrUnsupportedCurrency)
		_, err = rf.lender.MaxFlashLoanWithManyPools(rf.caller, unknown)
		assert.ErrorIs(t, err, flashloan.ErrUnsupportedCurrency)
	})
}

func TestLenderLoans(t *testing.T) {
	t.Run("SinglePool", func(t *testing.T) {
		f := newVenueFixture(t, ReturnZero)
		require.NoError(t, f.lender.FlashLoan(f.caller, f.borrower, token, big.NewInt(199_999), nil))

		assert.Equal(t, int64(300_602), f.ledger.BalanceOf(token, pairB).Int64())
		assert.Equal(t, int64(200_000), f.ledger.BalanceOf(token, pairA).Int64())
		assert.Equal(t, int64(10_000-602), f.ledger.BalanceOf(token, f.borrower.addr).Int64())
	})

	t.Run("ManyPools", func(t *testing.T) {
		f := newVenueFixture(t, ReturnZero)
		require.NoError(t, f.lender.FlashLoanWithManyPools(f.caller, f.borrower, token, big.NewInt(400_000), nil))

		require.Len(t, f.borrower.fees, 2)
		assert.Equal(t, int64(903), f.borrower.fees[0].Int64())
		assert.Equal(t, int64(301), f.borrower.fees[1].Int64())
		assert.Equal(t, int64(300_903), f.ledger.BalanceOf(token, pairB).Int64())
		assert.Equal(t, int64(200_301), f.ledger.BalanceOf(token, pairA).Int64())
	})

	t.Run("UnderpaymentReverts", func(t *testing.T) {
		f := newVenueFixture(t, ReturnZero)
		f.borrower.shortfall = 1

		err := f.lender.FlashLoanWithManyPools(f.caller, f.borrower, token, big.NewInt(400_000), nil)
		assert.ErrorIs(t, err, flashloan.ErrRepaymentInsufficient)
		assert.Equal(t, int64(300_000), f.ledger.BalanceOf(token, pairB).Int64())
		assert.Equal(t, int64(200_000), f.ledger.BalanceOf(token, pairA).Int64())
		assert.Equal(t, int64(10_000), f.ledger.BalanceOf(token, f.borrower.addr).Int64())
	})
}

type mintPool struct {
	addr  common.Address
	token common.Address
	line  *big.Int
}

func (p *mintPool) Address() common.Address            { return p.addr }
func (p *mintPool) Supports(token common.Address) bool { return token == p.token }
func (p *mintPool) Mints() bool                        { return true }

func (p *mintPool) MaxFlashLoan(token common.Address) (*big.Int, error) {
	if token != p.token {
		return new(big.Int), nil
	}
	return new(big.Int).Set(p.line), nil
}

func (p *mintPool) FlashFee(token common.Address, amount *big.Int) (*big.Int, error) {
	return Toll(amount, 1e15)
}

func TestGuardedMinter(t *testing.T) {
	l := ledger.New()
	lender, err := NewLender(Config{
		Type:        flashloan.ProviderMakerDAO,
		Address:     adapter,
		Owner:       owner,
		Flashloaner: engine,
		Unsupported: Revert,
		Guarded:     true,
	}, l, zaptest.NewLogger(t))
	require.NoError(t, err)

	admin := flashloan.WithCaller(context.Background(), owner)
	caller := flashloan.WithCaller(context.Background(), engine)
	vat := common.HexToAddress("0xd9")
	_, err = lender.AddPools(admin, &mintPool{addr: vat, token: token, line: big.NewInt(1_000_000)})
	require.NoError(t, err)

	borrower := &testBorrower{addr: common.HexToAddress("0xb1"), ledger: l}
	require.NoError(t, l.Mint(token, borrower.addr, big.NewInt(1_000)))

	t.Run("MintAndBurn", func(t *testing.T) {
		require.NoError(t, lender.FlashLoan(caller, borrower, token, big.NewInt(1_000_000), nil))
		assert.Equal(t, int64(1_000), l.BalanceOf(token, vat).Int64())
		assert.Zero(t, l.BalanceOf(token, borrower.addr).Sign())
	})

	t.Run("Reentrancy", func(t *testing.T) {
		require.NoError(t, l.Mint(token, borrower.addr, big.NewInt(1_000)))
		borrower.reenter = func(ctx context.Context) error {
			return lender.FlashLoan(caller, borrower, token, big.NewInt(10), nil)
		}
		err := lender.FlashLoan(caller, borrower, token, big.NewInt(1_000), nil)
		assert.ErrorIs(t, err, flashloan.ErrReentrancy)
		assert.Equal(t, int64(1_000), l.BalanceOf(token, vat).Int64())
		assert.Equal(t, int64(1_000), l.BalanceOf(token, borrower.addr).Int64())
	})
}

// newAggregator registers lenders with an aggregator answering as engine.
func newAggregator(t *testing.T, l *ledger.Ledger, admin context.Context, opts []flashloan.Option, lenders ...flashloan.Provider) *flashloan.Manager {
	t.Helper()
	m, err := flashloan.NewManager(engine, owner, l, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	added, err := m.AddProviders(admin, lenders...)
	require.NoError(t, err)
	require.Equal(t, len(lenders), added)
	return m
}

func TestEngineOverPools(t *testing.T) {
	ctx := context.Background()

	t.Run("ComposedCountsEveryPool", func(t *testing.T) {
		f := newVenueFixture(t, ReturnZero)
		m := newAggregator(t, f.ledger, f.admin, nil, f.lender)

		total, err := m.MaxFlashLoanWithManyProviders(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, int64(299_999+199_999), total.Int64())

		single, err := m.MaxFlashLoanWithCheapestProvider(ctx, token, big.NewInt(1))
		require.NoError(t, err)
		assert.Equal(t, int64(299_999), single.Int64())

		fee, err := m.FlashFeeWithManyProviders(ctx, token, big.NewInt(400_000), 0)
		require.NoError(t, err)
		assert.Equal(t, int64(903+301), fee.Int64())
	})

	t.Run("DrawFullCeiling", func(t *testing.T) {
		f := newVenueFixture(t, ReturnZero)
		m := newAggregator(t, f.ledger, f.admin, nil, f.lender)

		total, err := m.MaxFlashLoanWithManyProviders(ctx, token)
		require.NoError(t, err)
		quoted, err := m.FlashFeeWithManyProviders(ctx, token, total, 0)
		require.NoError(t, err)

		require.NoError(t, m.FlashLoanWithManyProviders(ctx, f.borrower, token, total, nil, 0))
		require.Len(t, f.borrower.fees, 2)
		paid := new(big.Int).Add(f.borrower.fees[0], f.borrower.fees[1])
		assert.Equal(t, quoted, paid)
		assert.Equal(t, int64(903+602), paid.Int64())
		assert.Equal(t, int64(300_903), f.ledger.BalanceOf(token, pairB).Int64())
		assert.Equal(t, int64(200_602), f.ledger.BalanceOf(token, pairA).Int64())
		assert.Equal(t, int64(10_000-1_505), f.ledger.BalanceOf(token, f.borrower.addr).Int64())

		err = m.FlashLoanWithManyProviders(ctx, f.borrower, token, big.NewInt(500_000+1_505), nil, 0)
		assert.ErrorIs(t, err, flashloan.ErrAmountExceedsMaxFlashLoan)
	})

	t.Run("QuoteCacheFollowsFlashloaner", func(t *testing.T) {
		f := newVenueFixture(t, ReturnZero)
		reserve := common.HexToAddress("0xd5")
		cheap, err := NewLender(Config{
			Type:        flashloan.ProviderAaveV2,
			Address:     common.HexToAddress("0xc5"),
			Owner:       owner,
			Flashloaner: engine,
			Unsupported: ReturnZero,
		}, f.ledger, zaptest.NewLogger(t))
		require.NoError(t, err)
		pools, err := NewReserves(f.ledger, Models[flashloan.ProviderAaveV2], 0, []common.Address{reserve}, []common.Address{token})
		require.NoError(t, err)
		_, err = cheap.AddPools(f.admin, pools...)
		require.NoError(t, err)
		require.NoError(t, f.ledger.Mint(token, reserve, big.NewInt(100_000)))

		m := newAggregator(t, f.ledger, f.admin, []flashloan.Option{flashloan.WithQuoteCache(16)}, f.lender, cheap)

		infos, err := m.FlashLoanInfoListWithCheaperFeePriority(ctx, token, big.NewInt(1_000))
		require.NoError(t, err)
		require.Len(t, infos, 2)
		assert.Equal(t, cheap.Address(), infos[0].Provider.Address())

		require.NoError(t, cheap.SetFlashloaner(f.admin, common.HexToAddress("0x99")))
		require.NoError(t, m.FlashLoan(ctx, f.borrower, token, big.NewInt(1_000), nil))

		require.Len(t, f.borrower.fees, 1)
		assert.Equal(t, int64(4), f.borrower.fees[0].Int64())
		assert.Equal(t, int64(100_000), f.ledger.BalanceOf(token, reserve).Int64())
		assert.Equal(t, int64(300_004), f.ledger.BalanceOf(token, pairB).Int64())
	})
}
