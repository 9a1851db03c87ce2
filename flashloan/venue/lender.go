// Package venue holds the machinery every flash-loan venue adapter shares: an
// ordered pool set, flashloaner-only access, cheapest-pool selection,
// composition across pools and the lend-callback-repay cycle.
package venue

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/ledger"
	fmath "github.com/michaelpento.lv/flashlender/utils/math"
	"github.com/michaelpento.lv/flashlender/utils/metrics"
)

// UnsupportedPolicy is how a venue answers MaxFlashLoan for a token it has
// no pool for.
type UnsupportedPolicy int

const (
	// ReturnZero reports no liquidity.
	ReturnZero UnsupportedPolicy = iota
	// Revert fails with flashloan.ErrUnsupportedCurrency.
	Revert
)

// Config identifies a venue adapter and its roles.
type Config struct {
	Type        flashloan.ProviderType
	Address     common.Address
	Owner       common.Address
	Flashloaner common.Address
	Unsupported UnsupportedPolicy
	// Guarded rejects a loan started from inside another loan's callback.
	Guarded bool
	// Registerer receives the venue metrics; nil leaves them unregistered.
	Registerer prometheus.Registerer
}

// Lender implements flashloan.ManyPoolsProvider over an ordered pool set.
type Lender struct {
	typ         flashloan.ProviderType
	self        common.Address
	owner       common.Address
	unsupported UnsupportedPolicy
	guarded     bool
	guard       flashloan.Guard

	ledger  *ledger.Ledger
	logger  *zap.Logger
	metrics *lenderMetrics

	mu          sync.RWMutex
	flashloaner common.Address
	pools       []Pool
	index       map[common.Address]int
}

var _ flashloan.ManyPoolsProvider = (*Lender)(nil)

// NewLender creates an adapter with an empty pool set.
func NewLender(cfg Config, l *ledger.Ledger, logger *zap.Logger) (*Lender, error) {
	if !flashloan.ValidAddress(cfg.Address) || !flashloan.ValidAddress(cfg.Owner) {
		return nil, fmt.Errorf("%w: adapter and owner must be non-zero", flashloan.ErrInvalidAddress)
	}
	if l == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Lender{
		typ:         cfg.Type,
		self:        cfg.Address,
		owner:       cfg.Owner,
		unsupported: cfg.Unsupported,
		guarded:     cfg.Guarded,
		ledger:      l,
		logger:      logger.With(zap.Stringer("venue", cfg.Type)),
		metrics:     newLenderMetrics(cfg.Type.String(), cfg.Address, cfg.Registerer),
		flashloaner: cfg.Flashloaner,
		index:       make(map[common.Address]int),
	}, nil
}

func (l *Lender) Address() common.Address {
	return l.self
}

func (l *Lender) String() string {
	return l.typ.String()
}

// Type returns the venue tag.
func (l *Lender) Type() flashloan.ProviderType {
	return l.typ
}

// Owner returns the administrator identity.
func (l *Lender) Owner() common.Address {
	return l.owner
}

// Ledger returns the state the venue lends from.
func (l *Lender) Ledger() *ledger.Ledger {
	return l.ledger
}

// Flashloaner returns the only identity allowed to query and borrow.
func (l *Lender) Flashloaner() common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.flashloaner
}

// SetFlashloaner changes the authorized borrower entry point. Owner only.
func (l *Lender) SetFlashloaner(ctx context.Context, flashloaner common.Address) error {
	if err := flashloan.RequireCaller(ctx, l.owner); err != nil {
		return err
	}
	if !flashloan.ValidAddress(flashloaner) {
		return fmt.Errorf("%w: flashloaner", flashloan.ErrInvalidAddress)
	}
	l.mu.Lock()
	changed := l.flashloaner != flashloaner
	l.flashloaner = flashloaner
	l.mu.Unlock()

	if changed {
		l.ledger.Touch()
	}
	return nil
}

// AddPools appends pools not yet known. Owner only. A zero identity anywhere
// rejects the whole call.
func (l *Lender) AddPools(ctx context.Context, pools ...Pool) (int, error) {
	if err := flashloan.RequireCaller(ctx, l.owner); err != nil {
		return 0, err
	}
	for _, p := range pools {
		if p == nil || !flashloan.ValidAddress(p.Address()) {
			return 0, fmt.Errorf("%w: pool", flashloan.ErrInvalidAddress)
		}
	}

	l.mu.Lock()
	added := 0
	for _, p := range pools {
		if _, ok := l.index[p.Address()]; ok {
			continue
		}
		l.index[p.Address()] = len(l.pools)
		l.pools = append(l.pools, p)
		added++
	}
	l.mu.Unlock()

	if added > 0 {
		l.ledger.Touch()
		l.logger.Debug("Pools added", zap.Int("added", added))
	}
	return added, nil
}

// RemovePools drops the listed pools, ignoring unknown ones. Owner only.
func (l *Lender) RemovePools(ctx context.Context, addrs ...common.Address) (int, error) {
	if err := flashloan.RequireCaller(ctx, l.owner); err != nil {
		return 0, err
	}

	l.mu.Lock()
	removed := 0
	kept := make([]Pool, 0, len(l.pools))
	drop := make(map[common.Address]bool, len(addrs))
	for _, a := range addrs {
		drop[a] = true
	}
	for _, p := range l.pools {
		if drop[p.Address()] {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	l.pools = kept
	l.index = make(map[common.Address]int, len(kept))
	for i, p := range kept {
		l.index[p.Address()] = i
	}
	l.mu.Unlock()

	if removed > 0 {
		l.ledger.Touch()
	}
	return removed, nil
}

// Pools returns the pool set in insertion order.
func (l *Lender) Pools() []Pool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Pool, len(l.pools))
	copy(out, l.pools)
	return out
}

func (l *Lender) supporting(token common.Address) []Pool {
	var out []Pool
	for _, p := range l.Pools() {
		if p.Supports(token) {
			out = append(out, p)
		}
	}
	return out
}

func (l *Lender) authorize(ctx context.Context) error {
	return flashloan.RequireCaller(ctx, l.Flashloaner())
}

func (l *Lender) unsupportedMax(token common.Address) (*big.Int, error) {
	if l.unsupported == Revert {
		return nil, fmt.Errorf("%w: %s", flashloan.ErrUnsupportedCurrency, token.Hex())
	}
	return new(big.Int), nil
}

type poolQuote struct {
	pool     Pool
	maxLoan  *big.Int
	feeAtMax *big.Int
	rate     *big.Int
}

// rank orders the pools holding token the way the aggregator orders
// providers. Pools with no liquidity are left out.
func (l *Lender) rank(token common.Address, pools []Pool) []poolQuote {
	quotes := make([]poolQuote, 0, len(pools))
	for _, p := range pools {
		maxLoan, err := p.MaxFlashLoan(token)
		if err != nil {
			l.logger.Warn("Failed to query pool", zap.String("pool", p.Address().Hex()), zap.Error(err))
			continue
		}
		if maxLoan.Sign() <= 0 {
			continue
		}
		fee, err := p.FlashFee(token, maxLoan)
		if err != nil {
			l.logger.Warn("Failed to quote pool", zap.String("pool", p.Address().Hex()), zap.Error(err))
			continue
		}
		rate, err := fmath.EffectiveRate(fee, maxLoan)
		if err != nil {
			continue
		}
		quotes = append(quotes, poolQuote{pool: p, maxLoan: maxLoan, feeAtMax: fee, rate: rate})
	}
	sort.SliceStable(quotes, func(i, j int) bool {
		return flashloan.Cheaper(quotes[i].rate, quotes[i].maxLoan, quotes[j].rate, quotes[j].maxLoan)
	})
	return quotes
}

// cheapestPool returns the cheapest pool able to lend amount on its own.
func (l *Lender) cheapestPool(token common.Address, amount *big.Int) (Pool, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, flashloan.ErrInvalidAmount
	}
	pools := l.supporting(token)
	if len(pools) == 0 {
		return nil, fmt.Errorf("%w: %s", flashloan.ErrUnsupportedCurrency, token.Hex())
	}
	for _, q := range l.rank(token, pools) {
		if q.maxLoan.Cmp(amount) >= 0 {
			return q.pool, nil
		}
	}
	return nil, fmt.Errorf("%w: %s of %s", flashloan.ErrAmountExceedsMaxFlashLoan, amount, token.Hex())
}

// MaxFlashLoan returns the capacity of the deepest pool holding token.
func (l *Lender) MaxFlashLoan(ctx context.Context, token common.Address) (*big.Int, error) {
	if err := l.authorize(ctx); err != nil {
		return nil, err
	}
	pools := l.supporting(token)
	if len(pools) == 0 {
		return l.unsupportedMax(token)
	}
	best := new(big.Int)
	for _, p := range pools {
		maxLoan, err := p.MaxFlashLoan(token)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", p.Address().Hex(), err)
		}
		if maxLoan.Cmp(best) > 0 {
			best = maxLoan
		}
	}
	return best, nil
}

// FlashFee returns the fee of the cheapest pool able to lend amount.
func (l *Lender) FlashFee(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error) {
	if err := l.authorize(ctx); err != nil {
		return nil, err
	}
	pool, err := l.cheapestPool(token, amount)
	if err != nil {
		return nil, err
	}
	return pool.FlashFee(token, amount)
}

// FlashLoan lends amount from the cheapest pool able to cover it.
func (l *Lender) FlashLoan(ctx context.Context, receiver flashloan.Borrower, token common.Address, amount *big.Int, data []byte) error {
	if err := l.authorize(ctx); err != nil {
		return err
	}
	return l.transact(ctx, func() error {
		pool, err := l.cheapestPool(token, amount)
		if err != nil {
			return err
		}
		return l.lend(ctx, pool, receiver, token, amount, data)
	})
}

// MaxFlashLoanWithManyPools returns the liquidity of every pool holding token.
func (l *Lender) MaxFlashLoanWithManyPools(ctx context.Context, token common.Address) (*big.Int, error) {
	if err := l.authorize(ctx); err != nil {
		return nil, err
	}
	pools := l.supporting(token)
	if len(pools) == 0 {
		return l.unsupportedMax(token)
	}
	total := new(big.Int)
	for _, q := range l.rank(token, pools) {
		total.Add(total, q.maxLoan)
	}
	return total, nil
}

func (l *Lender) plan(token common.Address, amount *big.Int) ([]flashloan.Draw[poolQuote], error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, flashloan.ErrInvalidAmount
	}
	pools := l.supporting(token)
	if len(pools) == 0 {
		return nil, fmt.Errorf("%w: %s", flashloan.ErrUnsupportedCurrency, token.Hex())
	}
	return flashloan.Fill(l.rank(token, pools), func(q poolQuote) *big.Int { return q.maxLoan }, amount, 0)
}

// FlashFeeWithManyPools returns the total fee of spreading amount over the
// venue's pools cheapest first.
func (l *Lender) FlashFeeWithManyPools(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error) {
	if err := l.authorize(ctx); err != nil {
		return nil, err
	}
	draws, err := l.plan(token, amount)
	if err != nil {
		return nil, err
	}
	total := new(big.Int)
	for _, d := range draws {
		fee, err := d.Source.pool.FlashFee(token, d.Amount)
		if err != nil {
			return nil, err
		}
		total.Add(total, fee)
	}
	return total, nil
}

// FlashLoanWithManyPools spreads amount over the venue's pools cheapest
// first, one callback per pool.
func (l *Lender) FlashLoanWithManyPools(ctx context.Context, receiver flashloan.Borrower, token common.Address, amount *big.Int, data []byte) error {
	if err := l.authorize(ctx); err != nil {
		return err
	}
	return l.transact(ctx, func() error {
		draws, err := l.plan(token, amount)
		if err != nil {
			return err
		}
		for i, d := range draws {
			if err := l.lend(ctx, d.Source.pool, receiver, token, d.Amount, data); err != nil {
				return fmt.Errorf("pool leg %d: %w", i, err)
			}
		}
		return nil
	})
}

// transact runs fn under the venue guard and rolls the ledger back if it
// fails.
func (l *Lender) transact(ctx context.Context, fn func() error) (err error) {
	if l.guarded {
		if err := l.guard.Enter(); err != nil {
			return err
		}
		defer l.guard.Exit()
	}

	start := time.Now()
	snapshot := l.ledger.Snapshot()
	defer func() {
		l.metrics.latency.Observe(time.Since(start).Seconds())
		if err != nil {
			l.metrics.errors.Inc()
			if rerr := l.ledger.RevertToSnapshot(snapshot); rerr != nil {
				l.logger.Error("Failed to revert venue loan", zap.Error(rerr))
			}
			return
		}
		l.ledger.DiscardSnapshot(snapshot)
	}()
	return fn()
}

// lend runs one lend-callback-repay cycle against pool.
func (l *Lender) lend(ctx context.Context, pool Pool, receiver flashloan.Borrower, token common.Address, amount *big.Int, data []byte) error {
	if receiver == nil || !flashloan.ValidAddress(receiver.Address()) {
		return fmt.Errorf("%w: receiver", flashloan.ErrInvalidAddress)
	}
	fee, err := pool.FlashFee(token, amount)
	if err != nil {
		return err
	}
	owed, err := fmath.Add(amount, fee)
	if err != nil {
		return err
	}

	minter, ok := pool.(Minter)
	mints := ok && minter.Mints()
	before := l.ledger.BalanceOf(token, pool.Address())
	if mints {
		err = l.ledger.Mint(token, receiver.Address(), amount)
	} else {
		err = l.ledger.Transfer(token, pool.Address(), receiver.Address(), amount)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", flashloan.ErrTransferFailed, err)
	}

	initiator := flashloan.CallerFrom(ctx)
	ret, err := receiver.OnFlashLoan(flashloan.WithCaller(ctx, l.self), initiator, token, amount, fee, data)
	if err != nil {
		return fmt.Errorf("%w: %w", flashloan.ErrCallbackFailed, err)
	}
	if ret != flashloan.CallbackSuccess {
		return fmt.Errorf("%w: unexpected return %s", flashloan.ErrCallbackFailed, ret.Hex())
	}

	if err := l.ledger.TransferFrom(token, l.self, receiver.Address(), pool.Address(), owed); err != nil {
		return fmt.Errorf("%w: %v", flashloan.ErrRepaymentInsufficient, err)
	}
	if mints {
		if err := l.ledger.Burn(token, pool.Address(), amount); err != nil {
			return fmt.Errorf("%w: %v", flashloan.ErrRepaymentInsufficient, err)
		}
	}

	after := l.ledger.BalanceOf(token, pool.Address())
	if after.Cmp(new(big.Int).Add(before, fee)) < 0 {
		return fmt.Errorf("%w: pool %s holds %s, want %s+%s",
			flashloan.ErrRepaymentInsufficient, pool.Address().Hex(), after, before, fee)
	}

	l.metrics.loanCount.Inc()
	l.metrics.loanVolume.Add(metrics.Float(amount))
	l.metrics.fees.Add(metrics.Float(fee))
	l.logger.Debug("Flash loan repaid",
		zap.String("pool", pool.Address().Hex()),
		zap.String("token", token.Hex()),
		zap.String("amount", amount.String()),
		zap.String("fee", fee.String()))
	return nil
}
