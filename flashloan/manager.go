package flashloan

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/flashlender/ledger"
	fmath "github.com/michaelpento.lv/flashlender/utils/math"
	"github.com/michaelpento.lv/flashlender/utils/metrics"
)

// DefaultMarginBps is the aggregator margin charged on top of venue fees
// (0.5%).
const DefaultMarginBps = 50

// Manager aggregates flash-loan liquidity across registered providers. It
// ranks providers by effective fee rate and either routes a loan to the
// cheapest provider able to cover it or spreads it over several providers.
type Manager struct {
	self     common.Address
	owner    common.Address
	ledger   *ledger.Ledger
	registry *Registry
	logger   *zap.Logger
	metrics  *metrics.FlashLoanMetrics
	guard    Guard

	mu        sync.RWMutex
	feeSink   common.Address
	marginBps uint64

	cache   *quoteCache
	limiter *rate.Limiter
}

// Option configures a Manager.
type Option func(*Manager) error

// WithFeeSink sets the address the aggregator margin is paid to.
func WithFeeSink(sink common.Address) Option {
	return func(m *Manager) error {
		m.feeSink = sink
		return nil
	}
}

// WithMarginBps sets the aggregator margin in basis points.
func WithMarginBps(bps uint64) Option {
	return func(m *Manager) error {
		if bps > fmath.BasisPoints {
			return fmt.Errorf("margin %d bps exceeds 100%%", bps)
		}
		m.marginBps = bps
		return nil
	}
}

// WithFactory grants the operator role to a second identity.
func WithFactory(factory common.Address) Option {
	return func(m *Manager) error {
		m.registry.factory = factory
		return nil
	}
}

// WithGatedIntrospection restricts registry enumeration to operators.
func WithGatedIntrospection() Option {
	return func(m *Manager) error {
		m.registry.gatedRead = true
		return nil
	}
}

// WithQuoteCache caches up to size ranked lists.
func WithQuoteCache(size int) Option {
	return func(m *Manager) error {
		cache, err := newQuoteCache(size)
		if err != nil {
			return fmt.Errorf("quote cache: %w", err)
		}
		m.cache = cache
		return nil
	}
}

// WithExecutionLimiter throttles loan executions.
func WithExecutionLimiter(limiter *rate.Limiter) Option {
	return func(m *Manager) error {
		m.limiter = limiter
		return nil
	}
}

// WithMetrics replaces the default unregistered metrics.
func WithMetrics(fm *metrics.FlashLoanMetrics) Option {
	return func(m *Manager) error {
		if fm == nil {
			return fmt.Errorf("metrics cannot be nil")
		}
		m.metrics = fm
		return nil
	}
}

// NewManager creates an aggregator living at self and administered by owner.
func NewManager(self, owner common.Address, l *ledger.Ledger, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if !ValidAddress(self) || !ValidAddress(owner) {
		return nil, fmt.Errorf("%w: manager and owner must be non-zero", ErrInvalidAddress)
	}
	if l == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	m := &Manager{
		self:      self,
		owner:     owner,
		ledger:    l,
		registry:  NewRegistry(owner),
		logger:    logger,
		marginBps: DefaultMarginBps,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.metrics == nil {
		m.metrics = metrics.NewFlashLoanMetrics("flashloan", nil)
	}
	return m, nil
}

// Address returns the identity the manager uses when calling providers.
func (m *Manager) Address() common.Address {
	return m.self
}

func (m *Manager) String() string {
	return "FlashLoanAggregator"
}

// Registry exposes the provider registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Metrics exposes the engine metrics.
func (m *Manager) Metrics() *metrics.FlashLoanMetrics {
	return m.metrics
}

// AddProviders registers providers. Restricted to operators.
func (m *Manager) AddProviders(ctx context.Context, providers ...Provider) (int, error) {
	added, err := m.registry.AddProviders(ctx, providers...)
	if err == nil && added > 0 {
		m.logger.Info("Providers added", zap.Int("added", added))
	}
	return added, err
}

// RemoveProviders deregisters providers. Restricted to operators.
func (m *Manager) RemoveProviders(ctx context.Context, addrs ...common.Address) (int, error) {
	removed, err := m.registry.RemoveProviders(ctx, addrs...)
	if err == nil && removed > 0 {
		m.logger.Info("Providers removed", zap.Int("removed", removed))
	}
	return removed, err
}

// ProviderLength returns the number of registered providers.
func (m *Manager) ProviderLength(ctx context.Context) (int, error) {
	return m.registry.ProviderLength(ctx)
}

// SetFeeSink changes the margin recipient. Restricted to the owner. The zero
// address disables the margin.
func (m *Manager) SetFeeSink(ctx context.Context, sink common.Address) error {
	if err := RequireCaller(ctx, m.owner); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeSink = sink
	return nil
}

// FeeSink returns the margin recipient.
func (m *Manager) FeeSink() common.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.feeSink
}

// SetMarginBps changes the aggregator margin. Restricted to the owner.
func (m *Manager) SetMarginBps(ctx context.Context, bps uint64) error {
	if err := RequireCaller(ctx, m.owner); err != nil {
		return err
	}
	if bps > fmath.BasisPoints {
		return fmt.Errorf("margin %d bps exceeds 100%%", bps)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marginBps = bps
	return nil
}

// AggregatorFee returns the margin due to the fee sink for a loan of amount.
// It is zero when no fee sink is configured.
func (m *Manager) AggregatorFee(amount *big.Int) (*big.Int, error) {
	m.mu.RLock()
	sink, bps := m.feeSink, m.marginBps
	m.mu.RUnlock()
	if !ValidAddress(sink) || bps == 0 {
		return new(big.Int), nil
	}
	return fmath.BpsFee(amount, bps)
}

// FlashLoanInfoListWithCheaperFeePriority ranks the providers able to lend at
// least amount of token: cheapest effective rate first, deeper liquidity
// first on ties. Providers whose queries fail are treated as empty.
func (m *Manager) FlashLoanInfoListWithCheaperFeePriority(ctx context.Context, token common.Address, amount *big.Int) ([]FlashLoanInfo, error) {
	return m.rank(ctx, token, amount, false)
}

// rank lists providers able to lend amount. With pooled set, venues that
// spread loans over their own pools are quoted on their combined liquidity.
func (m *Manager) rank(ctx context.Context, token common.Address, amount *big.Int, pooled bool) ([]FlashLoanInfo, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	providers, regVersion := m.registry.all()
	key := quoteKey{
		token:    token,
		amount:   amount.String(),
		registry: regVersion,
		state:    m.ledger.Version(),
		pooled:   pooled,
	}
	if m.cache != nil {
		if infos, ok := m.cache.get(key); ok {
			m.metrics.QuoteCacheHits.Inc()
			return infos, nil
		}
		m.metrics.QuoteCacheMisses.Inc()
	}

	pctx := WithCaller(ctx, m.self)
	infos := make([]FlashLoanInfo, 0, len(providers))
	for _, p := range providers {
		info, ok := m.quote(pctx, p, token, pooled)
		if !ok || info.MaxLoan.Cmp(amount) < 0 {
			continue
		}
		infos = append(infos, info)
	}
	SortInfos(infos)

	if m.cache != nil {
		m.cache.add(key, infos)
	}
	return infos, nil
}

// quote reads one provider's capacity and fee at capacity. Failures are
// logged and reported as no liquidity.
func (m *Manager) quote(ctx context.Context, p Provider, token common.Address, pooled bool) (FlashLoanInfo, bool) {
	maxLoan, err := maxFlashLoan(ctx, p, token, pooled)
	if err != nil {
		m.skip(p, token, "max flash loan", err)
		return FlashLoanInfo{}, false
	}
	if maxLoan == nil || maxLoan.Sign() <= 0 {
		return FlashLoanInfo{}, false
	}
	fee, err := flashFee(ctx, p, token, maxLoan, pooled)
	if err != nil {
		m.skip(p, token, "flash fee", err)
		return FlashLoanInfo{}, false
	}
	info, err := NewFlashLoanInfo(p, maxLoan, fee)
	if err != nil {
		m.skip(p, token, "effective rate", err)
		return FlashLoanInfo{}, false
	}
	return info, true
}

// maxFlashLoan, flashFee and flashLoan route through a venue's many-pools
// entry points when pooled is set and the venue has them.
func maxFlashLoan(ctx context.Context, p Provider, token common.Address, pooled bool) (*big.Int, error) {
	if mp, ok := p.(ManyPoolsProvider); ok && pooled {
		return mp.MaxFlashLoanWithManyPools(ctx, token)
	}
	return p.MaxFlashLoan(ctx, token)
}

func flashFee(ctx context.Context, p Provider, token common.Address, amount *big.Int, pooled bool) (*big.Int, error) {
	if mp, ok := p.(ManyPoolsProvider); ok && pooled {
		return mp.FlashFeeWithManyPools(ctx, token, amount)
	}
	return p.FlashFee(ctx, token, amount)
}

func flashLoan(ctx context.Context, p Provider, receiver Borrower, token common.Address, amount *big.Int, data []byte, pooled bool) error {
	if mp, ok := p.(ManyPoolsProvider); ok && pooled {
		return mp.FlashLoanWithManyPools(ctx, receiver, token, amount, data)
	}
	return p.FlashLoan(ctx, receiver, token, amount, data)
}

func (m *Manager) skip(p Provider, token common.Address, query string, err error) {
	m.metrics.SkippedProviders.WithLabelValues(p.String()).Inc()
	m.logger.Warn("Failed to query provider",
		zap.Stringer("provider", p),
		zap.String("query", query),
		zap.String("token", token.Hex()),
		zap.Error(err))
}

func (m *Manager) cheapest(ctx context.Context, token common.Address, amount *big.Int) (FlashLoanInfo, error) {
	if amount == nil || amount.Sign() <= 0 {
		return FlashLoanInfo{}, ErrInvalidAmount
	}
	infos, err := m.FlashLoanInfoListWithCheaperFeePriority(ctx, token, amount)
	if err != nil {
		return FlashLoanInfo{}, err
	}
	if len(infos) == 0 {
		return FlashLoanInfo{}, fmt.Errorf("%w: token %s amount %s", ErrNoProviderFound, token.Hex(), amount)
	}
	return infos[0], nil
}

// MaxFlashLoanWithCheapestProvider returns the capacity of the cheapest
// provider able to lend amount. Probing with amount 1 yields the cheapest
// provider's capacity.
func (m *Manager) MaxFlashLoanWithCheapestProvider(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error) {
	info, err := m.cheapest(ctx, token, amount)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(info.MaxLoan), nil
}

// FlashFeeWithCheapestProvider returns the fee the cheapest capable provider
// charges for amount.
func (m *Manager) FlashFeeWithCheapestProvider(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error) {
	info, err := m.cheapest(ctx, token, amount)
	if err != nil {
		return nil, err
	}
	return info.Provider.FlashFee(WithCaller(ctx, m.self), token, amount)
}

// FlashLoanWithCheapestProvider borrows the whole amount from the cheapest
// provider able to cover it.
func (m *Manager) FlashLoanWithCheapestProvider(ctx context.Context, receiver Borrower, token common.Address, amount *big.Int, data []byte) error {
	return m.execute(ctx, receiver, token, amount, func(pctx context.Context) (*big.Int, error) {
		info, err := m.cheapest(pctx, token, amount)
		if err != nil {
			return nil, err
		}
		fee, err := info.Provider.FlashFee(pctx, token, amount)
		if err != nil {
			return nil, fmt.Errorf("%s fee: %w", info.Provider, err)
		}
		m.metrics.ProviderSelections.WithLabelValues(info.Provider.String()).Inc()
		if err := info.Provider.FlashLoan(pctx, receiver, token, amount, data); err != nil {
			return nil, fmt.Errorf("%s loan: %w", info.Provider, err)
		}
		return fee, nil
	})
}

// MaxFlashLoanWithManyProviders returns the sum of every provider's capacity,
// counting all the pools of venues that can spread a loan over them.
func (m *Manager) MaxFlashLoanWithManyProviders(ctx context.Context, token common.Address) (*big.Int, error) {
	infos, err := m.rank(ctx, token, big.NewInt(1), true)
	if err != nil {
		return nil, err
	}
	total := new(big.Int)
	for _, info := range infos {
		total.Add(total, info.MaxLoan)
	}
	return total, nil
}

func (m *Manager) plan(ctx context.Context, token common.Address, amount *big.Int, providerCount int) ([]Draw[FlashLoanInfo], error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	infos, err := m.rank(ctx, token, big.NewInt(1), true)
	if err != nil {
		return nil, err
	}
	return Fill(infos, func(info FlashLoanInfo) *big.Int { return info.MaxLoan }, amount, providerCount)
}

// FlashFeeWithManyProviders returns the total fee of spreading amount over
// the ranked providers, using at most providerCount of them (no bound when
// providerCount <= 0).
func (m *Manager) FlashFeeWithManyProviders(ctx context.Context, token common.Address, amount *big.Int, providerCount int) (*big.Int, error) {
	draws, err := m.plan(ctx, token, amount, providerCount)
	if err != nil {
		return nil, err
	}
	pctx := WithCaller(ctx, m.self)
	total := new(big.Int)
	for _, d := range draws {
		fee, err := flashFee(pctx, d.Source.Provider, token, d.Amount, true)
		if err != nil {
			return nil, fmt.Errorf("%s fee: %w", d.Source.Provider, err)
		}
		total.Add(total, fee)
	}
	return total, nil
}

// FlashLoanWithManyProviders spreads amount over the ranked providers, one
// loan per provider in ranked order. Venues with several pools spread their
// slice over those pools. Each provider's live capacity is checked
// right before drawing from it.
func (m *Manager) FlashLoanWithManyProviders(ctx context.Context, receiver Borrower, token common.Address, amount *big.Int, data []byte, providerCount int) error {
	return m.execute(ctx, receiver, token, amount, func(pctx context.Context) (*big.Int, error) {
		draws, err := m.plan(pctx, token, amount, providerCount)
		if err != nil {
			return nil, err
		}
		total := new(big.Int)
		for i, d := range draws {
			p := d.Source.Provider
			live, err := maxFlashLoan(pctx, p, token, true)
			if err != nil {
				return nil, fmt.Errorf("leg %d %s: %w", i, p, err)
			}
			if live.Cmp(d.Amount) < 0 {
				return nil, fmt.Errorf("%w: leg %d %s has %s, planned %s", ErrNoProviderFound, i, p, live, d.Amount)
			}
			fee, err := flashFee(pctx, p, token, d.Amount, true)
			if err != nil {
				return nil, fmt.Errorf("leg %d %s fee: %w", i, p, err)
			}
			m.metrics.ProviderSelections.WithLabelValues(p.String()).Inc()
			if err := flashLoan(pctx, p, receiver, token, d.Amount, data, true); err != nil {
				return nil, fmt.Errorf("leg %d %s loan: %w", i, p, err)
			}
			total.Add(total, fee)
		}
		return total, nil
	})
}

// MaxFlashLoan returns the cheapest provider's capacity, or zero when no
// provider lends token.
func (m *Manager) MaxFlashLoan(ctx context.Context, token common.Address) (*big.Int, error) {
	maxLoan, err := m.MaxFlashLoanWithCheapestProvider(ctx, token, big.NewInt(1))
	if errors.Is(err, ErrNoProviderFound) {
		return new(big.Int), nil
	}
	return maxLoan, err
}

// FlashFee is FlashFeeWithCheapestProvider.
func (m *Manager) FlashFee(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error) {
	return m.FlashFeeWithCheapestProvider(ctx, token, amount)
}

// FlashLoan is FlashLoanWithCheapestProvider.
func (m *Manager) FlashLoan(ctx context.Context, receiver Borrower, token common.Address, amount *big.Int, data []byte) error {
	return m.FlashLoanWithCheapestProvider(ctx, receiver, token, amount, data)
}

// execute runs legs atomically: on any failure every ledger write made since
// entry is rolled back.
func (m *Manager) execute(ctx context.Context, receiver Borrower, token common.Address, amount *big.Int, legs func(context.Context) (*big.Int, error)) (err error) {
	if receiver == nil || !ValidAddress(receiver.Address()) {
		return fmt.Errorf("%w: receiver", ErrInvalidAddress)
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("execution rate limit: %w", err)
		}
	}
	if err := m.guard.Enter(); err != nil {
		return err
	}
	defer m.guard.Exit()

	start := time.Now()
	m.metrics.ActiveLoans.Inc()
	defer func() {
		m.metrics.ActiveLoans.Dec()
		m.metrics.ExecutionLatency.Observe(time.Since(start).Seconds())
	}()

	snapshot := m.ledger.Snapshot()
	defer func() {
		if err != nil {
			if rerr := m.ledger.RevertToSnapshot(snapshot); rerr != nil {
				m.logger.Error("Failed to revert flash loan", zap.Error(rerr))
			}
			m.metrics.Errors.WithLabelValues(errorType(err)).Inc()
			m.metrics.ObserveOutcome(false)
			m.logger.Warn("Flash loan reverted",
				zap.String("token", token.Hex()),
				zap.String("amount", amount.String()),
				zap.String("receiver", receiver.Address().Hex()),
				zap.Error(err))
			return
		}
		m.ledger.DiscardSnapshot(snapshot)
		m.metrics.ObserveOutcome(true)
	}()

	pctx := WithCaller(ctx, m.self)
	fees, err := legs(pctx)
	if err != nil {
		return err
	}
	margin, err := m.collectMargin(token, receiver, amount)
	if err != nil {
		return err
	}

	m.metrics.Volume.Add(metrics.Float(amount))
	m.metrics.Fees.Add(metrics.Float(fees))
	m.metrics.Margin.Add(metrics.Float(margin))
	m.logger.Info("Flash loan executed",
		zap.String("token", token.Hex()),
		zap.String("amount", amount.String()),
		zap.String("fee", fees.String()),
		zap.String("margin", margin.String()))
	return nil
}

// collectMargin pulls the aggregator margin from the receiver into the fee
// sink. The receiver must have approved the manager for it.
func (m *Manager) collectMargin(token common.Address, receiver Borrower, amount *big.Int) (*big.Int, error) {
	margin, err := m.AggregatorFee(amount)
	if err != nil {
		return nil, err
	}
	if margin.Sign() == 0 {
		return margin, nil
	}
	if err := m.ledger.TransferFrom(token, m.self, receiver.Address(), m.FeeSink(), margin); err != nil {
		return nil, fmt.Errorf("%w: aggregator margin: %v", ErrRepaymentInsufficient, err)
	}
	return margin, nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrNoProviderFound):
		return "no_provider_found"
	case errors.Is(err, ErrAmountExceedsMaxFlashLoan):
		return "amount_exceeds_max"
	case errors.Is(err, ErrUnsupportedCurrency):
		return "unsupported_currency"
	case errors.Is(err, ErrRepaymentInsufficient):
		return "repayment_insufficient"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrCallbackFailed):
		return "callback_failed"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrReentrancy):
		return "reentrancy"
	default:
		return "other"
	}
}
