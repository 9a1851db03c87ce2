// Package simulator assembles an in-memory world from a scenario: a ledger,
// the aggregation engine, every configured venue and the borrowing accounts.
// Quotes and loans run against that world.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/flashlender/config"
	"github.com/michaelpento.lv/flashlender/flashloan"
	"github.com/michaelpento.lv/flashlender/flashloan/borrower"
	"github.com/michaelpento.lv/flashlender/flashloan/venue"
	"github.com/michaelpento.lv/flashlender/ledger"
	"github.com/michaelpento.lv/flashlender/utils/metrics"
)

var ErrUnknownAccount = errors.New("unknown account")

// Quote is one ranked provider for a token.
type Quote struct {
	Provider string
	Address  common.Address
	MaxLoan  *big.Int
	FeeAtMax *big.Int
	// Rate is the fee per unit borrowed at MaxLoan.
	Rate decimal.Decimal
}

// Request describes one simulated loan.
type Request struct {
	Account string
	Token   string
	// Amount is in whole token units.
	Amount        string
	ManyProviders bool
	// ProviderCount caps the providers a ManyProviders loan may use; zero
	// means no cap.
	ProviderCount int
	Data          []byte
}

// Leg is one provider callback the borrower received.
type Leg struct {
	Lender common.Address
	Amount *big.Int
	Fee    *big.Int
}

// Result is the outcome of a simulated loan.
type Result struct {
	Success bool
	Error   error
	Amount  *big.Int
	// QuotedFee is the provider fee quoted before execution.
	QuotedFee *big.Int
	Margin    *big.Int
	Legs      []Leg
	// Cost is what the borrower paid in total.
	Cost     *big.Int
	SinkGain *big.Int
	Duration time.Duration
}

// Simulator owns the world built from one scenario.
type Simulator struct {
	cfg       *config.Config
	ledger    *ledger.Ledger
	manager   *flashloan.Manager
	lenders   []*venue.Lender
	borrowers map[string]*borrower.FlashBorrower
	logger    *zap.Logger
}

// NewSimulator builds the world described by cfg. Metrics go to reg; a nil
// reg leaves them unregistered.
func NewSimulator(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*Simulator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	agg := cfg.Aggregator
	owner := common.HexToAddress(agg.Owner)
	l := ledger.New()

	namespace := cfg.Metrics.Namespace
	if namespace == "" {
		namespace = "flashlender"
	}
	opts := []flashloan.Option{
		flashloan.WithMarginBps(agg.MarginBps),
		flashloan.WithMetrics(metrics.NewFlashLoanMetrics(namespace, reg)),
	}
	if agg.FeeSink != "" {
		opts = append(opts, flashloan.WithFeeSink(common.HexToAddress(agg.FeeSink)))
	}
	if agg.Factory != "" {
		opts = append(opts, flashloan.WithFactory(common.HexToAddress(agg.Factory)))
	}
	if agg.GatedIntrospection {
		opts = append(opts, flashloan.WithGatedIntrospection())
	}
	if agg.QuoteCacheSize > 0 {
		opts = append(opts, flashloan.WithQuoteCache(agg.QuoteCacheSize))
	}
	if agg.RateLimit.RequestsPerSecond > 0 {
		opts = append(opts, flashloan.WithExecutionLimiter(
			rate.NewLimiter(rate.Limit(agg.RateLimit.RequestsPerSecond), agg.RateLimit.BurstSize)))
	}

	manager, err := flashloan.NewManager(common.HexToAddress(agg.Address), owner, l, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregator: %w", err)
	}

	s := &Simulator{
		cfg:       cfg,
		ledger:    l,
		manager:   manager,
		borrowers: make(map[string]*borrower.FlashBorrower),
		logger:    logger,
	}

	admin := flashloan.WithCaller(ctx, owner)
	b := &venueBuilder{cfg: cfg, ledger: l, logger: logger, reg: reg, admin: admin}
	providers := make([]flashloan.Provider, 0, len(cfg.Venues))
	for _, v := range cfg.Venues {
		p, lender, err := b.build(v)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
		s.lenders = append(s.lenders, lender)
	}
	if _, err := manager.AddProviders(admin, providers...); err != nil {
		return nil, fmt.Errorf("failed to register providers: %w", err)
	}

	for _, a := range cfg.Accounts {
		fb, err := borrower.New(common.HexToAddress(a.Address), l, logger.With(zap.String("account", a.Name)))
		if err != nil {
			return nil, err
		}
		fb.TrustInitiator(manager.Address())
		if err := mintBalances(cfg, l, fb.Address(), a.Balances); err != nil {
			return nil, fmt.Errorf("failed to fund account %s: %w", a.Name, err)
		}
		s.borrowers[a.Name] = fb
	}

	logger.Info("Simulation world ready",
		zap.Int("venues", len(providers)),
		zap.Int("accounts", len(s.borrowers)),
		zap.Int("tokens", len(cfg.Tokens)))
	return s, nil
}

func (s *Simulator) Manager() *flashloan.Manager {
	return s.manager
}

func (s *Simulator) Ledger() *ledger.Ledger {
	return s.ledger
}

// Borrower returns the account called name.
func (s *Simulator) Borrower(name string) (*borrower.FlashBorrower, error) {
	b, ok := s.borrowers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, name)
	}
	return b, nil
}

func (s *Simulator) token(symbol string) (config.TokenConfig, error) {
	t, ok := s.cfg.Token(symbol)
	if !ok {
		return config.TokenConfig{}, fmt.Errorf("%w: %s", flashloan.ErrUnsupportedCurrency, symbol)
	}
	return t, nil
}

// Quote ranks the providers able to lend amount of the token, cheapest first.
// An empty amount ranks every provider with liquidity.
func (s *Simulator) Quote(ctx context.Context, symbol, amount string) ([]Quote, error) {
	token, err := s.token(symbol)
	if err != nil {
		return nil, err
	}
	units := big.NewInt(1)
	if amount != "" {
		if units, err = token.BaseUnits(amount); err != nil {
			return nil, err
		}
	}

	infos, err := s.manager.FlashLoanInfoListWithCheaperFeePriority(ctx, token.Addr(), units)
	if err != nil {
		return nil, err
	}
	quotes := make([]Quote, len(infos))
	for i, info := range infos {
		quotes[i] = Quote{
			Provider: info.Provider.String(),
			Address:  info.Provider.Address(),
			MaxLoan:  info.MaxLoan,
			FeeAtMax: info.FeeAtMax,
			Rate:     decimal.NewFromBigInt(info.Rate, -18),
		}
	}
	return quotes, nil
}

// Estimate is the price of a loan before it runs.
type Estimate struct {
	Amount *big.Int
	// Fee is what the providers charge.
	Fee *big.Int
	// Margin is what the aggregator keeps.
	Margin *big.Int
	Total  *big.Int
}

// Estimate prices borrowing amount of the token from the cheapest provider,
// or spread over up to providerCount providers when many is set.
func (s *Simulator) Estimate(ctx context.Context, symbol, amount string, many bool, providerCount int) (*Estimate, error) {
	token, err := s.token(symbol)
	if err != nil {
		return nil, err
	}
	units, err := token.BaseUnits(amount)
	if err != nil {
		return nil, err
	}
	return s.estimate(ctx, token, units, many, providerCount)
}

func (s *Simulator) estimate(ctx context.Context, token config.TokenConfig, amount *big.Int, many bool, providerCount int) (*Estimate, error) {
	var (
		fee *big.Int
		err error
	)
	if many {
		fee, err = s.manager.FlashFeeWithManyProviders(ctx, token.Addr(), amount, providerCount)
	} else {
		fee, err = s.manager.FlashFeeWithCheapestProvider(ctx, token.Addr(), amount)
	}
	if err != nil {
		return nil, err
	}
	margin, err := s.manager.AggregatorFee(amount)
	if err != nil {
		return nil, err
	}
	return &Estimate{
		Amount: amount,
		Fee:    fee,
		Margin: margin,
		Total:  new(big.Int).Add(fee, margin),
	}, nil
}

// Simulate runs one loan for an account and reports its effect on the
// account and the fee sink. A failed loan is a Result with Success false.
func (s *Simulator) Simulate(ctx context.Context, req Request) (*Result, error) {
	fb, err := s.Borrower(req.Account)
	if err != nil {
		return nil, err
	}
	token, err := s.token(req.Token)
	if err != nil {
		return nil, err
	}
	amount, err := token.BaseUnits(req.Amount)
	if err != nil {
		return nil, err
	}

	res := &Result{Amount: amount}
	est, err := s.estimate(ctx, token, amount, req.ManyProviders, req.ProviderCount)
	if err != nil {
		res.Error = err
		return res, nil
	}
	res.QuotedFee, res.Margin = est.Fee, est.Margin

	sink := s.manager.FeeSink()
	balanceBefore := s.ledger.BalanceOf(token.Addr(), fb.Address())
	sinkBefore := s.ledger.BalanceOf(token.Addr(), sink)
	seen := len(fb.Callbacks())

	start := time.Now()
	if req.ManyProviders {
		err = fb.FlashBorrowWithManyProviders(ctx, s.manager, token.Addr(), amount, req.Data, req.ProviderCount)
	} else {
		err = fb.FlashBorrow(ctx, s.manager, token.Addr(), amount, req.Data)
	}
	res.Duration = time.Since(start)
	res.Success = err == nil
	res.Error = err

	for _, cb := range fb.Callbacks()[seen:] {
		res.Legs = append(res.Legs, Leg{Lender: cb.Lender, Amount: cb.Amount, Fee: cb.Fee})
	}
	res.Cost = new(big.Int).Sub(balanceBefore, s.ledger.BalanceOf(token.Addr(), fb.Address()))
	res.SinkGain = new(big.Int).Sub(s.ledger.BalanceOf(token.Addr(), sink), sinkBefore)

	fields := []zap.Field{
		zap.String("account", req.Account),
		zap.String("token", token.Symbol),
		zap.String("amount", amount.String()),
		zap.Int("legs", len(res.Legs)),
		zap.Duration("duration", res.Duration),
	}
	if err != nil {
		s.logger.Warn("Simulated flash loan failed", append(fields, zap.Error(err))...)
	} else {
		s.logger.Info("Simulated flash loan", append(fields, zap.String("cost", res.Cost.String()))...)
	}
	return res, nil
}

// Balance returns the holder's balance of the token in base units.
func (s *Simulator) Balance(symbol string, holder common.Address) (*big.Int, error) {
	token, err := s.token(symbol)
	if err != nil {
		return nil, err
	}
	return s.ledger.BalanceOf(token.Addr(), holder), nil
}

func (s *Simulator) tokenAddrs() []common.Address {
	addrs := make([]common.Address, len(s.cfg.Tokens))
	for i, t := range s.cfg.Tokens {
		addrs[i] = t.Addr()
	}
	return addrs
}

// RefreshLiquidity updates the pool liquidity gauges of every venue.
func (s *Simulator) RefreshLiquidity() {
	for _, l := range s.lenders {
		l.RefreshLiquidity(s.tokenAddrs())
	}
}

// MonitorLiquidity refreshes the pool liquidity gauges every interval until
// ctx is done.
func (s *Simulator) MonitorLiquidity(ctx context.Context, interval time.Duration) {
	tokens := s.tokenAddrs()
	done := make(chan struct{}, len(s.lenders))
	for _, l := range s.lenders {
		go func(l *venue.Lender) {
			l.MonitorLiquidity(ctx, tokens, interval)
			done <- struct{}{}
		}(l)
	}
	for range s.lenders {
		<-done
	}
}

// Accounts lists the configured account names, sorted.
func (s *Simulator) Accounts() []string {
	names := make([]string, 0, len(s.borrowers))
	for name := range s.borrowers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
