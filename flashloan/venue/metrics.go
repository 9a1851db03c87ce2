package venue

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/utils/metrics"
)

type lenderMetrics struct {
	loanCount     prometheus.Counter
	loanVolume    prometheus.Counter
	fees          prometheus.Counter
	latency       prometheus.Histogram
	errors        prometheus.Counter
	poolLiquidity *prometheus.GaugeVec
}

func newLenderMetrics(venue string, lender common.Address, reg prometheus.Registerer) *lenderMetrics {
	f := promauto.With(reg)
	labels := prometheus.Labels{"venue": venue, "lender": lender.Hex()}
	return &lenderMetrics{
		loanCount: f.NewCounter(prometheus.CounterOpts{
			Name:        "flashloan_venue_loans_total",
			Help:        "Total number of flash loans lent by the venue",
			ConstLabels: labels,
		}),
		loanVolume: f.NewCounter(prometheus.CounterOpts{
			Name:        "flashloan_venue_volume_total",
			Help:        "Total principal lent by the venue",
			ConstLabels: labels,
		}),
		fees: f.NewCounter(prometheus.CounterOpts{
			Name:        "flashloan_venue_fees_total",
			Help:        "Total fees earned by the venue",
			ConstLabels: labels,
		}),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Name:        "flashloan_venue_latency_seconds",
			Help:        "Latency of venue flash loan operations",
			Buckets:     prometheus.ExponentialBuckets(0.00001, 2, 16),
			ConstLabels: labels,
		}),
		errors: f.NewCounter(prometheus.CounterOpts{
			Name:        "flashloan_venue_errors_total",
			Help:        "Total number of failed venue flash loans",
			ConstLabels: labels,
		}),
		poolLiquidity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "flashloan_venue_pool_liquidity",
			Help:        "Lendable liquidity per pool and token",
			ConstLabels: labels,
		}, []string{"pool", "token"}),
	}
}

// RefreshLiquidity updates the pool liquidity gauges for tokens.
func (l *Lender) RefreshLiquidity(tokens []common.Address) {
	for _, p := range l.Pools() {
		for _, token := range tokens {
			if !p.Supports(token) {
				continue
			}
			liquidity, err := p.MaxFlashLoan(token)
			if err != nil {
				l.logger.Error("Failed to get pool liquidity",
					zap.String("pool", p.Address().Hex()),
					zap.String("token", token.Hex()),
					zap.Error(err))
				continue
			}
			l.metrics.poolLiquidity.WithLabelValues(p.Address().Hex(), token.Hex()).Set(metrics.Float(liquidity))
		}
	}
}

// MonitorLiquidity refreshes the liquidity gauges every interval until ctx is
// done.
func (l *Lender) MonitorLiquidity(ctx context.Context, tokens []common.Address, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.RefreshLiquidity(tokens)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.RefreshLiquidity(tokens)
		}
	}
}
