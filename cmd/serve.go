package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/utils/metrics"
	"github.com/michaelpento.lv/flashlender/utils/monitor"
)

func newServeCmd() *cobra.Command {
	var (
		listen   string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose scenario liquidity and runtime metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			metrics.Initialize(&metrics.MetricsConfig{ReportInterval: interval}, logger)
			reg := metrics.Registry()

			sim, cfg, err := loadSimulator(ctx, reg)
			if err != nil {
				return err
			}
			mon, err := monitor.NewSystemMonitor(ctx, cfg.Metrics.Namespace, interval, reg, logger)
			if err != nil {
				return err
			}
			defer mon.Cleanup()

			done := make(chan struct{})
			go func() {
				defer close(done)
				sim.MonitorLiquidity(ctx, interval)
			}()

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			server := &http.Server{
				Addr:              listen,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Serving metrics", zap.String("addr", listen))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
				logger.Info("Shutting down gracefully...")
			case err = <-errCh:
				logger.Error("Metrics server failed", zap.Error(err))
			}

			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
				err = shutdownErr
			}
			cancel()
			<-done
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":9090", "metrics listen address")
	cmd.Flags().DurationVar(&interval, "interval", 15*time.Second, "liquidity and runtime sampling interval")
	return cmd
}
