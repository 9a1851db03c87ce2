package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashlender/config"
	"github.com/michaelpento.lv/flashlender/simulator"
	"github.com/michaelpento.lv/flashlender/utils"
)

var (
	cfgFile string
	debug   bool
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "flashlender",
	Short: "A flash loan aggregator simulator",
	Long: `flashlender ranks flash loan venues by effective fee and simulates
ERC-3156 loans routed to the cheapest venue or spread over several.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "scenario file (default is $FLASHLENDER_CONFIG or ./flashlender.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newProvidersCmd(),
		newQuoteCmd(),
		newSimulateCmd(),
		newServeCmd(),
		newInitCmd(),
	)
}

func initConfig() {
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	if logger == nil {
		logger = utils.InitLogger(utils.LogOptions{
			Debug:    debug || config.DebugEnabled(),
			Dir:      config.GetEnvWithDefault(config.EnvLogDir, "."),
			Scenario: config.ConfigFile(cfgFile),
		})
	}
}

// loadSimulator builds the world from the selected scenario.
func loadSimulator(ctx context.Context, reg prometheus.Registerer) (*simulator.Simulator, *config.Config, error) {
	cfg, err := config.LoadConfig(config.ConfigFile(cfgFile))
	if err != nil {
		return nil, nil, err
	}
	cfg.Logger = logger
	sim, err := simulator.NewSimulator(ctx, cfg, logger, reg)
	if err != nil {
		return nil, nil, err
	}
	return sim, cfg, nil
}
