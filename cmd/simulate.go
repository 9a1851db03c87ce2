package cmd

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/flashlender/simulator"
)

func newSimulateCmd() *cobra.Command {
	var (
		account       string
		many          bool
		providerCount int
		data          string
	)
	cmd := &cobra.Command{
		Use:   "simulate TOKEN AMOUNT",
		Short: "Run a flash loan against the scenario and report its cost",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload []byte
			if data != "" {
				var err error
				if payload, err = hexutil.Decode(data); err != nil {
					return fmt.Errorf("invalid --data: %w", err)
				}
			}

			sim, cfg, err := loadSimulator(cmd.Context(), nil)
			if err != nil {
				return err
			}
			res, err := sim.Simulate(cmd.Context(), simulator.Request{
				Account:       account,
				Token:         args[0],
				Amount:        args[1],
				ManyProviders: many,
				ProviderCount: providerCount,
				Data:          payload,
			})
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("flash loan failed: %w", res.Error)
			}

			token, _ := cfg.Token(args[0])
			out := cmd.OutOrStdout()
			legs := newTable(out, "Leg", "Lender", "Amount", "Fee")
			for i, leg := range res.Legs {
				legs.Append([]string{
					strconv.Itoa(i + 1),
					leg.Lender.Hex(),
					token.Units(leg.Amount),
					token.Units(leg.Fee),
				})
			}
			legs.Render()

			summary := newTable(out, "Amount", "Provider fee", "Margin", "Borrower cost", "Fee sink gain")
			summary.Append([]string{
				token.Units(res.Amount),
				token.Units(res.QuotedFee),
				token.Units(res.Margin),
				token.Units(res.Cost),
				token.Units(res.SinkGain),
			})
			summary.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "borrower", "borrowing account name")
	cmd.Flags().BoolVar(&many, "many", false, "spread the loan over several providers")
	cmd.Flags().IntVar(&providerCount, "providers", 0, "maximum providers for --many (0 means no limit)")
	cmd.Flags().StringVar(&data, "data", "", "hex payload passed to the borrower callback")
	return cmd
}
