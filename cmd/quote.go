package cmd

import (
	"github.com/spf13/cobra"
)

func newQuoteCmd() *cobra.Command {
	var (
		many          bool
		providerCount int
	)
	cmd := &cobra.Command{
		Use:   "quote TOKEN AMOUNT",
		Short: "Price a flash loan without running it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sim, cfg, err := loadSimulator(cmd.Context(), nil)
			if err != nil {
				return err
			}
			est, err := sim.Estimate(cmd.Context(), args[0], args[1], many, providerCount)
			if err != nil {
				return err
			}
			token, _ := cfg.Token(args[0])

			table := newTable(cmd.OutOrStdout(), "Amount", "Provider fee", "Margin", "Total")
			table.Append([]string{
				token.Units(est.Amount),
				token.Units(est.Fee),
				token.Units(est.Margin),
				token.Units(est.Total),
			})
			table.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&many, "many", false, "spread the loan over several providers")
	cmd.Flags().IntVar(&providerCount, "providers", 0, "maximum providers for --many (0 means no limit)")
	return cmd
}
