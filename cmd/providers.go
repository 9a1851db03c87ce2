package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/flashlender/config"
	"github.com/michaelpento.lv/flashlender/simulator"
)

func newProvidersCmd() *cobra.Command {
	var amount string
	cmd := &cobra.Command{
		Use:   "providers TOKEN",
		Short: "Rank the providers lending a token, cheapest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sim, cfg, err := loadSimulator(cmd.Context(), nil)
			if err != nil {
				return err
			}
			quotes, err := sim.Quote(cmd.Context(), args[0], amount)
			if err != nil {
				return err
			}
			token, _ := cfg.Token(args[0])
			if len(quotes) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No provider can lend %s\n", token.Symbol)
				return nil
			}
			renderQuotes(cmd.OutOrStdout(), token, quotes)
			return nil
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "only list providers able to lend this amount")
	return cmd
}

var hundred = decimal.NewFromInt(100)

func renderQuotes(w io.Writer, token config.TokenConfig, quotes []simulator.Quote) {
	table := newTable(w, "#", "Provider", "Address", "Max loan", "Fee at max", "Rate")
	for i, q := range quotes {
		table.Append([]string{
			strconv.Itoa(i + 1),
			q.Provider,
			q.Address.Hex(),
			token.Units(q.MaxLoan),
			token.Units(q.FeeAtMax),
			q.Rate.Mul(hundred).StringFixed(4) + "%",
		})
	}
	table.Render()
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	return table
}
