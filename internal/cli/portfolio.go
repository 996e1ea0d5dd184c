package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// addPortfolioCommands adds position, holding and fund commands.
func addPortfolioCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPositionsCmd(app))
	rootCmd.AddCommand(newHoldingsCmd(app))
	rootCmd.AddCommand(newFundsCmd(app))
	rootCmd.AddCommand(newResetCmd(app))
}

func newPositionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "Show open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			positions := app.Service.GetPositions(accountFlag(cmd))

			if output.IsJSON() {
				return output.JSON(positions)
			}
			if len(positions) == 0 {
				output.Dim("No open positions")
				return nil
			}

			table := NewTable(output, "SYMBOL", "EXCHANGE", "PRODUCT", "QTY", "AVG", "LTP", "P&L")
			for _, p := range positions {
				table.AddRow(p.Symbol, string(p.Exchange), string(p.Product),
					fmt.Sprintf("%d", p.Quantity), FormatPrice(p.AveragePrice),
					FormatPrice(p.LastPrice), output.FormatPnL(p.UnrealizedPnL))
			}
			table.Render()
			return nil
		},
	}
}

func newHoldingsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "holdings",
		Short: "Show settled holdings",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			holdings := app.Service.GetHoldings(accountFlag(cmd))

			if output.IsJSON() {
				return output.JSON(holdings)
			}
			if len(holdings) == 0 {
				output.Dim("No holdings")
				return nil
			}

			table := NewTable(output, "SYMBOL", "EXCHANGE", "QTY", "AVG", "LTP", "VALUE", "P&L")
			var totalValue, totalPnL float64
			for _, h := range holdings {
				totalValue += h.CurrentValue()
				totalPnL += h.PnL()
				table.AddRow(h.Symbol, string(h.Exchange), fmt.Sprintf("%d", h.Quantity),
					FormatPrice(h.AveragePrice), FormatPrice(h.LastPrice),
					FormatIndianCurrency(h.CurrentValue()), output.FormatPnL(h.PnL()))
			}
			table.Render()
			output.Println()
			output.Printf("Total value: %s  P&L: %s\n",
				FormatIndianCurrency(totalValue), output.FormatPnL(totalPnL))
			return nil
		},
	}
}

func newFundsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "funds",
		Short: "Show sandbox funds",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			funds := app.Service.GetFunds(accountFlag(cmd))

			if output.IsJSON() {
				return output.JSON(funds)
			}
			output.Bold("Sandbox Funds (%s)", funds.Account)
			output.Printf("  Available cash:  %s\n", FormatIndianCurrency(funds.AvailableCash))
			output.Printf("  Blocked margin:  %s\n", FormatIndianCurrency(funds.BlockedMargin))
			output.Printf("  Realized P&L:    %s\n", output.FormatPnL(funds.RealizedPnL))
			output.Printf("  Unrealized P&L:  %s\n", output.FormatPnL(funds.UnrealizedPnL))
			output.Printf("  Collateral:      %s\n", FormatIndianCurrency(funds.CollateralValue))
			return nil
		},
	}
}

func newResetCmd(app *App) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset sandbox funds to starting capital",
		Long: `Reset the account's funds to starting capital immediately. Open
positions and holdings survive; their margin is re-blocked against the
fresh capital and P&L counters restart from zero.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if !confirm {
				return fmt.Errorf("pass --yes to confirm the reset")
			}

			funds := app.Service.ResetFunds(accountFlag(cmd))
			if err := app.Checkpoint(); err != nil {
				app.Logger.Warn().Err(err).Msg("Checkpoint after reset failed")
			}

			if output.IsJSON() {
				return output.JSON(funds)
			}
			output.Success("Funds reset")
			output.Printf("  Available cash: %s\n", FormatIndianCurrency(funds.AvailableCash))
			output.Printf("  Blocked margin: %s\n", FormatIndianCurrency(funds.BlockedMargin))
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm the reset")
	return cmd
}
