package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sandbox-trader/internal/models"
	"sandbox-trader/internal/sandbox"
)

// addOrderCommands adds order placement and management commands.
func addOrderCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPlaceCmd(app))
	rootCmd.AddCommand(newModifyCmd(app))
	rootCmd.AddCommand(newCancelCmd(app))
	rootCmd.AddCommand(newOrdersCmd(app))
	rootCmd.AddCommand(newTradesCmd(app))
}

func newPlaceCmd(app *App) *cobra.Command {
	var (
		symbol   string
		exchange string
		side     string
		orderTyp string
		product  string
		quantity int
		price    float64
		trigger  float64
		tag      string
	)

	cmd := &cobra.Command{
		Use:   "place",
		Short: "Place a sandbox order",
		Long: `Place a simulated order. The order is margined against sandbox funds
and rests in the order book until the execution engine fills it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			req := sandbox.OrderRequest{
				Account:      accountFlag(cmd),
				Symbol:       strings.ToUpper(symbol),
				Exchange:     models.Exchange(strings.ToUpper(exchange)),
				Side:         models.OrderSide(strings.ToUpper(side)),
				Type:         models.OrderType(strings.ToUpper(orderTyp)),
				Product:      models.ProductType(strings.ToUpper(product)),
				Quantity:     quantity,
				Price:        price,
				TriggerPrice: trigger,
				Tag:          tag,
			}

			order, err := app.Service.PlaceOrder(cmd.Context(), req)
			if err != nil {
				if output.IsJSON() {
					return output.JSONError(err)
				}
				if order.ID != "" {
					output.Error("Order %s rejected: %v", order.ID, err)
				} else {
					output.Error("Order rejected: %v", err)
				}
				return err
			}

			if output.IsJSON() {
				return output.JSON(order)
			}
			output.Success("Order placed: %s", order.ID)
			output.Printf("  %s %d %s on %s (%s %s)\n",
				order.Side, order.Quantity, order.Symbol, order.Exchange, order.Product, order.Type)
			output.Printf("  Margin blocked: %s\n", FormatIndianCurrency(order.BlockedMargin))
			return nil
		},
	}

	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "trading symbol (required)")
	cmd.Flags().StringVarP(&exchange, "exchange", "e", "NSE", "exchange (NSE/BSE/NFO/CDS/MCX)")
	cmd.Flags().StringVar(&side, "side", "", "BUY or SELL (required)")
	cmd.Flags().StringVarP(&orderTyp, "type", "t", "MARKET", "order type (MARKET/LIMIT/SL/SL-M)")
	cmd.Flags().StringVarP(&product, "product", "p", "MIS", "product (MIS/CNC/NRML)")
	cmd.Flags().IntVarP(&quantity, "qty", "q", 0, "quantity (required)")
	cmd.Flags().Float64Var(&price, "price", 0, "limit price")
	cmd.Flags().Float64Var(&trigger, "trigger", 0, "trigger price for SL/SL-M")
	cmd.Flags().StringVar(&tag, "tag", "", "free-form order tag")
	cmd.MarkFlagRequired("symbol")
	cmd.MarkFlagRequired("side")
	cmd.MarkFlagRequired("qty")

	return cmd
}

func newModifyCmd(app *App) *cobra.Command {
	var (
		quantity int
		price    float64
		trigger  float64
	)

	cmd := &cobra.Command{
		Use:   "modify <order-id>",
		Short: "Modify a working order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			order, err := app.Service.ModifyOrder(cmd.Context(), accountFlag(cmd), args[0], quantity, price, trigger)
			if err != nil {
				if output.IsJSON() {
					return output.JSONError(err)
				}
				output.Error("Modify failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(order)
			}
			output.Success("Order modified: %s", order.ID)
			output.Printf("  qty %d  price %.2f  trigger %.2f\n",
				order.Quantity, order.Price, order.TriggerPrice)
			return nil
		},
	}

	cmd.Flags().IntVarP(&quantity, "qty", "q", 0, "new quantity (required)")
	cmd.Flags().Float64Var(&price, "price", 0, "new limit price")
	cmd.Flags().Float64Var(&trigger, "trigger", 0, "new trigger price")
	cmd.MarkFlagRequired("qty")

	return cmd
}

func newCancelCmd(app *App) *cobra.Command {
	var (
		all      bool
		symbol   string
		exchange string
		product  string
	)

	cmd := &cobra.Command{
		Use:   "cancel [order-id]",
		Short: "Cancel a working order, or all matching with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			account := accountFlag(cmd)

			if all {
				filter := sandbox.OrderFilter{
					Symbol:   symbol,
					Exchange: models.Exchange(exchange),
					Product:  models.ProductType(product),
				}
				cancelled := app.Service.CancelAllOrders(cmd.Context(), account, filter)
				if output.IsJSON() {
					return output.JSON(cancelled)
				}
				output.Success("Cancelled %d orders", len(cancelled))
				return nil
			}

			if len(args) != 1 {
				return fmt.Errorf("order id required unless --all is given")
			}
			order, err := app.Service.CancelOrder(cmd.Context(), account, args[0])
			if err != nil {
				if output.IsJSON() {
					return output.JSONError(err)
				}
				output.Error("Cancel failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(order)
			}
			output.Success("Order cancelled: %s", order.ID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "cancel every matching working order of the account")
	cmd.Flags().StringVar(&symbol, "symbol", "", "with --all, only this trading symbol")
	cmd.Flags().StringVar(&exchange, "exchange", "", "with --all, only this exchange")
	cmd.Flags().StringVar(&product, "product", "", "with --all, only this product type")
	return cmd
}

func newOrdersCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "Show the order book",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			orders := app.Service.GetOrderBook(accountFlag(cmd))

			if output.IsJSON() {
				return output.JSON(orders)
			}
			if len(orders) == 0 {
				output.Dim("No orders")
				return nil
			}

			table := NewTable(output, "ID", "SYMBOL", "SIDE", "TYPE", "PRODUCT", "QTY", "PRICE", "STATUS")
			for _, o := range orders {
				price := FormatPrice(o.Price)
				if o.Status == models.StatusComplete {
					price = FormatPrice(o.AveragePrice)
				}
				table.AddRow(o.ID, o.Symbol, string(o.Side), string(o.Type),
					string(o.Product), fmt.Sprintf("%d", o.Quantity), price, statusCell(output, o))
			}
			table.Render()
			return nil
		},
	}
}

func statusCell(output *Output, o models.Order) string {
	switch o.Status {
	case models.StatusComplete:
		return output.ColoredString(ColorGreen, string(o.Status))
	case models.StatusRejected:
		return output.ColoredString(ColorRed, string(o.Status))
	case models.StatusCancelled:
		return output.ColoredString(ColorDim, string(o.Status))
	default:
		return output.ColoredString(ColorYellow, string(o.Status))
	}
}

func newTradesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "trades",
		Short: "Show the trade book",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			trades := app.Service.GetTradeBook(accountFlag(cmd))

			if output.IsJSON() {
				return output.JSON(trades)
			}
			if len(trades) == 0 {
				output.Dim("No trades")
				return nil
			}

			table := NewTable(output, "ID", "SYMBOL", "SIDE", "PRODUCT", "QTY", "PRICE", "TIME")
			for _, t := range trades {
				table.AddRow(t.ID, t.Symbol, string(t.Side), string(t.Product),
					fmt.Sprintf("%d", t.Quantity), FormatPrice(t.Price), FormatDateTime(t.ExecutedAt))
			}
			table.Render()
			return nil
		},
	}
}
