package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/stocksim/broker"
	"github.com/rustyeddy/stocksim/journal"
	"github.com/rustyeddy/stocksim/ledger"
)

var buyCmd = &cobra.Command{
	Use:   "buy <account-id> <symbol> <quantity>",
	Short: "Buy shares at the latest price",
	Long: `Place a market buy filled at the instrument's current price.

Example:
  stocksim buy 01HV... AAPL 10`,
	Args: cobra.ExactArgs(3),
	RunE: runTrade(ledger.Buy),
}

var sellCmd = &cobra.Command{
	Use:   "sell <account-id> <symbol> <quantity>",
	Short: "Sell shares at the latest price",
	Args:  cobra.ExactArgs(3),
	RunE:  runTrade(ledger.Sell),
}

func init() {
	rootCmd.AddCommand(buyCmd, sellCmd)
}

func runTrade(side ledger.Side) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		qty, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("quantity: %w", err)
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		tx, err := a.engine.Execute(cmd.Context(), broker.TradeRequest{
			AccountID: args[0],
			Symbol:    args[1],
			Quantity:  qty,
			Side:      side,
		})
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), journal.FormatTransactionOrg(tx))
		return nil
	}
}
