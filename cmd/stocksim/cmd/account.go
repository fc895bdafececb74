package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/stocksim/broker"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Open and inspect accounts",
	Long: `Manage simulated accounts.

Subcommands:
  open      - Open a new account
  show      - Print balance and holdings at current prices
  deposit   - Add cash
  withdraw  - Remove cash
  top       - Rank accounts by total value

Examples:
  stocksim account open alice --balance 25000
  stocksim account show 01HV...`,
}

var accountOpenCmd = &cobra.Command{
	Use:   "open <name>",
	Short: "Open a new account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountOpen,
}

var accountShowCmd = &cobra.Command{
	Use:   "show <account-id>",
	Short: "Print an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountShow,
}

var accountDepositCmd = &cobra.Command{
	Use:   "deposit <account-id> <amount>",
	Short: "Add cash to an account",
	Args:  cobra.ExactArgs(2),
	RunE:  runAccountCash(true),
}

var accountWithdrawCmd = &cobra.Command{
	Use:   "withdraw <account-id> <amount>",
	Short: "Remove cash from an account",
	Args:  cobra.ExactArgs(2),
	RunE:  runAccountCash(false),
}

var accountTopCmd = &cobra.Command{
	Use:   "top",
	Short: "Rank accounts by total value",
	Args:  cobra.NoArgs,
	RunE:  runAccountTop,
}

var (
	accountOpenID      string
	accountOpenBalance string
	accountTopLimit    int
)

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountOpenCmd, accountShowCmd, accountDepositCmd, accountWithdrawCmd, accountTopCmd)

	accountOpenCmd.Flags().StringVar(&accountOpenID, "id", "", "account id (generated when empty)")
	accountOpenCmd.Flags().StringVarP(&accountOpenBalance, "balance", "b", "", "opening balance (default from config)")
	accountTopCmd.Flags().IntVarP(&accountTopLimit, "limit", "n", 10, "number of accounts")
}

func runAccountOpen(cmd *cobra.Command, args []string) error {
	req := broker.OpenAccountRequest{ID: accountOpenID, Name: args[0]}
	if accountOpenBalance != "" {
		b, err := decimal.NewFromString(accountOpenBalance)
		if err != nil {
			return fmt.Errorf("balance: %w", err)
		}
		req.Balance = &b
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	v, err := a.engine.OpenAccount(cmd.Context(), req)
	if err != nil {
		return err
	}
	printAccount(cmd.OutOrStdout(), v)
	return nil
}

func runAccountShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	v, err := a.engine.GetAccount(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printAccount(cmd.OutOrStdout(), v)
	return nil
}

func runAccountCash(deposit bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		amount, err := decimal.NewFromString(args[1])
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var v broker.AccountView
		if deposit {
			v, err = a.engine.Deposit(cmd.Context(), args[0], amount)
		} else {
			v, err = a.engine.Withdraw(cmd.Context(), args[0], amount)
		}
		if err != nil {
			return err
		}
		printAccount(cmd.OutOrStdout(), v)
		return nil
	}
}

func runAccountTop(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.engine.Leaderboard(cmd.Context(), accountTopLimit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tACCOUNT\tNAME\tTOTAL")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.Rank, r.AccountID, r.Name, r.TotalValue.StringFixed(2))
	}
	return tw.Flush()
}

func printAccount(w io.Writer, v broker.AccountView) {
	fmt.Fprintf(w, "Account: %s (%s)\n", v.ID, v.Name)
	fmt.Fprintf(w, "  Cash:     $%s\n", v.Balance.StringFixed(2))
	fmt.Fprintf(w, "  Holdings: $%s\n", v.HoldingsValue.StringFixed(2))
	fmt.Fprintf(w, "  Total:    $%s\n", v.TotalValue.StringFixed(2))
	if len(v.Holdings) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tQTY\tAVG\tPRICE\tVALUE\tP/L")
	for _, h := range v.Holdings {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n", h.Symbol, h.Quantity,
			h.AverageCost.StringFixed(2), h.CurrentPrice.StringFixed(2),
			h.MarketValue.StringFixed(2), h.UnrealizedPL.StringFixed(2))
	}
	tw.Flush()
}
