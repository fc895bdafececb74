package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/stocksim/market"
)

var instrumentsCmd = &cobra.Command{
	Use:     "instruments",
	Aliases: []string{"inst"},
	Short:   "Manage the instrument catalog",
	Long: `List, search and edit the tradable instruments.

Subcommands:
  list     - List every instrument
  search   - Search by symbol or name
  history  - Show recent prices of an instrument
  add      - List a new instrument
  price    - Set an instrument's price by hand
  delete   - Unlist an instrument nobody holds
  seed     - Upsert instruments from a YAML or CSV file

Examples:
  stocksim instruments search micro
  stocksim instruments add NVDA "NVIDIA Corp." 485.12 --sector Technology
  stocksim instruments seed listing.csv`,
}

var instrumentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every instrument",
	Args:  cobra.NoArgs,
	RunE:  runInstrumentsList,
}

var instrumentsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search by symbol or name",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstrumentsSearch,
}

var instrumentsHistoryCmd = &cobra.Command{
	Use:   "history <symbol>",
	Short: "Show recent prices, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstrumentsHistory,
}

var instrumentsAddCmd = &cobra.Command{
	Use:   "add <symbol> <name> <price>",
	Short: "List a new instrument",
	Args:  cobra.ExactArgs(3),
	RunE:  runInstrumentsAdd,
}

var instrumentsPriceCmd = &cobra.Command{
	Use:   "price <symbol> <price>",
	Short: "Set an instrument's price",
	Args:  cobra.ExactArgs(2),
	RunE:  runInstrumentsPrice,
}

var instrumentsDeleteCmd = &cobra.Command{
	Use:   "delete <symbol>",
	Short: "Unlist an instrument",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstrumentsDelete,
}

var instrumentsSeedCmd = &cobra.Command{
	Use:   "seed [file]",
	Short: "Upsert instruments from a file, or the default listing",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInstrumentsSeed,
}

var (
	instrumentsSector       string
	instrumentsSearchLimit  int
	instrumentsHistoryLimit int
)

func init() {
	rootCmd.AddCommand(instrumentsCmd)
	instrumentsCmd.AddCommand(
		instrumentsListCmd,
		instrumentsSearchCmd,
		instrumentsHistoryCmd,
		instrumentsAddCmd,
		instrumentsPriceCmd,
		instrumentsDeleteCmd,
		instrumentsSeedCmd,
	)

	instrumentsAddCmd.Flags().StringVarP(&instrumentsSector, "sector", "s", "", "sector")
	instrumentsSearchCmd.Flags().IntVarP(&instrumentsSearchLimit, "limit", "n", 0, "maximum results")
	instrumentsHistoryCmd.Flags().IntVarP(&instrumentsHistoryLimit, "limit", "n", 20, "number of prices")
}

func runInstrumentsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.catalog.List(cmd.Context())
	if err != nil {
		return err
	}
	return printInstruments(cmd.OutOrStdout(), rows)
}

func runInstrumentsSearch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.catalog.Search(cmd.Context(), args[0], instrumentsSearchLimit)
	if err != nil {
		return err
	}
	return printInstruments(cmd.OutOrStdout(), rows)
}

func runInstrumentsHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.catalog.History(cmd.Context(), args[0], instrumentsHistoryLimit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tPRICE")
	for _, p := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", p.RecordedAt.Local().Format("2006-01-02 15:04:05"), p.Price.StringFixed(2))
	}
	return tw.Flush()
}

func runInstrumentsAdd(cmd *cobra.Command, args []string) error {
	price, err := decimal.NewFromString(args[2])
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	in, err := a.catalog.Add(cmd.Context(), market.Instrument{
		Symbol: args[0],
		Name:   args[1],
		Sector: instrumentsSector,
		Price:  price,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Listed %s at $%s\n", in.Symbol, in.Price.StringFixed(2))
	return nil
}

func runInstrumentsPrice(cmd *cobra.Command, args []string) error {
	price, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	in, err := a.catalog.UpdatePrice(cmd.Context(), args[0], price)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s now $%s\n", in.Symbol, in.Price.StringFixed(2))
	return nil
}

func runInstrumentsDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.catalog.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Unlisted %s\n", args[0])
	return nil
}

func runInstrumentsSeed(cmd *cobra.Command, args []string) error {
	var (
		list []market.Instrument
		err  error
	)
	if len(args) == 1 {
		list, err = readSeedFile(args[0])
	} else {
		list, err = defaultInstruments()
	}
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.catalog.Seed(cmd.Context(), list)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Seeded %d instruments\n", n)
	return nil
}

func printInstruments(w io.Writer, rows []market.Instrument) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tNAME\tSECTOR\tPRICE\tUPDATED")
	for _, in := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", in.Symbol, in.Name, in.Sector,
			in.Price.StringFixed(2), in.LastUpdated.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}
