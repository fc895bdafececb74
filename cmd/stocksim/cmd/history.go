package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/stocksim/journal"
)

var historyCmd = &cobra.Command{
	Use:   "history <account-id>",
	Short: "Export an account's transactions",
	Long: `Print every transaction of an account, newest first.

Formats:
  org  - Org-mode entries with a PROPERTIES drawer
  csv  - one row per transaction with a header

Examples:
  stocksim history 01HV...
  stocksim history 01HV... --format csv --output trades.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

var (
	historyFormat string
	historyOutput string
	historyLimit  int
)

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "org", "output format: org or csv")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", "", "write to file instead of stdout")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "stop after n transactions (0 = all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyFormat != "org" && historyFormat != "csv" {
		return fmt.Errorf("unknown format %q", historyFormat)
	}
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.engine.GetAccount(ctx, args[0]); err != nil {
		return err
	}

	if historyOutput == "" {
		_, err := writeHistory(ctx, a.store, args[0], historyFormat, cmd.OutOrStdout(), historyLimit)
		return err
	}
	f, err := os.Create(historyOutput)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	n, err := exportHistory(ctx, a.store, args[0], historyFormat, f, historyLimit)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "✓ Wrote %d transactions to %s\n", n, historyOutput)
	return nil
}

// exportHistory writes to wc and closes it. A failed close is reported
// since buffered bytes may not have reached the file.
func exportHistory(ctx context.Context, src journal.Log, accountID, format string, wc io.WriteCloser, limit int) (int, error) {
	n, err := writeHistory(ctx, src, accountID, format, wc, limit)
	if cerr := wc.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close output: %w", cerr)
	}
	return n, err
}

// writeHistory streams an account's transactions, newest first, in org or
// csv form and returns how many were written.
func writeHistory(ctx context.Context, src journal.Log, accountID, format string, w io.Writer, limit int) (int, error) {
	var (
		csvw  *journal.CSVWriter
		count int
	)
	if format == "csv" {
		csvw = journal.NewCSVWriter(w)
	}
	for tx, err := range journal.All(ctx, src, accountID, journal.MaxLimit) {
		if err != nil {
			return count, err
		}
		if csvw != nil {
			if err := csvw.Write(tx); err != nil {
				return count, err
			}
		} else {
			if count > 0 {
				if _, err := fmt.Fprintln(w); err != nil {
					return count, err
				}
			}
			if _, err := fmt.Fprint(w, journal.FormatTransactionOrg(tx)); err != nil {
				return count, err
			}
		}
		count++
		if limit > 0 && count >= limit {
			break
		}
	}
	if csvw != nil {
		if err := csvw.Flush(); err != nil {
			return count, err
		}
	}
	return count, nil
}
