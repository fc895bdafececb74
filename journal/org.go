package journal

import (
	"fmt"
	"strings"
	"time"
)

// FormatTransactionOrg renders a transaction as an Org-mode entry with the
// structured fields in a PROPERTIES drawer.
func FormatTransactionOrg(t Transaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** %s %d %s @ %s (%s)\n", t.Side, t.Quantity, t.Symbol, t.Price.StringFixed(2), shortID(t.ID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":ID: %s\n", t.ID)
	fmt.Fprintf(&b, ":ACCOUNT: %s\n", t.AccountID)
	fmt.Fprintf(&b, ":SYMBOL: %s\n", t.Symbol)
	fmt.Fprintf(&b, ":SIDE: %s\n", t.Side)
	fmt.Fprintf(&b, ":QUANTITY: %d\n", t.Quantity)
	fmt.Fprintf(&b, ":PRICE: %s\n", t.Price.StringFixed(2))
	fmt.Fprintf(&b, ":TOTAL: %s\n", t.TotalAmount.StringFixed(2))
	fmt.Fprintf(&b, ":CREATED: %s\n", t.CreatedAt.UTC().Format(time.RFC3339))
	b.WriteString(":END:\n")
	return b.String()
}

// FormatTransactionsOrg renders several transactions separated by blank lines.
func FormatTransactionsOrg(txs []Transaction) string {
	var b strings.Builder
	for i, t := range txs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(FormatTransactionOrg(t))
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[len(full)-8:]
}
