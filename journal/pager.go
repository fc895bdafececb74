package journal

import (
	"context"
	"iter"
)

// All walks an account's transactions newest first, fetching pageSize rows
// at a time from log. The sequence is lazy: nothing is read until the caller
// ranges over it, and each range starts again from the newest transaction.
// A read error is yielded once and ends the sequence.
func All(ctx context.Context, log Log, accountID string, pageSize int) iter.Seq2[Transaction, error] {
	if pageSize <= 0 {
		pageSize = DefaultLimit
	}
	if pageSize > MaxLimit {
		pageSize = MaxLimit
	}
	return func(yield func(Transaction, error) bool) {
		offset := 0
		for {
			page, err := log.ListTransactions(ctx, accountID, pageSize, offset)
			if err != nil {
				yield(Transaction{}, err)
				return
			}
			for _, tx := range page {
				if !yield(tx, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			offset += len(page)
		}
	}
}
