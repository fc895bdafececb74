package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CostPrecision is the number of decimal places kept for average cost.
const CostPrecision int32 = 10

// NextHolding computes the position after a fill of qty at price. prev with
// zero quantity means "no position". keep is false when a sell closes the
// position, in which case the holding must be removed.
func NextHolding(prev Holding, side Side, price decimal.Decimal, qty int64) (next Holding, keep bool, err error) {
	if qty <= 0 {
		return prev, prev.Quantity > 0, Invalid("quantity must be positive, got %d", qty)
	}
	switch side {
	case Buy:
		if prev.Quantity <= 0 {
			return Holding{Symbol: prev.Symbol, Quantity: qty, AverageCost: price}, true, nil
		}
		oldQty := decimal.NewFromInt(prev.Quantity)
		newQty := decimal.NewFromInt(prev.Quantity + qty)
		avg := prev.AverageCost.Mul(oldQty).
			Add(price.Mul(decimal.NewFromInt(qty))).
			DivRound(newQty, CostPrecision)
		return Holding{Symbol: prev.Symbol, Quantity: prev.Quantity + qty, AverageCost: avg}, true, nil

	case Sell:
		if prev.Quantity < qty {
			return prev, prev.Quantity > 0, fmt.Errorf("%w: %s holds %d, sell %d",
				ErrInsufficientShares, prev.Symbol, prev.Quantity, qty)
		}
		rest := prev.Quantity - qty
		if rest == 0 {
			return Holding{}, false, nil
		}
		return Holding{Symbol: prev.Symbol, Quantity: rest, AverageCost: prev.AverageCost}, true, nil
	}
	return prev, prev.Quantity > 0, Invalid("unknown side %q", side)
}

// Fill is the outcome of applying a trade to an account.
type Fill struct {
	Account Account
	Price   decimal.Decimal
	Total   decimal.Decimal
}

// Apply executes side/qty of symbol at price against a copy of acct. The
// input account is never modified; on error it is returned unchanged.
func Apply(acct Account, side Side, symbol string, price decimal.Decimal, qty int64) (Fill, error) {
	if qty <= 0 {
		return Fill{}, Invalid("quantity must be positive, got %d", qty)
	}
	if !side.Valid() {
		return Fill{}, Invalid("unknown side %q", side)
	}
	if price.IsNegative() {
		return Fill{}, Invalid("negative price %s for %s", price, symbol)
	}

	cost := price.Mul(decimal.NewFromInt(qty))
	prev, ok := acct.Holdings[symbol]
	if !ok {
		prev = Holding{Symbol: symbol}
	}

	if side == Buy && acct.Balance.LessThan(cost) {
		return Fill{}, fmt.Errorf("%w: balance %s, cost %s", ErrInsufficientFunds, acct.Balance.StringFixed(2), cost.StringFixed(2))
	}

	next, keep, err := NextHolding(prev, side, price, qty)
	if err != nil {
		return Fill{}, err
	}

	out := acct.Clone()
	if side == Buy {
		out.Balance = out.Balance.Sub(cost)
	} else {
		out.Balance = out.Balance.Add(cost)
	}
	if keep {
		out.Holdings[symbol] = next
	} else {
		delete(out.Holdings, symbol)
	}
	return Fill{Account: out, Price: price, Total: cost}, nil
}

// Deposit credits amount to a copy of acct.
func Deposit(acct Account, amount decimal.Decimal) (Account, error) {
	if !amount.IsPositive() {
		return acct, Invalid("deposit amount must be positive")
	}
	out := acct.Clone()
	out.Balance = out.Balance.Add(amount)
	return out, nil
}

// Withdraw debits amount from a copy of acct.
func Withdraw(acct Account, amount decimal.Decimal) (Account, error) {
	if !amount.IsPositive() {
		return acct, Invalid("withdraw amount must be positive")
	}
	if acct.Balance.LessThan(amount) {
		return acct, fmt.Errorf("%w: balance %s, withdraw %s", ErrInsufficientFunds, acct.Balance.StringFixed(2), amount.StringFixed(2))
	}
	out := acct.Clone()
	out.Balance = out.Balance.Sub(amount)
	return out, nil
}
