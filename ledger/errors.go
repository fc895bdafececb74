package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds reported by the executor and the stores. Callers match them
// with errors.Is; messages carry the detail.
var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrInvalidInput       = errors.New("invalid input")
	ErrPersistence        = errors.New("persistence failure")
	ErrConflict           = errors.New("conflict")
	// ErrTimeout marks work abandoned because the caller's context ended
	// before it ran. Nothing was applied.
	ErrTimeout = errors.New("timed out")
)

type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInsufficientFunds
	KindInsufficientShares
	KindInvalidInput
	KindPersistence
	KindConflict
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindInsufficientShares:
		return "insufficient_shares"
	case KindInvalidInput:
		return "invalid_input"
	case KindPersistence:
		return "persistence_failure"
	case KindConflict:
		return "conflict"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// KindOf classifies err. Persistence is checked last so a domain error
// surfaced from inside a store transaction keeps its own kind.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrInsufficientShares):
		return KindInsufficientShares
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrTimeout), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	default:
		return KindUnknown
	}
}

// IsDomain reports whether err is one of the business-rule kinds rather than
// an infrastructure failure.
func IsDomain(err error) bool {
	switch KindOf(err) {
	case KindUnknown, KindPersistence, KindTimeout:
		return false
	}
	return true
}

// Invalid builds an ErrInvalidInput with a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Persistence wraps a storage error unless it already carries a kind of its
// own. A context that ended mid-transaction stays KindTimeout.
func Persistence(err error) error {
	if err == nil || KindOf(err) != KindUnknown {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}
