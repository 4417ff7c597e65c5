package ledger

import (
	"context"
	"errors"
	"math/big"
)

var (
	// ErrInsufficientFunds occurs when a reservation would take the
	// account's combined available balance below its minimum.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAmountNegative occurs when an operation is handed a negative
	// amount where only non-negative values are defined.
	ErrAmountNegative = errors.New("amount must not be negative")
)

// Entry is one account's balance state. ClearingBalance is the net amount
// owed between this node and the counterparty; positive means the
// counterparty owes this node. PrepaidAmount is a buffer of already-settled
// funds consumed ahead of the clearing balance.
type Entry struct {
	ClearingBalance *big.Int
	PrepaidAmount   *big.Int
}

// Reservation is a provisional debit tied to one in-flight prepare packet.
// It is consumed by exactly one Commit or Void; the token's first consumer
// wins and replays are no-ops.
type Reservation struct {
	Token     string
	AccountID string
	Amount    *big.Int
}

// BalanceTracker holds per-account ledger entries. Every operation is a
// single atomic read-modify-write against one account's entry; operations
// on different accounts never block one another. Implementations must keep
// critical sections in-memory-bound: no network send happens under an
// account's lock.
type BalanceTracker interface {
	// Entry returns the current balance state for an account. Accounts
	// start at zero; reading an unknown account is not an error.
	Entry(ctx context.Context, accountID string) (Entry, error)

	// Reserve debits amount from the account's available balance, prepaid
	// first, failing with ErrInsufficientFunds if the combined balance
	// cannot cover it without breaching minBalance. No mutation on failure.
	Reserve(ctx context.Context, accountID string, amount, minBalance *big.Int) (Reservation, error)

	// Commit makes a reservation's debit permanent.
	Commit(ctx context.Context, res Reservation) error

	// Void reverses a reservation, crediting the debited amount back in the
	// same split it was taken from.
	Void(ctx context.Context, res Reservation) error

	// AdjustClearing applies a signed delta to the clearing balance and
	// returns the updated entry.
	AdjustClearing(ctx context.Context, accountID string, delta *big.Int) (Entry, error)

	// PrepareSettlement atomically evaluates the settlement threshold: when
	// the clearing balance has reached threshold, it debits the balance
	// down to settleTo and returns the debited amount. Returns nil when no
	// settlement is due.
	PrepareSettlement(ctx context.Context, accountID string, threshold, settleTo *big.Int) (*big.Int, error)

	// ApplySettlement credits an incoming settlement, offsetting any
	// negative clearing balance before banking the remainder as prepaid.
	// Idempotent per key: replays return the originally computed entry.
	ApplySettlement(ctx context.Context, idempotencyKey, accountID string, amount *big.Int) (Entry, error)
}
