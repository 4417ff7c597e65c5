package accounts

import (
	"context"
	"errors"
)

// ErrNotFound indicates no account exists for the requested identifier.
var ErrNotFound = errors.New("account not found")

// Repository persists account metadata.
type Repository interface {
	Create(ctx context.Context, account Account) error
	FindByID(ctx context.Context, id string) (Account, error)
	UpdateSettlement(ctx context.Context, id string, update SettlementUpdate) (Account, error)
}

// Store is the read path used by the packet switch. The cached store wraps
// a Repository behind this interface.
type Store interface {
	FindByID(ctx context.Context, id string) (Account, error)
}
