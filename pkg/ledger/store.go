package ledger

import "context"

// Store is the persistence contract used by Service. Each account is one
// document; SaveAccount is a compare-and-swap on Version and returns
// ErrVersionConflict when the stored version differs from expectedVersion.
// A successful save stores Version expectedVersion+1. FindAccountByEmail
// matches the normalized login email and returns ErrUnknownAccount on a miss.
type Store interface {
	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, bankID BankID) (Account, error)
	FindAccountByEmail(ctx context.Context, email string) (Account, error)
	SaveAccount(ctx context.Context, account Account, expectedVersion int64) error
	ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, error)
}
