package accounts

import "context"

// Store is the durable credential store. It owns the "current account" pointer:
// at most one persisted account is current at any time.
// Implementations must be atomic per call and wrap failures with ErrStorageFailure.
type Store interface {
	// Persist upserts the account under its key and makes it current
	Persist(ctx context.Context, account *Account) error

	// RetrieveCurrent returns the current account, or nil when there is none
	RetrieveCurrent(ctx context.Context) (*Account, error)

	// RetrieveAll returns every persisted account keyed by Key
	RetrieveAll(ctx context.Context) (map[string]*Account, error)

	// Delete removes one account, clearing the current pointer if it referenced it
	Delete(ctx context.Context, userName, userID string) error

	// DeleteAll removes every account and the current pointer
	DeleteAll(ctx context.Context) error
}
