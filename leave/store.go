/*
store.go - Persistence interfaces consumed by the leave service

PURPOSE:
  Defines what the service needs from a database. The service never
  touches SQL or buckets directly; it only sees these interfaces.

KEY INTERFACES:
  Store:     grants, reservations and usage records
  TxStore:   Store plus atomic multi-write transactions
  UserStore: user records (read-mostly)

NOT FOUND:
  Get* methods return (nil, nil) for a missing row. The service turns
  that into *NotFoundError where the row is required.

IMPLEMENTATIONS:
  - leave/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite
  - store/bolt/bolt.go: BoltDB

SEE ALSO:
  - service.go: Uses TxStore.WithTx around every mutation
*/
package leave

import "context"

// Store persists the ledger state for all users.
type Store interface {
	// ListGrants returns the user's grants ordered by year.
	ListGrants(ctx context.Context, userID UserID) ([]Grant, error)

	// GetGrant returns (nil, nil) if the user has no grant for year.
	GetGrant(ctx context.Context, userID UserID, year int) (*Grant, error)

	// SaveGrant inserts or replaces the grant keyed by (UserID, Year).
	SaveGrant(ctx context.Context, g Grant) error

	// ListReservations returns the user's reservations matching filter,
	// ordered by date then creation time.
	ListReservations(ctx context.Context, userID UserID, filter ReservationFilter) ([]Reservation, error)

	// ListAllReservations is ListReservations across every user.
	ListAllReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)

	GetReservation(ctx context.Context, id string) (*Reservation, error)
	CreateReservation(ctx context.Context, r Reservation) error
	UpdateReservationStatus(ctx context.Context, id string, status ReservationStatus) error

	CreateUsageRecord(ctx context.Context, u UsageRecord) error
	GetUsageRecord(ctx context.Context, id string) (*UsageRecord, error)
	DeleteUsageRecord(ctx context.Context, id string) error

	// ListUsageRecords returns the user's usage ordered by date.
	ListUsageRecords(ctx context.Context, userID UserID) ([]UsageRecord, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back and the error
	// is returned unchanged. If fn returns nil, the transaction commits.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// UserStore persists users.
type UserStore interface {
	SaveUser(ctx context.Context, u User) error
	// GetUser returns (nil, nil) if the user does not exist.
	GetUser(ctx context.Context, id UserID) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
}

// Repository is what the HTTP layer and the grant scheduler need.
type Repository interface {
	TxStore
	UserStore
}
