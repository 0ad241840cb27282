/*
store.go - Persistence interfaces for bookings, the ledger, and settlements

PURPOSE:
  Defines the interface between domain logic and the database. Different
  implementations back this with SQLite, PostgreSQL, or memory.

KEY INTERFACES:
  BookingStore:    Versioned booking persistence (optimistic locking)
  LedgerStore:     Append-only settlement transaction log
  SettlementStore: OPEN/CLOSED settlement state (versioned)
  RateStore:       Daily-rate lookups for the pricing recalculator
  AuditStore:      Append-only audit trail
  TxStore:         Everything above plus atomic units of work

APPEND-ONLY CONTRACT:
  LedgerStore has no Delete and no general Update. The single sanctioned
  mutation is a transaction status transition, gated by the settlement
  service. Corrections are new transactions, never edits.

OPTIMISTIC LOCKING:
  UpdateBooking and UpdateSettlement take the version the caller read.
  If the row has moved on, the store fails with ErrConcurrencyConflict
  and writes nothing. Preview is read-only and takes no lock at all;
  this is what makes long-lived previews cheap.

ATOMIC UNITS:
  WithTx runs fn against a transactional view of the store. If fn
  returns an error, every write inside it is rolled back. The
  modification executor commits booking field updates and the resulting
  ledger append as one unit this way.

IMPLEMENTATIONS:
  - store/sqlite:   production single-node deployment
  - store/postgres: production multi-node deployment (database/sql + pq)
  - store/memory:   tests and development

SEE ALSO:
  - settlement/ledger.go: ledger service built on these interfaces
  - modification/executor.go: atomic commit built on WithTx
*/
package rental

import (
	"context"
	"time"
)

// =============================================================================
// BOOKING STORE
// =============================================================================

type BookingStore interface {
	// SaveBooking inserts a new booking (version 1) and its OPEN
	// settlement record.
	SaveBooking(ctx context.Context, b Booking) error

	// GetBooking returns the booking or an error wrapping ErrNotFound.
	GetBooking(ctx context.Context, id BookingID) (*Booking, error)

	// UpdateBooking persists b if the stored version equals
	// expectedVersion, incrementing the version. Fails with
	// ErrConcurrencyConflict otherwise.
	UpdateBooking(ctx context.Context, b Booking, expectedVersion int64) error

	ListBookings(ctx context.Context) ([]Booking, error)
}

// =============================================================================
// LEDGER STORE - Append-only
// =============================================================================

type LedgerStore interface {
	// AppendTransaction adds a ledger entry. This is the only way a
	// transaction comes into existence.
	AppendTransaction(ctx context.Context, tx SettlementTransaction) error

	// UpdateTransactionStatus is the single sanctioned mutation.
	// Transition legality is enforced by the settlement service; the
	// store only persists.
	UpdateTransactionStatus(ctx context.Context, id TransactionID, status TransactionStatus, at time.Time) error

	// GetTransaction returns a single entry or an error wrapping ErrNotFound.
	GetTransaction(ctx context.Context, id TransactionID) (*SettlementTransaction, error)

	// Transactions returns a booking's entries in chronological order.
	Transactions(ctx context.Context, bookingID BookingID) ([]SettlementTransaction, error)
}

// =============================================================================
// SETTLEMENT STORE
// =============================================================================

type SettlementStore interface {
	// GetSettlement returns the settlement record for a booking or an
	// error wrapping ErrNotFound. Every booking gets an OPEN settlement
	// at creation time (SaveBooking).
	GetSettlement(ctx context.Context, bookingID BookingID) (*SettlementState, error)

	// UpdateSettlement persists s if the stored version equals
	// expectedVersion, incrementing the version. Fails with
	// ErrConcurrencyConflict otherwise. Also used as the serialization
	// point for ledger mutations against the same booking.
	UpdateSettlement(ctx context.Context, s SettlementState, expectedVersion int64) error
}

// =============================================================================
// RATE STORE
// =============================================================================

type RateStore interface {
	SaveRate(ctx context.Context, r Rate) error

	// ActiveRate returns the rate covering the whole [from, to] range,
	// or an error wrapping ErrPricingUnavailable when none applies.
	ActiveRate(ctx context.Context, vehicleID VehicleID, from, to time.Time) (*Rate, error)
}

// =============================================================================
// AUDIT STORE - Append-only
// =============================================================================

type AuditStore interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	AuditTrail(ctx context.Context, bookingID BookingID) ([]AuditEntry, error)
}

// =============================================================================
// COMBINED STORE + TRANSACTIONAL STORE
// =============================================================================

// Store bundles every persistence concern the engine touches.
type Store interface {
	BookingStore
	LedgerStore
	SettlementStore
	RateStore
	AuditStore
}

// TxStore adds atomic units of work.
type TxStore interface {
	Store

	// WithTx executes fn against a transactional view. If fn returns an
	// error the unit of work is rolled back; the booking and ledger are
	// left exactly as they were. Durability: a nil return means the
	// writes are committed before the caller is told anything succeeded.
	WithTx(ctx context.Context, fn func(Store) error) error
}
