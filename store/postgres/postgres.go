/*
Package postgres provides a PostgreSQL-backed implementation of the
storage interfaces.

PURPOSE:
  Implements rental.TxStore on database/sql with the lib/pq driver.
  Semantics match store/sqlite exactly; only the SQL dialect differs
  ($n placeholders, native TIMESTAMPTZ/NUMERIC/BOOLEAN columns, no
  store-level mutex because PostgreSQL handles writer concurrency).

OPTIMISTIC LOCKING:
  Same compare-and-swap shape as sqlite: UPDATE ... WHERE id = $n AND
  version = $m. Zero rows affected on an existing row means the caller
  lost the race and gets ErrConcurrencyConflict.

USAGE:
  db, err := sql.Open("postgres", dsn)
  store, err := postgres.New(db)

  New does not migrate; run Migrate(db) once at startup or manage the
  schema externally.

SEE ALSO:
  - store/sqlite: single-node implementation with the shared schema notes
  - rental/store.go: interface definitions
*/
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/warp/rental-engine/rental"
)

// Store implements rental.TxStore on a PostgreSQL connection pool.
type Store struct {
	db *sql.DB
	queries
}

// New wraps an opened connection pool. The caller owns the pool's
// lifecycle (Close, ping, pool sizing).
func New(db *sql.DB) *Store {
	return &Store{db: db, queries: queries{db: db}}
}

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		start_at TIMESTAMPTZ NOT NULL,
		end_at TIMESTAMPTZ NOT NULL,
		pickup_location TEXT NOT NULL,
		dropoff_location TEXT NOT NULL,
		status TEXT NOT NULL,
		original_amount NUMERIC(14,2) NOT NULL,
		current_amount NUMERIC(14,2) NOT NULL,
		currency TEXT NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settlements (
		booking_id TEXT PRIMARY KEY REFERENCES bookings(id),
		status TEXT NOT NULL DEFAULT 'OPEN',
		closed_at TIMESTAMPTZ,
		close_notes TEXT NOT NULL DEFAULT '',
		reopen_reason TEXT NOT NULL DEFAULT '',
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settlement_transactions (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL REFERENCES bookings(id),
		tx_type TEXT NOT NULL,
		amount NUMERIC(14,2) NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		is_post_completion BOOLEAN NOT NULL DEFAULT FALSE,
		payment_method TEXT NOT NULL DEFAULT '',
		reference_number TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_booking
		ON settlement_transactions(booking_id, created_at);

	CREATE TABLE IF NOT EXISTS rates (
		id TEXT PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		daily_rate NUMERIC(14,2) NOT NULL,
		currency TEXT NOT NULL,
		valid_from TIMESTAMPTZ NOT NULL,
		valid_to TIMESTAMPTZ NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_rates_vehicle
		ON rates(vehicle_id, valid_from, valid_to);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL,
		action TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_booking
		ON audit_log(booking_id, created_at);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// WithTx executes fn against a transaction-bound view.
func (s *Store) WithTx(ctx context.Context, fn func(rental.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txView{queries{db: sqlTx}}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txView struct {
	queries
}

var _ rental.TxStore = (*Store)(nil)
var _ rental.Store = (*txView)(nil)

// =============================================================================
// QUERIES
// =============================================================================

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

// -----------------------------------------------------------------------------
// Bookings
// -----------------------------------------------------------------------------

func (q queries) SaveBooking(ctx context.Context, b rental.Booking) error {
	if b.Version == 0 {
		b.Version = 1
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO bookings
		(id, vehicle_id, start_at, end_at, pickup_location, dropoff_location,
		 status, original_amount, current_amount, currency, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		b.ID, b.VehicleID, b.StartAt, b.EndAt, b.PickupLocation, b.DropoffLocation,
		b.Status, b.OriginalAmount.Value.String(), b.CurrentAmount.Value.String(),
		b.OriginalAmount.Currency, b.Version, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save booking: %w", err)
	}

	// Every booking opens with an OPEN settlement.
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO settlements (booking_id, status, version, created_at, updated_at)
		VALUES ($1, $2, 1, $3, $4)`,
		b.ID, rental.SettlementOpen, b.CreatedAt, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to open settlement: %w", err)
	}
	return nil
}

func (q queries) GetBooking(ctx context.Context, id rental.BookingID) (*rental.Booking, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, vehicle_id, start_at, end_at, pickup_location, dropoff_location,
		       status, original_amount, current_amount, currency, version, created_at, updated_at
		FROM bookings WHERE id = $1`, id)

	var b rental.Booking
	var original, current, currency string
	err := row.Scan(&b.ID, &b.VehicleID, &b.StartAt, &b.EndAt, &b.PickupLocation,
		&b.DropoffLocation, &b.Status, &original, &current, &currency,
		&b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, &rental.NotFoundError{Kind: "booking", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	b.OriginalAmount = moneyFrom(original, currency)
	b.CurrentAmount = moneyFrom(current, currency)
	return &b, nil
}

func (q queries) UpdateBooking(ctx context.Context, b rental.Booking, expectedVersion int64) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE bookings
		SET vehicle_id = $1, start_at = $2, end_at = $3, pickup_location = $4,
		    dropoff_location = $5, status = $6, current_amount = $7,
		    version = version + 1, updated_at = $8
		WHERE id = $9 AND version = $10`,
		b.VehicleID, b.StartAt, b.EndAt, b.PickupLocation, b.DropoffLocation,
		b.Status, b.CurrentAmount.Value.String(), b.UpdatedAt, b.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	return q.checkVersionedWrite(ctx, res,
		"SELECT COUNT(1) FROM bookings WHERE id = $1", string(b.ID), "booking")
}

func (q queries) ListBookings(ctx context.Context) ([]rental.Booking, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, vehicle_id, start_at, end_at, pickup_location, dropoff_location,
		       status, original_amount, current_amount, currency, version, created_at, updated_at
		FROM bookings ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var result []rental.Booking
	for rows.Next() {
		var b rental.Booking
		var original, current, currency string
		err := rows.Scan(&b.ID, &b.VehicleID, &b.StartAt, &b.EndAt, &b.PickupLocation,
			&b.DropoffLocation, &b.Status, &original, &current, &currency,
			&b.Version, &b.CreatedAt, &b.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		b.OriginalAmount = moneyFrom(original, currency)
		b.CurrentAmount = moneyFrom(current, currency)
		result = append(result, b)
	}
	return result, rows.Err()
}

// -----------------------------------------------------------------------------
// Ledger
// -----------------------------------------------------------------------------

func (q queries) AppendTransaction(ctx context.Context, tx rental.SettlementTransaction) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO settlement_transactions
		(id, booking_id, tx_type, amount, currency, status, is_post_completion,
		 payment_method, reference_number, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		tx.ID, tx.BookingID, tx.Type, tx.Amount.Value.String(), tx.Amount.Currency,
		tx.Status, tx.IsPostCompletion, tx.PaymentMethod, tx.ReferenceNumber,
		tx.Notes, tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (q queries) UpdateTransactionStatus(ctx context.Context, id rental.TransactionID, status rental.TransactionStatus, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE settlement_transactions SET status = $1, updated_at = $2 WHERE id = $3`,
		status, at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &rental.NotFoundError{Kind: "transaction", ID: string(id)}
	}
	return nil
}

func (q queries) GetTransaction(ctx context.Context, id rental.TransactionID) (*rental.SettlementTransaction, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, booking_id, tx_type, amount, currency, status, is_post_completion,
		       payment_method, reference_number, notes, created_at, updated_at
		FROM settlement_transactions WHERE id = $1`, id)

	var tx rental.SettlementTransaction
	var amount, currency string
	err := row.Scan(&tx.ID, &tx.BookingID, &tx.Type, &amount, &currency, &tx.Status,
		&tx.IsPostCompletion, &tx.PaymentMethod, &tx.ReferenceNumber, &tx.Notes,
		&tx.CreatedAt, &tx.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, &rental.NotFoundError{Kind: "transaction", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	tx.Amount = moneyFrom(amount, currency)
	return &tx, nil
}

func (q queries) Transactions(ctx context.Context, bookingID rental.BookingID) ([]rental.SettlementTransaction, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, booking_id, tx_type, amount, currency, status, is_post_completion,
		       payment_method, reference_number, notes, created_at, updated_at
		FROM settlement_transactions
		WHERE booking_id = $1
		ORDER BY created_at ASC, id ASC`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	defer rows.Close()

	var result []rental.SettlementTransaction
	for rows.Next() {
		var tx rental.SettlementTransaction
		var amount, currency string
		err := rows.Scan(&tx.ID, &tx.BookingID, &tx.Type, &amount, &currency, &tx.Status,
			&tx.IsPostCompletion, &tx.PaymentMethod, &tx.ReferenceNumber, &tx.Notes,
			&tx.CreatedAt, &tx.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Amount = moneyFrom(amount, currency)
		result = append(result, tx)
	}
	return result, rows.Err()
}

// -----------------------------------------------------------------------------
// Settlements
// -----------------------------------------------------------------------------

func (q queries) GetSettlement(ctx context.Context, bookingID rental.BookingID) (*rental.SettlementState, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT booking_id, status, closed_at, close_notes, reopen_reason, version, created_at, updated_at
		FROM settlements WHERE booking_id = $1`, bookingID)

	var st rental.SettlementState
	var closedAt sql.NullTime
	err := row.Scan(&st.BookingID, &st.Status, &closedAt, &st.CloseNotes,
		&st.ReopenReason, &st.Version, &st.CreatedAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, &rental.NotFoundError{Kind: "settlement", ID: string(bookingID)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	if closedAt.Valid {
		t := closedAt.Time
		st.ClosedAt = &t
	}
	return &st, nil
}

func (q queries) UpdateSettlement(ctx context.Context, s rental.SettlementState, expectedVersion int64) error {
	var closedAt any
	if s.ClosedAt != nil {
		closedAt = *s.ClosedAt
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE settlements
		SET status = $1, closed_at = $2, close_notes = $3, reopen_reason = $4,
		    version = version + 1, updated_at = $5
		WHERE booking_id = $6 AND version = $7`,
		s.Status, closedAt, s.CloseNotes, s.ReopenReason, s.UpdatedAt,
		s.BookingID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update settlement: %w", err)
	}
	return q.checkVersionedWrite(ctx, res,
		"SELECT COUNT(1) FROM settlements WHERE booking_id = $1", string(s.BookingID), "settlement")
}

// -----------------------------------------------------------------------------
// Rates
// -----------------------------------------------------------------------------

func (q queries) SaveRate(ctx context.Context, r rental.Rate) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO rates (id, vehicle_id, daily_rate, currency, valid_from, valid_to, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.VehicleID, r.DailyRate.Value.String(), r.DailyRate.Currency,
		r.ValidFrom, r.ValidTo, r.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save rate: %w", err)
	}
	return nil
}

func (q queries) ActiveRate(ctx context.Context, vehicleID rental.VehicleID, from, to time.Time) (*rental.Rate, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, vehicle_id, daily_rate, currency, valid_from, valid_to, active
		FROM rates
		WHERE vehicle_id = $1 AND active = TRUE AND valid_from <= $2 AND valid_to >= $3
		ORDER BY valid_from DESC LIMIT 1`,
		vehicleID, from, to)

	var r rental.Rate
	var rate, currency string
	err := row.Scan(&r.ID, &r.VehicleID, &rate, &currency, &r.ValidFrom, &r.ValidTo, &r.Active)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no active rate for vehicle %s: %w", vehicleID, rental.ErrPricingUnavailable)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rate: %w", err)
	}
	r.DailyRate = moneyFrom(rate, currency)
	return &r, nil
}

// -----------------------------------------------------------------------------
// Audit
// -----------------------------------------------------------------------------

func (q queries) AppendAudit(ctx context.Context, entry rental.AuditEntry) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, booking_id, action, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.BookingID, entry.Action, entry.Actor, entry.Reason, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (q queries) AuditTrail(ctx context.Context, bookingID rental.BookingID) ([]rental.AuditEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, booking_id, action, actor, reason, created_at
		FROM audit_log WHERE booking_id = $1 ORDER BY created_at ASC`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}
	defer rows.Close()

	var result []rental.AuditEntry
	for rows.Next() {
		var e rental.AuditEntry
		if err := rows.Scan(&e.ID, &e.BookingID, &e.Action, &e.Actor, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func (q queries) checkVersionedWrite(ctx context.Context, res sql.Result, existsQuery, id, kind string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	if err := q.db.QueryRowContext(ctx, existsQuery, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return &rental.NotFoundError{Kind: kind, ID: id}
	}
	return rental.ErrConcurrencyConflict
}

func moneyFrom(value, currency string) rental.Money {
	d, err := decimal.NewFromString(value)
	if err != nil {
		d = decimal.Zero
	}
	return rental.Money{Value: d, Currency: currency}
}
