/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements rental.TxStore using SQLite. In production the same
  patterns apply to PostgreSQL (see store/postgres) - only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  The settlement_transactions table has no DELETE path and the only
  UPDATE touches the status/updated_at columns. Corrections are new
  transactions, never edits.

OPTIMISTIC LOCKING:
  bookings and settlements carry a version column. Updates are
  compare-and-swap: UPDATE ... WHERE id = ? AND version = ?. Zero rows
  affected on an existing row means another writer won the race and the
  caller gets ErrConcurrencyConflict.

KEY TABLES:
  bookings:                The aggregate the executor mutates
  settlements:             OPEN/CLOSED state per booking (versioned)
  settlement_transactions: Immutable money-movement ledger
  rates:                   Daily rates for the pricing recalculator
  audit_log:               Append-only who-did-what trail

WAL MODE:
  SQLite is opened with WAL so readers (previews are read-heavy) do not
  block the single writer.

USAGE:
  store, err := sqlite.New("./data/rental.db")
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool with versioned migrations.

SEE ALSO:
  - rental/store.go: interface definitions
  - store/postgres: PostgreSQL implementation
  - store/memory: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/rental-engine/rental"
)

// Store implements rental.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
	queries
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, queries: queries{db: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Bookings (versioned aggregate)
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		pickup_location TEXT NOT NULL,
		dropoff_location TEXT NOT NULL,
		status TEXT NOT NULL,
		original_amount TEXT NOT NULL,
		current_amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status);

	-- Settlements (OPEN/CLOSED state machine, versioned)
	CREATE TABLE IF NOT EXISTS settlements (
		booking_id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'OPEN',
		closed_at TEXT,
		close_notes TEXT NOT NULL DEFAULT '',
		reopen_reason TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Settlement transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS settlement_transactions (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		is_post_completion INTEGER NOT NULL DEFAULT 0,
		payment_method TEXT NOT NULL DEFAULT '',
		reference_number TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Ledger reads are always per booking, chronological (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_booking
		ON settlement_transactions(booking_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_status
		ON settlement_transactions(status);

	-- Daily rates
	CREATE TABLE IF NOT EXISTS rates (
		id TEXT PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		daily_rate TEXT NOT NULL,
		currency TEXT NOT NULL,
		valid_from TEXT NOT NULL,
		valid_to TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_rates_vehicle
		ON rates(vehicle_id, valid_from, valid_to);

	-- Audit trail (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL,
		action TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_booking
		ON audit_log(booking_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WithTx executes fn against a transaction-bound view. The store-level
// mutex additionally serializes writers, which SQLite wants anyway.
func (s *Store) WithTx(ctx context.Context, fn func(rental.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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

// txView exposes transaction-bound queries as a rental.Store.
type txView struct {
	queries
}

var _ rental.TxStore = (*Store)(nil)
var _ rental.Store = (*txView)(nil)

// =============================================================================
// QUERIES - Shared between the root connection and transactions
// =============================================================================

// dbtx is the subset of *sql.DB and *sql.Tx the queries need.
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.VehicleID, formatTime(b.StartAt), formatTime(b.EndAt),
		b.PickupLocation, b.DropoffLocation, b.Status,
		b.OriginalAmount.Value.String(), b.CurrentAmount.Value.String(), b.OriginalAmount.Currency,
		b.Version, formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save booking: %w", err)
	}

	// Every booking opens with an OPEN settlement.
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO settlements (booking_id, status, version, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)`,
		b.ID, rental.SettlementOpen, formatTime(b.CreatedAt), formatTime(b.CreatedAt),
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
		FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, &rental.NotFoundError{Kind: "booking", ID: string(id)}
	}
	return b, err
}

func (q queries) UpdateBooking(ctx context.Context, b rental.Booking, expectedVersion int64) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE bookings
		SET vehicle_id = ?, start_at = ?, end_at = ?, pickup_location = ?,
		    dropoff_location = ?, status = ?, current_amount = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		b.VehicleID, formatTime(b.StartAt), formatTime(b.EndAt), b.PickupLocation,
		b.DropoffLocation, b.Status, b.CurrentAmount.Value.String(),
		formatTime(b.UpdatedAt), b.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	return q.checkVersionedWrite(ctx, res, "bookings", "id", string(b.ID), "booking")
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
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.BookingID, tx.Type, tx.Amount.Value.String(), tx.Amount.Currency,
		tx.Status, boolToInt(tx.IsPostCompletion), tx.PaymentMethod,
		tx.ReferenceNumber, tx.Notes, formatTime(tx.CreatedAt), formatTime(tx.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (q queries) UpdateTransactionStatus(ctx context.Context, id rental.TransactionID, status rental.TransactionStatus, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE settlement_transactions SET status = ?, updated_at = ? WHERE id = ?`,
		status, formatTime(at), id,
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
		FROM settlement_transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, &rental.NotFoundError{Kind: "transaction", ID: string(id)}
	}
	return tx, err
}

func (q queries) Transactions(ctx context.Context, bookingID rental.BookingID) ([]rental.SettlementTransaction, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, booking_id, tx_type, amount, currency, status, is_post_completion,
		       payment_method, reference_number, notes, created_at, updated_at
		FROM settlement_transactions
		WHERE booking_id = ?
		ORDER BY created_at ASC, id ASC`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	defer rows.Close()

	var result []rental.SettlementTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *tx)
	}
	return result, rows.Err()
}

// -----------------------------------------------------------------------------
// Settlements
// -----------------------------------------------------------------------------

func (q queries) GetSettlement(ctx context.Context, bookingID rental.BookingID) (*rental.SettlementState, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT booking_id, status, closed_at, close_notes, reopen_reason, version, created_at, updated_at
		FROM settlements WHERE booking_id = ?`, bookingID)

	var st rental.SettlementState
	var closedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&st.BookingID, &st.Status, &closedAt, &st.CloseNotes,
		&st.ReopenReason, &st.Version, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &rental.NotFoundError{Kind: "settlement", ID: string(bookingID)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	if closedAt.Valid {
		t, err := parseTime(closedAt.String)
		if err != nil {
			return nil, err
		}
		st.ClosedAt = &t
	}
	if st.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if st.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &st, nil
}

func (q queries) UpdateSettlement(ctx context.Context, s rental.SettlementState, expectedVersion int64) error {
	var closedAt any
	if s.ClosedAt != nil {
		closedAt = formatTime(*s.ClosedAt)
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE settlements
		SET status = ?, closed_at = ?, close_notes = ?, reopen_reason = ?,
		    version = version + 1, updated_at = ?
		WHERE booking_id = ? AND version = ?`,
		s.Status, closedAt, s.CloseNotes, s.ReopenReason,
		formatTime(s.UpdatedAt), s.BookingID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update settlement: %w", err)
	}
	return q.checkVersionedWrite(ctx, res, "settlements", "booking_id", string(s.BookingID), "settlement")
}

// -----------------------------------------------------------------------------
// Rates
// -----------------------------------------------------------------------------

func (q queries) SaveRate(ctx context.Context, r rental.Rate) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO rates (id, vehicle_id, daily_rate, currency, valid_from, valid_to, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.VehicleID, r.DailyRate.Value.String(), r.DailyRate.Currency,
		formatTime(r.ValidFrom), formatTime(r.ValidTo), boolToInt(r.Active),
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
		WHERE vehicle_id = ? AND active = 1 AND valid_from <= ? AND valid_to >= ?
		ORDER BY valid_from DESC LIMIT 1`,
		vehicleID, formatTime(from), formatTime(to))

	var r rental.Rate
	var rate, currency, validFrom, validTo string
	var active int
	err := row.Scan(&r.ID, &r.VehicleID, &rate, &currency, &validFrom, &validTo, &active)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no active rate for vehicle %s: %w", vehicleID, rental.ErrPricingUnavailable)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rate: %w", err)
	}
	r.DailyRate = moneyFrom(rate, currency)
	if r.ValidFrom, err = parseTime(validFrom); err != nil {
		return nil, err
	}
	if r.ValidTo, err = parseTime(validTo); err != nil {
		return nil, err
	}
	r.Active = active != 0
	return &r, nil
}

// -----------------------------------------------------------------------------
// Audit
// -----------------------------------------------------------------------------

func (q queries) AppendAudit(ctx context.Context, entry rental.AuditEntry) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, booking_id, action, actor, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.BookingID, entry.Action, entry.Actor, entry.Reason, formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (q queries) AuditTrail(ctx context.Context, bookingID rental.BookingID) ([]rental.AuditEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, booking_id, action, actor, reason, created_at
		FROM audit_log WHERE booking_id = ? ORDER BY created_at ASC`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}
	defer rows.Close()

	var result []rental.AuditEntry
	for rows.Next() {
		var e rental.AuditEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.BookingID, &e.Action, &e.Actor, &e.Reason, &createdAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// checkVersionedWrite distinguishes a lost optimistic race from a
// missing row when a compare-and-swap update touched nothing.
func (q queries) checkVersionedWrite(ctx context.Context, res sql.Result, table, idCol, id, kind string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = q.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM "+table+" WHERE "+idCol+" = ?", id).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return &rental.NotFoundError{Kind: kind, ID: id}
	}
	return rental.ErrConcurrencyConflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*rental.Booking, error) {
	var b rental.Booking
	var startAt, endAt, createdAt, updatedAt string
	var original, current, currency string
	err := row.Scan(&b.ID, &b.VehicleID, &startAt, &endAt, &b.PickupLocation,
		&b.DropoffLocation, &b.Status, &original, &current, &currency,
		&b.Version, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan booking: %w", err)
	}
	b.OriginalAmount = moneyFrom(original, currency)
	b.CurrentAmount = moneyFrom(current, currency)
	if b.StartAt, err = parseTime(startAt); err != nil {
		return nil, err
	}
	if b.EndAt, err = parseTime(endAt); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanTransaction(row rowScanner) (*rental.SettlementTransaction, error) {
	var tx rental.SettlementTransaction
	var amount, currency, createdAt, updatedAt string
	var postCompletion int
	err := row.Scan(&tx.ID, &tx.BookingID, &tx.Type, &amount, &currency, &tx.Status,
		&postCompletion, &tx.PaymentMethod, &tx.ReferenceNumber, &tx.Notes,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	tx.Amount = moneyFrom(amount, currency)
	tx.IsPostCompletion = postCompletion != 0
	if tx.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if tx.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &tx, nil
}

func moneyFrom(value, currency string) rental.Money {
	d, err := decimal.NewFromString(value)
	if err != nil {
		d = decimal.Zero
	}
	return rental.Money{Value: d, Currency: currency}
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored time %q: %w", s, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
