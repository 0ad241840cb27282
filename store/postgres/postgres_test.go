package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rental-engine/rental"
)

func TestGetBooking(t *testing.T) {
	// GIVEN: a booking row in the database
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "vehicle_id", "start_at", "end_at", "pickup_location", "dropoff_location",
		"status", "original_amount", "current_amount", "currency", "version", "created_at", "updated_at",
	}).AddRow("booking-500", "vehicle-1", now, now.Add(72*time.Hour), "SFO", "SFO",
		"UPCOMING", "240", "240", "USD", int64(1), now, now)

	mock.ExpectQuery("SELECT (.+) FROM bookings WHERE id = \\$1").
		WithArgs(rental.BookingID("booking-500")).
		WillReturnRows(rows)

	store := New(db)

	// WHEN: loading the booking
	b, err := store.GetBooking(context.Background(), "booking-500")

	// THEN: the row maps onto the domain type
	require.NoError(t, err)
	assert.Equal(t, rental.BookingID("booking-500"), b.ID)
	assert.Equal(t, rental.BookingUpcoming, b.Status)
	assert.True(t, b.OriginalAmount.Equal(rental.NewMoneyFromInt(240, "USD")))
	assert.Equal(t, int64(1), b.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBookingNotFound(t *testing.T) {
	// GIVEN: no matching row
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM bookings WHERE id = \\$1").
		WithArgs(rental.BookingID("nope")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	store := New(db)

	// WHEN: loading a missing booking
	_, err = store.GetBooking(context.Background(), "nope")

	// THEN: the not-found taxonomy fires
	assert.True(t, rental.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateBookingVersionConflict(t *testing.T) {
	// GIVEN: the row exists but has already moved past the expected version
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE bookings").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT\\(1\\) FROM bookings WHERE id = \\$1").
		WithArgs("booking-500").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	store := New(db)
	b := rental.Booking{ID: "booking-500", Status: rental.BookingUpcoming}

	// WHEN: committing against the stale version
	err = store.UpdateBooking(context.Background(), b, 1)

	// THEN: the caller learns it lost the race
	assert.ErrorIs(t, err, rental.ErrConcurrencyConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateBookingMissingRow(t *testing.T) {
	// GIVEN: the compare-and-swap touched nothing because the row is gone
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE bookings").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT\\(1\\) FROM bookings WHERE id = \\$1").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	store := New(db)

	// WHEN / THEN: a missing row is not-found, never a conflict
	err = store.UpdateBooking(context.Background(), rental.Booking{ID: "ghost"}, 1)
	assert.True(t, rental.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveRateUnavailable(t *testing.T) {
	// GIVEN: no rate covers the requested range
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM rates").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	store := New(db)
	from := time.Now()

	// WHEN: resolving the rate
	_, err = store.ActiveRate(context.Background(), "vehicle-1", from, from.Add(24*time.Hour))

	// THEN: pricing is reported unavailable, a 502-class condition
	assert.ErrorIs(t, err, rental.ErrPricingUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	// GIVEN: a unit of work whose callback fails after a write
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO settlement_transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	store := New(db)
	now := time.Now().UTC()

	// WHEN: the callback appends then returns an error
	err = store.WithTx(context.Background(), func(s rental.Store) error {
		appendErr := s.AppendTransaction(context.Background(), rental.SettlementTransaction{
			ID:        "tx-1",
			BookingID: "booking-500",
			Type:      rental.TxChargeDamage,
			Amount:    rental.NewMoneyFromInt(150, "USD"),
			Status:    rental.TxStatusCompleted,
			CreatedAt: now,
			UpdatedAt: now,
		})
		require.NoError(t, appendErr)
		return rental.ErrValidation
	})

	// THEN: the error propagates and the transaction rolls back, not commits
	assert.ErrorIs(t, err, rental.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxCommits(t *testing.T) {
	// GIVEN: a successful unit of work
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_log").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := New(db)

	// WHEN: the callback succeeds
	err = store.WithTx(context.Background(), func(s rental.Store) error {
		return s.AppendAudit(context.Background(), rental.AuditEntry{
			ID:        "audit-1",
			BookingID: "booking-500",
			Action:    rental.AuditPaymentRecorded,
			CreatedAt: time.Now().UTC(),
		})
	})

	// THEN: the transaction commits
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
