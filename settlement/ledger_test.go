package settlement

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rental-engine/rental"
	"github.com/warp/rental-engine/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	n := 0
	svc := NewService(store, WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	svc.newID = func() string {
		n++
		return fmt.Sprintf("id-%04d", n)
	}
	return svc, store
}

func seedBooking(t *testing.T, store *memory.Store, id rental.BookingID, status rental.BookingStatus, amount int) {
	t.Helper()
	now := time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC)
	err := store.SaveBooking(context.Background(), rental.Booking{
		ID:              id,
		VehicleID:       "vehicle-1",
		StartAt:         now.AddDate(0, 0, 5),
		EndAt:           now.AddDate(0, 0, 10),
		PickupLocation:  "Airport",
		DropoffLocation: "Airport",
		Status:          status,
		OriginalAmount:  usd(amount),
		CurrentAmount:   usd(amount),
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	require.NoError(t, err)
}

func TestRecordPayment(t *testing.T) {
	// GIVEN: an active booking owing 500
	svc, store := newTestService(t)
	seedBooking(t, store, "booking-500", rental.BookingActive, 500)
	ctx := context.Background()

	// WHEN: recording a 500 payment
	tx, err := svc.Record(ctx, "booking-500", RecordInput{
		Type:          rental.TxPaymentReceived,
		Amount:        usd(500),
		PaymentMethod: "card",
		Actor:         "agent-7",
	})

	// THEN: the entry is COMPLETED and the balance drops to zero
	require.NoError(t, err)
	assert.Equal(t, rental.TxStatusCompleted, tx.Status)

	summary, txs, err := svc.Details(ctx, "booking-500")
	require.NoError(t, err)
	assert.True(t, summary.Balance.IsZero(), "balance: %s", summary.Balance)
	assert.Len(t, txs, 1)

	// AND: the action is audited
	trail, err := store.AuditTrail(ctx, "booking-500")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, rental.AuditPaymentRecorded, trail[0].Action)
	assert.Equal(t, "agent-7", trail[0].Actor)
}

func TestRecordChargeMovesCurrentAmount(t *testing.T) {
	// GIVEN: an active booking at 500
	svc, store := newTestService(t)
	seedBooking(t, store, "booking-500", rental.BookingActive, 500)
	ctx := context.Background()

	// WHEN: a completed 35 late fee is recorded
	_, err := svc.Record(ctx, "booking-500", RecordInput{
		Type:   rental.TxChargeLateFee,
		Amount: usd(35),
	})
	require.NoError(t, err)

	// THEN: the stored current amount agrees with the ledger projection
	booking, err := store.GetBooking(ctx, "booking-500")
	require.NoError(t, err)
	assert.True(t, booking.CurrentAmount.Equal(usd(535)))

	summary, _, err := svc.Details(ctx, "booking-500")
	require.NoError(t, err)
	assert.True(t, summary.CurrentAmount.Equal(booking.CurrentAmount))
}

func TestRecordValidation(t *testing.T) {
	svc, store := newTestService(t)
	seedBooking(t, store, "booking-500", rental.BookingActive, 500)
	ctx := context.Background()

	// Unknown type
	_, err := svc.Record(ctx, "booking-500", RecordInput{Type: "charge_mystery", Amount: usd(10)})
	assert.ErrorIs(t, err, rental.ErrValidation)

	// Non-positive amount
	_, err = svc.Record(ctx, "booking-500", RecordInput{Type: rental.TxPaymentReceived, Amount: usd(0)})
	assert.ErrorIs(t, err, rental.ErrValidation)

	// Missing booking
	_, err = svc.Record(ctx, "ghost", RecordInput{Type: rental.TxPaymentReceived, Amount: usd(10)})
	assert.True(t, rental.IsNotFound(err))
}

func TestPostCompletionChargeRequiresCompletedBooking(t *testing.T) {
	// GIVEN: a booking that is still ACTIVE
	svc, store := newTestService(t)
	seedBooking(t, store, "booking-500", rental.BookingActive, 500)
	ctx := context.Background()

	// WHEN: a post-completion damage charge is attempted
	_, err := svc.Record(ctx, "booking-500", RecordInput{
		Type:             rental.TxChargeDamage,
		Amount:           usd(150),
		IsPostCompletion: true,
	})

	// THEN: the state machine refuses
	assert.ErrorIs(t, err, rental.ErrInvalidStateTransition)

	// AND: nothing was written
	txs, err := store.Transactions(ctx, "booking-500")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestPostCompletionDamageCharge(t *testing.T) {
	// GIVEN: a completed, fully paid booking
	svc, store := newTestService(t)
	seedBooking(t, store, "booking-500", rental.BookingCompleted, 500)
	ctx := context.Background()
	_, err := svc.Record(ctx, "booking-500", RecordInput{
		Type: rental.TxPaymentReceived, Amount: usd(500), PaymentMethod: "card",
	})
	require.NoError(t, err)

	// WHEN: a 150 damage charge lands after the vehicle came back
	_, err = svc.Record(ctx, "booking-500", RecordInput{
		Type:             rental.TxChargeDamage,
		Amount:           usd(150),
		IsPostCompletion: true,
		Notes:            "scratched rear bumper",
	})
	require.NoError(t, err)

	// THEN: the settlement reopens the debt: balance 150, still OPEN
	summary, _, err := svc.Details(ctx, "booking-500")
	require.NoError(t, err)
	assert.True(t, summary.CurrentAmount.Equal(usd(650)))
	assert.True(t, summary.Balance.Equal(usd(150)))
	assert.Equal(t, rental.SettlementOpen, summary.Status)

	// AND: close is refused until the charge is paid
	err = svc.Close(ctx, "booking-500", "", "agent-7")
	assert.ErrorIs(t, err, rental.ErrBalanceNotZero)

	_, err = svc.Record(ctx, "booking-500", RecordInput{
		Type: rental.TxPaymentReceived, Amount: usd(150), PaymentMethod: "card",
	})
	require.NoError(t, err)
	require.NoError(t, svc.Close(ctx, "booking-500", "damage settled", "agent-7"))
}

func TestCloseRequiresSettledBalance(t *testing.T) {
	// GIVEN: a booking with 40 still owed
	svc, store := newTestService(t)
	seedBooking(t, store, "booking-500", rental.BookingCompleted, 500)
	ctx := context.Background()
	_, err := svc.Record(ctx, "booking-500", RecordInput{
		Type: rental.TxPaymentReceived, Amount: usd(460),
	})
	require.NoError(t, err)

	// WHEN: closing
	err = svc.Close(ctx, "booking-500", "", "agent-7")

	// THEN: refused with the outstanding balance attached
	var balErr *rental.BalanceNotZeroError
	require.ErrorAs(t, err, &balErr)
	assert.True(t, balErr.Balance.Equal(usd(40)))

	st, err := store.GetSettlement(ctx, "booking-500")
	require.NoError(t, err)
	assert.Equal(t, rental.SettlementOpen, st.Status)
}

func TestCloseWithCreditBalance(t *testing.T) {
	// GIVEN: an overpaid booking (credit balance, refund owed to customer)
	svc, store := newTestService(t)
	seedBooking(t, store, "booking-500", rental.BookingCompleted, 500)
	ctx := context.Background()
	_, err := svc.Record(ctx, "booking-500", RecordInput{
		Type: rental.TxPaymentReceived, Amount: usd(520),
	})
	require.NoError(t, err)

	// WHEN: closing with a negative balance
	err = svc.Close(ctx, "booking-500", "customer waived the 20 credit", "agent-7")

	// THEN: permitted; only a positive balance blocks close
	require.NoError(t, err)
	st, err := store.GetSettlement(ctx, "booking-500")
	require.NoError(t, err)
	assert.Equal(t, rental.SettlementClosed, st.Status)
	assert.NotNil(t, st.ClosedAt)
	assert.Equal(t, "customer waived the 20 credit", st.CloseNotes)
}

func TestClosedSettlementBlocksRecording(t *testing.T) {
	// GIVEN: a closed settlement
	svc, store := newTestService(t)
	seedBooking(t, store, "booking-500", rental.BookingCompleted, 500)
	ctx := context.Background()
	_, err := svc.Record(ctx, "booking-500", RecordInput{
		Type: rental.TxPaymentReceived, Amount: usd(500),
	})
	require.NoError(t, err)
	require.NoError(t, svc.Close(ctx, "booking-500", "", ""))

	// WHEN: recording anything further
	_, err = svc.Record(ctx, "booking-500", RecordInput{
		Type: rental.TxChargeCleaning, Amount: usd(25),
	})

	// THEN: refused until reopened
	assert.ErrorIs(t, err, rental.ErrInvalidStateTransition)

	// AND: double close is refused too
	err = svc.Close(ctx, "booking-500", "", "")
	assert.ErrorIs(t, err, rental.ErrInvalidStateTransition)
}

func TestReopenRequiresReason(t *testing.T) {
	// GIVEN: a closed settlement
	svc, store := newTestService(t)
	seedBooking(t, store, "booking-500", rental.BookingCompleted, 500)
	ctx := context.Background()
	_, err := svc.Record(ctx, "booking-500", RecordInput{
		Type: rental.TxPaymentReceived, Amount: usd(500),
	})
	require.NoError(t, err)
	require.NoError(t, svc.Close(ctx, "booking-500", "", ""))

	// WHEN: reopening without a reason
	err = svc.Reopen(ctx, "booking-500", "  ", "agent-7")

	// THEN: refused
	assert.ErrorIs(t, err, rental.ErrMissingReason)

	// AND: with a reason the settlement reopens and records again
	require.NoError(t, svc.Reopen(ctx, "booking-500", "late toll charge arrived", "agent-7"))
	st, err := store.GetSettlement(ctx, "booking-500")
	require.NoError(t, err)
	assert.Equal(t, rental.SettlementOpen, st.Status)
	assert.Nil(t, st.ClosedAt)
	assert.Equal(t, "late toll charge arrived", st.ReopenReason)

	_, err = svc.Record(ctx, "booking-500", RecordInput{
		Type: rental.TxChargeToll, Amount: usd(12), IsPostCompletion: true,
	})
	require.NoError(t, err)
}

func TestReopenOpenSettlement(t *testing.T) {
	svc, store := newTestService(t)
	seedBooking(t, store, "booking-500", rental.BookingActive, 500)

	// Reopening something that is not closed is a state error.
	err := svc.Reopen(context.Background(), "booking-500", "why not", "agent-7")
	assert.ErrorIs(t, err, rental.ErrInvalidStateTransition)
}

func TestTransactionStatusLifecycle(t *testing.T) {
	// GIVEN: a pending charge
	svc, store := newTestService(t)
	seedBooking(t, store, "booking-500", rental.BookingActive, 500)
	ctx := context.Background()
	tx, err := svc.Record(ctx, "booking-500", RecordInput{
		Type:   rental.TxChargeFuel,
		Amount: usd(45),
		Status: rental.TxStatusPending,
	})
	require.NoError(t, err)

	// THEN: a pending entry does not move the current amount yet
	booking, err := store.GetBooking(ctx, "booking-500")
	require.NoError(t, err)
	assert.True(t, booking.CurrentAmount.Equal(usd(500)))

	// WHEN: the charge completes via PROCESSING
	_, err = svc.UpdateTransactionStatus(ctx, tx.ID, rental.TxStatusProcessing, "agent-7")
	require.NoError(t, err)
	updated, err := svc.UpdateTransactionStatus(ctx, tx.ID, rental.TxStatusCompleted, "agent-7")
	require.NoError(t, err)
	assert.Equal(t, rental.TxStatusCompleted, updated.Status)

	// THEN: completion folds into the booking in the same unit of work
	booking, err = store.GetBooking(ctx, "booking-500")
	require.NoError(t, err)
	assert.True(t, booking.CurrentAmount.Equal(usd(545)))

	// AND: terminal states are final
	_, err = svc.UpdateTransactionStatus(ctx, tx.ID, rental.TxStatusFailed, "agent-7")
	assert.ErrorIs(t, err, rental.ErrInvalidStateTransition)
}

func TestCompletingOnClosedSettlementRefused(t *testing.T) {
	// GIVEN: a pending charge left open, then the settlement closes
	svc, store := newTestService(t)
	seedBooking(t, store, "booking-500", rental.BookingCompleted, 500)
	ctx := context.Background()
	_, err := svc.Record(ctx, "booking-500", RecordInput{
		Type: rental.TxPaymentReceived, Amount: usd(500),
	})
	require.NoError(t, err)
	pending, err := svc.Record(ctx, "booking-500", RecordInput{
		Type: rental.TxChargeAdmin, Amount: usd(5), Status: rental.TxStatusPending,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Close(ctx, "booking-500", "", ""))

	// WHEN: completing the leftover pending charge
	_, err = svc.UpdateTransactionStatus(ctx, pending.ID, rental.TxStatusCompleted, "agent-7")

	// THEN: refused; cancelling it is still allowed
	assert.ErrorIs(t, err, rental.ErrInvalidStateTransition)
	_, err = svc.UpdateTransactionStatus(ctx, pending.ID, rental.TxStatusCancelled, "agent-7")
	require.NoError(t, err)

	st, err := store.GetSettlement(ctx, "booking-500")
	require.NoError(t, err)
	assert.Equal(t, rental.SettlementClosed, st.Status)
}

func TestCorrectionsAreNewEntries(t *testing.T) {
	// GIVEN: a wrong 60 cleaning charge
	svc, store := newTestService(t)
	seedBooking(t, store, "booking-500", rental.BookingActive, 500)
	ctx := context.Background()
	_, err := svc.Record(ctx, "booking-500", RecordInput{
		Type: rental.TxChargeCleaning, Amount: usd(60), Notes: "entered in error",
	})
	require.NoError(t, err)

	// WHEN: correcting with a refund instead of editing
	_, err = svc.Record(ctx, "booking-500", RecordInput{
		Type: rental.TxRefund, Amount: usd(60), Notes: "reverses erroneous cleaning charge",
	})
	require.NoError(t, err)

	// THEN: both entries remain and the projection nets them out
	summary, txs, err := svc.Details(ctx, "booking-500")
	require.NoError(t, err)
	assert.Len(t, txs, 2)
	assert.True(t, summary.CurrentAmount.Equal(usd(500)))
	assert.True(t, summary.TotalCharges.Equal(usd(60)))
	assert.True(t, summary.TotalRefunds.Equal(usd(60)))
}
