package modification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rental-engine/rental"
	"github.com/warp/rental-engine/store/memory"
)

// stubGateway records capture calls and can be told to decline.
type stubGateway struct {
	reference string
	err       error
	calls     int
	lastAmt   rental.Money
}

func (g *stubGateway) Capture(_ context.Context, _ rental.BookingID, amount rental.Money, _ string) (string, error) {
	g.calls++
	g.lastAmt = amount
	return g.reference, g.err
}

// racingStore mutates the booking between the executor's preview read
// and its unit of work, simulating a concurrent writer winning the race.
type racingStore struct {
	*memory.Store
	race func()
}

func (r *racingStore) WithTx(ctx context.Context, fn func(rental.Store) error) error {
	if r.race != nil {
		race := r.race
		r.race = nil
		race()
	}
	return r.Store.WithTx(ctx, fn)
}

func fixtureExecutor(store rental.TxStore, bookings *memory.Store, gw Capturer) *Executor {
	resolver := NewConfigResolver(bookings, Config{
		FreeModificationHours: 48,
		FeeType:               FeeFlat,
		FlatFee:               usd(25),
	})
	resolver.Now = func() time.Time { return fixtureNow }
	previews := NewPreviewBuilder(bookings, resolver, NewRateTableRecalculator(bookings))

	opts := []ExecutorOption{WithClock(func() time.Time { return fixtureNow })}
	if gw != nil {
		opts = append(opts, WithGateway(gw))
	}
	return NewExecutor(store, previews, opts...)
}

func TestExecuteExtensionCommitsAtomically(t *testing.T) {
	// GIVEN: a free-window extension from 5 to 7 days with a live gateway
	store := fixtureStore(t)
	gw := &stubGateway{reference: "cap-123"}
	ex := fixtureExecutor(store, store, gw)
	ctx := context.Background()
	req := baseRequest()
	req.Assignment.EndAt = fixtureNow.AddDate(0, 0, 12)

	// WHEN: executing
	resp, err := ex.Execute(ctx, req)

	// THEN: the booking carries the new dates, amount and version
	require.NoError(t, err)
	booking, err := store.GetBooking(ctx, "booking-500")
	require.NoError(t, err)
	assert.Equal(t, req.Assignment.EndAt, booking.EndAt)
	assert.True(t, booking.CurrentAmount.Equal(usd(700)))
	assert.Equal(t, int64(2), booking.Version)

	// AND: exactly one completed charge hit the ledger, with the
	// gateway's reference
	txs, err := store.Transactions(ctx, "booking-500")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, rental.TxChargeModification, txs[0].Type)
	assert.Equal(t, rental.TxStatusCompleted, txs[0].Status)
	assert.True(t, txs[0].Amount.Equal(usd(200)))
	assert.Equal(t, "cap-123", txs[0].ReferenceNumber)
	assert.Equal(t, req.Reason, txs[0].Notes)

	assert.Equal(t, 1, gw.calls)
	assert.True(t, gw.lastAmt.Equal(usd(200)))
	require.NotNil(t, resp.TransactionID)
	assert.Equal(t, txs[0].ID, *resp.TransactionID)

	// AND: the modification is audited
	trail, err := store.AuditTrail(ctx, "booking-500")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, rental.AuditModificationExecuted, trail[0].Action)
}

func TestExecuteRefundAppendsRefund(t *testing.T) {
	// GIVEN: a shortening from 5 to 3 days
	store := fixtureStore(t)
	gw := &stubGateway{reference: "cap-999"}
	ex := fixtureExecutor(store, store, gw)
	ctx := context.Background()
	req := baseRequest()
	req.Assignment.EndAt = fixtureNow.AddDate(0, 0, 8)

	// WHEN: executing
	_, err := ex.Execute(ctx, req)

	// THEN: a refund entry, and the gateway is never asked to capture
	require.NoError(t, err)
	txs, err := store.Transactions(ctx, "booking-500")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, rental.TxRefund, txs[0].Type)
	assert.True(t, txs[0].Amount.Equal(usd(200)))
	assert.Equal(t, 0, gw.calls)

	booking, err := store.GetBooking(ctx, "booking-500")
	require.NoError(t, err)
	assert.True(t, booking.CurrentAmount.Equal(usd(300)))
}

func TestExecuteDeclinedCaptureRollsBack(t *testing.T) {
	// GIVEN: a gateway that declines
	store := fixtureStore(t)
	gw := &stubGateway{err: errors.New("card declined")}
	ex := fixtureExecutor(store, store, gw)
	ctx := context.Background()
	req := baseRequest()
	req.Assignment.EndAt = fixtureNow.AddDate(0, 0, 12)

	// WHEN: executing
	_, err := ex.Execute(ctx, req)

	// THEN: the failure is a capture error
	assert.ErrorIs(t, err, rental.ErrPaymentCaptureFailure)

	// AND: nothing persisted: booking untouched, ledger empty
	booking, getErr := store.GetBooking(ctx, "booking-500")
	require.NoError(t, getErr)
	assert.True(t, booking.CurrentAmount.Equal(usd(500)))
	assert.Equal(t, int64(1), booking.Version)
	assert.Equal(t, fixtureNow.AddDate(0, 0, 10), booking.EndAt)

	txs, getErr := store.Transactions(ctx, "booking-500")
	require.NoError(t, getErr)
	assert.Empty(t, txs)
}

func TestExecuteConcurrencyConflict(t *testing.T) {
	// GIVEN: another writer bumps the booking between preview and commit
	inner := fixtureStore(t)
	store := &racingStore{Store: inner}
	store.race = func() {
		booking, err := inner.GetBooking(context.Background(), "booking-500")
		require.NoError(t, err)
		booking.PickupLocation = "Downtown"
		require.NoError(t, inner.UpdateBooking(context.Background(), *booking, booking.Version))
	}
	ex := fixtureExecutor(store, inner, nil)
	req := baseRequest()
	req.Assignment.EndAt = fixtureNow.AddDate(0, 0, 12)

	// WHEN: executing against the now-stale preview
	_, err := ex.Execute(context.Background(), req)

	// THEN: surfaced as a conflict, never silently retried
	assert.ErrorIs(t, err, rental.ErrConcurrencyConflict)

	// AND: the racing write survives, ours left no trace
	booking, getErr := inner.GetBooking(context.Background(), "booking-500")
	require.NoError(t, getErr)
	assert.Equal(t, "Downtown", booking.PickupLocation)
	assert.True(t, booking.CurrentAmount.Equal(usd(500)))
	txs, getErr := inner.Transactions(context.Background(), "booking-500")
	require.NoError(t, getErr)
	assert.Empty(t, txs)
}

func TestExecuteNoChangeAdjustmentSkipsLedger(t *testing.T) {
	// GIVEN: a location-only change in the free window (same price)
	store := fixtureStore(t)
	gw := &stubGateway{}
	ex := fixtureExecutor(store, store, gw)
	ctx := context.Background()
	req := baseRequest()
	req.Assignment.DropoffLocation = "Downtown"

	// WHEN: executing
	resp, err := ex.Execute(ctx, req)

	// THEN: fields update but no money moves: no tx, no capture
	require.NoError(t, err)
	assert.Equal(t, rental.AdjustmentNoChange, resp.Adjustment.Kind)
	assert.Nil(t, resp.TransactionID)
	assert.Equal(t, 0, gw.calls)

	booking, err := store.GetBooking(ctx, "booking-500")
	require.NoError(t, err)
	assert.Equal(t, "Downtown", booking.DropoffLocation)
	assert.True(t, booking.CurrentAmount.Equal(usd(500)))

	txs, err := store.Transactions(ctx, "booking-500")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestExecuteClosedSettlementRefusesMoneyMovement(t *testing.T) {
	// GIVEN: a closed settlement
	store := fixtureStore(t)
	ctx := context.Background()
	st, err := store.GetSettlement(ctx, "booking-500")
	require.NoError(t, err)
	st.Status = rental.SettlementClosed
	closedAt := fixtureNow
	st.ClosedAt = &closedAt
	require.NoError(t, store.UpdateSettlement(ctx, *st, st.Version))

	ex := fixtureExecutor(store, store, nil)
	req := baseRequest()
	req.Assignment.EndAt = fixtureNow.AddDate(0, 0, 12)

	// WHEN: executing a modification that moves money
	_, err = ex.Execute(ctx, req)

	// THEN: refused; the settlement must be reopened first
	assert.ErrorIs(t, err, rental.ErrInvalidStateTransition)

	booking, getErr := store.GetBooking(ctx, "booking-500")
	require.NoError(t, getErr)
	assert.Equal(t, int64(1), booking.Version)
}
