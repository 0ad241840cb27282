package settlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/rental-engine/rental"
)

func usd(v int) rental.Money { return rental.NewMoneyFromInt(v, "USD") }

func summaryBooking(original int) *rental.Booking {
	return &rental.Booking{
		ID:             "booking-500",
		Status:         rental.BookingActive,
		OriginalAmount: usd(original),
		CurrentAmount:  usd(original),
	}
}

func openState(id rental.BookingID) *rental.SettlementState {
	return &rental.SettlementState{BookingID: id, Status: rental.SettlementOpen, Version: 1}
}

func completedTx(t rental.TransactionType, amount int, at time.Time) rental.SettlementTransaction {
	return rental.SettlementTransaction{
		Type:      t,
		Amount:    usd(amount),
		Status:    rental.TxStatusCompleted,
		CreatedAt: at,
	}
}

func TestSummarizeModifiedBooking(t *testing.T) {
	// GIVEN: a 500 booking, fully paid, then modified up by 120 and
	// partially refunded 80
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	booking := summaryBooking(500)
	txs := []rental.SettlementTransaction{
		completedTx(rental.TxPaymentReceived, 500, base),
		completedTx(rental.TxChargeModification, 120, base.Add(time.Hour)),
		completedTx(rental.TxRefund, 80, base.Add(2*time.Hour)),
	}

	// WHEN: projecting the summary
	s := Summarize(booking, openState(booking.ID), txs)

	// THEN: current = 500 + 120 - 80, balance = current - received
	assert.True(t, s.CurrentAmount.Equal(usd(540)), "current amount: %s", s.CurrentAmount)
	assert.True(t, s.TotalReceived.Equal(usd(500)))
	assert.True(t, s.TotalCharges.Equal(usd(120)))
	assert.True(t, s.TotalRefunds.Equal(usd(80)))
	assert.True(t, s.Balance.Equal(usd(40)), "balance: %s", s.Balance)
	assert.Equal(t, 3, s.TransactionCount)
	assert.Equal(t, base.Add(2*time.Hour), *s.LastTransactionAt)
}

func TestSummarizeIgnoresNonCompleted(t *testing.T) {
	// GIVEN: a pending charge and a failed payment alongside one
	// completed payment
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	booking := summaryBooking(300)
	pending := completedTx(rental.TxChargeDamage, 150, base.Add(time.Hour))
	pending.Status = rental.TxStatusPending
	failed := completedTx(rental.TxPaymentReceived, 300, base.Add(2*time.Hour))
	failed.Status = rental.TxStatusFailed
	txs := []rental.SettlementTransaction{
		completedTx(rental.TxPaymentReceived, 100, base),
		pending,
		failed,
	}

	// WHEN: projecting
	s := Summarize(booking, openState(booking.ID), txs)

	// THEN: only the completed payment moves the totals, but every entry
	// counts toward the transaction count and the last-activity timestamp
	assert.True(t, s.CurrentAmount.Equal(usd(300)))
	assert.True(t, s.TotalReceived.Equal(usd(100)))
	assert.True(t, s.Balance.Equal(usd(200)))
	assert.Equal(t, 3, s.TransactionCount)
	assert.Equal(t, base.Add(2*time.Hour), *s.LastTransactionAt)
}

func TestSummarizeEmptyLedger(t *testing.T) {
	// GIVEN: a booking with no transactions
	booking := summaryBooking(500)

	// WHEN: projecting
	s := Summarize(booking, openState(booking.ID), nil)

	// THEN: everything owed, nothing received
	assert.True(t, s.Balance.Equal(usd(500)))
	assert.Equal(t, 0, s.TransactionCount)
	assert.Nil(t, s.LastTransactionAt)
	assert.Equal(t, float64(0), s.CompletionPercent)
}

func TestCompletionPercentClamps(t *testing.T) {
	// GIVEN: an overpaid booking (refund due)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	booking := summaryBooking(200)
	txs := []rental.SettlementTransaction{
		completedTx(rental.TxPaymentReceived, 300, base),
	}

	// WHEN: projecting
	s := Summarize(booking, openState(booking.ID), txs)

	// THEN: percent clamps to 100 and the balance goes negative (credit)
	assert.Equal(t, float64(100), s.CompletionPercent)
	assert.True(t, s.Balance.IsNegative())
}

func TestCompletionPercentNothingOwed(t *testing.T) {
	// GIVEN: charges fully refunded so the current amount hits zero
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	booking := summaryBooking(100)
	txs := []rental.SettlementTransaction{
		completedTx(rental.TxRefund, 100, base),
	}

	// WHEN: projecting
	s := Summarize(booking, openState(booking.ID), txs)

	// THEN: a non-positive current amount reads as fully settled
	assert.True(t, s.CurrentAmount.IsZero())
	assert.Equal(t, float64(100), s.CompletionPercent)
}

func TestSummaryInvariantHolds(t *testing.T) {
	// GIVEN: an arbitrary mix of entries
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	booking := summaryBooking(750)
	txs := []rental.SettlementTransaction{
		completedTx(rental.TxPaymentReceived, 400, base),
		completedTx(rental.TxChargeLateFee, 35, base.Add(time.Hour)),
		completedTx(rental.TxChargeFuel, 60, base.Add(2*time.Hour)),
		completedTx(rental.TxRefund, 20, base.Add(3*time.Hour)),
		completedTx(rental.TxPaymentReceived, 200, base.Add(4*time.Hour)),
	}

	// WHEN: projecting
	s := Summarize(booking, openState(booking.ID), txs)

	// THEN: current = original + charges - refunds; balance = current - received
	assert.True(t, s.CurrentAmount.Equal(s.OriginalAmount.Add(s.TotalCharges).Sub(s.TotalRefunds)))
	assert.True(t, s.Balance.Equal(s.CurrentAmount.Sub(s.TotalReceived)))
}
