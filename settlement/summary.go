/*
summary.go - Settlement summary projection

PURPOSE:
  Derives the SettlementSummary from a booking's transaction list. The
  summary is a pure projection: it is recomputed on every read and is
  never itself the source of truth. Only COMPLETED transactions count.

INVARIANTS (always true for the returned summary):
  currentAmount = originalAmount + totalCharges - totalRefunds
  balance       = currentAmount - totalReceived
*/
package settlement

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/rental-engine/rental"
)

var hundred = decimal.NewFromInt(100)

// Summarize projects the summary for a booking from its full transaction
// list. txs must be the booking's complete ledger in any order; pending,
// processing, failed and cancelled entries contribute to the count and
// the last-transaction timestamp but not to any total.
func Summarize(b *rental.Booking, st *rental.SettlementState, txs []rental.SettlementTransaction) rental.SettlementSummary {
	received := b.OriginalAmount.Zero()
	charges := b.OriginalAmount.Zero()
	refunds := b.OriginalAmount.Zero()

	var lastAt *time.Time
	for i := range txs {
		tx := &txs[i]
		if lastAt == nil || tx.CreatedAt.After(*lastAt) {
			at := tx.CreatedAt
			lastAt = &at
		}
		if tx.Status != rental.TxStatusCompleted {
			continue
		}
		switch {
		case tx.Type.IsPayment():
			received = received.Add(tx.Amount)
		case tx.Type.IsCharge():
			charges = charges.Add(tx.Amount)
		case tx.Type.IsRefund():
			refunds = refunds.Add(tx.Amount)
		}
	}

	current := b.OriginalAmount.Add(charges).Sub(refunds)
	balance := current.Sub(received)

	return rental.SettlementSummary{
		BookingID:         b.ID,
		OriginalAmount:    b.OriginalAmount,
		CurrentAmount:     current,
		TotalReceived:     received,
		TotalCharges:      charges,
		TotalRefunds:      refunds,
		Balance:           balance,
		Status:            st.Status,
		TransactionCount:  len(txs),
		LastTransactionAt: lastAt,
		CompletionPercent: completionPercent(received, current),
	}
}

// completionPercent = clamp(received / current * 100, 0, 100).
// A zero (or negative) current amount means nothing is owed: 100%.
func completionPercent(received, current rental.Money) float64 {
	if !current.IsPositive() {
		return 100
	}
	pct, _ := received.Value.Div(current.Value).Mul(hundred).Float64()
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
