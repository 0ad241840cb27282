/*
statemachine.go - OPEN/CLOSED lifecycle and mutation gates

PURPOSE:
  Implements the settlement state machine:

      OPEN --close(notes?)--> CLOSED --reopen(reason)--> OPEN

  and the guards checked on every ledger mutation:
  - nothing may be recorded against a CLOSED settlement
  - a post-completion charge additionally requires the booking to be
    COMPLETED
  - close requires balance <= 0
  - reopen requires a non-empty reason (retained for audit only)

  Guards are evaluated inside the same unit of work as the mutation they
  protect, so a concurrent close cannot race a record.
*/
package settlement

import (
	"strings"

	"github.com/warp/rental-engine/rental"
)

// guardRecord gates recordTransaction. The post-completion flag demands a
// COMPLETED booking and an OPEN settlement; all appends demand OPEN.
func guardRecord(st *rental.SettlementState, b *rental.Booking, isPostCompletion bool) error {
	if st.Status == rental.SettlementClosed {
		return &rental.StateTransitionError{
			From:    string(rental.SettlementClosed),
			To:      "record_transaction",
			Message: "settlement is closed; reopen it before recording",
		}
	}
	if isPostCompletion && b.Status != rental.BookingCompleted {
		return &rental.StateTransitionError{
			From:    string(b.Status),
			To:      "post_completion_charge",
			Message: "post-completion transactions require a completed booking",
		}
	}
	return nil
}

// guardClose gates the OPEN -> CLOSED transition.
func guardClose(st *rental.SettlementState, summary rental.SettlementSummary) error {
	if st.Status == rental.SettlementClosed {
		return &rental.StateTransitionError{
			From:    string(rental.SettlementClosed),
			To:      string(rental.SettlementClosed),
			Message: "settlement already closed",
		}
	}
	if summary.Balance.IsPositive() {
		return &rental.BalanceNotZeroError{BookingID: st.BookingID, Balance: summary.Balance}
	}
	return nil
}

// guardReopen gates the CLOSED -> OPEN transition.
func guardReopen(st *rental.SettlementState, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return rental.ErrMissingReason
	}
	if st.Status == rental.SettlementOpen {
		return &rental.StateTransitionError{
			From:    string(rental.SettlementOpen),
			To:      string(rental.SettlementOpen),
			Message: "settlement is not closed",
		}
	}
	return nil
}

// guardStatusTransition gates transaction status moves. Completing a
// transaction changes settled totals, so it is refused while the
// settlement is closed; abandoning one (FAILED/CANCELLED) is always fine.
func guardStatusTransition(st *rental.SettlementState, tx *rental.SettlementTransaction, next rental.TransactionStatus) error {
	if !next.Valid() {
		return &rental.ValidationError{Field: "status", Message: "unknown transaction status"}
	}
	if !tx.Status.CanTransitionTo(next) {
		return &rental.StateTransitionError{
			From:    string(tx.Status),
			To:      string(next),
			Message: "transaction status may only move forward",
		}
	}
	if next == rental.TxStatusCompleted && st.Status == rental.SettlementClosed {
		return &rental.StateTransitionError{
			From:    string(tx.Status),
			To:      string(next),
			Message: "cannot complete a transaction on a closed settlement",
		}
	}
	return nil
}
