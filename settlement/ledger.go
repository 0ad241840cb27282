/*
Package settlement implements the append-only settlement ledger and its
OPEN/CLOSED state machine.

PURPOSE:
  The ledger is the immutable source of truth for all money movement
  against a booking. Every payment receipt, charge, and refund is
  recorded here; balances are always computed by replaying transactions,
  never read from a stored total that could drift.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No delete, no edit. The single sanctioned mutation is
     a forward-only status transition.
  2. DERIVED SUMMARY: currentAmount = original + charges - refunds and
     balance = currentAmount - received, over COMPLETED entries only.
  3. GATED: Nothing is recorded against a CLOSED settlement; a
     post-completion charge additionally requires a COMPLETED booking.
  4. SERIALIZED: All mutations against one booking serialize on the
     settlement row's version inside a single unit of work.
  5. DURABLE: The unit of work commits before the caller hears "ok".

CORRECTIONS:
  A wrong charge is not edited. Record a refund (or cancel the pending
  transaction); both entries remain in the ledger and the projection
  nets them out, so history is preserved.

POST-COMMIT EFFECTS:
  Cache invalidation and event publication happen after commit, are
  best-effort, and can never fail the business operation.

SEE ALSO:
  - statemachine.go: lifecycle transitions and mutation gates
  - summary.go: the pure projection
  - modification/executor.go: writes exactly one entry per modification
*/
package settlement

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/rental-engine/rental"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service owns all settlement reads and mutations. Mutations run inside
// store units of work; reads are lock-free.
type Service struct {
	store  rental.TxStore
	cache  rental.SummaryCache
	events rental.EventPublisher
	now    func() time.Time
	newID  func() string
}

type Option func(*Service)

// WithCache enables the summary cache. Invalidated after every mutation.
func WithCache(c rental.SummaryCache) Option { return func(s *Service) { s.cache = c } }

// WithEvents enables post-commit event publication.
func WithEvents(p rental.EventPublisher) Option { return func(s *Service) { s.events = p } }

// WithClock fixes the clock (tests).
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store rental.TxStore, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// RECORD - Append one transaction
// =============================================================================

// RecordInput is the manual-payment / manual-charge entry form.
type RecordInput struct {
	Type             rental.TransactionType
	Amount           rental.Money
	Status           rental.TransactionStatus // empty means COMPLETED
	IsPostCompletion bool
	PaymentMethod    string
	ReferenceNumber  string
	Notes            string
	Actor            string
}

// Record appends one transaction to a booking's ledger, updating the
// booking's current amount when a charge or refund completes. The gates
// from statemachine.go are evaluated inside the unit of work.
func (s *Service) Record(ctx context.Context, bookingID rental.BookingID, in RecordInput) (*rental.SettlementTransaction, error) {
	if !in.Type.Valid() {
		return nil, &rental.ValidationError{Field: "transactionType", Message: "unknown transaction type"}
	}
	if !in.Amount.IsPositive() {
		return nil, &rental.ValidationError{Field: "amount", Message: "amount must be positive"}
	}
	status := in.Status
	if status == "" {
		status = rental.TxStatusCompleted
	}
	if !status.Valid() {
		return nil, &rental.ValidationError{Field: "status", Message: "unknown transaction status"}
	}

	now := s.now()
	tx := rental.SettlementTransaction{
		ID:               rental.TransactionID(s.newID()),
		BookingID:        bookingID,
		Type:             in.Type,
		Amount:           in.Amount,
		Status:           status,
		IsPostCompletion: in.IsPostCompletion,
		PaymentMethod:    in.PaymentMethod,
		ReferenceNumber:  in.ReferenceNumber,
		Notes:            in.Notes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.store.WithTx(ctx, func(store rental.Store) error {
		booking, err := store.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		st, err := store.GetSettlement(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := guardRecord(st, booking, in.IsPostCompletion); err != nil {
			return err
		}

		if err := store.AppendTransaction(ctx, tx); err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}

		if status == rental.TxStatusCompleted {
			if err := applyCompleted(ctx, store, booking, &tx, now); err != nil {
				return err
			}
		}

		// Bumping the settlement version serializes concurrent mutations
		// against this booking.
		st.UpdatedAt = now
		if err := store.UpdateSettlement(ctx, *st, st.Version); err != nil {
			return err
		}

		return store.AppendAudit(ctx, rental.AuditEntry{
			ID:        s.newID(),
			BookingID: bookingID,
			Action:    rental.AuditPaymentRecorded,
			Actor:     in.Actor,
			Reason:    strings.TrimSpace(string(in.Type) + " " + in.Notes),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, bookingID, rental.EventPaymentRecorded, tx)
	return &tx, nil
}

// applyCompleted folds a newly COMPLETED charge or refund into the
// booking's stored current amount so the stored field always agrees with
// the ledger projection. Payments received do not move the current amount.
func applyCompleted(ctx context.Context, store rental.Store, b *rental.Booking, tx *rental.SettlementTransaction, now time.Time) error {
	switch {
	case tx.Type.IsCharge():
		b.CurrentAmount = b.CurrentAmount.Add(tx.Amount)
	case tx.Type.IsRefund():
		b.CurrentAmount = b.CurrentAmount.Sub(tx.Amount)
	default:
		return nil
	}
	b.UpdatedAt = now
	return store.UpdateBooking(ctx, *b, b.Version)
}

// =============================================================================
// TRANSACTION STATUS TRANSITIONS
// =============================================================================

// UpdateTransactionStatus moves one transaction through its status
// machine. Completing a charge or refund adjusts the booking's current
// amount in the same unit of work.
func (s *Service) UpdateTransactionStatus(ctx context.Context, id rental.TransactionID, next rental.TransactionStatus, actor string) (*rental.SettlementTransaction, error) {
	now := s.now()
	var updated rental.SettlementTransaction

	err := s.store.WithTx(ctx, func(store rental.Store) error {
		tx, err := store.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		st, err := store.GetSettlement(ctx, tx.BookingID)
		if err != nil {
			return err
		}
		if err := guardStatusTransition(st, tx, next); err != nil {
			return err
		}

		if err := store.UpdateTransactionStatus(ctx, id, next, now); err != nil {
			return err
		}

		if next == rental.TxStatusCompleted {
			booking, err := store.GetBooking(ctx, tx.BookingID)
			if err != nil {
				return err
			}
			if err := applyCompleted(ctx, store, booking, tx, now); err != nil {
				return err
			}
		}

		st.UpdatedAt = now
		if err := store.UpdateSettlement(ctx, *st, st.Version); err != nil {
			return err
		}

		updated = *tx
		updated.Status = next
		updated.UpdatedAt = now

		return store.AppendAudit(ctx, rental.AuditEntry{
			ID:        s.newID(),
			BookingID: tx.BookingID,
			Action:    rental.AuditTransactionUpdated,
			Actor:     actor,
			Reason:    fmt.Sprintf("%s -> %s", tx.Status, next),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, updated.BookingID, rental.EventPaymentRecorded, updated)
	return &updated, nil
}

// =============================================================================
// DETAILS - Summary + transaction list
// =============================================================================

// Details returns the derived summary and the full transaction list.
// The summary may be served from cache; the projection is recomputed and
// re-cached on a miss.
func (s *Service) Details(ctx context.Context, bookingID rental.BookingID) (*rental.SettlementSummary, []rental.SettlementTransaction, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	txs, err := s.store.Transactions(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}

	if s.cache != nil {
		if cached, err := s.cache.GetSummary(ctx, bookingID); err != nil {
			log.Printf("WARNING: settlement summary cache read failed for %s: %v", bookingID, err)
		} else if cached != nil {
			return cached, txs, nil
		}
	}

	st, err := s.store.GetSettlement(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	summary := Summarize(booking, st, txs)

	if s.cache != nil {
		if err := s.cache.SetSummary(ctx, summary); err != nil {
			log.Printf("WARNING: settlement summary cache write failed for %s: %v", bookingID, err)
		}
	}
	return &summary, txs, nil
}

// =============================================================================
// CLOSE / REOPEN
// =============================================================================

// Close transitions the settlement to CLOSED. Fails with BalanceNotZero
// while anything is still owed (balance > 0); a credit balance may close.
func (s *Service) Close(ctx context.Context, bookingID rental.BookingID, notes, actor string) error {
	now := s.now()
	err := s.store.WithTx(ctx, func(store rental.Store) error {
		booking, err := store.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		st, err := store.GetSettlement(ctx, bookingID)
		if err != nil {
			return err
		}
		txs, err := store.Transactions(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := guardClose(st, Summarize(booking, st, txs)); err != nil {
			return err
		}

		st.Status = rental.SettlementClosed
		st.ClosedAt = &now
		st.CloseNotes = notes
		st.UpdatedAt = now
		if err := store.UpdateSettlement(ctx, *st, st.Version); err != nil {
			return err
		}

		return store.AppendAudit(ctx, rental.AuditEntry{
			ID:        s.newID(),
			BookingID: bookingID,
			Action:    rental.AuditSettlementClosed,
			Actor:     actor,
			Reason:    notes,
			CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}

	s.afterCommit(ctx, bookingID, rental.EventSettlementClosed, nil)
	return nil
}

// Reopen transitions the settlement back to OPEN. The reason is
// mandatory and retained for audit; it feeds no computation.
func (s *Service) Reopen(ctx context.Context, bookingID rental.BookingID, reason, actor string) error {
	now := s.now()
	err := s.store.WithTx(ctx, func(store rental.Store) error {
		st, err := store.GetSettlement(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := guardReopen(st, reason); err != nil {
			return err
		}

		st.Status = rental.SettlementOpen
		st.ClosedAt = nil
		st.CloseNotes = ""
		st.ReopenReason = reason
		st.UpdatedAt = now
		if err := store.UpdateSettlement(ctx, *st, st.Version); err != nil {
			return err
		}

		return store.AppendAudit(ctx, rental.AuditEntry{
			ID:        s.newID(),
			BookingID: bookingID,
			Action:    rental.AuditSettlementReopened,
			Actor:     actor,
			Reason:    reason,
			CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}

	s.afterCommit(ctx, bookingID, rental.EventSettlementReopened, nil)
	return nil
}

// =============================================================================
// POST-COMMIT EFFECTS
// =============================================================================

// afterCommit invalidates the cached summary and publishes an event.
// Best effort: the unit of work has already committed, so failures here
// are logged and swallowed.
func (s *Service) afterCommit(ctx context.Context, bookingID rental.BookingID, eventType rental.EventType, payload any) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, bookingID); err != nil {
			log.Printf("WARNING: failed to invalidate settlement cache for %s: %v", bookingID, err)
		}
	}
	if s.events != nil {
		event := rental.Event{Type: eventType, BookingID: bookingID, At: s.now(), Payload: payload}
		if err := s.events.Publish(ctx, event); err != nil {
			log.Printf("WARNING: failed to publish %s event for %s: %v", eventType, bookingID, err)
		}
	}
}
