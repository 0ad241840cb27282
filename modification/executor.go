/*
executor.go - Atomic modification commit

PURPOSE:
  Commits a booking modification. The preview a client holds is never
  trusted as input: time and pricing may have moved since it was shown,
  so the executor recomputes the whole preview against current state,
  then commits inside one unit of work:

    1. Recompute validation + preview (fail fast, nothing persisted)
    2. Re-check the booking's version captured by the recomputation;
       a mismatch is a ConcurrencyConflict surfaced to the caller -
       never retried internally, a human may need to re-confirm amounts
    3. Apply the field updates and append exactly one settlement
       transaction (CHARGE -> modification charge, REFUND -> refund,
       NO_CHANGE -> field updates only)
    4. Capture payment for a CHARGE before commit; a declined capture
       rolls back the entire unit of work

  Preview is long-lived relative to commit (a user can sit on a preview
  for minutes), so the version check replaces any pessimistic lock
  across that window.
*/
package modification

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/warp/rental-engine/rental"
)

// Capturer charges the customer's payment method. A nil Capturer means
// captures are handled out of band and charges are recorded directly.
type Capturer interface {
	Capture(ctx context.Context, bookingID rental.BookingID, amount rental.Money, description string) (reference string, err error)
}

// Response mirrors the preview plus the commit outcome.
type Response struct {
	Preview
	Confirmation  string
	TransactionID *rental.TransactionID
}

// =============================================================================
// EXECUTOR
// =============================================================================

type Executor struct {
	store    rental.TxStore
	previews *PreviewBuilder
	gateway  Capturer
	cache    rental.SummaryCache
	events   rental.EventPublisher
	now      func() time.Time
	newID    func() string
}

type ExecutorOption func(*Executor)

func WithGateway(g Capturer) ExecutorOption { return func(e *Executor) { e.gateway = g } }

func WithCache(c rental.SummaryCache) ExecutorOption { return func(e *Executor) { e.cache = c } }

func WithEvents(p rental.EventPublisher) ExecutorOption { return func(e *Executor) { e.events = p } }

func WithClock(now func() time.Time) ExecutorOption { return func(e *Executor) { e.now = now } }

func NewExecutor(store rental.TxStore, previews *PreviewBuilder, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:    store,
		previews: previews,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute recomputes and commits the modification described by req.
func (e *Executor) Execute(ctx context.Context, req Request) (*Response, error) {
	preview, err := e.previews.Build(ctx, req)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var txID *rental.TransactionID

	err = e.store.WithTx(ctx, func(store rental.Store) error {
		booking, err := store.GetBooking(ctx, req.BookingID)
		if err != nil {
			return err
		}
		if booking.Version != preview.BookingVersion {
			return fmt.Errorf("booking %s changed since preview: %w", req.BookingID, rental.ErrConcurrencyConflict)
		}

		st, err := store.GetSettlement(ctx, req.BookingID)
		if err != nil {
			return err
		}
		if preview.Adjustment.Kind != rental.AdjustmentNoChange && st.Status == rental.SettlementClosed {
			return &rental.StateTransitionError{
				From:    string(rental.SettlementClosed),
				To:      "record_transaction",
				Message: "settlement is closed; reopen it before modifying with a monetary adjustment",
			}
		}

		booking.VehicleID = req.Assignment.VehicleID
		booking.StartAt = req.Assignment.StartAt
		booking.EndAt = req.Assignment.EndAt
		booking.PickupLocation = req.Assignment.PickupLocation
		booking.DropoffLocation = req.Assignment.DropoffLocation
		booking.CurrentAmount = booking.CurrentAmount.Add(preview.TotalAdjustment)
		booking.UpdatedAt = now

		if err := store.UpdateBooking(ctx, *booking, preview.BookingVersion); err != nil {
			return err
		}

		if preview.Adjustment.Kind != rental.AdjustmentNoChange {
			reference := ""
			txType := rental.TxRefund
			if preview.Adjustment.Kind == rental.AdjustmentCharge {
				txType = rental.TxChargeModification
				reference, err = e.capture(ctx, *booking, preview.Adjustment)
				if err != nil {
					return err
				}
			}

			tx := rental.SettlementTransaction{
				ID:              rental.TransactionID(e.newID()),
				BookingID:       req.BookingID,
				Type:            txType,
				Amount:          preview.Adjustment.Amount,
				Status:          rental.TxStatusCompleted,
				PaymentMethod:   "card",
				ReferenceNumber: reference,
				Notes:           req.Reason,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := store.AppendTransaction(ctx, tx); err != nil {
				return fmt.Errorf("append modification transaction: %w", err)
			}
			id := tx.ID
			txID = &id
		}

		st.UpdatedAt = now
		if err := store.UpdateSettlement(ctx, *st, st.Version); err != nil {
			return err
		}

		return store.AppendAudit(ctx, rental.AuditEntry{
			ID:        e.newID(),
			BookingID: req.BookingID,
			Action:    rental.AuditModificationExecuted,
			Reason:    req.Reason,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	e.afterCommit(ctx, req.BookingID, preview)

	return &Response{
		Preview:       *preview,
		Confirmation:  confirmation(preview),
		TransactionID: txID,
	}, nil
}

// capture charges the adjustment amount. Any gateway failure wraps
// ErrPaymentCaptureFailure so the unit of work rolls back completely.
func (e *Executor) capture(ctx context.Context, b rental.Booking, adj rental.PaymentAdjustment) (string, error) {
	if e.gateway == nil {
		return "", nil
	}
	reference, err := e.gateway.Capture(ctx, b.ID, adj.Amount, adj.Description)
	if err != nil {
		return "", &rental.CaptureError{BookingID: b.ID, Amount: adj.Amount, Cause: err}
	}
	return reference, nil
}

func confirmation(p *Preview) string {
	switch p.Adjustment.Kind {
	case rental.AdjustmentCharge:
		return fmt.Sprintf("modification confirmed; %s charged", p.Adjustment.Amount)
	case rental.AdjustmentRefund:
		return fmt.Sprintf("modification confirmed; %s will be refunded", p.Adjustment.Amount)
	default:
		return "modification confirmed; no payment adjustment"
	}
}

// afterCommit invalidates the cached summary and publishes the event.
// Best effort only: the commit already happened.
func (e *Executor) afterCommit(ctx context.Context, bookingID rental.BookingID, preview *Preview) {
	if e.cache != nil {
		if err := e.cache.Invalidate(ctx, bookingID); err != nil {
			log.Printf("WARNING: failed to invalidate settlement cache for %s: %v", bookingID, err)
		}
	}
	if e.events != nil {
		event := rental.Event{
			Type:      rental.EventModificationExecuted,
			BookingID: bookingID,
			At:        e.now(),
			Payload:   preview.Adjustment,
		}
		if err := e.events.Publish(ctx, event); err != nil {
			log.Printf("WARNING: failed to publish modification event for %s: %v", bookingID, err)
		}
	}
}
