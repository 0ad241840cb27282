/*
Package rental provides the shared data model for the fleet-rental
modification and settlement engine.

PURPOSE:
  This package contains the types every other layer speaks: bookings,
  monetary amounts, settlement transactions, settlement state, and the
  persistence interfaces. Domain behavior lives in the settlement and
  modification packages; this package is deliberately logic-light.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A monetary amount with a currency (decimal-backed, never float)
  - Booking: The aggregate the modification engine mutates (versioned)
  - SettlementTransaction: An immutable ledger entry for money movement
  - SettlementState: The OPEN/CLOSED record governing ledger mutations
  - SettlementSummary: A derived aggregate, never the source of truth
  - PaymentAdjustment: The net delta produced by a modification preview

DESIGN PRINCIPLES:
  1. Immutability: Ledger transactions are never edited, only appended
     (status is the one sanctioned mutation, and it is state-machine gated)
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Derivation: Summaries and balances are always recomputed from the
     transaction list, never trusted from a stored field
  4. Versioning: Booking and SettlementState carry optimistic-lock versions

SEE ALSO:
  - errors.go: Error taxonomy shared by all layers
  - store.go: Persistence interfaces (append-only ledger contract)
  - settlement/: Ledger service, state machine, summary projection
  - modification/: Policy, pricing, preview, and execution
*/
package rental

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Amount with currency
// =============================================================================

type Money struct {
	Value    decimal.Decimal
	Currency string
}

func NewMoney(value float64, currency string) Money {
	return Money{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewMoneyFromInt(value int, currency string) Money {
	return Money{Value: decimal.NewFromInt(int64(value)), Currency: currency}
}

func MustParseMoney(s, currency string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{Value: decimal.Zero, Currency: currency}
	}
	return Money{Value: d, Currency: currency}
}

// Arithmetic assumes operands share a currency; mixing currencies is a
// programming error, not a runtime condition this system can encounter
// (a deployment is single-currency, see config.Policy.Currency).
func (m Money) Zero() Money                  { return Money{Value: decimal.Zero, Currency: m.Currency} }
func (m Money) Add(o Money) Money            { return Money{Value: m.Value.Add(o.Value), Currency: m.Currency} }
func (m Money) Sub(o Money) Money            { return Money{Value: m.Value.Sub(o.Value), Currency: m.Currency} }
func (m Money) Mul(s decimal.Decimal) Money  { return Money{Value: m.Value.Mul(s), Currency: m.Currency} }
func (m Money) Neg() Money                   { return Money{Value: m.Value.Neg(), Currency: m.Currency} }
func (m Money) Abs() Money                   { return Money{Value: m.Value.Abs(), Currency: m.Currency} }
func (m Money) IsZero() bool                 { return m.Value.IsZero() }
func (m Money) IsNegative() bool             { return m.Value.IsNegative() }
func (m Money) IsPositive() bool             { return m.Value.IsPositive() }
func (m Money) GreaterThan(o Money) bool     { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool        { return m.Value.LessThan(o.Value) }
func (m Money) Equal(o Money) bool           { return m.Value.Equal(o.Value) && m.Currency == o.Currency }
func (m Money) String() string               { return m.Value.StringFixed(2) + " " + m.Currency }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BookingID string
type VehicleID string
type TransactionID string

// =============================================================================
// BOOKING - The aggregate mutated by the modification executor
// =============================================================================

type BookingStatus string

const (
	BookingUpcoming  BookingStatus = "UPCOMING"
	BookingActive    BookingStatus = "ACTIVE"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingCancelled BookingStatus = "CANCELLED"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingUpcoming, BookingActive, BookingCompleted, BookingCancelled:
		return true
	}
	return false
}

// VehicleAssignment is the (vehicle, dates, locations) tuple a booking holds
// and a modification request proposes. Value type, safe to copy.
type VehicleAssignment struct {
	VehicleID       VehicleID
	StartAt         time.Time
	EndAt           time.Time
	PickupLocation  string
	DropoffLocation string
}

type Booking struct {
	ID              BookingID
	VehicleID       VehicleID
	StartAt         time.Time
	EndAt           time.Time
	PickupLocation  string
	DropoffLocation string
	Status          BookingStatus

	// OriginalAmount is fixed at creation. CurrentAmount tracks
	// original + completed charges - completed refunds and must always
	// agree with the ledger projection.
	OriginalAmount Money
	CurrentAmount  Money

	// Version is the optimistic-lock token. Every committed mutation
	// increments it; a stale preview fails with ErrConcurrencyConflict.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Assignment returns the booking's current vehicle assignment.
func (b *Booking) Assignment() VehicleAssignment {
	return VehicleAssignment{
		VehicleID:       b.VehicleID,
		StartAt:         b.StartAt,
		EndAt:           b.EndAt,
		PickupLocation:  b.PickupLocation,
		DropoffLocation: b.DropoffLocation,
	}
}

// =============================================================================
// SETTLEMENT TRANSACTION - Immutable ledger entry
// =============================================================================

type TransactionType string

const (
	TxPaymentReceived TransactionType = "payment_received"

	TxChargeModification TransactionType = "charge_modification"
	TxChargeDamage       TransactionType = "charge_damage"
	TxChargeFuel         TransactionType = "charge_fuel"
	TxChargeFine         TransactionType = "charge_fine"
	TxChargeCleaning     TransactionType = "charge_cleaning"
	TxChargeLateFee      TransactionType = "charge_late_fee"
	TxChargeToll         TransactionType = "charge_toll"
	TxChargeAdmin        TransactionType = "charge_admin"

	TxRefund TransactionType = "refund"
)

func (t TransactionType) IsPayment() bool { return t == TxPaymentReceived }
func (t TransactionType) IsRefund() bool  { return t == TxRefund }

func (t TransactionType) IsCharge() bool {
	switch t {
	case TxChargeModification, TxChargeDamage, TxChargeFuel, TxChargeFine,
		TxChargeCleaning, TxChargeLateFee, TxChargeToll, TxChargeAdmin:
		return true
	}
	return false
}

func (t TransactionType) Valid() bool {
	return t.IsPayment() || t.IsRefund() || t.IsCharge()
}

type TransactionStatus string

const (
	TxStatusPending    TransactionStatus = "PENDING"
	TxStatusProcessing TransactionStatus = "PROCESSING"
	TxStatusCompleted  TransactionStatus = "COMPLETED"
	TxStatusFailed     TransactionStatus = "FAILED"
	TxStatusCancelled  TransactionStatus = "CANCELLED"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case TxStatusPending, TxStatusProcessing, TxStatusCompleted, TxStatusFailed, TxStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo enforces the transaction status machine. COMPLETED,
// FAILED and CANCELLED are terminal; everything else moves forward only.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch s {
	case TxStatusPending:
		return next == TxStatusProcessing || next == TxStatusCompleted ||
			next == TxStatusFailed || next == TxStatusCancelled
	case TxStatusProcessing:
		return next == TxStatusCompleted || next == TxStatusFailed || next == TxStatusCancelled
	default:
		return false
	}
}

// SettlementTransaction is one entry in a booking's append-only ledger.
// Amount is always non-negative; direction comes from Type.
// Immutable once created except for Status transitions.
type SettlementTransaction struct {
	ID               TransactionID
	BookingID        BookingID
	Type             TransactionType
	Amount           Money
	Status           TransactionStatus
	IsPostCompletion bool
	PaymentMethod    string
	ReferenceNumber  string
	Notes            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// =============================================================================
// SETTLEMENT STATE - OPEN/CLOSED lifecycle record
// =============================================================================

type SettlementStatus string

const (
	SettlementOpen   SettlementStatus = "OPEN"
	SettlementClosed SettlementStatus = "CLOSED"
)

type SettlementState struct {
	BookingID  BookingID
	Status     SettlementStatus
	ClosedAt   *time.Time
	CloseNotes string

	// ReopenReason holds the most recent reopen reason; the full history
	// lives in the audit trail. Retained for audit only, never computed on.
	ReopenReason string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// SETTLEMENT SUMMARY - Derived, never stored
// =============================================================================

type SettlementSummary struct {
	BookingID BookingID

	OriginalAmount Money
	CurrentAmount  Money
	TotalReceived  Money
	TotalCharges   Money
	TotalRefunds   Money
	Balance        Money

	Status            SettlementStatus
	TransactionCount  int
	LastTransactionAt *time.Time

	// CompletionPercent is display-only: received/current clamped to
	// [0, 100], with nothing-owed treated as fully settled.
	CompletionPercent float64
}

// =============================================================================
// PAYMENT ADJUSTMENT - Net delta from a modification
// =============================================================================

type AdjustmentKind string

const (
	AdjustmentCharge   AdjustmentKind = "CHARGE"
	AdjustmentRefund   AdjustmentKind = "REFUND"
	AdjustmentNoChange AdjustmentKind = "NO_CHANGE"
)

// PaymentAdjustment carries the authoritative kind tag plus a non-negative
// amount. The constructor derives the kind from the signed total, so a
// kind/sign disagreement is unrepresentable; NewPaymentAdjustment is the
// checked form for callers that already hold a tag.
type PaymentAdjustment struct {
	Kind        AdjustmentKind
	Amount      Money
	Description string
}

// AdjustmentFor derives the adjustment from a signed total:
// positive -> CHARGE, negative -> REFUND, zero -> NO_CHANGE.
func AdjustmentFor(total Money, description string) PaymentAdjustment {
	kind := AdjustmentNoChange
	switch {
	case total.IsPositive():
		kind = AdjustmentCharge
	case total.IsNegative():
		kind = AdjustmentRefund
	}
	return PaymentAdjustment{Kind: kind, Amount: total.Abs(), Description: description}
}

// NewPaymentAdjustment validates that amount agrees with kind at
// construction time and rejects disagreement instead of reconciling it
// downstream.
func NewPaymentAdjustment(kind AdjustmentKind, amount Money, description string) (PaymentAdjustment, error) {
	switch kind {
	case AdjustmentCharge, AdjustmentRefund:
		if !amount.IsPositive() {
			return PaymentAdjustment{}, &ValidationError{
				Field:   "amount",
				Message: "amount must be positive for " + string(kind),
			}
		}
	case AdjustmentNoChange:
		if !amount.IsZero() {
			return PaymentAdjustment{}, &ValidationError{
				Field:   "amount",
				Message: "amount must be zero for NO_CHANGE",
			}
		}
	default:
		return PaymentAdjustment{}, &ValidationError{Field: "kind", Message: "unknown adjustment kind"}
	}
	return PaymentAdjustment{Kind: kind, Amount: amount, Description: description}, nil
}

// =============================================================================
// RATE - Daily rate backing the pricing recalculator
// =============================================================================

type Rate struct {
	ID        string
	VehicleID VehicleID
	DailyRate Money
	ValidFrom time.Time
	ValidTo   time.Time
	Active    bool
}

// Covers reports whether the rate is active over the whole [from, to] range.
func (r Rate) Covers(from, to time.Time) bool {
	return r.Active && !from.Before(r.ValidFrom) && !to.After(r.ValidTo)
}

// =============================================================================
// AUDIT - Who did what, when (append-only, separate from the ledger)
// =============================================================================

type AuditAction string

const (
	AuditModificationExecuted AuditAction = "modification_executed"
	AuditPaymentRecorded      AuditAction = "payment_recorded"
	AuditSettlementClosed     AuditAction = "settlement_closed"
	AuditSettlementReopened   AuditAction = "settlement_reopened"
	AuditTransactionUpdated   AuditAction = "transaction_status_updated"
)

type AuditEntry struct {
	ID        string
	BookingID BookingID
	Action    AuditAction
	Actor     string
	Reason    string
	CreatedAt time.Time
}

// =============================================================================
// EVENTS - Post-commit notifications (best effort, never part of the
// atomic unit of work)
// =============================================================================

type EventType string

const (
	EventModificationExecuted EventType = "modification_executed"
	EventPaymentRecorded      EventType = "payment_recorded"
	EventSettlementClosed     EventType = "settlement_closed"
	EventSettlementReopened   EventType = "settlement_reopened"
)

type Event struct {
	Type      EventType `json:"type"`
	BookingID BookingID `json:"booking_id"`
	At        time.Time `json:"at"`
	Payload   any       `json:"payload,omitempty"`
}

// EventPublisher pushes committed-state notifications to interested
// consumers. Implementations must not be able to fail the business
// operation; callers log and continue on error.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// SummaryCache caches derived settlement summaries. Invalidation is an
// explicit post-commit side effect of every settlement mutation.
type SummaryCache interface {
	// GetSummary returns (nil, nil) on a cache miss.
	GetSummary(ctx context.Context, bookingID BookingID) (*SettlementSummary, error)
	SetSummary(ctx context.Context, summary SettlementSummary) error
	Invalidate(ctx context.Context, bookingID BookingID) error
}
