/*
Package modification implements the booking-modification workflow: the
policy resolver, the pricing recalculator, the pure preview builder, and
the executor that commits a modification atomically.

PURPOSE:
  A modification is a two-step protocol. Preview is a pure computation
  over current state - no locks, no writes, safe to repeat. Execute
  recomputes everything server-side (a client-held preview is never
  trusted), re-validates against the booking's version, and commits the
  field updates together with exactly one settlement transaction.

KEY CONCEPTS (policy.go):
  - Policy: time- and status-dependent rules for changing a booking
  - Fee window: modifications are free until freeModificationHours
    before pickup; inside the window a flat or percentage fee applies
  - Allowed-change flags: which field categories may change, derived
    from booking status

  Policies are computed fresh on every request and never persisted.

SEE ALSO:
  - pricing.go: rate-table recalculation
  - preview.go: diff + fee + payment adjustment
  - executor.go: atomic commit
*/
package modification

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/rental-engine/rental"
)

// =============================================================================
// POLICY
// =============================================================================

type FeeType string

const (
	FeeFlat    FeeType = "flat"
	FeePercent FeeType = "percent"
)

// Policy is the applicable modification policy for one booking at one
// instant. Ephemeral: computed per request, never stored.
type Policy struct {
	BookingID             rental.BookingID
	FreeModificationHours int
	FeeType               FeeType
	HoursUntilPickup      float64
	IsFree                bool
	EstimatedFee          rental.Money

	AllowDateChange     bool
	AllowVehicleChange  bool
	AllowLocationChange bool

	Message string
}

// AllowsAny reports whether the policy permits any change at all.
func (p *Policy) AllowsAny() bool {
	return p.AllowDateChange || p.AllowVehicleChange || p.AllowLocationChange
}

// Config is the deployment-wide policy configuration.
type Config struct {
	FreeModificationHours int
	FeeType               FeeType
	FlatFee               rental.Money
	FeePercent            decimal.Decimal // e.g. 0.10 for 10% of the current amount
}

// PolicyResolver returns the applicable policy for a booking. Treated as
// an idempotent read: eligible for retry, and a timeout surfaces as
// ErrPolicyUnavailable rather than a silently defaulted policy.
type PolicyResolver interface {
	Resolve(ctx context.Context, bookingID rental.BookingID) (*Policy, error)
}

// =============================================================================
// CONFIG RESOLVER - Policy from static config + booking state
// =============================================================================

type ConfigResolver struct {
	Bookings rental.BookingStore
	Config   Config
	Now      func() time.Time
}

func NewConfigResolver(bookings rental.BookingStore, cfg Config) *ConfigResolver {
	return &ConfigResolver{
		Bookings: bookings,
		Config:   cfg,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *ConfigResolver) Resolve(ctx context.Context, bookingID rental.BookingID) (*Policy, error) {
	booking, err := r.Bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	hoursUntil := booking.StartAt.Sub(r.Now()).Hours()
	isFree := hoursUntil >= float64(r.Config.FreeModificationHours)

	fee := booking.CurrentAmount.Zero()
	if !isFree {
		switch r.Config.FeeType {
		case FeePercent:
			fee = booking.CurrentAmount.Mul(r.Config.FeePercent)
		default:
			fee = r.Config.FlatFee
		}
	}

	p := &Policy{
		BookingID:             bookingID,
		FreeModificationHours: r.Config.FreeModificationHours,
		FeeType:               r.Config.FeeType,
		HoursUntilPickup:      hoursUntil,
		IsFree:                isFree,
		EstimatedFee:          fee,
	}

	switch booking.Status {
	case rental.BookingUpcoming:
		p.AllowDateChange = true
		p.AllowVehicleChange = true
		p.AllowLocationChange = true
	case rental.BookingActive:
		// A rental already in progress: the vehicle is out, so only the
		// return side may move.
		p.AllowDateChange = true
		p.AllowLocationChange = true
	}

	p.Message = r.message(booking, p)
	return p, nil
}

func (r *ConfigResolver) message(b *rental.Booking, p *Policy) string {
	if !p.AllowsAny() {
		return fmt.Sprintf("booking %s is %s and can no longer be modified", b.ID, b.Status)
	}
	if p.IsFree {
		return fmt.Sprintf("free modification: %.1f hours until pickup (free window is %d hours)",
			p.HoursUntilPickup, p.FreeModificationHours)
	}
	return fmt.Sprintf("late modification: %.1f hours until pickup, a fee of %s applies",
		p.HoursUntilPickup, p.EstimatedFee)
}
