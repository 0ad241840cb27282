/*
preview.go - Pure modification preview

PURPOSE:
  Combines current booking state, a proposed change set, the resolved
  policy and the recomputed pricing into a non-persisted preview. The
  builder is a pure computation over reads: calling it twice with the
  same inputs yields the same output and touches neither the booking nor
  the ledger. Previews exist only for a request/response cycle.

ALGORITHM:
  1. Validate the request (reason >= 5 chars, well-ordered dates)
  2. Diff the proposed assignment against the booking field-by-field;
     no difference at all is an error, not a no-op
  3. Resolve the policy; a changed field in a disallowed category fails
  4. Recalculate pricing for the proposed assignment
  5. fee   = isFree ? 0 : estimatedFee
     total = (newAmount - previousAmount) + fee
  6. Derive the payment adjustment from the signed total
*/
package modification

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/rental-engine/rental"
)

// MinReasonLength is the shortest acceptable modification reason.
const MinReasonLength = 5

// =============================================================================
// REQUEST - Immutable value passed between preview and execute
// =============================================================================

type Request struct {
	BookingID  rental.BookingID
	Assignment rental.VehicleAssignment
	Reason     string
}

func (r Request) Validate() error {
	if len(strings.TrimSpace(r.Reason)) < MinReasonLength {
		return &rental.ValidationError{
			Field:   "reason",
			Message: fmt.Sprintf("modification reason must be at least %d characters", MinReasonLength),
		}
	}
	if r.Assignment.StartAt.IsZero() || r.Assignment.EndAt.IsZero() {
		return &rental.ValidationError{Field: "dates", Message: "start and end are required"}
	}
	if !r.Assignment.EndAt.After(r.Assignment.StartAt) {
		return &rental.ValidationError{Field: "dates", Message: "end must be after start"}
	}
	if r.Assignment.VehicleID == "" {
		return &rental.ValidationError{Field: "vehicle_id", Message: "vehicle is required"}
	}
	return nil
}

// =============================================================================
// PREVIEW
// =============================================================================

// Preview is the non-persisted result of a preview computation.
type Preview struct {
	BookingID       rental.BookingID
	ChangedFields   []string
	PreviousAmount  rental.Money
	NewAmount       rental.Money
	ModificationFee rental.Money
	TotalAdjustment rental.Money
	Adjustment      rental.PaymentAdjustment
	Pricing         PricingDetail
	Policy          Policy

	// BookingVersion is the optimistic-lock token captured at preview
	// time and re-validated at commit.
	BookingVersion int64
}

// Changed field names, also the diff categories the policy gates.
const (
	FieldStartDate       = "start_date"
	FieldEndDate         = "end_date"
	FieldPickupLocation  = "pickup_location"
	FieldDropoffLocation = "dropoff_location"
	FieldVehicle         = "vehicle"
)

// diffAssignments lists the fields where the proposal differs from the
// booking's current assignment.
func diffAssignments(current, proposed rental.VehicleAssignment) []string {
	var fields []string
	if !proposed.StartAt.Equal(current.StartAt) {
		fields = append(fields, FieldStartDate)
	}
	if !proposed.EndAt.Equal(current.EndAt) {
		fields = append(fields, FieldEndDate)
	}
	if proposed.PickupLocation != current.PickupLocation {
		fields = append(fields, FieldPickupLocation)
	}
	if proposed.DropoffLocation != current.DropoffLocation {
		fields = append(fields, FieldDropoffLocation)
	}
	if proposed.VehicleID != current.VehicleID {
		fields = append(fields, FieldVehicle)
	}
	return fields
}

func checkPolicy(p *Policy, fields []string) error {
	for _, f := range fields {
		switch f {
		case FieldStartDate, FieldEndDate:
			if !p.AllowDateChange {
				return &rental.PolicyViolationError{Category: "date", Message: p.Message}
			}
		case FieldPickupLocation, FieldDropoffLocation:
			if !p.AllowLocationChange {
				return &rental.PolicyViolationError{Category: "location", Message: p.Message}
			}
		case FieldVehicle:
			if !p.AllowVehicleChange {
				return &rental.PolicyViolationError{Category: "vehicle", Message: p.Message}
			}
		}
	}
	return nil
}

// =============================================================================
// PREVIEW BUILDER
// =============================================================================

type PreviewBuilder struct {
	Bookings rental.BookingStore
	Policies PolicyResolver
	Pricing  PricingRecalculator
}

func NewPreviewBuilder(bookings rental.BookingStore, policies PolicyResolver, pricing PricingRecalculator) *PreviewBuilder {
	return &PreviewBuilder{Bookings: bookings, Policies: policies, Pricing: pricing}
}

// Build computes the preview. Read-only: many callers may build previews
// against the same booking concurrently.
func (pb *PreviewBuilder) Build(ctx context.Context, req Request) (*Preview, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	booking, err := pb.Bookings.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}

	fields := diffAssignments(booking.Assignment(), req.Assignment)
	if len(fields) == 0 {
		return nil, fmt.Errorf("booking %s: %w", req.BookingID, rental.ErrNoChangeDetected)
	}

	policy, err := pb.resolvePolicy(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if err := checkPolicy(policy, fields); err != nil {
		return nil, err
	}

	pricing, err := pb.recalculate(ctx, req.Assignment)
	if err != nil {
		return nil, err
	}

	previous := booking.CurrentAmount
	newAmount := pricing.Total

	fee := previous.Zero()
	if !policy.IsFree {
		fee = policy.EstimatedFee
	}
	total := newAmount.Sub(previous).Add(fee)

	description := fmt.Sprintf("rental %s -> %s, modification fee %s", previous, newAmount, fee)

	return &Preview{
		BookingID:       req.BookingID,
		ChangedFields:   fields,
		PreviousAmount:  previous,
		NewAmount:       newAmount,
		ModificationFee: fee,
		TotalAdjustment: total,
		Adjustment:      rental.AdjustmentFor(total, description),
		Pricing:         *pricing,
		Policy:          *policy,
		BookingVersion:  booking.Version,
	}, nil
}

// resolvePolicy retries the idempotent policy read; transient failures
// surface as ErrPolicyUnavailable.
func (pb *PreviewBuilder) resolvePolicy(ctx context.Context, id rental.BookingID) (*Policy, error) {
	var policy *Policy
	err := retryRead(ctx, func() error {
		var err error
		policy, err = pb.Policies.Resolve(ctx, id)
		return err
	})
	if err != nil {
		if rental.IsClientError(err) || rental.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("resolve policy for %s: %v: %w", id, err, rental.ErrPolicyUnavailable)
	}
	return policy, nil
}

// recalculate retries the idempotent pricing read; transient failures
// surface as ErrPricingUnavailable.
func (pb *PreviewBuilder) recalculate(ctx context.Context, a rental.VehicleAssignment) (*PricingDetail, error) {
	var detail *PricingDetail
	err := retryRead(ctx, func() error {
		var err error
		detail, err = pb.Pricing.Recalculate(ctx, a)
		return err
	})
	if err != nil {
		if rental.IsClientError(err) || rental.IsNotFound(err) || rental.IsUnavailable(err) {
			return nil, err
		}
		return nil, fmt.Errorf("recalculate pricing for %s: %v: %w", a.VehicleID, err, rental.ErrPricingUnavailable)
	}
	return detail, nil
}
