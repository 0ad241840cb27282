/*
pricing.go - Rental cost recalculation

PURPOSE:
  Recomputes the rental cost for a proposed vehicle assignment from the
  rate table. Day counting uses ceiling rounding: any partial day counts
  as a full day, and a rental is never shorter than one day.

  Recalculation is an idempotent read: eligible for retry, and a missing
  rate or timed-out lookup surfaces as ErrPricingUnavailable - the
  engine never silently substitutes a default rate.
*/
package modification

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/rental-engine/rental"
)

// PricingDetail is the recomputed per-vehicle cost breakdown.
type PricingDetail struct {
	VehicleID rental.VehicleID
	Days      int
	DailyRate rental.Money
	Total     rental.Money
}

// PricingRecalculator recomputes the rental cost for an assignment.
type PricingRecalculator interface {
	Recalculate(ctx context.Context, a rental.VehicleAssignment) (*PricingDetail, error)
}

// RentalDays counts billable days between start and end with ceiling
// rounding on partial days; minimum one day.
func RentalDays(start, end time.Time) int {
	hours := end.Sub(start).Hours()
	days := int(math.Ceil(hours / 24))
	if days < 1 {
		return 1
	}
	return days
}

// =============================================================================
// RATE TABLE RECALCULATOR
// =============================================================================

// RateTableRecalculator prices assignments against the stored rate table.
type RateTableRecalculator struct {
	Rates rental.RateStore
}

func NewRateTableRecalculator(rates rental.RateStore) *RateTableRecalculator {
	return &RateTableRecalculator{Rates: rates}
}

func (rc *RateTableRecalculator) Recalculate(ctx context.Context, a rental.VehicleAssignment) (*PricingDetail, error) {
	if !a.EndAt.After(a.StartAt) {
		return nil, &rental.ValidationError{Field: "dates", Message: "end must be after start"}
	}

	rate, err := rc.Rates.ActiveRate(ctx, a.VehicleID, a.StartAt, a.EndAt)
	if err != nil {
		return nil, err
	}

	days := RentalDays(a.StartAt, a.EndAt)
	return &PricingDetail{
		VehicleID: a.VehicleID,
		Days:      days,
		DailyRate: rate.DailyRate,
		Total:     rate.DailyRate.Mul(decimal.NewFromInt(int64(days))),
	}, nil
}
