package modification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rental-engine/rental"
	"github.com/warp/rental-engine/store/memory"
)

func TestRentalDays(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		end  time.Time
		want int
	}{
		{"exactly one day", base.Add(24 * time.Hour), 1},
		{"one hour rounds up to a day", base.Add(time.Hour), 1},
		{"exactly two days", base.Add(48 * time.Hour), 2},
		{"two days and a minute rounds up", base.Add(48*time.Hour + time.Minute), 3},
		{"partial third day", base.Add(49 * time.Hour), 3},
		{"zero duration floors at one", base, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RentalDays(base, tt.end))
		})
	}
}

func TestRecalculateFromRateTable(t *testing.T) {
	// GIVEN: an 80/day rate covering the proposed range
	store := memory.New()
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveRate(ctx, rental.Rate{
		ID:        "rate-1",
		VehicleID: "compact-01",
		DailyRate: rental.NewMoneyFromInt(80, "USD"),
		ValidFrom: base.AddDate(0, -1, 0),
		ValidTo:   base.AddDate(0, 1, 0),
		Active:    true,
	}))

	rc := NewRateTableRecalculator(store)

	// WHEN: pricing a 3.5-day assignment
	detail, err := rc.Recalculate(ctx, rental.VehicleAssignment{
		VehicleID: "compact-01",
		StartAt:   base,
		EndAt:     base.Add(84 * time.Hour),
	})

	// THEN: partial days bill as whole days: 4 x 80
	require.NoError(t, err)
	assert.Equal(t, 4, detail.Days)
	assert.True(t, detail.Total.Equal(rental.NewMoneyFromInt(320, "USD")))
}

func TestRecalculateNoRate(t *testing.T) {
	// GIVEN: an empty rate table
	rc := NewRateTableRecalculator(memory.New())
	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	// WHEN: pricing
	_, err := rc.Recalculate(context.Background(), rental.VehicleAssignment{
		VehicleID: "compact-01",
		StartAt:   base,
		EndAt:     base.Add(24 * time.Hour),
	})

	// THEN: pricing is unavailable, never silently defaulted
	assert.ErrorIs(t, err, rental.ErrPricingUnavailable)
}

func TestRecalculateRejectsBackwardsRange(t *testing.T) {
	rc := NewRateTableRecalculator(memory.New())
	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	_, err := rc.Recalculate(context.Background(), rental.VehicleAssignment{
		VehicleID: "compact-01",
		StartAt:   base,
		EndAt:     base.Add(-time.Hour),
	})
	assert.ErrorIs(t, err, rental.ErrValidation)
}
