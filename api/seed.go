/*
seed.go - Demonstration dataset loader

PURPOSE:
  Populates the store with a realistic dataset for demos and manual
  testing: a rate table, an upcoming booking mid-way through settling,
  and a completed booking with a post-completion damage charge.

  Seeding is additive (no database reset) and idempotent per call only
  in the sense that each call creates fresh bookings; it is meant for
  development and demo environments.

USAGE VIA API:
  POST /api/demo/seed
*/
package api

import (
	"context"
	"net/http"

	"github.com/warp/rental-engine/rental"
	"github.com/warp/rental-engine/settlement"
)

// SeedDemo loads the demonstration dataset and returns the created IDs.
func (h *Handler) SeedDemo(w http.ResponseWriter, r *http.Request) {
	ids, err := h.seed(r.Context())
	if err != nil {
		writeError(w, r, "failed to seed demo data", err)
		return
	}
	writeJSON(w, http.StatusCreated, ids)
}

type seedResult struct {
	UpcomingBookingID  string `json:"upcoming_booking_id"`
	CompletedBookingID string `json:"completed_booking_id"`
}

func (h *Handler) seed(ctx context.Context) (*seedResult, error) {
	now := h.now()

	// Rates for two vehicle classes, valid for a year around now.
	for _, seed := range []struct {
		vehicle string
		daily   int
	}{
		{"compact-01", 80},
		{"suv-02", 125},
	} {
		rate := rental.Rate{
			ID:        h.newID(),
			VehicleID: rental.VehicleID(seed.vehicle),
			DailyRate: rental.NewMoneyFromInt(seed.daily, h.Currency),
			ValidFrom: now.AddDate(0, -6, 0),
			ValidTo:   now.AddDate(1, 0, 0),
			Active:    true,
		}
		if err := h.Store.SaveRate(ctx, rate); err != nil {
			return nil, err
		}
	}

	// An upcoming five-day booking, partially paid. Its settlement shows
	// a live balance and its policy window is still free.
	upcoming := rental.Booking{
		ID:              rental.BookingID(h.newID()),
		VehicleID:       "compact-01",
		StartAt:         now.AddDate(0, 0, 7),
		EndAt:           now.AddDate(0, 0, 12),
		PickupLocation:  "Airport",
		DropoffLocation: "Airport",
		Status:          rental.BookingUpcoming,
		OriginalAmount:  rental.NewMoneyFromInt(400, h.Currency),
		CurrentAmount:   rental.NewMoneyFromInt(400, h.Currency),
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := h.Store.SaveBooking(ctx, upcoming); err != nil {
		return nil, err
	}
	if _, err := h.Settlements.Record(ctx, upcoming.ID, settlement.RecordInput{
		Type:          rental.TxPaymentReceived,
		Amount:        rental.NewMoneyFromInt(150, h.Currency),
		PaymentMethod: "card",
		Notes:         "deposit",
		Actor:         "seed",
	}); err != nil {
		return nil, err
	}

	// A completed rental, fully paid, then hit with a damage charge after
	// return. Balance shows the outstanding charge.
	completed := rental.Booking{
		ID:              rental.BookingID(h.newID()),
		VehicleID:       "suv-02",
		StartAt:         now.AddDate(0, 0, -10),
		EndAt:           now.AddDate(0, 0, -6),
		PickupLocation:  "Downtown",
		DropoffLocation: "Downtown",
		Status:          rental.BookingCompleted,
		OriginalAmount:  rental.NewMoneyFromInt(500, h.Currency),
		CurrentAmount:   rental.NewMoneyFromInt(500, h.Currency),
		Version:         1,
		CreatedAt:       now.AddDate(0, 0, -12),
		UpdatedAt:       now,
	}
	if err := h.Store.SaveBooking(ctx, completed); err != nil {
		return nil, err
	}
	if _, err := h.Settlements.Record(ctx, completed.ID, settlement.RecordInput{
		Type:          rental.TxPaymentReceived,
		Amount:        rental.NewMoneyFromInt(500, h.Currency),
		PaymentMethod: "card",
		Notes:         "full prepayment",
		Actor:         "seed",
	}); err != nil {
		return nil, err
	}
	if _, err := h.Settlements.Record(ctx, completed.ID, settlement.RecordInput{
		Type:             rental.TxChargeDamage,
		Amount:           rental.NewMoneyFromInt(150, h.Currency),
		IsPostCompletion: true,
		Notes:            "scratched rear bumper",
		Actor:            "seed",
	}); err != nil {
		return nil, err
	}

	return &seedResult{
		UpcomingBookingID:  string(upcoming.ID),
		CompletedBookingID: string(completed.ID),
	}, nil
}
