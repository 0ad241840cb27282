/*
handlers.go - HTTP API handlers for the rental modification engine

PURPOSE:
  Exposes the modification workflow and the settlement ledger via REST.
  Handles HTTP request/response, JSON serialization, and delegates to
  domain logic.

ENDPOINTS:
  Bookings:
    GET    /api/bookings                     List bookings
    POST   /api/bookings                     Create booking (priced from rates)
    GET    /api/bookings/{id}                Get booking details
    POST   /api/bookings/{id}/status         Move booking lifecycle

  Modification:
    GET    /api/bookings/{id}/modification-policy    Applicable policy
    POST   /api/bookings/{id}/modification/preview   Non-binding preview
    POST   /api/bookings/{id}/modification/execute   Atomic commit

  Settlement:
    GET    /api/bookings/{id}/settlement          Summary + transactions
    POST   /api/bookings/{id}/settlement/close    Close (balance must be settled)
    POST   /api/bookings/{id}/settlement/reopen   Reopen (reason required)
    POST   /api/bookings/{id}/settlement/payments Record a manual ledger entry
    POST   /api/transactions/{id}/status          Transaction status transition

  Rates:
    POST   /api/rates                        Add a daily rate

  Demo:
    POST   /api/demo/seed                    Load a demonstration dataset

ERROR HANDLING:
  Errors are returned as JSON with the status derived from the error
  taxonomy (statusFor):
  - 400: validation, no change detected, missing reopen reason
  - 402: payment capture failure
  - 403: policy violation
  - 404: booking/settlement/transaction not found
  - 409: concurrency conflict, state machine violation, non-zero balance
  - 502: policy or pricing dependency unavailable
  - 500: everything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - seed.go: Demo dataset loader
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/rental-engine/modification"
	"github.com/warp/rental-engine/rental"
	"github.com/warp/rental-engine/settlement"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       rental.TxStore
	Settlements *settlement.Service
	Policies    modification.PolicyResolver
	Pricing     modification.PricingRecalculator
	Previews    *modification.PreviewBuilder
	Executor    *modification.Executor

	Currency string

	now   func() time.Time
	newID func() string
}

// Deps bundles the services the handler exposes.
type Deps struct {
	Store       rental.TxStore
	Settlements *settlement.Service
	Policies    modification.PolicyResolver
	Pricing     modification.PricingRecalculator
	Previews    *modification.PreviewBuilder
	Executor    *modification.Executor
	Currency    string
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(d Deps) *Handler {
	return &Handler{
		Store:       d.Store,
		Settlements: d.Settlements,
		Policies:    d.Policies,
		Pricing:     d.Pricing,
		Previews:    d.Previews,
		Executor:    d.Executor,
		Currency:    d.Currency,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// ListBookings returns all bookings.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.Store.ListBookings(r.Context())
	if err != nil {
		writeError(w, r, "failed to list bookings", err)
		return
	}

	dtos := make([]BookingDTO, len(bookings))
	for i, b := range bookings {
		dtos[i] = toBookingDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBooking creates a booking priced from the rate table.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid request body", &rental.ValidationError{Field: "body", Message: err.Error()})
		return
	}

	assignment, err := parseAssignment(req.VehicleID, req.StartAt, req.EndAt, req.PickupLocation, req.DropoffLocation)
	if err != nil {
		writeError(w, r, "invalid booking", err)
		return
	}

	pricing, err := h.Pricing.Recalculate(r.Context(), assignment)
	if err != nil {
		writeError(w, r, "failed to price booking", err)
		return
	}

	now := h.now()
	booking := rental.Booking{
		ID:              rental.BookingID(h.newID()),
		VehicleID:       assignment.VehicleID,
		StartAt:         assignment.StartAt,
		EndAt:           assignment.EndAt,
		PickupLocation:  assignment.PickupLocation,
		DropoffLocation: assignment.DropoffLocation,
		Status:          rental.BookingUpcoming,
		OriginalAmount:  pricing.Total,
		CurrentAmount:   pricing.Total,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := h.Store.SaveBooking(r.Context(), booking); err != nil {
		writeError(w, r, "failed to save booking", err)
		return
	}

	writeJSON(w, http.StatusCreated, toBookingDTO(booking))
}

// GetBooking returns one booking.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.Store.GetBooking(r.Context(), rental.BookingID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, r, "failed to get booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*booking))
}

// UpdateBookingStatus moves a booking through its lifecycle.
func (h *Handler) UpdateBookingStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateBookingStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid request body", &rental.ValidationError{Field: "body", Message: err.Error()})
		return
	}
	next := rental.BookingStatus(req.Status)
	if !next.Valid() {
		writeError(w, r, "invalid booking status", &rental.ValidationError{Field: "status", Message: "unknown booking status"})
		return
	}

	id := rental.BookingID(chi.URLParam(r, "id"))
	var updated rental.Booking
	err := h.Store.WithTx(r.Context(), func(store rental.Store) error {
		booking, err := store.GetBooking(r.Context(), id)
		if err != nil {
			return err
		}
		booking.Status = next
		booking.UpdatedAt = h.now()
		if err := store.UpdateBooking(r.Context(), *booking, booking.Version); err != nil {
			return err
		}
		updated = *booking
		updated.Version++
		return nil
	})
	if err != nil {
		writeError(w, r, "failed to update booking status", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(updated))
}

// =============================================================================
// MODIFICATION HANDLERS
// =============================================================================

// GetModificationPolicy returns the applicable modification policy.
func (h *Handler) GetModificationPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.Policies.Resolve(r.Context(), rental.BookingID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, r, "failed to resolve policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*policy))
}

// PreviewModification computes a non-binding preview. Nothing persists.
func (h *Handler) PreviewModification(w http.ResponseWriter, r *http.Request) {
	req, err := h.modificationRequest(r)
	if err != nil {
		writeError(w, r, "invalid modification request", err)
		return
	}

	preview, err := h.Previews.Build(r.Context(), req)
	if err != nil {
		writeError(w, r, "failed to build preview", err)
		return
	}
	writeJSON(w, http.StatusOK, toPreviewDTO(*preview))
}

// ExecuteModification recomputes and commits the modification.
func (h *Handler) ExecuteModification(w http.ResponseWriter, r *http.Request) {
	req, err := h.modificationRequest(r)
	if err != nil {
		writeError(w, r, "invalid modification request", err)
		return
	}

	resp, err := h.Executor.Execute(r.Context(), req)
	if err != nil {
		writeError(w, r, "failed to execute modification", err)
		return
	}

	dto := ExecuteResponseDTO{
		PreviewDTO:   toPreviewDTO(resp.Preview),
		Confirmation: resp.Confirmation,
	}
	if resp.TransactionID != nil {
		id := string(*resp.TransactionID)
		dto.TransactionID = &id
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) modificationRequest(r *http.Request) (modification.Request, error) {
	var body ModificationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return modification.Request{}, &rental.ValidationError{Field: "body", Message: err.Error()}
	}
	assignment, err := parseAssignment(body.VehicleID, body.StartAt, body.EndAt, body.PickupLocation, body.DropoffLocation)
	if err != nil {
		return modification.Request{}, err
	}
	return modification.Request{
		BookingID:  rental.BookingID(chi.URLParam(r, "id")),
		Assignment: assignment,
		Reason:     body.Reason,
	}, nil
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// GetSettlement returns the derived summary and the transaction list.
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	summary, txs, err := h.Settlements.Details(r.Context(), rental.BookingID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, r, "failed to load settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, SettlementDetailsDTO{
		Summary:      toSummaryDTO(*summary),
		Transactions: toTransactionDTOs(txs),
	})
}

// RecordPayment appends a manual ledger entry.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid request body", &rental.ValidationError{Field: "body", Message: err.Error()})
		return
	}

	amount, err := parseMoney(req.Amount, h.Currency)
	if err != nil {
		writeError(w, r, "invalid amount", err)
		return
	}

	tx, err := h.Settlements.Record(r.Context(), rental.BookingID(chi.URLParam(r, "id")), settlement.RecordInput{
		Type:             rental.TransactionType(req.Type),
		Amount:           amount,
		Status:           rental.TransactionStatus(req.Status),
		IsPostCompletion: req.IsPostCompletion,
		PaymentMethod:    req.PaymentMethod,
		ReferenceNumber:  req.ReferenceNumber,
		Notes:            req.Notes,
		Actor:            req.Actor,
	})
	if err != nil {
		writeError(w, r, "failed to record transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(*tx))
}

// UpdateTransactionStatus moves a ledger entry through its status machine.
func (h *Handler) UpdateTransactionStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateTransactionStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid request body", &rental.ValidationError{Field: "body", Message: err.Error()})
		return
	}

	tx, err := h.Settlements.UpdateTransactionStatus(r.Context(),
		rental.TransactionID(chi.URLParam(r, "id")),
		rental.TransactionStatus(req.Status), req.Actor)
	if err != nil {
		writeError(w, r, "failed to update transaction status", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// CloseSettlement closes the settlement if the balance is settled.
func (h *Handler) CloseSettlement(w http.ResponseWriter, r *http.Request) {
	var req CloseSettlementRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, "invalid request body", &rental.ValidationError{Field: "body", Message: err.Error()})
			return
		}
	}

	id := rental.BookingID(chi.URLParam(r, "id"))
	if err := h.Settlements.Close(r.Context(), id, req.Notes, req.Actor); err != nil {
		writeError(w, r, "failed to close settlement", err)
		return
	}
	h.writeSettlementDetails(w, r, id)
}

// ReopenSettlement reopens a closed settlement; reason is mandatory.
func (h *Handler) ReopenSettlement(w http.ResponseWriter, r *http.Request) {
	var req ReopenSettlementRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, "invalid request body", &rental.ValidationError{Field: "body", Message: err.Error()})
			return
		}
	}

	id := rental.BookingID(chi.URLParam(r, "id"))
	if err := h.Settlements.Reopen(r.Context(), id, req.Reason, req.Actor); err != nil {
		writeError(w, r, "failed to reopen settlement", err)
		return
	}
	h.writeSettlementDetails(w, r, id)
}

func (h *Handler) writeSettlementDetails(w http.ResponseWriter, r *http.Request, id rental.BookingID) {
	summary, txs, err := h.Settlements.Details(r.Context(), id)
	if err != nil {
		writeError(w, r, "failed to load settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, SettlementDetailsDTO{
		Summary:      toSummaryDTO(*summary),
		Transactions: toTransactionDTOs(txs),
	})
}

// =============================================================================
// RATE HANDLERS
// =============================================================================

// CreateRate adds a daily rate for a vehicle.
func (h *Handler) CreateRate(w http.ResponseWriter, r *http.Request) {
	var req CreateRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid request body", &rental.ValidationError{Field: "body", Message: err.Error()})
		return
	}

	daily, err := parseMoney(req.DailyRate, h.Currency)
	if err != nil {
		writeError(w, r, "invalid daily rate", err)
		return
	}
	from, err := parseRFC3339("valid_from", req.ValidFrom)
	if err != nil {
		writeError(w, r, "invalid valid_from", err)
		return
	}
	to, err := parseRFC3339("valid_to", req.ValidTo)
	if err != nil {
		writeError(w, r, "invalid valid_to", err)
		return
	}

	rate := rental.Rate{
		ID:        h.newID(),
		VehicleID: rental.VehicleID(req.VehicleID),
		DailyRate: daily,
		ValidFrom: from,
		ValidTo:   to,
		Active:    true,
	}
	if err := h.Store.SaveRate(r.Context(), rate); err != nil {
		writeError(w, r, "failed to save rate", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": rate.ID})
}

// =============================================================================
// REQUEST PARSING HELPERS
// =============================================================================

func parseAssignment(vehicleID, startAt, endAt, pickup, dropoff string) (rental.VehicleAssignment, error) {
	start, err := parseRFC3339("start_at", startAt)
	if err != nil {
		return rental.VehicleAssignment{}, err
	}
	end, err := parseRFC3339("end_at", endAt)
	if err != nil {
		return rental.VehicleAssignment{}, err
	}
	return rental.VehicleAssignment{
		VehicleID:       rental.VehicleID(vehicleID),
		StartAt:         start,
		EndAt:           end,
		PickupLocation:  pickup,
		DropoffLocation: dropoff,
	}, nil
}

func parseRFC3339(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, &rental.ValidationError{Field: field, Message: "must be an RFC3339 timestamp"}
	}
	return t, nil
}

func parseMoney(value, currency string) (rental.Money, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return rental.Money{}, &rental.ValidationError{Field: "amount", Message: "must be a decimal string"}
	}
	return rental.Money{Value: d, Currency: currency}, nil
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status, code := statusFor(err)
	writeJSON(w, status, ErrorResponse{
		Error:   fmt.Sprintf("%s: %v", msg, err),
		Code:    code,
		Details: nil,
	})
}

// statusFor maps the error taxonomy onto HTTP. Specific sentinels are
// checked before the broad client-error bucket so conflicts stay 409.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, rental.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, rental.ErrConcurrencyConflict):
		return http.StatusConflict, "concurrency_conflict"
	case errors.Is(err, rental.ErrInvalidStateTransition):
		return http.StatusConflict, "invalid_state_transition"
	case errors.Is(err, rental.ErrBalanceNotZero):
		return http.StatusConflict, "balance_not_zero"
	case errors.Is(err, rental.ErrPaymentCaptureFailure):
		return http.StatusPaymentRequired, "payment_capture_failure"
	case errors.Is(err, rental.ErrPolicyViolation):
		return http.StatusForbidden, "policy_violation"
	case errors.Is(err, rental.ErrNoChangeDetected):
		return http.StatusBadRequest, "no_change_detected"
	case errors.Is(err, rental.ErrMissingReason):
		return http.StatusBadRequest, "missing_reason"
	case errors.Is(err, rental.ErrValidation):
		return http.StatusBadRequest, "validation"
	case rental.IsUnavailable(err):
		return http.StatusBadGateway, "dependency_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
