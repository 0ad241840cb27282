/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY REPRESENTATION:
  Amounts cross the wire as fixed two-decimal strings plus a currency
  field. Clients never see raw decimals or floats.

SEE ALSO:
  - handlers.go: Uses these types
  - rental/types.go: The domain model these project
*/
package api

import (
	"time"

	"github.com/warp/rental-engine/modification"
	"github.com/warp/rental-engine/rental"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// MoneyDTO represents a monetary amount in API responses.
type MoneyDTO struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// BookingDTO represents a booking in API responses.
type BookingDTO struct {
	ID              string   `json:"id"`
	VehicleID       string   `json:"vehicle_id"`
	StartAt         string   `json:"start_at"`
	EndAt           string   `json:"end_at"`
	PickupLocation  string   `json:"pickup_location"`
	DropoffLocation string   `json:"dropoff_location"`
	Status          string   `json:"status"`
	OriginalAmount  MoneyDTO `json:"original_amount"`
	CurrentAmount   MoneyDTO `json:"current_amount"`
	Version         int64    `json:"version"`
	CreatedAt       string   `json:"created_at,omitempty"`
}

// CreateBookingRequest is the request to create a booking. The total is
// priced from the rate table, never supplied by the client.
type CreateBookingRequest struct {
	VehicleID       string `json:"vehicle_id"`
	StartAt         string `json:"start_at"`
	EndAt           string `json:"end_at"`
	PickupLocation  string `json:"pickup_location"`
	DropoffLocation string `json:"dropoff_location"`
}

// UpdateBookingStatusRequest moves a booking through its lifecycle
// (UPCOMING, ACTIVE, COMPLETED, CANCELLED).
type UpdateBookingStatusRequest struct {
	Status string `json:"status"`
}

// PolicyDTO represents the applicable modification policy.
type PolicyDTO struct {
	BookingID             string   `json:"booking_id"`
	FreeModificationHours int      `json:"free_modification_hours"`
	FeeType               string   `json:"fee_type"`
	HoursUntilPickup      float64  `json:"hours_until_pickup"`
	IsFree                bool     `json:"is_free"`
	EstimatedFee          MoneyDTO `json:"estimated_fee"`
	AllowDateChange       bool     `json:"allow_date_change"`
	AllowVehicleChange    bool     `json:"allow_vehicle_change"`
	AllowLocationChange   bool     `json:"allow_location_change"`
	Message               string   `json:"message"`
}

// ModificationRequest is the shared body for preview and execute. The
// client sends the complete proposed assignment; the server diffs it.
type ModificationRequest struct {
	VehicleID       string `json:"vehicle_id"`
	StartAt         string `json:"start_at"`
	EndAt           string `json:"end_at"`
	PickupLocation  string `json:"pickup_location"`
	DropoffLocation string `json:"dropoff_location"`
	Reason          string `json:"reason"`
}

// AdjustmentDTO represents the payment adjustment of a preview.
type AdjustmentDTO struct {
	Kind        string   `json:"kind"`
	Amount      MoneyDTO `json:"amount"`
	Description string   `json:"description"`
}

// PricingDTO represents the recomputed cost breakdown.
type PricingDTO struct {
	VehicleID string   `json:"vehicle_id"`
	Days      int      `json:"days"`
	DailyRate MoneyDTO `json:"daily_rate"`
	Total     MoneyDTO `json:"total"`
}

// PreviewDTO is the preview response. Nothing it describes is persisted.
type PreviewDTO struct {
	BookingID       string        `json:"booking_id"`
	ChangedFields   []string      `json:"changed_fields"`
	PreviousAmount  MoneyDTO      `json:"previous_amount"`
	NewAmount       MoneyDTO      `json:"new_amount"`
	ModificationFee MoneyDTO      `json:"modification_fee"`
	TotalAdjustment MoneyDTO      `json:"total_adjustment"`
	Adjustment      AdjustmentDTO `json:"adjustment"`
	Pricing         PricingDTO    `json:"pricing"`
	Policy          PolicyDTO     `json:"policy"`
}

// ExecuteResponseDTO is the commit confirmation.
type ExecuteResponseDTO struct {
	PreviewDTO
	Confirmation  string  `json:"confirmation"`
	TransactionID *string `json:"transaction_id,omitempty"`
}

// TransactionDTO represents one settlement ledger entry.
type TransactionDTO struct {
	ID               string   `json:"id"`
	BookingID        string   `json:"booking_id"`
	Type             string   `json:"type"`
	Amount           MoneyDTO `json:"amount"`
	Status           string   `json:"status"`
	IsPostCompletion bool     `json:"is_post_completion,omitempty"`
	PaymentMethod    string   `json:"payment_method,omitempty"`
	ReferenceNumber  string   `json:"reference_number,omitempty"`
	Notes            string   `json:"notes,omitempty"`
	CreatedAt        string   `json:"created_at"`
}

// SummaryDTO is the derived settlement summary.
type SummaryDTO struct {
	BookingID         string   `json:"booking_id"`
	OriginalAmount    MoneyDTO `json:"original_amount"`
	CurrentAmount     MoneyDTO `json:"current_amount"`
	TotalReceived     MoneyDTO `json:"total_received"`
	TotalCharges      MoneyDTO `json:"total_charges"`
	TotalRefunds      MoneyDTO `json:"total_refunds"`
	Balance           MoneyDTO `json:"balance"`
	Status            string   `json:"status"`
	TransactionCount  int      `json:"transaction_count"`
	LastTransactionAt *string  `json:"last_transaction_at,omitempty"`
	CompletionPercent float64  `json:"completion_percent"`
}

// SettlementDetailsDTO is the full settlement view.
type SettlementDetailsDTO struct {
	Summary      SummaryDTO       `json:"summary"`
	Transactions []TransactionDTO `json:"transactions"`
}

// RecordPaymentRequest records a manual ledger entry: a payment receipt,
// an operational charge, or a refund.
type RecordPaymentRequest struct {
	Type             string `json:"type"`
	Amount           string `json:"amount"`
	Status           string `json:"status,omitempty"`
	IsPostCompletion bool   `json:"is_post_completion,omitempty"`
	PaymentMethod    string `json:"payment_method,omitempty"`
	ReferenceNumber  string `json:"reference_number,omitempty"`
	Notes            string `json:"notes,omitempty"`
	Actor            string `json:"actor,omitempty"`
}

// UpdateTransactionStatusRequest moves a ledger entry through its
// status machine.
type UpdateTransactionStatusRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor,omitempty"`
}

// CloseSettlementRequest closes a settlement.
type CloseSettlementRequest struct {
	Notes string `json:"notes,omitempty"`
	Actor string `json:"actor,omitempty"`
}

// ReopenSettlementRequest reopens a settlement; reason is mandatory.
type ReopenSettlementRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor,omitempty"`
}

// CreateRateRequest adds a daily rate for a vehicle.
type CreateRateRequest struct {
	VehicleID string `json:"vehicle_id"`
	DailyRate string `json:"daily_rate"`
	ValidFrom string `json:"valid_from"`
	ValidTo   string `json:"valid_to"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toMoneyDTO(m rental.Money) MoneyDTO {
	return MoneyDTO{Amount: m.Value.StringFixed(2), Currency: m.Currency}
}

func toBookingDTO(b rental.Booking) BookingDTO {
	return BookingDTO{
		ID:              string(b.ID),
		VehicleID:       string(b.VehicleID),
		StartAt:         b.StartAt.Format(time.RFC3339),
		EndAt:           b.EndAt.Format(time.RFC3339),
		PickupLocation:  b.PickupLocation,
		DropoffLocation: b.DropoffLocation,
		Status:          string(b.Status),
		OriginalAmount:  toMoneyDTO(b.OriginalAmount),
		CurrentAmount:   toMoneyDTO(b.CurrentAmount),
		Version:         b.Version,
		CreatedAt:       b.CreatedAt.Format(time.RFC3339),
	}
}

func toPolicyDTO(p modification.Policy) PolicyDTO {
	return PolicyDTO{
		BookingID:             string(p.BookingID),
		FreeModificationHours: p.FreeModificationHours,
		FeeType:               string(p.FeeType),
		HoursUntilPickup:      p.HoursUntilPickup,
		IsFree:                p.IsFree,
		EstimatedFee:          toMoneyDTO(p.EstimatedFee),
		AllowDateChange:       p.AllowDateChange,
		AllowVehicleChange:    p.AllowVehicleChange,
		AllowLocationChange:   p.AllowLocationChange,
		Message:               p.Message,
	}
}

func toPreviewDTO(p modification.Preview) PreviewDTO {
	return PreviewDTO{
		BookingID:       string(p.BookingID),
		ChangedFields:   p.ChangedFields,
		PreviousAmount:  toMoneyDTO(p.PreviousAmount),
		NewAmount:       toMoneyDTO(p.NewAmount),
		ModificationFee: toMoneyDTO(p.ModificationFee),
		TotalAdjustment: toMoneyDTO(p.TotalAdjustment),
		Adjustment: AdjustmentDTO{
			Kind:        string(p.Adjustment.Kind),
			Amount:      toMoneyDTO(p.Adjustment.Amount),
			Description: p.Adjustment.Description,
		},
		Pricing: PricingDTO{
			VehicleID: string(p.Pricing.VehicleID),
			Days:      p.Pricing.Days,
			DailyRate: toMoneyDTO(p.Pricing.DailyRate),
			Total:     toMoneyDTO(p.Pricing.Total),
		},
		Policy: toPolicyDTO(p.Policy),
	}
}

func toTransactionDTO(tx rental.SettlementTransaction) TransactionDTO {
	return TransactionDTO{
		ID:               string(tx.ID),
		BookingID:        string(tx.BookingID),
		Type:             string(tx.Type),
		Amount:           toMoneyDTO(tx.Amount),
		Status:           string(tx.Status),
		IsPostCompletion: tx.IsPostCompletion,
		PaymentMethod:    tx.PaymentMethod,
		ReferenceNumber:  tx.ReferenceNumber,
		Notes:            tx.Notes,
		CreatedAt:        tx.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(txs []rental.SettlementTransaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toSummaryDTO(s rental.SettlementSummary) SummaryDTO {
	dto := SummaryDTO{
		BookingID:         string(s.BookingID),
		OriginalAmount:    toMoneyDTO(s.OriginalAmount),
		CurrentAmount:     toMoneyDTO(s.CurrentAmount),
		TotalReceived:     toMoneyDTO(s.TotalReceived),
		TotalCharges:      toMoneyDTO(s.TotalCharges),
		TotalRefunds:      toMoneyDTO(s.TotalRefunds),
		Balance:           toMoneyDTO(s.Balance),
		Status:            string(s.Status),
		TransactionCount:  s.TransactionCount,
		CompletionPercent: s.CompletionPercent,
	}
	if s.LastTransactionAt != nil {
		last := s.LastTransactionAt.Format(time.RFC3339)
		dto.LastTransactionAt = &last
	}
	return dto
}
