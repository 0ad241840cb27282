/*
Package gateway captures payment for modification charges.

PURPOSE:
  The modification executor charges the customer's card before it
  commits a CHARGE adjustment; a declined capture rolls the whole unit
  of work back. This package provides the HTTP client for the external
  payment provider and a no-op implementation for deployments where
  capture happens out of band (invoicing, counter payment).

  Every failure out of Capture wraps rental.ErrPaymentCaptureFailure so
  the API layer can map it to 402 without inspecting provider details.
*/
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/rental-engine/rental"
)

// HTTPGateway charges cards through an external payment provider's
// capture endpoint.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Capture charges amount against the booking's payment method on file
// and returns the provider's reference for the ledger entry.
func (g *HTTPGateway) Capture(ctx context.Context, bookingID rental.BookingID, amount rental.Money, description string) (string, error) {
	body := map[string]any{
		"external_id": string(bookingID),
		"amount":      amount.Value.StringFixed(2),
		"currency":    amount.Currency,
		"description": description,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal capture request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/captures", bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("build capture request: %w", err)
	}
	req.SetBasicAuth(g.apiKey, "")
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("capture request failed: %v: %w", err, rental.ErrPaymentCaptureFailure)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("capture declined with status %s: %w", resp.Status, rental.ErrPaymentCaptureFailure)
	}

	var out struct {
		Reference string `json:"reference"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode capture response: %v: %w", err, rental.ErrPaymentCaptureFailure)
	}
	if out.Reference == "" {
		return "", fmt.Errorf("capture returned no reference: %w", rental.ErrPaymentCaptureFailure)
	}
	return out.Reference, nil
}

// Noop records charges without touching a provider. Used when capture
// is handled out of band.
type Noop struct{}

func (Noop) Capture(ctx context.Context, bookingID rental.BookingID, amount rental.Money, description string) (string, error) {
	return "", nil
}
